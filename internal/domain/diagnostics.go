package domain

import "time"

// DiagnosticStatus is the outcome of a single self-check.
type DiagnosticStatus string

const (
	DiagnosticStatusPass    DiagnosticStatus = "pass"
	DiagnosticStatusFail    DiagnosticStatus = "fail"
	DiagnosticStatusWarning DiagnosticStatus = "warning"
	DiagnosticStatusInfo    DiagnosticStatus = "info"
)

// DiagnosticResult is one self-check result with optional remediation.
type DiagnosticResult struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Status      DiagnosticStatus `json:"status"`
	Message     string           `json:"message"`
	Details     string           `json:"details,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// HasFailures reports whether any result failed.
func HasFailures(results []DiagnosticResult) bool {
	for _, result := range results {
		if result.Status == DiagnosticStatusFail {
			return true
		}
	}
	return false
}

// ErrorCategory groups errors by origin.
type ErrorCategory string

const (
	ErrorCategoryFile       ErrorCategory = "file"
	ErrorCategoryProcessing ErrorCategory = "processing"
	ErrorCategorySystem     ErrorCategory = "system"
	ErrorCategoryNetwork    ErrorCategory = "network"
	ErrorCategoryPermission ErrorCategory = "permission"
	ErrorCategoryValidation ErrorCategory = "validation"
)

// ErrorSeverity controls display prominence only.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// LogLevel is the level of an audit log entry.
type LogLevel string

const (
	LogLevelError   LogLevel = "error"
	LogLevelWarning LogLevel = "warning"
	LogLevelInfo    LogLevel = "info"
	LogLevelDebug   LogLevel = "debug"
)

// ErrorContext locates where an error happened.
type ErrorContext struct {
	FileName   string `json:"fileName,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Stage      Stage  `json:"stage,omitempty"`
	UserAction string `json:"userAction,omitempty"`
}

// ErrorState is a structured, user-facing error. Treat as immutable.
type ErrorState struct {
	ID          string            `json:"id"`
	Category    ErrorCategory     `json:"category"`
	Severity    ErrorSeverity     `json:"severity"`
	Message     string            `json:"message"`
	Details     string            `json:"details,omitempty"`
	Stack       string            `json:"stack,omitempty"`
	Recoverable bool              `json:"recoverable"`
	Timestamp   time.Time         `json:"timestamp"`
	Context     *ErrorContext     `json:"context,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
}

// ErrorLog is an append-only audit entry.
type ErrorLog struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Category  ErrorCategory  `json:"category"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToastError is a transient, non-blocking notification.
type ToastError struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Message     string        `json:"message"`
	Severity    ErrorSeverity `json:"severity"`
	CreatedAt   time.Time     `json:"createdAt"`
	AutoDismiss time.Duration `json:"autoDismiss,omitempty"`
}
