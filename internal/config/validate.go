package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"audio-transcriber/internal/domain"
)

// MaxConcurrentJobsLimit and MaxRetriesLimit bound the numeric settings.
const (
	MaxConcurrentJobsLimit = 8
	MaxRetriesLimit        = 5
)

// FieldProblem is one invalid setting.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field found in one pass.
type ValidationError struct {
	Problems []FieldProblem `json:"problems"`
}

// Error joins field problems for logs and UI.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return "invalid settings: " + strings.Join(parts, "; ")
}

// Category places settings problems in the validation category.
func (e *ValidationError) Category() domain.ErrorCategory {
	return domain.ErrorCategoryValidation
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks settings and returns a *ValidationError describing every
// problem, or nil.
func Validate(s domain.Settings) error {
	verr := &ValidationError{}

	if err := ValidateLanguage(s.Language); err != nil {
		verr.add("language", "%v", err)
	}
	if _, err := domain.LookupModel(s.ModelSize); err != nil {
		verr.add("modelSize", "%v", err)
	}
	if strings.TrimSpace(s.ModelPath) == "" {
		verr.add("modelPath", "is required")
	}
	switch dir := strings.TrimSpace(s.OutputDir); {
	case dir == "":
		verr.add("outputDir", "is required")
	case !filepath.IsAbs(dir):
		verr.add("outputDir", "must be an absolute path")
	}
	switch s.Theme {
	case domain.ThemeLight, domain.ThemeDark, domain.ThemeSystem:
	default:
		verr.add("theme", "unknown theme %q", string(s.Theme))
	}
	switch s.OutputFormat {
	case domain.OutputFormatTXT, domain.OutputFormatSRT, domain.OutputFormatVTT, domain.OutputFormatJSON:
	default:
		verr.add("outputFormat", "unknown format %q", string(s.OutputFormat))
	}
	switch s.FailurePolicy {
	case domain.FailurePolicyAbort, domain.FailurePolicySkip, domain.FailurePolicyRetry:
	default:
		verr.add("failurePolicy", "unknown policy %q", string(s.FailurePolicy))
	}
	if s.MaxConcurrentJobs < 1 || s.MaxConcurrentJobs > MaxConcurrentJobsLimit {
		verr.add("maxConcurrentJobs", "must be between 1 and %d", MaxConcurrentJobsLimit)
	}
	if s.MaxRetries < 0 || s.MaxRetries > MaxRetriesLimit {
		verr.add("maxRetries", "must be between 0 and %d", MaxRetriesLimit)
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

// ValidateLanguage accepts "auto" or a BCP 47 language tag such as "en" or
// "zh-CN".
func ValidateLanguage(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("language is required")
	}
	if strings.EqualFold(code, "auto") {
		return nil
	}
	if len(code) < 2 {
		return fmt.Errorf("language code %q is too short", code)
	}
	if _, err := language.Parse(code); err != nil {
		return fmt.Errorf("unknown language code %q", code)
	}
	return nil
}

// Normalize trims user inputs and fills empty fields with defaults.
func Normalize(s domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	s.ModelPath = ExpandPath(s.ModelPath)
	s.OutputDir = ExpandPath(s.OutputDir)
	s.EnginePath = ExpandPath(s.EnginePath)
	s.Language = strings.TrimSpace(s.Language)
	if s.Language == "" {
		s.Language = defaults.Language
	}
	s.ModelSize = domain.ModelSize(strings.ToLower(strings.TrimSpace(string(s.ModelSize))))
	if s.ModelSize == "" {
		s.ModelSize = defaults.ModelSize
	}
	if s.Theme == "" {
		s.Theme = defaults.Theme
	}
	s.OutputFormat = domain.OutputFormat(strings.ToLower(strings.TrimSpace(string(s.OutputFormat))))
	if s.OutputFormat == "" {
		s.OutputFormat = defaults.OutputFormat
	}
	if s.FailurePolicy == "" {
		s.FailurePolicy = defaults.FailurePolicy
	}
	if s.MaxConcurrentJobs == 0 {
		s.MaxConcurrentJobs = defaults.MaxConcurrentJobs
	}
	return s
}
