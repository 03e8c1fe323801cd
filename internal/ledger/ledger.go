// Package ledger records user-facing errors, the error audit log, toasts and
// the latest diagnostic results.
package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"audio-transcriber/internal/domain"
)

// MaxLogEntries bounds the audit log; older entries are dropped first.
const MaxLogEntries = 1000

// DefaultToastTTL is applied to toasts raised for recoverable failures.
const DefaultToastTTL = 6 * time.Second

// ChangeKind names what a ledger mutation touched.
type ChangeKind string

const (
	ChangeLog         ChangeKind = "log"
	ChangeError       ChangeKind = "error"
	ChangeToast       ChangeKind = "toast"
	ChangeDiagnostics ChangeKind = "diagnostics"
)

// Change is delivered to subscribers after each mutation.
type Change struct {
	Kinds []ChangeKind `json:"kinds"`
	At    time.Time    `json:"at"`
}

// Has reports whether the change touched kind.
func (c Change) Has(kind ChangeKind) bool {
	for _, k := range c.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Ledger is the error and diagnostics record of one session.
type Ledger struct {
	mu          sync.Mutex
	logs        []domain.ErrorLog
	current     *domain.ErrorState
	toasts      map[string]domain.ToastError
	expiries    map[string]*time.Timer
	diagnostics []domain.DiagnosticResult
	nextSub     int
	subs        map[int]chan Change

	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an empty ledger. Entries are mirrored to logger.
func New(logger *slog.Logger) *Ledger {
	return NewForTests(logger, time.Now, uuid.NewString)
}

// NewForTests creates a ledger with an injectable clock and id source.
func NewForTests(logger *slog.Logger, now func() time.Time, newID func() string) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Ledger{
		toasts:   make(map[string]domain.ToastError),
		expiries: make(map[string]*time.Timer),
		subs:     make(map[int]chan Change),
		logger:   logger.With("component", "ledger"),
		now:      now,
		newID:    newID,
	}
}

// LogError prepends entry with a fresh id and timestamp and trims the log to
// MaxLogEntries.
func (l *Ledger) LogError(entry domain.ErrorLog) domain.ErrorLog {
	l.mu.Lock()
	stored := l.appendLogLocked(entry)
	stored.Details = maps.Clone(stored.Details)
	l.mu.Unlock()

	l.notify(ChangeLog)
	return stored
}

// LogEvent is LogError for callers that have no entry value at hand.
func (l *Ledger) LogEvent(level domain.LogLevel, category domain.ErrorCategory, message string, details map[string]any) domain.ErrorLog {
	return l.LogError(domain.ErrorLog{
		Level:    level,
		Category: category,
		Message:  message,
		Details:  details,
	})
}

// Logs returns the audit log, newest first.
func (l *Ledger) Logs() []domain.ErrorLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ErrorLog, len(l.logs))
	for i, entry := range l.logs {
		entry.Details = maps.Clone(entry.Details)
		out[i] = entry
	}
	return out
}

// ClearLogs empties the audit log.
func (l *Ledger) ClearLogs() {
	l.mu.Lock()
	l.logs = nil
	l.mu.Unlock()
	l.notify(ChangeLog)
}

// SetError replaces the current error; nil clears it.
func (l *Ledger) SetError(state *domain.ErrorState) {
	l.mu.Lock()
	if state == nil {
		l.current = nil
	} else {
		copied := cloneState(*state)
		l.current = &copied
	}
	l.mu.Unlock()
	l.notify(ChangeError)
}

// CurrentError returns the persistent error, if any.
func (l *Ledger) CurrentError() (domain.ErrorState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return domain.ErrorState{}, false
	}
	return cloneState(*l.current), true
}

// RecordError makes state the current error and writes its audit entry in
// one step, so observers never see one without the other.
func (l *Ledger) RecordError(state domain.ErrorState) domain.ErrorState {
	l.mu.Lock()
	if state.ID == "" {
		state.ID = l.newID()
	}
	if state.Timestamp.IsZero() {
		state.Timestamp = l.now().UTC()
	}
	copied := cloneState(state)
	l.current = &copied
	l.appendLogLocked(logFromState(state))
	l.mu.Unlock()

	l.notify(ChangeError, ChangeLog)
	return cloneState(state)
}

// CreateErrorFromException wraps an unexpected error as a high-severity
// recoverable system error and records it.
func (l *Ledger) CreateErrorFromException(err error, errCtx *domain.ErrorContext) domain.ErrorState {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	state := domain.ErrorState{
		Category:    domain.ErrorCategorySystem,
		Severity:    domain.SeverityHigh,
		Message:     message,
		Stack:       string(debug.Stack()),
		Recoverable: true,
		Suggestions: clone(genericSuggestions),
	}
	if errCtx != nil {
		c := *errCtx
		state.Context = &c
	}
	return l.RecordError(state)
}

// RecordFailure classifies err, records it as the current error and raises a
// toast. Cancellation is logged at info level and raises nothing.
func (l *Ledger) RecordFailure(err error, errCtx domain.ErrorContext) domain.ErrorState {
	c := Classify(err)
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}

	if errors.Is(err, context.Canceled) {
		l.LogEvent(domain.LogLevelInfo, c.Category, message, contextDetails(&errCtx))
		return domain.ErrorState{Category: c.Category, Severity: c.Severity, Message: message, Recoverable: true}
	}

	ctxCopy := errCtx
	state := l.RecordError(domain.ErrorState{
		Category:    c.Category,
		Severity:    c.Severity,
		Message:     message,
		Recoverable: c.Recoverable,
		Context:     &ctxCopy,
		Suggestions: c.Suggestions,
	})

	title := "Processing failed"
	if errCtx.FileName != "" {
		title = errCtx.FileName
	}
	toast := domain.ToastError{
		Title:    title,
		Message:  message,
		Severity: c.Severity,
	}
	if c.Recoverable {
		toast.AutoDismiss = DefaultToastTTL
	}
	l.AddToast(toast)
	return state
}

// AddToast stores toast under a fresh id and returns it. A toast with an
// AutoDismiss lifetime removes itself once that lifetime has elapsed.
func (l *Ledger) AddToast(toast domain.ToastError) string {
	l.mu.Lock()
	toast.ID = l.newID()
	if toast.CreatedAt.IsZero() {
		toast.CreatedAt = l.now().UTC()
	}
	l.toasts[toast.ID] = toast
	if toast.AutoDismiss > 0 {
		id := toast.ID
		l.expiries[id] = time.AfterFunc(toast.AutoDismiss, func() { l.expireToast(id) })
	}
	l.mu.Unlock()

	l.notify(ChangeToast)
	return toast.ID
}

// DismissToast removes a toast. It reports whether the id was present.
func (l *Ledger) DismissToast(id string) bool {
	l.mu.Lock()
	_, ok := l.toasts[id]
	delete(l.toasts, id)
	l.stopExpiryLocked(id)
	l.mu.Unlock()

	if ok {
		l.notify(ChangeToast)
	}
	return ok
}

// PruneToasts drops auto-dismiss toasts whose lifetime has passed at now and
// returns how many were removed.
func (l *Ledger) PruneToasts(now time.Time) int {
	l.mu.Lock()
	removed := 0
	for id, toast := range l.toasts {
		if toast.AutoDismiss <= 0 {
			continue
		}
		if !now.Before(toast.CreatedAt.Add(toast.AutoDismiss)) {
			delete(l.toasts, id)
			l.stopExpiryLocked(id)
			removed++
		}
	}
	l.mu.Unlock()

	if removed > 0 {
		l.notify(ChangeToast)
	}
	return removed
}

func (l *Ledger) expireToast(id string) {
	l.mu.Lock()
	_, ok := l.toasts[id]
	delete(l.toasts, id)
	delete(l.expiries, id)
	l.mu.Unlock()

	if ok {
		l.notify(ChangeToast)
	}
}

func (l *Ledger) stopExpiryLocked(id string) {
	if timer, ok := l.expiries[id]; ok {
		timer.Stop()
		delete(l.expiries, id)
	}
}

// Toasts returns active toasts, oldest first.
func (l *Ledger) Toasts() []domain.ToastError {
	l.mu.Lock()
	out := make([]domain.ToastError, 0, len(l.toasts))
	for _, toast := range l.toasts {
		out = append(out, toast)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SetDiagnostics replaces the diagnostic results wholesale.
func (l *Ledger) SetDiagnostics(results []domain.DiagnosticResult) {
	l.mu.Lock()
	l.diagnostics = append([]domain.DiagnosticResult(nil), results...)
	l.mu.Unlock()
	l.notify(ChangeDiagnostics)
}

// Diagnostics returns the latest diagnostic results.
func (l *Ledger) Diagnostics() []domain.DiagnosticResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.DiagnosticResult(nil), l.diagnostics...)
}

// Subscribe registers a buffered channel receiving every later change. Slow
// subscribers miss changes rather than blocking writers. The returned func
// unsubscribes and closes the channel.
func (l *Ledger) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

func (l *Ledger) notify(kinds ...ChangeKind) {
	change := Change{Kinds: kinds, At: l.now().UTC()}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (l *Ledger) appendLogLocked(entry domain.ErrorLog) domain.ErrorLog {
	entry.Details = maps.Clone(entry.Details)
	entry.ID = l.newID()
	entry.Timestamp = l.now().UTC()
	if entry.Level == "" {
		entry.Level = domain.LogLevelError
	}

	logs := make([]domain.ErrorLog, 0, min(len(l.logs)+1, MaxLogEntries))
	logs = append(logs, entry)
	logs = append(logs, l.logs...)
	if len(logs) > MaxLogEntries {
		logs = logs[:MaxLogEntries]
	}
	l.logs = logs

	l.logger.Log(context.Background(), slogLevel(entry.Level), entry.Message,
		"category", entry.Category,
		"log_id", entry.ID,
	)
	return entry
}

func logFromState(state domain.ErrorState) domain.ErrorLog {
	level := domain.LogLevelError
	if state.Severity == domain.SeverityLow {
		level = domain.LogLevelWarning
	}
	details := contextDetails(state.Context)
	if details == nil {
		details = map[string]any{}
	}
	details["errorId"] = state.ID
	details["severity"] = string(state.Severity)
	details["recoverable"] = state.Recoverable
	if state.Details != "" {
		details["details"] = state.Details
	}
	return domain.ErrorLog{
		Level:    level,
		Category: state.Category,
		Message:  state.Message,
		Details:  details,
	}
}

func contextDetails(errCtx *domain.ErrorContext) map[string]any {
	if errCtx == nil {
		return nil
	}
	details := map[string]any{}
	if errCtx.FileName != "" {
		details["fileName"] = errCtx.FileName
	}
	if errCtx.Operation != "" {
		details["operation"] = errCtx.Operation
	}
	if errCtx.Stage != "" {
		details["stage"] = string(errCtx.Stage)
	}
	if errCtx.UserAction != "" {
		details["userAction"] = errCtx.UserAction
	}
	return details
}

func slogLevel(level domain.LogLevel) slog.Level {
	switch level {
	case domain.LogLevelDebug:
		return slog.LevelDebug
	case domain.LogLevelInfo:
		return slog.LevelInfo
	case domain.LogLevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func cloneState(state domain.ErrorState) domain.ErrorState {
	out := state
	if state.Context != nil {
		c := *state.Context
		out.Context = &c
	}
	out.Suggestions = append([]string(nil), state.Suggestions...)
	if state.Diagnostics != nil {
		out.Diagnostics = make(map[string]string, len(state.Diagnostics))
		for k, v := range state.Diagnostics {
			out.Diagnostics[k] = v
		}
	}
	return out
}
