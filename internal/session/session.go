// Package session holds the application state shared by the desktop shell
// and the CLI: the file list, the single job slot, results, settings, and the
// error ledger.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/ledger"
	"audio-transcriber/internal/logging"
)

// ErrFileBusy is returned when removing a file that is being processed.
var ErrFileBusy = errors.New("file is being processed")

// ErrUnknownFile is returned for file IDs not in the session.
var ErrUnknownFile = errors.New("unknown file")

// ErrInvalidView is returned by SetView for unknown views.
var ErrInvalidView = errors.New("invalid view")

const historyWriteTimeout = 5 * time.Second

// HistoryRecorder persists finished transcriptions.
type HistoryRecorder interface {
	Record(ctx context.Context, result domain.TranscriptionResult) error
}

// DiagnosticsRunner produces self-check results for the current settings.
type DiagnosticsRunner interface {
	Run(settings domain.Settings) []domain.DiagnosticResult
}

// Locker guards processing against other processes.
type Locker interface {
	TryAcquire() error
	Release() error
}

// Options wires a Session. Store is required; the rest are optional.
type Options struct {
	Store   config.Store
	Engine  jobs.Engine
	History HistoryRecorder
	Checker DiagnosticsRunner
	Lock    Locker
	Events  *jobs.EventBus
	Ledger  *ledger.Ledger
	Logger  *slog.Logger
	Now     func() time.Time
}

// Session is the single owner of UI-facing state.
type Session struct {
	mu        sync.RWMutex
	view      domain.View
	files     []domain.AudioFile
	results   []domain.TranscriptionResult
	settings  domain.Settings
	lastBatch *domain.BatchResult

	lockHolds int
	manualJob string
	wg        sync.WaitGroup

	tracker *jobs.Tracker
	runner  *jobs.BatchRunner
	ledger  *ledger.Ledger
	store   config.Store
	history HistoryRecorder
	checker DiagnosticsRunner
	lock    Locker
	logger  *slog.Logger
	now     func() time.Time
}

// New loads settings from the store and returns a session on the upload
// view. A settings file that fails to load is reported to the ledger and
// replaced by defaults.
func New(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("session requires a settings store")
	}
	logger := logging.OrDiscard(opts.Logger)
	events := opts.Events
	if events == nil {
		events = jobs.NewEventBus(1000)
	}
	led := opts.Ledger
	if led == nil {
		led = ledger.New(logger)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		view:    domain.ViewUpload,
		ledger:  led,
		store:   opts.Store,
		history: opts.History,
		checker: opts.Checker,
		lock:    opts.Lock,
		logger:  logger.With("component", "session"),
		now:     now,
	}

	settings, err := opts.Store.Load()
	if err != nil {
		led.RecordFailure(fmt.Errorf("load settings: %w", err), domain.ErrorContext{Operation: "load_settings"})
		settings = config.DefaultSettings()
	}
	s.settings = settings

	s.tracker = jobs.NewTracker(events, logger)
	s.tracker.OnFileStatus(s.setFileStatus)
	if opts.Engine != nil {
		s.runner = jobs.NewBatchRunner(s.tracker, opts.Engine, led, s, logger)
	}
	return s, nil
}

// Tracker exposes the job slot, mainly for event subscription.
func (s *Session) Tracker() *jobs.Tracker {
	return s.tracker
}

// Events returns the job event bus.
func (s *Session) Events() *jobs.EventBus {
	return s.tracker.Events()
}

// Ledger returns the error and diagnostics ledger.
func (s *Session) Ledger() *ledger.Ledger {
	return s.ledger
}

// View returns the current screen.
func (s *Session) View() domain.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// SetView switches screens. The processing view is only reachable while a
// job is active.
func (s *Session) SetView(view domain.View) error {
	switch view {
	case domain.ViewUpload, domain.ViewResults, domain.ViewSettings:
	case domain.ViewProcessing:
		if !s.tracker.IsRunning() {
			return fmt.Errorf("%w: no active job", ErrInvalidView)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidView, string(view))
	}
	s.setView(view)
	return nil
}

func (s *Session) setView(view domain.View) {
	s.mu.Lock()
	changed := s.view != view
	s.view = view
	s.mu.Unlock()
	if changed {
		s.tracker.Events().Publish(jobs.Event{Type: jobs.EventTypeView, View: view})
	}
}

// Files returns a copy of the file list.
func (s *Session) Files() []domain.AudioFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.files)
}

// AddFiles appends files, skipping paths already in the list. It returns the
// files actually added.
func (s *Session) AddFiles(files ...domain.AudioFile) []domain.AudioFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]struct{}, len(s.files))
	for _, f := range s.files {
		known[f.Path] = struct{}{}
	}
	var added []domain.AudioFile
	for _, f := range files {
		if _, dup := known[f.Path]; dup {
			continue
		}
		known[f.Path] = struct{}{}
		if f.Status == "" {
			f.Status = domain.FileStatusPending
		}
		s.files = append(s.files, f)
		added = append(added, f)
	}
	return added
}

// AddPaths validates paths against the current output directory and adds the
// valid ones. Rejected paths are logged as warnings.
func (s *Session) AddPaths(paths []string) BatchValidation {
	validation := ValidateBatch(paths, s.Settings().OutputDir)
	s.AddFiles(validation.ValidFiles...)
	for _, invalid := range validation.InvalidFiles {
		s.ledger.LogEvent(domain.LogLevelWarning, domain.ErrorCategoryFile, "File rejected", map[string]any{
			"path":  invalid.FilePath,
			"error": invalid.Message,
		})
	}
	return validation
}

// RemoveFile drops one file. Files that are processing cannot be removed.
func (s *Session) RemoveFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.files, func(f domain.AudioFile) bool { return f.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownFile, id)
	}
	if s.files[idx].Status == domain.FileStatusProcessing {
		return fmt.Errorf("%w: %s", ErrFileBusy, s.files[idx].Name)
	}
	s.files = slices.Delete(s.files, idx, idx+1)
	return nil
}

// ClearFiles empties the list. It is refused while a job is active.
func (s *Session) ClearFiles() error {
	if s.tracker.IsRunning() {
		return fmt.Errorf("clear files: %w", ErrFileBusy)
	}
	s.mu.Lock()
	s.files = nil
	s.mu.Unlock()
	return nil
}

func (s *Session) setFileStatus(fileID string, status domain.FileStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.files {
		if s.files[i].ID == fileID {
			s.files[i].Status = status
			return
		}
	}
}

// ActiveJob returns the running job, if any.
func (s *Session) ActiveJob() (domain.ProcessingJob, bool) {
	return s.tracker.Current()
}

// Progress returns the job slot state with the latest sample and estimate.
func (s *Session) Progress() jobs.Snapshot {
	return s.tracker.Snapshot()
}

// StartProcessing starts a job over the given pending file IDs, or over
// every pending file when none are given. With an engine configured the
// batch runs in the background; otherwise the caller drives the job through
// UpdateProgress and CompleteProcessing.
func (s *Session) StartProcessing(fileIDs ...string) (domain.ProcessingJob, error) {
	files := s.Files()
	if len(fileIDs) == 0 {
		for _, f := range files {
			if f.Status == domain.FileStatusPending {
				fileIDs = append(fileIDs, f.ID)
			}
		}
	}

	if err := s.acquireLock(); err != nil {
		s.ledger.RecordFailure(err, domain.ErrorContext{Operation: "start_processing"})
		return domain.ProcessingJob{}, err
	}

	job, err := s.tracker.Start(files, fileIDs)
	if err != nil {
		s.releaseLock()
		return domain.ProcessingJob{}, err
	}

	s.ledger.SetError(nil)
	settings := s.Settings()
	s.ledger.LogEvent(domain.LogLevelInfo, domain.ErrorCategoryProcessing, "Processing started", map[string]any{
		"jobId": job.ID,
		"files": len(job.Files),
		"model": string(settings.ModelSize),
	})
	s.setView(domain.ViewProcessing)

	if s.runner == nil {
		s.mu.Lock()
		s.manualJob = job.ID
		s.mu.Unlock()
		return job, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseLock()
		s.finishBatch(s.runner.Run(job, settings))
	}()
	return job, nil
}

func (s *Session) finishBatch(out domain.BatchResult) {
	s.mu.Lock()
	s.lastBatch = &out
	s.mu.Unlock()

	switch out.State {
	case domain.JobStateCompleted:
		s.setView(domain.ViewResults)
	case domain.JobStateFailed:
		if len(out.Results) > 0 {
			s.setView(domain.ViewResults)
		} else {
			s.setView(domain.ViewUpload)
		}
	}
	s.logger.Info("batch finished",
		"job_id", out.JobID,
		"state", out.State,
		"completed", out.Statistics.CompletedFiles,
		"failed", out.Statistics.FailedFiles,
	)
}

// Wait blocks until background batches have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// UpdateProgress applies an externally produced sample to the active job.
func (s *Session) UpdateProgress(sample domain.ProcessingProgress) (bool, error) {
	return s.tracker.Update(sample)
}

// CancelProcessing cancels the active job and returns to the upload view.
func (s *Session) CancelProcessing() error {
	job, ok := s.tracker.Current()
	if err := s.tracker.Cancel(); err != nil {
		return err
	}
	s.releaseManual(job.ID, ok)
	s.ledger.LogEvent(domain.LogLevelInfo, domain.ErrorCategoryProcessing, "Processing cancelled by user", map[string]any{
		"jobId": job.ID,
	})
	s.setView(domain.ViewUpload)
	return nil
}

// CompleteProcessing finishes an externally driven job with its results and
// moves to the results view.
func (s *Session) CompleteProcessing(results ...domain.TranscriptionResult) error {
	job, ok := s.tracker.Current()
	if !ok {
		return jobs.ErrNoRunningJob
	}
	for _, result := range results {
		if result.JobID == "" {
			result.JobID = job.ID
		}
		s.AddResult(result)
	}
	if err := s.tracker.Complete(job.ID); err != nil {
		return err
	}
	for _, f := range job.Files {
		s.setFileStatus(f.ID, domain.FileStatusCompleted)
	}
	s.releaseManual(job.ID, true)
	s.setView(domain.ViewResults)
	return nil
}

func (s *Session) releaseManual(jobID string, known bool) {
	if !known {
		return
	}
	s.mu.Lock()
	manual := s.manualJob == jobID
	if manual {
		s.manualJob = ""
	}
	s.mu.Unlock()
	if manual {
		s.releaseLock()
	}
}

func (s *Session) acquireLock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	if s.lockHolds == 0 {
		if err := s.lock.TryAcquire(); err != nil {
			return err
		}
	}
	s.lockHolds++
	return nil
}

func (s *Session) releaseLock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil || s.lockHolds == 0 {
		return
	}
	s.lockHolds--
	if s.lockHolds == 0 {
		if err := s.lock.Release(); err != nil {
			s.logger.Warn("release processing lock", "error", err)
		}
	}
}

// AddResult stores a finished transcription and persists it to history.
func (s *Session) AddResult(result domain.TranscriptionResult) {
	s.mu.Lock()
	s.results = append(s.results, result)
	s.mu.Unlock()

	s.tracker.Events().Publish(jobs.Event{
		JobID:   result.JobID,
		Type:    jobs.EventTypeResult,
		Result:  &result,
		Message: "Transcript saved",
	})

	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := s.history.Record(ctx, result); err != nil {
		s.ledger.LogEvent(domain.LogLevelWarning, domain.ErrorCategorySystem, "Could not save result to history", map[string]any{
			"resultId": result.ID,
			"error":    err.Error(),
		})
	}
}

// Results returns a copy of the results collected in this session.
func (s *Session) Results() []domain.TranscriptionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.results)
}

// ClearResults forgets session results. History is untouched.
func (s *Session) ClearResults() {
	s.mu.Lock()
	s.results = nil
	s.lastBatch = nil
	s.mu.Unlock()
}

// LastBatch returns the outcome of the most recent background batch.
func (s *Session) LastBatch() (domain.BatchResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastBatch == nil {
		return domain.BatchResult{}, false
	}
	return *s.lastBatch, true
}

// Settings returns the active settings.
func (s *Session) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SaveSettings normalizes, validates, and persists settings. Invalid
// settings are recorded as a validation error and not saved.
func (s *Session) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := config.Validate(normalized); err != nil {
		s.ledger.RecordFailure(err, domain.ErrorContext{Operation: "save_settings", UserAction: "save settings"})
		return domain.Settings{}, err
	}
	if err := s.store.Save(normalized); err != nil {
		wrapped := fmt.Errorf("save settings: %w", err)
		s.ledger.RecordFailure(wrapped, domain.ErrorContext{Operation: "save_settings"})
		return domain.Settings{}, wrapped
	}

	s.mu.Lock()
	s.settings = normalized
	s.mu.Unlock()
	s.ledger.LogEvent(domain.LogLevelInfo, domain.ErrorCategorySystem, "Settings saved", map[string]any{
		"path": s.store.Path(),
	})
	return normalized, nil
}

// ResetSettings restores and persists the defaults.
func (s *Session) ResetSettings() (domain.Settings, error) {
	return s.SaveSettings(config.DefaultSettings())
}

// ImportSettings loads settings from path (json, toml, or yaml) and saves them.
func (s *Session) ImportSettings(path string) (domain.Settings, error) {
	imported, err := config.Import(path)
	if err != nil {
		s.ledger.RecordFailure(err, domain.ErrorContext{Operation: "import_settings"})
		return domain.Settings{}, err
	}
	return s.SaveSettings(imported)
}

// ExportSettings writes the active settings to path in the format implied by
// its extension.
func (s *Session) ExportSettings(path string) error {
	if err := config.Export(s.Settings(), path); err != nil {
		s.ledger.RecordFailure(err, domain.ErrorContext{Operation: "export_settings"})
		return err
	}
	return nil
}

// CurrentError returns the persistent error, if any.
func (s *Session) CurrentError() (domain.ErrorState, bool) {
	return s.ledger.CurrentError()
}

// SetError replaces the current error; nil clears it.
func (s *Session) SetError(state *domain.ErrorState) {
	s.ledger.SetError(state)
}

// LogError appends an audit entry.
func (s *Session) LogError(entry domain.ErrorLog) domain.ErrorLog {
	return s.ledger.LogError(entry)
}

// Logs returns audit entries, newest first.
func (s *Session) Logs() []domain.ErrorLog {
	return s.ledger.Logs()
}

// AddToast shows a transient notification and returns its id.
func (s *Session) AddToast(toast domain.ToastError) string {
	return s.ledger.AddToast(toast)
}

// DismissToast removes a toast by id.
func (s *Session) DismissToast(id string) bool {
	return s.ledger.DismissToast(id)
}

// Toasts returns live toasts, pruning expired ones first.
func (s *Session) Toasts() []domain.ToastError {
	s.ledger.PruneToasts(s.now())
	return s.ledger.Toasts()
}

// CreateErrorFromException converts an unexpected error into the current
// error and logs it.
func (s *Session) CreateErrorFromException(err error, errCtx *domain.ErrorContext) domain.ErrorState {
	return s.ledger.CreateErrorFromException(err, errCtx)
}

// SetDiagnostics replaces the stored diagnostics.
func (s *Session) SetDiagnostics(results []domain.DiagnosticResult) {
	s.ledger.SetDiagnostics(results)
}

// Diagnostics returns the stored diagnostics.
func (s *Session) Diagnostics() []domain.DiagnosticResult {
	return s.ledger.Diagnostics()
}

// RunDiagnostics re-runs the self-checks against the active settings.
func (s *Session) RunDiagnostics() []domain.DiagnosticResult {
	if s.checker == nil {
		return s.Diagnostics()
	}
	results := s.checker.Run(s.Settings())
	s.ledger.SetDiagnostics(results)
	if domain.HasFailures(results) {
		s.ledger.LogEvent(domain.LogLevelWarning, domain.ErrorCategorySystem, "Diagnostics reported failures", nil)
	}
	return results
}

// Close cancels any running job and waits for background work.
func (s *Session) Close() {
	if s.tracker.IsRunning() {
		_ = s.tracker.SetCancellable(true)
		_ = s.tracker.Cancel()
	}
	s.wg.Wait()
	s.mu.Lock()
	holds := s.lockHolds
	s.lockHolds = 0
	s.mu.Unlock()
	if holds > 0 && s.lock != nil {
		_ = s.lock.Release()
	}
}
