package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/diagnostics"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/history"
	"audio-transcriber/internal/instance"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/ledger"
	"audio-transcriber/internal/logging"
	"audio-transcriber/internal/models"
	"audio-transcriber/internal/session"
	"audio-transcriber/internal/transcribe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Event names pushed to the front-end.
const (
	EventJob           = "job:event"
	EventLedger        = "ledger:change"
	EventModelProgress = "model:progress"
)

var audioDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.m4a;*.wav;*.mp3;*.aac;*.flac;*.ogg;*.webm;*.mp4",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var settingsDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Settings",
		Pattern:     "*.json;*.toml;*.yaml;*.yml",
	},
}

// emitFunc matches wailsruntime.EventsEmit.
type emitFunc func(ctx context.Context, eventName string, optionalData ...interface{})

// LedgerSnapshot is the payload of ledger change events.
type LedgerSnapshot struct {
	Kinds        []ledger.ChangeKind       `json:"kinds"`
	CurrentError *domain.ErrorState        `json:"currentError,omitempty"`
	Toasts       []domain.ToastError       `json:"toasts"`
	Diagnostics  []domain.DiagnosticResult `json:"diagnostics,omitempty"`
}

// App binds the session to the Wails runtime.
type App struct {
	session *session.Session
	catalog *models.Catalog
	history *history.Store
	logger  *slog.Logger
	assets  fs.FS
	emit    emitFunc
	closers []func() error

	mu          sync.Mutex
	runtimeCtx  context.Context
	stopForward func()
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	appDir := config.AppDir()
	logger, closeLog := logging.New(logging.Options{
		Level:   os.Getenv("TRANSCRIBER_LOG_LEVEL"),
		FileDir: filepath.Join(appDir, "logs"),
	})

	lock, err := instance.New(appDir)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("prepare instance lock: %w", err)
	}

	app := &App{
		catalog: models.NewCatalog(logger),
		logger:  logger.With("component", "app"),
		assets:  assets,
		emit:    wailsruntime.EventsEmit,
		closers: []func() error{closeLog},
	}

	opts := session.Options{
		Store:   config.NewJSONStore(config.DefaultSettingsPath()),
		Engine:  transcribe.NewCLIEngine("", logger),
		Checker: diagnostics.NewChecker(),
		Lock:    lock,
		Logger:  logger,
	}
	store, err := history.Open(filepath.Join(appDir, "history.db"))
	if err != nil {
		logger.Warn("history disabled", "error", err)
	} else {
		app.history = store
		opts.History = store
		app.closers = append([]func() error{store.Close}, app.closers...)
	}

	sess, err := session.New(opts)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess.RunDiagnostics()
	app.session = sess
	return app, nil
}

// newAppForTests wraps an existing session without any OS resources.
func newAppForTests(sess *session.Session, emit emitFunc) *App {
	return &App{
		session: sess,
		catalog: models.NewCatalog(nil),
		logger:  logging.Discard(),
		emit:    emit,
	}
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Audio Transcriber",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context and starts pushing events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
	if a.stopForward == nil {
		a.stopForward = a.forward(ctx)
	}
}

// Shutdown stops event forwarding, cancels any job and releases resources.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	stop := a.stopForward
	a.stopForward = nil
	a.runtimeCtx = nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	a.session.Close()
	a.close()
}

func (a *App) close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("close resource", "error", err)
		}
	}
	a.closers = nil
}

// forward relays job bus and ledger changes to the front-end until the
// returned stop func is called.
func (a *App) forward(ctx context.Context) func() {
	jobEvents, stopJobs := a.session.Events().Subscribe(256)
	changes, stopLedger := a.session.Ledger().Subscribe(64)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for event := range jobEvents {
			a.emit(ctx, EventJob, event)
		}
	}()
	go func() {
		defer wg.Done()
		for change := range changes {
			a.emit(ctx, EventLedger, a.ledgerSnapshot(change))
		}
	}()

	return func() {
		stopJobs()
		stopLedger()
		wg.Wait()
	}
}

func (a *App) ledgerSnapshot(change ledger.Change) LedgerSnapshot {
	snap := LedgerSnapshot{
		Kinds:  change.Kinds,
		Toasts: a.session.Toasts(),
	}
	if current, ok := a.session.CurrentError(); ok {
		snap.CurrentError = &current
	}
	if change.Has(ledger.ChangeDiagnostics) {
		snap.Diagnostics = a.session.Diagnostics()
	}
	return snap
}

// GetView returns the current screen.
func (a *App) GetView() domain.View {
	return a.session.View()
}

// SetView switches screens.
func (a *App) SetView(view domain.View) error {
	return a.session.SetView(view)
}

// GetFiles returns the queued audio files.
func (a *App) GetFiles() []domain.AudioFile {
	return a.session.Files()
}

// AddFiles validates paths and queues the valid ones.
func (a *App) AddFiles(paths []string) session.BatchValidation {
	return a.session.AddPaths(paths)
}

// PickAudioFiles opens a native dialog and queues the selected files.
func (a *App) PickAudioFiles() (session.BatchValidation, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return session.BatchValidation{}, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select audio files",
		Filters: audioDialogFilter,
	})
	if err != nil {
		return session.BatchValidation{}, err
	}
	if len(paths) == 0 {
		return session.BatchValidation{}, nil
	}
	return a.session.AddPaths(paths), nil
}

// RemoveFile drops a queued file.
func (a *App) RemoveFile(id string) error {
	return a.session.RemoveFile(id)
}

// ClearFiles empties the queue.
func (a *App) ClearFiles() error {
	return a.session.ClearFiles()
}

// StartProcessing runs the selected pending files, or all of them when ids is empty.
func (a *App) StartProcessing(ids []string) (domain.ProcessingJob, error) {
	return a.session.StartProcessing(ids...)
}

// CancelProcessing cancels the running job.
func (a *App) CancelProcessing() error {
	return a.session.CancelProcessing()
}

// GetProgress returns the job slot, latest sample and time estimate.
func (a *App) GetProgress() jobs.Snapshot {
	return a.session.Progress()
}

// EstimateBatchDuration returns the rough duration for n files in seconds.
func (a *App) EstimateBatchDuration(n int) float64 {
	return jobs.EstimateBatchDuration(n).Seconds()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.session.Events().Since(sinceSeq)
}

// GetResults returns transcripts produced in this session.
func (a *App) GetResults() []domain.TranscriptionResult {
	return a.session.Results()
}

// GetHistory returns up to limit past transcripts, newest first.
func (a *App) GetHistory(limit int) ([]domain.TranscriptionResult, error) {
	if a.history == nil {
		return nil, nil
	}
	return a.history.List(context.Background(), limit)
}

// GetSettings returns the active settings.
func (a *App) GetSettings() domain.Settings {
	return a.session.Settings()
}

// SaveSettings validates and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	saved, err := a.session.SaveSettings(settings)
	if err != nil {
		return domain.Settings{}, err
	}
	a.session.RunDiagnostics()
	return saved, nil
}

// ResetSettings restores defaults.
func (a *App) ResetSettings() (domain.Settings, error) {
	return a.session.ResetSettings()
}

// ImportSettings asks for a settings file and applies it.
func (a *App) ImportSettings() (domain.Settings, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return domain.Settings{}, err
	}
	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Import settings",
		Filters: settingsDialogFilter,
	})
	if err != nil || strings.TrimSpace(path) == "" {
		return a.session.Settings(), err
	}
	return a.session.ImportSettings(path)
}

// ExportSettings asks for a destination and writes the active settings.
func (a *App) ExportSettings() error {
	ctx, err := a.runtimeContext()
	if err != nil {
		return err
	}
	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:           "Export settings",
		DefaultFilename: "settings.json",
		Filters:         settingsDialogFilter,
	})
	if err != nil || strings.TrimSpace(path) == "" {
		return err
	}
	return a.session.ExportSettings(path)
}

// GetCurrentError returns the persistent error panel content, if any.
func (a *App) GetCurrentError() *domain.ErrorState {
	if current, ok := a.session.CurrentError(); ok {
		return &current
	}
	return nil
}

// ClearError dismisses the persistent error.
func (a *App) ClearError() {
	a.session.SetError(nil)
}

// GetLogs returns audit entries, newest first.
func (a *App) GetLogs() []domain.ErrorLog {
	return a.session.Logs()
}

// ClearLogs empties the audit log.
func (a *App) ClearLogs() {
	a.session.Ledger().ClearLogs()
}

// ReportError records a front-end failure as an unexpected error.
func (a *App) ReportError(message string, errCtx *domain.ErrorContext) domain.ErrorState {
	return a.session.CreateErrorFromException(errors.New(message), errCtx)
}

// GetToasts returns live toasts.
func (a *App) GetToasts() []domain.ToastError {
	return a.session.Toasts()
}

// DismissToast removes one toast.
func (a *App) DismissToast(id string) bool {
	return a.session.DismissToast(id)
}

// GetDiagnostics returns the latest diagnostics.
func (a *App) GetDiagnostics() []domain.DiagnosticResult {
	return a.session.Diagnostics()
}

// RefreshDiagnostics reruns dependency checks.
func (a *App) RefreshDiagnostics() []domain.DiagnosticResult {
	return a.session.RunDiagnostics()
}

// GetWhisperModels returns model presets with their local availability.
func (a *App) GetWhisperModels() []domain.WhisperModelOption {
	return a.catalog.List(a.session.Settings().ModelPath)
}

// DownloadWhisperModel fetches the preset for size and selects it.
func (a *App) DownloadWhisperModel(size domain.ModelSize) (domain.Settings, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return domain.Settings{}, err
	}

	settings := a.session.Settings()
	_, err = a.catalog.Download(ctx, size, settings.ModelPath, func(written, total int64) {
		a.emit(ctx, EventModelProgress, map[string]any{
			"size":    size,
			"written": written,
			"total":   total,
		})
	})
	if err != nil {
		a.session.Ledger().RecordFailure(err, domain.ErrorContext{Operation: "download_model", UserAction: "download " + string(size)})
		return domain.Settings{}, err
	}

	settings.ModelSize = size
	return a.SaveSettings(settings)
}

// PickModelDirectory opens a native directory picker for model folders.
func (a *App) PickModelDirectory() (string, error) {
	return a.pickDirectory("Select model directory")
}

// PickOutputDirectory opens a native directory picker for transcript exports.
func (a *App) PickOutputDirectory() (string, error) {
	return a.pickDirectory("Select output directory")
}

func (a *App) pickDirectory(title string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: title,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.session.Settings().OutputDir
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
