package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/progress"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when an operation needs an active job.
var ErrNoRunningJob = errors.New("no running job")

// ErrNotCancellable is returned when the active job currently refuses cancel.
var ErrNotCancellable = errors.New("job cannot be cancelled right now")

// ErrNoPendingFiles is returned when a start request selects no pending file.
var ErrNoPendingFiles = errors.New("no pending files selected")

// ErrStaleJob is returned when a caller names a job that no longer owns the
// slot. The tracker state is left untouched.
var ErrStaleJob = errors.New("job is no longer active")

// ErrFileIndexRegression is returned when a batch tries to move backwards.
var ErrFileIndexRegression = errors.New("file index cannot move backwards")

// FileStatusFunc observes file status changes made by the tracker.
type FileStatusFunc func(fileID string, status domain.FileStatus)

// Snapshot is a consistent read of the tracker state.
type Snapshot struct {
	State    domain.JobState            `json:"state"`
	Job      *domain.ProcessingJob      `json:"job,omitempty"`
	Sample   *domain.ProcessingProgress `json:"sample,omitempty"`
	Estimate progress.Estimate          `json:"estimate"`
}

// Tracker owns the single job slot and applies progress samples to it.
type Tracker struct {
	mu           sync.Mutex
	state        domain.JobState
	job          *domain.ProcessingJob
	latest       *domain.ProcessingProgress
	estimate     progress.Estimate
	ctx          context.Context
	cancel       context.CancelFunc
	ticker       *progress.Ticker
	tickInterval time.Duration
	sampler      *progress.Sampler
	onFile       FileStatusFunc

	events *EventBus
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewTracker creates an idle tracker that refreshes estimates once per second.
func NewTracker(events *EventBus, logger *slog.Logger) *Tracker {
	return NewTrackerForTests(events, logger, time.Now, time.Second)
}

// NewTrackerForTests creates a tracker with an injectable clock. A zero
// tickInterval disables periodic refresh.
func NewTrackerForTests(events *EventBus, logger *slog.Logger, now func() time.Time, tickInterval time.Duration) *Tracker {
	if events == nil {
		events = NewEventBus(0)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		state:        domain.JobStateIdle,
		tickInterval: tickInterval,
		sampler:      progress.NewSampler(10),
		events:       events,
		logger:       logger.With("component", "tracker"),
		now:          now,
		newID:        uuid.NewString,
	}
}

// OnFileStatus registers the observer for file status changes. The callback
// runs without the tracker lock held.
func (t *Tracker) OnFileStatus(fn FileStatusFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFile = fn
}

// Events exposes the bus the tracker publishes to.
func (t *Tracker) Events() *EventBus {
	return t.events
}

// Start creates a job from the pending files whose IDs are in fileIDs,
// keeping the order of files.
func (t *Tracker) Start(files []domain.AudioFile, fileIDs []string) (domain.ProcessingJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job != nil {
		return domain.ProcessingJob{}, ErrJobAlreadyRunning
	}

	wanted := make(map[string]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		wanted[id] = struct{}{}
	}
	selected := make([]domain.AudioFile, 0, len(fileIDs))
	for _, file := range files {
		if _, ok := wanted[file.ID]; !ok || file.Status != domain.FileStatusPending {
			continue
		}
		selected = append(selected, file)
	}
	if len(selected) == 0 {
		return domain.ProcessingJob{}, ErrNoPendingFiles
	}

	job := &domain.ProcessingJob{
		ID:        t.newID(),
		Files:     selected,
		Stage:     domain.StageInitializing,
		StartTime: t.now().UTC(),
		CanCancel: true,
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.job = job
	t.state = domain.JobStateRunning
	t.latest = nil
	t.estimate = progress.Estimate{}
	t.sampler.Reset()

	if t.tickInterval > 0 {
		jobID := job.ID
		t.ticker = progress.StartTicker(t.ctx, t.tickInterval, func(now time.Time) {
			t.refresh(jobID, now)
		})
	}

	t.logger.Info("job started", "job_id", job.ID, "files", len(selected))
	t.publishLocked(EventTypeStatus, "Job started")
	return cloneJob(job), nil
}

// Update merges a progress sample into the active job. It reports whether
// the sample was applied; samples without an active job, for another job, or
// for an earlier stage are dropped.
func (t *Tracker) Update(sample domain.ProcessingProgress) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.job
	if job == nil {
		return false, nil
	}
	if sample.JobID != "" && sample.JobID != job.ID {
		return false, nil
	}
	if !sample.Stage.Valid() {
		return false, fmt.Errorf("apply progress: %w: %q", domain.ErrInvalidStage, string(sample.Stage))
	}

	merged := sample
	merged.JobID = job.ID
	if merged.Timestamp.IsZero() {
		merged.Timestamp = t.now().UTC()
	}

	newFile := false
	if sample.FileIndex != nil {
		idx := *sample.FileIndex
		switch {
		case idx < job.CurrentFileIndex:
			t.logger.Debug("dropping progress for earlier file", "job_id", job.ID, "file_index", idx)
			return false, nil
		case idx > job.CurrentFileIndex && idx < len(job.Files):
			job.CurrentFileIndex = idx
			newFile = true
		}
	}

	switch {
	case newFile:
		job.Stage = merged.Stage
		job.Progress = merged.Progress
	case merged.Stage.Before(job.Stage):
		t.logger.Debug("dropping stale progress", "job_id", job.ID, "stage", merged.Stage, "current", job.Stage)
		return false, nil
	default:
		job.Stage = merged.Stage
		if merged.Progress > job.Progress {
			job.Progress = merged.Progress
		}
	}
	merged.Progress = job.Progress
	job.CanCancel = merged.CanCancel

	t.latest = &merged
	t.estimate = progress.Compute(merged, job.StartTime, merged.Timestamp)
	if at, ok := t.estimate.CompletionTime(merged.Timestamp); ok {
		job.EstimatedCompletion = &at
	} else {
		job.EstimatedCompletion = nil
	}

	if t.sampler.ShouldLog(job.Stage, job.Progress) {
		t.logger.Info("job progress",
			"job_id", job.ID,
			"stage", job.Stage,
			"progress", job.Progress,
			"file_index", job.CurrentFileIndex,
			"remaining", progress.FormatDuration(t.estimate.Remaining, t.estimate.Known),
		)
	}
	t.publishLocked(EventTypeProgress, merged.Message)
	return true, nil
}

// AdvanceFile moves the batch to file index, restarting the stage sequence
// for that file. Index may equal the current index to restart a retry.
func (t *Tracker) AdvanceFile(jobID string, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, err := t.activeLocked(jobID)
	if err != nil {
		return err
	}
	if index < job.CurrentFileIndex {
		return fmt.Errorf("%w: %d < %d", ErrFileIndexRegression, index, job.CurrentFileIndex)
	}
	if index >= len(job.Files) {
		return fmt.Errorf("file index %d out of range (%d files)", index, len(job.Files))
	}

	job.CurrentFileIndex = index
	job.Stage = domain.StageInitializing
	job.Progress = 0
	job.CanCancel = true
	t.latest = nil
	t.sampler.Reset()
	t.publishLocked(EventTypeStatus, fmt.Sprintf("Processing file %d of %d", index+1, len(job.Files)))
	return nil
}

// SetFileStatus updates one file of job jobID.
func (t *Tracker) SetFileStatus(jobID, fileID string, status domain.FileStatus) error {
	t.mu.Lock()
	job, err := t.activeLocked(jobID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	found := false
	for i := range job.Files {
		if job.Files[i].ID == fileID {
			job.Files[i].Status = status
			found = true
			break
		}
	}
	if !found {
		t.mu.Unlock()
		return fmt.Errorf("file %s is not part of job %s", fileID, job.ID)
	}
	t.events.Publish(Event{
		JobID:      job.ID,
		Type:       EventTypeFile,
		FileID:     fileID,
		FileStatus: status,
	})
	onFile := t.onFile
	t.mu.Unlock()

	if onFile != nil {
		onFile(fileID, status)
	}
	return nil
}

// SetCancellable toggles whether Cancel is currently honoured.
func (t *Tracker) SetCancellable(canCancel bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return ErrNoRunningJob
	}
	t.job.CanCancel = canCancel
	return nil
}

// Cancel ends the active job immediately. The engine observes the job context
// and stops on its own schedule.
func (t *Tracker) Cancel() error {
	t.mu.Lock()
	job := t.job
	if job == nil {
		t.mu.Unlock()
		return ErrNoRunningJob
	}
	if !job.CanCancel {
		t.mu.Unlock()
		return ErrNotCancellable
	}
	job.IsCancelled = true
	reset := filesWithStatus(job, domain.FileStatusProcessing)
	t.logger.Info("job cancelled", "job_id", job.ID)
	ticker := t.finishLocked(domain.JobStateCancelled, "Job cancelled")
	onFile := t.onFile
	t.mu.Unlock()

	ticker.Stop()
	if onFile != nil {
		for _, id := range reset {
			onFile(id, domain.FileStatusPending)
		}
	}
	return nil
}

// Complete finalizes job jobID. Results must already be recorded.
func (t *Tracker) Complete(jobID string) error {
	t.mu.Lock()
	if _, err := t.activeLocked(jobID); err != nil {
		t.mu.Unlock()
		return err
	}
	t.logger.Info("job completed", "job_id", t.job.ID)
	ticker := t.finishLocked(domain.JobStateCompleted, "Job completed")
	t.mu.Unlock()

	ticker.Stop()
	return nil
}

// Fail finalizes job jobID as failed.
func (t *Tracker) Fail(jobID string, cause error) error {
	t.mu.Lock()
	job, err := t.activeLocked(jobID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	failed := filesWithStatus(job, domain.FileStatusProcessing)
	message := "Job failed"
	if cause != nil {
		message = cause.Error()
	}
	t.logger.Error("job failed", "job_id", job.ID, "error", cause)
	ticker := t.finishLocked(domain.JobStateFailed, message)
	onFile := t.onFile
	t.mu.Unlock()

	ticker.Stop()
	if onFile != nil {
		for _, id := range failed {
			onFile(id, domain.FileStatusError)
		}
	}
	return nil
}

// Context returns the cancellation context of job jobID while it is active.
func (t *Tracker) Context(jobID string) (context.Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.activeLocked(jobID); err != nil {
		return nil, false
	}
	return t.ctx, true
}

// Current returns a copy of the active job.
func (t *Tracker) Current() (domain.ProcessingJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return domain.ProcessingJob{}, false
	}
	return cloneJob(t.job), true
}

// State returns the lifecycle state of the job slot.
func (t *Tracker) State() domain.JobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsRunning reports whether the job slot is occupied.
func (t *Tracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job != nil
}

// Snapshot returns state, job, latest sample, and estimate together.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{State: t.state, Estimate: t.estimate}
	if t.job != nil {
		job := cloneJob(t.job)
		snap.Job = &job
	}
	if t.latest != nil {
		sample := *t.latest
		snap.Sample = &sample
	}
	return snap
}

// Refresh recomputes the estimate against now and publishes it.
func (t *Tracker) Refresh(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return
	}
	t.refreshLocked(now)
}

func (t *Tracker) refresh(jobID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil || t.job.ID != jobID {
		return
	}
	t.refreshLocked(now)
}

func (t *Tracker) refreshLocked(now time.Time) {
	job := t.job
	sample := domain.ProcessingProgress{
		JobID:     job.ID,
		Stage:     job.Stage,
		Progress:  job.Progress,
		Timestamp: now.UTC(),
		CanCancel: job.CanCancel,
	}
	if t.latest != nil {
		sample = *t.latest
	}
	t.estimate = progress.Compute(sample, job.StartTime, now.UTC())
	t.publishLocked(EventTypeProgress, "")
}

// activeLocked returns the job in the slot when it is jobID.
func (t *Tracker) activeLocked(jobID string) (*domain.ProcessingJob, error) {
	if t.job == nil {
		return nil, ErrNoRunningJob
	}
	if t.job.ID != jobID {
		return nil, fmt.Errorf("%w: %s", ErrStaleJob, jobID)
	}
	return t.job, nil
}

// finishLocked clears the slot and returns the ticker to stop once the lock
// is released.
func (t *Tracker) finishLocked(state domain.JobState, message string) *progress.Ticker {
	if t.cancel != nil {
		t.cancel()
	}
	t.state = state
	t.publishLocked(EventTypeStatus, message)

	ticker := t.ticker
	t.ticker = nil
	t.job = nil
	t.latest = nil
	t.estimate = progress.Estimate{}
	t.ctx = nil
	t.cancel = nil
	return ticker
}

func (t *Tracker) publishLocked(eventType EventType, message string) {
	event := Event{
		Type:    eventType,
		State:   t.state,
		Message: message,
	}
	if t.job != nil {
		job := cloneJob(t.job)
		event.JobID = job.ID
		event.Stage = job.Stage
		event.Job = &job
	}
	if eventType == EventTypeProgress {
		if t.latest != nil {
			sample := *t.latest
			event.Sample = &sample
		}
		est := t.estimate
		event.Estimate = &est
	}
	t.events.Publish(event)
}

func filesWithStatus(job *domain.ProcessingJob, status domain.FileStatus) []string {
	var ids []string
	for i := range job.Files {
		if job.Files[i].Status == status {
			ids = append(ids, job.Files[i].ID)
		}
	}
	return ids
}

func cloneJob(job *domain.ProcessingJob) domain.ProcessingJob {
	out := *job
	out.Files = append([]domain.AudioFile(nil), job.Files...)
	if job.EstimatedCompletion != nil {
		at := *job.EstimatedCompletion
		out.EstimatedCompletion = &at
	}
	return out
}

// OverallProgress folds the current file's progress into a batch percentage.
func OverallProgress(job domain.ProcessingJob) float64 {
	total := len(job.Files)
	if total == 0 {
		return 0
	}
	return (float64(job.CurrentFileIndex) + job.Progress/100) / float64(total) * 100
}
