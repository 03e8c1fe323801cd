package jobs

import (
	"errors"
	"testing"
	"time"

	"audio-transcriber/internal/domain"
)

var trackerStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: trackerStart}
	return NewTrackerForTests(NewEventBus(50), nil, clock.Now, 0), clock
}

func pendingFiles(names ...string) []domain.AudioFile {
	files := make([]domain.AudioFile, 0, len(names))
	for _, name := range names {
		files = append(files, domain.AudioFile{
			ID:     "id-" + name,
			Name:   name,
			Path:   "/audio/" + name,
			Status: domain.FileStatusPending,
		})
	}
	return files
}

func fileIDs(files []domain.AudioFile) []string {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	return ids
}

func sample(jobID string, stage domain.Stage, pct float64) domain.ProcessingProgress {
	return domain.ProcessingProgress{
		JobID:     jobID,
		Stage:     stage,
		Progress:  pct,
		CanCancel: true,
	}
}

// TestTrackerStartSelectsPendingFiles verifies selection keeps pending files in order.
func TestTrackerStartSelectsPendingFiles(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a", "b.wav", "c.mp3")
	files[1].Status = domain.FileStatusCompleted

	job, err := tracker.Start(files, []string{"id-c.mp3", "id-b.wav", "id-a.m4a"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(job.Files) != 2 || job.Files[0].Name != "a.m4a" || job.Files[1].Name != "c.mp3" {
		t.Fatalf("job files = %+v", job.Files)
	}
	if job.Stage != domain.StageInitializing || job.Progress != 0 {
		t.Fatalf("job stage/progress = %s/%v", job.Stage, job.Progress)
	}
	if !job.CanCancel || job.IsCancelled {
		t.Fatalf("unexpected cancel flags: %+v", job)
	}
	if !job.StartTime.Equal(trackerStart) {
		t.Fatalf("StartTime = %v, want %v", job.StartTime, trackerStart)
	}
	if tracker.State() != domain.JobStateRunning {
		t.Fatalf("state = %s, want running", tracker.State())
	}
}

// TestTrackerStartWithoutPendingFiles verifies an empty selection leaves the slot unchanged.
func TestTrackerStartWithoutPendingFiles(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a")
	files[0].Status = domain.FileStatusCompleted

	if _, err := tracker.Start(files, fileIDs(files)); !errors.Is(err, ErrNoPendingFiles) {
		t.Fatalf("Start() error = %v, want ErrNoPendingFiles", err)
	}
	if _, err := tracker.Start(pendingFiles("b.m4a"), nil); !errors.Is(err, ErrNoPendingFiles) {
		t.Fatalf("Start(nil ids) error = %v, want ErrNoPendingFiles", err)
	}
	if tracker.IsRunning() {
		t.Fatal("tracker should stay idle")
	}
	if tracker.State() != domain.JobStateIdle {
		t.Fatalf("state = %s, want idle", tracker.State())
	}
}

// TestTrackerRejectsSecondStart verifies the single job slot.
func TestTrackerRejectsSecondStart(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a")
	if _, err := tracker.Start(files, fileIDs(files)); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if _, err := tracker.Start(files, fileIDs(files)); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrJobAlreadyRunning", err)
	}
}

// TestTrackerStageIsMonotonic verifies earlier-stage samples are dropped.
func TestTrackerStageIsMonotonic(t *testing.T) {
	tracker, clock := newTestTracker(t)
	files := pendingFiles("a.m4a")
	job, _ := tracker.Start(files, fileIDs(files))

	clock.Advance(10 * time.Second)
	if applied, err := tracker.Update(sample(job.ID, domain.StageTranscribing, 40)); err != nil || !applied {
		t.Fatalf("transcribing Update() = %v, %v", applied, err)
	}
	clock.Advance(time.Second)
	if applied, _ := tracker.Update(sample(job.ID, domain.StagePreprocessing, 60)); applied {
		t.Fatal("preprocessing sample after transcribing should be dropped")
	}
	current, _ := tracker.Current()
	if current.Stage != domain.StageTranscribing || current.Progress != 40 {
		t.Fatalf("after stale sample: %s/%v", current.Stage, current.Progress)
	}

	clock.Advance(time.Second)
	if applied, _ := tracker.Update(sample(job.ID, domain.StageSaving, 95)); !applied {
		t.Fatal("saving sample should apply")
	}
	current, _ = tracker.Current()
	if current.Stage != domain.StageSaving {
		t.Fatalf("stage = %s, want saving", current.Stage)
	}
}

// TestTrackerProgressDoesNotDecrease verifies progress within a file only grows.
func TestTrackerProgressDoesNotDecrease(t *testing.T) {
	tracker, clock := newTestTracker(t)
	files := pendingFiles("a.m4a")
	job, _ := tracker.Start(files, fileIDs(files))

	clock.Advance(5 * time.Second)
	tracker.Update(sample(job.ID, domain.StageTranscribing, 50))
	tracker.Update(sample(job.ID, domain.StageTranscribing, 30))

	current, _ := tracker.Current()
	if current.Progress != 50 {
		t.Fatalf("progress = %v, want 50", current.Progress)
	}
}

// TestTrackerEstimateFromElapsed verifies the derived estimate for a plain sample.
func TestTrackerEstimateFromElapsed(t *testing.T) {
	tracker, clock := newTestTracker(t)
	files := pendingFiles("a.m4a")
	job, _ := tracker.Start(files, fileIDs(files))

	clock.Advance(30 * time.Second)
	tracker.Update(sample(job.ID, domain.StageTranscribing, 50))

	snap := tracker.Snapshot()
	if !snap.Estimate.Known {
		t.Fatal("estimate should be known")
	}
	if snap.Estimate.Elapsed != 30*time.Second || snap.Estimate.Remaining != 30*time.Second {
		t.Fatalf("estimate = %+v", snap.Estimate)
	}
	if snap.Job.EstimatedCompletion == nil || !snap.Job.EstimatedCompletion.Equal(trackerStart.Add(time.Minute)) {
		t.Fatalf("EstimatedCompletion = %v", snap.Job.EstimatedCompletion)
	}
}

// TestTrackerIgnoresForeignSamples verifies samples for other jobs are dropped.
func TestTrackerIgnoresForeignSamples(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a")
	tracker.Start(files, fileIDs(files))

	applied, err := tracker.Update(sample("other-job", domain.StageSaving, 99))
	if err != nil || applied {
		t.Fatalf("foreign Update() = %v, %v", applied, err)
	}
	current, _ := tracker.Current()
	if current.Stage != domain.StageInitializing {
		t.Fatalf("stage = %s, want initializing", current.Stage)
	}
}

// TestTrackerRejectsUnknownStage verifies invalid stage ids are errors.
func TestTrackerRejectsUnknownStage(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a")
	job, _ := tracker.Start(files, fileIDs(files))

	_, err := tracker.Update(sample(job.ID, domain.Stage("exporting"), 10))
	if !errors.Is(err, domain.ErrInvalidStage) {
		t.Fatalf("Update() error = %v, want ErrInvalidStage", err)
	}
}

// TestTrackerCancelRefusedWhenNotCancellable verifies cancel is a no-op while locked.
func TestTrackerCancelRefusedWhenNotCancellable(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a")
	job, _ := tracker.Start(files, fileIDs(files))

	locked := sample(job.ID, domain.StageSaving, 97)
	locked.CanCancel = false
	tracker.Update(locked)

	if err := tracker.Cancel(); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("Cancel() error = %v, want ErrNotCancellable", err)
	}
	current, ok := tracker.Current()
	if !ok || current.IsCancelled {
		t.Fatalf("job should remain active, got %+v ok=%v", current, ok)
	}
	if tracker.State() != domain.JobStateRunning {
		t.Fatalf("state = %s, want running", tracker.State())
	}
}

// TestTrackerCancelClearsSlot verifies cancel ends the job and later samples are ignored.
func TestTrackerCancelClearsSlot(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a", "b.m4a")
	job, _ := tracker.Start(files, fileIDs(files))

	var reset []string
	tracker.OnFileStatus(func(id string, status domain.FileStatus) {
		if status == domain.FileStatusPending {
			reset = append(reset, id)
		}
	})
	if err := tracker.SetFileStatus(job.ID, "id-a.m4a", domain.FileStatusProcessing); err != nil {
		t.Fatalf("SetFileStatus() error = %v", err)
	}
	ctx, _ := tracker.Context(job.ID)

	if err := tracker.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if tracker.IsRunning() {
		t.Fatal("slot should be empty after cancel")
	}
	if tracker.State() != domain.JobStateCancelled {
		t.Fatalf("state = %s, want cancelled", tracker.State())
	}
	if ctx.Err() == nil {
		t.Fatal("job context should be cancelled")
	}
	if len(reset) != 1 || reset[0] != "id-a.m4a" {
		t.Fatalf("reset files = %v", reset)
	}

	if applied, _ := tracker.Update(sample(job.ID, domain.StageSaving, 100)); applied {
		t.Fatal("sample after cancel should be ignored")
	}
	if err := tracker.Cancel(); !errors.Is(err, ErrNoRunningJob) {
		t.Fatalf("second Cancel() error = %v, want ErrNoRunningJob", err)
	}
}

// TestTrackerFileAdvanceRestartsStages verifies per-file stage sequences.
func TestTrackerFileAdvanceRestartsStages(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a", "b.m4a")
	job, _ := tracker.Start(files, fileIDs(files))

	tracker.Update(sample(job.ID, domain.StageSaving, 100))

	next := sample(job.ID, domain.StageLoadingModel, 10)
	idx := 1
	next.FileIndex = &idx
	if applied, _ := tracker.Update(next); !applied {
		t.Fatal("first sample of next file should apply")
	}
	current, _ := tracker.Current()
	if current.CurrentFileIndex != 1 || current.Stage != domain.StageLoadingModel || current.Progress != 10 {
		t.Fatalf("after advance: %+v", current)
	}

	old := sample(job.ID, domain.StageSaving, 100)
	zero := 0
	old.FileIndex = &zero
	if applied, _ := tracker.Update(old); applied {
		t.Fatal("sample for an earlier file should be dropped")
	}

	if err := tracker.AdvanceFile(job.ID, 0); !errors.Is(err, ErrFileIndexRegression) {
		t.Fatalf("AdvanceFile(0) error = %v, want ErrFileIndexRegression", err)
	}
	if err := tracker.AdvanceFile(job.ID, 1); err != nil {
		t.Fatalf("AdvanceFile(1) error = %v", err)
	}
	current, _ = tracker.Current()
	if current.Stage != domain.StageInitializing || current.Progress != 0 {
		t.Fatalf("after retry restart: %s/%v", current.Stage, current.Progress)
	}
}

// TestTrackerCompletePublishesStatus verifies completion state and events.
func TestTrackerCompletePublishesStatus(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a")
	job, _ := tracker.Start(files, fileIDs(files))

	if err := tracker.Complete(job.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if tracker.State() != domain.JobStateCompleted {
		t.Fatalf("state = %s, want completed", tracker.State())
	}
	events := tracker.Events().Since(0)
	last := events[len(events)-1]
	if last.Type != EventTypeStatus || last.State != domain.JobStateCompleted {
		t.Fatalf("last event = %+v", last)
	}
	if err := tracker.Complete(job.ID); !errors.Is(err, ErrNoRunningJob) {
		t.Fatalf("second Complete() error = %v", err)
	}
}

// TestTrackerIgnoresStaleJobID verifies that calls naming a finished job leave
// the next job untouched.
func TestTrackerIgnoresStaleJobID(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a", "b.m4a")
	first, _ := tracker.Start(files, fileIDs(files))
	staleCtx, _ := tracker.Context(first.ID)
	if err := tracker.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	tracker.newID = func() string { return "job-2" }
	second, err := tracker.Start(files, fileIDs(files))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var changed []string
	tracker.OnFileStatus(func(id string, status domain.FileStatus) {
		changed = append(changed, id)
	})

	if err := tracker.SetFileStatus(first.ID, "id-a.m4a", domain.FileStatusCompleted); !errors.Is(err, ErrStaleJob) {
		t.Fatalf("SetFileStatus(stale) error = %v, want ErrStaleJob", err)
	}
	if err := tracker.AdvanceFile(first.ID, 1); !errors.Is(err, ErrStaleJob) {
		t.Fatalf("AdvanceFile(stale) error = %v, want ErrStaleJob", err)
	}
	if err := tracker.Complete(first.ID); !errors.Is(err, ErrStaleJob) {
		t.Fatalf("Complete(stale) error = %v, want ErrStaleJob", err)
	}
	if err := tracker.Fail(first.ID, errors.New("late")); !errors.Is(err, ErrStaleJob) {
		t.Fatalf("Fail(stale) error = %v, want ErrStaleJob", err)
	}
	if _, ok := tracker.Context(first.ID); ok {
		t.Fatal("stale job should not get the active context")
	}
	if staleCtx.Err() == nil {
		t.Fatal("cancelled job context should stay cancelled")
	}

	if len(changed) != 0 {
		t.Fatalf("stale calls changed files %v", changed)
	}
	current, ok := tracker.Current()
	if !ok || current.ID != second.ID {
		t.Fatalf("active job = %+v, want %s", current, second.ID)
	}
	if current.CurrentFileIndex != 0 || tracker.State() != domain.JobStateRunning {
		t.Fatalf("second job disturbed: index=%d state=%s", current.CurrentFileIndex, tracker.State())
	}
	for _, file := range current.Files {
		if file.Status != domain.FileStatusPending {
			t.Fatalf("file %s status = %s, want pending", file.ID, file.Status)
		}
	}
}

// TestTrackerRefreshRecomputesEstimate verifies wall-clock refresh without new samples.
func TestTrackerRefreshRecomputesEstimate(t *testing.T) {
	tracker, _ := newTestTracker(t)
	files := pendingFiles("a.m4a")
	tracker.Start(files, fileIDs(files))

	tracker.Refresh(trackerStart.Add(12 * time.Second))
	snap := tracker.Snapshot()
	if snap.Estimate.Elapsed != 12*time.Second {
		t.Fatalf("elapsed = %v, want 12s", snap.Estimate.Elapsed)
	}
	if snap.Estimate.Known {
		t.Fatal("estimate at 0% should not be known")
	}
}

// TestOverallProgress verifies batch percentage folding.
func TestOverallProgress(t *testing.T) {
	job := domain.ProcessingJob{Files: pendingFiles("a", "b", "c", "d"), CurrentFileIndex: 2, Progress: 50}
	if got := OverallProgress(job); got != 62.5 {
		t.Fatalf("OverallProgress() = %v, want 62.5", got)
	}
	if got := OverallProgress(domain.ProcessingJob{}); got != 0 {
		t.Fatalf("empty OverallProgress() = %v, want 0", got)
	}
}
