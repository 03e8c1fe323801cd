package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/transcribe"
)

// perFileEstimate is the rough per-file cost used before any job has run.
const perFileEstimate = 30 * time.Second

// Engine transcribes one file and reports progress through the request.
type Engine interface {
	Transcribe(ctx context.Context, req transcribe.Request) (domain.TranscriptionResult, error)
}

// ErrorRecorder turns failures into user-facing errors plus audit entries.
type ErrorRecorder interface {
	RecordFailure(err error, errCtx domain.ErrorContext) domain.ErrorState
	LogEvent(level domain.LogLevel, category domain.ErrorCategory, message string, details map[string]any) domain.ErrorLog
}

// ResultSink receives each successful transcription before the job completes.
type ResultSink interface {
	AddResult(result domain.TranscriptionResult)
}

// BatchRunner drives a job's files through the engine one at a time.
type BatchRunner struct {
	tracker *Tracker
	engine  Engine
	errors  ErrorRecorder
	results ResultSink
	logger  *slog.Logger
	now     func() time.Time
}

// NewBatchRunner wires a runner around the tracker's active job.
func NewBatchRunner(tracker *Tracker, engine Engine, errs ErrorRecorder, results ResultSink, logger *slog.Logger) *BatchRunner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BatchRunner{
		tracker: tracker,
		engine:  engine,
		errors:  errs,
		results: results,
		logger:  logger.With("component", "batch"),
		now:     time.Now,
	}
}

// Run processes every file of job sequentially and finalizes the tracker.
// A failed file is handled per settings.FailurePolicy: abort fails the job,
// skip moves on, retry re-runs up to MaxRetries times and then skips.
func (r *BatchRunner) Run(job domain.ProcessingJob, settings domain.Settings) domain.BatchResult {
	out := domain.BatchResult{
		JobID: job.ID,
		State: domain.JobStateRunning,
		Statistics: domain.BatchStatistics{
			TotalFiles: len(job.Files),
		},
	}

	ctx, ok := r.tracker.Context(job.ID)
	if !ok {
		out.State = r.tracker.State()
		out.Statistics.SkippedFiles = len(job.Files)
		return out
	}

	policy := settings.FailurePolicy
	if policy == "" {
		policy = domain.FailurePolicySkip
	}

	processed := 0
	for i, file := range job.Files {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := r.tracker.AdvanceFile(job.ID, i); err != nil {
				break
			}
		}
		processed++

		result, attempts, err := r.runFile(ctx, job, i, file, settings, policy)
		if err == nil {
			out.Results = append(out.Results, result)
			out.Statistics.CompletedFiles++
			out.Statistics.TotalProcessingTime += result.ProcessingTime
			continue
		}
		if ctx.Err() != nil {
			break
		}

		_ = r.tracker.SetFileStatus(job.ID, file.ID, domain.FileStatusError)
		out.Errors = append(out.Errors, domain.ProcessingError{
			FilePath:  file.Path,
			Message:   err.Error(),
			Attempts:  attempts,
			Timestamp: r.now().UTC(),
		})
		out.Statistics.FailedFiles++

		if policy == domain.FailurePolicyAbort {
			r.logger.Warn("aborting batch after failure", "job_id", job.ID, "file", file.Name)
			_ = r.tracker.Fail(job.ID, fmt.Errorf("%s: %w", file.Name, err))
			out.State = domain.JobStateFailed
			out.Statistics.SkippedFiles = len(job.Files) - processed
			finishStats(&out.Statistics)
			return out
		}
	}

	out.Statistics.SkippedFiles = len(job.Files) - processed
	finishStats(&out.Statistics)

	if ctx.Err() != nil {
		out.State = domain.JobStateCancelled
		r.errors.LogEvent(domain.LogLevelInfo, domain.ErrorCategoryProcessing, "Processing cancelled", map[string]any{
			"jobId":     job.ID,
			"completed": out.Statistics.CompletedFiles,
		})
		return out
	}

	if err := r.tracker.Complete(job.ID); err != nil {
		if errors.Is(err, ErrStaleJob) || errors.Is(err, ErrNoRunningJob) {
			// Cancelled between the last file and here.
			out.State = domain.JobStateCancelled
			return out
		}
		r.logger.Warn("complete job", "job_id", job.ID, "error", err)
	}
	out.State = domain.JobStateCompleted
	r.errors.LogEvent(domain.LogLevelInfo, domain.ErrorCategoryProcessing, "Processing finished", map[string]any{
		"jobId":     job.ID,
		"completed": out.Statistics.CompletedFiles,
		"failed":    out.Statistics.FailedFiles,
	})
	return out
}

func (r *BatchRunner) runFile(
	ctx context.Context,
	job domain.ProcessingJob,
	index int,
	file domain.AudioFile,
	settings domain.Settings,
	policy domain.FailurePolicy,
) (domain.TranscriptionResult, int, error) {
	maxAttempts := 1
	if policy == domain.FailurePolicyRetry && settings.MaxRetries > 0 {
		maxAttempts += settings.MaxRetries
	}

	_ = r.tracker.SetFileStatus(job.ID, file.ID, domain.FileStatusProcessing)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.tracker.AdvanceFile(job.ID, index); err != nil {
				return domain.TranscriptionResult{}, attempt - 1, err
			}
			r.logger.Info("retrying file", "job_id", job.ID, "file", file.Name, "attempt", attempt)
		}

		started := r.now()
		result, err := r.engine.Transcribe(ctx, transcribe.Request{
			JobID:      job.ID,
			File:       file,
			Settings:   settings,
			FileIndex:  index,
			TotalFiles: len(job.Files),
			OnProgress: func(sample domain.ProcessingProgress) {
				idx, total := index, len(job.Files)
				sample.JobID = job.ID
				sample.FileIndex = &idx
				sample.TotalFiles = &total
				if _, err := r.tracker.Update(sample); err != nil {
					r.logger.Debug("progress rejected", "job_id", job.ID, "error", err)
				}
			},
			OnLog: func(log transcribe.CommandLog) {
				r.tracker.Events().Publish(Event{
					JobID:    job.ID,
					Type:     EventTypeLog,
					Message:  "Command finished",
					Command:  log.Command,
					Args:     log.Args,
					ExitCode: log.ExitCode,
					Stderr:   log.Stderr,
				})
			},
		})
		if err == nil && ctx.Err() != nil {
			r.logger.Info("dropping result of cancelled job", "job_id", job.ID, "file", file.Name)
			return domain.TranscriptionResult{}, attempt, ctx.Err()
		}
		if err == nil {
			result.JobID = job.ID
			if result.ProcessingTime == 0 {
				result.ProcessingTime = r.now().Sub(started)
			}
			if r.results != nil {
				r.results.AddResult(result)
			}
			_ = r.tracker.SetFileStatus(job.ID, file.ID, domain.FileStatusCompleted)
			return result, attempt, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return domain.TranscriptionResult{}, attempt, err
		}

		lastErr = err
		stage := domain.StageInitializing
		if current, ok := r.tracker.Current(); ok {
			stage = current.Stage
		}
		r.errors.RecordFailure(err, domain.ErrorContext{
			FileName:  file.Name,
			Operation: "transcribe",
			Stage:     stage,
		})
	}
	return domain.TranscriptionResult{}, maxAttempts, lastErr
}

func finishStats(stats *domain.BatchStatistics) {
	if stats.CompletedFiles > 0 {
		stats.AverageProcessingTime = stats.TotalProcessingTime / time.Duration(stats.CompletedFiles)
	}
}

// EstimateBatchDuration is the pre-run guess for a batch of n files.
func EstimateBatchDuration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * perFileEstimate
}
