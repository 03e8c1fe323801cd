package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/progress"
)

const cancelRetryInterval = 500 * time.Millisecond

type processOptions struct {
	model    string
	language string
	format   string
	output   string
	policy   string
	retries  int
	noMeta   bool
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var opts processOptions

	cmd := &cobra.Command{
		Use:   "process <file>...",
		Short: "Transcribe one or more audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, ctx, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.model, "model", "m", "", "Model size (tiny, base, small, medium, large)")
	flags.StringVarP(&opts.language, "language", "l", "", "Spoken language code or auto")
	flags.StringVarP(&opts.format, "format", "f", "", "Output format (txt, srt, vtt, json)")
	flags.StringVarP(&opts.output, "output", "o", "", "Output directory")
	flags.StringVar(&opts.policy, "on-failure", "", "Failure policy (abort, skip, retry)")
	flags.IntVar(&opts.retries, "retries", -1, "Retry attempts when --on-failure=retry")
	flags.BoolVar(&opts.noMeta, "no-metadata", false, "Omit the metadata header from transcripts")

	return cmd
}

func (o processOptions) apply(settings *domain.Settings) {
	if o.model != "" {
		settings.ModelSize = domain.ModelSize(strings.ToLower(o.model))
	}
	if o.language != "" {
		settings.Language = o.language
	}
	if o.format != "" {
		settings.OutputFormat = domain.OutputFormat(strings.ToLower(o.format))
	}
	if o.output != "" {
		settings.OutputDir = o.output
	}
	if o.policy != "" {
		settings.FailurePolicy = domain.FailurePolicy(strings.ToLower(o.policy))
	}
	if o.retries >= 0 {
		settings.MaxRetries = o.retries
	}
	if o.noMeta {
		settings.IncludeMetadata = false
	}
}

func runProcess(cmd *cobra.Command, ctx *commandContext, opts processOptions, args []string) error {
	sess, cleanup, err := ctx.openSession(opts.apply)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := config.Validate(sess.Settings()); err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	validation := sess.AddPaths(args)
	for _, invalid := range validation.InvalidFiles {
		fmt.Fprintf(stderr, "skip %s: %s\n", invalid.FilePath, invalid.Message)
	}
	for _, warning := range validation.Warnings {
		fmt.Fprintf(stderr, "warning: %s\n", warning)
	}
	if !validation.CanProceed {
		return errors.New("nothing to process")
	}

	events, unsubscribe := sess.Events().Subscribe(256)
	defer unsubscribe()

	job, err := sess.StartProcessing()
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		sess.Wait()
		close(done)
	}()

	render := newProgressView(stderr, job.Files, isTerminal(stderr) && !ctx.jsonFlag)
	cancelled := false
	interrupted := cmd.Context().Done()
	var retry <-chan time.Time

	tryCancel := func() {
		err := sess.CancelProcessing()
		switch {
		case err == nil, errors.Is(err, jobs.ErrNoRunningJob):
			retry = nil
		case errors.Is(err, jobs.ErrNotCancellable):
			retry = time.After(cancelRetryInterval)
		default:
			ctx.log().Warn("cancel processing", "error", err)
			retry = nil
		}
	}

loop:
	for {
		select {
		case <-interrupted:
			interrupted = nil
			cancelled = true
			render.note("cancelling, finishing the current step")
			tryCancel()
		case <-retry:
			tryCancel()
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			render.handle(event)
		case <-done:
			break loop
		}
	}
	render.finish()

	batch, ok := sess.LastBatch()
	if !ok {
		return errors.New("batch finished without a result")
	}

	if ctx.jsonFlag {
		if err := writeJSON(cmd, batch); err != nil {
			return err
		}
	} else {
		printBatch(cmd.OutOrStdout(), batch)
	}

	if cancelled || batch.State == domain.JobStateCancelled {
		return context.Canceled
	}
	if batch.State == domain.JobStateFailed {
		return fmt.Errorf("batch failed after %d of %d files", batch.Statistics.CompletedFiles, batch.Statistics.TotalFiles)
	}
	if batch.Statistics.FailedFiles > 0 {
		return fmt.Errorf("%d of %d files failed", batch.Statistics.FailedFiles, batch.Statistics.TotalFiles)
	}
	return nil
}

// progressView renders job events as a bar on terminals and as one line per
// stage change elsewhere.
type progressView struct {
	out   io.Writer
	total int
	names map[string]string
	bar   *progressbar.ProgressBar
	last  string
}

func newProgressView(out io.Writer, files []domain.AudioFile, interactive bool) *progressView {
	view := &progressView{out: out, total: len(files), names: make(map[string]string, len(files))}
	for _, f := range files {
		view.names[f.ID] = f.Name
	}
	if interactive {
		view.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetDescription("Starting"),
		)
	}
	return view
}

func (v *progressView) handle(event jobs.Event) {
	switch event.Type {
	case jobs.EventTypeProgress:
		if event.Job == nil {
			return
		}
		v.progress(*event.Job, event.Estimate)
	case jobs.EventTypeFile:
		if event.FileStatus == domain.FileStatusError {
			v.note("failed " + v.fileName(event.FileID))
		}
	case jobs.EventTypeStatus:
		if event.State == domain.JobStateFailed && event.Message != "" {
			v.note(event.Message)
		}
	}
}

func (v *progressView) progress(job domain.ProcessingJob, estimate *progress.Estimate) {
	name := ""
	if job.CurrentFileIndex < len(job.Files) {
		name = job.Files[job.CurrentFileIndex].Name
	}
	label := fmt.Sprintf("[%d/%d] %s: %s", job.CurrentFileIndex+1, v.total, name, job.Stage.Label())

	if v.bar != nil {
		if estimate != nil && estimate.Known && estimate.Remaining > 0 {
			label += " (" + estimate.Remaining.Round(time.Second).String() + " left)"
		}
		v.bar.Describe(label)
		_ = v.bar.Set(int(jobs.OverallProgress(job)))
		return
	}
	if label != v.last {
		v.last = label
		fmt.Fprintln(v.out, label)
	}
}

func (v *progressView) note(message string) {
	if v.bar != nil {
		_ = v.bar.Clear()
	}
	fmt.Fprintln(v.out, message)
}

func (v *progressView) finish() {
	if v.bar != nil {
		_ = v.bar.Finish()
		fmt.Fprintln(v.out)
	}
}

func (v *progressView) fileName(id string) string {
	if name, ok := v.names[id]; ok {
		return name
	}
	return id
}

func printBatch(out io.Writer, batch domain.BatchResult) {
	if len(batch.Results) > 0 {
		rows := make([][]string, 0, len(batch.Results))
		for _, result := range batch.Results {
			rows = append(rows, []string{
				result.OriginalFile.Name,
				humanize.Bytes(uint64(max(result.OriginalFile.Size, 0))),
				formatDuration(result.Metadata.AudioInfo.Duration),
				formatDuration(result.ProcessingTime),
				result.OutputPath,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"File", "Size", "Audio", "Took", "Output"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
		))
	}

	if len(batch.Errors) > 0 {
		rows := make([][]string, 0, len(batch.Errors))
		for _, failure := range batch.Errors {
			rows = append(rows, []string{
				filepath.Base(failure.FilePath),
				strconv.Itoa(failure.Attempts),
				failure.Message,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Failed", "Attempts", "Error"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft},
		))
	}

	stats := batch.Statistics
	fmt.Fprintf(out, "%s: %d completed, %d failed, %d skipped of %d files in %s\n",
		batch.State,
		stats.CompletedFiles,
		stats.FailedFiles,
		stats.SkippedFiles,
		stats.TotalFiles,
		formatDuration(stats.TotalProcessingTime),
	)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
