package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"audio-transcriber/internal/domain"
)

func fixedParser() *Parser {
	return &Parser{
		JobID:       "job-1",
		CurrentFile: "memo.m4a",
		Now:         func() time.Time { return start },
	}
}

// TestParserSegmentTimestamps checks whisper segment lines.
func TestParserSegmentTimestamps(t *testing.T) {
	p := fixedParser()

	got, ok := p.Parse("[00:00.000 --> 01:30.000]  hello there")
	require.True(t, ok)
	require.Equal(t, domain.StageTranscribing, got.Stage)
	require.InDelta(t, 30.0, got.Progress, 1e-9)
	require.Equal(t, "job-1", got.JobID)
	require.Equal(t, "memo.m4a", got.CurrentFile)
	require.Equal(t, start, got.Timestamp)

	got, ok = p.Parse("[04:50.000 --> 05:00.000] end")
	require.True(t, ok)
	require.Equal(t, 90.0, got.Progress)
}

// TestParserSegmentUsesAudioDuration checks scaling by known duration.
func TestParserSegmentUsesAudioDuration(t *testing.T) {
	p := fixedParser()
	p.AudioDuration = time.Minute

	got, ok := p.Parse("[00:00.000 --> 00:15.000] hi")
	require.True(t, ok)
	require.InDelta(t, 25.0, got.Progress, 1e-9)
}

// TestParserSegmentWithHours checks the hh:mm:ss.mmm form whisper.cpp prints.
func TestParserSegmentWithHours(t *testing.T) {
	p := fixedParser()
	p.AudioDuration = 2 * time.Hour

	got, ok := p.Parse("[00:59:00.000 --> 01:00:00.000]   and then")
	require.True(t, ok)
	require.InDelta(t, 50.0, got.Progress, 1e-9)
}

// TestParserTqdmAndBatchLines checks bar and batch formats.
func TestParserTqdmAndBatchLines(t *testing.T) {
	p := fixedParser()

	got, ok := p.Parse("96%|█████████▌| 213478/222478 [03:06<00:07, 1146.02frames/s]")
	require.True(t, ok)
	require.Equal(t, 96.0, got.Progress)

	got, ok = p.Parse("[2/3] (40.5%) Processing: b.m4a")
	require.True(t, ok)
	require.Equal(t, 40.5, got.Progress)
	require.NotNil(t, got.FileIndex)
	require.Equal(t, 1, *got.FileIndex)
	require.Equal(t, 3, *got.TotalFiles)
}

// TestParserKeywords checks model loading and plain percentage lines.
func TestParserKeywords(t *testing.T) {
	p := fixedParser()

	got, ok := p.Parse("Loading Whisper model base")
	require.True(t, ok)
	require.Equal(t, domain.StageLoadingModel, got.Stage)

	got, ok = p.Parse("Transcribing chunk")
	require.True(t, ok)
	require.Equal(t, 25.0, got.Progress)

	got, ok = p.Parse("progress 12%")
	require.True(t, ok)
	require.Equal(t, 12.0, got.Progress)

	_, ok = p.Parse("whisper_init_from_file: done")
	require.False(t, ok)
	_, ok = p.Parse("   ")
	require.False(t, ok)
}

// TestParserStructuredLine checks JSON lines carrying real timings.
func TestParserStructuredLine(t *testing.T) {
	p := fixedParser()

	got, ok := p.Parse(`{"stage":"postprocessing","progress":80,"elapsed":40,"remaining":10,"can_cancel":false}`)
	require.True(t, ok)
	require.Equal(t, domain.StagePostprocessing, got.Stage)
	require.Equal(t, 40*time.Second, *got.RealElapsed)
	require.Equal(t, 10*time.Second, *got.RealRemaining)
	require.Nil(t, got.EstimatedTotal)
	require.False(t, got.CanCancel)

	_, ok = p.Parse(`{"stage":"exporting","progress":1}`)
	require.False(t, ok)
	_, ok = p.Parse(`{broken`)
	require.False(t, ok)
}

// TestSamplerBuckets checks stage change and bucket crossing.
func TestSamplerBuckets(t *testing.T) {
	s := NewSampler(10)

	require.True(t, s.ShouldLog(domain.StageTranscribing, 1))
	require.False(t, s.ShouldLog(domain.StageTranscribing, 5))
	require.True(t, s.ShouldLog(domain.StageTranscribing, 12))
	require.False(t, s.ShouldLog(domain.StageTranscribing, 11))
	require.True(t, s.ShouldLog(domain.StageSaving, 11))
	require.False(t, s.ShouldLog("", -1))

	s.Reset()
	require.True(t, s.ShouldLog(domain.StageSaving, 11))
}
