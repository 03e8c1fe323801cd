package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"audio-transcriber/internal/domain"
)

func dur(d time.Duration) *time.Duration { return &d }

var start = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

// TestComputeUsesRealValuesVerbatim checks the authoritative branch.
func TestComputeUsesRealValuesVerbatim(t *testing.T) {
	cases := []struct {
		progress  float64
		elapsed   time.Duration
		remaining time.Duration
	}{
		{progress: 10, elapsed: 7 * time.Second, remaining: 93 * time.Second},
		{progress: 99, elapsed: 0, remaining: 4 * time.Second},
		{progress: 0, elapsed: 12 * time.Second, remaining: 0},
	}

	for _, tc := range cases {
		sample := domain.ProcessingProgress{
			Stage:         domain.StageTranscribing,
			Progress:      tc.progress,
			Timestamp:     start.Add(time.Hour),
			RealElapsed:   dur(tc.elapsed),
			RealRemaining: dur(tc.remaining),
		}
		got := Compute(sample, start, start.Add(time.Hour))
		require.Equal(t, tc.elapsed, got.Elapsed)
		require.Equal(t, tc.remaining, got.Remaining)
		require.Equal(t, tc.elapsed+tc.remaining, got.Total)
		require.True(t, got.Known)
	}
}

// TestComputeZeroElapsedIsUnknown checks the divide-by-zero guard.
func TestComputeZeroElapsedIsUnknown(t *testing.T) {
	sample := domain.ProcessingProgress{Stage: domain.StageInitializing, Progress: 40}

	got := Compute(sample, start, start)
	require.Zero(t, got.Speed)
	require.Zero(t, got.Remaining)
	require.False(t, got.Known)

	sample.RealElapsed = dur(0)
	got = Compute(sample, start, start.Add(time.Minute))
	require.Zero(t, got.Speed)
	require.Zero(t, got.Remaining)
	require.False(t, got.Known)
}

// TestComputeWallClockScenario checks 50% after 30 seconds.
func TestComputeWallClockScenario(t *testing.T) {
	sample := domain.ProcessingProgress{
		Stage:     domain.StageTranscribing,
		Progress:  50,
		Timestamp: start.Add(30 * time.Second),
	}

	got := Compute(sample, start, sample.Timestamp)
	require.Equal(t, 30*time.Second, got.Elapsed)
	require.InDelta(t, 1.67, got.Speed, 0.01)
	require.Equal(t, 30*time.Second, got.Remaining)
	require.Equal(t, 60*time.Second, got.Total)
	require.True(t, got.Known)
}

// TestComputeOnlyRealElapsed checks remaining derived from engine elapsed.
func TestComputeOnlyRealElapsed(t *testing.T) {
	sample := domain.ProcessingProgress{
		Progress:    25,
		RealElapsed: dur(10 * time.Second),
	}

	got := Compute(sample, start, start.Add(time.Hour))
	require.Equal(t, 10*time.Second, got.Elapsed)
	require.Equal(t, 30*time.Second, got.Remaining)
	require.InDelta(t, 2.5, got.Speed, 1e-9)
}

// TestComputeOnlyRealRemaining checks wall-clock elapsed with engine remaining.
func TestComputeOnlyRealRemaining(t *testing.T) {
	sample := domain.ProcessingProgress{
		Progress:      20,
		RealRemaining: dur(45 * time.Second),
	}

	got := Compute(sample, start, start.Add(20*time.Second))
	require.Equal(t, 20*time.Second, got.Elapsed)
	require.Equal(t, 45*time.Second, got.Remaining)
	require.InDelta(t, 1.0, got.Speed, 1e-9)
	require.Equal(t, 65*time.Second, got.Total)
}

// TestComputeCallerTotalWins checks the estimated total override.
func TestComputeCallerTotalWins(t *testing.T) {
	sample := domain.ProcessingProgress{
		Progress:       50,
		EstimatedTotal: dur(2 * time.Minute),
	}

	got := Compute(sample, start, start.Add(30*time.Second))
	require.Equal(t, 2*time.Minute, got.Total)
}

// TestComputeIsIdempotent checks identical inputs yield identical output.
func TestComputeIsIdempotent(t *testing.T) {
	sample := domain.ProcessingProgress{Progress: 33.3, Timestamp: start.Add(17 * time.Second)}
	now := start.Add(17 * time.Second)

	require.Equal(t, Compute(sample, start, now), Compute(sample, start, now))
}

// TestComputeClockBeforeStart treats skewed clocks as zero elapsed.
func TestComputeClockBeforeStart(t *testing.T) {
	got := Compute(domain.ProcessingProgress{Progress: 10}, start, start.Add(-time.Second))
	require.Zero(t, got.Elapsed)
	require.False(t, got.Known)
}

// TestFormatDuration checks display formatting and the placeholder.
func TestFormatDuration(t *testing.T) {
	require.Equal(t, "--:--", FormatDuration(0, false))
	require.Equal(t, "00:30", FormatDuration(30*time.Second, true))
	require.Equal(t, "01:05", FormatDuration(65*time.Second, true))
	require.Equal(t, "1:00:01", FormatDuration(time.Hour+time.Second, true))
	require.Equal(t, "-", FormatSpeed(0))
	require.Equal(t, "1.67%/s", FormatSpeed(50.0/30.0))
}
