package progress

import (
	"fmt"
	"math"
	"time"

	"audio-transcriber/internal/domain"
)

// Estimate is the timing view derived from one progress sample.
// Speed is expressed in percent per second.
type Estimate struct {
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
	Total     time.Duration `json:"total"`
	Speed     float64       `json:"speed"`
	// Known is false when remaining could not be derived and should be shown
	// as a placeholder instead of zero.
	Known bool `json:"known"`
}

// Compute derives elapsed, remaining, total, and speed for sample. The engine's
// real timings win over local wall-clock math; now is only consulted when the
// sample lacks a real elapsed value. Compute has no side effects.
func Compute(sample domain.ProcessingProgress, start, now time.Time) Estimate {
	var est Estimate

	switch {
	case sample.RealElapsed != nil && sample.RealRemaining != nil:
		est.Elapsed = *sample.RealElapsed
		est.Remaining = *sample.RealRemaining
		est.Known = true
	case sample.RealElapsed != nil:
		est.Elapsed = *sample.RealElapsed
		est.Remaining, est.Known = remainingFrom(sample.Progress, est.Elapsed)
	case sample.RealRemaining != nil:
		est.Elapsed = wallElapsed(start, now)
		est.Remaining = *sample.RealRemaining
		est.Known = true
	default:
		est.Elapsed = wallElapsed(start, now)
		est.Remaining, est.Known = remainingFrom(sample.Progress, est.Elapsed)
	}

	est.Speed = speed(sample.Progress, est.Elapsed)

	if sample.EstimatedTotal != nil {
		est.Total = *sample.EstimatedTotal
	} else {
		est.Total = est.Elapsed + est.Remaining
	}
	return est
}

// CompletionTime returns the projected finish time when remaining is known.
func (e Estimate) CompletionTime(at time.Time) (time.Time, bool) {
	if !e.Known {
		return time.Time{}, false
	}
	return at.Add(e.Remaining), true
}

func wallElapsed(start, now time.Time) time.Duration {
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return now.Sub(start)
}

func speed(progress float64, elapsed time.Duration) float64 {
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}
	return progress / seconds
}

// remainingFrom returns ceil((100-p)/speed) seconds. It is computed as
// (100-p)*elapsed/p so the division does not compound rounding error.
func remainingFrom(progress float64, elapsed time.Duration) (time.Duration, bool) {
	if speed(progress, elapsed) <= 0 {
		return 0, false
	}
	left := 100 - progress
	if left <= 0 {
		return 0, true
	}
	secs := math.Ceil(left * elapsed.Seconds() / progress)
	return time.Duration(secs) * time.Second, true
}

// FormatDuration renders d as mm:ss, or hh:mm:ss past one hour. Unknown
// values render as a placeholder.
func FormatDuration(d time.Duration, known bool) string {
	if !known || d < 0 {
		return "--:--"
	}
	total := int64(d.Round(time.Second) / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// FormatSpeed renders speed in percent per second.
func FormatSpeed(speed float64) string {
	if speed <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f%%/s", speed)
}
