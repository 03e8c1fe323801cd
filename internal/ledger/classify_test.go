package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/transcribe"
)

type settingsProblem struct{}

func (settingsProblem) Error() string                  { return "language: unknown" }
func (settingsProblem) Category() domain.ErrorCategory { return domain.ErrorCategoryValidation }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		category    domain.ErrorCategory
		severity    domain.ErrorSeverity
		recoverable bool
	}{
		{"cancel", fmt.Errorf("stop: %w", context.Canceled), domain.ErrorCategoryProcessing, domain.SeverityLow, true},
		{"validation", fmt.Errorf("save: %w", settingsProblem{}), domain.ErrorCategoryValidation, domain.SeverityMedium, true},
		{"disk full", &fs.PathError{Op: "write", Path: "/out", Err: syscall.ENOSPC}, domain.ErrorCategorySystem, domain.SeverityCritical, false},
		{"missing", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, domain.ErrorCategoryFile, domain.SeverityMedium, false},
		{"permission", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, domain.ErrorCategoryPermission, domain.SeverityHigh, true},
		{"tool missing", &exec.Error{Name: "ffmpeg", Err: exec.ErrNotFound}, domain.ErrorCategorySystem, domain.SeverityHigh, false},
		{"engine", &transcribe.EngineError{Stage: domain.StageTranscribing, Message: "failed", Err: errors.New("exit 1")}, domain.ErrorCategoryProcessing, domain.SeverityMedium, true},
		{"network", timeoutErr{}, domain.ErrorCategoryNetwork, domain.SeverityMedium, true},
		{"other", errors.New("weird"), domain.ErrorCategorySystem, domain.SeverityHigh, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			require.Equal(t, tc.category, got.Category)
			require.Equal(t, tc.severity, got.Severity)
			require.Equal(t, tc.recoverable, got.Recoverable)
		})
	}
}

func TestClassifyEngineStageSuggestions(t *testing.T) {
	got := Classify(&transcribe.EngineError{Stage: domain.StagePreprocessing, Message: "ffmpeg"})
	require.Contains(t, got.Suggestions, "Check that FFmpeg is installed correctly")

	got.Suggestions[0] = "mutated"
	again := Classify(&transcribe.EngineError{Stage: domain.StagePreprocessing, Message: "ffmpeg"})
	require.NotEqual(t, "mutated", again.Suggestions[0])
}
