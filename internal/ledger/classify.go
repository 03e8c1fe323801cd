package ledger

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os/exec"
	"syscall"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/transcribe"
)

// Categorized is implemented by errors that know their own category, such
// as settings validation failures.
type Categorized interface {
	error
	Category() domain.ErrorCategory
}

// Classification is the user-facing reading of an error.
type Classification struct {
	Category    domain.ErrorCategory
	Severity    domain.ErrorSeverity
	Recoverable bool
	Suggestions []string
}

var (
	fileNotFoundSuggestions = []string{
		"Check that the file path is correct",
		"Check that the file still exists",
		"Try an absolute path instead of a relative one",
		"Check the file name for special characters",
	}
	permissionSuggestions = []string{
		"Check the file permissions and grant read access",
		"Try running with administrator rights",
		"Check whether another program is using the file",
	}
	diskFullSuggestions = []string{
		"Delete unneeded files to free space",
		"Choose an output directory on another drive",
		"Clean up temporary files",
	}
	toolMissingSuggestions = []string{
		"Install ffmpeg and whisper.cpp and make sure they are on PATH",
		"Set the engine path in settings",
		"Run the doctor command to check the environment",
	}
	networkSuggestions = []string{
		"Check the internet connection",
		"Try again in a moment",
	}
	validationSuggestions = []string{
		"Review the highlighted settings",
		"Reset settings to defaults if the problem persists",
	}
	preprocessingSuggestions = []string{
		"Check that FFmpeg is installed correctly",
		"Check that the source file is not damaged",
		"Check that there is enough disk space",
		"Check that the file plays in another audio player",
	}
	modelSuggestions = []string{
		"Check that the model file exists and is readable",
		"Check that there is enough disk space",
		"Try a smaller model size (tiny, base)",
		"Check that whisper.cpp is installed correctly",
	}
	recognitionSuggestions = []string{
		"Check the audio quality",
		"Check that the recording is not too long",
		"Try a different language setting",
		"Try a larger model size (small, medium)",
	}
	savingSuggestions = []string{
		"Check that the output directory is writable",
		"Check that there is enough disk space",
	}
	processingSuggestions = []string{
		"Try again in a moment",
		"Check system resource usage",
		"Try another file",
	}
	genericSuggestions = []string{
		"Try again in a moment",
		"Check the input files and settings",
		"Check the logs for detailed error information",
		"Contact the developers if the problem persists",
	}
)

// Classify maps an error onto the error taxonomy with remediation hints.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: domain.ErrorCategorySystem, Severity: domain.SeverityLow, Recoverable: true}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{
			Category:    domain.ErrorCategoryProcessing,
			Severity:    domain.SeverityLow,
			Recoverable: true,
		}
	}

	var categorized Categorized
	if errors.As(err, &categorized) {
		c := Classification{
			Category:    categorized.Category(),
			Severity:    domain.SeverityMedium,
			Recoverable: true,
		}
		if c.Category == domain.ErrorCategoryValidation {
			c.Suggestions = clone(validationSuggestions)
		}
		return c
	}

	if errors.Is(err, syscall.ENOSPC) {
		return Classification{
			Category:    domain.ErrorCategorySystem,
			Severity:    domain.SeverityCritical,
			Recoverable: false,
			Suggestions: clone(diskFullSuggestions),
		}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return Classification{
			Category:    domain.ErrorCategoryFile,
			Severity:    domain.SeverityMedium,
			Recoverable: false,
			Suggestions: clone(fileNotFoundSuggestions),
		}
	}
	if errors.Is(err, fs.ErrPermission) {
		return Classification{
			Category:    domain.ErrorCategoryPermission,
			Severity:    domain.SeverityHigh,
			Recoverable: true,
			Suggestions: clone(permissionSuggestions),
		}
	}
	if errors.Is(err, exec.ErrNotFound) {
		return Classification{
			Category:    domain.ErrorCategorySystem,
			Severity:    domain.SeverityHigh,
			Recoverable: false,
			Suggestions: clone(toolMissingSuggestions),
		}
	}

	var engineErr *transcribe.EngineError
	if errors.As(err, &engineErr) {
		return Classification{
			Category:    domain.ErrorCategoryProcessing,
			Severity:    domain.SeverityMedium,
			Recoverable: true,
			Suggestions: clone(stageSuggestions(engineErr.Stage)),
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{
			Category:    domain.ErrorCategoryNetwork,
			Severity:    domain.SeverityMedium,
			Recoverable: true,
			Suggestions: clone(networkSuggestions),
		}
	}

	return Classification{
		Category:    domain.ErrorCategorySystem,
		Severity:    domain.SeverityHigh,
		Recoverable: true,
		Suggestions: clone(genericSuggestions),
	}
}

func stageSuggestions(stage domain.Stage) []string {
	switch stage {
	case domain.StagePreprocessing:
		return preprocessingSuggestions
	case domain.StageLoadingModel:
		return modelSuggestions
	case domain.StageTranscribing, domain.StagePostprocessing:
		return recognitionSuggestions
	case domain.StageSaving:
		return savingSuggestions
	default:
		return processingSuggestions
	}
}

func clone(in []string) []string {
	return append([]string(nil), in...)
}
