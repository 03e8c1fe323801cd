package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"audio-transcriber/internal/domain"
)

// SupportedFormats lists accepted audio extensions without the dot.
var SupportedFormats = []string{"m4a", "wav", "mp3", "aac", "flac", "ogg", "webm", "mp4"}

// ErrUnsupportedFormat is returned for files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// estimatedOutputPerFile is the rough transcript size used before processing.
const estimatedOutputPerFile = 1024

// FileValidationError explains why one path was rejected.
type FileValidationError struct {
	FilePath string `json:"filePath"`
	Message  string `json:"message"`
	Err      error  `json:"-"`
}

// BatchValidation is the outcome of checking a set of paths before a run.
type BatchValidation struct {
	ValidFiles          []domain.AudioFile    `json:"validFiles"`
	InvalidFiles        []FileValidationError `json:"invalidFiles"`
	TotalSize           int64                 `json:"totalSize"`
	EstimatedOutputSize int64                 `json:"estimatedOutputSize"`
	CanProceed          bool                  `json:"canProceed"`
	Warnings            []string              `json:"warnings"`
}

// IsSupportedFormat reports whether ext (with or without dot) is accepted.
func IsSupportedFormat(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	return slices.Contains(SupportedFormats, ext)
}

// NewAudioFile stats path and returns a pending AudioFile for it.
func NewAudioFile(path string) (domain.AudioFile, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return domain.AudioFile{}, errors.New("file path is empty")
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(trimmed), "."))
	if !IsSupportedFormat(ext) {
		if ext == "" {
			return domain.AudioFile{}, fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, filepath.Base(trimmed))
		}
		return domain.AudioFile{}, fmt.Errorf("%w: .%s (supported: %s)", ErrUnsupportedFormat, ext, strings.Join(SupportedFormats, ", "))
	}

	info, err := os.Stat(trimmed)
	if err != nil {
		return domain.AudioFile{}, fmt.Errorf("inspect %s: %w", trimmed, err)
	}
	if info.IsDir() {
		return domain.AudioFile{}, fmt.Errorf("%s is a directory", trimmed)
	}
	if info.Size() == 0 {
		return domain.AudioFile{}, fmt.Errorf("%s is empty", trimmed)
	}

	return domain.AudioFile{
		ID:     uuid.NewString(),
		Name:   filepath.Base(trimmed),
		Path:   trimmed,
		Size:   info.Size(),
		Format: ext,
		Status: domain.FileStatusPending,
	}, nil
}

// ValidateBatch checks every path and the output directory. CanProceed is
// false when no file is valid or the output directory is unusable.
func ValidateBatch(paths []string, outputDir string) BatchValidation {
	out := BatchValidation{CanProceed: true}

	if err := checkOutputDir(outputDir); err != nil {
		out.CanProceed = false
		out.Warnings = append(out.Warnings, fmt.Sprintf("Output directory issue: %v", err))
	}

	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		key := filepath.Clean(strings.TrimSpace(path))
		if _, dup := seen[key]; dup {
			out.Warnings = append(out.Warnings, fmt.Sprintf("Duplicate file ignored: %s", path))
			continue
		}
		seen[key] = struct{}{}

		file, err := NewAudioFile(path)
		if err != nil {
			out.InvalidFiles = append(out.InvalidFiles, FileValidationError{
				FilePath: path,
				Message:  err.Error(),
				Err:      err,
			})
			continue
		}
		out.TotalSize += file.Size
		out.ValidFiles = append(out.ValidFiles, file)
	}

	out.EstimatedOutputSize = int64(len(out.ValidFiles)) * estimatedOutputPerFile
	if len(out.ValidFiles) == 0 {
		out.CanProceed = false
		out.Warnings = append(out.Warnings, "No valid audio files found")
	}
	return out
}

func checkOutputDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return errors.New("output directory is not set")
	}
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return fmt.Errorf("create %s: %w", dir, mkErr)
		}
	} else if err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	probe, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s", dir)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}
