package config

import (
	"os"
	"path/filepath"
	"strings"

	"audio-transcriber/internal/domain"
)

const appDirName = ".audio-transcriber"

// AppDir returns the per-user directory holding settings, history and logs.
func AppDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, appDirName)
}

// DefaultSettingsPath is where the desktop app and CLI keep settings.
func DefaultSettingsPath() string {
	return filepath.Join(AppDir(), "settings.json")
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		Language:          "auto",
		ModelSize:         domain.ModelSizeBase,
		ModelPath:         filepath.Join(AppDir(), "models"),
		OutputDir:         filepath.Join(homeDir, "Documents", "Transcripts"),
		IncludeMetadata:   true,
		AutoSave:          true,
		Theme:             domain.ThemeSystem,
		MaxConcurrentJobs: 2,
		OutputFormat:      domain.OutputFormatTXT,
		FailurePolicy:     domain.FailurePolicySkip,
		MaxRetries:        2,
	}
}

// ExpandPath resolves a leading ~ to the user home directory.
func ExpandPath(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return homeDir
	}
	return filepath.Join(homeDir, path[2:])
}
