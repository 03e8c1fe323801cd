package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"audio-transcriber/internal/domain"
)

func foundEverywhere(name string) (string, error) { return "/usr/local/bin/" + name, nil }

func realChecker(lookPath func(string) (string, error)) *Checker {
	return NewCheckerForTests(lookPath, os.Stat, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove)
}

func validSettings(root string) domain.Settings {
	return domain.Settings{
		Language:          "auto",
		ModelSize:         domain.ModelSizeBase,
		ModelPath:         filepath.Join(root, "models"),
		OutputDir:         filepath.Join(root, "output"),
		Theme:             domain.ThemeSystem,
		MaxConcurrentJobs: 2,
		OutputFormat:      domain.OutputFormatTXT,
		FailurePolicy:     domain.FailurePolicySkip,
	}
}

func writeModel(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
}

// TestCheckerRunAllPass validates the happy path.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	settings := validSettings(root)
	writeModel(t, settings.ModelPath, "ggml-base.bin")

	results := realChecker(foundEverywhere).Run(settings)

	if domain.HasFailures(results) {
		t.Fatalf("expected no failures, got %+v", results)
	}
	assertStatusByID(t, results, "model_path", domain.DiagnosticStatusPass)
	assertStatusByID(t, results, "settings", domain.DiagnosticStatusPass)
	assertStatusByID(t, results, "runtime", domain.DiagnosticStatusInfo)
	for _, r := range results {
		if r.Timestamp.IsZero() {
			t.Fatalf("result %s has no timestamp", r.ID)
		}
	}
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := realChecker(func(string) (string, error) { return "", errors.New("not found") })

	results := checker.Run(domain.Settings{
		ModelPath: "/path/that/does/not/exist",
		OutputDir: "",
	})

	if !domain.HasFailures(results) {
		t.Fatal("expected failures")
	}
	assertStatusByID(t, results, "tool_ffmpeg", domain.DiagnosticStatusFail)
	assertStatusByID(t, results, "engine", domain.DiagnosticStatusFail)
	assertStatusByID(t, results, "model_path", domain.DiagnosticStatusFail)
	assertStatusByID(t, results, "output_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, results, "settings", domain.DiagnosticStatusWarning)
}

// TestCheckerEngineProbesCandidates checks the PATH fallback order.
func TestCheckerEngineProbesCandidates(t *testing.T) {
	var probed []string
	checker := realChecker(func(name string) (string, error) {
		probed = append(probed, name)
		if name == "whisper.cpp" {
			return "/opt/bin/whisper.cpp", nil
		}
		return "", errors.New("not found")
	})

	got := checker.checkEngine("")
	if got.Status != domain.DiagnosticStatusPass {
		t.Fatalf("status = %s, want pass", got.Status)
	}
	if len(probed) != 2 || probed[0] != "whisper-cli" {
		t.Fatalf("probed = %v", probed)
	}
}

// TestCheckerEngineCustomPath checks an explicitly configured binary.
func TestCheckerEngineCustomPath(t *testing.T) {
	root := t.TempDir()
	bin := filepath.Join(root, "whisper-cli")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write bin: %v", err)
	}
	checker := realChecker(foundEverywhere)

	if got := checker.checkEngine(bin); got.Status != domain.DiagnosticStatusPass {
		t.Fatalf("status = %s, want pass (%s)", got.Status, got.Message)
	}
	if got := checker.checkEngine(root); got.Status != domain.DiagnosticStatusFail {
		t.Fatalf("directory status = %s, want fail", got.Status)
	}
	if got := checker.checkEngine(filepath.Join(root, "nope")); got.Status != domain.DiagnosticStatusFail {
		t.Fatalf("missing status = %s, want fail", got.Status)
	}
}

// TestCheckerModelDirectoryWithoutPresetWarns checks the preset lookup.
func TestCheckerModelDirectoryWithoutPresetWarns(t *testing.T) {
	root := t.TempDir()
	settings := validSettings(root)
	writeModel(t, settings.ModelPath, "ggml-tiny.bin")

	got := realChecker(foundEverywhere).checkModelPath(settings.ModelPath, domain.ModelSizeBase)
	if got.Status != domain.DiagnosticStatusWarning {
		t.Fatalf("status = %s, want warning", got.Status)
	}
}

// TestCheckerRunModelDirectoryWithoutModelFilesFails validates model check.
func TestCheckerRunModelDirectoryWithoutModelFilesFails(t *testing.T) {
	root := t.TempDir()
	settings := validSettings(root)
	writeModel(t, settings.ModelPath, "README.txt")

	results := realChecker(foundEverywhere).Run(settings)

	assertStatusByID(t, results, "model_path", domain.DiagnosticStatusFail)
}

// assertStatusByID checks status for one diagnostic result by ID.
func assertStatusByID(t *testing.T, results []domain.DiagnosticResult, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range results {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
