package config

import (
	"errors"
	"path/filepath"
	"testing"

	"audio-transcriber/internal/domain"
)

// TestValidateAcceptsCustomSettings checks a fully valid configuration.
func TestValidateAcceptsCustomSettings(t *testing.T) {
	if err := Validate(customSettings(t.TempDir())); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

// TestValidateCollectsEveryProblem checks one pass reports all fields.
func TestValidateCollectsEveryProblem(t *testing.T) {
	s := customSettings(t.TempDir())
	s.Language = "x"
	s.ModelSize = "huge"
	s.OutputDir = "relative/out"
	s.OutputFormat = "docx"
	s.FailurePolicy = "panic"
	s.MaxConcurrentJobs = 0

	err := Validate(s)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	fields := map[string]bool{}
	for _, p := range verr.Problems {
		fields[p.Field] = true
	}
	for _, want := range []string{"language", "modelSize", "outputDir", "outputFormat", "failurePolicy", "maxConcurrentJobs"} {
		if !fields[want] {
			t.Fatalf("missing problem for %s in %+v", want, verr.Problems)
		}
	}
	if verr.Category() != domain.ErrorCategoryValidation {
		t.Fatalf("category = %s, want validation", verr.Category())
	}
}

// TestValidateLanguage checks accepted and rejected language codes.
func TestValidateLanguage(t *testing.T) {
	for _, ok := range []string{"auto", "AUTO", "en", "ko", "zh-CN"} {
		if err := ValidateLanguage(ok); err != nil {
			t.Fatalf("ValidateLanguage(%q) error = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "x", "12", "not a language"} {
		if err := ValidateLanguage(bad); err == nil {
			t.Fatalf("ValidateLanguage(%q) should fail", bad)
		}
	}
}

// TestNormalizeFillsDefaults checks trimming and default filling.
func TestNormalizeFillsDefaults(t *testing.T) {
	got := Normalize(domain.Settings{
		Language:     "  ",
		ModelSize:    " Small ",
		ModelPath:    " /models ",
		OutputFormat: "SRT",
	})
	if got.Language != "auto" {
		t.Fatalf("language = %q, want auto", got.Language)
	}
	if got.ModelSize != domain.ModelSizeSmall {
		t.Fatalf("model size = %q, want small", got.ModelSize)
	}
	if got.ModelPath != "/models" {
		t.Fatalf("model path = %q", got.ModelPath)
	}
	if got.OutputFormat != domain.OutputFormatSRT {
		t.Fatalf("output format = %q", got.OutputFormat)
	}
	if got.FailurePolicy != domain.FailurePolicySkip || got.MaxConcurrentJobs != 2 || got.Theme != domain.ThemeSystem {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

// TestExpandPath checks home directory expansion.
func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := ExpandPath("~/Documents"); got != filepath.Join("/home/tester", "Documents") {
		t.Fatalf("ExpandPath() = %q", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Fatalf("ExpandPath(/abs) = %q", got)
	}
}
