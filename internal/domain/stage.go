package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidStage is returned for values outside the fixed pipeline.
var ErrInvalidStage = errors.New("invalid stage")

// Stage identifies one step of the fixed transcription pipeline.
type Stage string

const (
	StageInitializing   Stage = "initializing"
	StageLoadingModel   Stage = "loading_model"
	StagePreprocessing  Stage = "preprocessing"
	StageTranscribing   Stage = "transcribing"
	StagePostprocessing Stage = "postprocessing"
	StageSaving         Stage = "saving"
)

// StageInfo carries display metadata for one stage. NominalDuration is a
// display hint only.
type StageInfo struct {
	Stage           Stage         `json:"stage"`
	Label           string        `json:"label"`
	NominalDuration time.Duration `json:"nominalDuration"`
}

var pipeline = [...]StageInfo{
	{Stage: StageInitializing, Label: "Initializing", NominalDuration: 2 * time.Second},
	{Stage: StageLoadingModel, Label: "Loading Model", NominalDuration: 10 * time.Second},
	{Stage: StagePreprocessing, Label: "Preprocessing", NominalDuration: 5 * time.Second},
	{Stage: StageTranscribing, Label: "Transcribing", NominalDuration: 60 * time.Second},
	{Stage: StagePostprocessing, Label: "Postprocessing", NominalDuration: 3 * time.Second},
	{Stage: StageSaving, Label: "Saving", NominalDuration: 1 * time.Second},
}

// Stages returns the pipeline in execution order.
func Stages() []StageInfo {
	out := make([]StageInfo, len(pipeline))
	copy(out, pipeline[:])
	return out
}

// IndexOf returns the position of stage in the pipeline order.
func IndexOf(stage Stage) (int, error) {
	for i, info := range pipeline {
		if info.Stage == stage {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrInvalidStage, string(stage))
}

// ParseStage accepts the wire identifier or the display label.
func ParseStage(raw string) (Stage, error) {
	value := strings.TrimSpace(raw)
	for _, info := range pipeline {
		if string(info.Stage) == value || strings.EqualFold(info.Label, value) {
			return info.Stage, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStage, raw)
}

// Valid reports whether s belongs to the pipeline.
func (s Stage) Valid() bool {
	_, err := IndexOf(s)
	return err == nil
}

// Label returns the human-readable stage name.
func (s Stage) Label() string {
	for _, info := range pipeline {
		if info.Stage == s {
			return info.Label
		}
	}
	return string(s)
}

// NominalDuration returns the display hint for s, or zero when unknown.
func (s Stage) NominalDuration() time.Duration {
	for _, info := range pipeline {
		if info.Stage == s {
			return info.NominalDuration
		}
	}
	return 0
}

// Before reports whether s comes strictly earlier than other. Unknown stages
// never compare as earlier.
func (s Stage) Before(other Stage) bool {
	a, errA := IndexOf(s)
	b, errB := IndexOf(other)
	if errA != nil || errB != nil {
		return false
	}
	return a < b
}
