package domain

import (
	"fmt"
	"strings"
)

// ModelSize selects a whisper model preset.
type ModelSize string

const (
	ModelSizeTiny   ModelSize = "tiny"
	ModelSizeBase   ModelSize = "base"
	ModelSizeSmall  ModelSize = "small"
	ModelSizeMedium ModelSize = "medium"
	ModelSizeLarge  ModelSize = "large"
)

// WhisperModelOption describes one whisper.cpp model preset.
type WhisperModelOption struct {
	Size        ModelSize `json:"size"`
	Name        string    `json:"name"`
	FileName    string    `json:"fileName"`
	SizeLabel   string    `json:"sizeLabel,omitempty"`
	Description string    `json:"description,omitempty"`
	Downloaded  bool      `json:"downloaded"`
	LocalPath   string    `json:"localPath,omitempty"`
}

var whisperModels = []WhisperModelOption{
	{Size: ModelSizeTiny, Name: "Tiny", FileName: "ggml-tiny.bin", SizeLabel: "~75 MB", Description: "Fastest, lowest accuracy."},
	{Size: ModelSizeBase, Name: "Base", FileName: "ggml-base.bin", SizeLabel: "~142 MB", Description: "Balanced speed and quality."},
	{Size: ModelSizeSmall, Name: "Small", FileName: "ggml-small.bin", SizeLabel: "~466 MB", Description: "Higher quality."},
	{Size: ModelSizeMedium, Name: "Medium", FileName: "ggml-medium.bin", SizeLabel: "~1.5 GB", Description: "High quality, slower."},
	{Size: ModelSizeLarge, Name: "Large", FileName: "ggml-large-v3.bin", SizeLabel: "~3.1 GB", Description: "Best quality, slowest."},
}

// WhisperModels returns the known model presets, smallest first.
func WhisperModels() []WhisperModelOption {
	out := make([]WhisperModelOption, len(whisperModels))
	copy(out, whisperModels)
	return out
}

// LookupModel returns the preset for size.
func LookupModel(size ModelSize) (WhisperModelOption, error) {
	want := ModelSize(strings.ToLower(strings.TrimSpace(string(size))))
	for _, model := range whisperModels {
		if model.Size == want {
			return model, nil
		}
	}
	return WhisperModelOption{}, fmt.Errorf("unknown model size %q", string(size))
}
