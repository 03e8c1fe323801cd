package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestStagesOrder verifies the fixed pipeline order.
func TestStagesOrder(t *testing.T) {
	want := []Stage{
		StageInitializing,
		StageLoadingModel,
		StagePreprocessing,
		StageTranscribing,
		StagePostprocessing,
		StageSaving,
	}

	stages := Stages()
	require.Len(t, stages, len(want))
	for i, info := range stages {
		require.Equal(t, want[i], info.Stage)
		require.NotEmpty(t, info.Label)
		require.Positive(t, info.NominalDuration)

		idx, err := IndexOf(info.Stage)
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
}

// TestStagesReturnsCopy checks callers cannot reorder the pipeline.
func TestStagesReturnsCopy(t *testing.T) {
	stages := Stages()
	stages[0], stages[5] = stages[5], stages[0]

	idx, err := IndexOf(StageInitializing)
	require.NoError(t, err)
	require.Equal(t, 0, idx)
}

// TestIndexOfInvalidStage checks the not-found condition.
func TestIndexOfInvalidStage(t *testing.T) {
	idx, err := IndexOf(Stage("finalizing"))
	require.Equal(t, -1, idx)
	require.True(t, errors.Is(err, ErrInvalidStage))
	require.False(t, Stage("").Valid())
}

// TestParseStageAcceptsLabels checks identifier and label parsing.
func TestParseStageAcceptsLabels(t *testing.T) {
	got, err := ParseStage("loading_model")
	require.NoError(t, err)
	require.Equal(t, StageLoadingModel, got)

	got, err = ParseStage("Loading Model")
	require.NoError(t, err)
	require.Equal(t, StageLoadingModel, got)

	_, err = ParseStage("exporting")
	require.ErrorIs(t, err, ErrInvalidStage)
}

// TestStageBefore checks ordering helper including unknown stages.
func TestStageBefore(t *testing.T) {
	require.True(t, StagePreprocessing.Before(StageTranscribing))
	require.False(t, StageSaving.Before(StageTranscribing))
	require.False(t, StageSaving.Before(StageSaving))
	require.False(t, Stage("bogus").Before(StageSaving))
	require.Equal(t, "Loading Model", StageLoadingModel.Label())
}

// TestLookupModel checks model preset resolution.
func TestLookupModel(t *testing.T) {
	model, err := LookupModel(" Base ")
	require.NoError(t, err)
	require.Equal(t, "ggml-base.bin", model.FileName)

	_, err = LookupModel("huge")
	require.Error(t, err)
	require.Len(t, WhisperModels(), 5)
}
