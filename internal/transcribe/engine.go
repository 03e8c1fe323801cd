package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/progress"
)

// Request describes one file to transcribe and the callbacks to report on.
type Request struct {
	JobID      string
	File       domain.AudioFile
	Settings   domain.Settings
	FileIndex  int
	TotalFiles int
	OnProgress func(sample domain.ProcessingProgress)
	OnLog      func(log CommandLog)
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// EngineError is a stage-aware failure of the external engine.
type EngineError struct {
	Stage   domain.Stage `json:"stage"`
	Message string       `json:"message"`
	Command string       `json:"command,omitempty"`
	Code    int          `json:"code"`
	Stderr  string       `json:"stderr,omitempty"`
	Err     error        `json:"-"`
}

// Error formats engine failures for logs and UI.
func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Stage, e.Message, e.Command, e.Code)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

const (
	defaultFFmpegPath  = "ffmpeg"
	defaultWhisperPath = "whisper-cli"

	// Transcribing samples from the engine are folded into this band of the
	// per-file percentage.
	transcribeBandStart = 20.0
	transcribeBandEnd   = 85.0
)

// CLIEngine runs ffmpeg preprocessing and whisper.cpp transcription as
// subprocesses and streams their output through a progress parser.
type CLIEngine struct {
	ffmpegPath  string
	whisperPath string
	runner      commandRunner
	logger      *slog.Logger
	now         func() time.Time
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	mkdirAll    func(path string, perm os.FileMode) error
	readDir     func(name string) ([]os.DirEntry, error)
	readFile    func(name string) ([]byte, error)
	writeFile   func(name string, data []byte, perm os.FileMode) error
}

// NewCLIEngine constructs the production engine with OS dependencies.
func NewCLIEngine(ffmpegPath string, logger *slog.Logger) *CLIEngine {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = defaultFFmpegPath
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CLIEngine{
		ffmpegPath:  ffmpegPath,
		whisperPath: defaultWhisperPath,
		runner:      &execRunner{},
		logger:      logger.With("component", "engine"),
		now:         time.Now,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		mkdirAll:    os.MkdirAll,
		readDir:     os.ReadDir,
		readFile:    os.ReadFile,
		writeFile:   os.WriteFile,
	}
}

// NewCLIEngineForTests constructs an engine with injectable dependencies.
func NewCLIEngineForTests(
	ffmpegPath string,
	whisperPath string,
	runner commandRunner,
	now func() time.Time,
	removeAll func(path string) error,
) *CLIEngine {
	e := NewCLIEngine(ffmpegPath, nil)
	e.whisperPath = whisperPath
	e.runner = runner
	if now != nil {
		e.now = now
	}
	if removeAll != nil {
		e.removeAll = removeAll
	}
	return e
}

// Transcribe converts req.File to 16 kHz mono audio, runs whisper.cpp on it,
// and writes the transcript in the configured output format.
func (e *CLIEngine) Transcribe(ctx context.Context, req Request) (domain.TranscriptionResult, error) {
	started := e.now()
	file := req.File
	settings := req.Settings
	report := e.reporter(req)

	report(domain.StageInitializing, 0, true, "Preparing "+displayName(file))
	if strings.TrimSpace(file.Path) == "" {
		return domain.TranscriptionResult{}, &EngineError{
			Stage:   domain.StageInitializing,
			Message: "input audio path is required",
		}
	}
	if _, err := e.stat(file.Path); err != nil {
		return domain.TranscriptionResult{}, &EngineError{
			Stage:   domain.StageInitializing,
			Message: fmt.Sprintf("cannot access input audio: %s", file.Path),
			Err:     err,
		}
	}

	report(domain.StageLoadingModel, 5, true, "Locating model")
	modelPath, err := e.resolveModelPath(settings.ModelPath, settings.ModelSize)
	if err != nil {
		return domain.TranscriptionResult{}, &EngineError{
			Stage:   domain.StageLoadingModel,
			Message: err.Error(),
			Err:     err,
		}
	}

	outputDir := strings.TrimSpace(settings.OutputDir)
	if outputDir == "" {
		return domain.TranscriptionResult{}, &EngineError{
			Stage:   domain.StageSaving,
			Message: "output directory is required",
		}
	}
	if err := e.mkdirAll(outputDir, 0o755); err != nil {
		return domain.TranscriptionResult{}, &EngineError{
			Stage:   domain.StageSaving,
			Message: fmt.Sprintf("cannot create output directory: %s", outputDir),
			Err:     err,
		}
	}

	tempDir, err := e.mkdirTemp("", "audio-transcriber-*")
	if err != nil {
		return domain.TranscriptionResult{}, &EngineError{
			Stage:   domain.StagePreprocessing,
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}
	defer func() {
		if err := e.removeAll(tempDir); err != nil {
			e.logger.Warn("remove temp dir", "path", tempDir, "error", err)
		}
	}()

	report(domain.StagePreprocessing, 10, true, "Converting audio")
	wavPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
	ffmpegArgs := buildFFmpegArgs(file.Path, wavPath)
	if _, err := e.run(ctx, req, domain.StagePreprocessing, "ffmpeg audio conversion failed", e.ffmpegPath, ffmpegArgs, nil); err != nil {
		return domain.TranscriptionResult{}, err
	}
	if _, err := e.stat(wavPath); err != nil {
		return domain.TranscriptionResult{}, &EngineError{
			Stage:   domain.StagePreprocessing,
			Message: "ffmpeg completed but output file is missing",
			Command: e.ffmpegPath,
			Err:     err,
		}
	}

	report(domain.StageTranscribing, transcribeBandStart, true, "Transcribing audio")
	whisperPath := e.whisperPath
	if custom := strings.TrimSpace(settings.EnginePath); custom != "" {
		whisperPath = custom
	}
	outBase := filepath.Join(tempDir, "transcript")
	whisperArgs := buildWhisperArgs(modelPath, wavPath, outBase, settings.Language)
	parser := &progress.Parser{
		JobID:         req.JobID,
		CurrentFile:   file.Name,
		AudioDuration: file.Duration,
		Now:           e.now,
	}
	onLine := func(line string) {
		sample, ok := parser.Parse(line)
		if !ok || req.OnProgress == nil {
			return
		}
		if sample.Stage == domain.StageTranscribing {
			sample.Progress = transcribeBandStart + sample.Progress*(transcribeBandEnd-transcribeBandStart)/100
		}
		req.OnProgress(sample)
	}
	whisperLog, err := e.run(ctx, req, domain.StageTranscribing, "whisper.cpp transcription failed", whisperPath, whisperArgs, onLine)
	if err != nil {
		return domain.TranscriptionResult{}, err
	}

	report(domain.StagePostprocessing, 88, true, "Reading transcript")
	text, err := e.readFile(outBase + ".txt")
	if err != nil {
		return domain.TranscriptionResult{}, &EngineError{
			Stage:   domain.StagePostprocessing,
			Message: "whisper.cpp completed but transcript .txt file is missing",
			Command: whisperPath,
			Code:    whisperLog.ExitCode,
			Stderr:  whisperLog.Stderr,
			Err:     err,
		}
	}
	language := normalizeLanguage(settings.Language)
	var segments []domain.Segment
	if raw, err := e.readFile(outBase + ".json"); err == nil {
		parsed, detected, perr := parseWhisperJSON(raw)
		if perr != nil {
			e.logger.Warn("parse whisper json", "file", file.Name, "error", perr)
		} else {
			segments = parsed
			if language == "" {
				language = detected
			}
		}
	}
	if language == "" {
		language = "auto"
	}

	duration := file.Duration
	if duration <= 0 && len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}
	result := domain.TranscriptionResult{
		ID:           uuid.NewString(),
		JobID:        req.JobID,
		OriginalFile: file,
		Text:         strings.TrimSpace(string(text)),
		Segments:     segments,
		Metadata: domain.TranscriptionMetadata{
			Language:  language,
			ModelSize: settings.ModelSize,
			Timestamp: e.now().UTC(),
			AudioInfo: domain.AudioInfo{
				Duration:   duration,
				SampleRate: 16000,
				Channels:   1,
			},
		},
	}

	report(domain.StageSaving, 92, false, "Saving transcript")
	format := settings.OutputFormat
	if format == "" {
		format = domain.OutputFormatTXT
	}
	outPath := filepath.Join(outputDir, OutputFileName(file.Path, format))
	data, err := Render(result, format, settings.IncludeMetadata)
	if err != nil {
		return domain.TranscriptionResult{}, &EngineError{
			Stage:   domain.StageSaving,
			Message: "failed to render transcript",
			Err:     err,
		}
	}
	if err := e.writeFile(outPath, data, 0o644); err != nil {
		return domain.TranscriptionResult{}, &EngineError{
			Stage:   domain.StageSaving,
			Message: fmt.Sprintf("failed to write transcript file: %s", outPath),
			Err:     err,
		}
	}
	result.OutputPath = outPath
	result.ProcessingTime = e.now().Sub(started)

	report(domain.StageSaving, 100, false, "Saved "+filepath.Base(outPath))
	e.logger.Info("transcription finished",
		"file", file.Name,
		"output", outPath,
		"segments", len(segments),
		"duration", result.ProcessingTime,
	)
	return result, nil
}

// run executes one command, forwards its log, and maps failures to
// EngineError. Context cancellation is reported with the context error.
func (e *CLIEngine) run(
	ctx context.Context,
	req Request,
	stage domain.Stage,
	failMessage string,
	name string,
	args []string,
	onLine func(string),
) (CommandLog, error) {
	res, runErr := e.runner.Run(ctx, name, args, onLine)
	log := CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if req.OnLog != nil {
		req.OnLog(log)
	}
	if runErr == nil {
		return log, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return log, &EngineError{
			Stage:   stage,
			Message: "cancelled",
			Command: name,
			Code:    res.ExitCode,
			Err:     ctxErr,
		}
	}
	return log, &EngineError{
		Stage:   stage,
		Message: failMessage,
		Command: name,
		Code:    res.ExitCode,
		Stderr:  res.Stderr,
		Err:     runErr,
	}
}

func (e *CLIEngine) reporter(req Request) func(stage domain.Stage, pct float64, canCancel bool, message string) {
	return func(stage domain.Stage, pct float64, canCancel bool, message string) {
		if req.OnProgress == nil {
			return
		}
		req.OnProgress(domain.ProcessingProgress{
			JobID:       req.JobID,
			Stage:       stage,
			Progress:    pct,
			Timestamp:   e.now().UTC(),
			CurrentFile: req.File.Name,
			CanCancel:   canCancel,
			Message:     message,
		})
	}
}

// resolveModelPath returns the model file from a file or directory path. In a
// directory the preset file for size wins, then the first .bin/.gguf by name.
func (e *CLIEngine) resolveModelPath(rawPath string, size domain.ModelSize) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", errors.New("model path is required")
	}

	info, err := e.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := e.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	preferred := ""
	if preset, err := domain.LookupModel(size); err == nil {
		preferred = preset.FileName
	}
	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if entry.Name() == preferred {
			return filepath.Join(modelPath, entry.Name()), nil
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

func displayName(file domain.AudioFile) string {
	if file.Name != "" {
		return file.Name
	}
	return filepath.Base(file.Path)
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args for txt and json export with
// progress printing enabled.
func buildWhisperArgs(modelPath, audioPath, outBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-otxt",
		"-oj",
		"-pp",
	}

	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}

	return args
}
