package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"audio-transcriber/internal/domain"
)

// fakeRunner simulates command execution order and outcomes.
type fakeRunner struct {
	run func(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args, onLine)
}

var engineNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return engineNow }

type engineFixture struct {
	root      string
	file      domain.AudioFile
	modelPath string
	outputDir string
}

func newEngineFixture(t *testing.T, name string) engineFixture {
	t.Helper()
	root := t.TempDir()
	f := engineFixture{
		root:      root,
		modelPath: filepath.Join(root, "ggml-base.bin"),
		outputDir: filepath.Join(root, "output"),
	}
	inputPath := filepath.Join(root, name)
	mustWriteFile(t, inputPath, "audio")
	mustWriteFile(t, f.modelPath, "model")
	f.file = domain.AudioFile{ID: "f1", Name: name, Path: inputPath, Status: domain.FileStatusProcessing}
	return f
}

func (f engineFixture) request(settings domain.Settings) Request {
	if settings.ModelPath == "" {
		settings.ModelPath = f.modelPath
	}
	if settings.OutputDir == "" {
		settings.OutputDir = f.outputDir
	}
	return Request{JobID: "job-1", File: f.file, Settings: settings, TotalFiles: 1}
}

// successRunner writes the artifacts ffmpeg and whisper.cpp would produce.
func successRunner(t *testing.T, whisperLines []string, whisperJSON string) *fakeRunner {
	return &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
			if name == "ffmpeg" {
				mustWriteFile(t, args[len(args)-1], "wav")
				return commandResult{}, nil
			}
			for _, line := range whisperLines {
				if onLine != nil {
					onLine(line)
				}
			}
			base := argValue(args, "-of")
			mustWriteFile(t, base+".txt", " hello world \n")
			if whisperJSON != "" {
				mustWriteFile(t, base+".json", whisperJSON)
			}
			return commandResult{Stdout: "whisper ok"}, nil
		},
	}
}

// TestCLIEngineTranscribeSuccess checks the full happy path and output naming.
func TestCLIEngineTranscribeSuccess(t *testing.T) {
	f := newEngineFixture(t, "memo.m4a")
	runner := successRunner(t, []string{
		"whisper_init_from_file: loading model",
		"[00:00:00.000 --> 00:00:04.000]   hello",
		"whisper_print_progress_callback: progress =  50%",
	}, `{"result":{"language":"en"},"transcription":[{"offsets":{"from":0,"to":4000},"text":" hello"},{"offsets":{"from":4000,"to":6500},"text":" world"}]}`)

	var mu sync.Mutex
	var samples []domain.ProcessingProgress
	req := f.request(domain.Settings{ModelSize: domain.ModelSizeBase, Language: "auto", IncludeMetadata: true})
	req.OnProgress = func(s domain.ProcessingProgress) {
		mu.Lock()
		defer mu.Unlock()
		samples = append(samples, s)
	}
	var logs []CommandLog
	req.OnLog = func(l CommandLog) { logs = append(logs, l) }

	engine := NewCLIEngineForTests("ffmpeg", "whisper-cli", runner, fixedNow, nil)
	result, err := engine.Transcribe(context.Background(), req)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}

	wantPath := filepath.Join(f.outputDir, "memo_transcription.txt")
	if result.OutputPath != wantPath {
		t.Fatalf("output path = %q, want %q", result.OutputPath, wantPath)
	}
	if result.Text != "hello world" {
		t.Fatalf("text = %q", result.Text)
	}
	if len(result.Segments) != 2 || result.Segments[1].End != 6500*time.Millisecond {
		t.Fatalf("segments = %+v", result.Segments)
	}
	if result.Metadata.Language != "en" {
		t.Fatalf("language = %q, want en", result.Metadata.Language)
	}
	if result.Metadata.AudioInfo.Duration != 6500*time.Millisecond {
		t.Fatalf("duration = %v", result.Metadata.AudioInfo.Duration)
	}
	if len(logs) != 2 || logs[0].Command != "ffmpeg" || logs[1].Command != "whisper-cli" {
		t.Fatalf("logs = %+v", logs)
	}

	content, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(content), "# Language: en") || !strings.HasSuffix(string(content), "hello world\n") {
		t.Fatalf("output content = %q", content)
	}

	if len(samples) == 0 || samples[0].Stage != domain.StageInitializing {
		t.Fatalf("first sample = %+v", samples)
	}
	last := samples[len(samples)-1]
	if last.Stage != domain.StageSaving || last.Progress != 100 || last.CanCancel {
		t.Fatalf("last sample = %+v", last)
	}
	for _, s := range samples {
		if s.Stage == domain.StageTranscribing && (s.Progress < transcribeBandStart || s.Progress > transcribeBandEnd) {
			t.Fatalf("transcribing sample outside band: %+v", s)
		}
	}
}

// TestCLIEngineFFmpegFailureReturnsPreprocessingError checks conversion error path.
func TestCLIEngineFFmpegFailureReturnsPreprocessingError(t *testing.T) {
	f := newEngineFixture(t, "clip.mp3")

	var cleaned string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
			return commandResult{Stderr: "ffmpeg failed", ExitCode: 1}, errors.New("exit status 1")
		},
	}
	engine := NewCLIEngineForTests("ffmpeg", "whisper-cli", runner, fixedNow, func(path string) error {
		cleaned = path
		return os.RemoveAll(path)
	})

	_, err := engine.Transcribe(context.Background(), f.request(domain.Settings{}))
	var eErr *EngineError
	if !errors.As(err, &eErr) {
		t.Fatalf("error type = %T, want *EngineError", err)
	}
	if eErr.Stage != domain.StagePreprocessing {
		t.Fatalf("stage = %s, want preprocessing", eErr.Stage)
	}
	if eErr.Command != "ffmpeg" || eErr.Code != 1 || eErr.Stderr != "ffmpeg failed" {
		t.Fatalf("engine error = %+v", eErr)
	}
	if strings.TrimSpace(cleaned) == "" {
		t.Fatal("expected temporary directory cleanup")
	}
}

// TestCLIEngineWhisperFailureCleansTempDir checks failure cleanup path.
func TestCLIEngineWhisperFailureCleansTempDir(t *testing.T) {
	f := newEngineFixture(t, "clip.wav")

	var tempDir string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
			if name == "ffmpeg" {
				outPath := args[len(args)-1]
				tempDir = filepath.Dir(outPath)
				mustWriteFile(t, outPath, "wav")
				return commandResult{}, nil
			}
			return commandResult{Stderr: "whisper failed", ExitCode: 3}, errors.New("exit status 3")
		},
	}

	engine := NewCLIEngineForTests("ffmpeg", "whisper-cli", runner, fixedNow, nil)
	_, err := engine.Transcribe(context.Background(), f.request(domain.Settings{}))

	var eErr *EngineError
	if !errors.As(err, &eErr) {
		t.Fatalf("error type = %T, want *EngineError", err)
	}
	if eErr.Stage != domain.StageTranscribing || eErr.Code != 3 {
		t.Fatalf("engine error = %+v", eErr)
	}
	if _, statErr := os.Stat(tempDir); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("temp dir should be removed on failure, stat err = %v", statErr)
	}
}

// TestCLIEngineCancelledRun checks that cancellation surfaces the context error.
func TestCLIEngineCancelledRun(t *testing.T) {
	f := newEngineFixture(t, "clip.wav")
	ctx, cancel := context.WithCancel(context.Background())

	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
			cancel()
			return commandResult{ExitCode: -1}, errors.New("signal: killed")
		},
	}
	engine := NewCLIEngineForTests("ffmpeg", "whisper-cli", runner, fixedNow, nil)
	_, err := engine.Transcribe(ctx, f.request(domain.Settings{}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

// TestCLIEngineModelDirectoryPrefersPreset checks model discovery in a directory.
func TestCLIEngineModelDirectoryPrefersPreset(t *testing.T) {
	f := newEngineFixture(t, "clip.flac")
	modelDir := filepath.Join(f.root, "models")
	mustWriteFile(t, filepath.Join(modelDir, "a-custom.gguf"), "model")
	mustWriteFile(t, filepath.Join(modelDir, "ggml-small.bin"), "model")

	var usedModel, usedLanguage string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
			if name == "ffmpeg" {
				mustWriteFile(t, args[len(args)-1], "wav")
				return commandResult{}, nil
			}
			usedModel = argValue(args, "-m")
			usedLanguage = argValue(args, "-l")
			mustWriteFile(t, argValue(args, "-of")+".txt", "transcribed")
			return commandResult{}, nil
		},
	}

	engine := NewCLIEngineForTests("ffmpeg", "whisper-cli", runner, fixedNow, nil)
	_, err := engine.Transcribe(context.Background(), f.request(domain.Settings{
		ModelPath: modelDir,
		ModelSize: domain.ModelSizeSmall,
		Language:  "ko",
	}))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if want := filepath.Join(modelDir, "ggml-small.bin"); usedModel != want {
		t.Fatalf("used model = %q, want %q", usedModel, want)
	}
	if usedLanguage != "ko" {
		t.Fatalf("used language = %q, want ko", usedLanguage)
	}

	// Without a matching preset the lexically first model wins.
	path, err := engine.resolveModelPath(modelDir, domain.ModelSizeLarge)
	if err != nil {
		t.Fatalf("resolveModelPath() error = %v", err)
	}
	if path != filepath.Join(modelDir, "a-custom.gguf") {
		t.Fatalf("resolved = %q", path)
	}
}

// TestCLIEngineRequiresModelPath checks validation for missing model path.
func TestCLIEngineRequiresModelPath(t *testing.T) {
	f := newEngineFixture(t, "clip.mp3")
	req := f.request(domain.Settings{})
	req.Settings.ModelPath = "  "

	engine := NewCLIEngineForTests("ffmpeg", "whisper-cli", &fakeRunner{}, fixedNow, nil)
	_, err := engine.Transcribe(context.Background(), req)

	var eErr *EngineError
	if !errors.As(err, &eErr) {
		t.Fatalf("error type = %T, want *EngineError", err)
	}
	if eErr.Stage != domain.StageLoadingModel {
		t.Fatalf("stage = %s, want loading_model", eErr.Stage)
	}
}

// TestCLIEngineMissingInput checks the input file is stat-ed first.
func TestCLIEngineMissingInput(t *testing.T) {
	f := newEngineFixture(t, "clip.mp3")
	req := f.request(domain.Settings{})
	req.File.Path = filepath.Join(f.root, "missing.mp3")

	engine := NewCLIEngineForTests("ffmpeg", "whisper-cli", &fakeRunner{}, fixedNow, nil)
	_, err := engine.Transcribe(context.Background(), req)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want os.ErrNotExist in chain", err)
	}
}

// TestBuildFFmpegArgs verifies deterministic ffmpeg command arguments.
func TestBuildFFmpegArgs(t *testing.T) {
	args := buildFFmpegArgs("/in.m4a", "/tmp/out.wav")
	want := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", "/in.m4a",
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"/tmp/out.wav",
	}

	if len(args) != len(want) {
		t.Fatalf("args len = %d, want %d", len(args), len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

// TestBuildWhisperArgsAutoLanguage verifies no language flag for auto mode.
func TestBuildWhisperArgsAutoLanguage(t *testing.T) {
	args := buildWhisperArgs("/m.bin", "/audio.wav", "/out/base", "auto")
	if hasArg(args, "-l") {
		t.Fatalf("did not expect -l in args: %v", args)
	}
	if !hasArg(args, "-oj") || !hasArg(args, "-pp") {
		t.Fatalf("expected json output and progress flags: %v", args)
	}
}

// TestBuildWhisperArgsFixedLanguage verifies language flag for fixed mode.
func TestBuildWhisperArgsFixedLanguage(t *testing.T) {
	args := buildWhisperArgs("/m.bin", "/audio.wav", "/out/base", "ru")
	if got := argValue(args, "-l"); got != "ru" {
		t.Fatalf("language arg = %q, want ru", got)
	}
}

// TestScanLinesOrCR verifies carriage-return redraws split into tokens.
func TestScanLinesOrCR(t *testing.T) {
	data := []byte("10%\r20%\r\nnext\n")
	var tokens []string
	for len(data) > 0 {
		advance, token, err := scanLinesOrCR(data, true)
		if err != nil {
			t.Fatalf("scan error = %v", err)
		}
		tokens = append(tokens, string(token))
		data = data[advance:]
	}
	want := []string{"10%", "20%", "next"}
	if strings.Join(tokens, "|") != strings.Join(want, "|") {
		t.Fatalf("tokens = %q, want %q", tokens, want)
	}
}

// mustWriteFile creates parent directory and writes file content.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}

// argValue returns value for key-style CLI args.
func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

// hasArg reports whether args include the target flag.
func hasArg(args []string, key string) bool {
	for _, arg := range args {
		if arg == key {
			return true
		}
	}
	return false
}
