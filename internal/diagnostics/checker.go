package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/domain"
)

// engineCandidates are the whisper.cpp binary names probed on PATH.
var engineCandidates = []string{"whisper-cli", "whisper.cpp", "whisper-cpp"}

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        time.Now,
	}
}

// Run executes all checks in display order.
func (c *Checker) Run(settings domain.Settings) []domain.DiagnosticResult {
	results := []domain.DiagnosticResult{
		c.checkTool("ffmpeg", "Install ffmpeg and make sure it is on PATH."),
		c.checkEngine(settings.EnginePath),
		c.checkModelPath(settings.ModelPath, settings.ModelSize),
		c.checkOutputDir(settings.OutputDir),
		c.checkSettings(settings),
		c.runtimeInfo(),
	}

	at := c.now().UTC()
	for i := range results {
		results[i].Timestamp = at
	}
	return results
}

// checkTool verifies a required CLI executable is on PATH.
func (c *Checker) checkTool(name, hint string) domain.DiagnosticResult {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticResult{
			ID:          "tool_" + name,
			Name:        name,
			Status:      domain.DiagnosticStatusFail,
			Message:     fmt.Sprintf("Tool not found in PATH: %s", name),
			Suggestions: []string{hint},
		}
	}

	return domain.DiagnosticResult{
		ID:      "tool_" + name,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkEngine verifies the configured whisper.cpp binary, or finds one on PATH.
func (c *Checker) checkEngine(enginePath string) domain.DiagnosticResult {
	item := domain.DiagnosticResult{
		ID:   "engine",
		Name: "Transcription engine",
	}

	if custom := strings.TrimSpace(enginePath); custom != "" {
		info, err := c.stat(custom)
		switch {
		case err != nil:
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Configured engine not found: %s", custom)
			item.Suggestions = []string{"Fix the engine path in settings or clear it to search PATH."}
		case info.IsDir():
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Configured engine is a directory: %s", custom)
			item.Suggestions = []string{"Point the engine path at the whisper.cpp binary itself."}
		case info.Mode().Perm()&0o111 == 0 && goruntime.GOOS != "windows":
			item.Status = domain.DiagnosticStatusWarning
			item.Message = fmt.Sprintf("Engine is not executable: %s", custom)
			item.Suggestions = []string{"Run chmod +x on the engine binary."}
		default:
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Using %s", custom)
		}
		return item
	}

	for _, name := range engineCandidates {
		if path, err := c.lookPath(name); err == nil {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Found %s at %s", name, path)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = "whisper.cpp was not found in PATH"
	item.Details = "Looked for: " + strings.Join(engineCandidates, ", ")
	item.Suggestions = []string{
		"Install whisper.cpp and make sure whisper-cli is on PATH.",
		"Or set the engine path in settings.",
	}
	return item
}

// checkModelPath validates configured model file or model directory.
func (c *Checker) checkModelPath(modelPath string, size domain.ModelSize) domain.DiagnosticResult {
	item := domain.DiagnosticResult{
		ID:   "model_path",
		Name: "Model path",
	}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model path is empty."
		item.Suggestions = []string{"Set a valid model file path or a directory containing whisper models."}
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Suggestions = []string{"Download a whisper.cpp model and configure the path in settings."}
		return item
	}

	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Suggestions = []string{"Check permissions for the model directory."}
		return item
	}

	preset, presetErr := domain.LookupModel(size)
	var models []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			models = append(models, entry.Name())
		}
	}

	if len(models) == 0 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
		item.Suggestions = []string{"Place a .bin or .gguf model file in this directory or point to a model file directly."}
		return item
	}

	item.Details = "Models: " + strings.Join(models, ", ")
	if presetErr == nil {
		for _, name := range models {
			if name == preset.FileName {
				item.Status = domain.DiagnosticStatusPass
				item.Message = fmt.Sprintf("Model %s found in %s", preset.FileName, modelPath)
				return item
			}
		}
		item.Status = domain.DiagnosticStatusWarning
		item.Message = fmt.Sprintf("%s not found; %s will be used", preset.FileName, models[0])
		item.Suggestions = []string{fmt.Sprintf("Download %s (%s) or pick another model size.", preset.FileName, preset.SizeLabel)}
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticResult {
	item := domain.DiagnosticResult{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Suggestions = []string{"Set an output directory where transcript files can be written."}
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Suggestions = []string{"Choose a writable location or adjust filesystem permissions."}
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Suggestions = []string{"Choose a writable directory for transcript export."}
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// checkSettings reports settings that would be rejected on save.
func (c *Checker) checkSettings(settings domain.Settings) domain.DiagnosticResult {
	item := domain.DiagnosticResult{
		ID:   "settings",
		Name: "Settings",
	}
	err := config.Validate(settings)
	if err == nil {
		item.Status = domain.DiagnosticStatusPass
		item.Message = "Settings are valid."
		return item
	}

	item.Status = domain.DiagnosticStatusWarning
	item.Message = "Some settings are invalid."
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		lines := make([]string, 0, len(verr.Problems))
		for _, p := range verr.Problems {
			lines = append(lines, p.Field+": "+p.Message)
		}
		item.Details = strings.Join(lines, "\n")
	} else {
		item.Details = err.Error()
	}
	item.Suggestions = []string{"Open settings and correct the listed fields."}
	return item
}

// runtimeInfo records platform facts useful in bug reports.
func (c *Checker) runtimeInfo() domain.DiagnosticResult {
	return domain.DiagnosticResult{
		ID:      "runtime",
		Name:    "Runtime",
		Status:  domain.DiagnosticStatusInfo,
		Message: fmt.Sprintf("%s/%s, %d CPUs", goruntime.GOOS, goruntime.GOARCH, goruntime.NumCPU()),
		Details: goruntime.Version(),
	}
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		now:        time.Now,
	}
}
