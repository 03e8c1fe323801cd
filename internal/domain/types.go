package domain

import "time"

// JobState tracks the lifecycle of the single job slot.
type JobState string

const (
	JobStateIdle      JobState = "idle"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateCancelled JobState = "cancelled"
	JobStateFailed    JobState = "failed"
)

// FileStatus is the processing status of one audio file.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
)

// View names the screen the front-end should show.
type View string

const (
	ViewUpload     View = "upload"
	ViewProcessing View = "processing"
	ViewResults    View = "results"
	ViewSettings   View = "settings"
)

// AudioFile is one unit of work in a batch.
type AudioFile struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Format   string        `json:"format"`
	Duration time.Duration `json:"duration,omitempty"`
	Status   FileStatus    `json:"status"`
}

// ProcessingJob is one run over one or more audio files.
type ProcessingJob struct {
	ID                  string      `json:"id"`
	Files               []AudioFile `json:"files"`
	CurrentFileIndex    int         `json:"currentFileIndex"`
	Progress            float64     `json:"progress"`
	Stage               Stage       `json:"stage"`
	StartTime           time.Time   `json:"startTime"`
	EstimatedCompletion *time.Time  `json:"estimatedCompletion,omitempty"`
	IsCancelled         bool        `json:"isCancelled"`
	CanCancel           bool        `json:"canCancel"`
}

// ProcessingProgress is an immutable progress sample. Optional timing fields
// are nil when the engine did not report them.
type ProcessingProgress struct {
	JobID          string         `json:"jobId,omitempty"`
	Stage          Stage          `json:"stage"`
	Progress       float64        `json:"progress"`
	Timestamp      time.Time      `json:"timestamp"`
	CurrentFile    string         `json:"currentFile,omitempty"`
	RealElapsed    *time.Duration `json:"realElapsed,omitempty"`
	RealRemaining  *time.Duration `json:"realRemaining,omitempty"`
	EstimatedTotal *time.Duration `json:"estimatedTotal,omitempty"`
	FileIndex      *int           `json:"fileIndex,omitempty"`
	TotalFiles     *int           `json:"totalFiles,omitempty"`
	CanCancel      bool           `json:"canCancel"`
	Message        string         `json:"message,omitempty"`
}

// AudioInfo describes decoded audio properties reported by the engine.
type AudioInfo struct {
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sampleRate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
}

// TranscriptionMetadata describes how a transcript was produced.
type TranscriptionMetadata struct {
	Language  string    `json:"language"`
	ModelSize ModelSize `json:"modelSize"`
	Timestamp time.Time `json:"timestamp"`
	AudioInfo AudioInfo `json:"audioInfo"`
}

// Segment is one timed span of transcript text.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// TranscriptionResult is the outcome for one audio file.
type TranscriptionResult struct {
	ID             string                `json:"id"`
	JobID          string                `json:"jobId,omitempty"`
	OriginalFile   AudioFile             `json:"originalFile"`
	Text           string                `json:"text"`
	Segments       []Segment             `json:"segments,omitempty"`
	Metadata       TranscriptionMetadata `json:"metadata"`
	OutputPath     string                `json:"outputPath"`
	ProcessingTime time.Duration         `json:"processingTime"`
	Confidence     *float64              `json:"confidence,omitempty"`
}

// ProcessingError records one failed file in a batch.
type ProcessingError struct {
	FilePath  string    `json:"filePath"`
	Message   string    `json:"message"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchStatistics summarizes a finished batch.
type BatchStatistics struct {
	TotalFiles            int           `json:"totalFiles"`
	CompletedFiles        int           `json:"completedFiles"`
	FailedFiles           int           `json:"failedFiles"`
	SkippedFiles          int           `json:"skippedFiles"`
	TotalProcessingTime   time.Duration `json:"totalProcessingTime"`
	AverageProcessingTime time.Duration `json:"averageProcessingTime"`
}

// BatchResult is the aggregate outcome of one processing job.
type BatchResult struct {
	JobID      string                `json:"jobId"`
	State      JobState              `json:"state"`
	Statistics BatchStatistics       `json:"statistics"`
	Results    []TranscriptionResult `json:"results"`
	Errors     []ProcessingError     `json:"errors"`
}

// Theme is the UI color scheme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// OutputFormat selects the transcript export format.
type OutputFormat string

const (
	OutputFormatTXT  OutputFormat = "txt"
	OutputFormatSRT  OutputFormat = "srt"
	OutputFormatVTT  OutputFormat = "vtt"
	OutputFormatJSON OutputFormat = "json"
)

// FailurePolicy decides what a batch does after one file fails.
type FailurePolicy string

const (
	FailurePolicyAbort FailurePolicy = "abort"
	FailurePolicySkip  FailurePolicy = "skip"
	FailurePolicyRetry FailurePolicy = "retry"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	Language          string        `json:"language" toml:"language" yaml:"language"`
	ModelSize         ModelSize     `json:"modelSize" toml:"model_size" yaml:"model_size"`
	ModelPath         string        `json:"modelPath" toml:"model_path" yaml:"model_path"`
	OutputDir         string        `json:"outputDir" toml:"output_dir" yaml:"output_dir"`
	EnginePath        string        `json:"enginePath" toml:"engine_path" yaml:"engine_path"`
	IncludeMetadata   bool          `json:"includeMetadata" toml:"include_metadata" yaml:"include_metadata"`
	AutoSave          bool          `json:"autoSave" toml:"auto_save" yaml:"auto_save"`
	Theme             Theme         `json:"theme" toml:"theme" yaml:"theme"`
	MaxConcurrentJobs int           `json:"maxConcurrentJobs" toml:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	OutputFormat      OutputFormat  `json:"outputFormat" toml:"output_format" yaml:"output_format"`
	FailurePolicy     FailurePolicy `json:"failurePolicy" toml:"failure_policy" yaml:"failure_policy"`
	MaxRetries        int           `json:"maxRetries" toml:"max_retries" yaml:"max_retries"`
}
