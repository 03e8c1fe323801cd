package progress

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"audio-transcriber/internal/domain"
)

const (
	// defaultAssumedDuration is used to turn segment timestamps into a
	// percentage when the audio length is unknown.
	defaultAssumedDuration = 5 * time.Minute
	segmentProgressCap     = 90.0
)

var (
	segmentPattern = regexp.MustCompile(`\[(?:\d{2}:)?\d{2}:\d{2}[.,]\d{3} --> (?:(\d{2}):)?(\d{2}):(\d{2})[.,](\d{3})\]`)
	tqdmPattern    = regexp.MustCompile(`(\d+)%\|[^|]*\|\s*(\d+)/(\d+)\s*\[`)
	batchPattern   = regexp.MustCompile(`\[(\d+)/(\d+)\]\s*\((\d+(?:\.\d+)?)%\)\s*Processing:`)
	percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
)

// Parser turns engine output lines into progress samples.
type Parser struct {
	JobID       string
	CurrentFile string
	// AudioDuration scales segment timestamps; zero falls back to a
	// five-minute assumption.
	AudioDuration time.Duration
	Now           func() time.Time
}

// wireSample is the structured progress line an engine may print.
type wireSample struct {
	Stage     string   `json:"stage"`
	Progress  float64  `json:"progress"`
	Elapsed   *float64 `json:"elapsed"`
	Remaining *float64 `json:"remaining"`
	Total     *float64 `json:"total"`
	FileIndex *int     `json:"file_index"`
	Files     *int     `json:"total_files"`
	Message   string   `json:"message"`
	CanCancel *bool    `json:"can_cancel"`
}

// Parse returns a sample for line, or false when the line carries no
// progress information.
func (p *Parser) Parse(line string) (domain.ProcessingProgress, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.ProcessingProgress{}, false
	}

	if strings.HasPrefix(line, "{") {
		return p.parseJSON(line)
	}

	if m := segmentPattern.FindStringSubmatch(line); m != nil {
		endHour, _ := strconv.Atoi(m[1])
		endMin, _ := strconv.Atoi(m[2])
		endSec, _ := strconv.Atoi(m[3])
		endMs, _ := strconv.Atoi(m[4])
		endMin += endHour * 60
		reached := time.Duration(endMin)*time.Minute + time.Duration(endSec)*time.Second + time.Duration(endMs)*time.Millisecond

		total := p.AudioDuration
		if total <= 0 {
			total = defaultAssumedDuration
		}
		pct := float64(reached) / float64(total) * 100
		if pct > segmentProgressCap {
			pct = segmentProgressCap
		}
		return p.sample(domain.StageTranscribing, pct,
			fmt.Sprintf("Transcribing: %.1f%% (%d:%02d)", pct, endMin, endSec)), true
	}

	if m := tqdmPattern.FindStringSubmatch(line); m != nil {
		pct, _ := strconv.ParseFloat(m[1], 64)
		return p.sample(domain.StageTranscribing, pct,
			fmt.Sprintf("Transcribing: %d%% (%s/%s)", int(pct), m[2], m[3])), true
	}

	if m := batchPattern.FindStringSubmatch(line); m != nil {
		current, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		pct, _ := strconv.ParseFloat(m[3], 64)
		s := p.sample(domain.StageTranscribing, pct,
			fmt.Sprintf("Processing file: %d%% (%d/%d)", int(pct), current, total))
		index := current - 1
		if index < 0 {
			index = 0
		}
		s.FileIndex = &index
		s.TotalFiles = &total
		return s, true
	}

	if m := percentPattern.FindStringSubmatch(line); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err == nil && pct <= 100 {
			return p.sample(domain.StageTranscribing, pct, fmt.Sprintf("Transcribing: %d%%", int(pct))), true
		}
	}

	if strings.Contains(line, "Loading Whisper model") || strings.Contains(line, "loading model") {
		return p.sample(domain.StageLoadingModel, 10, "Loading Whisper model..."), true
	}

	if strings.Contains(line, "Transcribing") && !strings.Contains(line, "Loading") {
		return p.sample(domain.StageTranscribing, 25, "Transcribing audio..."), true
	}

	return domain.ProcessingProgress{}, false
}

func (p *Parser) parseJSON(line string) (domain.ProcessingProgress, bool) {
	var wire wireSample
	if err := json.Unmarshal([]byte(line), &wire); err != nil {
		return domain.ProcessingProgress{}, false
	}
	stage, err := domain.ParseStage(wire.Stage)
	if err != nil {
		return domain.ProcessingProgress{}, false
	}

	s := p.sample(stage, wire.Progress, wire.Message)
	s.RealElapsed = seconds(wire.Elapsed)
	s.RealRemaining = seconds(wire.Remaining)
	s.EstimatedTotal = seconds(wire.Total)
	s.FileIndex = wire.FileIndex
	s.TotalFiles = wire.Files
	if wire.CanCancel != nil {
		s.CanCancel = *wire.CanCancel
	}
	return s, true
}

func (p *Parser) sample(stage domain.Stage, pct float64, message string) domain.ProcessingProgress {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return domain.ProcessingProgress{
		JobID:       p.JobID,
		Stage:       stage,
		Progress:    pct,
		Timestamp:   now().UTC(),
		CurrentFile: p.CurrentFile,
		CanCancel:   true,
		Message:     message,
	}
}

func seconds(v *float64) *time.Duration {
	if v == nil || *v < 0 {
		return nil
	}
	d := time.Duration(*v * float64(time.Second))
	return &d
}
