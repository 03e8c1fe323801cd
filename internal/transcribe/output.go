package transcribe

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"audio-transcriber/internal/domain"
)

// OutputFileName builds "<stem>_transcription.<ext>" from the input audio path.
func OutputFileName(inputPath string, format domain.OutputFormat) string {
	base := filepath.Base(inputPath)
	stem := sanitizeFileName(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		stem = "transcript"
	}
	ext := string(format)
	if ext == "" {
		ext = string(domain.OutputFormatTXT)
	}
	return stem + "_transcription." + ext
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Render encodes result in format. Subtitle formats fall back to one segment
// spanning the audio when the engine reported none.
func Render(result domain.TranscriptionResult, format domain.OutputFormat, includeMetadata bool) ([]byte, error) {
	switch format {
	case "", domain.OutputFormatTXT:
		return renderText(result, includeMetadata), nil
	case domain.OutputFormatJSON:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode transcript json: %w", err)
		}
		return append(data, '\n'), nil
	case domain.OutputFormatSRT:
		return renderSubtitles(result, false), nil
	case domain.OutputFormatVTT:
		return renderSubtitles(result, true), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", string(format))
	}
}

func renderText(result domain.TranscriptionResult, includeMetadata bool) []byte {
	var b strings.Builder
	if includeMetadata {
		meta := result.Metadata
		fmt.Fprintf(&b, "# Transcription of %s\n", result.OriginalFile.Name)
		fmt.Fprintf(&b, "# Language: %s\n", meta.Language)
		if meta.ModelSize != "" {
			fmt.Fprintf(&b, "# Model: %s\n", meta.ModelSize)
		}
		if meta.AudioInfo.Duration > 0 {
			fmt.Fprintf(&b, "# Duration: %s\n", meta.AudioInfo.Duration.Round(time.Second))
		}
		if !meta.Timestamp.IsZero() {
			fmt.Fprintf(&b, "# Created: %s\n", meta.Timestamp.Format(time.RFC3339))
		}
		b.WriteString("\n")
	}
	b.WriteString(result.Text)
	b.WriteString("\n")
	return []byte(b.String())
}

func renderSubtitles(result domain.TranscriptionResult, vtt bool) []byte {
	segments := result.Segments
	if len(segments) == 0 {
		end := result.Metadata.AudioInfo.Duration
		if end <= 0 {
			end = time.Second
		}
		segments = []domain.Segment{{Start: 0, End: end, Text: result.Text}}
	}

	var b strings.Builder
	if vtt {
		b.WriteString("WEBVTT\n\n")
	}
	for i, seg := range segments {
		if !vtt {
			fmt.Fprintf(&b, "%d\n", i+1)
		}
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			subtitleTimestamp(seg.Start, vtt),
			subtitleTimestamp(seg.End, vtt),
			strings.TrimSpace(seg.Text),
		)
	}
	return []byte(b.String())
}

// subtitleTimestamp renders hh:mm:ss,mmm (SRT) or hh:mm:ss.mmm (VTT).
func subtitleTimestamp(d time.Duration, vtt bool) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	sep := ","
	if vtt {
		sep = "."
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%03d",
		ms/3_600_000,
		(ms/60_000)%60,
		(ms/1000)%60,
		sep,
		ms%1000,
	)
}

// whisperJSON is the subset of whisper.cpp -oj output we read.
type whisperJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperJSON(raw []byte) ([]domain.Segment, string, error) {
	var doc whisperJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("decode whisper json: %w", err)
	}
	segments := make([]domain.Segment, 0, len(doc.Transcription))
	for _, item := range doc.Transcription {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		segments = append(segments, domain.Segment{
			Start: time.Duration(item.Offsets.From) * time.Millisecond,
			End:   time.Duration(item.Offsets.To) * time.Millisecond,
			Text:  text,
		})
	}
	return segments, doc.Result.Language, nil
}
