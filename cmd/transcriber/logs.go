package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"audio-transcriber/internal/logging"
)

const maxLogLine = 1 << 20

// logRecord is one line of the JSON log file.
type logRecord struct {
	Time    string         `json:"time,omitempty"`
	Level   string         `json:"level,omitempty"`
	Message string         `json:"msg"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var level string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log records",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(ctx.dataDir(), "logs", logging.FileName)
			file, err := os.Open(path)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "No log file at %s\n", path)
				return nil
			}
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer file.Close()

			records, err := tailLog(file, lines, logging.ParseLevel(level))
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			for _, record := range records {
				fmt.Fprintln(out, formatLogRecord(record))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of records to show")
	cmd.Flags().StringVar(&level, "level", "debug", "Minimum level to show")
	return cmd
}

// tailLog returns the last n records at or above minLevel. Lines that are not
// JSON are kept as plain messages.
func tailLog(r io.Reader, n int, minLevel slog.Level) ([]logRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)

	var records []logRecord
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		record := parseLogLine(line)
		if record.Level != "" && logging.ParseLevel(record.Level) < minLevel {
			continue
		}
		records = append(records, record)
		if n > 0 && len(records) > n {
			records = records[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return records, nil
}

func parseLogLine(line string) logRecord {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return logRecord{Message: line}
	}
	record := logRecord{Attrs: make(map[string]any)}
	for key, value := range raw {
		switch key {
		case slog.TimeKey:
			record.Time, _ = value.(string)
		case slog.LevelKey:
			record.Level, _ = value.(string)
		case slog.MessageKey:
			record.Message, _ = value.(string)
		default:
			record.Attrs[key] = value
		}
	}
	return record
}

func formatLogRecord(record logRecord) string {
	var b strings.Builder
	if record.Time != "" {
		b.WriteString(record.Time)
		b.WriteByte(' ')
	}
	if record.Level != "" {
		fmt.Fprintf(&b, "%-5s ", record.Level)
	}
	b.WriteString(record.Message)

	keys := make([]string, 0, len(record.Attrs))
	for key := range record.Attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, record.Attrs[key])
	}
	return b.String()
}
