// Package history persists completed transcriptions in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"audio-transcriber/internal/domain"
)

// ErrNotFound is returned when a result id is unknown.
var ErrNotFound = errors.New("result not found")

// Store manages result history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Summary aggregates the whole history.
type Summary struct {
	Count               int           `json:"count"`
	TotalProcessingTime time.Duration `json:"totalProcessingTime"`
	TotalAudio          time.Duration `json:"totalAudio"`
	Latest              time.Time     `json:"latest"`
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	resultColumns = "id, job_id, file_name, file_path, file_size, output_path, language, model_size, text, segments_json, audio_duration_ms, processing_ms, created_at"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts or replaces one result.
func (s *Store) Record(ctx context.Context, result domain.TranscriptionResult) error {
	if strings.TrimSpace(result.ID) == "" {
		return errors.New("record result: id is required")
	}

	var segments sql.NullString
	if len(result.Segments) > 0 {
		data, err := json.Marshal(result.Segments)
		if err != nil {
			return fmt.Errorf("encode segments: %w", err)
		}
		segments = sql.NullString{String: string(data), Valid: true}
	}

	created := result.Metadata.Timestamp
	if created.IsZero() {
		created = time.Now()
	}

	_, err := s.execWithRetry(ctx,
		`INSERT OR REPLACE INTO results (`+resultColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.JobID,
		result.OriginalFile.Name,
		result.OriginalFile.Path,
		result.OriginalFile.Size,
		result.OutputPath,
		result.Metadata.Language,
		string(result.Metadata.ModelSize),
		result.Text,
		segments,
		result.Metadata.AudioInfo.Duration.Milliseconds(),
		result.ProcessingTime.Milliseconds(),
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// List returns the newest results first. limit <= 0 returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]domain.TranscriptionResult, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + resultColumns + ` FROM results ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []domain.TranscriptionResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

// Get returns one result by id.
func (s *Store) Get(ctx context.Context, id string) (domain.TranscriptionResult, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE id = ?`, id)
	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TranscriptionResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return result, err
}

// Delete removes one result by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM results WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Clear removes every result and reports how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM results`)
	if err != nil {
		return 0, fmt.Errorf("clear results: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Summarize aggregates counts and durations across the history.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	ctx = ensureContext(ctx)
	var (
		summary    Summary
		processing sql.NullInt64
		audio      sql.NullInt64
		latest     sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), SUM(processing_ms), SUM(audio_duration_ms), MAX(created_at) FROM results`,
	).Scan(&summary.Count, &processing, &audio, &latest)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize results: %w", err)
	}
	summary.TotalProcessingTime = time.Duration(processing.Int64) * time.Millisecond
	summary.TotalAudio = time.Duration(audio.Int64) * time.Millisecond
	if latest.Valid {
		summary.Latest = parseTime(latest.String)
	}
	return summary, nil
}

func scanResult(scanner interface{ Scan(dest ...any) error }) (domain.TranscriptionResult, error) {
	var (
		result       domain.TranscriptionResult
		modelSize    string
		segmentsRaw  sql.NullString
		audioMs      int64
		processingMs int64
		createdRaw   string
	)
	if err := scanner.Scan(
		&result.ID,
		&result.JobID,
		&result.OriginalFile.Name,
		&result.OriginalFile.Path,
		&result.OriginalFile.Size,
		&result.OutputPath,
		&result.Metadata.Language,
		&modelSize,
		&result.Text,
		&segmentsRaw,
		&audioMs,
		&processingMs,
		&createdRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TranscriptionResult{}, err
		}
		return domain.TranscriptionResult{}, fmt.Errorf("scan result: %w", err)
	}

	result.Metadata.ModelSize = domain.ModelSize(modelSize)
	result.Metadata.AudioInfo.Duration = time.Duration(audioMs) * time.Millisecond
	result.ProcessingTime = time.Duration(processingMs) * time.Millisecond
	result.Metadata.Timestamp = parseTime(createdRaw)
	result.OriginalFile.ID = result.ID
	result.OriginalFile.Status = domain.FileStatusCompleted
	if segmentsRaw.Valid && segmentsRaw.String != "" {
		if err := json.Unmarshal([]byte(segmentsRaw.String), &result.Segments); err != nil {
			return domain.TranscriptionResult{}, fmt.Errorf("decode segments for %s: %w", result.ID, err)
		}
	}
	return result, nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
