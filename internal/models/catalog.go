// Package models lists whisper.cpp model presets and downloads them into
// the configured model directory.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/logging"
)

// DefaultBaseURL hosts the ggml model files.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

const downloadTimeout = 2 * time.Hour

// ProgressFunc reports bytes written so far and the expected total, which is
// -1 when the server does not send a length.
type ProgressFunc func(written, total int64)

// Catalog resolves and fetches model presets.
type Catalog struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewCatalog returns a catalog downloading from DefaultBaseURL.
func NewCatalog(logger *slog.Logger) *Catalog {
	return NewMirrorCatalog(DefaultBaseURL, logger)
}

// NewMirrorCatalog returns a catalog downloading from baseURL, which must
// serve the same file names as DefaultBaseURL.
func NewMirrorCatalog(baseURL string, logger *slog.Logger) *Catalog {
	return NewCatalogForTests(baseURL, http.DefaultClient, logger)
}

// NewCatalogForTests returns a catalog with an injectable source.
func NewCatalogForTests(baseURL string, client *http.Client, logger *slog.Logger) *Catalog {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Catalog{
		baseURL: baseURL,
		client:  client,
		logger:  logging.OrDiscard(logger).With("component", "models"),
	}
}

// List returns every preset, marking the ones present next to modelPath.
func (c *Catalog) List(modelPath string) []domain.WhisperModelOption {
	models := domain.WhisperModels()
	dirs := knownModelDirs(modelPath)
	for i := range models {
		for _, dir := range dirs {
			candidate := filepath.Join(dir, models[i].FileName)
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			models[i].Downloaded = true
			models[i].LocalPath = candidate
			break
		}
	}
	return models
}

// Download fetches the preset for size into the directory implied by
// modelPath and returns the local file path.
func (c *Catalog) Download(ctx context.Context, size domain.ModelSize, modelPath string, onProgress ProgressFunc) (string, error) {
	model, err := domain.LookupModel(size)
	if err != nil {
		return "", err
	}
	dir, err := DownloadDir(modelPath)
	if err != nil {
		return "", err
	}

	target := filepath.Join(dir, model.FileName)
	c.logger.Info("downloading model", "model", model.Name, "target", target)
	if err := c.fetch(ctx, target, c.baseURL+model.FileName, onProgress); err != nil {
		return "", fmt.Errorf("download model %s: %w", model.Name, err)
	}
	c.logger.Info("model downloaded", "model", model.Name, "target", target)
	return target, nil
}

// DownloadDir returns where models for modelPath are stored: the directory
// itself, or the parent of a model file path.
func DownloadDir(modelPath string) (string, error) {
	trimmed := strings.TrimSpace(modelPath)
	if trimmed == "" {
		return "", errors.New("model path is empty")
	}

	info, err := os.Stat(trimmed)
	if err == nil {
		if info.IsDir() {
			return trimmed, nil
		}
		if isModelFile(trimmed) {
			return filepath.Dir(trimmed), nil
		}
		return "", fmt.Errorf("model path points to non-model file: %s", trimmed)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("check model path: %w", err)
	}
	if isModelFile(trimmed) {
		return filepath.Dir(trimmed), nil
	}
	return trimmed, nil
}

func isModelFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".bin" || ext == ".gguf"
}

func knownModelDirs(modelPath string) []string {
	dir, err := DownloadDir(modelPath)
	if err != nil {
		return nil
	}
	return []string{filepath.Clean(dir)}
}

func (c *Catalog) fetch(ctx context.Context, destination, sourceURL string, onProgress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destination + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "audio-transcriber")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	var dst io.Writer = file
	if onProgress != nil {
		dst = &progressWriter{w: file, total: resp.ContentLength, report: onProgress}
	}
	_, copyErr := io.Copy(dst, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destination); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	report  ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.report(p.written, p.total)
	return n, err
}
