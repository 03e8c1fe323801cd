package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/diagnostics"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/history"
	"audio-transcriber/internal/instance"
	"audio-transcriber/internal/logging"
	"audio-transcriber/internal/session"
	"audio-transcriber/internal/transcribe"
)

type commandContext struct {
	settingsFlag string
	dataDirFlag  string
	logLevelFlag string
	jsonFlag     bool
	stderr       io.Writer

	loggerOnce sync.Once
	logger     *slog.Logger
	closeLog   func() error
}

func newCommandContext() *commandContext {
	return &commandContext{stderr: os.Stderr}
}

func (c *commandContext) dataDir() string {
	if dir := strings.TrimSpace(c.dataDirFlag); dir != "" {
		return config.ExpandPath(dir)
	}
	return config.AppDir()
}

func (c *commandContext) settingsPath() string {
	if path := strings.TrimSpace(c.settingsFlag); path != "" {
		return config.ExpandPath(path)
	}
	if strings.TrimSpace(c.dataDirFlag) != "" {
		return filepath.Join(c.dataDir(), "settings.json")
	}
	return config.DefaultSettingsPath()
}

func (c *commandContext) historyPath() string {
	return filepath.Join(c.dataDir(), "history.db")
}

func (c *commandContext) store() (config.Store, error) {
	return config.NewStore(c.settingsPath())
}

func (c *commandContext) loadSettings() (config.Store, domain.Settings, error) {
	store, err := c.store()
	if err != nil {
		return nil, domain.Settings{}, err
	}
	settings, err := store.Load()
	if err != nil {
		return nil, domain.Settings{}, err
	}
	return store, settings, nil
}

// log returns the CLI logger: warnings and above on stderr unless
// --log-level says otherwise, JSON records in the data directory.
func (c *commandContext) log() *slog.Logger {
	c.loggerOnce.Do(func() {
		level := c.logLevelFlag
		if strings.TrimSpace(level) == "" {
			level = "warn"
		}
		c.logger, c.closeLog = logging.New(logging.Options{
			Level:   level,
			FileDir: filepath.Join(c.dataDir(), "logs"),
			Stderr:  c.stderr,
		})
	})
	return c.logger
}

func (c *commandContext) close() {
	if c.closeLog != nil {
		_ = c.closeLog()
	}
}

func (c *commandContext) openHistory() (*history.Store, error) {
	store, err := history.Open(c.historyPath())
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

// openSession builds a session ready to process files. Overrides apply to
// this run only and are never written back. The returned cleanup closes
// history.
func (c *commandContext) openSession(override func(*domain.Settings)) (*session.Session, func(), error) {
	base, settings, err := c.loadSettings()
	if err != nil {
		return nil, nil, err
	}
	var store config.Store = base
	if override != nil {
		override(&settings)
		store = &runStore{path: base.Path(), settings: config.Normalize(settings)}
	}
	logger := c.log()

	lock, err := instance.New(c.dataDir())
	if err != nil {
		return nil, nil, err
	}
	hist, err := c.openHistory()
	if err != nil {
		return nil, nil, err
	}

	sess, err := session.New(session.Options{
		Store:   store,
		Engine:  transcribe.NewCLIEngine("", logger),
		History: hist,
		Checker: diagnostics.NewChecker(),
		Lock:    lock,
		Logger:  logger,
	})
	if err != nil {
		_ = hist.Close()
		return nil, nil, err
	}
	cleanup := func() {
		sess.Close()
		_ = hist.Close()
	}
	return sess, cleanup, nil
}

// runStore serves settings adjusted by command flags. Saving is refused so
// flags never leak into the settings file.
type runStore struct {
	path     string
	settings domain.Settings
}

func (s *runStore) Load() (domain.Settings, error) { return s.settings, nil }

func (s *runStore) Save(domain.Settings) error {
	return fmt.Errorf("settings are read-only while flags override %s", s.path)
}

func (s *runStore) Path() string { return s.path }

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
