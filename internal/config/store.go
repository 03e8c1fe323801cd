package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"audio-transcriber/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
	Path() string
}

// codec encodes settings in one file format.
type codec struct {
	name      string
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
}

var (
	jsonCodec = codec{
		name: "json",
		marshal: func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		},
		unmarshal: json.Unmarshal,
	}
	tomlCodec = codec{name: "toml", marshal: toml.Marshal, unmarshal: toml.Unmarshal}
	yamlCodec = codec{name: "yaml", marshal: yaml.Marshal, unmarshal: yaml.Unmarshal}
)

// fileStore persists settings in a single file on disk.
type fileStore struct {
	path  string
	codec codec
}

// Path returns the file backing the store.
func (s *fileStore) Path() string {
	return s.path
}

// Load reads settings from disk or returns defaults when missing. Keys absent
// from the file keep their default values.
func (s *fileStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return domain.Settings{}, fmt.Errorf("read settings: %w", err)
	}

	cfg := DefaultSettings()
	if err := s.codec.unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("parse %s settings: %w", s.codec.name, err)
	}

	return Normalize(cfg), nil
}

// Save writes settings atomically and creates parent directories.
func (s *fileStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	data, err := s.codec.marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode %s settings: %w", s.codec.name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// JSONStore persists settings in a single JSON file on disk.
type JSONStore struct{ fileStore }

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{fileStore{path: path, codec: jsonCodec}}
}

// TOMLStore persists settings as TOML.
type TOMLStore struct{ fileStore }

// NewTOMLStore creates a TOML-backed settings store.
func NewTOMLStore(path string) *TOMLStore {
	return &TOMLStore{fileStore{path: path, codec: tomlCodec}}
}

// YAMLStore persists settings as YAML.
type YAMLStore struct{ fileStore }

// NewYAMLStore creates a YAML-backed settings store.
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{fileStore{path: path, codec: yamlCodec}}
}

// NewStore picks the store for path by extension. Unknown extensions are an
// error; an empty extension means JSON.
func NewStore(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		return NewJSONStore(path), nil
	case ".toml":
		return NewTOMLStore(path), nil
	case ".yaml", ".yml":
		return NewYAMLStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported settings format %q", filepath.Ext(path))
	}
}

// Export writes settings to path in the format its extension names.
func Export(settings domain.Settings, path string) error {
	store, err := NewStore(path)
	if err != nil {
		return err
	}
	return store.Save(settings)
}

// Import reads and validates settings from path. A missing file is an error
// here, unlike Load.
func Import(path string) (domain.Settings, error) {
	if _, err := os.Stat(path); err != nil {
		return domain.Settings{}, fmt.Errorf("import settings: %w", err)
	}
	store, err := NewStore(path)
	if err != nil {
		return domain.Settings{}, err
	}
	settings, err := store.Load()
	if err != nil {
		return domain.Settings{}, err
	}
	if err := Validate(settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}
