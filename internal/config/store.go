package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"echoscript/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore persists settings in a single JSON file on disk.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads settings from disk or returns defaults when missing.
// Missing numeric fields fall back to defaults so settings files from
// older releases stay loadable.
func (s *JSONStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}

		return domain.Settings{}, err
	}

	cfg := DefaultSettings()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, err
	}

	return Normalize(cfg), nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *JSONStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(Normalize(cfg), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Normalize clamps user-editable fields into usable ranges.
func Normalize(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	if cfg.Language == "" {
		cfg.Language = defaults.Language
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = defaults.OutputFormat
	}
	if cfg.ChunkSeconds <= 0 {
		cfg.ChunkSeconds = defaults.ChunkSeconds
	}
	if cfg.OverlapSeconds < 0 || cfg.OverlapSeconds >= cfg.ChunkSeconds {
		cfg.OverlapSeconds = defaults.OverlapSeconds
		if cfg.OverlapSeconds >= cfg.ChunkSeconds {
			cfg.OverlapSeconds = 0
		}
	}
	if cfg.DecodeWorkers <= 0 {
		cfg.DecodeWorkers = defaults.DecodeWorkers
	}
	return cfg
}
