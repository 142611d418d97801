package config

import (
	"os"
	"path/filepath"

	"echoscript/internal/domain"
)

// AppDirName is the per-user directory holding settings, models, and caches.
const AppDirName = ".echoscript"

// DefaultSettings returns baseline local configuration for first launch.
// Thirty-second chunks with one second of overlap keep single inference
// calls bounded while covering words that straddle chunk boundaries.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		ModelPath:      filepath.Join(homeDir, AppDirName, "models"),
		OutputDir:      filepath.Join(homeDir, "Documents", "Transcripts"),
		Language:       "auto",
		OutputFormat:   domain.FormatText,
		ChunkSeconds:   30,
		OverlapSeconds: 1,
		DecodeWorkers:  2,
	}
}

// SettingsPath returns the settings file location under the user home.
func SettingsPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, AppDirName, "settings.json"), nil
}
