package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/modelpull/modelpull/internal/engine/types"
)

// Settings holds all user-configurable daemon settings.
type Settings struct {
	General     GeneralSettings    `json:"general"`
	Connections ConnectionSettings `json:"connections"`
	Chunks      ChunkSettings      `json:"chunks"`
}

// GeneralSettings contains daemon behavior settings.
type GeneralSettings struct {
	ModelsRoot string `json:"models_root"`
	BindHost   string `json:"bind_host"`
	BindPort   int    `json:"bind_port"`
}

// ConnectionSettings contains network parameters for transfers.
type ConnectionSettings struct {
	PerDownload int `json:"per_download"`
}

// ChunkSettings contains transfer chunk configuration.
type ChunkSettings struct {
	ChunkThreshold int64 `json:"chunk_threshold"`
	WorkerBuffer   int   `json:"worker_buffer"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Settings{
		General: GeneralSettings{
			ModelsRoot: filepath.Join(home, "models"),
			BindHost:   "127.0.0.1",
			BindPort:   7457,
		},
		Connections: ConnectionSettings{
			PerDownload: types.DefaultConnections,
		},
		Chunks: ChunkSettings{
			ChunkThreshold: types.ChunkThreshold,
			WorkerBuffer:   types.WorkerBuffer,
		},
	}
}

// GetStateDir returns the daemon's state directory, creating it if needed.
func GetStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ".modelpull")
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

func settingsPath() string {
	return filepath.Join(GetStateDir(), "settings.json")
}

// LoadSettings reads settings from disk, falling back to defaults for a
// missing file. Unknown fields are ignored; missing fields keep their
// default values.
func LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(settingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveSettings writes settings to disk.
func SaveSettings(s *Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(settingsPath(), data, 0o644)
}
