package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the profile configuration file inside a profile directory.
const FileName = "config.toml"

// BridgeConfig tunes the dispatcher and relay loops.
type BridgeConfig struct {
	PollIntervalMs int   `toml:"pollIntervalMs"`
	MaxFrameBytes  int64 `toml:"maxFrameBytes"`
	SkipMalformed  bool  `toml:"skipMalformed"`
}

// PollInterval returns the relay wait timeout.
func (b BridgeConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMs) * time.Millisecond
}

// IPCConfig defines the optional unix socket endpoint.
type IPCConfig struct {
	SocketPath string `toml:"socketPath"`
}

// JournalConfig defines the SQLite session journal.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	DBPath  string `toml:"dbPath"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// ProfileConfig aggregates bridge configuration for a profile.
type ProfileConfig struct {
	ProfileName string        `toml:"profileName"`
	Bridge      BridgeConfig  `toml:"bridge"`
	IPC         IPCConfig     `toml:"ipc"`
	Journal     JournalConfig `toml:"journal"`
	Logging     LoggingConfig `toml:"logging"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// DefaultProfile returns the configuration written by "vlldb init".
func DefaultProfile(name string) *ProfileConfig {
	cfg := &ProfileConfig{
		ProfileName: name,
		Journal:     JournalConfig{Enabled: true, DBPath: "journal.db"},
		Logging:     LoggingConfig{Level: "info", FilePath: "logs/bridge.log", FileMaxSize: 10},
	}
	_ = cfg.validate()
	return cfg
}

// Load reads a config file from path.
func Load(path string) (*ProfileConfig, error) {
	var cfg ProfileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads config.toml from a profile directory.
func LoadProfile(dir string) (*ProfileConfig, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *ProfileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ResolvePath makes a profile-relative path absolute against dir.
func ResolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	if cfg.Bridge.PollIntervalMs < 0 {
		return fmt.Errorf("bridge.pollIntervalMs must not be negative")
	}
	if cfg.Bridge.PollIntervalMs == 0 {
		cfg.Bridge.PollIntervalMs = 1000
	}
	if cfg.Bridge.MaxFrameBytes < 0 {
		return fmt.Errorf("bridge.maxFrameBytes must not be negative")
	}
	if cfg.Bridge.MaxFrameBytes == 0 {
		cfg.Bridge.MaxFrameBytes = 64 << 20
	}
	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		return fmt.Errorf("journal.dbPath required when journal is enabled")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "":
		cfg.Logging.Level = "info"
	case "debug", "info", "error":
	default:
		return fmt.Errorf("logging.level %q not one of debug, info, error", cfg.Logging.Level)
	}
	return nil
}
