package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// ErrNoConfig is returned when the config file does not exist yet.
var ErrNoConfig = errors.New("config file not found")

// Load reads the config file at path. Accepts JSON5 so hand-edited files with
// comments or trailing commas still parse.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoConfig, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault returns the parsed config, or defaults when the file is absent.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, ErrNoConfig) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes the config atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Channels == nil {
		cfg.Channels = map[string]ChannelEntry{}
	}
	if cfg.ChatPreferences == nil {
		cfg.ChatPreferences = map[string]ChatPreferences{}
	}
	if cfg.Settings.OutputBatchMinMs == 0 {
		cfg.Settings.OutputBatchMinMs = def.Settings.OutputBatchMinMs
	}
	if cfg.Settings.OutputBatchMaxMs == 0 {
		cfg.Settings.OutputBatchMaxMs = def.Settings.OutputBatchMaxMs
	}
	if cfg.Settings.OutputBufferMaxChars == 0 {
		cfg.Settings.OutputBufferMaxChars = def.Settings.OutputBufferMaxChars
	}
	if cfg.Settings.MaxSessions == 0 {
		cfg.Settings.MaxSessions = def.Settings.MaxSessions
	}
}
