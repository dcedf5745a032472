package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/routeforge/routeforge/internal/interpolation"
)

// NewFromFilePath loads server configuration from a TOML file.
func NewFromFilePath(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	}
	if ext := filepath.Ext(filePath); ext != ".toml" {
		return nil, fmt.Errorf("unsupported config format: %s, only .toml is supported", ext)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return NewFromBytes(data)
}

// NewFromReader loads server configuration from an io.Reader providing TOML
// data.
func NewFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data from reader: %w", err)
	}
	return NewFromBytes(data)
}

// NewFromBytes loads server configuration from TOML bytes: version check,
// decode, environment variable interpolation, defaults.
func NewFromBytes(data []byte) (*Config, error) {
	// Extract just the version first to fail cheaply on incompatible files.
	var versionCheck struct {
		Version string `toml:"version"`
	}
	if err := toml.Unmarshal(data, &versionCheck); err != nil {
		return nil, fmt.Errorf("failed to parse version from TOML config: %w", err)
	}
	if versionCheck.Version != "" && versionCheck.Version != Version {
		return nil, fmt.Errorf("unsupported config version: %s", versionCheck.Version)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	if err := interpolation.InterpolateStruct(cfg); err != nil {
		return nil, fmt.Errorf("config interpolation failed: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied and no file
// input.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
