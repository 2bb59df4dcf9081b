// Package config loads nbgather configuration from .nbgather/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all nbgather configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Dataflow engine configuration
	Engine EngineConfig `yaml:"engine"`

	// Execution journal storage
	Store StoreConfig `yaml:"store"`

	// Slice export settings
	Export ExportConfig `yaml:"export"`

	// Telemetry sink
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the SQLite execution journal.
type StoreConfig struct {
	// DatabasePath is relative to the workspace unless absolute.
	DatabasePath string `yaml:"database_path"`
}

// ExportConfig configures slice rendering and artifact placement.
type ExportConfig struct {
	// OutputDir receives gathered scripts and notebooks.
	OutputDir string `yaml:"output_dir"`

	// CellMarker delimits cells in gathered scripts.
	CellMarker string `yaml:"cell_marker"`
}

// TelemetryConfig configures the local telemetry sink.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Name:    "nbgather",
		Version: "1.0",
		Engine:  DefaultEngineConfig(),
		Store: StoreConfig{
			DatabasePath: filepath.Join(".nbgather", "journal.db"),
		},
		Export: ExportConfig{
			OutputDir:  filepath.Join(".nbgather", "gathered"),
			CellMarker: "# %%",
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Path:    filepath.Join(".nbgather", "telemetry.json"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .nbgather/config.yaml under the workspace, overlaying defaults.
// A missing file is not an error; the defaults are returned.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".nbgather", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve makes a configured path absolute relative to the workspace.
func Resolve(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}
