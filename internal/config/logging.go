package config

// LoggingConfig configures the category file logger.
// The logging package reads this section directly from config.yaml to avoid
// an import cycle; it is declared here so config.yaml round-trips cleanly.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}
