package config

// EngineConfig configures the dataflow engine.
type EngineConfig struct {
	// RulesPath points at a Datalog rules file overriding the embedded
	// program. Empty means use the embedded rules.
	RulesPath string `yaml:"rules_path"`

	FactLimit    int    `yaml:"fact_limit"`
	QueryTimeout string `yaml:"query_timeout"`
}

// DefaultEngineConfig returns production defaults for the engine.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		FactLimit:    100000,
		QueryTimeout: "30s",
	}
}
