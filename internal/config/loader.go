package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load builds the effective configuration by layering the project file over
// the global file over the defaults. A path that does not exist contributes
// nothing; a file that exists but fails to parse is fatal, because running
// with half a config is worse than not running.
func Load(globalPath, projectPath string) (*EngineConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskweave/config.json
// Project: .taskweave/config.json (relative to cwd)
func LoadDefault() (*EngineConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".taskweave", "config.json")
	projectPath := filepath.Join(".taskweave", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile layers one JSON file onto base. Agents merge per name;
// scalar settings replace only when set in the file.
func mergeConfigFile(base *EngineConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded EngineConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for name, agent := range loaded.Agents {
		base.Agents[name] = agent
	}
	if loaded.Gateway.TimeoutSeconds > 0 {
		base.Gateway.TimeoutSeconds = loaded.Gateway.TimeoutSeconds
	}
	if loaded.Retry != (RetrySettings{}) {
		base.Retry = loaded.Retry
	}
	if loaded.Breaker != (BreakerSettings{}) {
		base.Breaker = loaded.Breaker
	}
	if loaded.ConcurrencyLimit > 0 {
		base.ConcurrencyLimit = loaded.ConcurrencyLimit
	}
	if loaded.LogLevel != "" {
		base.LogLevel = loaded.LogLevel
	}
	if loaded.AuditDB != "" {
		base.AuditDB = loaded.AuditDB
	}

	return nil
}
