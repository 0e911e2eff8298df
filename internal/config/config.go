// Package config resolves the application configuration from defaults,
// an optional YAML file, and environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved application configuration.
type Config struct {
	// Provider settings.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Model selection.
	RootModel     string `yaml:"root_model"`
	SubModel      string `yaml:"sub_model"`
	FallbackModel string `yaml:"fallback_model"`

	// Session budgets.
	MaxTurns       int           `yaml:"max_turns"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxDelegations int           `yaml:"max_delegations"`

	// Analysis behavior.
	Mode        string  `yaml:"mode"`
	Temperature float64 `yaml:"temperature"`
	Refine      bool    `yaml:"refine"`

	// TracePath is the SQLite trace database. Empty disables
	// persistent tracing.
	TracePath string `yaml:"trace_path"`

	// File loading bounds.
	MaxFileSize int64 `yaml:"max_file_size"`
	MaxFiles    int   `yaml:"max_files"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		RootModel:      "gpt-5",
		SubModel:       "gpt-5-mini",
		FallbackModel:  "gpt-5-mini",
		MaxTurns:       10,
		Timeout:        5 * time.Minute,
		MaxDelegations: 20,
		Mode:           "general",
		Temperature:    0.2,
		MaxFileSize:    256 * 1024,
		MaxFiles:       2000,
	}
}

// candidateNames are config file names probed in the working directory
// when no explicit path is given.
var candidateNames = []string{".rlm-analyzer.yaml", "rlm-analyzer.yaml"}

// Load resolves the configuration: defaults, then the YAML file at
// path (or a candidate in the working directory when path is empty),
// then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = findCandidate()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.APIKey == "" {
		return cfg, fmt.Errorf("no API key: set OPENAI_API_KEY or api_key in the config file")
	}
	return cfg, nil
}

func findCandidate() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for _, name := range candidateNames {
		p := filepath.Join(cwd, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applyEnv overlays environment variables onto cfg. Environment wins
// over file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("RLM_ROOT_MODEL"); v != "" {
		cfg.RootModel = v
	}
	if v := os.Getenv("RLM_SUB_MODEL"); v != "" {
		cfg.SubModel = v
	}
	if v := os.Getenv("RLM_FALLBACK_MODEL"); v != "" {
		cfg.FallbackModel = v
	}
	if v := os.Getenv("RLM_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTurns = n
		}
	}
	if v := os.Getenv("RLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("RLM_MAX_DELEGATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxDelegations = n
		}
	}
	if v := os.Getenv("RLM_TRACE_PATH"); v != "" {
		cfg.TracePath = v
	}
}
