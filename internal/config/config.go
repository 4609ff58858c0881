// Package config holds OPERATOR-LEVEL configuration for a teller
// installation: data directory, listen address, generation model, flow
// configuration path, loop bounds. Set via env vars (TELLER_*) or a
// teller.config.yaml file.
//
// Conversational policy (flows, instructions, keywords) is NOT configured
// here — that lives in the flow configuration document loaded by
// internal/flow, which is hot-reloadable and owned by the business, not
// the operator.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the TELLER_ prefix
// (e.g. "llm_model" → TELLER_LLM_MODEL) and to a YAML field in
// teller.config.yaml.
const (
	KeyDataDir          = "data_dir"
	KeyListenAddr       = "listen_addr"
	KeyLLMModel         = "llm_model"
	KeyLLMTemperature   = "llm_temperature"
	KeyOpenAIAPIKey     = "openai_api_key"
	KeyOpenAIBaseURL    = "openai_base_url"
	KeyFlowsPath        = "flows_path"
	KeyMaxTurnCycles    = "max_turn_cycles"
	KeyTransactionCount = "transaction_count"
	KeySessionIdleMin   = "session_idle_minutes"
)

// Defaults. The model default matches the generation service's
// tool-calling tier; temperature 0 keeps turn behaviour as deterministic
// as the service allows.
const (
	DefaultListenAddr       = ":8080"
	DefaultLLMModel         = "gpt-4o"
	DefaultLLMTemperature   = 0.0
	DefaultFlowsPath        = "flows.yaml"
	DefaultMaxTurnCycles    = 6
	DefaultTransactionCount = 3
	DefaultSessionIdleMin   = 10
)

// Config holds resolved operator-level configuration for a teller process.
type Config struct {
	DataDir          string  // base directory for state (~/.teller)
	ListenAddr       string  // HTTP listen address
	LLMModel         string  // generation service model
	LLMTemperature   float64 // executor temperature (router always uses 0)
	OpenAIAPIKey     string  // generation service credential
	OpenAIBaseURL    string  // override for tests / self-hosted gateways
	FlowsPath        string  // flow configuration document
	MaxTurnCycles    int     // hard cap on executor↔dispatcher cycles per user message
	TransactionCount int     // transactions returned by the lookup tool
	SessionIdleMin   int     // idle minutes before the janitor expires a session
}

// AccountsDBPath returns the full path to the account store SQLite database.
func (c *Config) AccountsDBPath() string {
	return filepath.Join(c.DataDir, "accounts.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.SetEnvPrefix("TELLER")
	viper.AutomaticEnv()
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyLLMModel, DefaultLLMModel)
	viper.SetDefault(KeyLLMTemperature, DefaultLLMTemperature)
	viper.SetDefault(KeyFlowsPath, DefaultFlowsPath)
	viper.SetDefault(KeyMaxTurnCycles, DefaultMaxTurnCycles)
	viper.SetDefault(KeyTransactionCount, DefaultTransactionCount)
	viper.SetDefault(KeySessionIdleMin, DefaultSessionIdleMin)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:          resolveDataDir(),
		ListenAddr:       viper.GetString(KeyListenAddr),
		LLMModel:         viper.GetString(KeyLLMModel),
		LLMTemperature:   viper.GetFloat64(KeyLLMTemperature),
		OpenAIAPIKey:     viper.GetString(KeyOpenAIAPIKey),
		OpenAIBaseURL:    viper.GetString(KeyOpenAIBaseURL),
		FlowsPath:        viper.GetString(KeyFlowsPath),
		MaxTurnCycles:    viper.GetInt(KeyMaxTurnCycles),
		TransactionCount: viper.GetInt(KeyTransactionCount),
		SessionIdleMin:   viper.GetInt(KeySessionIdleMin),
	}

	if cfg.OpenAIAPIKey == "" {
		// Quickstart fallback for single-operator development.
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".teller"
	}
	return filepath.Join(home, ".teller")
}

func (c *Config) validate() error {
	if c.LLMModel == "" {
		return fmt.Errorf("llm_model must not be empty")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("llm_temperature must be in [0, 2], got %v", c.LLMTemperature)
	}
	if c.MaxTurnCycles <= 0 {
		return fmt.Errorf("max_turn_cycles must be positive")
	}
	if c.TransactionCount <= 0 {
		return fmt.Errorf("transaction_count must be positive")
	}
	if c.SessionIdleMin <= 0 {
		return fmt.Errorf("session_idle_minutes must be positive")
	}
	return nil
}
