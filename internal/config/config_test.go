package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	t.Setenv("TELLER_DATA_DIR", "")
	t.Setenv("TELLER_LISTEN_ADDR", "")
	t.Setenv("TELLER_LLM_MODEL", "")
	t.Setenv("TELLER_LLM_TEMPERATURE", "")
	t.Setenv("TELLER_OPENAI_API_KEY", "")
	t.Setenv("TELLER_OPENAI_BASE_URL", "")
	t.Setenv("TELLER_FLOWS_PATH", "")
	t.Setenv("TELLER_MAX_TURN_CYCLES", "")
	t.Setenv("TELLER_TRANSACTION_COUNT", "")
	t.Setenv("TELLER_SESSION_IDLE_MINUTES", "")
	t.Setenv("OPENAI_API_KEY", "")
	viper.Reset()
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

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultLLMModel, cfg.LLMModel)
	assert.Equal(t, DefaultLLMTemperature, cfg.LLMTemperature)
	assert.Equal(t, DefaultFlowsPath, cfg.FlowsPath)
	assert.Equal(t, DefaultMaxTurnCycles, cfg.MaxTurnCycles)
	assert.Equal(t, DefaultTransactionCount, cfg.TransactionCount)
	assert.Equal(t, DefaultSessionIdleMin, cfg.SessionIdleMin)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	resetViper(t)
	t.Setenv("TELLER_DATA_DIR", "/tmp/teller-test")
	t.Setenv("TELLER_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("TELLER_MAX_TURN_CYCLES", "3")
	t.Setenv("TELLER_OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/teller-test", cfg.DataDir)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.Equal(t, 3, cfg.MaxTurnCycles)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, filepath.Join("/tmp/teller-test", "accounts.db"), cfg.AccountsDBPath())
}

func TestLoad_FallsBackToOpenAIEnvVar(t *testing.T) {
	resetViper(t)
	t.Setenv("OPENAI_API_KEY", "sk-from-plain-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-from-plain-env", cfg.OpenAIAPIKey)
}

func TestLoad_InvalidTemperature(t *testing.T) {
	resetViper(t)
	t.Setenv("TELLER_LLM_TEMPERATURE", "3.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm_temperature")
}

func TestLoad_InvalidCycleCap(t *testing.T) {
	resetViper(t)
	t.Setenv("TELLER_MAX_TURN_CYCLES", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_turn_cycles")
}
