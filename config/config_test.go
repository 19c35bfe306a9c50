package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 5, cfg.Agents.MaxIterations)
	assert.Equal(t, 100000, cfg.Execution.MaxCodeLen)
	assert.Equal(t, 20*time.Second, cfg.Execution.Timeout())
	assert.True(t, cfg.Execution.Stateful)
	assert.Equal(t, 2, cfg.Execution.RetryAttempts)
	assert.Equal(t, "4GB", cfg.Execution.Memory)
	assert.Equal(t, 500, cfg.LLM.MaxCalls)
	assert.Equal(t, 24*time.Hour, cfg.Session.Timeout())
	assert.Equal(t, 0, cfg.Session.LogLimits.Delegations)
	assert.Equal(t, 10000, cfg.Audit.MaxEntries)
	assert.True(t, cfg.Memory.Enabled)
	assert.Equal(t, 10, cfg.Agents.MaxConcurrentRuns)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("ADK_EXECUTE_MAX_CODE_LEN", "50")
	t.Setenv("ADK_EXECUTE_TIMEOUT_SECONDS", "3")
	t.Setenv("ADK_MAX_ITERATIONS", "7")
	t.Setenv("SESSION_TIMEOUT_HOURS", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Execution.MaxCodeLen)
	assert.Equal(t, 3*time.Second, cfg.Execution.Timeout())
	assert.Equal(t, 7, cfg.Agents.MaxIterations)
	assert.Equal(t, 2*time.Hour, cfg.Session.Timeout())
}

func TestLoad_PrefixedEnv(t *testing.T) {
	t.Setenv("ADK_SERVER_PORT", "9090")
	t.Setenv("ADK_LLM_PROVIDER", "mock")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "mock", cfg.LLM.Provider)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  max_iterations: 3
execution:
  interpreter: python3.12
session:
  log_limits:
    delegations: 50
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Agents.MaxIterations)
	assert.Equal(t, "python3.12", cfg.Execution.Interpreter)
	assert.Equal(t, 50, cfg.Session.LogLimits.Delegations)
	assert.Equal(t, 100000, cfg.Execution.MaxCodeLen, "defaults survive partial files")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Session.Backend = "redis"
	cfg.LLM.Provider = "gemini"
	cfg.Execution.MaxCodeLen = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.redis.url")
	assert.Contains(t, err.Error(), "gemini")
	assert.Contains(t, err.Error(), "max_code_len")
}
