package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv sets environment variables for the duration of the test.
// An empty value unsets the variable.
func setupEnv(t *testing.T, envVars map[string]string) {
	t.Helper()
	for name, value := range envVars {
		if value == "" {
			original, had := os.LookupEnv(name)
			require.NoError(t, os.Unsetenv(name))
			if had {
				t.Cleanup(func() { _ = os.Setenv(name, original) })
			}
			continue
		}
		t.Setenv(name, value)
	}
}

// TestLoadDefaults verifies the defaults applied when nothing is configured.
func TestLoadDefaults(t *testing.T) {
	setupEnv(t, map[string]string{
		"AGENTFLOW_SERVER_PORT":              "",
		"AGENTFLOW_SERVER_LOG_LEVEL":         "",
		"AGENTFLOW_STORAGE_BACKEND":          "",
		"AGENTFLOW_COORDINATOR_WORKER_COUNT": "",
	})

	cfg, err := LoadFile(writeConfig(t, "agentflow.yaml", "server:\n  log_level: info\n"))

	require.NoError(t, err, "Load() should not return an error with default values")
	require.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Server.Port, "Default server port should be 8080")
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 5, cfg.Coordinator.WorkerCount)
	assert.Equal(t, 0, cfg.Coordinator.MaxQueueDepth, "queue should be unbounded by default")
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "json", cfg.Storage.Format)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.ModelName)
}

// TestLoadFromEnv verifies that environment variables override defaults.
func TestLoadFromEnv(t *testing.T) {
	setupEnv(t, map[string]string{
		"AGENTFLOW_SERVER_PORT":                 "9090",
		"AGENTFLOW_SERVER_LOG_LEVEL":            "debug",
		"AGENTFLOW_COORDINATOR_WORKER_COUNT":    "3",
		"AGENTFLOW_COORDINATOR_MAX_QUEUE_DEPTH": "50",
		"AGENTFLOW_STORAGE_BACKEND":             "sqlite",
		"AGENTFLOW_STORAGE_SQLITE_PATH":         "/tmp/agentflow-test.db",
		"AGENTFLOW_LLM_GEMINI_API_KEY":          "test-api-key",
	})

	cfg, err := LoadFile(writeConfig(t, "agentflow.yaml", "llm:\n  max_retries: 1\n"))

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 3, cfg.Coordinator.WorkerCount)
	assert.Equal(t, 50, cfg.Coordinator.MaxQueueDepth)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/agentflow-test.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "test-api-key", cfg.LLM.GeminiAPIKey)
	assert.Equal(t, 1, cfg.LLM.MaxRetries, "file values should survive when no env override exists")
}

func TestLoadFromTOMLFile(t *testing.T) {
	setupEnv(t, map[string]string{
		"AGENTFLOW_STORAGE_BACKEND": "",
		"AGENTFLOW_STORAGE_FORMAT":  "",
	})

	path := writeConfig(t, "agentflow.toml", "[storage]\nbackend = \"memory\"\nformat = \"yaml\"\n")
	cfg, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "yaml", cfg.Storage.Format)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Error(t, err)
	assert.Nil(t, cfg)
}

// TestLoadValidationErrors verifies that invalid values are rejected.
func TestLoadValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		envVars map[string]string
	}{
		{
			name:    "Invalid port number",
			envVars: map[string]string{"AGENTFLOW_SERVER_PORT": "999999"},
		},
		{
			name:    "Invalid log level",
			envVars: map[string]string{"AGENTFLOW_SERVER_LOG_LEVEL": "invalid-level"},
		},
		{
			name:    "Zero workers",
			envVars: map[string]string{"AGENTFLOW_COORDINATOR_WORKER_COUNT": "0"},
		},
		{
			name:    "Unknown backend",
			envVars: map[string]string{"AGENTFLOW_STORAGE_BACKEND": "redis"},
		},
		{
			name: "Postgres without URL",
			envVars: map[string]string{
				"AGENTFLOW_STORAGE_BACKEND":      "postgres",
				"AGENTFLOW_STORAGE_DATABASE_URL": "",
			},
		},
		{
			name:    "Short JWT secret",
			envVars: map[string]string{"AGENTFLOW_AUTH_JWT_SECRET": "tooshort"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setupEnv(t, tc.envVars)

			cfg, err := LoadFile(writeConfig(t, "agentflow.yaml", "server:\n  port: 8080\n"))

			require.Error(t, err, "Load() should return an error with invalid configuration")
			assert.Contains(t, err.Error(), "validation failed")
			assert.Nil(t, cfg, "Config should be nil when an error occurs")
		})
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
