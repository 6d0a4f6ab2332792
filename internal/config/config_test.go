// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation failures

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/reconnect"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "chat.yaml", `
gateway:
  url: "https://gateway.example.com"
  transport: "websocket"
  sender: "alice"

stream:
  task_tool: "spawn"
  failure_prefix: "FAILED"

reconnect:
  attempts: 3
  base_delay: "250ms"

replay:
  phrases:
    answered: ["Answer received"]

database:
  driver: "sqlite3"
  path: "/tmp/chat.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://gateway.example.com", cfg.Gateway.URL)
	assert.Equal(t, TransportWebSocket, cfg.Gateway.Transport)
	assert.Equal(t, "alice", cfg.Gateway.Sender)
	assert.Equal(t, "spawn", cfg.Stream.TaskTool)
	assert.Equal(t, "FAILED", cfg.Stream.FailurePrefix)
	// Unset stream fields keep their defaults.
	assert.Equal(t, "main", cfg.Stream.MainAgent)
	assert.Equal(t, 3, cfg.Reconnect.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, []string{"Answer received"}, cfg.Replay.Phrases.Answered)
	assert.Equal(t, []string{"skipped"}, cfg.Replay.Phrases.Skipped)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "/tmp/chat.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "chat.toml", `
[gateway]
url = "http://localhost:9999"

[reconnect]
attempts = 2
base_delay = "2s"

[replay.phrases]
rejected = ["nope"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9999", cfg.Gateway.URL)
	assert.Equal(t, TransportSSE, cfg.Gateway.Transport)
	assert.Equal(t, reconnect.Policy{Attempts: 2, Base: 2 * time.Second}, cfg.ReconnectPolicy())
	assert.Equal(t, []string{"nope"}, cfg.Replay.Phrases.Rejected)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_GATEWAY_URL", "https://env.example.com")
	t.Setenv("TEST_TOKEN", "secret-token")

	path := writeConfig(t, "chat.yaml", `
gateway:
  url: "${TEST_GATEWAY_URL}"
  token: "${TEST_TOKEN}"
  sender: "${TEST_UNSET_VARIABLE}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Gateway.URL)
	assert.Equal(t, "secret-token", cfg.Gateway.Token)
	assert.Empty(t, cfg.Gateway.Sender)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid yaml", "gateway: [", "parsing config file"},
		{"bad duration", "reconnect:\n  base_delay: \"soon\"", "parsing base_delay"},
		{"bad scheme", "gateway:\n  url: \"ftp://x\"", "http or https"},
		{"empty url", "gateway:\n  url: \"\"", "gateway.url is required"},
		{"bad transport", "gateway:\n  transport: \"grpc\"", "gateway.transport"},
		{"bad driver", "database:\n  driver: \"postgres\"", "database.driver"},
		{"bad format", "logging:\n  format: \"xml\"", "logging.format"},
		{"negative attempts", "reconnect:\n  attempts: -1", "reconnect.attempts"},
		{"zero delay", "reconnect:\n  base_delay: \"0s\"", "reconnect.base_delay"},
		{"main is task", "stream:\n  main_agent: \"task:main\"", "task_marker"},
		{"main is tool", "stream:\n  main_agent: \"tools\"", "must differ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "chat.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDefault(t *testing.T) {
	t.Run("missing file gives defaults", func(t *testing.T) {
		t.Setenv(PathEnv, filepath.Join(t.TempDir(), "none.yaml"))
		cfg, err := LoadDefault()
		require.NoError(t, err)
		assert.Equal(t, Default().Gateway, cfg.Gateway)
	})

	t.Run("env path wins", func(t *testing.T) {
		t.Setenv(PathEnv, writeConfig(t, "chat.yaml", "gateway:\n  url: \"http://picked:1\""))
		cfg, err := LoadDefault()
		require.NoError(t, err)
		assert.Equal(t, "http://picked:1", cfg.Gateway.URL)
	})
}

func TestPath_XDG(t *testing.T) {
	t.Setenv(PathEnv, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	p, err := Path()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/xdg", "coven", "chat.yaml"), p)
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, reconnect.DefaultPolicy(), cfg.ReconnectPolicy())
}

func TestConfig_ThreadOptions(t *testing.T) {
	cfg := Default()
	cfg.Stream.TaskMarker = "sub:"
	cfg.Stream.TaskTool = "delegate"

	opts := cfg.ThreadOptions()
	assert.Equal(t, "main", opts.Markers.Main)
	assert.Equal(t, "tools", opts.Markers.ToolExecutor)
	assert.Equal(t, "sub:", opts.Markers.Task)
	assert.Equal(t, "delegate", opts.Assembler.TaskToolName)
	assert.Equal(t, "ERROR", opts.Assembler.FailurePrefix)
	assert.Equal(t, cfg.Replay.Phrases, opts.Phrases)
}
