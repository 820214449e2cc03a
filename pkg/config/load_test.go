package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonConfig = `{
  "default_provider": "anthropic",
  "thinking_provider": "deepseek",
  "vision_provider": "",
  "tools_provider": "anthropic",
  "providers": {
    "anthropic": {
      "base_url": "https://api.anthropic.com",
      "api_key": "sk-ant-test-key-123456",
      "models": ["claude-sonnet-4"],
      "supports_tools": true,
      "supports_vision": true,
      "priority_score": 90,
      "cost_per_output_token": 0.000015
    },
    "deepseek": {
      "base_url": "https://api.deepseek.com",
      "api_key": "sk-deepseek-test-123456",
      "capability_flags": 9,
      "max_failures": 3,
      "recovery_delay": 60,
      "enabled": true
    }
  }
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "aimux.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_JSONDocument(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, jsonConfig))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.DefaultProvider)
	assert.Equal(t, "deepseek", cfg.ThinkingProvider)
	assert.Equal(t, "anthropic", cfg.ToolsProvider)
	require.Len(t, cfg.Providers, 2)

	anthropic := cfg.Providers["anthropic"]
	assert.Equal(t, []string{"claude-sonnet-4"}, anthropic.Models)
	assert.Equal(t, 90.0, anthropic.PriorityScore)
	assert.Equal(t, FlagVision|FlagTools, anthropic.Flags())
	assert.True(t, anthropic.IsEnabled())
	assert.Equal(t, DefaultMaxFailures, anthropic.MaxFailures)

	deepseek := cfg.Providers["deepseek"]
	assert.Equal(t, FlagThinking|FlagStreaming, deepseek.Flags())
	assert.Equal(t, 3, deepseek.MaxFailures)
	assert.Equal(t, 60, deepseek.RecoveryDelay)
	assert.Equal(t, DefaultPriorityScore, deepseek.PriorityScore)
}

func TestLoadConfig_YAMLDocument(t *testing.T) {
	yamlDoc := `
default_provider: p1
providers:
  p1:
    base_url: http://localhost:9000
    api_key: local-key-0123456789
    supports_thinking: true
server:
  listen_address: "0.0.0.0:9090"
  read_timeout: 5s
routing:
  retry_budget: 3
`
	cfg, err := LoadConfig(writeConfig(t, yamlDoc))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.ListenAddress)
	assert.Equal(t, "5s", cfg.Server.ReadTimeout.String())
	assert.Equal(t, 3, cfg.Routing.RetryBudget)
	assert.True(t, cfg.Providers["p1"].SupportsThinking)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "malformed document",
			content: `{"providers": [`,
		},
		{
			name:    "missing base url",
			content: `{"providers": {"p1": {"api_key": "key"}}}`,
		},
		{
			name:    "missing api key",
			content: `{"providers": {"p1": {"base_url": "https://example.com"}}}`,
		},
		{
			name:    "binding to unknown provider",
			content: `{"default_provider": "ghost", "providers": {}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"providers": {"my-provider": {"base_url": "https://example.com"}}}`)

	t.Setenv("AIMUX_PROVIDERS_MY_PROVIDER_API_KEY", "env-key-0123456789")
	t.Setenv("AIMUX_SERVER_LISTEN_ADDRESS", "127.0.0.1:7777")
	t.Setenv("AIMUX_LOG_LEVEL", "debug")
	t.Setenv("AIMUX_ROUTING_RETRY_BUDGET", "4")
	t.Setenv("AIMUX_SERVER_ADMIN_KEY", "admin-key-0123456789")
	t.Setenv("AIMUX_SERVER_TLS_CERT_FILE", "/etc/aimux/server.crt")

	cfg, err := LoadConfigWithEnvOverrides(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"env": "admin-key-0123456789"}, cfg.Server.AdminKeys)
	assert.Equal(t, "/etc/aimux/server.crt", cfg.Server.TLS.CertFile)
	assert.False(t, cfg.Server.TLS.Enabled)

	assert.Equal(t, "env-key-0123456789", cfg.Providers["my-provider"].APIKey)
	assert.Equal(t, "127.0.0.1:7777", cfg.Server.ListenAddress)
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
	assert.Equal(t, 4, cfg.Routing.RetryBudget)
}

func TestProviderEnvPrefix(t *testing.T) {
	assert.Equal(t, "AIMUX_PROVIDERS_OPEN_AI_", ProviderEnvPrefix("open-ai"))
	assert.Equal(t, "AIMUX_PROVIDERS_P1_", ProviderEnvPrefix("p1"))
}
