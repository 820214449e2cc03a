package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "AIMUX_"

// LoadConfig loads configuration from a YAML or JSON file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a file and applies
// environment variable overrides. Environment variables follow the naming
// convention AIMUX_SECTION_FIELD (e.g., AIMUX_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Parse the file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
//
// Overrides are applied before validation so credentials may live only in
// the environment.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes a configuration document and applies defaults. It does not
// validate; callers decide when to call Validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format AIMUX_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Bindings
	if val := os.Getenv("AIMUX_DEFAULT_PROVIDER"); val != "" {
		cfg.DefaultProvider = val
	}
	if val := os.Getenv("AIMUX_THINKING_PROVIDER"); val != "" {
		cfg.ThinkingProvider = val
	}
	if val := os.Getenv("AIMUX_VISION_PROVIDER"); val != "" {
		cfg.VisionProvider = val
	}
	if val := os.Getenv("AIMUX_TOOLS_PROVIDER"); val != "" {
		cfg.ToolsProvider = val
	}

	// Server overrides
	if val := os.Getenv("AIMUX_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("AIMUX_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("AIMUX_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if val := os.Getenv("AIMUX_SERVER_ADMIN_KEY"); val != "" {
		if cfg.Server.AdminKeys == nil {
			cfg.Server.AdminKeys = make(map[string]string)
		}
		cfg.Server.AdminKeys["env"] = val
	}
	if val := os.Getenv("AIMUX_SERVER_TLS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Server.TLS.Enabled = b
		}
	}
	if val := os.Getenv("AIMUX_SERVER_TLS_CERT_FILE"); val != "" {
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("AIMUX_SERVER_TLS_KEY_FILE"); val != "" {
		cfg.Server.TLS.KeyFile = val
	}

	// Routing overrides
	if val := os.Getenv("AIMUX_ROUTING_RETRY_BUDGET"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Routing.RetryBudget = i
		}
	}

	// Telemetry overrides
	if val := os.Getenv("AIMUX_LOG_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("AIMUX_LOG_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("AIMUX_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}

	// Storage overrides
	if val := os.Getenv("AIMUX_STORAGE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Storage.Enabled = b
		}
	}
	if val := os.Getenv("AIMUX_STORAGE_PATH"); val != "" {
		cfg.Storage.Path = val
	}

	for name := range cfg.Providers {
		applyProviderEnvOverrides(cfg, name)
	}
}

// applyProviderEnvOverrides applies environment variable overrides for a specific provider.
// Provider environment variables follow the format AIMUX_PROVIDERS_<NAME>_<FIELD>
// where NAME is the uppercase provider name with dashes replaced by underscores.
func applyProviderEnvOverrides(cfg *Config, providerName string) {
	provider := cfg.Providers[providerName]
	prefix := ProviderEnvPrefix(providerName)

	if val := os.Getenv(prefix + "BASE_URL"); val != "" {
		provider.BaseURL = val
	}
	if val := os.Getenv(prefix + "API_KEY"); val != "" {
		provider.APIKey = val
	}
	if val := os.Getenv(prefix + "ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			provider.Enabled = &b
		}
	}
	if val := os.Getenv(prefix + "PRIORITY_SCORE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			provider.PriorityScore = f
		}
	}

	cfg.Providers[providerName] = provider
}

// ProviderEnvPrefix returns the environment variable prefix for a provider.
func ProviderEnvPrefix(providerName string) string {
	name := strings.ToUpper(strings.ReplaceAll(providerName, "-", "_"))
	return EnvPrefix + "PROVIDERS_" + name + "_"
}
