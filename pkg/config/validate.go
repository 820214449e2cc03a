package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	providerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	baseURLPattern      = regexp.MustCompile(`^https?://[a-zA-Z0-9.-]+(:[0-9]+)?(/.*)?$`)
)

// MaxProviderNameLength is the longest accepted provider name.
const MaxProviderNameLength = 64

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "providers.p1.base_url").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateBindings(cfg)...)
	errs = append(errs, validateRouting(&cfg.Routing)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// ValidateProvider validates a single provider definition. It returns nil
// when the provider is valid.
func ValidateProvider(name string, p ProviderConfig) error {
	if errs := validateProvider(name, p); len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// ValidProviderName reports whether name is an acceptable provider key.
func ValidProviderName(name string) bool {
	return name != "" && len(name) <= MaxProviderNameLength && providerNamePattern.MatchString(name)
}

// validateProviders validates provider configurations in name order so
// errors are reported deterministically.
func validateProviders(providers map[string]ProviderConfig) []FieldError {
	var errs []FieldError

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		errs = append(errs, validateProvider(name, providers[name])...)
	}

	return errs
}

func validateProvider(name string, p ProviderConfig) []FieldError {
	var errs []FieldError
	prefix := "providers." + name

	if !ValidProviderName(name) {
		errs = append(errs, FieldError{
			Field:   prefix,
			Message: fmt.Sprintf("invalid provider name: must match %s and be at most %d characters", providerNamePattern, MaxProviderNameLength),
		})
	}

	// Credentials are only mandatory for providers that can be routed to.
	if p.IsEnabled() {
		if p.BaseURL == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".base_url",
				Message: "base URL is required",
			})
		}
		if p.APIKey == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".api_key",
				Message: "API key is required",
			})
		}
	}
	if p.BaseURL != "" && !baseURLPattern.MatchString(p.BaseURL) {
		errs = append(errs, FieldError{
			Field:   prefix + ".base_url",
			Message: fmt.Sprintf("invalid URL %q: must be an http or https URL", p.BaseURL),
		})
	}

	if p.CapabilityFlags < 0 || p.CapabilityFlags > MaxCapabilityFlags {
		errs = append(errs, FieldError{
			Field:   prefix + ".capability_flags",
			Message: fmt.Sprintf("capability flags must be between 0 and %d", MaxCapabilityFlags),
		})
	}
	if p.AvgResponseTimeMs < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".avg_response_time_ms",
			Message: "average response time must be non-negative",
		})
	}
	if p.CostPerOutputToken < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".cost_per_output_token",
			Message: "cost per output token must be non-negative",
		})
	}
	if p.PriorityScore < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".priority_score",
			Message: "priority score must be non-negative",
		})
	}
	if p.MaxConcurrentRequests < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".max_concurrent_requests",
			Message: "max concurrent requests must be non-negative",
		})
	}
	if p.MaxFailures < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".max_failures",
			Message: "max failures must be non-negative",
		})
	}
	if p.HealthCheckInterval < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".health_check_interval",
			Message: "health check interval must be non-negative",
		})
	}
	if p.RecoveryDelay < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".recovery_delay",
			Message: "recovery delay must be non-negative",
		})
	}
	if p.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".timeout",
			Message: "timeout must be positive",
		})
	}
	if p.RequestsPerSecond < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".requests_per_second",
			Message: "requests per second must be non-negative",
		})
	}

	return errs
}

// validateBindings checks that every specialized binding names a configured provider.
func validateBindings(cfg *Config) []FieldError {
	var errs []FieldError

	bindings := []struct {
		field string
		name  string
	}{
		{"default_provider", cfg.DefaultProvider},
		{"thinking_provider", cfg.ThinkingProvider},
		{"vision_provider", cfg.VisionProvider},
		{"tools_provider", cfg.ToolsProvider},
	}
	for _, b := range bindings {
		if b.name == "" {
			continue
		}
		if _, ok := cfg.Providers[b.name]; !ok {
			errs = append(errs, FieldError{
				Field:   b.field,
				Message: fmt.Sprintf("provider %q is not configured", b.name),
			})
		}
	}

	return errs
}

func validateRouting(cfg *RoutingConfig) []FieldError {
	var errs []FieldError

	if cfg.RetryBudget < 0 || cfg.RetryBudget > 10 {
		errs = append(errs, FieldError{
			Field:   "routing.retry_budget",
			Message: "retry budget must be between 0 and 10",
		})
	}
	if cfg.ProbeTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "routing.probe_timeout",
			Message: "probe timeout must be positive",
		})
	}
	if cfg.MetricsHistory < 0 {
		errs = append(errs, FieldError{
			Field:   "routing.metrics_history",
			Message: "metrics history must be non-negative",
		})
	}
	if cfg.EventBuffer < 0 {
		errs = append(errs, FieldError{
			Field:   "routing.event_buffer",
			Message: "event buffer must be non-negative",
		})
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.MaxHeaderBytes < 0 || cfg.MaxHeaderBytes > 10*1024*1024 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be between 0 and 10MB",
		})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_body_bytes",
			Message: "max body bytes must be non-negative",
		})
	}

	for _, name := range sortedKeys(cfg.AdminKeys) {
		if name == "" || cfg.AdminKeys[name] == "" {
			errs = append(errs, FieldError{
				Field:   "server.admin_keys." + name,
				Message: "admin key name and value must be non-empty",
			})
		}
	}
	errs = append(errs, validateTLS(&cfg.TLS)...)

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'console'", cfg.Logging.Format),
		})
	}

	for i, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}
	if cfg.Path == "" {
		errs = append(errs, FieldError{
			Field:   "storage.path",
			Message: "path is required when storage is enabled",
		})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{
			Field:   "storage.retention_days",
			Message: "retention days must be non-negative",
		})
	}

	return errs
}

func validateTLS(cfg *TLSConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled {
		if cfg.CertFile == "" {
			errs = append(errs, FieldError{
				Field:   "server.tls.cert_file",
				Message: "cert_file is required when TLS is enabled",
			})
		}
		if cfg.KeyFile == "" {
			errs = append(errs, FieldError{
				Field:   "server.tls.key_file",
				Message: "key_file is required when TLS is enabled",
			})
		}
	}
	switch cfg.MinVersion {
	case "", "1.2", "1.3":
	default:
		errs = append(errs, FieldError{
			Field:   "server.tls.min_version",
			Message: fmt.Sprintf("unsupported TLS version %q (must be 1.2 or 1.3)", cfg.MinVersion),
		})
	}
	switch cfg.ClientAuth {
	case "", "require", "request", "verify_if_given":
	default:
		errs = append(errs, FieldError{
			Field:   "server.tls.client_auth",
			Message: fmt.Sprintf("invalid client auth %q (must be require, request or verify_if_given)", cfg.ClientAuth),
		})
	}
	if cfg.ReloadInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "server.tls.reload_interval",
			Message: "reload interval must be non-negative",
		})
	}

	return errs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
