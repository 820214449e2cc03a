package config

import "time"

// Capability bits accepted in ProviderConfig.CapabilityFlags.
const (
	FlagThinking = 1 << iota
	FlagVision
	FlagTools
	FlagStreaming
	FlagJSONMode
	FlagFunctionCalling

	// MaxCapabilityFlags is the largest valid capability bitmask.
	MaxCapabilityFlags = 1<<6 - 1
)

// Config is the root configuration structure for the aimux gateway.
// The top-level routing keys mirror the JSON document the gateway has always
// accepted, so a plain JSON file loads unchanged (YAML is a JSON superset).
type Config struct {
	// DefaultProvider is used when no candidate survives health and
	// capability filtering.
	DefaultProvider string `yaml:"default_provider" json:"default_provider"`

	// ThinkingProvider is the specialized binding for reasoning requests.
	ThinkingProvider string `yaml:"thinking_provider" json:"thinking_provider"`

	// VisionProvider is the specialized binding for requests carrying images.
	VisionProvider string `yaml:"vision_provider" json:"vision_provider"`

	// ToolsProvider is the specialized binding for tool-use requests.
	ToolsProvider string `yaml:"tools_provider" json:"tools_provider"`

	// Providers contains every backend provider keyed by its unique name.
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers"`

	// Routing contains gateway-level routing settings.
	Routing RoutingConfig `yaml:"routing" json:"routing"`

	// Server contains HTTP server configuration.
	Server ServerConfig `yaml:"server" json:"server"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// Storage contains configuration snapshot persistence settings.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Reload controls configuration hot reload.
	Reload ReloadConfig `yaml:"reload" json:"reload"`
}

// ProviderConfig contains configuration for a single backend provider.
type ProviderConfig struct {
	// BaseURL is the base URL for the provider's API endpoint.
	// Example: "https://api.anthropic.com"
	BaseURL string `yaml:"base_url" json:"base_url"`

	// APIKey is the credential used to authenticate with the provider.
	// Never logged. Can be overridden with AIMUX_PROVIDERS_<NAME>_API_KEY.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Models lists the model identifiers served by the provider.
	Models []string `yaml:"models" json:"models"`

	// CapabilityFlags is a capability bitmask (1 thinking, 2 vision, 4 tools,
	// 8 streaming, 16 json mode, 32 function calling). It is OR-ed with the
	// Supports* booleans.
	CapabilityFlags int `yaml:"capability_flags" json:"capability_flags"`

	SupportsThinking  bool `yaml:"supports_thinking" json:"supports_thinking"`
	SupportsVision    bool `yaml:"supports_vision" json:"supports_vision"`
	SupportsTools     bool `yaml:"supports_tools" json:"supports_tools"`
	SupportsStreaming bool `yaml:"supports_streaming" json:"supports_streaming"`

	// AvgResponseTimeMs is the expected latency used for weighting.
	// Default: 1000
	AvgResponseTimeMs float64 `yaml:"avg_response_time_ms" json:"avg_response_time_ms"`

	// CostPerOutputToken is the price of one output token in dollars.
	// Default: 0
	CostPerOutputToken float64 `yaml:"cost_per_output_token" json:"cost_per_output_token"`

	// MaxConcurrentRequests caps in-flight dispatches to this provider.
	// Default: 10
	MaxConcurrentRequests int `yaml:"max_concurrent_requests" json:"max_concurrent_requests"`

	// HealthCheckInterval is the probe interval in seconds.
	// Default: 60
	HealthCheckInterval int `yaml:"health_check_interval" json:"health_check_interval"`

	// MaxFailures is the consecutive failure count that opens the circuit.
	// Default: 5
	MaxFailures int `yaml:"max_failures" json:"max_failures"`

	// RecoveryDelay is the number of seconds an unhealthy provider waits
	// before a successful request may close the circuit.
	// Default: 300
	RecoveryDelay int `yaml:"recovery_delay" json:"recovery_delay"`

	// PriorityScore is the operator-assigned weight favoring this provider.
	// Default: 100
	PriorityScore float64 `yaml:"priority_score" json:"priority_score"`

	// Enabled is the operator toggle, independent of health.
	// Default: true
	Enabled *bool `yaml:"enabled" json:"enabled"`

	// Timeout bounds a single dispatch to the provider.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// RequestsPerSecond limits outbound dispatch rate (0 = unlimited).
	// Default: 0
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// HealthPath is appended to BaseURL for background probes.
	// Default: "" (probe the base URL)
	HealthPath string `yaml:"health_path" json:"health_path"`
}

// IsEnabled reports whether the provider is enabled. A missing value means enabled.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Flags returns the effective capability bitmask.
func (p ProviderConfig) Flags() int {
	flags := p.CapabilityFlags
	if p.SupportsThinking {
		flags |= FlagThinking
	}
	if p.SupportsVision {
		flags |= FlagVision
	}
	if p.SupportsTools {
		flags |= FlagTools
	}
	if p.SupportsStreaming {
		flags |= FlagStreaming
	}
	return flags
}

// HealthCheckIntervalDuration returns HealthCheckInterval as a duration.
func (p ProviderConfig) HealthCheckIntervalDuration() time.Duration {
	return time.Duration(p.HealthCheckInterval) * time.Second
}

// RecoveryDelayDuration returns RecoveryDelay as a duration.
func (p ProviderConfig) RecoveryDelayDuration() time.Duration {
	return time.Duration(p.RecoveryDelay) * time.Second
}

// RoutingConfig contains gateway-level routing configuration.
type RoutingConfig struct {
	// RetryBudget is the number of failover attempts after the first dispatch.
	// Default: 2
	RetryBudget int `yaml:"retry_budget" json:"retry_budget"`

	// ProbeTimeout bounds a single background health probe.
	// Default: 5s
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// MetricsHistory is the number of recent request metrics retained.
	// Default: 10000
	MetricsHistory int `yaml:"metrics_history" json:"metrics_history"`

	// EventBuffer is the per-subscriber buffer for route events.
	// Default: 256
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address" json:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Default: 120s
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// MaxBodyBytes limits request body size.
	// Default: 10485760 (10MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes"`

	// AdminKeys maps a key name to an API key. When set, the /admin routes
	// and the event stream require one of these keys.
	AdminKeys map[string]string `yaml:"admin_keys" json:"-"`

	// TLS serves HTTPS instead of plain HTTP.
	TLS TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig contains listener TLS settings.
type TLSConfig struct {
	// Enabled turns on TLS for the listener.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// CertFile is the path to the PEM-encoded certificate chain.
	CertFile string `yaml:"cert_file" json:"cert_file"`

	// KeyFile is the path to the PEM-encoded private key.
	KeyFile string `yaml:"key_file" json:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version" json:"min_version"`

	// CipherSuites restricts TLS 1.2 cipher suites by name. Empty uses the
	// Go defaults.
	CipherSuites []string `yaml:"cipher_suites" json:"cipher_suites,omitempty"`

	// ReloadInterval is how often the certificate files are checked for
	// changes.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval" json:"reload_interval"`

	// ClientCAFile enables client certificate verification against this CA.
	ClientCAFile string `yaml:"client_ca_file" json:"client_ca_file,omitempty"`

	// ClientAuth is "require", "request" or "verify_if_given".
	// Default: "require" when ClientCAFile is set
	ClientAuth string `yaml:"client_auth" json:"client_auth,omitempty"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level" json:"level"`

	// Format controls the log output format.
	// Options: "json", "console"
	// Default: "json"
	Format string `yaml:"format" json:"format"`

	// RedactPatterns contains additional redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns" json:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	Name        string `yaml:"name" json:"name"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// MetricsConfig contains Prometheus exporter configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus exporter is registered.
	// Default: true
	Enabled *bool `yaml:"enabled" json:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path" json:"path"`

	// Namespace is the metric name prefix.
	// Default: "aimux"
	Namespace string `yaml:"namespace" json:"namespace"`
}

// IsEnabled reports whether the exporter is enabled. A missing value means enabled.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig contains tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ServiceName is the service name attached to spans.
	// Default: "aimux-gateway"
	ServiceName string `yaml:"service_name" json:"service_name"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`

	// PrettyPrint formats exported spans for humans.
	// Default: false
	PrettyPrint bool `yaml:"pretty_print" json:"pretty_print"`
}

// StorageConfig contains configuration snapshot persistence settings.
type StorageConfig struct {
	// Enabled turns on the SQLite snapshot store.
	// Default: false
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the database file path.
	// Default: "data/aimux.db"
	Path string `yaml:"path" json:"path"`

	// SnapshotSchedule is a cron expression for periodic snapshots.
	// Default: "*/15 * * * *"
	SnapshotSchedule string `yaml:"snapshot_schedule" json:"snapshot_schedule"`

	// RetentionDays is how long snapshots are kept.
	// Default: 30
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

// ReloadConfig controls configuration file watching.
type ReloadConfig struct {
	// Enabled turns on hot reload of the configuration file.
	// Default: false
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Debounce is the quiet period before a change triggers a reload.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}
