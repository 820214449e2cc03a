package config

import "time"

// Default values for configuration fields.
const (
	// Provider defaults
	DefaultAvgResponseTimeMs     = 1000.0
	DefaultMaxConcurrentRequests = 10
	DefaultHealthCheckInterval   = 60 // seconds
	DefaultMaxFailures           = 5
	DefaultRecoveryDelay         = 300 // seconds
	DefaultPriorityScore         = 100.0
	DefaultProviderTimeout       = 60 * time.Second

	// Routing defaults
	DefaultRetryBudget    = 2
	DefaultProbeTimeout   = 5 * time.Second
	DefaultMetricsHistory = 10000
	DefaultEventBuffer    = 256

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 120 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576  // 1MB
	DefaultMaxBodyBytes    = 10485760 // 10MB

	// TLS defaults
	DefaultTLSMinVersion     = "1.3"
	DefaultTLSReloadInterval = 5 * time.Minute

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "aimux"
	DefaultTracingServiceName = "aimux-gateway"
	DefaultTracingSampleRatio = 1.0

	// Storage defaults
	DefaultStoragePath      = "data/aimux.db"
	DefaultSnapshotSchedule = "*/15 * * * *"
	DefaultRetentionDays    = 30
	DefaultBusyTimeout      = 5 * time.Second

	// Reload defaults
	DefaultReloadDebounce = 250 * time.Millisecond
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	for name, p := range cfg.Providers {
		ApplyProviderDefaults(&p)
		cfg.Providers[name] = p
	}

	// Routing
	if cfg.Routing.RetryBudget == 0 {
		cfg.Routing.RetryBudget = DefaultRetryBudget
	}
	if cfg.Routing.ProbeTimeout == 0 {
		cfg.Routing.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Routing.MetricsHistory == 0 {
		cfg.Routing.MetricsHistory = DefaultMetricsHistory
	}
	if cfg.Routing.EventBuffer == 0 {
		cfg.Routing.EventBuffer = DefaultEventBuffer
	}

	// Server
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ReloadInterval == 0 {
		cfg.Server.TLS.ReloadInterval = DefaultTLSReloadInterval
	}
	if cfg.Server.TLS.ClientCAFile != "" && cfg.Server.TLS.ClientAuth == "" {
		cfg.Server.TLS.ClientAuth = "require"
	}

	// Telemetry
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}

	// Storage
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.SnapshotSchedule == "" {
		cfg.Storage.SnapshotSchedule = DefaultSnapshotSchedule
	}
	if cfg.Storage.RetentionDays == 0 {
		cfg.Storage.RetentionDays = DefaultRetentionDays
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultBusyTimeout
	}

	if cfg.Reload.Debounce == 0 {
		cfg.Reload.Debounce = DefaultReloadDebounce
	}
}

// ApplyProviderDefaults fills zero-valued provider fields. It is used both
// for file-loaded providers and for providers added at runtime.
func ApplyProviderDefaults(p *ProviderConfig) {
	if p.AvgResponseTimeMs == 0 {
		p.AvgResponseTimeMs = DefaultAvgResponseTimeMs
	}
	if p.MaxConcurrentRequests == 0 {
		p.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if p.HealthCheckInterval == 0 {
		p.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if p.MaxFailures == 0 {
		p.MaxFailures = DefaultMaxFailures
	}
	if p.RecoveryDelay == 0 {
		p.RecoveryDelay = DefaultRecoveryDelay
	}
	if p.PriorityScore == 0 {
		p.PriorityScore = DefaultPriorityScore
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultProviderTimeout
	}
}
