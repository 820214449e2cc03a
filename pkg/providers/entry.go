package providers

import (
	"fmt"
	"time"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/logging"
)

// HealthState is the circuit-breaker state of a provider.
type HealthState int

const (
	// HealthHealthy providers are eligible for routing.
	HealthHealthy HealthState = iota
	// HealthUnhealthy providers are excluded until they recover.
	HealthUnhealthy
)

// String returns "HEALTHY" or "UNHEALTHY".
func (s HealthState) String() string {
	if s == HealthUnhealthy {
		return "UNHEALTHY"
	}
	return "HEALTHY"
}

// MarshalText implements encoding.TextMarshaler.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *HealthState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "HEALTHY":
		*s = HealthHealthy
	case "UNHEALTHY":
		*s = HealthUnhealthy
	default:
		return fmt.Errorf("unknown health state %q", b)
	}
	return nil
}

// Capabilities lists the features a provider supports.
type Capabilities struct {
	Thinking        bool `json:"thinking"`
	Vision          bool `json:"vision"`
	Tools           bool `json:"tools"`
	Streaming       bool `json:"streaming"`
	JSONMode        bool `json:"json_mode"`
	FunctionCalling bool `json:"function_calling"`
}

// CapabilitiesFromFlags decodes a capability bitmask.
func CapabilitiesFromFlags(flags int) Capabilities {
	return Capabilities{
		Thinking:        flags&config.FlagThinking != 0,
		Vision:          flags&config.FlagVision != 0,
		Tools:           flags&config.FlagTools != 0,
		Streaming:       flags&config.FlagStreaming != 0,
		JSONMode:        flags&config.FlagJSONMode != 0,
		FunctionCalling: flags&config.FlagFunctionCalling != 0,
	}
}

// Flags encodes the capabilities as a bitmask.
func (c Capabilities) Flags() int {
	var flags int
	if c.Thinking {
		flags |= config.FlagThinking
	}
	if c.Vision {
		flags |= config.FlagVision
	}
	if c.Tools {
		flags |= config.FlagTools
	}
	if c.Streaming {
		flags |= config.FlagStreaming
	}
	if c.JSONMode {
		flags |= config.FlagJSONMode
	}
	if c.FunctionCalling {
		flags |= config.FlagFunctionCalling
	}
	return flags
}

// Supports reports whether the provider has the given capability. The empty
// capability is always supported. Function calling counts as tool support.
func (c Capabilities) Supports(capability routing.Capability) bool {
	switch capability {
	case "":
		return true
	case routing.CapabilityThinking:
		return c.Thinking
	case routing.CapabilityVision:
		return c.Vision
	case routing.CapabilityTools:
		return c.Tools || c.FunctionCalling
	case routing.CapabilityStreaming:
		return c.Streaming
	default:
		return false
	}
}

// SupportsAll reports whether every listed capability is supported.
func (c Capabilities) SupportsAll(required []routing.Capability) bool {
	for _, capability := range required {
		if !c.Supports(capability) {
			return false
		}
	}
	return true
}

// Performance holds the figures used to weight load-balancing.
type Performance struct {
	AvgResponseTimeMs  float64 `json:"avg_response_time_ms"`
	CostPerOutputToken float64 `json:"cost_per_output_token"`
	PriorityScore      float64 `json:"priority_score"`
}

// Limits bounds how a provider is used and when its circuit opens.
type Limits struct {
	MaxConcurrentRequests int           `json:"max_concurrent_requests"`
	MaxFailures           int           `json:"max_failures"`
	RecoveryDelay         time.Duration `json:"recovery_delay"`
	HealthCheckInterval   time.Duration `json:"health_check_interval"`
	Timeout               time.Duration `json:"timeout"`
	RequestsPerSecond     float64       `json:"requests_per_second"`
}

// Entry is the registry record for one provider. Entries returned by the
// Registry are copies; mutating them has no effect on the registry.
type Entry struct {
	Name       string   `json:"name"`
	BaseURL    string   `json:"base_url"`
	APIKey     string   `json:"api_key"`
	Models     []string `json:"models"`
	HealthPath string   `json:"health_path,omitempty"`

	Capabilities Capabilities `json:"capabilities"`
	Performance  Performance  `json:"performance"`
	Limits       Limits       `json:"limits"`
	Enabled      bool         `json:"enabled"`

	Health         HealthState `json:"health"`
	FailureCount   int         `json:"failure_count"`
	UnhealthySince time.Time   `json:"unhealthy_since,omitempty"`
	LastCheck      time.Time   `json:"last_check,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
}

// EntryFromConfig builds a healthy entry from provider configuration.
// Defaults are expected to have been applied to pc.
func EntryFromConfig(name string, pc config.ProviderConfig) Entry {
	return Entry{
		Name:         name,
		BaseURL:      pc.BaseURL,
		APIKey:       pc.APIKey,
		Models:       append([]string(nil), pc.Models...),
		HealthPath:   pc.HealthPath,
		Capabilities: CapabilitiesFromFlags(pc.Flags()),
		Performance: Performance{
			AvgResponseTimeMs:  pc.AvgResponseTimeMs,
			CostPerOutputToken: pc.CostPerOutputToken,
			PriorityScore:      pc.PriorityScore,
		},
		Limits: Limits{
			MaxConcurrentRequests: pc.MaxConcurrentRequests,
			MaxFailures:           pc.MaxFailures,
			RecoveryDelay:         pc.RecoveryDelayDuration(),
			HealthCheckInterval:   pc.HealthCheckIntervalDuration(),
			Timeout:               pc.Timeout,
			RequestsPerSecond:     pc.RequestsPerSecond,
		},
		Enabled: pc.IsEnabled(),
		Health:  HealthHealthy,
	}
}

// Healthy reports whether the entry is healthy.
func (e Entry) Healthy() bool {
	return e.Health == HealthHealthy
}

// Routable reports whether the entry is enabled and healthy.
func (e Entry) Routable() bool {
	return e.Enabled && e.Healthy()
}

// Redacted returns a copy of the entry with the credential masked.
func (e Entry) Redacted() Entry {
	out := e.clone()
	out.APIKey = logging.RedactAPIKey(e.APIKey)
	return out
}

func (e Entry) clone() Entry {
	out := e
	out.Models = append([]string(nil), e.Models...)
	return out
}
