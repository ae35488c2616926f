package config

import (
	"time"

	"github.com/taskweave/taskweave/internal/gateway"
	"github.com/taskweave/taskweave/internal/resilience"
)

// AgentConfig binds an agent capability name to its invoke endpoint.
type AgentConfig struct {
	Endpoint    string `json:"endpoint"`              // URL the gateway POSTs task invocations to
	Description string `json:"description,omitempty"` // Free text, for humans
}

// GatewaySettings configures the HTTP gateway.
type GatewaySettings struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty"` // Per-call timeout (default 60)
}

// RetrySettings configures the error handler's retry policy.
type RetrySettings struct {
	MaxRetries        int     `json:"max_retries,omitempty"`         // Re-invocations after the first attempt (default 3)
	InitialIntervalMS int     `json:"initial_interval_ms,omitempty"` // First backoff delay (default 100)
	MaxIntervalMS     int     `json:"max_interval_ms,omitempty"`     // Backoff ceiling (default 10000)
	MaxElapsedSeconds int     `json:"max_elapsed_seconds,omitempty"` // Total retry budget (default 120)
	Multiplier        float64 `json:"multiplier,omitempty"`          // Backoff multiplier (default 2.0)
}

// BreakerSettings configures per-agent circuit breakers.
type BreakerSettings struct {
	Threshold       uint32 `json:"threshold,omitempty"`        // Consecutive failures before opening (default 5)
	CooldownSeconds int    `json:"cooldown_seconds,omitempty"` // Open duration before half-open probes (default 30)
	ProbeRequests   uint32 `json:"probe_requests,omitempty"`   // Calls admitted while half-open (default 3)
}

// EngineConfig is the top-level configuration.
type EngineConfig struct {
	Agents           map[string]AgentConfig `json:"agents"`
	Gateway          GatewaySettings        `json:"gateway"`
	Retry            RetrySettings          `json:"retry"`
	Breaker          BreakerSettings        `json:"breaker"`
	ConcurrencyLimit int64                  `json:"concurrency_limit,omitempty"` // Max in-flight invocations (default 8)
	LogLevel         string                 `json:"log_level,omitempty"`         // debug, info, warn, error
	AuditDB          string                 `json:"audit_db,omitempty"`          // SQLite path; empty disables audit
}

// GatewayConfig converts the settings into the gateway's config type.
func (c *EngineConfig) GatewayConfig() gateway.HTTPConfig {
	endpoints := make(map[string]string, len(c.Agents))
	for name, agent := range c.Agents {
		endpoints[name] = agent.Endpoint
	}

	timeout := time.Duration(c.Gateway.TimeoutSeconds) * time.Second
	return gateway.HTTPConfig{Endpoints: endpoints, Timeout: timeout}
}

// RetryConfig converts the settings into the resilience retry config,
// falling back to defaults for unset fields.
func (c *EngineConfig) RetryConfig() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if c.Retry.MaxRetries > 0 {
		cfg.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.InitialIntervalMS > 0 {
		cfg.InitialInterval = time.Duration(c.Retry.InitialIntervalMS) * time.Millisecond
	}
	if c.Retry.MaxIntervalMS > 0 {
		cfg.MaxInterval = time.Duration(c.Retry.MaxIntervalMS) * time.Millisecond
	}
	if c.Retry.MaxElapsedSeconds > 0 {
		cfg.MaxElapsedTime = time.Duration(c.Retry.MaxElapsedSeconds) * time.Second
	}
	if c.Retry.Multiplier > 1 {
		cfg.Multiplier = c.Retry.Multiplier
	}
	return cfg
}

// BreakerConfig converts the settings into the resilience breaker config.
func (c *EngineConfig) BreakerConfig() resilience.BreakerConfig {
	cfg := resilience.DefaultBreakerConfig()
	if c.Breaker.Threshold > 0 {
		cfg.Threshold = c.Breaker.Threshold
	}
	if c.Breaker.CooldownSeconds > 0 {
		cfg.Cooldown = time.Duration(c.Breaker.CooldownSeconds) * time.Second
	}
	if c.Breaker.ProbeRequests > 0 {
		cfg.ProbeRequests = c.Breaker.ProbeRequests
	}
	return cfg
}
