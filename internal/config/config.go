package config

import (
	"fmt"
	"time"
)

// Config is the full configuration surface from spec.md §6, read as a
// snapshot on start and on hot-reload.
type Config struct {
	Primary       PrimaryConfig       `koanf:"primary"`
	Queue         QueueConfig         `koanf:"queue"`
	Coordinator   CoordinatorConfig   `koanf:"coordinator"`
	Health        HealthConfig        `koanf:"health"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
	Fallback      FallbackConfig      `koanf:"fallback"`
	Servers       []ServerConfig      `koanf:"servers"`
	Manual        ManualOverrides     `koanf:"manual"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// PrimaryConfig describes the MongoDB connection used by C4 and C3's probe.
type PrimaryConfig struct {
	ConnectionURI string        `koanf:"connection_uri"`
	Database      string        `koanf:"database"`
	Collection    string        `koanf:"collection"`
	WriteTimeout  time.Duration `koanf:"write_timeout"`
	TTLDays       int           `koanf:"ttl_days"`
}

// QueueConfig sizes C1.
type QueueConfig struct {
	Capacity int `koanf:"capacity"`
}

// CoordinatorConfig sizes C7's batch assembly.
type CoordinatorConfig struct {
	BatchSize    int           `koanf:"batch_size"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
}

// HealthConfig configures C3.
type HealthConfig struct {
	Interval                 time.Duration `koanf:"interval"`
	ProbeTimeout              time.Duration `koanf:"probe_timeout"`
	FailureThreshold          int           `koanf:"failure_threshold"`
	LatencyDegradedThreshold time.Duration `koanf:"latency_degraded_threshold"`
}

// CircuitBreakerConfig configures C2.
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold"`
	Cooldown         time.Duration `koanf:"cooldown"`
}

// FallbackConfig configures C5/C6.
type FallbackConfig struct {
	Directory            string `koanf:"directory"`
	ArchiveRetentionDays int    `koanf:"archive_retention_days"`
}

// ManualOverrides lets an operator force C7's mode, taking precedence over
// health-driven selection.
type ManualOverrides struct {
	ForceFallback bool `koanf:"force_fallback"`
	ForceDryRun   bool `koanf:"force_dry_run"`
}

// LoggingConfig mirrors the teacher's logging surface, narrowed to the
// fields this agent actually exposes.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig describes one OPC UA endpoint and its subscriptions.
type ServerConfig struct {
	ID                     string           `koanf:"id"`
	DisplayName            string           `koanf:"display_name"`
	EndpointURL            string           `koanf:"endpoint_url"`
	Enabled                bool             `koanf:"enabled"`
	SessionTimeout         time.Duration    `koanf:"session_timeout"`
	KeepAliveInterval       time.Duration    `koanf:"keepalive_interval"`
	Subscriptions          []SubscriptionDef `koanf:"subscriptions"`
}

// SubscriptionDef describes one monitored item.
type SubscriptionDef struct {
	NodeID             string `koanf:"node_id"`
	DisplayName        string `koanf:"display_name"`
	BrowsePath         string `koanf:"browse_path"`
	SamplingIntervalMS int    `koanf:"sampling_interval_ms"`
	PublishIntervalMS  int    `koanf:"publish_interval_ms"`
	QueueSize          uint32 `koanf:"queue_size"`
	DiscardOldest      bool   `koanf:"discard_oldest"`
	Enabled            bool   `koanf:"enabled"`
}

// DefaultSessionTimeout and DefaultKeepAliveInterval back ServerConfig
// entries that leave their overrides at the zero value.
const (
	DefaultSessionTimeout    = 60 * time.Second
	DefaultKeepAliveInterval = 10 * time.Second
)

// EffectiveSessionTimeout returns sc.SessionTimeout, falling back to the
// agent-wide default when unset.
func (sc ServerConfig) EffectiveSessionTimeout() time.Duration {
	if sc.SessionTimeout > 0 {
		return sc.SessionTimeout
	}
	return DefaultSessionTimeout
}

// EffectiveKeepAliveInterval returns sc.KeepAliveInterval, falling back to
// the agent-wide default when unset.
func (sc ServerConfig) EffectiveKeepAliveInterval() time.Duration {
	if sc.KeepAliveInterval > 0 {
		return sc.KeepAliveInterval
	}
	return DefaultKeepAliveInterval
}

// Validate rejects configuration invariant violations per spec.md §7:
// missing server id or empty endpoint. No ServerRuntime is created for a
// rejected entry.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Servers))
	for i, sc := range c.Servers {
		if sc.ID == "" {
			return fmt.Errorf("servers[%d]: id must not be empty", i)
		}
		if sc.EndpointURL == "" {
			return fmt.Errorf("servers[%d] (%s): endpoint_url must not be empty", i, sc.ID)
		}
		if _, dup := seen[sc.ID]; dup {
			return fmt.Errorf("servers[%d]: duplicate server id %q", i, sc.ID)
		}
		seen[sc.ID] = struct{}{}
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if c.Coordinator.BatchSize <= 0 {
		return fmt.Errorf("coordinator.batch_size must be positive")
	}
	return nil
}
