/*
Package config loads the agent's configuration surface from layered
sources: built-in defaults, an optional YAML file, and environment
variables, in that order of increasing precedence.

# Configuration Structure

  - PrimaryConfig: MongoDB connection string, database/collection names,
    write timeout, TTL index lifetime.
  - QueueConfig: ingress queue capacity (C1).
  - CoordinatorConfig: batch size and batch assembly timeout (C7).
  - HealthConfig: probe interval/timeout and classification thresholds (C3).
  - CircuitBreakerConfig: failure threshold and cooldown (C2).
  - FallbackConfig: local file directory and archive retention (C5/C6).
  - ManualOverrides: operator-forced persistence mode.
  - []ServerConfig: one entry per OPC UA endpoint, each carrying its
    []SubscriptionDef.

# Environment Variables

All variables are prefixed DAQAGENT_ and map onto dotted koanf paths via
envTransformFunc, e.g. DAQAGENT_PRIMARY_CONNECTION_URI ->
primary.connection_uri. The server/subscription list is not settable
through the environment; it comes from the config file or the external
configuration store.

# Validation

Load rejects a configuration with an empty server id, an empty endpoint
URL, or a duplicate server id — these are the intake-time invariant
violations named in spec.md §7. No ServerRuntime is created for a
rejected entry.

# Thread Safety

The returned *Config is not mutated after Load returns and is safe for
concurrent reads from multiple goroutines.
*/
package config
