package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched, in order, for a config file.
// The first one found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/daqagent/config.yaml",
	"/etc/daqagent/config.yml",
}

// ConfigPathEnvVar overrides the search path entirely when set.
const ConfigPathEnvVar = "DAQAGENT_CONFIG_PATH"

// defaultConfig returns the agent-wide defaults named throughout spec.md
// §4 before any file or environment layer is applied.
func defaultConfig() *Config {
	return &Config{
		Primary: PrimaryConfig{
			ConnectionURI: "mongodb://localhost:27017",
			Database:      "daqagent",
			Collection:    "samples",
			WriteTimeout:  5 * time.Second,
			TTLDays:       0,
		},
		Queue: QueueConfig{
			Capacity: 10000,
		},
		Coordinator: CoordinatorConfig{
			BatchSize:    500,
			BatchTimeout: 1 * time.Second,
		},
		Health: HealthConfig{
			Interval:                 5 * time.Second,
			ProbeTimeout:             2 * time.Second,
			FailureThreshold:         3,
			LatencyDegradedThreshold: 500 * time.Millisecond,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Fallback: FallbackConfig{
			Directory:            "", // empty => OS user data default, resolved at load time
			ArchiveRetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using koanf's layered sources, exactly in the
// order the teacher's LoadWithKoanf applies them:
//
//  1. Defaults: built-in sensible defaults.
//  2. Config file: optional YAML file, first match of DefaultConfigPaths
//     (or DAQAGENT_CONFIG_PATH).
//  3. Environment variables: highest priority.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("DAQAGENT_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if cfg.Fallback.Directory == "" {
		dir, err := defaultFallbackDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default fallback directory: %w", err)
		}
		cfg.Fallback.Directory = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func defaultFallbackDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return base + string(os.PathSeparator) + "daqagent" + string(os.PathSeparator) + "fallback", nil
}

// envTransformFunc maps DAQAGENT_-prefixed environment variable names to
// koanf dot-paths. Only top-level scalar fields are mappable this way;
// the server/subscription list is intentionally not settable via
// environment variables — it comes from the config file or the external
// configuration store named in spec.md §1.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, "DAQAGENT_")
	mappings := map[string]string{
		"PRIMARY_CONNECTION_URI":           "primary.connection_uri",
		"PRIMARY_DATABASE":                 "primary.database",
		"PRIMARY_COLLECTION":                "primary.collection",
		"PRIMARY_WRITE_TIMEOUT":            "primary.write_timeout",
		"PRIMARY_TTL_DAYS":                 "primary.ttl_days",
		"QUEUE_CAPACITY":                   "queue.capacity",
		"COORDINATOR_BATCH_SIZE":           "coordinator.batch_size",
		"COORDINATOR_BATCH_TIMEOUT":        "coordinator.batch_timeout",
		"HEALTH_INTERVAL":                  "health.interval",
		"HEALTH_PROBE_TIMEOUT":             "health.probe_timeout",
		"HEALTH_FAILURE_THRESHOLD":         "health.failure_threshold",
		"HEALTH_LATENCY_DEGRADED_THRESHOLD": "health.latency_degraded_threshold",
		"CIRCUIT_BREAKER_FAILURE_THRESHOLD": "circuit_breaker.failure_threshold",
		"CIRCUIT_BREAKER_COOLDOWN":         "circuit_breaker.cooldown",
		"FALLBACK_DIRECTORY":               "fallback.directory",
		"FALLBACK_ARCHIVE_RETENTION_DAYS":  "fallback.archive_retention_days",
		"MANUAL_FORCE_FALLBACK":            "manual.force_fallback",
		"MANUAL_FORCE_DRY_RUN":             "manual.force_dry_run",
		"LOG_LEVEL":                        "logging.level",
		"LOG_FORMAT":                       "logging.format",
		"LOG_CALLER":                       "logging.caller",
	}
	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}
