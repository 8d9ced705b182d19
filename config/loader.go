package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "GATEKEEP_"
	configEnvVar = "GATEKEEP_CONFIG_PATH"
)

// Loader loads a Config from defaults, an optional file, and environment
// overrides, in that priority order, mirroring the koanf layering used
// throughout this lineage's sibling services.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the default search paths for a config file.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) { l.configPaths = paths }
}

// WithEnvPrefix overrides the environment-variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) { l.envPrefix = prefix }
}

// NewLoader creates a Loader with sibling-service-style default search paths.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/gatekeep/config.yaml",
		},
		envPrefix: envPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads an explicit path if given, else the configured search paths,
// layers environment overrides on top, and validates the result.
func Load(path string) (*Config, error) {
	var opts []LoaderOption
	if path != "" {
		opts = append(opts, WithConfigPaths(path))
	}
	return NewLoader(opts...).Load()
}

// Load performs the full defaults -> file -> env -> validate pipeline.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		// A config file is optional; env and defaults alone are valid.
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"app.name":        "gatekeep",
		"app.version":     "dev",
		"app.environment": "development",

		"http.port":             8080,
		"http.read_timeout":     15 * time.Second,
		"http.write_timeout":    30 * time.Second,
		"http.shutdown_timeout": 10 * time.Second,
		"http.cors.enabled":     false,

		"grpc.keepalive_time":    5 * time.Minute,
		"grpc.keepalive_timeout": 20 * time.Second,

		"log.level":  "info",
		"log.format": "json",

		"metrics.enabled": true,
		"metrics.path":    "/metrics",

		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "gatekeep",
		"tracing.sample_rate":  0.1,

		"policy.engine":            "opa",
		"policy.opa_decision_path": "gatekeep/authz/allow",
		"policy.fail_closed":       true,

		"cache.capacity":     10000,
		"cache.default_ttl":  5 * time.Minute,
		"cache.max_ttl":      1 * time.Hour,
		"cache.deny_ttl_max": 60 * time.Second,
		"cache.backend":      "memory",

		"breaker.failure_threshold": 5,
		"breaker.open_timeout":      30 * time.Second,
		"breaker.success_threshold": 2,
		"breaker.half_open_max":     3,

		"retry.max_attempts": 3,
		"retry.base_delay":   100 * time.Millisecond,
		"retry.max_delay":    10 * time.Second,
		"retry.jitter":       0.25,
		"retry.deadline":     0,

		"stdio.max_memory_mb":        512,
		"stdio.max_cpu_percent":      200.0,
		"stdio.max_fds":              256,
		"stdio.heartbeat_interval":   10 * time.Second,
		"stdio.hung_timeout":         15 * time.Second,
		"stdio.max_restart_attempts": 3,
		"stdio.stop_timeout":         5 * time.Second,

		"audit.queue_capacity": 10000,
		"audit.batch_size":     100,
		"audit.batch_max_age":  1 * time.Second,
		"audit.drop_policy":    "block_then_drop_oldest",
		"audit.sink":           "file",
		"audit.file_path":      "gatekeep-audit.log",

		"rate_limit.per_principal_rps": 50.0,
		"rate_limit.burst":             100,

		"auth.jwt.enabled":            false,
		"auth.jwt.principal_claim":    "sub",
		"auth.api_key.enabled":        false,
		"auth.api_key.header_name":    "X-API-Key",
		"auth.api_key.hash_algorithm": "sha256",
		"auth.oauth2.enabled":         false,
		"auth.allow_anonymous":        true,
	}
	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

func (l *Loader) loadConfigFile() error {
	if p := os.Getenv(configEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return l.k.Load(file.Provider(p), yaml.Parser())
		}
	}

	for _, p := range l.configPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			return l.k.Load(file.Provider(abs), yaml.Parser())
		}
	}
	return fmt.Errorf("no config file found in paths: %v", l.configPaths)
}

// loadEnv maps GATEKEEP_<SECTION>__<FIELD> environment variables onto
// section.field config keys. A double underscore is the nesting
// separator (not a single one) so multi-word field names like
// rate_limit.per_principal_rps survive the translation unambiguously.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		trimmed := strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		return strings.ReplaceAll(trimmed, "__", ".")
	}), nil)
}
