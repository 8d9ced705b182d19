// Package config defines the gatekeep gateway's layered configuration:
// struct fields tagged for koanf, a loader that merges defaults, an
// optional file, and environment overrides, and validation covering the
// options enumerated in the gateway's external-interface contract.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for a gatekeep gateway instance.
type Config struct {
	App       AppConfig       `koanf:"app"`
	HTTP      HTTPConfig      `koanf:"http"`
	GRPC      GRPCConfig      `koanf:"grpc"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Policy    PolicyConfig    `koanf:"policy"`
	Cache     CacheConfig     `koanf:"cache"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Retry     RetryConfig     `koanf:"retry"`
	Stdio     StdioConfig     `koanf:"stdio"`
	Audit     AuditConfig     `koanf:"audit"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Auth      AuthConfig      `koanf:"auth"`
}

// AppConfig carries general service identity fields.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

// HTTPConfig configures the gateway's inbound HTTP API (§6: authorize,
// invoke, health/detailed, metrics).
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORS            CORSConfig    `koanf:"cors"`
}

// CORSConfig configures the optional browser-facing CORS policy applied
// to every route of the gateway's HTTP router.
type CORSConfig struct {
	Enabled        bool     `koanf:"enabled"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	AllowedMethods []string `koanf:"allowed_methods"`
}

// GRPCConfig configures the gRPC adapter's default client-side keepalive
// parameters; per-resource overrides come from AdapterResource.Metadata.
type GRPCConfig struct {
	KeepAliveTime    time.Duration `koanf:"keepalive_time"`
	KeepAliveTimeout time.Duration `koanf:"keepalive_timeout"`
}

// LogConfig configures the structured logger (observe.NewLogger).
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// PolicyConfig configures the authorization service's policy engine and
// its fail-closed/fail-open behavior.
type PolicyConfig struct {
	EngineURL   string `koanf:"engine_url"`
	Engine      string `koanf:"engine"` // "http" or "opa"
	OPABundle   string `koanf:"opa_bundle_path"`
	OPADecision string `koanf:"opa_decision_path"`
	FailClosed  bool   `koanf:"fail_closed"`
}

// CacheConfig configures the policy decision cache (spec.md §4.2, §6).
type CacheConfig struct {
	Capacity   int           `koanf:"capacity"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxTTL     time.Duration `koanf:"max_ttl"`
	DenyTTLMax time.Duration `koanf:"deny_ttl_max"`

	// Backend selects the underlying cache.Cache implementation: "memory"
	// (default, per-process) or "redis" (shared across replicas).
	Backend     string `koanf:"backend"`
	RedisAddr   string `koanf:"redis_addr"`
	RedisPrefix string `koanf:"redis_key_prefix"`
}

// BreakerConfig configures the circuit breaker guarding the policy engine
// and each adapter resource (spec.md §4.1, §6).
type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
	SuccessThreshold int           `koanf:"success_threshold"`
	HalfOpenMax      int           `koanf:"half_open_max"`
}

// RetryConfig configures the retry-with-jitter helper (spec.md §4.1, §6).
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
	Jitter      float64       `koanf:"jitter"`
	Deadline    time.Duration `koanf:"deadline"`
}

// StdioConfig configures every stdio-subprocess resource limit and timing
// (spec.md §4.4.3, §6). Per-resource overrides live on AdapterResource.
type StdioConfig struct {
	MaxMemoryMB        uint64        `koanf:"max_memory_mb"`
	MaxCPUPercent      float64       `koanf:"max_cpu_percent"`
	MaxFDs             int           `koanf:"max_fds"`
	HeartbeatInterval  time.Duration `koanf:"heartbeat_interval"`
	HungTimeout        time.Duration `koanf:"hung_timeout"`
	MaxRestartAttempts int           `koanf:"max_restart_attempts"`
	StopTimeout        time.Duration `koanf:"stop_timeout"`
}

// AuditConfig configures the audit pipeline (spec.md §4.6, §6).
type AuditConfig struct {
	QueueCapacity int           `koanf:"queue_capacity"`
	BatchSize     int           `koanf:"batch_size"`
	BatchMaxAge   time.Duration `koanf:"batch_max_age"`
	DropPolicy    string        `koanf:"drop_policy"` // "block_then_drop_oldest"
	Sink          string        `koanf:"sink"`        // "file" or "redis"
	FilePath      string        `koanf:"file_path"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisStream   string        `koanf:"redis_stream"`
}

// RateLimitConfig configures the per-principal token bucket (spec.md §4.5, §6).
type RateLimitConfig struct {
	PerPrincipalRPS float64 `koanf:"per_principal_rps"`
	Burst           int     `koanf:"burst"`
}

// AuthConfig configures which auth/identity.go authenticators are wired
// into the inbound HTTP API's composite authenticator (spec.md §4.7).
// Every enabled authenticator is tried in order; the first to recognize
// the request's credentials wins.
type AuthConfig struct {
	JWT struct {
		Enabled        bool     `koanf:"enabled"`
		Issuer         string   `koanf:"issuer"`
		Audience       string   `koanf:"audience"`
		JWKSURL        string   `koanf:"jwks_url"`
		StaticKeys     []string `koanf:"static_keys_pem"`
		PrincipalClaim string   `koanf:"principal_claim"`
	} `koanf:"jwt"`

	APIKey struct {
		Enabled       bool   `koanf:"enabled"`
		HeaderName    string `koanf:"header_name"`
		HashAlgorithm string `koanf:"hash_algorithm"`
	} `koanf:"api_key"`

	OAuth2 struct {
		Enabled          bool   `koanf:"enabled"`
		IntrospectionURL string `koanf:"introspection_url"`
		ClientID         string `koanf:"client_id"`
		ClientSecret     string `koanf:"client_secret"`
	} `koanf:"oauth2"`

	// AllowAnonymous permits requests with no recognized credentials to
	// proceed as an untrusted anonymous principal rather than being
	// rejected with 401. Policy still decides whether untrusted callers
	// may act.
	AllowAnonymous bool `koanf:"allow_anonymous"`
}

// Validate checks the configuration for internally-consistent values,
// mirroring the teacher-sibling's Config.Validate pattern.
func (c *Config) Validate() error {
	var errs []string

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %q", c.Log.Level))
	}

	if c.Cache.MaxTTL > 0 && c.Cache.DefaultTTL > c.Cache.MaxTTL {
		errs = append(errs, "cache.default_ttl must not exceed cache.max_ttl")
	}
	if c.Cache.Capacity < 0 {
		errs = append(errs, "cache.capacity must be non-negative")
	}

	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "breaker.failure_threshold must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		errs = append(errs, "breaker.success_threshold must be positive")
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be positive")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		errs = append(errs, "retry.jitter must be between 0 and 1")
	}

	if c.Stdio.MaxRestartAttempts < 0 {
		errs = append(errs, "stdio.max_restart_attempts must be non-negative")
	}
	if c.Stdio.HungTimeout > 0 && c.Stdio.HeartbeatInterval > c.Stdio.HungTimeout {
		errs = append(errs, "stdio.heartbeat_interval should not exceed stdio.hung_timeout")
	}

	if c.Audit.QueueCapacity <= 0 {
		errs = append(errs, "audit.queue_capacity must be positive")
	}
	if c.Audit.Sink == "redis" && c.Audit.RedisAddr == "" {
		errs = append(errs, "audit.redis_addr is required when audit.sink=redis")
	}

	if c.Policy.Engine == "http" && c.Policy.EngineURL == "" {
		errs = append(errs, "policy.engine_url is required when policy.engine=http")
	}

	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		errs = append(errs, "cache.redis_addr is required when cache.backend=redis")
	}

	if c.Auth.JWT.Enabled && c.Auth.JWT.JWKSURL == "" && len(c.Auth.JWT.StaticKeys) == 0 {
		errs = append(errs, "auth.jwt requires jwks_url or static_keys_pem when enabled")
	}
	if c.Auth.OAuth2.Enabled && c.Auth.OAuth2.IntrospectionURL == "" {
		errs = append(errs, "auth.oauth2.introspection_url is required when auth.oauth2 is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsProduction reports whether App.Environment names a production deploy.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
