// Command gatekeepd runs the gatekeep authorization-and-audit gateway: it
// loads configuration, wires the policy engine, decision cache, audit
// pipeline, and transport adapters into a gateway.Dispatcher, and serves
// the chi-routed HTTP API until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	gatekeep "github.com/jonwraymond/gatekeep"
	"github.com/jonwraymond/gatekeep/audit"
	"github.com/jonwraymond/gatekeep/audit/filesink"
	"github.com/jonwraymond/gatekeep/audit/redissink"
	"github.com/jonwraymond/gatekeep/auth"
	"github.com/jonwraymond/gatekeep/authz"
	"github.com/jonwraymond/gatekeep/authz/httpengine"
	"github.com/jonwraymond/gatekeep/authz/opaengine"
	"github.com/jonwraymond/gatekeep/cache"
	"github.com/jonwraymond/gatekeep/config"
	"github.com/jonwraymond/gatekeep/gateway"
	"github.com/jonwraymond/gatekeep/health"
	"github.com/jonwraymond/gatekeep/observe"
	"github.com/jonwraymond/gatekeep/resilience"
	"github.com/jonwraymond/gatekeep/secret"
	"github.com/jonwraymond/gatekeep/transport"
	"github.com/jonwraymond/gatekeep/transport/httpadapter"
	"github.com/jonwraymond/gatekeep/transport/stdioadapter"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "path to config.yaml (defaults to config.yaml, config/config.yaml, /etc/gatekeep/config.yaml)")
		checkConfig = flag.Bool("check-config", false, "validate configuration and exit")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatekeepd: config: %v\n", err)
		os.Exit(1)
	}
	cfg.App.Version = version

	if *checkConfig {
		fmt.Println("config OK")
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "gatekeepd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observe.NewLogger(cfg.Log.Level)

	observer, err := observe.NewObserver(ctx, observe.Config{
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
		Tracing: observe.TracingConfig{
			Enabled:   cfg.Tracing.Enabled,
			Exporter:  "otlp",
			SamplePct: cfg.Tracing.SampleRate,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  cfg.Metrics.Enabled,
			Exporter: "prometheus",
		},
		Logging: observe.LoggingConfig{Enabled: true, Level: cfg.Log.Level},
	})
	if err != nil {
		return fmt.Errorf("init observer: %w", err)
	}
	defer observer.Shutdown(context.Background())

	engine, closeEngine, err := buildPolicyEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init policy engine: %w", err)
	}
	if closeEngine != nil {
		defer closeEngine()
	}

	executor := resilience.NewExecutor(
		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:         cfg.Breaker.FailureThreshold,
			ResetTimeout:        cfg.Breaker.OpenTimeout,
			HalfOpenMaxRequests: cfg.Breaker.HalfOpenMax,
			SuccessThreshold:    cfg.Breaker.SuccessThreshold,
		})),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.BaseDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			RetryIf:      retryableKind,
		})),
	)

	decisionCache := cache.NewDecisionCache(cache.DecisionPolicy{
		Policy: cache.Policy{
			DefaultTTL: cfg.Cache.DefaultTTL,
			MaxTTL:     cfg.Cache.MaxTTL,
		},
		NegativeTTL: cfg.Cache.DenyTTLMax,
		MaxEntries:  cfg.Cache.Capacity,
	}, nil)

	resultCache := cache.NewCacheMiddleware(
		cache.NewMemoryCache(cache.Policy{DefaultTTL: cfg.Cache.DefaultTTL, MaxTTL: cfg.Cache.MaxTTL}),
		cache.NewDefaultKeyer(),
		cache.Policy{DefaultTTL: cfg.Cache.DefaultTTL, MaxTTL: cfg.Cache.MaxTTL},
		nil,
	)

	discoveryCache, closeDiscoveryCache, err := buildDiscoveryCache(cfg)
	if err != nil {
		return fmt.Errorf("init discovery cache: %w", err)
	}
	if closeDiscoveryCache != nil {
		defer closeDiscoveryCache()
	}

	secrets := secret.NewResolver(false)

	sink, closeSink, err := buildAuditSink(ctx, cfg, secrets, logger)
	if err != nil {
		return fmt.Errorf("init audit sink: %w", err)
	}
	pipeline := audit.NewPipeline(sink, audit.Config{
		QueueCapacity: cfg.Audit.QueueCapacity,
		BatchSize:     cfg.Audit.BatchSize,
		BatchMaxAge:   cfg.Audit.BatchMaxAge,
		Logger:        logger,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		pipeline.Close(shutdownCtx)
		if closeSink != nil {
			closeSink()
		}
	}()

	authzSvc := authz.NewService(engine, decisionCache, authz.Config{
		FailClosed: cfg.Policy.FailClosed,
		Logger:     logger,
		Executor:   executor,
		Sink:       pipeline,
	})

	registry := transport.NewRegistry()
	registry.RegisterFactory("http", func(resource gatekeep.AdapterResource) (transport.Adapter, error) {
		return httpadapter.New(resource, httpadapter.Config{}, discoveryCache), nil
	})
	registry.RegisterFactory("stdio", func(resource gatekeep.AdapterResource) (transport.Adapter, error) {
		return stdioadapter.New(resource, stdioadapter.Config{
			Heartbeat:          cfg.Stdio.HeartbeatInterval,
			HungAfter:          cfg.Stdio.HungTimeout,
			MaxRSSBytes:        cfg.Stdio.MaxMemoryMB * 1024 * 1024,
			MaxFDs:             cfg.Stdio.MaxFDs,
			MaxCPUPercent:      cfg.Stdio.MaxCPUPercent,
			MaxRestartAttempts: cfg.Stdio.MaxRestartAttempts,
			StopTimeout:        cfg.Stdio.StopTimeout,
			Logger:             logger,
		}), nil
	})
	// gRPC resources are intentionally not auto-registered here: each
	// provider's gRPC service is generated from its own .proto, so the
	// invokeClient constructor grpcadapter.New requires must be supplied
	// per-deployment (see DESIGN.md). Operators wire it with:
	//   registry.RegisterFactory("grpc", func(r gatekeep.AdapterResource) (transport.Adapter, error) {
	//       return grpcadapter.New(r, grpcadapter.Config{Logger: logger}, myGeneratedClient)
	//   })
	defer registry.Close(context.Background())

	dispatcher := gateway.NewDispatcher(registry, authzSvc, gateway.Config{
		Executor: executor,
		RateLimit: gateway.RateLimitConfig{
			RPS:   cfg.RateLimit.PerPrincipalRPS,
			Burst: cfg.RateLimit.Burst,
		},
		Sink:        pipeline,
		ResultCache: resultCache,
	})

	healthAgg := health.NewAggregator()
	policyChecker := health.NewCheckerFunc("policy_engine", func(ctx context.Context) health.Result {
		if _, err := engine.Evaluate(ctx, gatekeep.PolicyInput{Action: "health_check"}); err != nil && cfg.Policy.FailClosed {
			return health.Result{Status: health.StatusUnhealthy, Message: err.Error()}
		}
		return health.Result{Status: health.StatusHealthy}
	})
	healthAgg.Register(policyChecker.Name(), policyChecker)
	memChecker := health.NewMemoryChecker(health.MemoryCheckerConfig{})
	healthAgg.Register(memChecker.Name(), memChecker)

	authenticate := buildAuthenticator(ctx, cfg, secrets)

	router := gateway.NewRouter(dispatcher, authzSvc.Authorize, gateway.ServerConfig{
		CORSEnabled:        cfg.HTTP.CORS.Enabled,
		CORSAllowedOrigins: cfg.HTTP.CORS.AllowedOrigins,
		CORSAllowedMethods: cfg.HTTP.CORS.AllowedMethods,
		Authenticate:       authenticate,
		Health:             healthAgg,
		Logger:             logger,
		Metrics:            metricsHandler(cfg),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info(ctx, "gatekeepd listening", observe.Field{Key: "port", Value: cfg.HTTP.Port}, observe.Field{Key: "environment", Value: cfg.App.Environment})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "server failed", observe.Field{Key: "error", Value: err.Error()})
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "server shutdown error", observe.Field{Key: "error", Value: err.Error()})
	}
	return nil
}

// retryableKind reports whether err carries a gatekeep.ErrorKind the retry
// layer should retry: transient provider failures and adapter-synthesized
// transport resets (subprocess crash/kill) per spec.md §7. A provider_error,
// permission_denied, or any other terminal kind is returned to the caller
// on the first attempt instead of being retried against a provider that has
// already given a definitive answer.
func retryableKind(err error) bool {
	switch gatekeep.KindOf(err) {
	case gatekeep.ErrKindTransientError, gatekeep.ErrKindTransportReset:
		return true
	default:
		return false
	}
}

// buildDiscoveryCache constructs the cache.Cache backing httpadapter's
// capability-discovery cache, per cache.backend: "memory" (default,
// per-process) or "redis" (shared across gatekeepd replicas, via the same
// go-redis client family as the Redis audit sink). The decision cache is
// per-process in either case.
func buildDiscoveryCache(cfg *config.Config) (cache.Cache, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		return cache.NewRedisCache(client, cfg.Cache.RedisPrefix), func() { client.Close() }, nil
	case "memory", "":
		return cache.NewMemoryCache(cache.Policy{DefaultTTL: cfg.Cache.DefaultTTL, MaxTTL: cfg.Cache.MaxTTL}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache.backend %q", cfg.Cache.Backend)
	}
}

func buildPolicyEngine(ctx context.Context, cfg *config.Config) (authz.PolicyEngine, func(), error) {
	switch cfg.Policy.Engine {
	case "http":
		return httpengine.New(httpengine.Config{BaseURL: cfg.Policy.EngineURL}), nil, nil
	case "opa", "":
		var bundle []byte
		if cfg.Policy.OPABundle != "" {
			b, err := os.ReadFile(cfg.Policy.OPABundle)
			if err != nil {
				return nil, nil, fmt.Errorf("read opa config %s: %w", cfg.Policy.OPABundle, err)
			}
			bundle = b
		}
		client, err := opaengine.New(ctx, opaengine.Config{
			ConfigJSON:   bundle,
			DecisionPath: cfg.Policy.OPADecision,
			DefaultTTL:   cfg.Cache.DefaultTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown policy.engine %q", cfg.Policy.Engine)
	}
}

// buildAuditSink constructs the audit sink named by cfg.Audit.Sink. Values
// that may carry a "secretref:" reference (e.g. a password embedded in
// audit.redis_addr) are resolved through secrets before use, so an operator
// can point audit.redis_addr at a managed secret instead of a literal DSN.
func buildAuditSink(ctx context.Context, cfg *config.Config, secrets *secret.Resolver, logger observe.Logger) (audit.Sink, func(), error) {
	switch cfg.Audit.Sink {
	case "redis":
		addr, err := secrets.ResolveValue(ctx, cfg.Audit.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve audit.redis_addr: %w", err)
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		sink := redissink.New(client, redissink.Config{Stream: cfg.Audit.RedisStream})
		return sink, func() { client.Close() }, nil
	case "file", "":
		path := cfg.Audit.FilePath
		if path == "" {
			path = "gatekeep-audit.log"
		}
		sink, err := filesink.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return sink, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit.sink %q", cfg.Audit.Sink)
	}
}

// buildAuthenticator assembles the composite auth.Authenticator named by
// the auth.* config section. JWT static keys and the OAuth2 client secret
// may be given as "secretref:" references and are resolved through secrets
// before the authenticator is constructed, so credentials never need to
// live in plaintext config.
func buildAuthenticator(ctx context.Context, cfg *config.Config, secrets *secret.Resolver) func(r *http.Request) (gatekeep.Principal, error) {
	var authenticators []auth.Authenticator

	if cfg.Auth.JWT.Enabled {
		var keyProvider auth.KeyProvider
		if cfg.Auth.JWT.JWKSURL != "" {
			keyProvider = auth.NewJWKSKeyProvider(auth.JWKSConfig{URL: cfg.Auth.JWT.JWKSURL})
		} else if len(cfg.Auth.JWT.StaticKeys) > 0 {
			keyPEMs, err := secrets.ResolveSlice(ctx, cfg.Auth.JWT.StaticKeys)
			if err != nil {
				keyPEMs = cfg.Auth.JWT.StaticKeys
			}
			keyProvider = auth.NewStaticKeyProvider([]byte(keyPEMs[0]))
		}
		authenticators = append(authenticators, auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:         cfg.Auth.JWT.Issuer,
			Audience:       cfg.Auth.JWT.Audience,
			PrincipalClaim: cfg.Auth.JWT.PrincipalClaim,
		}, keyProvider))
	}
	if cfg.Auth.APIKey.Enabled {
		authenticators = append(authenticators, auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{
			HeaderName:    cfg.Auth.APIKey.HeaderName,
			HashAlgorithm: cfg.Auth.APIKey.HashAlgorithm,
		}, auth.NewMemoryAPIKeyStore()))
	}
	if cfg.Auth.OAuth2.Enabled {
		clientSecret, err := secrets.ResolveValue(ctx, cfg.Auth.OAuth2.ClientSecret)
		if err != nil {
			clientSecret = cfg.Auth.OAuth2.ClientSecret
		}
		authenticators = append(authenticators, auth.NewOAuth2IntrospectionAuthenticator(auth.OAuth2Config{
			IntrospectionEndpoint: cfg.Auth.OAuth2.IntrospectionURL,
			ClientID:              cfg.Auth.OAuth2.ClientID,
			ClientSecret:          clientSecret,
		}))
	}

	if len(authenticators) == 0 {
		return nil
	}
	composite := auth.NewCompositeAuthenticator(authenticators...)

	return func(r *http.Request) (gatekeep.Principal, error) {
		req := &auth.AuthRequest{Headers: r.Header}
		if !composite.Supports(r.Context(), req) {
			if cfg.Auth.AllowAnonymous {
				return gatekeep.Principal{ID: "anonymous", TrustLevel: "untrusted"}, nil
			}
			return gatekeep.Principal{}, auth.ErrMissingCredentials
		}
		result, err := composite.Authenticate(r.Context(), req)
		if err != nil {
			return gatekeep.Principal{}, err
		}
		if !result.Authenticated {
			if cfg.Auth.AllowAnonymous {
				return gatekeep.Principal{ID: "anonymous", TrustLevel: "untrusted"}, nil
			}
			return gatekeep.Principal{}, result.Error
		}
		return result.Identity.ToPrincipal(""), nil
	}
}

func metricsHandler(cfg *config.Config) http.Handler {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return promhttp.Handler()
}
