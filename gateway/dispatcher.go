// Package gateway implements the dispatch pipeline: resolve adapter,
// authorize, substitute filtered parameters, invoke through the
// resilience stack, classify the outcome, and append an audit event.
package gateway

import (
	"context"
	"sync"
	"time"

	gatekeep "github.com/jonwraymond/gatekeep"
	"github.com/jonwraymond/gatekeep/audit"
	"github.com/jonwraymond/gatekeep/authz"
	"github.com/jonwraymond/gatekeep/cache"
	"github.com/jonwraymond/gatekeep/resilience"
	"github.com/jonwraymond/gatekeep/transport"
)

// RateLimitConfig configures the per-principal token bucket.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Config configures the dispatcher.
type Config struct {
	// Executor wraps every adapter Invoke call with breaker/retry/timeout.
	// If nil, Invoke is called directly.
	Executor *resilience.Executor

	// RateLimit configures the per-principal rate limiter. Zero value
	// disables rate limiting.
	RateLimit RateLimitConfig

	Sink audit.Appender

	// ResultCache, if set, caches idempotent adapter invocation results
	// keyed by (resource, capability, parameters), separately from the
	// authorization decision cache. Invocations against "high" or
	// "critical" sensitivity-tier targets are never cached, mirroring
	// CacheMiddleware's unsafe-tag skip rule.
	ResultCache *cache.CacheMiddleware
}

// Dispatcher ties together adapter resolution, authorization, invocation,
// and auditing for a single gateway instance.
type Dispatcher struct {
	adapters *transport.Registry
	authz    *authz.Service
	cfg      Config

	limitersMu sync.Mutex
	limiters   map[string]*resilience.RateLimiter
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(adapters *transport.Registry, authzSvc *authz.Service, cfg Config) *Dispatcher {
	return &Dispatcher{
		adapters: adapters,
		authz:    authzSvc,
		cfg:      cfg,
		limiters: make(map[string]*resilience.RateLimiter),
	}
}

// Request is one tool-invocation request arriving at the gateway. Target
// is optional: any field left zero is filled in from Resource/Capability
// before authorization, so callers that don't track sensitivity tier /
// owning team / visibility metadata can omit it entirely.
type Request struct {
	Principal  gatekeep.Principal
	Resource   gatekeep.AdapterResource
	Capability string
	Action     string
	Target     gatekeep.Target
	Parameters map[string]any
}

// Response is the outcome of a Dispatch call.
type Response struct {
	Result  []byte
	Allowed bool
	Reason  string
}

// Dispatch runs the full pipeline for req.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if limiter := d.limiterFor(req.Principal.ID); limiter != nil {
		if !limiter.Allow() {
			return Response{}, gatekeep.NewError(gatekeep.ErrKindRateLimited, "per-principal rate limit exceeded", nil)
		}
	}

	adapter, err := d.adapters.Resolve(ctx, req.Resource)
	if err != nil {
		return Response{}, err
	}

	target := req.Target
	if target.Provider == "" {
		target.Provider = req.Resource.ID
	}
	if target.Tool == "" {
		target.Tool = req.Capability
	}
	if target.Protocol == "" {
		target.Protocol = req.Resource.Protocol
	}
	if target.ServerHandle == "" {
		target.ServerHandle = req.Resource.ID
	}
	decision, err := d.authz.Authorize(ctx, req.Principal, target, req.Action, req.Parameters)
	if err != nil {
		return Response{}, err
	}
	if !decision.Allowed {
		return Response{Allowed: false, Reason: decision.Reason}, gatekeep.NewError(gatekeep.ErrKindPermissionDenied, decision.Reason, nil)
	}

	parameters := req.Parameters
	if decision.FilteredParameters != nil {
		parameters = decision.FilteredParameters
	}

	runInvoke := func(ctx context.Context) ([]byte, error) {
		var result []byte
		op := func(ctx context.Context) error {
			r, ierr := adapter.Invoke(ctx, req.Capability, parameters)
			result = r
			return ierr
		}
		if d.cfg.Executor != nil {
			return result, d.cfg.Executor.Execute(ctx, op)
		}
		return result, op(ctx)
	}

	var result []byte
	if d.cfg.ResultCache != nil {
		result, err = d.cfg.ResultCache.Execute(ctx, target.Provider+":"+target.Tool, parameters, sensitivityTags(target.SensitivityTier),
			func(ctx context.Context, _ string, _ any) ([]byte, error) {
				return runInvoke(ctx)
			})
	} else {
		result, err = runInvoke(ctx)
	}

	outcome := "allowed"
	var errKind gatekeep.ErrorKind
	if err != nil {
		outcome = "error"
		errKind = gatekeep.KindOf(err)
	}

	if d.cfg.Sink != nil {
		d.cfg.Sink.Append(ctx, gatekeep.AuditEvent{
			Timestamp:  time.Now(),
			Principal:  req.Principal,
			Target:     target,
			Action:     req.Action,
			Decision:   decision,
			Outcome:    outcome,
			ErrorKind:  errKind,
			DurationMS: time.Since(start).Milliseconds(),
		})
	}

	if err != nil {
		return Response{}, classifyInvokeError(err)
	}
	return Response{Result: result, Allowed: true}, nil
}

// sensitivityTags maps a Target's sensitivity tier onto the tag vocabulary
// cache.DefaultSkipRule understands, so "high"/"critical" targets are
// never cached regardless of whether the adapter result would otherwise
// look idempotent.
func sensitivityTags(tier string) []string {
	if tier == "high" || tier == "critical" {
		return []string{"unsafe"}
	}
	return nil
}

// classifyInvokeError normalizes an adapter-layer error into the
// gateway's error kind taxonomy, preserving any existing *gatekeep.Error
// classification the adapter already produced.
func classifyInvokeError(err error) error {
	if _, ok := err.(*gatekeep.Error); ok {
		return err
	}
	return gatekeep.NewError(gatekeep.ErrKindTransientError, "adapter invocation failed", err)
}

func (d *Dispatcher) limiterFor(principalID string) *resilience.RateLimiter {
	if d.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()

	limiter, ok := d.limiters[principalID]
	if !ok {
		limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:  d.cfg.RateLimit.RPS,
			Burst: d.cfg.RateLimit.Burst,
		})
		d.limiters[principalID] = limiter
	}
	return limiter
}

// Close shuts down every resolved adapter.
func (d *Dispatcher) Close(ctx context.Context) error {
	return d.adapters.Close(ctx)
}
