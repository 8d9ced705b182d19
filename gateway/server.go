package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	gatekeep "github.com/jonwraymond/gatekeep"
	"github.com/jonwraymond/gatekeep/health"
	"github.com/jonwraymond/gatekeep/observe"
)

// ServerConfig configures the chi-routed inbound HTTP API described in
// spec.md §6: POST /v1/authorize, POST /v1/invoke, GET /v1/health/detailed,
// GET /metrics.
type ServerConfig struct {
	CORSEnabled        bool
	CORSAllowedOrigins []string
	CORSAllowedMethods []string

	// Authenticate resolves a gatekeep.Principal from an inbound request.
	// Typically backed by an auth.Authenticator via auth.WithAuthHeaders.
	// A nil Authenticate treats every caller as anonymous.
	Authenticate func(r *http.Request) (gatekeep.Principal, error)

	Health  *health.Aggregator
	Logger  observe.Logger
	Metrics http.Handler // e.g. promhttp.Handler()
}

// authorizeRequest is the JSON body of POST /v1/authorize.
type authorizeRequest struct {
	Principal  gatekeep.Principal `json:"principal"`
	Action     string             `json:"action"`
	Target     gatekeep.Target    `json:"target"`
	Parameters map[string]any     `json:"parameters,omitempty"`
}

type authorizeResponse struct {
	Allow              bool           `json:"allow"`
	Reason             string         `json:"reason"`
	FilteredParameters map[string]any `json:"filtered_parameters,omitempty"`
	CacheTTLSeconds    float64        `json:"cache_ttl"`
}

// invokeRequest is the JSON body of POST /v1/invoke. Target is optional:
// callers that already resolved sensitivity tier/owning team/visibility
// metadata for the capability (e.g. from a prior discovery call) may
// supply it so the authorization step and audit trail carry it; omitted
// fields are filled in from Resource/Capability.
type invokeRequest struct {
	Resource   gatekeep.AdapterResource `json:"resource"`
	Capability string                   `json:"capability"`
	Action     string                   `json:"action"`
	Target     gatekeep.Target          `json:"target,omitempty"`
	Parameters map[string]any           `json:"parameters,omitempty"`
}

type invokeResponse struct {
	Allowed bool            `json:"allowed"`
	Reason  string          `json:"reason,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type errorResponse struct {
	Kind   gatekeep.ErrorKind `json:"kind"`
	Reason string             `json:"reason"`
}

// NewRouter builds the gateway's chi router, wiring the dispatcher and
// authz-only authorize endpoint alongside health/metrics.
func NewRouter(d *Dispatcher, authorizeOnly AuthorizeFunc, cfg ServerConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))

	if cfg.CORSEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: cfg.CORSAllowedMethods,
		}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/authorize", handleAuthorize(authorizeOnly, cfg))
		r.Post("/invoke", handleInvoke(d, cfg))
		if cfg.Health != nil {
			r.Get("/health/detailed", health.DetailedHandler(cfg.Health))
		}
	})

	if cfg.Health != nil {
		r.Get("/healthz", health.LivenessHandler())
		r.Get("/readyz", health.ReadinessHandler(cfg.Health))
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	return r
}

// AuthorizeFunc is the authz.Service.Authorize method shape, taken as a
// function value so gateway does not need to import authz for its
// concrete Service type in the router signature.
type AuthorizeFunc func(ctx context.Context, principal gatekeep.Principal, target gatekeep.Target, action string, parameters map[string]any) (gatekeep.Decision, error)

func handleAuthorize(authorize AuthorizeFunc, cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authorizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, gatekeep.NewError(gatekeep.ErrKindInvalidRequest, "malformed request body", err))
			return
		}

		decision, err := authorize(r.Context(), req.Principal, req.Target, req.Action, req.Parameters)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, authorizeResponse{
			Allow:              decision.Allowed,
			Reason:             decision.Reason,
			FilteredParameters: decision.FilteredParameters,
			CacheTTLSeconds:    decision.TTL.Seconds(),
		})
	}
}

func handleInvoke(d *Dispatcher, cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req invokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, gatekeep.NewError(gatekeep.ErrKindInvalidRequest, "malformed request body", err))
			return
		}

		principal := gatekeep.Principal{ID: "anonymous", TrustLevel: "untrusted"}
		if cfg.Authenticate != nil {
			p, err := cfg.Authenticate(r)
			if err != nil {
				writeError(w, gatekeep.NewError(gatekeep.ErrKindAuthenticationFailed, "credential rejected", err))
				return
			}
			principal = p
		}
		principal.IPAddress = clientIP(r)

		resp, err := d.Dispatch(r.Context(), Request{
			Principal:  principal,
			Resource:   req.Resource,
			Capability: req.Capability,
			Action:     req.Action,
			Target:     req.Target,
			Parameters: req.Parameters,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, invokeResponse{
			Allowed: resp.Allowed,
			Reason:  resp.Reason,
			Result:  json.RawMessage(resp.Result),
		})
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// writeError maps the gateway's error-kind taxonomy to HTTP status codes
// per spec.md §7; sensitive detail lives only in Cause, never in Reason.
func writeError(w http.ResponseWriter, err error) {
	kind := gatekeep.KindOf(err)
	status := statusForKind(kind)

	reason := err.Error()
	if ge, ok := err.(*gatekeep.Error); ok {
		reason = ge.Reason
	}

	writeJSON(w, status, errorResponse{Kind: kind, Reason: reason})
}

func statusForKind(kind gatekeep.ErrorKind) int {
	switch kind {
	case gatekeep.ErrKindPermissionDenied:
		return http.StatusForbidden
	case gatekeep.ErrKindAuthenticationFailed:
		return http.StatusUnauthorized
	case gatekeep.ErrKindInvalidRequest:
		return http.StatusBadRequest
	case gatekeep.ErrKindRateLimited:
		return http.StatusTooManyRequests
	case gatekeep.ErrKindPolicyUnavailable, gatekeep.ErrKindAdapterUnavailable, gatekeep.ErrKindTransientError, gatekeep.ErrKindTransportReset:
		return http.StatusServiceUnavailable
	case gatekeep.ErrKindProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLogger logs each request's method, path, status, and duration at
// info level, matching the structured-field style of observe.Logger.
func requestLogger(logger observe.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info(r.Context(), "http request",
				observe.Field{Key: "method", Value: r.Method},
				observe.Field{Key: "path", Value: r.URL.Path},
				observe.Field{Key: "status", Value: ww.Status()},
				observe.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
			)
		})
	}
}
