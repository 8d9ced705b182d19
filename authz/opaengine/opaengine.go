// Package opaengine is an in-process authz.PolicyEngine backed by
// github.com/open-policy-agent/opa/sdk, the policy-engine dependency
// carried (unused) in jordigilh-kubernaut's go.mod. It is the default
// engine for local development: no external policy service is required.
package opaengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	gatekeep "github.com/jonwraymond/gatekeep"
	"github.com/open-policy-agent/opa/sdk"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// Config configures the embedded OPA engine.
type Config struct {
	// ConfigJSON is an OPA SDK configuration document (JSON), typically
	// naming a local bundle directory or an OCI bundle service. See
	// https://www.openpolicyagent.org/docs/configuration/.
	ConfigJSON []byte

	// DecisionPath is the Rego rule path to evaluate, e.g.
	// "gatekeep/authz/decision".
	DecisionPath string

	// DefaultTTL is applied to decisions the bundle does not itself
	// specify a ttl_seconds for.
	DefaultTTL time.Duration
}

// Client evaluates PolicyInput against a loaded Rego bundle via the
// embedded OPA SDK.
type Client struct {
	opa *sdk.OPA
	cfg Config
}

// New starts an embedded OPA instance from cfg and returns a Client.
// The returned Client owns the OPA instance; call Close to release it.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.DecisionPath == "" {
		cfg.DecisionPath = "gatekeep/authz/decision"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	opa, err := sdk.New(ctx, sdk.Options{
		Config: bytesReader(cfg.ConfigJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("opaengine: start OPA SDK: %w", err)
	}

	return &Client{opa: opa, cfg: cfg}, nil
}

// decisionResult is the shape a Rego decision is expected to return:
// {"allow": bool, "reason": string, "filtered_parameters": {...},
//  "obligations": [...], "ttl_seconds": int}
type decisionResult struct {
	Allow               bool           `json:"allow"`
	Reason              string         `json:"reason"`
	FilteredParameters  map[string]any `json:"filtered_parameters"`
	ObligationsRequired []string       `json:"obligations"`
	TTLSeconds          int64          `json:"ttl_seconds"`
}

// Evaluate runs the configured decision path against input.
func (c *Client) Evaluate(ctx context.Context, input gatekeep.PolicyInput) (gatekeep.Decision, error) {
	result, err := c.opa.Decision(ctx, sdk.DecisionOptions{
		Path:  c.cfg.DecisionPath,
		Input: input,
	})
	if err != nil {
		return gatekeep.Decision{}, gatekeep.NewError(gatekeep.ErrKindPolicyUnavailable, "opa decision failed", err)
	}

	decoded, err := decodeDecision(result.Result)
	if err != nil {
		return gatekeep.Decision{}, gatekeep.NewError(gatekeep.ErrKindInternalError, "decode opa decision result", err)
	}

	ttl := time.Duration(decoded.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	return gatekeep.Decision{
		Allowed:             decoded.Allow,
		Reason:              decoded.Reason,
		FilteredParameters:  decoded.FilteredParameters,
		ObligationsRequired: decoded.ObligationsRequired,
		TTL:                 ttl,
		EvaluatedAt:         time.Now(),
	}, nil
}

// Close releases the embedded OPA instance.
func (c *Client) Close(ctx context.Context) {
	c.opa.Stop(ctx)
}

func decodeDecision(raw any) (decisionResult, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return decisionResult{}, fmt.Errorf("opaengine: decision result is not an object: %T", raw)
	}

	var out decisionResult
	if allow, ok := m["allow"].(bool); ok {
		out.Allow = allow
	}
	if reason, ok := m["reason"].(string); ok {
		out.Reason = reason
	}
	if fp, ok := m["filtered_parameters"].(map[string]any); ok {
		out.FilteredParameters = fp
	}
	if obligations, ok := m["obligations"].([]any); ok {
		for _, o := range obligations {
			if s, ok := o.(string); ok {
				out.ObligationsRequired = append(out.ObligationsRequired, s)
			}
		}
	}
	if ttl, ok := m["ttl_seconds"].(float64); ok {
		out.TTLSeconds = int64(ttl)
	}
	return out, nil
}
