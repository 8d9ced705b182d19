// Package httpengine is an authz.PolicyEngine backed by an external HTTP
// policy service, built the same way auth.OAuth2IntrospectionAuthenticator
// and auth.JWKSKeyProvider build their outbound calls: a plain
// context-aware net/http client and a typed JSON response decode.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gatekeep "github.com/jonwraymond/gatekeep"
)

// Config configures the HTTP policy engine client.
type Config struct {
	// BaseURL is the policy service's evaluation endpoint, e.g.
	// "https://policy.internal/v1/evaluate".
	BaseURL string

	// Timeout bounds each HTTP call. Default: 5s; a value of 0 or less
	// also selects 5s, so an outer resilience.Executor timeout applies in
	// addition to this one, not instead of it.
	Timeout time.Duration

	// HTTPClient is the client to use. If nil, a default pooled client
	// with Timeout is constructed.
	HTTPClient *http.Client
}

// Client evaluates PolicyInput by POSTing it to an external policy
// engine and decoding a Decision from the response body.
type Client struct {
	cfg    Config
	client *http.Client
}

// New creates a new HTTP policy engine client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{cfg: cfg, client: httpClient}
}

type evaluateResponse struct {
	Allowed             bool           `json:"allowed"`
	Reason              string         `json:"reason"`
	FilteredParameters  map[string]any `json:"filtered_parameters"`
	ObligationsRequired []string       `json:"obligations"`
	TTLSeconds          int64          `json:"ttl_seconds"`
}

// Evaluate POSTs input to the configured policy endpoint and decodes the
// response into a Decision.
func (c *Client) Evaluate(ctx context.Context, input gatekeep.PolicyInput) (gatekeep.Decision, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return gatekeep.Decision{}, gatekeep.NewError(gatekeep.ErrKindInternalError, "marshal policy input", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return gatekeep.Decision{}, gatekeep.NewError(gatekeep.ErrKindInternalError, "build policy request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return gatekeep.Decision{}, gatekeep.NewError(gatekeep.ErrKindPolicyUnavailable, "policy engine request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return gatekeep.Decision{}, gatekeep.NewError(gatekeep.ErrKindPolicyUnavailable, fmt.Sprintf("policy engine returned status %d", resp.StatusCode), nil)
	}

	var out evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return gatekeep.Decision{}, gatekeep.NewError(gatekeep.ErrKindPolicyUnavailable, "decode policy response", err)
	}

	return gatekeep.Decision{
		Allowed:             out.Allowed,
		Reason:              out.Reason,
		FilteredParameters:  out.FilteredParameters,
		ObligationsRequired: out.ObligationsRequired,
		TTL:                 time.Duration(out.TTLSeconds) * time.Second,
		EvaluatedAt:         time.Now(),
	}, nil
}
