package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gatekeep "github.com/jonwraymond/gatekeep"
	"github.com/jonwraymond/gatekeep/authz"
	"github.com/jonwraymond/gatekeep/transport"
)

func TestNewRouter_Authorize(t *testing.T) {
	engine := &fakeEngine{decision: gatekeep.Decision{Allowed: true, Reason: "developer can read low-sensitivity"}}
	sink := &fakeSink{}
	authzSvc := authz.NewService(engine, nil, authz.Config{FailClosed: true, Sink: sink})

	registry := transport.NewRegistry()
	d := NewDispatcher(registry, authzSvc, Config{Sink: sink})

	router := NewRouter(d, authzSvc.Authorize, ServerConfig{})

	body, _ := json.Marshal(authorizeRequest{
		Principal: gatekeep.Principal{ID: "alice", Roles: []string{"developer"}},
		Action:    "invoke",
		Target:    gatekeep.Target{Provider: "fs-1", Tool: "read_file"},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}

	var resp authorizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Allow {
		t.Error("Allow = false, want true")
	}
}

func TestNewRouter_Authorize_Deny(t *testing.T) {
	engine := &fakeEngine{decision: gatekeep.Decision{Allowed: false, Reason: "viewer cannot invoke critical tools"}}
	sink := &fakeSink{}
	authzSvc := authz.NewService(engine, nil, authz.Config{FailClosed: true, Sink: sink})
	registry := transport.NewRegistry()
	d := NewDispatcher(registry, authzSvc, Config{Sink: sink})

	router := NewRouter(d, authzSvc.Authorize, ServerConfig{})

	body, _ := json.Marshal(authorizeRequest{
		Principal: gatekeep.Principal{ID: "bob", Roles: []string{"viewer"}},
		Action:    "invoke",
		Target:    gatekeep.Target{Provider: "db-1", Tool: "drop_table"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (authorize always answers 200 with allow=false)", rec.Code)
	}
	var resp authorizeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Allow {
		t.Error("Allow = true, want false")
	}
}

func TestNewRouter_Invoke_Denied(t *testing.T) {
	engine := &fakeEngine{decision: gatekeep.Decision{Allowed: false, Reason: "denied"}}
	sink := &fakeSink{}
	authzSvc := authz.NewService(engine, nil, authz.Config{FailClosed: true, Sink: sink})
	registry := transport.NewRegistry()
	registry.RegisterFactory("http", func(resource gatekeep.AdapterResource) (transport.Adapter, error) {
		return &fakeAdapter{}, nil
	})
	d := NewDispatcher(registry, authzSvc, Config{Sink: sink})

	router := NewRouter(d, authzSvc.Authorize, ServerConfig{})

	body, _ := json.Marshal(invokeRequest{
		Resource:   gatekeep.AdapterResource{ID: "fs-1", Protocol: "http"},
		Capability: "read_file",
		Action:     "invoke",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Kind != gatekeep.ErrKindPermissionDenied {
		t.Errorf("Kind = %v, want permission_denied", resp.Kind)
	}
}

func TestNewRouter_Invoke_MalformedBody(t *testing.T) {
	engine := &fakeEngine{decision: gatekeep.Decision{Allowed: true}}
	sink := &fakeSink{}
	authzSvc := authz.NewService(engine, nil, authz.Config{FailClosed: true, Sink: sink})
	registry := transport.NewRegistry()
	d := NewDispatcher(registry, authzSvc, Config{Sink: sink})

	router := NewRouter(d, authzSvc.Authorize, ServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind gatekeep.ErrorKind
		want int
	}{
		{gatekeep.ErrKindPermissionDenied, http.StatusForbidden},
		{gatekeep.ErrKindAuthenticationFailed, http.StatusUnauthorized},
		{gatekeep.ErrKindInvalidRequest, http.StatusBadRequest},
		{gatekeep.ErrKindRateLimited, http.StatusTooManyRequests},
		{gatekeep.ErrKindPolicyUnavailable, http.StatusServiceUnavailable},
		{gatekeep.ErrKindProviderError, http.StatusBadGateway},
		{gatekeep.ErrKindInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForKind(tt.kind); got != tt.want {
			t.Errorf("statusForKind(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
