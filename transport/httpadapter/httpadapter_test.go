package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gatekeep "github.com/jonwraymond/gatekeep"
	"github.com/jonwraymond/gatekeep/cache"
	"github.com/jonwraymond/gatekeep/transport"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.DiscoveryPath != "/capabilities" {
		t.Errorf("DiscoveryPath = %q, want /capabilities", cfg.DiscoveryPath)
	}
	if cfg.InvokePathTemplate != "/invoke/%s" {
		t.Errorf("InvokePathTemplate = %q, want /invoke/%%s", cfg.InvokePathTemplate)
	}
	if cfg.DiscoveryTTL != 60*time.Second {
		t.Errorf("DiscoveryTTL = %v, want 60s", cfg.DiscoveryTTL)
	}
	if cfg.MaxIdleConnsPerHost != 50 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 50", cfg.MaxIdleConnsPerHost)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
}

func TestAdapter_ListCapabilitiesAndDiscover(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != "/capabilities" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]transport.Capability{{Name: "search"}})
	}))
	defer srv.Close()

	a := New(gatekeep.AdapterResource{ID: "res-1", Address: srv.URL}, Config{}, nil)

	caps, err := a.ListCapabilities(context.Background())
	if err != nil {
		t.Fatalf("ListCapabilities() error = %v", err)
	}
	if len(caps) != 1 || caps[0].Name != "search" {
		t.Errorf("caps = %+v, want one capability named search", caps)
	}

	if err := a.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if hits != 2 {
		t.Errorf("server hit %d times, want 2 (no discovery cache configured)", hits)
	}
}

func TestAdapter_ListCapabilitiesUsesCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode([]transport.Capability{{Name: "search"}})
	}))
	defer srv.Close()

	mem := cache.NewMemoryCache(cache.DefaultPolicy())
	a := New(gatekeep.AdapterResource{ID: "res-1", Address: srv.URL}, Config{DiscoveryTTL: time.Minute}, mem)

	if _, err := a.ListCapabilities(context.Background()); err != nil {
		t.Fatalf("ListCapabilities() error = %v", err)
	}
	if _, err := a.ListCapabilities(context.Background()); err != nil {
		t.Fatalf("ListCapabilities() second call error = %v", err)
	}

	if hits != 1 {
		t.Errorf("server hit %d times, want 1 with discovery cache populated", hits)
	}
}

func TestAdapter_InvokeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoke/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var params map[string]any
		_ = json.NewDecoder(r.Body).Decode(&params)
		if params["q"] != "hello" {
			t.Errorf("params = %+v, want q=hello", params)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := New(gatekeep.AdapterResource{ID: "res-1", Address: srv.URL}, Config{}, nil)

	result, err := a.Invoke(context.Background(), "search", map[string]any{"q": "hello"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("result = %s, want {\"ok\":true}", result)
	}
}

func TestAdapter_InvokeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(gatekeep.AdapterResource{ID: "res-1", Address: srv.URL}, Config{}, nil)

	_, err := a.Invoke(context.Background(), "search", nil)
	if err == nil {
		t.Fatal("Invoke() with a 500 response should error")
	}
	if gatekeep.KindOf(err) != gatekeep.ErrKindTransientError {
		t.Errorf("KindOf(err) = %v, want ErrKindTransientError", gatekeep.KindOf(err))
	}
}

func TestAdapter_InvokeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := New(gatekeep.AdapterResource{ID: "res-1", Address: srv.URL}, Config{}, nil)

	_, err := a.Invoke(context.Background(), "search", nil)
	if err == nil {
		t.Fatal("Invoke() with a 400 response should error")
	}
	if gatekeep.KindOf(err) != gatekeep.ErrKindProviderError {
		t.Errorf("KindOf(err) = %v, want ErrKindProviderError", gatekeep.KindOf(err))
	}
}

func TestAdapter_InvokeStreamSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		fmt.Fprint(w, "data: chunk-1\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		fmt.Fprint(w, "data: chunk-2\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := New(gatekeep.AdapterResource{ID: "res-1", Address: srv.URL}, Config{}, nil)

	ch, err := a.InvokeStream(context.Background(), "stream", nil)
	if err != nil {
		t.Fatalf("InvokeStream() error = %v", err)
	}

	var chunks []string
	var gotFinal bool
	for c := range ch {
		if c.Final {
			gotFinal = true
			break
		}
		chunks = append(chunks, string(c.Data))
	}

	if !gotFinal {
		t.Error("InvokeStream() should terminate with a Final chunk")
	}
	if len(chunks) != 2 || chunks[0] != "chunk-1" || chunks[1] != "chunk-2" {
		t.Errorf("chunks = %v, want [chunk-1 chunk-2]", chunks)
	}
}

func TestAdapter_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(gatekeep.AdapterResource{ID: "res-1", Address: srv.URL}, Config{}, nil)
	status := a.Health(context.Background())
	if !status.Healthy {
		t.Error("Health() should report healthy for a 200 response")
	}
}

func TestAdapter_HealthUnreachable(t *testing.T) {
	a := New(gatekeep.AdapterResource{ID: "res-1", Address: "http://127.0.0.1:1"}, Config{RequestTimeout: time.Second}, nil)
	status := a.Health(context.Background())
	if status.Healthy {
		t.Error("Health() should report unhealthy when the provider is unreachable")
	}
}

func TestAdapter_Close(t *testing.T) {
	a := New(gatekeep.AdapterResource{ID: "res-1", Address: "http://example.invalid"}, Config{}, nil)
	if err := a.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
