package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	gatekeep "github.com/jonwraymond/gatekeep"
)

type fakeAdapter struct {
	discoverCalls atomic.Int32
	closeCalls    atomic.Int32
	discoverErr   error
	closeErr      error
}

func (f *fakeAdapter) Discover(context.Context) error {
	f.discoverCalls.Add(1)
	return f.discoverErr
}
func (f *fakeAdapter) ListCapabilities(context.Context) ([]Capability, error) { return nil, nil }
func (f *fakeAdapter) Invoke(context.Context, string, map[string]any) ([]byte, error) {
	return nil, nil
}
func (f *fakeAdapter) InvokeStream(context.Context, string, map[string]any) (<-chan Chunk, error) {
	return nil, nil
}
func (f *fakeAdapter) Health(context.Context) HealthStatus { return HealthStatus{Healthy: true} }
func (f *fakeAdapter) Close(context.Context) error {
	f.closeCalls.Add(1)
	return f.closeErr
}

func TestRegistry_ResolveConstructsAndCaches(t *testing.T) {
	r := NewRegistry()
	fa := &fakeAdapter{}
	var built int32
	r.RegisterFactory("fake", func(resource gatekeep.AdapterResource) (Adapter, error) {
		atomic.AddInt32(&built, 1)
		return fa, nil
	})

	resource := gatekeep.AdapterResource{ID: "res-1", Protocol: "fake"}

	a1, err := r.Resolve(context.Background(), resource)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	a2, err := r.Resolve(context.Background(), resource)
	if err != nil {
		t.Fatalf("Resolve() second call error = %v", err)
	}

	if a1 != a2 {
		t.Error("Resolve() should return the same cached adapter on the second call")
	}
	if built != 1 {
		t.Errorf("factory invoked %d times, want 1", built)
	}
	if fa.discoverCalls.Load() != 1 {
		t.Errorf("Discover called %d times, want 1", fa.discoverCalls.Load())
	}
}

func TestRegistry_ResolveUnknownProtocol(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(context.Background(), gatekeep.AdapterResource{ID: "res-1", Protocol: "nope"})
	if err == nil {
		t.Fatal("Resolve() with unregistered protocol should error")
	}
	var gerr *gatekeep.Error
	if !errors.As(err, &gerr) || gerr.Kind != gatekeep.ErrKindAdapterUnavailable {
		t.Errorf("error = %v, want ErrKindAdapterUnavailable", err)
	}
}

func TestRegistry_ResolveFactoryError(t *testing.T) {
	r := NewRegistry()
	r.RegisterFactory("fake", func(resource gatekeep.AdapterResource) (Adapter, error) {
		return nil, errors.New("boom")
	})
	_, err := r.Resolve(context.Background(), gatekeep.AdapterResource{ID: "res-1", Protocol: "fake"})
	if err == nil {
		t.Fatal("Resolve() should propagate factory error")
	}
}

func TestRegistry_ResolveDiscoveryError(t *testing.T) {
	r := NewRegistry()
	fa := &fakeAdapter{discoverErr: errors.New("unreachable")}
	r.RegisterFactory("fake", func(resource gatekeep.AdapterResource) (Adapter, error) {
		return fa, nil
	})
	_, err := r.Resolve(context.Background(), gatekeep.AdapterResource{ID: "res-1", Protocol: "fake"})
	if err == nil {
		t.Fatal("Resolve() should propagate Discover error")
	}
	var gerr *gatekeep.Error
	if !errors.As(err, &gerr) || gerr.Kind != gatekeep.ErrKindAdapterUnavailable {
		t.Errorf("error = %v, want ErrKindAdapterUnavailable", err)
	}
	if fa.closeCalls.Load() != 0 {
		t.Error("a failed discovery should not be cached, and Close() should not be called on it by Resolve")
	}
}

func TestRegistry_ResolveConcurrent(t *testing.T) {
	r := NewRegistry()
	var built int32
	r.RegisterFactory("fake", func(resource gatekeep.AdapterResource) (Adapter, error) {
		atomic.AddInt32(&built, 1)
		return &fakeAdapter{}, nil
	})

	resource := gatekeep.AdapterResource{ID: "res-1", Protocol: "fake"}

	var wg sync.WaitGroup
	results := make([]Adapter, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.Resolve(context.Background(), resource)
			if err != nil {
				t.Errorf("Resolve() error = %v", err)
				return
			}
			results[i] = a
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent Resolve() calls for the same resource must return the same adapter")
		}
	}
	if built != 1 {
		t.Errorf("factory invoked %d times under concurrent Resolve, want 1", built)
	}
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry()
	fa1 := &fakeAdapter{}
	fa2 := &fakeAdapter{closeErr: errors.New("close failed")}
	r.RegisterFactory("fake1", func(resource gatekeep.AdapterResource) (Adapter, error) { return fa1, nil })
	r.RegisterFactory("fake2", func(resource gatekeep.AdapterResource) (Adapter, error) { return fa2, nil })

	if _, err := r.Resolve(context.Background(), gatekeep.AdapterResource{ID: "a", Protocol: "fake1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(context.Background(), gatekeep.AdapterResource{ID: "b", Protocol: "fake2"}); err != nil {
		t.Fatal(err)
	}

	if err := r.Close(context.Background()); err == nil {
		t.Error("Close() should return the first close error")
	}

	if fa1.closeCalls.Load() != 1 || fa2.closeCalls.Load() != 1 {
		t.Error("Close() must close every live adapter, even after hitting one error")
	}

	// Live adapters are forgotten after Close.
	var rebuilt int32
	r.RegisterFactory("fake1", func(resource gatekeep.AdapterResource) (Adapter, error) {
		rebuilt++
		return &fakeAdapter{}, nil
	})
	if _, err := r.Resolve(context.Background(), gatekeep.AdapterResource{ID: "a", Protocol: "fake1"}); err != nil {
		t.Fatal(err)
	}
	if rebuilt != 1 {
		t.Error("Resolve() after Close() should reconstruct the adapter")
	}
}
