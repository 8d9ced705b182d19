package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gatekeep "github.com/jonwraymond/gatekeep"
)

type recordingSink struct {
	mu    sync.Mutex
	calls int
	batches [][]gatekeep.AuditEvent
}

func (s *recordingSink) WriteBatch(ctx context.Context, events []gatekeep.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	cp := make([]gatekeep.AuditEvent, len(events))
	copy(cp, events)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *recordingSink) Close(ctx context.Context) error { return nil }

func (s *recordingSink) allEvents() []gatekeep.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []gatekeep.AuditEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// flakySink fails its first N WriteBatch calls, then succeeds.
type flakySink struct {
	mu         sync.Mutex
	failUntil  int32
	attempts   int32
	written    [][]gatekeep.AuditEvent
	closeErr   error
}

func (s *flakySink) WriteBatch(ctx context.Context, events []gatekeep.AuditEvent) error {
	n := atomic.AddInt32(&s.attempts, 1)
	if n <= atomic.LoadInt32(&s.failUntil) {
		return errors.New("sink temporarily unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]gatekeep.AuditEvent, len(events))
	copy(cp, events)
	s.written = append(s.written, cp)
	return nil
}

func (s *flakySink) Close(ctx context.Context) error { return s.closeErr }

// alwaysFailSink never succeeds, used to exercise fallback teeing.
type alwaysFailSink struct {
	attempts atomic.Int32
}

func (s *alwaysFailSink) WriteBatch(ctx context.Context, events []gatekeep.AuditEvent) error {
	s.attempts.Add(1)
	return errors.New("sink permanently down")
}

func (s *alwaysFailSink) Close(ctx context.Context) error { return nil }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func TestPipeline_Append_FlushesOnBatchSize(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, Config{BatchSize: 3, BatchMaxAge: time.Hour, QueueCapacity: 16})
	defer p.Close(context.Background())

	for i := 0; i < 3; i++ {
		p.Append(context.Background(), gatekeep.AuditEvent{Principal: gatekeep.Principal{ID: "alice"}})
	}

	waitFor(t, time.Second, func() bool { return len(sink.allEvents()) == 3 })
	if m := p.Metrics(); m.Flushed != 3 {
		t.Errorf("Flushed = %d, want 3", m.Flushed)
	}
}

func TestPipeline_Append_FlushesOnBatchMaxAge(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, Config{BatchSize: 100, BatchMaxAge: 20 * time.Millisecond, QueueCapacity: 16})
	defer p.Close(context.Background())

	p.Append(context.Background(), gatekeep.AuditEvent{Principal: gatekeep.Principal{ID: "alice"}})

	waitFor(t, time.Second, func() bool { return len(sink.allEvents()) == 1 })
}

func TestPipeline_PreservesPerPrincipalOrder(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, Config{BatchSize: 5, BatchMaxAge: time.Hour, QueueCapacity: 32})
	defer p.Close(context.Background())

	for i := 0; i < 5; i++ {
		p.Append(context.Background(), gatekeep.AuditEvent{
			Principal: gatekeep.Principal{ID: "alice"},
			Action:    string(rune('a' + i)),
		})
	}

	waitFor(t, time.Second, func() bool { return len(sink.allEvents()) == 5 })
	events := sink.allEvents()
	for i, e := range events {
		want := string(rune('a' + i))
		if e.Action != want {
			t.Errorf("events[%d].Action = %q, want %q (ordering violated)", i, e.Action, want)
		}
	}
}

func TestPipeline_Append_DropsOldestWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{block: block}
	p := NewPipeline(sink, Config{
		BatchSize:     1,
		BatchMaxAge:   time.Hour,
		QueueCapacity: 2,
		EnqueueWait:   10 * time.Millisecond,
	})
	defer func() {
		close(block)
		p.Close(context.Background())
	}()

	// First event is picked up by the consumer and blocks on WriteBatch,
	// so the queue itself stays empty until we fill it below.
	p.Append(context.Background(), gatekeep.AuditEvent{Principal: gatekeep.Principal{ID: "0"}})
	waitFor(t, time.Second, func() bool { return sink.started.Load() })

	p.Append(context.Background(), gatekeep.AuditEvent{Principal: gatekeep.Principal{ID: "1"}})
	p.Append(context.Background(), gatekeep.AuditEvent{Principal: gatekeep.Principal{ID: "2"}})
	// Queue capacity is 2 and already holds events "1" and "2"; this one
	// must evict the oldest ("1") rather than itself.
	p.Append(context.Background(), gatekeep.AuditEvent{Principal: gatekeep.Principal{ID: "3"}})

	if m := p.Metrics(); m.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", m.Dropped)
	}
}

type blockingSink struct {
	block   chan struct{}
	started atomic.Bool
}

func (s *blockingSink) WriteBatch(ctx context.Context, events []gatekeep.AuditEvent) error {
	s.started.Store(true)
	<-s.block
	return nil
}

func (s *blockingSink) Close(ctx context.Context) error { return nil }

func TestPipeline_RetriesUntilSinkRecovers(t *testing.T) {
	sink := &flakySink{failUntil: 2}
	p := NewPipeline(sink, Config{
		BatchSize:      1,
		BatchMaxAge:    time.Hour,
		QueueCapacity:  4,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	})
	defer p.Close(context.Background())

	p.Append(context.Background(), gatekeep.AuditEvent{Principal: gatekeep.Principal{ID: "alice"}})

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&sink.attempts) >= 3 })
	if m := p.Metrics(); m.Flushed != 1 {
		t.Errorf("Flushed = %d, want 1 once the sink recovers", m.Flushed)
	}
	if m := p.Metrics(); m.Failed != 2 {
		t.Errorf("Failed = %d, want 2 (the two failed attempts before recovery)", m.Failed)
	}
}

func TestPipeline_TeesToFallbackOnSustainedFailure(t *testing.T) {
	primary := &alwaysFailSink{}
	fallback := &recordingSink{}
	p := NewPipeline(primary, Config{
		BatchSize:      1,
		BatchMaxAge:    time.Hour,
		QueueCapacity:  4,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
		Fallback:       fallback,
		FallbackAfter:  3,
	})
	defer func() {
		// primary never recovers; Close's flush would retry forever, so
		// don't block the test on it.
		_ = p
	}()

	p.Append(context.Background(), gatekeep.AuditEvent{Principal: gatekeep.Principal{ID: "alice"}})

	waitFor(t, time.Second, func() bool { return len(fallback.allEvents()) == 1 })
	if primary.attempts.Load() < 3 {
		t.Errorf("primary.attempts = %d, want >= 3 before falling back", primary.attempts.Load())
	}
}

func TestPipeline_Close_DrainsQueueBeforeClosingSink(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, Config{BatchSize: 100, BatchMaxAge: time.Hour, QueueCapacity: 16})

	for i := 0; i < 10; i++ {
		p.Append(context.Background(), gatekeep.AuditEvent{Principal: gatekeep.Principal{ID: "alice"}})
	}

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(sink.allEvents()) != 10 {
		t.Errorf("len(sink.allEvents()) = %d, want 10 (all queued events flushed before close)", len(sink.allEvents()))
	}
}

func TestPipeline_Append_AssignsEventID(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, Config{BatchSize: 1, BatchMaxAge: time.Hour, QueueCapacity: 4})
	defer p.Close(context.Background())

	p.Append(context.Background(), gatekeep.AuditEvent{Principal: gatekeep.Principal{ID: "alice"}})

	waitFor(t, time.Second, func() bool { return len(sink.allEvents()) == 1 })
	if sink.allEvents()[0].ID == "" {
		t.Error("event ID was not assigned")
	}
}

var _ Sink = (*recordingSink)(nil)
var _ Sink = (*flakySink)(nil)
var _ Sink = (*alwaysFailSink)(nil)
