// Package audit implements the buffered, at-least-once audit pipeline:
// a bounded producer/consumer queue batches AuditEvents and flushes them
// to a Sink, with backpressure that drops the oldest event and counts it
// rather than blocking producers indefinitely.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gatekeep "github.com/jonwraymond/gatekeep"
	"github.com/jonwraymond/gatekeep/observe"
)

// Appender is the producer-facing half of the pipeline: anything that can
// accept an AuditEvent for eventual durable recording. authz.Service and
// gateway.Dispatcher depend only on this interface, not on Pipeline.
type Appender interface {
	Append(ctx context.Context, event gatekeep.AuditEvent)
}

// Sink is the durable destination a Pipeline flushes batches to.
//
// Contract:
// - Concurrency: WriteBatch is only ever called by the pipeline's single
//   consumer goroutine; implementations need not be safe for concurrent
//   WriteBatch calls, but must tolerate concurrent Close from shutdown.
type Sink interface {
	WriteBatch(ctx context.Context, events []gatekeep.AuditEvent) error
	Close(ctx context.Context) error
}

// Config configures the audit pipeline.
type Config struct {
	// QueueCapacity bounds the number of events buffered in memory.
	// Default: 10000.
	QueueCapacity int

	// BatchSize is the maximum number of events flushed per WriteBatch call.
	// Default: 100.
	BatchSize int

	// BatchMaxAge is the longest a partial batch waits before flushing.
	// Default: 1s.
	BatchMaxAge time.Duration

	// EnqueueWait bounds how long Append blocks for room in the queue
	// before falling back to drop-oldest. Default: 50ms.
	EnqueueWait time.Duration

	// RetryBaseDelay/RetryMaxDelay bound the exponential backoff applied
	// between WriteBatch retries after a failure. The pipeline retries
	// indefinitely (spec.md §4.6) rather than giving up after N attempts;
	// these only bound the delay between attempts.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Fallback receives batches that failed FallbackAfter consecutive
	// WriteBatch attempts against Sink, tee'd in so events already
	// counted as "enqueued" are never silently lost while the primary
	// sink is down. May be nil to disable teeing.
	Fallback      Sink
	FallbackAfter int

	Logger observe.Logger
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchMaxAge <= 0 {
		c.BatchMaxAge = time.Second
	}
	if c.EnqueueWait <= 0 {
		c.EnqueueWait = 50 * time.Millisecond
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.FallbackAfter <= 0 {
		c.FallbackAfter = 3
	}
}

// Metrics tracks pipeline activity for observability.
type Metrics struct {
	Enqueued uint64
	Flushed  uint64
	Dropped  uint64
	Failed   uint64
}

// Pipeline is the audit queue and its single consumer. All events share
// one FIFO channel, so events for the same principal are flushed in the
// order they were appended, interleaved with other principals' events.
type Pipeline struct {
	cfg   Config
	sink  Sink
	queue chan gatekeep.AuditEvent

	wg     sync.WaitGroup
	cancel context.CancelFunc

	enqueued atomic.Uint64
	flushed  atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewPipeline creates and starts the audit pipeline's consumer goroutine.
// Call Close to drain and stop it.
func NewPipeline(sink Sink, cfg Config) *Pipeline {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:    cfg,
		sink:   sink,
		queue:  make(chan gatekeep.AuditEvent, cfg.QueueCapacity),
		cancel: cancel,
	}
	p.wg.Add(1)
	go p.consume(ctx)
	return p
}

// Append enqueues an event. Per spec.md's ordering guarantee, events for
// the same principal are always delivered to the sink in the order they
// were appended (the single consumer goroutine and the channel's FIFO
// ordering together provide this; no per-principal fan-out is used).
//
// Backpressure: Append blocks up to cfg.EnqueueWait for room in the
// queue. If the queue is still full after that bound, the oldest queued
// event is dropped to make room for this one. If another producer takes
// the freed slot first, this event is dropped as well. Every discarded
// event increments the drop counter by exactly one — per spec.md §4.6/§8,
// audit_dropped must never undercount.
func (p *Pipeline) Append(ctx context.Context, event gatekeep.AuditEvent) {
	if event.ID == "" {
		event.ID = newEventID()
	}

	select {
	case p.queue <- event:
		p.enqueued.Add(1)
		return
	default:
	}

	timer := time.NewTimer(p.cfg.EnqueueWait)
	defer timer.Stop()

	select {
	case p.queue <- event:
		p.enqueued.Add(1)
		return
	case <-timer.C:
	case <-ctx.Done():
	}

	// Still full: drop the oldest queued event to make room, rather than
	// dropping the event that just arrived, so the queue always holds the
	// most recent window of activity.
	select {
	case dropped := <-p.queue:
		p.dropped.Add(1)
		if p.cfg.Logger != nil {
			p.cfg.Logger.Warn(ctx, "audit: queue full, dropping oldest event", observe.Field{Key: "principal", Value: dropped.Principal.ID})
		}
		select {
		case p.queue <- event:
			p.enqueued.Add(1)
		default:
			// Another producer raced us for the freed slot; count this
			// event as dropped too rather than blocking indefinitely.
			p.dropped.Add(1)
		}
	default:
		// Queue drained concurrently; try once more for a space.
		select {
		case p.queue <- event:
			p.enqueued.Add(1)
		default:
			p.dropped.Add(1)
		}
	}
}

// writeWithRetry flushes batch to p.sink, retrying indefinitely with
// exponential backoff (bounded by RetryBaseDelay/RetryMaxDelay) rather
// than dropping the batch, per spec.md §4.6. After FallbackAfter
// consecutive failures it tees the batch to cfg.Fallback (if configured)
// so events are not lost while the primary sink stays down; it keeps
// retrying the primary sink afterward so delivery resumes there once it
// recovers. ctx.Done() only interrupts the backoff sleep, never a write
// already in flight, and never abandons the batch.
func (p *Pipeline) writeWithRetry(ctx context.Context, batch []gatekeep.AuditEvent) {
	delay := p.cfg.RetryBaseDelay
	attempt := 0
	fallbackUsed := false

	for {
		attempt++
		if err := p.sink.WriteBatch(context.Background(), batch); err == nil {
			p.flushed.Add(uint64(len(batch)))
			return
		} else if p.cfg.Logger != nil {
			p.cfg.Logger.Error(context.Background(), "audit: batch write failed",
				observe.Field{Key: "error", Value: err.Error()},
				observe.Field{Key: "batch_size", Value: len(batch)},
				observe.Field{Key: "attempt", Value: attempt},
			)
		}
		p.failed.Add(uint64(len(batch)))

		if !fallbackUsed && p.cfg.Fallback != nil && attempt >= p.cfg.FallbackAfter {
			if err := p.cfg.Fallback.WriteBatch(context.Background(), batch); err == nil {
				fallbackUsed = true
				if p.cfg.Logger != nil {
					p.cfg.Logger.Warn(context.Background(), "audit: sink sustained failure, tee'd batch to fallback",
						observe.Field{Key: "batch_size", Value: len(batch)},
						observe.Field{Key: "attempt", Value: attempt},
					)
				}
			} else if p.cfg.Logger != nil {
				p.cfg.Logger.Error(context.Background(), "audit: fallback sink write also failed",
					observe.Field{Key: "error", Value: err.Error()},
				)
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// The pipeline is shutting down; Close() already drains the
			// queue before calling us, so there's nothing further to wait
			// on. Keep retrying without delay rather than abandon the batch.
		}
		delay *= 2
		if delay > p.cfg.RetryMaxDelay {
			delay = p.cfg.RetryMaxDelay
		}
	}
}

func (p *Pipeline) consume(ctx context.Context) {
	defer p.wg.Done()

	batch := make([]gatekeep.AuditEvent, 0, p.cfg.BatchSize)
	timer := time.NewTimer(p.cfg.BatchMaxAge)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.writeWithRetry(ctx, batch)
		batch = make([]gatekeep.AuditEvent, 0, p.cfg.BatchSize)
	}

	for {
		select {
		case event, ok := <-p.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= p.cfg.BatchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(p.cfg.BatchMaxAge)
			}
		case <-timer.C:
			flush()
			timer.Reset(p.cfg.BatchMaxAge)
		case <-ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case event := <-p.queue:
					batch = append(batch, event)
					if len(batch) >= p.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the consumer after flushing any buffered events, then
// closes the underlying sink.
func (p *Pipeline) Close(ctx context.Context) error {
	close(p.queue)
	p.wg.Wait()
	p.cancel()
	return p.sink.Close(ctx)
}

// Metrics returns a snapshot of pipeline counters.
func (p *Pipeline) Metrics() Metrics {
	return Metrics{
		Enqueued: p.enqueued.Load(),
		Flushed:  p.flushed.Load(),
		Dropped:  p.dropped.Load(),
		Failed:   p.failed.Load(),
	}
}

// newEventID generates a unique audit event ID.
func newEventID() string {
	return uuid.NewString()
}

var _ Appender = (*Pipeline)(nil)
