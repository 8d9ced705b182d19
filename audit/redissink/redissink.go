// Package redissink is the durable audit sink backed by a Redis stream,
// appending batches via XADD the way the cache/session stores in
// jordigilh-kubernaut, Hola-to-network_logistics_problem, and
// itsneelabh-gomind all reach for github.com/redis/go-redis/v9.
package redissink

import (
	"context"
	"encoding/json"
	"fmt"

	gatekeep "github.com/jonwraymond/gatekeep"
	"github.com/redis/go-redis/v9"
)

// Config configures the Redis stream sink.
type Config struct {
	Stream   string // stream key; default "gatekeep:audit"
	MaxLen   int64  // approximate stream cap via XADD MAXLEN ~; 0 disables capping
	FieldKey string // field name under which the JSON payload is stored; default "event"
}

func (c *Config) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "gatekeep:audit"
	}
	if c.FieldKey == "" {
		c.FieldKey = "event"
	}
}

// Sink writes audit batches to a Redis stream.
type Sink struct {
	client *redis.Client
	cfg    Config
}

// New wraps an existing *redis.Client. Callers configure the client
// (address, TLS, auth) themselves via redis.Options / redis.ParseURL, the
// same way the rest of the pack constructs go-redis clients.
func New(client *redis.Client, cfg Config) *Sink {
	cfg.applyDefaults()
	return &Sink{client: client, cfg: cfg}
}

// WriteBatch appends each event to the stream as its own XADD entry,
// pipelined into a single round trip.
func (s *Sink) WriteBatch(ctx context.Context, events []gatekeep.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("redissink: marshal event %s: %w", ev.ID, err)
		}

		args := &redis.XAddArgs{
			Stream: s.cfg.Stream,
			Values: map[string]any{s.cfg.FieldKey: payload},
		}
		if s.cfg.MaxLen > 0 {
			args.MaxLen = s.cfg.MaxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redissink: pipeline exec: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *Sink) Close(_ context.Context) error {
	return s.client.Close()
}
