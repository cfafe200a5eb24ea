// Package telemetry forwards console events (lifecycle transitions, sync
// results, degraded-mode entries) to an external notification sink.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skyporthq/skyport/pkg/types"
)

// eventsKey is the Redis list the buffer drains.
const eventsKey = "skyport:events"

// EventBuffer batches events in a Redis list and pushes them to a webhook.
// Without a webhook URL or Redis client it operates in no-op mode.
type EventBuffer struct {
	rdb     *redis.Client
	http    *http.Client
	webhook string
	logger  *zap.Logger
	max     int
	tick    time.Duration
	stop    chan struct{}
	noop    bool
}

func NewEventBuffer(rdb *redis.Client, webhook string, max int, tick time.Duration, logger *zap.Logger) *EventBuffer {
	b := &EventBuffer{
		rdb:     rdb,
		http:    &http.Client{Timeout: 5 * time.Second},
		webhook: webhook,
		logger:  logger,
		max:     max,
		tick:    tick,
		stop:    make(chan struct{}),
	}
	if rdb == nil || webhook == "" {
		b.noop = true
	}
	if b.max <= 0 {
		b.max = 100
	}
	if b.tick <= 0 {
		b.tick = 10 * time.Second
	}
	return b
}

// Publish enqueues one event. Failures are logged, never returned: event
// delivery must not block or fail the operation that produced the event.
func (b *EventBuffer) Publish(evt types.Event) {
	if b.noop {
		return
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.RPush(ctx, eventsKey, raw).Err(); err != nil {
		b.logger.Warn("event enqueue failed", zap.Error(err))
	}
}

// Run starts the background flush loop.
func (b *EventBuffer) Run() {
	if b.noop {
		return
	}
	go b.loop()
}

func (b *EventBuffer) Stop() { close(b.stop) }

func (b *EventBuffer) loop() {
	t := time.NewTicker(b.tick)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			b.flush()
		}
	}
}

func (b *EventBuffer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for i := 0; i < b.max; i++ {
		raw, err := b.rdb.LPop(ctx, eventsKey).Bytes()
		if err != nil {
			break
		}
		if err := b.push(ctx, raw); err != nil {
			// Put the event back at the head so order holds and nothing
			// is lost; the next tick retries.
			b.logger.Warn("event push failed", zap.Error(err))
			if err := b.rdb.LPush(ctx, eventsKey, raw).Err(); err != nil {
				b.logger.Error("event requeue failed, event dropped", zap.Error(err))
			}
			break
		}
	}
}

func (b *EventBuffer) push(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.webhook, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
