package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skyporthq/skyport/pkg/types"
)

func TestEventBufferFlushesToWebhook(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	got := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		got <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	b := NewEventBuffer(rdb, srv.URL, 10, 50*time.Millisecond, zap.NewNop())
	b.Publish(types.Event{Type: "resource.running", Resource: "r-1", TS: time.Now()})
	b.Publish(types.Event{Type: "account.synced", AccountID: "a-1", TS: time.Now()})
	b.Run()
	defer b.Stop()

	deadline := time.After(3 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-deadline:
			t.Fatalf("webhook received %d of 2 events before timeout", i)
		}
	}
}

func TestEventBufferRequeuesOnWebhookFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewEventBuffer(rdb, srv.URL, 10, time.Hour, zap.NewNop())
	b.Publish(types.Event{Type: "resource.running", Resource: "r-1", TS: time.Now()})
	b.flush()

	if n, err := mr.List(eventsKey); err != nil || len(n) != 1 {
		t.Fatalf("event should stay queued after a failed push, list=%v err=%v", n, err)
	}

	// Once the webhook recovers the same event goes through.
	srv.Close()
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	b.webhook = ok.URL
	b.flush()

	if n, _ := mr.List(eventsKey); len(n) != 0 {
		t.Fatalf("event should be drained after a successful push, list=%v", n)
	}
}

func TestEventBufferNoopWithoutWebhook(t *testing.T) {
	b := NewEventBuffer(nil, "", 0, 0, zap.NewNop())
	// Must be safe to use without backing services.
	b.Publish(types.Event{Type: "resource.running"})
	b.Run()
}
