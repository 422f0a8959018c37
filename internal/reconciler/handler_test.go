package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-instrument-store/internal/orders"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeEngine) IngestNotification(_ context.Context, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, txID)
	return f.err
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func notification(t *testing.T, eventType, txID string) kafkago.Message {
	t.Helper()
	env, err := orders.NewEnvelope(eventType, "api", "", orders.PaymentNotificationPayload{TransactionID: txID})
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return kafkago.Message{Key: []byte(txID), Value: b}
}

func newHandler(t *testing.T, eng *fakeEngine) *Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Handler{Engine: eng, Redis: rdb, Name: "reconciler", Log: zaptest.NewLogger(t)}
}

func TestHandleNotificationDeduplicates(t *testing.T) {
	eng := &fakeEngine{}
	h := newHandler(t, eng)
	ctx := context.Background()
	m := notification(t, orders.EventPaymentNotification, "555")

	for i := 0; i < 3; i++ {
		if err := h.HandleNotification(ctx, m); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if eng.count() != 1 {
		t.Fatalf("redelivered event processed %d times", eng.count())
	}

	// a new event for the same transaction is new work
	if err := h.HandleNotification(ctx, notification(t, orders.EventPaymentNotification, "555")); err != nil {
		t.Fatal(err)
	}
	if eng.count() != 2 {
		t.Fatalf("calls = %d", eng.count())
	}
}

func TestHandleNotificationReleasesClaimOnFailure(t *testing.T) {
	eng := &fakeEngine{err: errors.New("gateway unreachable")}
	h := newHandler(t, eng)
	ctx := context.Background()
	m := notification(t, orders.EventPaymentNotification, "777")

	if err := h.HandleNotification(ctx, m); err == nil {
		t.Fatalf("failure was swallowed")
	}
	eng.err = nil
	if err := h.HandleNotification(ctx, m); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if eng.count() != 2 {
		t.Fatalf("retry did not reach the engine, calls = %d", eng.count())
	}
}

func TestHandleNotificationSkipsOtherMessages(t *testing.T) {
	eng := &fakeEngine{}
	h := newHandler(t, eng)
	ctx := context.Background()

	if err := h.HandleNotification(ctx, notification(t, orders.EventPaymentStatusChanged, "1")); err != nil {
		t.Fatal(err)
	}
	if err := h.HandleNotification(ctx, kafkago.Message{Value: []byte("not json")}); err != nil {
		t.Fatalf("poison message must be committed: %v", err)
	}
	if eng.count() != 0 {
		t.Fatalf("calls = %d", eng.count())
	}
}

func TestHandleNotificationWithoutRedis(t *testing.T) {
	eng := &fakeEngine{}
	h := &Handler{Engine: eng, Name: "reconciler"}
	m := notification(t, orders.EventPaymentNotification, "9")

	for i := 0; i < 2; i++ {
		if err := h.HandleNotification(context.Background(), m); err != nil {
			t.Fatal(err)
		}
	}
	if eng.count() != 2 {
		t.Fatalf("calls = %d", eng.count())
	}
}
