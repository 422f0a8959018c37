package payments

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/obs"
)

var (
	ErrQueueFull        = errors.New("notification queue is full")
	ErrDispatcherClosed = errors.New("notification dispatcher is closed")
)

// NotificationSink accepts webhook transaction ids for background reconciliation.
type NotificationSink interface {
	Submit(ctx context.Context, transactionID string) error
}

type Ingester interface {
	IngestNotification(ctx context.Context, transactionID string) error
}

// Dispatcher is a fixed pool of workers, each draining its own bounded queue. A transaction id
// always hashes to the same worker, so notifications for it are processed one at a time and
// in arrival order.
type Dispatcher struct {
	ingest      Ingester
	queues      []chan string
	taskTimeout time.Duration
	log         *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(ingest Ingester, workers, queueSize int, log *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		ingest:      ingest,
		queues:      make([]chan string, workers),
		taskTimeout: 30 * time.Second,
		log:         obs.OrNop(log),
	}
	for i := range d.queues {
		d.queues[i] = make(chan string, queueSize)
	}
	return d
}

// Start launches the workers. Work already queued keeps running until Close drains it.
func (d *Dispatcher) Start() {
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.work(i, q)
	}
}

func (d *Dispatcher) work(id int, q <-chan string) {
	defer d.wg.Done()
	for txID := range q {
		obs.NotificationQueueDepth.Dec()
		d.process(id, txID)
	}
}

func (d *Dispatcher) process(worker int, txID string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			obs.NotificationsTotal.WithLabelValues("failed").Inc()
			d.log.Error("notification worker panic", zap.Int("worker", worker), zap.String("transaction_id", txID), zap.Any("panic", r))
		}
	}()

	if err := d.ingest.IngestNotification(ctx, txID); err != nil {
		obs.NotificationsTotal.WithLabelValues("failed").Inc()
		d.log.Warn("notification processing failed",
			zap.Int("worker", worker), zap.String("transaction_id", txID), zap.Error(err))
		return
	}
	obs.NotificationsTotal.WithLabelValues("processed").Inc()
}

// Submit never blocks: a full queue is reported so the caller can log it; the provider retries.
func (d *Dispatcher) Submit(_ context.Context, txID string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queues[d.shard(txID)] <- txID:
		obs.NotificationQueueDepth.Inc()
		obs.NotificationsTotal.WithLabelValues("enqueued").Inc()
		return nil
	default:
		obs.NotificationsTotal.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

func (d *Dispatcher) shard(txID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(txID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

// Close stops intake and waits for queued notifications until ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.queues {
			close(q)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
