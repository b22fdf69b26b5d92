package queue

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	"github.com/bhaijames252-sketch/billbillbill/internal/events"
	"github.com/bhaijames252-sketch/billbillbill/internal/logging"
)

// item pairs a decoded message with the raw delivery it must ack/nack.
type item struct {
	delivery amqp.Delivery
	raw      events.RawMessage
}

// Outcome is the three-way result of processing one decoded message:
// acknowledge it, redeliver it, or reject it to the dead-letter queue
// without redelivery.
type Outcome int

const (
	// Ack confirms successful processing.
	Ack Outcome = iota
	// Requeue nacks the delivery for redelivery, e.g. a transient
	// downstream failure.
	Requeue
	// Reject rejects the delivery without redelivery, routing it to
	// the dead-letter queue, e.g. a message that can never normalize.
	Reject
)

// ProcessFunc handles one decoded message and reports the outcome.
type ProcessFunc func(ctx context.Context, raw events.RawMessage) Outcome

// Batcher accumulates deliveries and flushes them as a batch when
// size or age thresholds are hit, dispatching each message in the
// batch concurrently bounded by a semaphore — mirroring the
// size/timeout flush and bounded concurrent dispatch.
type Batcher struct {
	size     int
	timeout  time.Duration
	sem      *semaphore.Weighted
	process  ProcessFunc
	metrics  *Metrics
	logger   logging.Logger

	mu    sync.Mutex
	batch []item

	stop chan struct{}
	done chan struct{}
}

// NewBatcher builds a Batcher with the given size/timeout flush
// thresholds and a concurrency bound on in-flight handlers.
func NewBatcher(size int, timeout time.Duration, concurrency int64, process ProcessFunc, metrics *Metrics, logger logging.Logger) *Batcher {
	return &Batcher{
		size:    size,
		timeout: timeout,
		sem:     semaphore.NewWeighted(concurrency),
		process: process,
		metrics: metrics,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the timeout-driven flush loop until Stop is called.
func (b *Batcher) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.timeout)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.flush(ctx)
			case <-b.stop:
				b.flush(ctx)
				return
			case <-ctx.Done():
				b.flush(context.Background())
				return
			}
		}
	}()
}

// Stop signals the flush loop to drain and exit, blocking until it does.
func (b *Batcher) Stop() {
	close(b.stop)
	<-b.done
}

// Add appends a delivery to the current batch, flushing immediately
// when the size threshold is reached.
func (b *Batcher) Add(ctx context.Context, delivery amqp.Delivery, raw events.RawMessage) {
	b.mu.Lock()
	b.batch = append(b.batch, item{delivery: delivery, raw: raw})
	full := len(b.batch) >= b.size
	b.mu.Unlock()

	if full {
		b.flush(ctx)
	}
}

func (b *Batcher) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.batch) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.batch
	b.batch = nil
	b.mu.Unlock()

	b.metrics.batchesProcessed.Inc()
	b.metrics.batchSize.Observe(float64(len(batch)))

	var wg sync.WaitGroup
	for _, it := range batch {
		it := it
		if err := b.sem.Acquire(ctx, 1); err != nil {
			// Context cancelled mid-drain: nack so the broker redelivers
			// rather than silently dropping the message.
			it.delivery.Nack(false, true)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.sem.Release(1)
			b.dispatch(ctx, it)
		}()
	}
	wg.Wait()
}

func (b *Batcher) dispatch(ctx context.Context, it item) {
	switch b.process(ctx, it.raw) {
	case Ack:
		if err := it.delivery.Ack(false); err != nil {
			b.logger.WithError(err).Warn("failed to ack delivery")
		}
		b.metrics.messagesProcessed.Inc()
	case Reject:
		if err := it.delivery.Reject(false); err != nil {
			b.logger.WithError(err).Warn("failed to reject delivery")
		}
		b.metrics.messagesRejected.Inc()
	default:
		if err := it.delivery.Nack(false, true); err != nil {
			b.logger.WithError(err).Warn("failed to nack delivery")
		}
		b.metrics.messagesRequeued.Inc()
	}
}
