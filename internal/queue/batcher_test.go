package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bhaijames252-sketch/billbillbill/internal/events"
	"github.com/bhaijames252-sketch/billbillbill/internal/logging"
)

type fakeAcknowledger struct {
	mu       sync.Mutex
	acked    []uint64
	nacked   []uint64
	requeue  []bool
	rejected []uint64
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	f.requeue = append(f.requeue, requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, tag)
	return nil
}

func delivery(ack *fakeAcknowledger, tag uint64) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag}
}

func TestBatcherFlushesOnSizeThreshold(t *testing.T) {
	ack := &fakeAcknowledger{}
	processed := make(chan struct{}, 10)
	b := NewBatcher(2, time.Hour, 4, func(ctx context.Context, raw events.RawMessage) Outcome {
		processed <- struct{}{}
		return Ack
	}, NewMetrics("test-size"), logging.New("queue-test"))

	ctx := context.Background()
	b.Add(ctx, delivery(ack, 1), events.RawMessage{})
	b.Add(ctx, delivery(ack, 2), events.RawMessage{})

	for i := 0; i < 2; i++ {
		select {
		case <-processed:
		case <-time.After(time.Second):
			t.Fatal("expected size-triggered flush to process both messages")
		}
	}

	ack.mu.Lock()
	defer ack.mu.Unlock()
	if len(ack.acked) != 2 {
		t.Fatalf("expected 2 acks, got %d", len(ack.acked))
	}
}

func TestBatcherNacksFailedMessagesWithRequeue(t *testing.T) {
	ack := &fakeAcknowledger{}
	b := NewBatcher(1, time.Hour, 4, func(ctx context.Context, raw events.RawMessage) Outcome {
		return Requeue
	}, NewMetrics("test-nack"), logging.New("queue-test"))

	b.Add(context.Background(), delivery(ack, 7), events.RawMessage{})
	time.Sleep(50 * time.Millisecond)

	ack.mu.Lock()
	defer ack.mu.Unlock()
	if len(ack.nacked) != 1 || ack.nacked[0] != 7 {
		t.Fatalf("expected delivery 7 to be nacked, got %v", ack.nacked)
	}
	if !ack.requeue[0] {
		t.Fatal("expected nack to request requeue")
	}
	if len(ack.rejected) != 0 {
		t.Fatalf("expected no rejects, got %v", ack.rejected)
	}
}

func TestBatcherRejectsUnclassifiableMessagesToDLQ(t *testing.T) {
	ack := &fakeAcknowledger{}
	b := NewBatcher(1, time.Hour, 4, func(ctx context.Context, raw events.RawMessage) Outcome {
		return Reject
	}, NewMetrics("test-reject"), logging.New("queue-test"))

	b.Add(context.Background(), delivery(ack, 9), events.RawMessage{})
	time.Sleep(50 * time.Millisecond)

	ack.mu.Lock()
	defer ack.mu.Unlock()
	if len(ack.rejected) != 1 || ack.rejected[0] != 9 {
		t.Fatalf("expected delivery 9 to be rejected to the DLQ, got %v", ack.rejected)
	}
	if len(ack.nacked) != 0 {
		t.Fatalf("expected no requeue-nack for an unclassifiable message, got %v", ack.nacked)
	}
}

func TestBatcherStopFlushesRemainder(t *testing.T) {
	ack := &fakeAcknowledger{}
	b := NewBatcher(10, time.Hour, 4, func(ctx context.Context, raw events.RawMessage) Outcome {
		return Ack
	}, NewMetrics("test-stop"), logging.New("queue-test"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	b.Add(ctx, delivery(ack, 1), events.RawMessage{})
	b.Stop()

	ack.mu.Lock()
	defer ack.mu.Unlock()
	if len(ack.acked) != 1 {
		t.Fatalf("expected stop to flush the pending message, got %d acks", len(ack.acked))
	}
}
