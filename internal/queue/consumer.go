// Package queue is the durable broker consumer: exchange/queue/DLQ
// topology declaration, batched or per-message delivery handling, and
// connection lifecycle management with backoff on the initial dial.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bhaijames252-sketch/billbillbill/internal/config"
	"github.com/bhaijames252-sketch/billbillbill/internal/events"
	"github.com/bhaijames252-sketch/billbillbill/internal/logging"
	"github.com/bhaijames252-sketch/billbillbill/internal/models"
)

// Handler is invoked for each normalized event; it returns true when
// the event was handled successfully (or resulted in a terminal
// conflict) and the delivery should be acked.
type Handler func(ctx context.Context, event models.Event) bool

// Consumer owns the RabbitMQ connection/channel lifecycle, declares
// the topology, and dispatches deliveries to a Handler either in
// batches or one at a time.
type Consumer struct {
	cfg         config.BrokerConfig
	handler     Handler
	useBatching bool
	logger      logging.Logger
	metrics     *Metrics

	conn    *amqp.Connection
	channel *amqp.Channel
	batcher *Batcher
}

// New builds a Consumer. useBatching selects the batched delivery path
// described for the Queue Consumer; when false, each delivery is
// handled and acked/nacked individually.
func New(cfg config.BrokerConfig, handler Handler, useBatching bool, logger logging.Logger) *Consumer {
	return &Consumer{
		cfg:         cfg,
		handler:     handler,
		useBatching: useBatching,
		logger:      logger,
		metrics:     NewMetrics(cfg.Queue),
	}
}

// Connect dials the broker with exponential-backoff retry, opens a
// channel, sets QoS, and declares the topic exchange, the durable work
// queue (bound with a dead-letter routing key), and the DLQ.
func (c *Consumer) Connect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.ReconnectDelay
	policy.MaxElapsedTime = 0 // retry indefinitely; the caller controls ctx cancellation

	var conn *amqp.Connection
	err := backoff.Retry(func() error {
		var dialErr error
		conn, dialErr = amqp.Dial(c.cfg.URL())
		if dialErr != nil {
			c.logger.WithError(dialErr).Warn("failed to connect to broker, retrying")
			return dialErr
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	c.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	c.channel = channel

	if err := channel.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	if err := channel.ExchangeDeclare(c.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	dlqName := c.cfg.Queue + "_dlq"
	if _, err := channel.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}

	_, err = channel.QueueDeclare(c.cfg.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqName,
	})
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := channel.QueueBind(c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	c.logger.WithFields(logging.Fields{"queue": c.cfg.Queue, "exchange": c.cfg.Exchange}).Info("connected to broker")
	return nil
}

// Run starts consuming deliveries and blocks until ctx is cancelled,
// then drains in-flight handlers, flushes the batcher, and closes the
// broker connection in that order.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	if c.useBatching {
		c.batcher = NewBatcher(c.cfg.BatchSize, c.cfg.BatchTimeout, int64(config.WorkerCount()), c.processRaw, c.metrics, c.logger)
		c.batcher.Start(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			if c.batcher != nil {
				c.batcher.Stop()
			}
			return c.close()
		case delivery, ok := <-deliveries:
			if !ok {
				return c.close()
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	c.metrics.messagesReceived.Inc()

	var raw events.RawMessage
	if err := json.Unmarshal(delivery.Body, &raw); err != nil {
		c.logger.WithError(err).Warn("invalid JSON delivery, rejecting to DLQ")
		delivery.Reject(false)
		c.metrics.messagesRejected.Inc()
		return
	}
	raw["_routing_key"] = delivery.RoutingKey

	if c.useBatching {
		c.batcher.Add(ctx, delivery, raw)
		return
	}

	switch c.processRaw(ctx, raw) {
	case Ack:
		delivery.Ack(false)
		c.metrics.messagesProcessed.Inc()
	case Reject:
		delivery.Reject(false)
		c.metrics.messagesRejected.Inc()
	default:
		delivery.Nack(false, true)
		c.metrics.messagesRequeued.Inc()
	}
}

// processRaw normalizes a raw message and dispatches it to the
// Handler; an unclassifiable message is rejected (→ DLQ) rather than
// retried, since retrying will never make it classifiable.
func (c *Consumer) processRaw(ctx context.Context, raw events.RawMessage) Outcome {
	event := events.Normalize(raw)
	if event == nil {
		return Reject
	}
	if c.handler(ctx, *event) {
		return Ack
	}
	return Requeue
}

func (c *Consumer) close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.WithError(err).Warn("error closing channel")
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.WithError(err).Warn("error closing connection")
		}
	}
	c.logger.Info("disconnected from broker")
	return nil
}
