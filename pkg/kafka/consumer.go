// Package kafka provides the worker's queue clients backed by
// segmentio/kafka-go: a consumer that dispatches bucket-notification
// messages to a handler with a bounded receive count, and a producer used to
// dead-letter messages that exhaust their receives.
package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/meetmind/ingest-worker/pkg/config"
	"github.com/segmentio/kafka-go"
)

// MessageHandler is a callback invoked for each queue message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads messages from the upload-notification topic and dispatches
// them to a MessageHandler. A message whose handler keeps failing is
// redelivered up to MaxReceives times in total, then published to the
// dead-letter topic and committed, mirroring a queue with a max-receive
// count and DLQ routing.
type Consumer struct {
	reader         *kafka.Reader
	handler        MessageHandler
	deadLetter     *Producer
	maxReceives    int
	receiveBackoff time.Duration
	logger         *slog.Logger

	// OnDeadLetter, if set, is invoked after a message is dead-lettered.
	OnDeadLetter func()
}

// NewConsumer creates a Consumer for the configured topic. deadLetter may be
// nil, in which case exhausted messages are dropped with an error log.
func NewConsumer(cfg config.KafkaConfig, handler MessageHandler, deadLetter *Producer) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})

	return &Consumer{
		reader:         r,
		handler:        handler,
		deadLetter:     deadLetter,
		maxReceives:    cfg.MaxReceives,
		receiveBackoff: cfg.ReceiveBackoff,
		logger:         slog.Default().With("component", "kafka-consumer", "topic", cfg.Topic),
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. Messages are handled one at a time; the pipeline owns all
// parallelism internally.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return c.reader.Close()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.reader.Close()
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		c.process(ctx, msg)
		// Commit on a detached context: a job that finished during
		// shutdown must not be redelivered to the next worker.
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
		cancel()
	}
}

// process invokes the handler up to maxReceives times, pausing
// receiveBackoff between attempts, and dead-letters the message when every
// receive fails. Skip outcomes surface as nil from the handler, so only
// genuine pipeline failures are redelivered.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	var lastErr error
	for receive := 1; receive <= c.maxReceives; receive++ {
		lastErr = c.handler(ctx, msg.Key, msg.Value)
		if lastErr == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("message processing failed",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"receive", receive,
			"max_receives", c.maxReceives,
			"error", lastErr,
		)
		if receive < c.maxReceives {
			select {
			case <-time.After(c.receiveBackoff):
			case <-ctx.Done():
				return
			}
		}
	}

	if c.deadLetter == nil {
		c.logger.Error("dropping message after exhausting receives",
			"offset", msg.Offset, "error", lastErr)
		return
	}
	// The dead-letter publish also survives shutdown; losing the message
	// here would drop it from both topics.
	dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.deadLetter.PublishRaw(dlCtx, msg.Key, msg.Value); err != nil {
		c.logger.Error("dead-letter publish failed", "offset", msg.Offset, "error", err)
		return
	}
	c.logger.Warn("message dead-lettered", "offset", msg.Offset, "error", lastErr)
	if c.OnDeadLetter != nil {
		c.OnDeadLetter()
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
