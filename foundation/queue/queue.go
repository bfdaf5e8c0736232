// Package queue runs task consumers on top of redis backed rmq queues. Handlers return an error and
// the consumer maps it onto an acknowledgement, a rejection or a process shutdown.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Handler processes one task payload.
type Handler func(ctx context.Context, payload string) error

// Classifier reports whether a handler error may be acknowledged and which code it carries.
type Classifier func(err error) (recoverable bool, code string)

// Config describes a consumer of a single queue.
type Config struct {
	Queue      string
	Consumers  int
	Prefetch   int64
	PollPeriod time.Duration
	// FatalCodes lists error codes that stop the process after the task is rejected.
	FatalCodes []string
}

// Consumer adapts a Handler to rmq.Consumer.
type Consumer struct {
	ctx        context.Context
	log        *zerolog.Logger
	queue      string
	handle     Handler
	classify   Classifier
	fatalCodes map[string]bool
	shutdown   func(reason string)
}

// NewConsumer creates a Consumer for cfg.Queue. shutdown is called when a rejected task carries one
// of cfg.FatalCodes.
func NewConsumer(ctx context.Context,
	log *zerolog.Logger,
	cfg Config,
	handle Handler,
	classify Classifier,
	shutdown func(reason string)) *Consumer {

	codes := make(map[string]bool, len(cfg.FatalCodes))
	for _, code := range cfg.FatalCodes {
		codes[code] = true
	}
	return &Consumer{
		ctx:        ctx,
		log:        log,
		queue:      cfg.Queue,
		handle:     handle,
		classify:   classify,
		fatalCodes: codes,
		shutdown:   shutdown,
	}
}

// Consume implements rmq.Consumer.
func (c *Consumer) Consume(delivery rmq.Delivery) {
	err := c.handle(c.ctx, delivery.Payload())
	if err == nil {
		c.ack(delivery)
		return
	}

	recoverable, code := c.classify(err)
	if recoverable {
		c.log.Warn().Err(err).Str("queue", c.queue).Str("code", code).Msg("task completed with warning")
		c.ack(delivery)
		return
	}

	c.log.Error().Err(err).Str("queue", c.queue).Str("code", code).Msg("task failed, rejecting")
	if rejectErr := delivery.Reject(); rejectErr != nil {
		c.log.Error().Err(rejectErr).Str("queue", c.queue).Msg("failed to reject task")
	}
	if c.fatalCodes[code] && c.shutdown != nil {
		c.shutdown(fmt.Sprintf("queue %s: fatal failure %s: %v", c.queue, code, err))
	}
}

func (c *Consumer) ack(delivery rmq.Delivery) {
	if err := delivery.Ack(); err != nil {
		c.log.Error().Err(err).Str("queue", c.queue).Msg("failed to ack task")
	}
}

// OpenConnection opens an rmq connection on an existing redis client.
func OpenConnection(tag string, client *redis.Client, errChan chan<- error) (rmq.Connection, error) {
	conn, err := rmq.OpenConnectionWithRedisClient(tag, client, errChan)
	if err != nil {
		return nil, fmt.Errorf("unable to open queue connection %s: %w", tag, err)
	}
	return conn, nil
}

// Start opens cfg.Queue, starts consuming and registers cfg.Consumers copies of consumer.
func Start(log *zerolog.Logger, conn rmq.Connection, cfg Config, consumer rmq.Consumer) (rmq.Queue, error) {
	queue, err := conn.OpenQueue(cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("unable to open queue %s: %w", cfg.Queue, err)
	}
	if err = queue.StartConsuming(cfg.Prefetch, cfg.PollPeriod); err != nil {
		return nil, fmt.Errorf("unable to start consuming %s: %w", cfg.Queue, err)
	}
	for i := 0; i < cfg.Consumers; i++ {
		tag := fmt.Sprintf("%s-%d", cfg.Queue, i)
		if _, err = queue.AddConsumer(tag, consumer); err != nil {
			return nil, fmt.Errorf("unable to add consumer %s: %w", tag, err)
		}
		log.Info().Str("queue", cfg.Queue).Str("consumer", tag).Msg("consumer started")
	}
	return queue, nil
}
