// Package sqs feeds storage notifications from an SQS queue to the flush
// processor.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/celo-org/stokado/pkg/stokado/flush"
	"github.com/celo-org/stokado/pkg/stokado/metrics"
)

const (
	DefaultWaitTimeSeconds = 20
	DefaultMaxMessages     = 10
	DefaultErrorBackoff    = 5 * time.Second
	DefaultIdleBackoff     = time.Second
)

// API is the part of the SQS client the consumer uses.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Processor handles one unit of notifications.
type Processor interface {
	Process(ctx context.Context, unit flush.Unit) (*cloudfront.CreateInvalidationOutput, error)
}

// Consumer long-polls a queue. By default each message is processed as its
// own unit, keyed by its MessageId. With batch units every received batch is
// one unit whose id the processor derives from the message ids. Messages are
// deleted only when their unit succeeds; failed messages become visible again
// and eventually reach the queue's dead-letter queue.
type Consumer struct {
	client          API
	queueURL        string
	processor       Processor
	waitTimeSeconds int32
	maxMessages     int32
	errorBackoff    time.Duration
	idleBackoff     time.Duration
	batchUnits      bool
	logger          *slog.Logger
}

type Option func(*Consumer)

func WithWaitTimeSeconds(seconds int32) Option {
	return func(c *Consumer) {
		c.waitTimeSeconds = seconds
	}
}

// WithMaxMessages sets the receive batch size, clamped to SQS's 1..10.
func WithMaxMessages(n int32) Option {
	return func(c *Consumer) {
		switch {
		case n < 1:
			n = 1
		case n > 10:
			n = 10
		}
		c.maxMessages = n
	}
}

func WithErrorBackoff(d time.Duration) Option {
	return func(c *Consumer) {
		c.errorBackoff = d
	}
}

// WithIdleBackoff sets the pause after an empty receive when short polling
// (a wait time of zero). Long polls already wait on the server.
func WithIdleBackoff(d time.Duration) Option {
	return func(c *Consumer) {
		c.idleBackoff = d
	}
}

// WithBatchUnits makes each received batch a single flush unit.
func WithBatchUnits(enabled bool) Option {
	return func(c *Consumer) {
		c.batchUnits = enabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a Consumer for queueURL.
func NewConsumer(client API, queueURL string, processor Processor, opts ...Option) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if queueURL == "" {
		return nil, errors.New("queue url is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	c := &Consumer{
		client:          client,
		queueURL:        queueURL,
		processor:       processor,
		waitTimeSeconds: DefaultWaitTimeSeconds,
		maxMessages:     DefaultMaxMessages,
		errorBackoff:    DefaultErrorBackoff,
		idleBackoff:     DefaultIdleBackoff,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run polls until ctx is cancelled. Receive errors are logged and retried
// after the error backoff. Empty short polls wait for the idle backoff.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Flush worker started", "queue_url", c.queueURL, "batch_units", c.batchUnits)
	defer c.logger.Info("Flush worker stopped", "queue_url", c.queueURL)

	for {
		if ctx.Err() != nil {
			return nil
		}
		received, _, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attrs := []any{"err", err}
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) {
				attrs = append(attrs, "code", apiErr.ErrorCode())
			}
			c.logger.Error("Failed to receive messages", attrs...)

			if !sleep(ctx, c.errorBackoff) {
				return nil
			}
			continue
		}
		if received == 0 && c.waitTimeSeconds == 0 {
			if !sleep(ctx, c.idleBackoff) {
				return nil
			}
		}
	}
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// PollOnce receives one batch and processes every message in it. It returns
// the number of messages processed successfully. Only a receive failure is
// returned as an error.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	_, processed, err := c.poll(ctx)
	return processed, err
}

func (c *Consumer) poll(ctx context.Context) (received, processed int, err error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.maxMessages,
		WaitTimeSeconds:     c.waitTimeSeconds,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("receive messages: %w", err)
	}
	if len(out.Messages) == 0 {
		return 0, 0, nil
	}

	if c.batchUnits {
		if c.handle(ctx, "", out.Messages) {
			processed = len(out.Messages)
		}
		return len(out.Messages), processed, nil
	}
	for _, msg := range out.Messages {
		if c.handle(ctx, aws.ToString(msg.MessageId), []types.Message{msg}) {
			processed++
		}
	}
	return len(out.Messages), processed, nil
}

// handle processes msgs as one unit and deletes them on success. An empty id
// leaves the unit id to the processor.
func (c *Consumer) handle(ctx context.Context, id string, msgs []types.Message) bool {
	unit := flush.Unit{ID: id, Messages: make([]flush.Message, len(msgs))}
	for i, msg := range msgs {
		unit.Messages[i] = flush.Message{ID: aws.ToString(msg.MessageId), Body: aws.ToString(msg.Body)}
	}

	if _, err := c.processor.Process(ctx, unit); err != nil {
		metrics.QueueMessagesTotal.WithLabelValues("failed").Add(float64(len(msgs)))
		c.logger.Error("Failed to process messages", "unit", id, "messages", len(msgs), "err", err)
		return false
	}

	for _, msg := range msgs {
		_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		})
		if err != nil {
			// The invalidation went through; a redelivery reuses the same
			// caller reference.
			metrics.QueueMessagesTotal.WithLabelValues("delete_failed").Inc()
			c.logger.Warn("Failed to delete message", "message_id", aws.ToString(msg.MessageId), "err", err)
			continue
		}
		metrics.QueueMessagesTotal.WithLabelValues("processed").Inc()
	}
	return true
}
