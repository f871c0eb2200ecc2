package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/platform/metrics"
	"github.com/rl1809/sales-ledger/internal/port"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	sourceKafka       = "kafka"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerOptions struct {
	// DeadLetters receives events that will never be processed; optional.
	DeadLetters MessageWriter
	// Idempotency sends a per-event key into the unit of work, which
	// rejects any event whose key was already committed.
	Idempotency bool
	// Dedup remembers finished keys to skip redeliveries early; optional,
	// implies Idempotency.
	Dedup        port.Deduplicator
	Metrics      *metrics.Metrics
	MaxAttempts  int
	RetryBackoff time.Duration
}

type KafkaConsumer struct {
	reader    MessageReader
	processor TransactionProcessor
	logger    *zap.Logger
	opts      ConsumerOptions
}

func NewKafkaConsumer(reader MessageReader, processor TransactionProcessor, logger *zap.Logger, opts ConsumerOptions) *KafkaConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Dedup != nil {
		opts.Idempotency = true
	}
	return &KafkaConsumer{reader: reader, processor: processor, logger: logger, opts: opts}
}

// Run fetches and handles messages until ctx is done or the reader is closed.
// Offsets are committed once an event reaches a terminal outcome.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka consumer started. Waiting for messages...")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("Context done, exiting Kafka read loop.", zap.Error(err))
				break
			}
			c.logger.Error("Error reading from Kafka", zap.Error(err))
			if !sleep(ctx, c.opts.RetryBackoff) {
				break
			}
			continue
		}

		if err := c.HandleMessage(ctx, msg); err != nil {
			c.logger.Warn("Message left uncommitted", zap.Int64("offset", msg.Offset), zap.Error(err))
			break
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}

	c.logger.Info("Consumer service finished. Shutting down...")
	return nil
}

// HandleMessage runs one event to a terminal outcome. A non-nil error means
// processing was interrupted and the message must not be committed.
func (c *KafkaConsumer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	start := time.Now()
	msgCtx := extractTraceContext(ctx, msg.Headers)
	log := c.logger.With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	log.Info("Received sales transaction message")

	req, err := DecodeSalesTransaction(msg.Value)
	if errors.Is(err, ErrNotJSON) {
		log.Warn("Skipped non-JSON message", zap.String("raw_value", preview(msg.Value)))
		c.opts.Metrics.Observe(sourceKafka, metrics.OutcomeSkipped, "", time.Since(start))
		return nil
	}
	if err != nil {
		be, _ := domain.AsBusinessError(err)
		log.Error("Rejected malformed message",
			zap.String("code", string(be.Code)),
			zap.String("detail", be.DetailedMessage()),
		)
		c.deadLetter(msgCtx, msg, be)
		c.opts.Metrics.Observe(sourceKafka, metrics.OutcomeRejected, string(be.Code), time.Since(start))
		return nil
	}

	log.Info("Parsed message", zap.String("transaction_date", req.TransactionDate), zap.Int("items", len(req.Items)))

	var key string
	if c.opts.Idempotency {
		key = dedupKey(msg)
		req.IdempotencyKey = key
	}
	if c.opts.Dedup != nil {
		seen, err := c.opts.Dedup.Seen(msgCtx, key)
		switch {
		case err != nil:
			log.Warn("Redelivery cache unavailable, processing anyway", zap.Error(err))
		case seen:
			log.Warn("Skipped duplicate delivery", zap.String("dedup_key", key))
			c.opts.Metrics.Observe(sourceKafka, metrics.OutcomeDuplicate, "", time.Since(start))
			return nil
		}
	}

	header, err := c.processWithRetry(msgCtx, req, log)
	outcome, code := classify(err)
	defer func() { c.opts.Metrics.Observe(sourceKafka, outcome, code, time.Since(start)) }()

	if err == nil {
		log.Info("Transaction processed",
			zap.String("transaction_id", header.ID),
			zap.String("total_price", header.TotalPrice.StringFixed(2)),
		)
		c.remember(ctx, key, log)
		return nil
	}

	be, ok := domain.AsBusinessError(err)
	if ok && !be.Retryable() {
		// Only committed keys are remembered; a rejected sale may be resent.
		if be.Code == domain.CodeDuplicateEvent {
			log.Warn("Skipped duplicate delivery", zap.String("dedup_key", key))
			c.remember(ctx, key, log)
			return nil
		}
		log.Error("Business error", zap.String("code", string(be.Code)), zap.String("detail", be.DetailedMessage()))
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if be == nil {
		be = domain.NewStorageFailureError(err)
	}
	log.Error("System error, giving up on event",
		zap.String("code", string(be.Code)),
		zap.Int("attempts", c.opts.MaxAttempts),
		zap.Error(err),
	)
	c.deadLetter(msgCtx, msg, be)
	return nil
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, req domain.SaleRequest, log *zap.Logger) (*domain.TransactionHeader, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		header, err := c.processor.ProcessTransaction(ctx, req)
		if err == nil {
			return header, nil
		}
		lastErr = err

		be, ok := domain.AsBusinessError(err)
		if ok && !be.Retryable() {
			return nil, err
		}
		if attempt == c.opts.MaxAttempts || ctx.Err() != nil {
			break
		}

		log.Warn("Retrying event after storage failure", zap.Int("attempt", attempt), zap.Error(err))
		if !sleep(ctx, c.opts.RetryBackoff*time.Duration(attempt)) {
			break
		}
	}
	return nil, lastErr
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, msg kafka.Message, be *domain.BusinessError) {
	if c.opts.DeadLetters == nil {
		return
	}

	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "error-code", Value: []byte(be.Code)},
		kafka.Header{Key: "error-message", Value: []byte(be.DetailedMessage())},
		kafka.Header{Key: "source-topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "source-partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "source-offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)

	err := c.opts.DeadLetters.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers})
	if err != nil {
		c.logger.Error("Failed to publish dead letter", zap.Int64("offset", msg.Offset), zap.Error(err))
	}
}

// remember caches key once its event is finished. Failures only cost a
// round trip to the unit of work on the next redelivery.
func (c *KafkaConsumer) remember(ctx context.Context, key string, log *zap.Logger) {
	if c.opts.Dedup == nil || key == "" {
		return
	}
	rememberCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.opts.Dedup.Remember(rememberCtx, key); err != nil {
		log.Error("Failed to remember finished event", zap.String("dedup_key", key), zap.Error(err))
	}
}

func dedupKey(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == IdempotencyHeader && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

// extractTraceContext extracts OpenTelemetry trace context from Kafka message headers
func extractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range headers {
		carrier[header.Key] = string(header.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
