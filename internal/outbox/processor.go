// Package outbox relays committed outbox rows to Kafka.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"moneyfusion/internal/domain"
	kafka_infra "moneyfusion/internal/infrastructure/kafka"
)

const (
	batchSize  = 50
	claimLease = time.Minute
)

type OutboxRepository interface {
	ClaimPendingMessages(ctx context.Context, limit int, lease time.Duration) ([]domain.OutboxMessage, error)
	ReleaseMessages(ctx context.Context, ids []string) error
	MarkMessagesAsSent(ctx context.Context, ids []string) error
	MarkMessagesAsFailed(ctx context.Context, ids []string) error
}

// Processor polls for pending messages and publishes each to the topic routed
// for its message type, keyed by the payment token. Delivery is at least once.
// Each batch is leased, so several processors can share one outbox table.
type Processor struct {
	outboxRepo   OutboxRepository
	producer     kafka_infra.Producer
	topics       map[string]string
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *zap.Logger
}

func NewProcessor(
	outboxRepo OutboxRepository,
	producer kafka_infra.Producer,
	topics map[string]string,
	pollInterval time.Duration,
	pollTimeout time.Duration,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		outboxRepo:   outboxRepo,
		producer:     producer,
		topics:       topics,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		logger:       logger,
	}
}

// Start blocks until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor...", zap.Duration("poll_interval", p.pollInterval))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopped.")
			return
		case <-ticker.C:
			p.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce publishes one batch of pending messages.
func (p *Processor) ProcessOnce(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	messages, err := p.outboxRepo.ClaimPendingMessages(queryCtx, batchSize, claimLease)
	cancel()
	if err != nil {
		p.logger.Error("Failed to claim pending outbox messages", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	p.logger.Debug("Found pending outbox messages", zap.Int("count", len(messages)))

	var sent, unroutable, retry []string
	for _, msg := range messages {
		topic, ok := p.topics[msg.MessageType]
		if !ok {
			p.logger.Error("No topic configured for outbox message type",
				zap.String("message_id", msg.ID),
				zap.String("message_type", msg.MessageType),
			)
			unroutable = append(unroutable, msg.ID)
			continue
		}

		if err := p.producer.Produce(ctx, topic, msg.AggregateID, msg.Payload); err != nil {
			// Left pending; the next poll retries it.
			p.logger.Error("Failed to send outbox message to Kafka",
				zap.String("message_id", msg.ID),
				zap.String("topic", topic),
				zap.Error(err),
			)
			retry = append(retry, msg.ID)
			continue
		}
		sent = append(sent, msg.ID)
	}

	if err := p.outboxRepo.MarkMessagesAsSent(ctx, sent); err != nil {
		p.logger.Error("Failed to mark outbox messages as sent", zap.Strings("ids", sent), zap.Error(err))
	}
	if err := p.outboxRepo.MarkMessagesAsFailed(ctx, unroutable); err != nil {
		p.logger.Error("Failed to mark outbox messages as failed", zap.Strings("ids", unroutable), zap.Error(err))
	}
	if err := p.outboxRepo.ReleaseMessages(ctx, retry); err != nil {
		p.logger.Error("Failed to release outbox messages", zap.Strings("ids", retry), zap.Error(err))
	}
	if len(sent) > 0 {
		p.logger.Info("Outbox messages published", zap.Int("count", len(sent)))
	}
}
