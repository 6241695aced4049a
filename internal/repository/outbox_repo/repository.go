package outbox_repo

import (
	"context"
	"time"

	"moneyfusion/internal/domain"
)

type OutboxRepository interface {
	CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error
	ClaimPendingMessages(ctx context.Context, limit int, lease time.Duration) ([]domain.OutboxMessage, error)
	ReleaseMessages(ctx context.Context, ids []string) error
	MarkMessagesAsSent(ctx context.Context, ids []string) error
	MarkMessagesAsFailed(ctx context.Context, ids []string) error
}
