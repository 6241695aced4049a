package webhook_repo

import (
	"context"

	"moneyfusion/internal/domain"
)

// WebhookEventRepository keeps the delivery log of inbound notifications.
type WebhookEventRepository interface {
	Record(ctx context.Context, event *domain.WebhookEvent) error
	ListByToken(ctx context.Context, token string) ([]domain.WebhookEvent, error)
}
