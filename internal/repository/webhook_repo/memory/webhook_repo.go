package memory

import (
	"context"
	"sync"

	"moneyfusion/internal/domain"
)

type WebhookEventRepository struct {
	mu     sync.Mutex
	events []domain.WebhookEvent
}

func NewWebhookEventRepository() *WebhookEventRepository {
	return &WebhookEventRepository{}
}

func (r *WebhookEventRepository) Record(_ context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *WebhookEventRepository) ListByToken(_ context.Context, token string) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebhookEvent
	for _, e := range r.events {
		if e.Token == token {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns the full delivery log in arrival order.
func (r *WebhookEventRepository) All() []domain.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.WebhookEvent(nil), r.events...)
}
