package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"moneyfusion/internal/domain"
)

// OutboxRepository keeps outbox messages in process memory. Writes that
// arrive through CreateMessageTx ignore the querier.
type OutboxRepository struct {
	mu       sync.Mutex
	messages map[string]*domain.OutboxMessage
	claims   map[string]time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		messages: make(map[string]*domain.OutboxMessage),
		claims:   make(map[string]time.Time),
	}
}

func (r *OutboxRepository) CreateMessageTx(_ context.Context, _ domain.Querier, msg *domain.OutboxMessage) error {
	r.Append(msg)
	return nil
}

// Append stores a copy of msg.
func (r *OutboxRepository) Append(msg *domain.OutboxMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *msg
	r.messages[msg.ID] = &c
}

func (r *OutboxRepository) ClaimPendingMessages(_ context.Context, limit int, lease time.Duration) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var pending []domain.OutboxMessage
	for id, m := range r.messages {
		if m.Status != domain.OutboxStatusPending {
			continue
		}
		if until, ok := r.claims[id]; ok && now.Before(until) {
			continue
		}
		pending = append(pending, *m)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	for _, m := range pending {
		r.claims[m.ID] = now.Add(lease)
	}
	return pending, nil
}

func (r *OutboxRepository) ReleaseMessages(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.claims, id)
	}
	return nil
}

func (r *OutboxRepository) MarkMessagesAsSent(_ context.Context, ids []string) error {
	now := time.Now()
	return r.mark(ids, domain.OutboxStatusSent, &now)
}

func (r *OutboxRepository) MarkMessagesAsFailed(_ context.Context, ids []string) error {
	return r.mark(ids, domain.OutboxStatusFailed, nil)
}

// Messages returns every stored message regardless of status.
func (r *OutboxRepository) Messages() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OutboxMessage, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *OutboxRepository) mark(ids []string, status domain.OutboxMessageStatus, sentAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		m, ok := r.messages[id]
		if !ok {
			return fmt.Errorf("no outbox message found with id %s", id)
		}
		m.Status = status
		m.SentAt = sentAt
		delete(r.claims, id)
	}
	return nil
}
