// Package memory is a process-local payment store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"moneyfusion/internal/domain"
)

type OutboxWriter interface {
	CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error
}

type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
	outbox   OutboxWriter
}

// NewPaymentRepository returns an empty store. outbox may be nil, in which
// case outbox messages passed to CompareAndSwap are dropped.
func NewPaymentRepository(outbox OutboxWriter) *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]*domain.Payment),
		outbox:   outbox,
	}
}

func (r *PaymentRepository) Create(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[payment.Token]; exists {
		return fmt.Errorf("payment %s: %w", payment.Token, domain.ErrPaymentAlreadyExists)
	}
	r.payments[payment.Token] = payment.Clone()
	return nil
}

func (r *PaymentRepository) GetByToken(_ context.Context, token string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[token]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", token, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) List(_ context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Payment
	for _, p := range r.payments {
		if filter.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *PaymentRepository) CompareAndSwap(ctx context.Context, next *domain.Payment, expectedStatus domain.PaymentStatus, expectedVersion int64, msg *domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.payments[next.Token]
	if !ok {
		return fmt.Errorf("payment %s: %w", next.Token, domain.ErrNotFound)
	}
	if current.Status != expectedStatus || current.Version != expectedVersion {
		return fmt.Errorf("payment %s: %w", next.Token, domain.ErrConcurrentUpdate)
	}

	if msg != nil && r.outbox != nil {
		if err := r.outbox.CreateMessageTx(ctx, nil, msg); err != nil {
			return err
		}
	}

	stored := next.Clone()
	stored.Version = expectedVersion + 1
	stored.Amount = current.Amount
	stored.CreatedAt = current.CreatedAt
	r.payments[next.Token] = stored
	next.Version = stored.Version
	return nil
}
