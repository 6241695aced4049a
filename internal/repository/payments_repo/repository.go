package payments_repo

import (
	"context"

	"moneyfusion/internal/domain"
)

type PaymentRepository interface {
	// Create inserts a new record. A token that already exists yields
	// domain.ErrPaymentAlreadyExists.
	Create(ctx context.Context, payment *domain.Payment) error
	GetByToken(ctx context.Context, token string) (*domain.Payment, error)
	List(ctx context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error)
	// CompareAndSwap stores next only if the record still has expectedStatus
	// and expectedVersion, bumping the version. When msg is non-nil it is
	// written to the outbox in the same atomic step. A lost race yields
	// domain.ErrConcurrentUpdate.
	CompareAndSwap(ctx context.Context, next *domain.Payment, expectedStatus domain.PaymentStatus, expectedVersion int64, msg *domain.OutboxMessage) error
}
