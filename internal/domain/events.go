package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const MessageTypePaymentStatusUpdated = "payment.status_updated"

// PaymentStatusUpdatedEvent is published whenever a payment leaves pending.
type PaymentStatusUpdatedEvent struct {
	Token          string          `json:"token"`
	OldStatus      PaymentStatus   `json:"old_status"`
	NewStatus      PaymentStatus   `json:"new_status"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	Method         string          `json:"method,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	OrderID        string          `json:"order_id,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// StatusCheckRequest asks the service to reconcile one token with the gateway.
type StatusCheckRequest struct {
	Token string `json:"token"`
}
