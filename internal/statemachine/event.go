package statemachine

import (
	"strings"

	"github.com/shopspring/decimal"

	"moneyfusion/internal/domain"
)

type EventKind string

const (
	KindSuccess   EventKind = "success"
	KindFailure   EventKind = "failure"
	KindCancelled EventKind = "cancelled"
	KindPending   EventKind = "pending"
	KindUnknown   EventKind = "unknown"
)

// Outcome is the terminal status the event leads to. Pending and unknown
// events have none.
func (k EventKind) Outcome() (domain.PaymentStatus, bool) {
	switch k {
	case KindSuccess:
		return domain.PaymentStatusPaid, true
	case KindFailure:
		return domain.PaymentStatusFailed, true
	case KindCancelled:
		return domain.PaymentStatusCancelled, true
	}
	return "", false
}

// Event is one observation about a payment, from a webhook delivery, a
// status check or a local cancellation.
type Event struct {
	Kind           EventKind
	Name           string
	TransactionRef *string
	Method         *string
	Fee            *decimal.Decimal
	Raw            map[string]any
}

// KindFromWebhook maps a webhook "event" field. Anything unrecognized,
// including the gateway's generic "payment.update", is unknown.
func KindFromWebhook(name string) EventKind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "payment.success":
		return KindSuccess
	case "payment.failed", "payment.failure":
		return KindFailure
	case "payment.cancelled", "payment.canceled":
		return KindCancelled
	case "payment.pending":
		return KindPending
	}
	return KindUnknown
}

// KindFromGatewayStatus maps the "statut" field of a check-payment response.
func KindFromGatewayStatus(status string) EventKind {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "success", "succeeded":
		return KindSuccess
	case "failed", "failure":
		return KindFailure
	case "cancelled", "canceled":
		return KindCancelled
	case "pending":
		return KindPending
	}
	return KindUnknown
}
