package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"moneyfusion/internal/domain"
)

type CreatePaymentRequest struct {
	TotalPrice    decimal.Decimal
	LineItems     []LineItemInput `validate:"required,min=1,dive"`
	CustomerName  string          `validate:"required,max=255"`
	CustomerPhone string          `validate:"omitempty,max=32"`
	UserID        string          `validate:"omitempty,max=255"`
	OrderID       string          `validate:"omitempty,max=255"`
	ReturnURL     string          `validate:"omitempty,url"`
	WebhookURL    string          `validate:"omitempty,url"`
}

type LineItemInput struct {
	Name      string `validate:"required,max=255"`
	UnitPrice decimal.Decimal
	Quantity  int `validate:"min=1"`
}

type CreatePaymentResult struct {
	Token      string         `json:"token"`
	PaymentURL string         `json:"payment_url"`
	Message    string         `json:"message"`
	Raw        map[string]any `json:"data,omitempty"`
}

// Source tells where the state in a StatusView comes from.
type Source string

const (
	SourceGateway       Source = "gateway"
	SourceLocalFallback Source = "local_fallback"
	SourceLocal         Source = "local"
)

type StatusView struct {
	Token          string               `json:"token"`
	State          domain.PaymentStatus `json:"state"`
	Amount         decimal.Decimal      `json:"amount"`
	Fee            decimal.Decimal      `json:"fee"`
	TransactionRef *string              `json:"transaction_ref"`
	Method         *string              `json:"method"`
	PaidAt         *time.Time           `json:"paid_at"`
	Source         Source               `json:"source"`
}

func NewStatusView(p *domain.Payment, source Source) *StatusView {
	return &StatusView{
		Token:          p.Token,
		State:          p.Status,
		Amount:         p.Amount,
		Fee:            p.Fee,
		TransactionRef: p.TransactionRef,
		Method:         p.Method,
		PaidAt:         p.PaidAt,
		Source:         source,
	}
}

// WebhookResult is what the ingress reports back to the HTTP layer. Every
// business outcome is acknowledged.
type WebhookResult struct {
	Token   string
	Event   string
	Outcome domain.WebhookOutcome
	Message string
}
