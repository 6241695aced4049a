package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusPending || s.IsTerminal()
}

// Amounts are persisted as NUMERIC(12, 2).
const AmountScale = 2

var maxAmount = decimal.New(1, 10)

// FitsAmountColumn reports whether d can be stored without rounding or
// overflowing the amount and fee columns.
func FitsAmountColumn(d decimal.Decimal) bool {
	return d.Equal(d.Round(AmountScale)) && d.Abs().LessThan(maxAmount)
}

// LineItem is one normalized article of a payment.
type LineItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// Metadata keys understood by the gateway's personal_Info block.
const (
	MetadataUserID  = "userId"
	MetadataOrderID = "orderId"
)

// Payment is the local record of one MoneyFusion payment, keyed by the
// gateway token.
type Payment struct {
	Token          string
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	TransactionRef *string
	Status         PaymentStatus
	Method         *string
	CustomerName   string
	CustomerPhone  *string
	PaymentURL     *string
	LineItems      []LineItem
	Metadata       map[string]string
	RawResponse    map[string]any
	PaidAt         *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p *Payment) IsPaid() bool    { return p.Status == PaymentStatusPaid }
func (p *Payment) IsPending() bool { return p.Status == PaymentStatusPending }

func (p *Payment) UserID() string  { return p.Metadata[MetadataUserID] }
func (p *Payment) OrderID() string { return p.Metadata[MetadataOrderID] }

// Clone returns a deep copy so callers can mutate the result without touching
// a record shared with a store or cache.
func (p *Payment) Clone() *Payment {
	c := *p
	c.TransactionRef = cloneString(p.TransactionRef)
	c.Method = cloneString(p.Method)
	c.CustomerPhone = cloneString(p.CustomerPhone)
	c.PaymentURL = cloneString(p.PaymentURL)
	if p.PaidAt != nil {
		t := *p.PaidAt
		c.PaidAt = &t
	}
	if p.LineItems != nil {
		c.LineItems = append([]LineItem(nil), p.LineItems...)
	}
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	c.RawResponse = CloneRaw(p.RawResponse)
	return &c
}

// CloneRaw copies the top level of a raw payload bag.
func CloneRaw(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// PaymentFilter selects a user's payments, newest first.
type PaymentFilter struct {
	UserID string
	Status *PaymentStatus
	From   *time.Time
	To     *time.Time
	Limit  int
}

// Matches reports whether p passes every set criterion of the filter.
func (f PaymentFilter) Matches(p *Payment) bool {
	if f.UserID != "" && p.UserID() != f.UserID {
		return false
	}
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.From != nil && p.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !p.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}
