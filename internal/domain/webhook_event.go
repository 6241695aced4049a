package domain

import "time"

type WebhookOutcome string

const (
	WebhookOutcomeApplied   WebhookOutcome = "applied"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeConflict  WebhookOutcome = "conflict"
	WebhookOutcomeRecorded  WebhookOutcome = "recorded"
	WebhookOutcomeNotFound  WebhookOutcome = "not_found"
	WebhookOutcomeInvalid   WebhookOutcome = "invalid"
)

// WebhookEvent is the audit entry kept for every delivery received from the
// gateway, whatever its outcome.
type WebhookEvent struct {
	ID         string
	Token      string
	Event      string
	Kind       string
	Payload    []byte
	Outcome    WebhookOutcome
	ReceivedAt time.Time
}
