// Package statemachine decides how a payment record reacts to an event.
// It performs no I/O: callers persist the returned Decision.
package statemachine

import (
	"time"

	"moneyfusion/internal/domain"
)

const (
	rawUnknownEvent      = "unknown_event"
	rawReceivedAt        = "received_at"
	rawConflictingEvents = "conflicting_events"
)

type Decision struct {
	From domain.PaymentStatus
	To   domain.PaymentStatus

	// Changed is set when the status moves out of pending.
	Changed bool
	// Duplicate is a re-delivery of the terminal outcome already recorded.
	Duplicate bool
	// Conflicting is a terminal event contradicting the recorded outcome.
	Conflicting bool

	// Payment is the record to persist. It is always a fresh copy.
	Payment *domain.Payment
}

// Apply computes the next value of the record for the event. current is not
// modified.
func Apply(current *domain.Payment, ev Event, now time.Time) Decision {
	next := current.Clone()
	next.UpdatedAt = now

	d := Decision{From: current.Status, To: current.Status, Payment: next}
	outcome, terminalEvent := ev.Kind.Outcome()

	if current.Status.IsTerminal() {
		if terminalEvent && outcome == current.Status {
			d.Duplicate = true
			next.RawResponse = MergeRaw(next.RawResponse, ev.Raw)
			return d
		}
		if terminalEvent {
			// First terminal outcome wins; the late event is only kept for audit.
			d.Conflicting = true
			next.RawResponse = appendConflict(next.RawResponse, ev, now)
			return d
		}
		next.RawResponse = MergeRaw(next.RawResponse, rawFor(ev, now))
		return d
	}

	switch ev.Kind {
	case KindSuccess:
		next.Status = domain.PaymentStatusPaid
		if next.PaidAt == nil {
			paidAt := now
			next.PaidAt = &paidAt
		}
		if ev.TransactionRef != nil {
			ref := *ev.TransactionRef
			next.TransactionRef = &ref
		}
		if ev.Method != nil {
			method := *ev.Method
			next.Method = &method
		}
		if ev.Fee != nil {
			next.Fee = *ev.Fee
		}
	case KindFailure:
		next.Status = domain.PaymentStatusFailed
	case KindCancelled:
		next.Status = domain.PaymentStatusCancelled
	}

	next.RawResponse = MergeRaw(next.RawResponse, rawFor(ev, now))
	d.To = next.Status
	d.Changed = d.To != d.From
	return d
}

// MergeRaw is a shallow union: incoming keys overwrite matching keys, existing
// keys are never dropped.
func MergeRaw(existing, incoming map[string]any) map[string]any {
	out := domain.CloneRaw(existing)
	if out == nil {
		out = make(map[string]any, len(incoming))
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func rawFor(ev Event, now time.Time) map[string]any {
	if ev.Kind != KindUnknown {
		return ev.Raw
	}
	return map[string]any{
		rawUnknownEvent: ev.Raw,
		rawReceivedAt:   now.UTC().Format(time.RFC3339),
	}
}

func appendConflict(raw map[string]any, ev Event, now time.Time) map[string]any {
	out := domain.CloneRaw(raw)
	if out == nil {
		out = make(map[string]any, 1)
	}

	var list []any
	switch prev := out[rawConflictingEvents].(type) {
	case []any:
		list = append(list, prev...)
	case []map[string]any:
		for _, e := range prev {
			list = append(list, e)
		}
	}
	list = append(list, map[string]any{
		"event":       ev.Name,
		"kind":        string(ev.Kind),
		"payload":     ev.Raw,
		rawReceivedAt: now.UTC().Format(time.RFC3339),
	})
	out[rawConflictingEvents] = list
	return out
}
