package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"moneyfusion/internal/domain"
	"moneyfusion/internal/statemachine"
	"moneyfusion/internal/util"
)

// defaultWebhookEvent is assumed when a notification carries no event name.
const defaultWebhookEvent = "payment.update"

// IngestWebhook applies one gateway notification. Re-deliveries of an outcome
// already recorded are acknowledged without touching the record.
//
// TODO: verify a shared-secret signature once MoneyFusion documents one;
// deliveries are currently accepted unauthenticated.
func (s *paymentService) IngestWebhook(ctx context.Context, payload map[string]any) (*WebhookResult, error) {
	token := lookupString(payload, webhookTokenKeys...)
	eventName := lookupString(payload, "event")
	if eventName == "" {
		eventName = defaultWebhookEvent
	}
	kind := statemachine.KindFromWebhook(eventName)

	logger := s.logger.With(zap.String("token", token), zap.String("event", eventName))
	logger.Info("MoneyFusion webhook received", zap.Any("payload", payload))

	if token == "" {
		s.recordDelivery(ctx, token, eventName, kind, payload, domain.WebhookOutcomeInvalid)
		logger.Warn("MoneyFusion webhook without tokenPay")
		return nil, fmt.Errorf("%w: missing tokenPay", domain.ErrValidation)
	}

	current, err := s.paymentRepo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.recordDelivery(ctx, token, eventName, kind, payload, domain.WebhookOutcomeNotFound)
			logger.Warn("MoneyFusion webhook for unknown payment")
		}
		return nil, err
	}

	if outcome, terminal := kind.Outcome(); terminal && current.Status == outcome {
		s.recordDelivery(ctx, token, eventName, kind, payload, domain.WebhookOutcomeDuplicate)
		logger.Info("Payment already processed (duplicate)", zap.String("state", string(current.Status)))
		return &WebhookResult{Token: token, Event: eventName, Outcome: domain.WebhookOutcomeDuplicate, Message: "Payment already processed"}, nil
	}

	ev := statemachine.Event{
		Kind:           kind,
		Name:           eventName,
		TransactionRef: optionalString(payload, "numeroTransaction"),
		Method:         optionalString(payload, "moyen"),
		Fee:            optionalDecimal(payload, "frais"),
		Raw:            payload,
	}
	_, d, err := s.applyEvent(ctx, current, ev, nil)
	if err != nil {
		logger.Error("Failed to apply MoneyFusion webhook", zap.Error(err))
		return nil, err
	}

	result := &WebhookResult{Token: token, Event: eventName, Outcome: domain.WebhookOutcomeRecorded, Message: "Webhook processed successfully"}
	switch {
	case d.Changed:
		result.Outcome = domain.WebhookOutcomeApplied
	case d.Duplicate:
		result.Outcome = domain.WebhookOutcomeDuplicate
		result.Message = "Payment already processed"
	case d.Conflicting:
		result.Outcome = domain.WebhookOutcomeConflict
	}
	s.recordDelivery(ctx, token, eventName, kind, payload, result.Outcome)
	return result, nil
}

// recordDelivery writes the delivery log. A failure here never fails the
// delivery itself.
func (s *paymentService) recordDelivery(ctx context.Context, token, eventName string, kind statemachine.EventKind, payload map[string]any, outcome domain.WebhookOutcome) {
	if s.webhookRepo == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("{}")
	}
	entry := &domain.WebhookEvent{
		ID:         util.GenerateUUID(),
		Token:      token,
		Event:      eventName,
		Kind:       string(kind),
		Payload:    body,
		Outcome:    outcome,
		ReceivedAt: s.now(),
	}
	if err := s.webhookRepo.Record(ctx, entry); err != nil {
		s.logger.Error("Failed to record webhook delivery",
			zap.String("token", token),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
	}
}
