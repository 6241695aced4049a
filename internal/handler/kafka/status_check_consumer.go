package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"moneyfusion/internal/app/payments"
	"moneyfusion/internal/domain"
	kafka_infra "moneyfusion/internal/infrastructure/kafka"
)

// StatusCheckMessageHandler reconciles the payment named by each message.
// The token is read from a JSON body {"token": "..."} or, failing that, from
// the message key.
func StatusCheckMessageHandler(paymentService payments.PaymentService, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		token := tokenFromMessage(msg)
		if token == "" {
			logger.Error("Status check request without token",
				zap.ByteString("value", msg.Value),
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}

		view, err := paymentService.CheckStatus(ctx, token)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				logger.Warn("Status check requested for unknown payment", zap.String("token", token))
				return nil
			}
			logger.Error("Failed to check payment status", zap.String("token", token), zap.Error(err))
			return fmt.Errorf("failed to check payment %s: %w", token, err)
		}

		logger.Info("Payment status reconciled",
			zap.String("token", token),
			zap.String("state", string(view.State)),
			zap.String("source", string(view.Source)),
		)
		return nil
	}
}

func tokenFromMessage(msg kafka.Message) string {
	var req domain.StatusCheckRequest
	if err := json.Unmarshal(msg.Value, &req); err == nil && strings.TrimSpace(req.Token) != "" {
		return strings.TrimSpace(req.Token)
	}
	return strings.TrimSpace(string(msg.Key))
}
