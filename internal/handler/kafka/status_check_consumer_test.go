package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"moneyfusion/internal/app/payments"
	"moneyfusion/internal/domain"
)

type stubService struct {
	payments.PaymentService
	checked []string
	err     error
}

func (s *stubService) CheckStatus(_ context.Context, token string) (*payments.StatusView, error) {
	s.checked = append(s.checked, token)
	if s.err != nil {
		return nil, s.err
	}
	return &payments.StatusView{Token: token, State: domain.PaymentStatusPaid, Source: payments.SourceGateway}, nil
}

func TestStatusCheckMessageHandler(t *testing.T) {
	svc := &stubService{}
	handler := StatusCheckMessageHandler(svc, zap.NewNop())
	ctx := context.Background()

	assert.NoError(t, handler(ctx, kafka.Message{Value: []byte(`{"token":"T1"}`)}))
	assert.NoError(t, handler(ctx, kafka.Message{Key: []byte("T2"), Value: []byte(`not json`)}))
	assert.NoError(t, handler(ctx, kafka.Message{Value: []byte(`{}`)}), "messages without a token are skipped")

	assert.Equal(t, []string{"T1", "T2"}, svc.checked)
}

func TestStatusCheckMessageHandler_Errors(t *testing.T) {
	ctx := context.Background()

	notFound := StatusCheckMessageHandler(&stubService{err: domain.ErrNotFound}, zap.NewNop())
	assert.NoError(t, notFound(ctx, kafka.Message{Key: []byte("T1")}))

	failing := StatusCheckMessageHandler(&stubService{err: errors.New("db down")}, zap.NewNop())
	assert.Error(t, failing(ctx, kafka.Message{Key: []byte("T1")}), "offset stays uncommitted")
}
