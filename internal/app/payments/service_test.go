package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moneyfusion/internal/config"
	"moneyfusion/internal/domain"
	"moneyfusion/internal/gateway"
	outbox_memory "moneyfusion/internal/repository/outbox_repo/memory"
	payments_memory "moneyfusion/internal/repository/payments_repo/memory"
	webhook_memory "moneyfusion/internal/repository/webhook_repo/memory"
)

type fakeGateway struct {
	mu         sync.Mutex
	createResp *gateway.CreateResponse
	createErr  error
	checkResp  *gateway.CheckResponse
	checkErr   error
	created    []gateway.CreatePayload
	checkCalls int
}

func (g *fakeGateway) Create(_ context.Context, payload gateway.CreatePayload) (*gateway.CreateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, payload)
	return g.createResp, g.createErr
}

func (g *fakeGateway) Check(_ context.Context, _ string) (*gateway.CheckResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkCalls++
	return g.checkResp, g.checkErr
}

type fixture struct {
	svc      PaymentService
	gw       *fakeGateway
	repo     *payments_memory.PaymentRepository
	outbox   *outbox_memory.OutboxRepository
	webhooks *webhook_memory.WebhookEventRepository
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw: &fakeGateway{
			createResp: &gateway.CreateResponse{
				Status: boolPtr(true),
				Token:  "T1",
				URL:    "U1",
				Raw:    map[string]any{"status": true, "token": "T1", "url": "U1"},
			},
		},
		outbox:   outbox_memory.NewOutboxRepository(),
		webhooks: webhook_memory.NewWebhookEventRepository(),
		now:      time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
	}
	f.repo = payments_memory.NewPaymentRepository(f.outbox)
	cfg := config.GatewayConfig{ReturnURL: "https://shop.example/return", WebhookURL: "https://shop.example/webhook"}
	f.svc = NewPaymentService(f.repo, f.webhooks, f.gw, cfg, zap.NewNop(), WithClock(func() time.Time { return f.now }))
	return f
}

func boolPtr(b bool) *bool { return &b }

func validRequest() CreatePaymentRequest {
	return CreatePaymentRequest{
		TotalPrice:    decimal.NewFromInt(5000),
		LineItems:     []LineItemInput{{Name: "Livre", UnitPrice: decimal.NewFromInt(5000), Quantity: 1}},
		CustomerName:  "Awa Koné",
		CustomerPhone: "0700000000",
		UserID:        "42",
		OrderID:       "ORD-1",
	}
}

func (f *fixture) createT1(t *testing.T) {
	t.Helper()
	_, err := f.svc.CreatePayment(context.Background(), validRequest())
	require.NoError(t, err)
}

func successWebhook() map[string]any {
	var payload map[string]any
	raw := `{"tokenPay":"T1","event":"payment.success","numeroTransaction":"TRX1","moyen":"wave","frais":250}`
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		panic(err)
	}
	return payload
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "T1", res.Token)
	assert.Equal(t, "U1", res.PaymentURL)

	p, err := f.repo.GetByToken(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
	assert.True(t, decimal.NewFromInt(5000).Equal(p.Amount))
	assert.True(t, p.Fee.IsZero())
	assert.Nil(t, p.PaidAt)
	assert.Equal(t, "42", p.UserID())
	assert.Equal(t, "ORD-1", p.OrderID())
	require.NotNil(t, p.PaymentURL)
	assert.Equal(t, "U1", *p.PaymentURL)
	assert.Equal(t, "T1", p.RawResponse["token"])

	require.Len(t, f.gw.created, 1)
	sent := f.gw.created[0]
	assert.Equal(t, "5000", sent.TotalPrice)
	assert.Equal(t, []gateway.Article{{Name: "Livre", Amount: 5000, Quantity: 1}}, sent.Articles)
	assert.Equal(t, "https://shop.example/return", sent.ReturnURL)
	assert.Equal(t, "https://shop.example/webhook", sent.WebhookURL)
	require.Len(t, sent.PersonalInfo, 1)
	assert.Equal(t, "42", *sent.PersonalInfo[0].UserID)
}

func TestCreatePayment_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreatePaymentRequest)
	}{
		{name: "zero amount", mutate: func(r *CreatePaymentRequest) { r.TotalPrice = decimal.Zero }},
		{name: "negative amount", mutate: func(r *CreatePaymentRequest) { r.TotalPrice = decimal.NewFromInt(-1) }},
		{name: "no line items", mutate: func(r *CreatePaymentRequest) { r.LineItems = nil }},
		{name: "sub-cent amount", mutate: func(r *CreatePaymentRequest) { r.TotalPrice = decimal.RequireFromString("0.001") }},
		{name: "three decimal amount", mutate: func(r *CreatePaymentRequest) { r.TotalPrice = decimal.RequireFromString("12.345") }},
		{name: "amount overflows column", mutate: func(r *CreatePaymentRequest) { r.TotalPrice = decimal.New(1, 10) }},
		{name: "three decimal price", mutate: func(r *CreatePaymentRequest) { r.LineItems[0].UnitPrice = decimal.RequireFromString("4999.999") }},
		{name: "zero price", mutate: func(r *CreatePaymentRequest) { r.LineItems[0].UnitPrice = decimal.Zero }},
		{name: "zero quantity", mutate: func(r *CreatePaymentRequest) { r.LineItems[0].Quantity = 0 }},
		{name: "missing customer", mutate: func(r *CreatePaymentRequest) { r.CustomerName = "" }},
		{name: "bad return url", mutate: func(r *CreatePaymentRequest) { r.ReturnURL = "not a url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := validRequest()
			tt.mutate(&req)

			_, err := f.svc.CreatePayment(context.Background(), req)

			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Empty(t, f.gw.created, "gateway is not called for invalid input")
		})
	}
}

func TestCreatePayment_GatewayFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.gw.createResp = nil
	f.gw.createErr = fmt.Errorf("%w: payment creation refused: boom", domain.ErrGateway)

	_, err := f.svc.CreatePayment(context.Background(), validRequest())

	assert.ErrorIs(t, err, domain.ErrGateway)
	list, listErr := f.repo.List(context.Background(), domain.PaymentFilter{})
	require.NoError(t, listErr)
	assert.Empty(t, list)
}

func TestWebhook_ConcreteScenario(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	ctx := context.Background()

	f.now = f.now.Add(5 * time.Minute)
	res, err := f.svc.IngestWebhook(ctx, successWebhook())
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookOutcomeApplied, res.Outcome)

	p, err := f.repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, p.Status)
	assert.Equal(t, "TRX1", *p.TransactionRef)
	assert.Equal(t, "wave", *p.Method)
	assert.True(t, decimal.NewFromInt(250).Equal(p.Fee))
	require.NotNil(t, p.PaidAt)
	assert.Equal(t, f.now, *p.PaidAt)
	assert.Equal(t, "U1", p.RawResponse["url"], "creation snapshot survives the merge")
	assert.Equal(t, "TRX1", p.RawResponse["numeroTransaction"])

	messages := f.outbox.Messages()
	require.Len(t, messages, 1)
	var event domain.PaymentStatusUpdatedEvent
	require.NoError(t, json.Unmarshal(messages[0].Payload, &event))
	assert.Equal(t, domain.PaymentStatusPending, event.OldStatus)
	assert.Equal(t, domain.PaymentStatusPaid, event.NewStatus)
	assert.Equal(t, "ORD-1", event.OrderID)

	// Re-delivery.
	f.now = f.now.Add(time.Minute)
	res, err = f.svc.IngestWebhook(ctx, successWebhook())
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookOutcomeDuplicate, res.Outcome)

	again, err := f.repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, p.Version, again.Version, "duplicate delivery writes nothing")
	assert.Equal(t, *p.PaidAt, *again.PaidAt)
	assert.Len(t, f.outbox.Messages(), 1, "no second status event")

	log := f.webhooks.All()
	require.Len(t, log, 2)
	assert.Equal(t, domain.WebhookOutcomeApplied, log[0].Outcome)
	assert.Equal(t, domain.WebhookOutcomeDuplicate, log[1].Outcome)
}

func TestWebhook_FailureThenSuccessStaysFailed(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	ctx := context.Background()

	_, err := f.svc.IngestWebhook(ctx, map[string]any{"tokenPay": "T1", "event": "payment.failed", "reason": "insufficient funds"})
	require.NoError(t, err)

	res, err := f.svc.IngestWebhook(ctx, successWebhook())
	require.NoError(t, err, "late success is still acknowledged")
	assert.Equal(t, domain.WebhookOutcomeConflict, res.Outcome)

	p, err := f.repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	assert.Nil(t, p.PaidAt)
	assert.Nil(t, p.TransactionRef)
	assert.Contains(t, p.RawResponse, "conflicting_events")
	assert.Len(t, f.outbox.Messages(), 1)
}

func TestWebhook_Rejections(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	ctx := context.Background()

	_, err := f.svc.IngestWebhook(ctx, map[string]any{"event": "payment.success"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.IngestWebhook(ctx, map[string]any{"tokenPay": "nope", "event": "payment.success"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	log := f.webhooks.All()
	require.Len(t, log, 2)
	assert.Equal(t, domain.WebhookOutcomeInvalid, log[0].Outcome)
	assert.Equal(t, domain.WebhookOutcomeNotFound, log[1].Outcome)
}

func TestWebhook_TokenAliasesAndUnknownEvent(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	ctx := context.Background()

	res, err := f.svc.IngestWebhook(ctx, map[string]any{"token": "T1", "foo": "bar"})
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookOutcomeRecorded, res.Outcome)
	assert.Equal(t, defaultWebhookEvent, res.Event)

	res, err = f.svc.IngestWebhook(ctx, map[string]any{"token_pay": "T1", "event": "payment.cancelled"})
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookOutcomeApplied, res.Outcome)

	p, err := f.repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, p.Status)
	assert.Contains(t, p.RawResponse, "unknown_event")
}

func TestCheckStatus_AppliesGatewayState(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	f.gw.checkResp = &gateway.CheckResponse{
		Statut: boolPtr(true),
		Data:   map[string]any{"statut": "paid", "numeroTransaction": "TRX9", "moyen": "orange_money", "frais": "100"},
	}

	view, err := f.svc.CheckStatus(context.Background(), "T1")

	require.NoError(t, err)
	assert.Equal(t, SourceGateway, view.Source)
	assert.Equal(t, domain.PaymentStatusPaid, view.State)
	assert.Equal(t, "TRX9", *view.TransactionRef)
	assert.True(t, decimal.NewFromInt(100).Equal(view.Fee))
	assert.NotNil(t, view.PaidAt)
}

func TestCheckStatus_FallsBackWhenGatewayUnreachable(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	f.gw.checkErr = fmt.Errorf("%w: %w: dial tcp: connection refused", domain.ErrGateway, domain.ErrNetwork)

	view, err := f.svc.CheckStatus(context.Background(), "T1")

	require.NoError(t, err)
	assert.Equal(t, SourceLocalFallback, view.Source)
	assert.Equal(t, domain.PaymentStatusPending, view.State)
	assert.True(t, decimal.NewFromInt(5000).Equal(view.Amount))
}

func TestCheckStatus_FallsBackOnRefusedCheck(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	f.gw.checkResp = &gateway.CheckResponse{Statut: boolPtr(false), Message: "unavailable", Data: map[string]any{}}

	view, err := f.svc.CheckStatus(context.Background(), "T1")

	require.NoError(t, err)
	assert.Equal(t, SourceLocalFallback, view.Source)
}

func TestCheckStatus_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CheckStatus(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.gw.checkCalls)
}

func TestCheckStatus_RepeatedPendingWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	f.gw.checkResp = &gateway.CheckResponse{Statut: boolPtr(true), Data: map[string]any{"statut": "pending"}}

	_, err := f.svc.CheckStatus(context.Background(), "T1")
	require.NoError(t, err)
	first, _ := f.repo.GetByToken(context.Background(), "T1")

	_, err = f.svc.CheckStatus(context.Background(), "T1")
	require.NoError(t, err)
	second, _ := f.repo.GetByToken(context.Background(), "T1")

	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, domain.PaymentStatusPending, second.Status)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	ctx := context.Background()

	view, err := f.svc.Cancel(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, view.State)

	_, err = f.svc.Cancel(ctx, "T1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel_PaidPaymentIsInvalid(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	ctx := context.Background()
	_, err := f.svc.IngestWebhook(ctx, successWebhook())
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "T1")

	assert.ErrorIs(t, err, domain.ErrInvalidState)
	p, _ := f.repo.GetByToken(ctx, "T1")
	assert.Equal(t, domain.PaymentStatusPaid, p.Status)
}

func TestCancel_FailedPaymentIsInvalid(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	ctx := context.Background()
	_, err := f.svc.IngestWebhook(ctx, map[string]any{"event": "payment.failed", "tokenPay": "T1"})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "T1")

	assert.ErrorIs(t, err, domain.ErrInvalidState)
	p, _ := f.repo.GetByToken(ctx, "T1")
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
}

func TestCreatePayment_TwoDecimalAmount(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.TotalPrice = decimal.RequireFromString("5000.50")
	req.LineItems[0].UnitPrice = decimal.RequireFromString("5000.50")

	_, err := f.svc.CreatePayment(context.Background(), req)

	require.NoError(t, err)
	p, err := f.repo.GetByToken(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "5000.5", p.Amount.String())
}

func TestWebhook_OutOfRangeFeeIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	payload := successWebhook()
	payload["frais"] = "12.345"

	_, err := f.svc.IngestWebhook(context.Background(), payload)

	require.NoError(t, err)
	p, _ := f.repo.GetByToken(context.Background(), "T1")
	assert.Equal(t, domain.PaymentStatusPaid, p.Status)
	assert.True(t, p.Fee.IsZero())
}

func TestConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := successWebhook()
			if i%2 == 1 {
				payload["event"] = "payment.failed"
			}
			_, err := f.svc.IngestWebhook(ctx, payload)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	p, err := f.repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, p.Status.IsTerminal())
	assert.Equal(t, p.Status == domain.PaymentStatusPaid, p.PaidAt != nil)
	assert.Len(t, f.outbox.Messages(), 1, "exactly one transition is published")
}

func TestListPayments(t *testing.T) {
	f := newFixture(t)
	f.createT1(t)
	ctx := context.Background()

	list, err := f.svc.ListPayments(ctx, domain.PaymentFilter{UserID: "42"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	bad := domain.PaymentStatus("bogus")
	_, err = f.svc.ListPayments(ctx, domain.PaymentFilter{UserID: "42", Status: &bad})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
