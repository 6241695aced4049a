package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"moneyfusion/internal/config"
	"moneyfusion/internal/domain"
	"moneyfusion/internal/gateway"
	"moneyfusion/internal/repository/payments_repo"
	"moneyfusion/internal/repository/webhook_repo"
	"moneyfusion/internal/statemachine"
	"moneyfusion/internal/util"
)

// maxApplyAttempts bounds the re-read and re-apply loop after a lost
// compare-and-swap.
const maxApplyAttempts = 10

type PaymentService interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	CheckStatus(ctx context.Context, token string) (*StatusView, error)
	Cancel(ctx context.Context, token string) (*StatusView, error)
	GetPayment(ctx context.Context, token string) (*domain.Payment, error)
	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error)
	IngestWebhook(ctx context.Context, payload map[string]any) (*WebhookResult, error)
}

type GatewayClient interface {
	Create(ctx context.Context, payload gateway.CreatePayload) (*gateway.CreateResponse, error)
	Check(ctx context.Context, token string) (*gateway.CheckResponse, error)
}

type paymentService struct {
	paymentRepo payments_repo.PaymentRepository
	webhookRepo webhook_repo.WebhookEventRepository
	gateway     GatewayClient
	cfg         config.GatewayConfig
	validate    *validator.Validate
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*paymentService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *paymentService) { s.now = now }
}

func NewPaymentService(
	paymentRepo payments_repo.PaymentRepository,
	webhookRepo webhook_repo.WebhookEventRepository,
	gatewayClient GatewayClient,
	cfg config.GatewayConfig,
	logger *zap.Logger,
	opts ...Option,
) PaymentService {
	s := &paymentService{
		paymentRepo: paymentRepo,
		webhookRepo: webhookRepo,
		gateway:     gatewayClient,
		cfg:         cfg,
		validate:    validator.New(),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *paymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	payload := s.buildCreatePayload(req)
	resp, err := s.gateway.Create(ctx, payload)
	if err != nil {
		s.logger.Error("MoneyFusion payment creation failed",
			zap.String("customer", req.CustomerName),
			zap.String("amount", req.TotalPrice.String()),
			zap.Error(err),
		)
		return nil, err
	}

	now := s.now()
	payment := &domain.Payment{
		Token:        resp.Token,
		Amount:       req.TotalPrice,
		Status:       domain.PaymentStatusPending,
		CustomerName: req.CustomerName,
		LineItems:    make([]domain.LineItem, 0, len(req.LineItems)),
		Metadata:     map[string]string{},
		RawResponse:  domain.CloneRaw(resp.Raw),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.CustomerPhone != "" {
		phone := req.CustomerPhone
		payment.CustomerPhone = &phone
	}
	paymentURL := resp.URL
	payment.PaymentURL = &paymentURL
	for _, li := range req.LineItems {
		payment.LineItems = append(payment.LineItems, domain.LineItem{Name: li.Name, UnitPrice: li.UnitPrice, Quantity: li.Quantity})
	}
	if req.UserID != "" {
		payment.Metadata[domain.MetadataUserID] = req.UserID
	}
	if req.OrderID != "" {
		payment.Metadata[domain.MetadataOrderID] = req.OrderID
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		s.logger.Error("Failed to persist created payment", zap.String("token", payment.Token), zap.Error(err))
		return nil, fmt.Errorf("failed to persist payment %s: %w", payment.Token, err)
	}

	s.logger.Info("MoneyFusion payment created",
		zap.String("token", payment.Token),
		zap.String("amount", payment.Amount.String()),
		zap.String("user_id", req.UserID),
		zap.String("order_id", req.OrderID),
	)
	return &CreatePaymentResult{
		Token:      resp.Token,
		PaymentURL: resp.URL,
		Message:    resp.Message,
		Raw:        resp.Raw,
	}, nil
}

func (s *paymentService) validateCreate(req CreatePaymentRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if !req.TotalPrice.IsPositive() {
		return fmt.Errorf("%w: total price must be positive", domain.ErrValidation)
	}
	if !domain.FitsAmountColumn(req.TotalPrice) {
		return fmt.Errorf("%w: total price %s exceeds %d decimals or the maximum amount", domain.ErrValidation, req.TotalPrice, domain.AmountScale)
	}
	for i, li := range req.LineItems {
		if !li.UnitPrice.IsPositive() {
			return fmt.Errorf("%w: article %d: price must be positive", domain.ErrValidation, i)
		}
		if !domain.FitsAmountColumn(li.UnitPrice) {
			return fmt.Errorf("%w: article %d: price %s exceeds %d decimals or the maximum amount", domain.ErrValidation, i, li.UnitPrice, domain.AmountScale)
		}
	}
	return nil
}

func (s *paymentService) buildCreatePayload(req CreatePaymentRequest) gateway.CreatePayload {
	articles := make([]gateway.Article, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		articles = append(articles, gateway.Article{
			Name:     li.Name,
			Amount:   li.UnitPrice.IntPart(),
			Quantity: li.Quantity,
		})
	}

	info := gateway.PersonalInfo{}
	if req.UserID != "" {
		info.UserID = &req.UserID
	}
	if req.OrderID != "" {
		info.OrderID = &req.OrderID
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}
	webhookURL := req.WebhookURL
	if webhookURL == "" {
		webhookURL = s.cfg.WebhookURL
	}

	return gateway.CreatePayload{
		TotalPrice:   req.TotalPrice.String(),
		Articles:     articles,
		PersonalInfo: []gateway.PersonalInfo{info},
		Phone:        req.CustomerPhone,
		CustomerName: req.CustomerName,
		ReturnURL:    returnURL,
		WebhookURL:   webhookURL,
	}
}

// CheckStatus reconciles the local record with the gateway. When the gateway
// cannot answer, the last known local state is returned instead of an error.
func (s *paymentService) CheckStatus(ctx context.Context, token string) (*StatusView, error) {
	current, err := s.paymentRepo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.Check(ctx, token)
	if err == nil && !resp.OK() {
		err = fmt.Errorf("%w: check-payment reported failure: %s", domain.ErrGateway, resp.Message)
	}
	if err != nil {
		s.logger.Warn("MoneyFusion status check unavailable, serving local state",
			zap.String("token", token),
			zap.String("state", string(current.Status)),
			zap.String("source", string(SourceLocalFallback)),
			zap.Error(err),
		)
		return NewStatusView(current, SourceLocalFallback), nil
	}

	ev := statemachine.Event{
		Kind:           statemachine.KindFromGatewayStatus(resp.PaymentStatus()),
		Name:           "check-payment:" + resp.PaymentStatus(),
		TransactionRef: optionalString(resp.Data, "numeroTransaction"),
		Method:         optionalString(resp.Data, "moyen"),
		Fee:            optionalDecimal(resp.Data, "frais"),
		Raw:            resp.Data,
	}

	updated, _, err := s.applyEvent(ctx, current, ev, nil)
	if err != nil {
		return nil, err
	}
	return NewStatusView(updated, SourceGateway), nil
}

// Cancel marks a pending payment as cancelled. Any other state is an
// ErrInvalidState.
func (s *paymentService) Cancel(ctx context.Context, token string) (*StatusView, error) {
	current, err := s.paymentRepo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ev := statemachine.Event{
		Kind: statemachine.KindCancelled,
		Name: "payment.cancelled",
		Raw: map[string]any{
			"cancelled_by": "user",
			"cancelled_at": now.UTC().Format(time.RFC3339),
		},
	}
	onlyPending := func(p *domain.Payment) error {
		if !p.IsPending() {
			return fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, p.Token, p.Status)
		}
		return nil
	}

	updated, _, err := s.applyEvent(ctx, current, ev, onlyPending)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Payment cancelled", zap.String("token", token))
	return NewStatusView(updated, SourceLocal), nil
}

func (s *paymentService) GetPayment(ctx context.Context, token string) (*domain.Payment, error) {
	return s.paymentRepo.GetByToken(ctx, token)
}

func (s *paymentService) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrValidation, *filter.Status)
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, fmt.Errorf("%w: from must be before to", domain.ErrValidation)
	}
	return s.paymentRepo.List(ctx, filter)
}

// applyEvent runs ev through the state machine and persists the result with a
// compare-and-swap. A lost race re-reads the record and applies ev again, so
// a concurrent terminal write turns a retry into a duplicate or conflict.
func (s *paymentService) applyEvent(
	ctx context.Context,
	current *domain.Payment,
	ev statemachine.Event,
	precondition func(*domain.Payment) error,
) (*domain.Payment, statemachine.Decision, error) {
	var lastErr error
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		if attempt > 1 {
			fresh, err := s.paymentRepo.GetByToken(ctx, current.Token)
			if err != nil {
				return nil, statemachine.Decision{}, err
			}
			current = fresh
		}
		if precondition != nil {
			if err := precondition(current); err != nil {
				return nil, statemachine.Decision{}, err
			}
		}

		d := statemachine.Apply(current, ev, s.now())
		s.logDecision(current.Token, ev, d)

		if !d.Changed && d.To == d.From && reflect.DeepEqual(d.Payment.RawResponse, current.RawResponse) {
			return current, d, nil
		}

		var msg *domain.OutboxMessage
		if d.Changed {
			m, err := s.statusUpdatedMessage(d)
			if err != nil {
				return nil, d, err
			}
			msg = m
		}

		err := s.paymentRepo.CompareAndSwap(ctx, d.Payment, current.Status, current.Version, msg)
		if err == nil {
			return d.Payment, d, nil
		}
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			return nil, d, fmt.Errorf("failed to persist payment %s: %w", current.Token, err)
		}
		lastErr = err
		s.logger.Info("Concurrent payment update, retrying",
			zap.String("token", current.Token),
			zap.Int("attempt", attempt),
		)
	}
	return nil, statemachine.Decision{}, fmt.Errorf("giving up after %d attempts: %w", maxApplyAttempts, lastErr)
}

func (s *paymentService) logDecision(token string, ev statemachine.Event, d statemachine.Decision) {
	fields := []zap.Field{
		zap.String("token", token),
		zap.String("event", ev.Name),
		zap.String("kind", string(ev.Kind)),
		zap.String("state", string(d.To)),
	}
	switch {
	case d.Conflicting:
		s.logger.Warn("Ignoring late event contradicting the recorded outcome",
			append(fields, zap.Error(domain.ErrConflictingEvent))...)
	case d.Duplicate:
		s.logger.Info("Duplicate payment event", fields...)
	case d.Changed:
		s.logger.Info("Payment state changed", append(fields, zap.String("old_state", string(d.From)))...)
	}
}

func (s *paymentService) statusUpdatedMessage(d statemachine.Decision) (*domain.OutboxMessage, error) {
	p := d.Payment
	event := domain.PaymentStatusUpdatedEvent{
		Token:     p.Token,
		OldStatus: d.From,
		NewStatus: d.To,
		Amount:    p.Amount,
		Fee:       p.Fee,
		UserID:    p.UserID(),
		OrderID:   p.OrderID(),
		PaidAt:    p.PaidAt,
		Timestamp: p.UpdatedAt,
	}
	if p.TransactionRef != nil {
		event.TransactionRef = *p.TransactionRef
	}
	if p.Method != nil {
		event.Method = *p.Method
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status update event: %w", err)
	}
	return &domain.OutboxMessage{
		ID:          util.GenerateUUID(),
		AggregateID: p.Token,
		MessageType: domain.MessageTypePaymentStatusUpdated,
		Payload:     payload,
		Status:      domain.OutboxStatusPending,
		CreatedAt:   p.UpdatedAt,
	}, nil
}
