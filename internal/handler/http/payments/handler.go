package payments_http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"moneyfusion/internal/app/payments"
	"moneyfusion/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type PaymentHandler struct {
	service payments.PaymentService
	logger  *zap.Logger
}

func NewPaymentHandler(s payments.PaymentService, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, logger: l}
}

type InitiatePaymentRequest struct {
	TotalPrice    decimal.Decimal  `json:"total_price"`
	Articles      []map[string]any `json:"articles"`
	CustomerName  string           `json:"nom_client"`
	CustomerPhone string           `json:"numero_send"`
	UserID        any              `json:"user_id"`
	OrderID       any              `json:"order_id"`
	ReturnURL     string           `json:"return_url"`
	WebhookURL    string           `json:"webhook_url"`
}

type InitiatePaymentResponse struct {
	Success    bool           `json:"success"`
	Token      string         `json:"token"`
	PaymentURL string         `json:"payment_url"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
}

type PaymentResponse struct {
	Token          string            `json:"token"`
	State          string            `json:"state"`
	Amount         decimal.Decimal   `json:"amount"`
	Fee            decimal.Decimal   `json:"fee"`
	TransactionRef *string           `json:"transaction_ref"`
	Method         *string           `json:"method"`
	CustomerName   string            `json:"customer_name"`
	CustomerPhone  *string           `json:"customer_phone"`
	PaymentURL     *string           `json:"payment_url"`
	LineItems      []domain.LineItem `json:"line_items"`
	Metadata       map[string]string `json:"metadata"`
	PaidAt         *time.Time        `json:"paid_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type WebhookResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *PaymentHandler) InitiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for InitiatePayment", zap.Error(err))
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	items, err := payments.NormalizeLineItems(req.Articles)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	result, err := h.service.CreatePayment(r.Context(), payments.CreatePaymentRequest{
		TotalPrice:    req.TotalPrice,
		LineItems:     items,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		UserID:        correlationID(req.UserID),
		OrderID:       correlationID(req.OrderID),
		ReturnURL:     req.ReturnURL,
		WebhookURL:    req.WebhookURL,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to create payment")
		return
	}

	h.writeJSON(w, http.StatusCreated, InitiatePaymentResponse{
		Success:    true,
		Token:      result.Token,
		PaymentURL: result.PaymentURL,
		Message:    result.Message,
		Data:       result.Raw,
	})
}

func (h *PaymentHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	view, err := h.service.CheckStatus(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, "Failed to check payment status")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *PaymentHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	view, err := h.service.Cancel(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, "Failed to cancel payment")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *PaymentHandler) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := h.service.ListPayments(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list payments")
		return
	}

	resp := make([]PaymentResponse, 0, len(list))
	for _, p := range list {
		resp = append(resp, toPaymentResponse(p))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": resp})
}

// CallbackHandler serves the return URL the customer lands on after paying.
func (h *PaymentHandler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("token")
	if token == "" {
		token = q.Get("tokenPay")
	}
	if token == "" {
		h.writeError(w, "Missing payment token", http.StatusBadRequest)
		return
	}

	view, err := h.service.CheckStatus(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, "Failed to check payment status")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// WebhookHandler accepts unauthenticated gateway notifications, as JSON or as
// a form.
func (h *PaymentHandler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeWebhook(r)
	if err != nil {
		h.logger.Warn("Invalid MoneyFusion webhook body", zap.Error(err))
		h.writeWebhook(w, http.StatusBadRequest, "error", "Invalid payload")
		return
	}

	result, err := h.service.IngestWebhook(r.Context(), payload)
	switch {
	case err == nil:
		h.writeWebhook(w, http.StatusOK, "ok", result.Message)
	case errors.Is(err, domain.ErrValidation):
		h.writeWebhook(w, http.StatusBadRequest, "error", "Missing tokenPay")
	case errors.Is(err, domain.ErrNotFound):
		h.writeWebhook(w, http.StatusNotFound, "error", "Payment not found")
	default:
		h.logger.Error("MoneyFusion webhook processing error", zap.Error(err))
		h.writeWebhook(w, http.StatusInternalServerError, "error", "Internal server error")
	}
}

func decodeWebhook(r *http.Request) (map[string]any, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		payload := make(map[string]any, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				payload[k] = v[0]
			}
		}
		return payload, nil
	}

	var payload map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

func parseFilter(r *http.Request) (domain.PaymentFilter, error) {
	q := r.URL.Query()
	filter := domain.PaymentFilter{UserID: q.Get("user_id"), Limit: defaultListLimit}
	if filter.UserID == "" {
		return filter, errors.New("user_id is required")
	}

	if s := q.Get("state"); s != "" {
		status := domain.PaymentStatus(strings.ToLower(s))
		filter.Status = &status
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			return filter, fmt.Errorf("invalid %s: %q", p.name, v)
		}
		*p.dst = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, fmt.Errorf("invalid limit: %q", v)
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		filter.Limit = n
	}
	return filter, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func correlationID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	}
	return fmt.Sprint(v)
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		Token:          p.Token,
		State:          string(p.Status),
		Amount:         p.Amount,
		Fee:            p.Fee,
		TransactionRef: p.TransactionRef,
		Method:         p.Method,
		CustomerName:   p.CustomerName,
		CustomerPhone:  p.CustomerPhone,
		PaymentURL:     p.PaymentURL,
		LineItems:      p.LineItems,
		Metadata:       p.Metadata,
		PaidAt:         p.PaidAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (h *PaymentHandler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, "Payment not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidState):
		h.writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrGateway):
		h.logger.Error(msg, zap.Error(err))
		h.writeError(w, "Payment gateway error", http.StatusBadGateway)
	default:
		h.logger.Error(msg, zap.Error(err))
		h.writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *PaymentHandler) writeWebhook(w http.ResponseWriter, code int, status, message string) {
	h.writeJSON(w, code, WebhookResponse{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *PaymentHandler) writeError(w http.ResponseWriter, message string, code int) {
	h.writeJSON(w, code, errorResponse{Success: false, Message: message})
}

func (h *PaymentHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}
