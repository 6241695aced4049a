package payments_http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"moneyfusion/internal/app/payments"
)

// NewRouter builds the service router with the shared middleware stack.
func NewRouter(s payments.PaymentService, allowedOrigins []string, l *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	RegisterRoutes(r, s, l)
	return r
}

func RegisterRoutes(r chi.Router, s payments.PaymentService, l *zap.Logger) {
	handler := NewPaymentHandler(s, l.With(zap.String("component", "PaymentHTTPHandler")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("MoneyFusion service is healthy!"))
	})

	r.Route("/api/moneyfusion", func(r chi.Router) {
		r.Post("/webhook", handler.WebhookHandler)

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", handler.ListPaymentsHandler)
			r.Post("/initiate", handler.InitiatePaymentHandler)
			r.Get("/{token}/status", handler.GetStatusHandler)
			r.Post("/{token}/cancel", handler.CancelHandler)
		})
	})

	r.Get("/payment/callback", handler.CallbackHandler)
}
