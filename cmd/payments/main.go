package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"moneyfusion/internal/app/bootstrap"
	"moneyfusion/internal/app/payments"
	"moneyfusion/internal/config"
	"moneyfusion/internal/domain"
	"moneyfusion/internal/gateway"
	payments_http "moneyfusion/internal/handler/http/payments"
	kafka_handler "moneyfusion/internal/handler/kafka"
	kafka_infra "moneyfusion/internal/infrastructure/kafka"
	"moneyfusion/internal/outbox"
	"moneyfusion/internal/util"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger, err := util.NewLogger(os.Getenv("LOG_LEVEL") == "debug")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.Info("MoneyFusion Payment Service starting...", zap.String("store", cfg.StoreDriver))

	ctxMain, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	stores, err := bootstrap.OpenStores(ctxMain, cfg, appLogger.With(zap.String("component", "Storage")))
	if err != nil {
		appLogger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer stores.Close()

	gatewayClient := gateway.NewClient(cfg.Gateway, appLogger.With(zap.String("component", "MoneyFusionClient")))
	paymentService := payments.NewPaymentService(
		stores.Payments,
		stores.Webhooks,
		gatewayClient,
		cfg.Gateway,
		appLogger.With(zap.String("component", "PaymentService")),
	)
	appLogger.Info("Payment Service initialized.")

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           payments_http.NewRouter(paymentService, cfg.CORSOrigins, appLogger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	var consumer kafka_infra.Consumer
	if cfg.KafkaEnabled() {
		consumer = startKafka(ctxMain, &wg, cfg, stores, paymentService, appLogger)
	} else {
		appLogger.Info("KAFKA_BROKER_URL not set; outbox relay and status-check consumer disabled")
	}

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("Shutting down application...")

	cancelMain()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	if consumer != nil {
		consumer.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		appLogger.Warn("Background workers did not stop before the shutdown deadline.")
	}

	appLogger.Info("Application gracefully shut down.")
}

// startKafka launches the outbox relay and, when a topic is configured, the
// status-check consumer. Both stop when ctx is cancelled.
func startKafka(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
	stores *bootstrap.Stores,
	paymentService payments.PaymentService,
	logger *zap.Logger,
) kafka_infra.Consumer {
	brokers := cfg.GetKafkaBrokers()
	topics := []string{cfg.KafkaPaymentStatusTopic}
	if cfg.KafkaStatusCheckTopic != "" {
		topics = append(topics, cfg.KafkaStatusCheckTopic)
	}

	adminCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := kafka_infra.EnsureTopics(adminCtx, brokers, topics, logger.With(zap.String("component", "KafkaAdmin"))); err != nil {
		logger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
	}

	producer := kafka_infra.NewProducer(brokers, logger.With(zap.String("component", "KafkaProducer")))
	processor := outbox.NewProcessor(
		stores.Outbox,
		producer,
		map[string]string{domain.MessageTypePaymentStatusUpdated: cfg.KafkaPaymentStatusTopic},
		cfg.OutboxPollInterval,
		cfg.OutboxPollTimeout,
		logger.With(zap.String("component", "OutboxProcessor")),
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
		if err := producer.Close(); err != nil {
			logger.Error("Error closing Kafka producer", zap.Error(err))
		} else {
			logger.Info("Kafka producer closed.")
		}
	}()

	if cfg.KafkaStatusCheckTopic == "" {
		return nil
	}

	consumer := kafka_infra.NewConsumer(
		brokers,
		cfg.KafkaConsumerGroup,
		cfg.KafkaStatusCheckTopic,
		logger.With(zap.String("component", "StatusCheckConsumer")),
	)
	handler := kafka_handler.StatusCheckMessageHandler(paymentService, logger.With(zap.String("component", "StatusCheckHandler")))

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Start(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Status check consumer failed", zap.Error(err))
		}
		logger.Info("Status check consumer stopped.")
	}()
	return consumer
}
