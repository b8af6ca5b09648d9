// Command posterd consumes payment.validated.v1, allocates the payment via
// the waterfall, and posts it as a balanced ledger event.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bibbank/loanserve/internal/config"
	"github.com/bibbank/loanserve/internal/ledger"
	ledgerpg "github.com/bibbank/loanserve/internal/ledger/postgres"
	"github.com/bibbank/loanserve/internal/payment"
	paymentpg "github.com/bibbank/loanserve/internal/payment/postgres"
	"github.com/bibbank/loanserve/pkg/broker"
	"github.com/bibbank/loanserve/pkg/observability"
	"github.com/bibbank/loanserve/pkg/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("posterd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	cfg.Validate()

	log := observability.InitLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, postgres.Config{
		Host: cfg.DB.Host, Port: cfg.DB.Port, User: cfg.DB.User, Password: cfg.DB.Password,
		Database: cfg.DB.Name, SSLMode: cfg.DB.SSLMode, MaxConns: cfg.DB.MaxConns, MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	producer := broker.NewProducer(broker.Config{Brokers: cfg.Broker.Brokers, TLS: cfg.Broker.TLS})
	defer producer.Close()

	tx := ledgerpg.NewPoolRunner(pool)
	paymentRepo := paymentpg.New()
	ledgerRepo := ledgerpg.New()
	ledgerSvc := ledger.NewService(tx, ledgerRepo, ledgerRepo, log)
	stage := payment.NewPostStage(tx, paymentRepo, paymentRepo, ledgerSvc, paymentRepo, paymentRepo, log)

	handler := func(ctx context.Context, msg broker.Message) error {
		var validation payment.PaymentValidation
		if err := json.Unmarshal(msg.Value, &validation); err != nil {
			return fmt.Errorf("posterd: decode payment validation: %w", err)
		}

		intake, found, err := paymentRepo.FindByID(ctx, pool, validation.PaymentID)
		if err != nil {
			return fmt.Errorf("posterd: load intake: %w", err)
		}
		if !found {
			return fmt.Errorf("posterd: intake %s not found", validation.PaymentID)
		}

		return stage.Handle(ctx, validation, intake)
	}

	brokerCfg := broker.Config{Brokers: cfg.Broker.Brokers, ConsumerGroup: cfg.Broker.ConsumerGroup, TLS: cfg.Broker.TLS}
	consumer := broker.NewConsumer(brokerCfg, payment.TopicPaymentValidated, handler, producer, log,
		broker.WithConcurrency(broker.PrefetchPaymentProcessing))

	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("consumer loop failed", "error", err)
		}
	}

	cancel()
	return consumer.Close()
}
