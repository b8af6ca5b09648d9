// Command intaked consumes raw gateway payment events and runs them
// through the intake stage: dedupe by idempotency key, persist, and
// publish payment.received.v1 via the outbox.
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
	ledgerpg "github.com/bibbank/loanserve/internal/ledger/postgres"
	"github.com/bibbank/loanserve/internal/payment"
	paymentpg "github.com/bibbank/loanserve/internal/payment/postgres"
	"github.com/bibbank/loanserve/pkg/broker"
	"github.com/bibbank/loanserve/pkg/observability"
	"github.com/bibbank/loanserve/pkg/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("intaked exited with error", "error", err)
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

	repo := paymentpg.New()
	stage := payment.NewIntakeStage(ledgerpg.NewPoolRunner(pool), repo, repo, log)

	handler := func(ctx context.Context, msg broker.Message) error {
		var raw payment.RawGatewayEvent
		if err := json.Unmarshal(msg.Value, &raw); err != nil {
			return fmt.Errorf("intaked: decode raw gateway event: %w", err)
		}
		return stage.Handle(ctx, raw)
	}

	brokerCfg := broker.Config{Brokers: cfg.Broker.Brokers, ConsumerGroup: cfg.Broker.ConsumerGroup, TLS: cfg.Broker.TLS}
	consumer := broker.NewConsumer(brokerCfg, broker.TopicPaymentsValidation, handler, producer, log,
		broker.WithConcurrency(broker.PrefetchPaymentValidation))

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
