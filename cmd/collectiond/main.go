// Command collectiond consumes collections-cycle tasks fanned out by
// schedulerd: it rescans each loan's delinquency status and assesses any
// late fee due as of that day.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bibbank/loanserve/internal/collections"
	collectionspg "github.com/bibbank/loanserve/internal/collections/postgres"
	"github.com/bibbank/loanserve/internal/config"
	"github.com/bibbank/loanserve/internal/ledger"
	ledgerpg "github.com/bibbank/loanserve/internal/ledger/postgres"
	"github.com/bibbank/loanserve/internal/scheduler"
	"github.com/bibbank/loanserve/pkg/broker"
	"github.com/bibbank/loanserve/pkg/observability"
	"github.com/bibbank/loanserve/pkg/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("collectiond exited with error", "error", err)
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
	repo := collectionspg.New()
	ledgerRepo := ledgerpg.New()
	ledgerSvc := ledger.NewService(tx, ledgerRepo, ledgerRepo, log)

	scanner := collections.NewDelinquencyScanner(tx, repo, repo, repo, repo, repo, repo, log)
	lateFees := collections.NewLateFeeAssessor(tx, repo, repo, repo, ledgerSvc, repo, "USD", log)

	handler := func(ctx context.Context, msg broker.Message) error {
		var task scheduler.LoanTask
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			return fmt.Errorf("collectiond: decode loan task: %w", err)
		}

		if _, err := scanner.Run(ctx, task.LoanID, task.AsOf); err != nil {
			return fmt.Errorf("collectiond: delinquency scan: %w", err)
		}
		if _, err := lateFees.Run(ctx, task.LoanID, task.AsOf, task.AsOf); err != nil {
			return fmt.Errorf("collectiond: late fee assessment: %w", err)
		}
		return nil
	}

	brokerCfg := broker.Config{Brokers: cfg.Broker.Brokers, ConsumerGroup: cfg.Broker.ConsumerGroup, TLS: cfg.Broker.TLS}
	consumer := broker.NewConsumer(brokerCfg, scheduler.TopicCollectionsCycleRequested, handler, producer, log,
		broker.WithConcurrency(broker.PrefetchServicingCycle))

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
