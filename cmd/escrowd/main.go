// Command escrowd consumes escrow-cycle tasks fanned out by schedulerd and
// runs the forecast -> schedule -> post cycle for each loan.
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
	"github.com/bibbank/loanserve/internal/escrow"
	escrowpg "github.com/bibbank/loanserve/internal/escrow/postgres"
	"github.com/bibbank/loanserve/internal/ledger"
	ledgerpg "github.com/bibbank/loanserve/internal/ledger/postgres"
	"github.com/bibbank/loanserve/internal/scheduler"
	"github.com/bibbank/loanserve/pkg/broker"
	"github.com/bibbank/loanserve/pkg/observability"
	"github.com/bibbank/loanserve/pkg/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("escrowd exited with error", "error", err)
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
	escrowRepo := escrowpg.New()
	ledgerRepo := ledgerpg.New()
	ledgerSvc := ledger.NewService(tx, ledgerRepo, ledgerRepo, log)
	balances := escrow.NewDefaultBalances(ledgerSvc)

	forecaster := escrow.NewForecaster(tx, escrowRepo, escrowRepo, escrowRepo, log)
	sched := escrow.NewScheduler(tx, escrowRepo, escrowRepo, log)
	poster := escrow.NewPoster(tx, escrowRepo, balances, ledgerSvc, escrowRepo, "USD", log)
	cycle := escrow.NewCycle(forecaster, sched, poster, log)

	handler := func(ctx context.Context, msg broker.Message) error {
		var task scheduler.LoanTask
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			return fmt.Errorf("escrowd: decode loan task: %w", err)
		}
		result := cycle.Run(ctx, task.LoanID, task.AsOf)
		if result.FailureErr != nil {
			return result.FailureErr
		}
		return nil
	}

	brokerCfg := broker.Config{Brokers: cfg.Broker.Brokers, ConsumerGroup: cfg.Broker.ConsumerGroup, TLS: cfg.Broker.TLS}
	consumer := broker.NewConsumer(brokerCfg, scheduler.TopicEscrowCycleRequested, handler, producer, log,
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
