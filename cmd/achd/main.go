// Command achd consumes incoming NACHA return files and processes them
// against previously filed batch entries.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bibbank/loanserve/internal/ach"
	achpg "github.com/bibbank/loanserve/internal/ach/postgres"
	"github.com/bibbank/loanserve/internal/config"
	ledgerpg "github.com/bibbank/loanserve/internal/ledger/postgres"
	"github.com/bibbank/loanserve/pkg/broker"
	"github.com/bibbank/loanserve/pkg/observability"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// returnFile is the envelope a NACHA return-file ingestion adapter
// publishes; parsing the raw fixed-width file is outside this engine's
// scope (out-of-scope third-party bank SDK wrapper).
type returnFile struct {
	TraceNumber string    `json:"trace_number"`
	Code        string    `json:"return_code"`
	Reason      string    `json:"reason"`
	ReceivedAt  time.Time `json:"received_at"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("achd exited with error", "error", err)
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
	repo := achpg.New()
	returns := ach.NewReturnProcessor(tx, repo, repo, repo, log)

	handler := func(ctx context.Context, msg broker.Message) error {
		var rf returnFile
		if err := json.Unmarshal(msg.Value, &rf); err != nil {
			return fmt.Errorf("achd: decode return file: %w", err)
		}
		return returns.ProcessReturn(ctx, rf.TraceNumber, ach.ReturnCode(rf.Code), rf.Reason, rf.ReceivedAt)
	}

	brokerCfg := broker.Config{Brokers: cfg.Broker.Brokers, ConsumerGroup: cfg.Broker.ConsumerGroup, TLS: cfg.Broker.TLS}
	consumer := broker.NewConsumer(brokerCfg, broker.TopicACHEvents, handler, producer, log)

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
