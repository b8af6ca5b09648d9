// Command reconciled consumes raw bank statement uploads, ingests them
// into bank txn rows, and immediately scores each new txn against
// candidate ledger cash events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/config"
	ledgerpg "github.com/bibbank/loanserve/internal/ledger/postgres"
	"github.com/bibbank/loanserve/internal/reconcile"
	reconcilepg "github.com/bibbank/loanserve/internal/reconcile/postgres"
	"github.com/bibbank/loanserve/pkg/broker"
	"github.com/bibbank/loanserve/pkg/observability"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// statementUpload is the envelope a bank feed adapter publishes; parsing
// and delivering the feed itself is outside this engine's scope.
type statementUpload struct {
	Account string `json:"account"`
	Format  string `json:"format"`
	Raw     string `json:"raw"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("reconciled exited with error", "error", err)
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
	repo := reconcilepg.New()
	ingestor := reconcile.NewIngestor(tx, repo, repo, log)
	matcher := reconcile.NewMatcher(tx, repo, repo, repo, repo, repo, log)

	handler := func(ctx context.Context, msg broker.Message) error {
		var upload statementUpload
		if err := json.Unmarshal(msg.Value, &upload); err != nil {
			return fmt.Errorf("reconciled: decode statement upload: %w", err)
		}

		statementID, count, err := ingest(ctx, ingestor, upload)
		if err != nil {
			return fmt.Errorf("reconciled: ingest statement: %w", err)
		}
		if count == 0 {
			return nil
		}

		txns, err := repo.ListByStatement(ctx, pool, statementID)
		if err != nil {
			return fmt.Errorf("reconciled: list ingested txns: %w", err)
		}
		for _, t := range txns {
			if _, err := matcher.Match(ctx, t.ID); err != nil {
				log.Error("match failed", "bank_txn_id", t.ID, "error", err)
			}
		}
		return nil
	}

	brokerCfg := broker.Config{Brokers: cfg.Broker.Brokers, ConsumerGroup: cfg.Broker.ConsumerGroup, TLS: cfg.Broker.TLS}
	consumer := broker.NewConsumer(brokerCfg, broker.TopicCashEvents, handler, producer, log,
		broker.WithConcurrency(broker.PrefetchReconcile))

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

func ingest(ctx context.Context, ingestor *reconcile.Ingestor, upload statementUpload) (uuid.UUID, int, error) {
	switch reconcile.StatementFormat(upload.Format) {
	case reconcile.FormatCAMT053:
		return ingestor.IngestCAMT053(ctx, upload.Account, strings.NewReader(upload.Raw))
	case reconcile.FormatMT950:
		return ingestor.IngestMT950(ctx, upload.Account, upload.Raw)
	default:
		return ingestor.IngestBAI2(ctx, upload.Account, upload.Raw)
	}
}
