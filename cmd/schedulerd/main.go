// Command schedulerd runs the daily servicing cycle: once per tick it
// walks every active loan and fans out escrow- and collections-cycle
// requests via the scheduler outbox.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bibbank/loanserve/internal/config"
	ledgerpg "github.com/bibbank/loanserve/internal/ledger/postgres"
	"github.com/bibbank/loanserve/internal/scheduler"
	schedulerpg "github.com/bibbank/loanserve/internal/scheduler/postgres"
	"github.com/bibbank/loanserve/pkg/observability"
	"github.com/bibbank/loanserve/pkg/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("schedulerd exited with error", "error", err)
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

	if err := postgres.RunMigrations(postgres.Config{
		Host: cfg.DB.Host, Port: cfg.DB.Port, User: cfg.DB.User, Password: cfg.DB.Password,
		Database: cfg.DB.Name, SSLMode: cfg.DB.SSLMode,
	}.DSN(), cfg.Migrations); err != nil {
		log.Warn("migrations failed", "error", err)
	}

	tx := ledgerpg.NewPoolRunner(pool)
	repo := schedulerpg.New()
	cycle := scheduler.NewCycle(tx, repo, repo, func() time.Time { return time.Now().UTC() }, log)

	errCh := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result := cycle.Run(ctx)
				log.Info("servicing cycle complete", "loan_count", result.LoanCount, "failed_step", result.FailedStep)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		log.Error("scheduler loop failed", "error", err)
	}

	cancel()
	return nil
}
