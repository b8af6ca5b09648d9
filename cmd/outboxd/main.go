// Command outboxd relays every component's outbox table to the broker. It
// owns no domain logic: it loads due rows, publishes them, and marks the
// outcome, one ticker-driven dispatcher goroutine per component sharing a
// single pool and a single producer, the same composition-root shape as
// the teacher's cmd/fxd/main.go.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bibbank/loanserve/internal/ach"
	achpg "github.com/bibbank/loanserve/internal/ach/postgres"
	"github.com/bibbank/loanserve/internal/collections"
	collectionspg "github.com/bibbank/loanserve/internal/collections/postgres"
	"github.com/bibbank/loanserve/internal/config"
	"github.com/bibbank/loanserve/internal/escrow"
	escrowpg "github.com/bibbank/loanserve/internal/escrow/postgres"
	ledgerpg "github.com/bibbank/loanserve/internal/ledger/postgres"
	"github.com/bibbank/loanserve/internal/payment"
	paymentpg "github.com/bibbank/loanserve/internal/payment/postgres"
	"github.com/bibbank/loanserve/internal/reconcile"
	reconcilepg "github.com/bibbank/loanserve/internal/reconcile/postgres"
	"github.com/bibbank/loanserve/internal/scheduler"
	schedulerpg "github.com/bibbank/loanserve/internal/scheduler/postgres"
	"github.com/bibbank/loanserve/pkg/broker"
	"github.com/bibbank/loanserve/pkg/observability"
	"github.com/bibbank/loanserve/pkg/postgres"
)

const dispatchInterval = 2 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("outboxd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	cfg.Validate()

	log := observability.InitLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	metrics := observability.NewEngineMetrics(prometheus.DefaultRegisterer)

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

	producer := broker.NewProducer(broker.Config{Brokers: cfg.Broker.Brokers, TLS: cfg.Broker.TLS})
	defer producer.Close()

	tx := ledgerpg.NewPoolRunner(pool)

	dispatchers := []dispatchLoop{
		tickerDispatcher("payment", log, func(ctx context.Context) (int, error) {
			repo := paymentpg.New()
			d := payment.NewDispatcher(tx, repo, payment.NewBrokerPublisher(producer), log)
			return d.DispatchOnce(ctx)
		}),
		tickerDispatcher("escrow", log, func(ctx context.Context) (int, error) {
			repo := escrowpg.New()
			d := escrow.NewDispatcher(tx, repo, escrow.NewBrokerPublisher(producer), log)
			return d.DispatchOnce(ctx)
		}),
		tickerDispatcher("collections", log, func(ctx context.Context) (int, error) {
			repo := collectionspg.New()
			d := collections.NewDispatcher(tx, repo, collections.NewBrokerPublisher(producer), log)
			return d.DispatchOnce(ctx)
		}),
		tickerDispatcher("reconcile", log, func(ctx context.Context) (int, error) {
			repo := reconcilepg.New()
			d := reconcile.NewDispatcher(tx, repo, reconcile.NewBrokerPublisher(producer), log)
			return d.DispatchOnce(ctx)
		}),
		tickerDispatcher("ach", log, func(ctx context.Context) (int, error) {
			repo := achpg.New()
			d := ach.NewDispatcher(tx, repo, ach.NewBrokerPublisher(producer), log)
			return d.DispatchOnce(ctx)
		}),
		tickerDispatcher("scheduler", log, func(ctx context.Context) (int, error) {
			repo := schedulerpg.New()
			d := scheduler.NewDispatcher(tx, repo, scheduler.NewBrokerPublisher(producer), log)
			return d.DispatchOnce(ctx)
		}),
	}

	errCh := make(chan error, len(dispatchers)+1)
	for _, d := range dispatchers {
		go d.run(ctx, errCh, metrics)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		log.Error("dispatcher loop failed", "error", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return metricsSrv.Shutdown(shutdownCtx)
}

// dispatchLoop polls one component's DispatchOnce on a fixed interval
// until ctx is canceled.
type dispatchLoop struct {
	name string
	log  *slog.Logger
	once func(ctx context.Context) (int, error)
}

func tickerDispatcher(name string, log *slog.Logger, once func(ctx context.Context) (int, error)) dispatchLoop {
	return dispatchLoop{name: name, log: log, once: once}
}

func (d dispatchLoop) run(ctx context.Context, errCh chan<- error, metrics *observability.EngineMetrics) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.once(ctx)
			if err != nil {
				d.log.Error("dispatch cycle failed", "component", d.name, "error", err)
				continue
			}
			if n > 0 {
				metrics.OutboxPublished.Add(float64(n))
				d.log.Debug("dispatch cycle published rows", "component", d.name, "count", n)
			}
		}
	}
}
