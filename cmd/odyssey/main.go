package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-finance/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-finance/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-finance/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-finance/internal/app"
	"github.com/odyssey-erp/odyssey-finance/internal/audit"
	"github.com/odyssey-erp/odyssey-finance/internal/integration"
	"github.com/odyssey-erp/odyssey-finance/internal/observability"
	"github.com/odyssey-erp/odyssey-finance/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-finance/internal/platform/db"
	"github.com/odyssey-erp/odyssey-finance/internal/prepayment"
	"github.com/odyssey-erp/odyssey-finance/internal/reconciliation"
	"github.com/odyssey-erp/odyssey-finance/jobs"
)

const usage = `usage:
  odyssey [serve]
  odyssey migrate up|down
  odyssey jobs trigger rebuild [SOURCE_TYPE] | integrity | journalize DOCUMENT_TYPE ID
  odyssey jobs stats`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"serve"}
	}
	switch args[0] {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = runMigrate(cfg, logger, args[1:])
	case "jobs":
		err = runJobs(ctx, cfg, args[1:])
	default:
		err = errors.New(usage)
	}
	if err != nil {
		logger.Error("odyssey", slog.Any("error", err))
		os.Exit(1)
	}
}

func runMigrate(cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New(usage)
	}
	migrator, err := db.NewMigrator(cfg.PGDSN, logger)
	if err != nil {
		return err
	}
	defer migrator.Close()
	switch args[0] {
	case "up":
		return migrator.Up()
	case "down":
		return migrator.Down()
	default:
		return errors.New(usage)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.AsynqRedis())
	if err != nil {
		return err
	}
	defer jobsCLI.Close()
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New(usage)
		}
		info, err := jobsCLI.Trigger(ctx, args[1], args[2:])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-12s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return nil
	default:
		return errors.New(usage)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := runMigrate(cfg, logger, []string{"up"}); err != nil {
			return err
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("api"))
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, dbpool, redisClient, metrics, logger)

	redisOpts := cfg.AsynqRedis()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer jobClient.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:                logger,
		Config:                cfg,
		DB:                    dbpool,
		AccountsHandler:       accounts.NewHandler(logger, services.Resolver),
		JournalsHandler:       journals.NewHandler(logger, services.Journals),
		DocumentsHandler:      integration.NewHandler(logger, services.Journalizer, jobClient),
		ReconciliationHandler: reconciliation.NewHandler(logger, services.Reconciliation),
		PrepaymentHandler:     prepayment.NewHandler(logger, services.Prepayments, services.Reconciliation),
		AuditHandler:          audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		JobHandler:            jobs.NewHandler(inspector, logger),
		Metrics:               metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}
