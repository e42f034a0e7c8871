package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-finance/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-finance/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-finance/internal/integration"
	"github.com/odyssey-erp/odyssey-finance/internal/inventory"
	"github.com/odyssey-erp/odyssey-finance/internal/observability"
	"github.com/odyssey-erp/odyssey-finance/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-finance/internal/prepayment"
	"github.com/odyssey-erp/odyssey-finance/internal/reconciliation"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

// Services holds the finance services shared by the API server and the worker.
type Services struct {
	Resolver       *accounts.Resolver
	Journals       *journals.Service
	Journalizer    *integration.Journalizer
	Prepayments    *prepayment.Service
	Reconciliation *reconciliation.Service
	Cache          *reconciliation.Cache
}

// NewServices wires repositories and services over one pool. A nil redis
// client disables the control account cache and the cross-process rebuild lock.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Services {
	auditLogger := shared.NewAuditLogger(pool)

	resolver := accounts.NewResolver(accounts.NewRepository(pool), accounts.NewDirectory(pool), cfg.Ledger.Policy(), logger)
	journalService := journals.NewService(journals.NewRepository(pool), auditLogger, logger)
	journalizer := integration.NewJournalizer(
		integration.NewDocumentRepository(pool),
		journalService,
		resolver,
		mappings.NewRepository(pool),
		inventory.NewRepository(pool),
		logger,
	).WithAudit(auditLogger).WithMetrics(metrics)

	prepayments := prepayment.NewService(prepayment.NewRepository(pool), logger)
	reconRepo := reconciliation.NewRepository(pool)
	settlementCache := reconciliation.NewCache(reconRepo, logger).WithMetrics(metrics)
	if redisClient != nil {
		resolver.WithCache(accounts.NewControlCache(redisClient, cfg.Ledger.ControlCacheTTL))
		settlementCache.WithLocker(cache.NewLocker(redisClient))
	}
	reconService := reconciliation.NewService(reconRepo, settlementCache, prepayments, logger).WithAudit(auditLogger)

	return &Services{
		Resolver:       resolver,
		Journals:       journalService,
		Journalizer:    journalizer,
		Prepayments:    prepayments,
		Reconciliation: reconService,
		Cache:          settlementCache,
	}
}
