package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/commonwealth-builders/treasury/internal/audit"
	audithttp "github.com/commonwealth-builders/treasury/internal/audit/http"
	"github.com/commonwealth-builders/treasury/internal/auth"
	"github.com/commonwealth-builders/treasury/internal/expenses"
	"github.com/commonwealth-builders/treasury/internal/observability"
	"github.com/commonwealth-builders/treasury/internal/payments"
	"github.com/commonwealth-builders/treasury/internal/platform/cache"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/platform/storage"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/reports"
	"github.com/commonwealth-builders/treasury/internal/roles"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
	"github.com/commonwealth-builders/treasury/jobs"
)

// Infra holds the external connections the services are built on.
type Infra struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
	// Notices is nil when payment notifications are not queued.
	Notices payments.Notifier
	// Uploads is nil when object storage is not configured.
	Uploads storage.Presigner
}

// OpenInfra connects to PostgreSQL and Redis and, when configured, object
// storage. The returned func closes the connections.
func OpenInfra(ctx context.Context, cfg *Config, logger *slog.Logger) (Infra, func(), error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return Infra{}, nil, err
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return Infra{}, nil, err
	}
	infra := Infra{Pool: pool, Redis: client, Metrics: observability.NewMetrics()}
	if cfg.StorageEnabled() {
		s3, err := storage.NewS3(ctx, cfg.Storage())
		if err != nil {
			pool.Close()
			_ = client.Close()
			return Infra{}, nil, err
		}
		infra.Uploads = s3
	} else {
		logger.Info("object storage not configured, upload URLs disabled")
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
		pool.Close()
	}
	return infra, closeFn, nil
}

// Services is the wired application core shared by the API, worker and CLI.
type Services struct {
	Tx           db.Transactor
	AuditLog     *audit.Logger
	Audit        *audit.Service
	UserStore    users.Store
	Users        *users.Service
	Roles        *roles.Service
	Ledger       *roles.Ledger
	RBAC         *rbac.Service
	Sessions     *shared.SessionManager
	Auth         *auth.Service
	PaymentStore payments.Store
	Payments     *payments.Service
	Expenses     *expenses.Service
	Reports      *reports.Service
}

// NewServices wires every domain service against PostgreSQL and Redis.
func NewServices(cfg *Config, logger *slog.Logger, infra Infra) *Services {
	tx := db.NewTransactor(infra.Pool)
	auditStore := audit.NewRepository(infra.Pool)
	auditLog := audit.NewLogger(auditStore, logger,
		audit.WithSpool(audit.NewRedisSpool(infra.Redis, "")),
		audit.WithRegisterer(infra.Metrics.Registerer()))

	userStore := users.NewRepository(infra.Pool)
	roleStore := roles.NewRepository(infra.Pool)
	sessions := shared.NewSessionManager(infra.Redis, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())

	ledger := roles.NewLedger(roleStore, userStore, tx, auditLog, logger)
	rbacService := rbac.NewService(ledger, cache.NewJSON(infra.Redis, "rbac:roles", cfg.RoleCacheTTL), logger)
	ledger.WithInvalidator(rbacService)
	roleService := roles.NewService(roleStore, tx, auditLog, logger).WithInvalidator(rbacService)

	paymentStore := payments.NewRepository(infra.Pool)
	expenseStore := expenses.NewRepository(infra.Pool)
	reportService := reports.NewService(reports.NewRepository(infra.Pool), userStore,
		reports.NewCache(infra.Redis, cfg.ReportCacheTTL, logger), logger)
	observer := observability.Transitions{infra.Metrics, reportService}

	paymentService := payments.NewService(paymentStore, userStore, tx, auditLog, logger).WithObserver(observer)
	if infra.Notices != nil {
		paymentService.WithNotifier(infra.Notices)
	}

	return &Services{
		Tx:           tx,
		AuditLog:     auditLog,
		Audit:        audit.NewService(auditStore),
		UserStore:    userStore,
		Users:        users.NewService(userStore, tx, auditLog, sessions, logger),
		Roles:        roleService,
		Ledger:       ledger,
		RBAC:         rbacService,
		Sessions:     sessions,
		Auth:         auth.NewService(userStore, roleService, ledger, sessions, tx, auditLog, logger),
		PaymentStore: paymentStore,
		Payments:     paymentService,
		Expenses:     expenses.NewService(expenseStore, tx, auditLog, logger).WithObserver(observer),
		Reports:      reportService,
	}
}

// Handler builds the HTTP API. inspector may be nil when the queue is
// unreachable.
func (s *Services) Handler(cfg *Config, logger *slog.Logger, infra Infra, inspector *asynq.Inspector) http.Handler {
	mw := rbac.Middleware{Sessions: s.Sessions, Service: s.RBAC, Logger: logger}
	idem := shared.NewIdempotencyStore(infra.Redis, cfg.IdempotencyTTL)
	return NewRouter(RouterParams{
		Logger:          logger,
		Config:          cfg,
		RBACMiddleware:  mw,
		AuthHandler:     auth.NewHandler(logger, s.Auth, s.Sessions, mw, cfg.LoginRateLimit),
		UsersHandler:    users.NewHandler(logger, s.Users, mw),
		RolesHandler:    roles.NewHandler(logger, s.Roles, s.Ledger, mw),
		PaymentsHandler: payments.NewHandler(logger, s.Payments, infra.Uploads, mw).WithIdempotency(idem),
		ExpensesHandler: expenses.NewHandler(logger, s.Expenses, infra.Uploads, mw).WithIdempotency(idem),
		ReportsHandler:  reports.NewHandler(logger, s.Reports, mw),
		AuditHandler:    audithttp.NewHandler(logger, s.Audit),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         infra.Metrics,
		Health: map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return infra.Pool.Ping(ctx) },
			"redis":    func(ctx context.Context) error { return infra.Redis.Ping(ctx).Err() },
		},
	})
}
