package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/commonwealth-builders/treasury/cmd/treasury/cli"
	"github.com/commonwealth-builders/treasury/internal/app"
	"github.com/commonwealth-builders/treasury/internal/bootstrap"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/jobs"
)

const usage = `usage: treasury <command> [flags]

commands:
  serve                       run the HTTP API (default)
  migrate [status]            apply or list database migrations
  seed [-file F] [-dry-run]   create system roles and initial accounts
  jobs trigger <name>         enqueue a background job
  jobs stats                  print queue depths
  audit integrity             compare state transitions with the audit trail
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var code int
	switch cmd {
	case "serve":
		code = serve(ctx, stop, cfg, logger)
	case "migrate":
		code = migrate(ctx, cfg, logger, args)
	case "seed":
		code = seed(ctx, cfg, logger, args)
	case "jobs":
		code = jobsCommand(ctx, cfg, args)
	case "audit":
		code = auditCommand(ctx, cfg, logger, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		code = 2
	}
	if code != 0 {
		stop()
		os.Exit(code)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	infra, closeInfra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect infrastructure", slog.Any("error", err))
		return 1
	}
	defer closeInfra()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	infra.Notices = jobClient

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	services := app.NewServices(cfg, logger, infra)
	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      services.Handler(cfg, logger, infra, inspector),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		return 1
	}
	return 0
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	migrator := db.NewMigrator(pool)
	if len(args) > 0 && args[0] == "status" {
		applied, err := migrator.Status(ctx)
		if err != nil {
			logger.Error("migration status", slog.Any("error", err))
			return 1
		}
		for _, name := range applied {
			fmt.Println(name)
		}
		return 0
	}
	applied, err := migrator.Up(ctx)
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return 1
	}
	logger.Info("migrations applied", slog.Int("count", len(applied)), slog.Any("versions", applied))
	return 0
}

func seed(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("file", cfg.SeedFile, "seed YAML file; the built-in seed when empty")
	dryRun := fs.Bool("dry-run", false, "apply against in-memory stores only")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	opts := cli.SeedOptions{File: *file, JSONOutput: *asJSON}

	if *dryRun {
		return cli.SeedCommand(ctx, func(ctx context.Context, s bootstrap.Seed) (bootstrap.Result, error) {
			return bootstrap.DryRun(ctx, s, logger)
		}, opts)
	}

	infra, closeInfra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect infrastructure", slog.Any("error", err))
		return 1
	}
	defer closeInfra()
	services := app.NewServices(cfg, logger, infra)
	seeder := bootstrap.NewSeeder(services.Roles, services.Auth, services.UserStore, logger)
	return cli.SeedCommand(ctx, seeder.Run, opts)
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "jobs trigger: job name required")
			return 2
		}
		return jobsCLI.TriggerCommand(ctx, args[1], os.Stdout, os.Stderr)
	case "stats":
		return jobsCLI.StatsCommand(os.Stdout, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "unknown jobs command %q\n", args[0])
		return 2
	}
}

func auditCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 || args[0] != "integrity" {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet("audit integrity", flag.ContinueOnError)
	from := fs.String("from", "", "window start (RFC3339); 24h before -to when empty")
	to := fs.String("to", "", "window end (RFC3339); now when empty")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	opts := cli.IntegrityOptions{JSONOutput: *asJSON}
	var err error
	if opts.From, err = parseTime(*from); err != nil {
		fmt.Fprintf(os.Stderr, "audit integrity: -from: %v\n", err)
		return 2
	}
	if opts.To, err = parseTime(*to); err != nil {
		fmt.Fprintf(os.Stderr, "audit integrity: -to: %v\n", err)
		return 2
	}

	infra, closeInfra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect infrastructure", slog.Any("error", err))
		return 1
	}
	defer closeInfra()
	return cli.IntegrityCommand(ctx, app.NewServices(cfg, logger, infra).Audit, opts)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
