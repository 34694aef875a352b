package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/workflow-svc/internal/auth"
	"github.com/animus-labs/workflow-svc/internal/catalog"
	"github.com/animus-labs/workflow-svc/internal/config"
	"github.com/animus-labs/workflow-svc/internal/dispatch"
	"github.com/animus-labs/workflow-svc/internal/launcher"
	"github.com/animus-labs/workflow-svc/internal/platform/auditlog"
	"github.com/animus-labs/workflow-svc/internal/platform/httpserver"
	"github.com/animus-labs/workflow-svc/internal/platform/logging"
	"github.com/animus-labs/workflow-svc/internal/platform/objectstore"
	"github.com/animus-labs/workflow-svc/internal/platform/postgres"
	"github.com/animus-labs/workflow-svc/internal/scheduler"
	"github.com/animus-labs/workflow-svc/internal/submission"
	"github.com/animus-labs/workflow-svc/internal/vault"
)

const service = "workflow-svc"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           service,
		Short:         "Launch workflow tasks on behalf of logged-in users",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run:           func(cmd *cobra.Command, args []string) { os.Exit(serve()) },
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		Run:   func(cmd *cobra.Command, args []string) { os.Exit(serve()) },
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the service version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

// serve runs the service and returns the process exit code: 2 for invalid
// configuration, 1 for runtime failures.
func serve() int {
	logger := logging.New(false)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid config", "error", err)
		return 2
	}
	logger = logging.New(cfg.Service.Debug)
	slog.SetDefault(logger)
	if len(cfg.FileApplied) > 0 {
		logger.Info("config file applied", "path", os.Getenv(config.FileEnv), "variables", cfg.FileApplied)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	credentials, err := vault.New()
	if err != nil {
		logger.Error("vault init failed", "error", err)
		return 1
	}
	broker, err := auth.NewBroker(ctx, cfg.Auth)
	if err != nil {
		logger.Error("identity provider init failed", "error", err)
		return 1
	}
	store, err := auth.NewSessionStore(cfg.Auth, credentials, broker)
	if err != nil {
		logger.Error("session store init failed", "error", err)
		return 2
	}

	var db *sql.DB
	if cfg.Postgres.Enabled() {
		db, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			return 1
		}
		defer func() { _ = db.Close() }()
		schema := []string{auditlog.Schema}
		if cfg.Catalog.Mode == catalog.ModePostgres {
			schema = append(schema, catalog.Schema)
		}
		if err := postgres.Migrate(ctx, db, schema...); err != nil {
			logger.Error("database migration failed", "error", err)
			return 1
		}
	}

	workflows, err := newCatalog(ctx, cfg, db)
	if err != nil {
		logger.Error("catalog init failed", "error", err)
		return 1
	}

	var target launcher.Target
	switch cfg.Launch.Mode {
	case launcher.ModeLocal:
		target = launcher.NewLocalTarget(cfg.Launch)
	default:
		target = launcher.NewRemoteTarget(cfg.Launch)
	}
	pool := launcher.NewPool(cfg.Launch.Workers, cfg.Launch.Queue)
	launch := launcher.New(logger, cfg.Launch, target, pool)

	schedClient := scheduler.NewClient(cfg.Scheduler)
	var daemon *scheduler.Process
	if cfg.Scheduler.Embedded() {
		daemon, err = scheduler.StartProcess(logger, cfg.Scheduler.Command, os.Stderr)
		if err != nil {
			logger.Error("scheduler start failed", "error", err)
			return 1
		}
		go func() {
			select {
			case <-daemon.Done():
				logger.Warn("scheduler exited", "error", daemon.Err())
				cancel()
			case <-ctx.Done():
			}
		}()
		go scheduler.Reaper{
			Logger:   logger,
			Lister:   schedClient,
			Interval: cfg.Scheduler.ReapInterval,
			Timeout:  cfg.Scheduler.HTTPTimeout,
			OnIdle:   cancel,
		}.Run(ctx)
	}
	dashboard, err := scheduler.NewDashboardProxy(logger, cfg.Scheduler.URL)
	if err != nil {
		logger.Error("proxy init failed", "error", err)
		return 2
	}

	var denyAudit auth.AuditFunc
	var launchAudit dispatch.AuditFunc
	if db != nil {
		audit := auditlog.Recorder{DB: db, Service: service}
		denyAudit = audit.Deny
		launchAudit = audit.Launch
	}

	api := &dispatch.API{
		Logger:         logger,
		Launcher:       launch,
		Catalog:        workflows,
		Tokens:         broker,
		Audit:          launchAudit,
		Forward:        cfg.Forward,
		Defaults:       catalogDefaults(cfg),
		Debug:          cfg.Service.Debug,
		Version:        version,
		MaxUploadBytes: cfg.Service.MaxUploadBytes,
	}
	protected := auth.Middleware{Logger: logger, Store: store, Audit: denyAudit}
	cors := func(next http.Handler) http.Handler {
		return httpserver.CORS(cfg.Service.CORSOrigin, "OPTIONS, POST", next)
	}

	mux := http.NewServeMux()
	mux.Handle("/auth/", auth.Handler{Logger: logger, Config: cfg.Auth, Broker: broker, Store: store})
	api.Register(mux, protected.Wrap, cors)
	mux.Handle("/dashboard/", dashboard)
	mux.Handle("/api/", dashboard)
	mux.Handle("GET /version/", dispatch.VersionHandler(version, store))
	mux.Handle("GET /post/", dispatch.PostPage())
	mux.Handle("GET /healthz/", httpserver.Healthz())
	mux.Handle("GET /readyz/", httpserver.ReadyzWithChecks(service, readinessChecks(cfg, db, schedClient)...))

	logger.Info("starting", "addr", cfg.Service.Addr, "version", version, "launch_mode", string(cfg.Launch.Mode), "catalog_mode", string(cfg.Catalog.Mode))
	srvCfg := httpserver.Config{
		Service:         service,
		Addr:            cfg.Service.Addr,
		ShutdownTimeout: cfg.Service.ShutdownTimeout,
	}
	code := 0
	if err := httpserver.Run(ctx, logger, srvCfg, httpserver.Wrap(logger, service, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		code = 1
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer drainCancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		logger.Warn("launch queue not drained", "error", err)
	}
	if daemon != nil {
		_ = daemon.Stop(drainCtx, 5*time.Second)
	}
	return code
}

func newCatalog(ctx context.Context, cfg config.Config, db *sql.DB) (catalog.Catalog, error) {
	if !cfg.Catalog.Enabled() {
		return nil, nil
	}
	var dist catalog.Distributor
	if cfg.Catalog.Distribution == catalog.DistributionMinio {
		archives, err := objectstore.NewStore(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		dist = catalog.MinioDistributor{Store: archives}
	}

	switch cfg.Catalog.Mode {
	case catalog.ModeNexus:
		return catalog.NewNexusCatalog(cfg.Catalog, dist), nil
	case catalog.ModePostgres:
		if db == nil {
			return nil, errors.New("postgres catalog requires a database")
		}
		return catalog.NewPostgresCatalog(db, cfg.Catalog, dist), nil
	default:
		return nil, nil
	}
}

func catalogDefaults(cfg config.Config) submission.Defaults {
	return submission.Defaults{Base: cfg.Catalog.DefaultBase, Org: cfg.Catalog.DefaultOrg}
}

func readinessChecks(cfg config.Config, db *sql.DB, sched *scheduler.Client) []httpserver.ReadinessCheck {
	var checks []httpserver.ReadinessCheck
	if db != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "postgres", Check: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.Postgres.PingTimeout)
			defer cancel()
			return db.PingContext(ctx)
		}})
	}
	if cfg.Launch.Mode == launcher.ModeLocal {
		checks = append(checks, httpserver.ReadinessCheck{Name: "scheduler", Check: sched.Ping})
	}
	return checks
}
