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
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stvsoc/internal-site/cmd/internalsite/cli"
	"github.com/stvsoc/internal-site/internal/app"
	"github.com/stvsoc/internal-site/internal/audit"
	audithttp "github.com/stvsoc/internal-site/internal/audit/http"
	"github.com/stvsoc/internal-site/internal/auth"
	"github.com/stvsoc/internal-site/internal/observability"
	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/platform/cache"
	"github.com/stvsoc/internal-site/internal/platform/db"
	"github.com/stvsoc/internal-site/internal/rbac"
	"github.com/stvsoc/internal-site/internal/roles"
	"github.com/stvsoc/internal-site/internal/shared"
	"github.com/stvsoc/internal-site/internal/users"
	"github.com/stvsoc/internal-site/internal/view"
	"github.com/stvsoc/internal-site/jobs"
)

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

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "seed":
		err = seed(ctx, cfg, logger, args)
	case "jobs":
		err = jobsCommand(ctx, cfg, args)
	default:
		err = fmt.Errorf("unknown command %q (want serve, seed or jobs)", command)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

type services struct {
	pool    *pgxpool.Pool
	catalog *permissions.Catalog
	audit   *shared.AuditLogger
	auth    *auth.Service
	rbac    *rbac.Service
	users   *users.Service
	roles   *roles.Service
	dir     *roles.Repository
}

func buildServices(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*services, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	catalog, err := permissions.NewCatalog()
	if err != nil {
		pool.Close()
		return nil, err
	}
	auditLog := shared.NewAuditLogger(pool)
	rbacService := rbac.NewService(rbac.NewRepository(pool), catalog, auditLog, logger)
	directory := roles.NewRepository(pool)
	return &services{
		pool:    pool,
		catalog: catalog,
		audit:   auditLog,
		auth:    auth.NewService(auth.NewRepository(pool)),
		rbac:    rbacService,
		users:   users.NewService(users.NewRepository(pool), rbacService, auditLog, logger),
		roles:   roles.NewService(rbacService, directory),
		dir:     directory,
	}, nil
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer svc.pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionName, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine(svc.catalog)
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	var metrics *observability.Metrics
	var observer rbac.DecisionObserver
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
		observer = metrics
	}

	resolver := auth.NewResolver(svc.auth, auth.LegacyConfig{
		CookieName: cfg.LegacyCookieName,
		SigningKey: []byte(cfg.LegacySigningKey),
		CacheTTL:   cfg.LegacyCacheTTL,
		CacheSize:  cfg.LegacyCacheSize,
	}, logger)
	guard := rbac.NewGuard(resolver, svc.rbac, observer, logger)
	rbacMiddleware := rbac.Middleware{
		Guard:     guard,
		Logger:    logger,
		Forbidden: app.ForbiddenPage(templates, csrfManager, logger),
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Templates:          templates,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, svc.auth, templates, sessionManager, csrfManager),
		UsersHandler:       users.NewHandler(logger, svc.users, templates, csrfManager, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, svc.roles, templates, csrfManager, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, svc.rbac, templates, csrfManager, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(svc.pool)), templates, csrfManager, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Bool("legacy_sso", cfg.LegacySigningKey != ""))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func seed(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	email := fs.String("email", os.Getenv("SEED_ADMIN_EMAIL"), "administrator email")
	name := fs.String("name", "Administrator", "administrator display name")
	password := fs.String("password", os.Getenv("SEED_ADMIN_PASSWORD"), "administrator password, used only when the account is new")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("seed: -email is required")
	}

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer svc.pool.Close()

	seeder := &cli.SeedCLI{Roles: svc.rbac, Accounts: svc.users, Directory: svc.dir}
	res, err := seeder.Run(ctx, cli.SeedInput{Email: *email, Name: *name, Password: *password})
	if err != nil {
		return err
	}
	logger.Info("seed complete",
		slog.Int("permissions", res.Permissions),
		slog.Int64("role_id", res.RoleID),
		slog.Int64("user_id", res.UserID),
		slog.Bool("created_user", res.CreatedUser))
	return nil
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("jobs: want 'trigger <task>' or 'stats'")
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("jobs trigger: task name required")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
	return nil
}
