package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	billingmod "github.com/promptdir/entitlement/modules/billing"
	listingmod "github.com/promptdir/entitlement/modules/listing"
	"github.com/promptdir/entitlement/pkg/billing"
	"github.com/promptdir/entitlement/pkg/config"
	"github.com/promptdir/entitlement/pkg/entitlement"
	"github.com/promptdir/entitlement/pkg/httpserver"
	"github.com/promptdir/entitlement/pkg/listing"
	"github.com/promptdir/entitlement/pkg/logger"
	"github.com/promptdir/entitlement/pkg/notify"
	"github.com/promptdir/entitlement/pkg/pg"
	"github.com/promptdir/entitlement/pkg/plan"
	"github.com/promptdir/entitlement/pkg/reconcile"
)

type appConfig struct {
	// PlansFile points at a YAML plan catalog; empty means the built-in
	// catalog (no paid price refs).
	PlansFile string `env:"PLANS_FILE"`
	// AccountsDirectoryURL is the accounts service used to resolve email
	// addresses for notifications. Empty disables real email delivery.
	AccountsDirectoryURL string `env:"ACCOUNTS_DIRECTORY_URL"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Config loading is fail-fast: a missing required variable stops the
	// process before any component starts.
	var (
		appCfg       appConfig
		logCfg       logger.Config
		pgCfg        pg.Config
		httpCfg      httpserver.Config
		paddleCfg    billing.PaddleConfig
		dedupCfg     billing.DedupConfig
		checkoutCfg  billing.CheckoutConfig
		processorCfg billing.ProcessorConfig
		entCfg       entitlement.Config
		notifyCfg    notify.Config
		reconCfg     reconcile.Config
		moduleCfg    billingmod.Config
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&logCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&paddleCfg)
	config.MustLoad(&dedupCfg)
	config.MustLoad(&checkoutCfg)
	config.MustLoad(&processorCfg)
	config.MustLoad(&entCfg)
	config.MustLoad(&notifyCfg)
	config.MustLoad(&reconCfg)
	config.MustLoad(&moduleCfg)

	log := logger.FromConfig(logCfg)
	slog.SetDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		log.Error("failed to connect to postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		log.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	var planSource plan.Source = plan.DefaultPlans()
	if appCfg.PlansFile != "" {
		planSource = plan.YAMLSource(appCfg.PlansFile)
	}
	catalog, err := plan.NewCatalog(ctx, planSource)
	if err != nil {
		log.Error("failed to load plan catalog", slog.Any("error", err))
		os.Exit(1)
	}

	provider, err := billing.NewPaddleProvider(paddleCfg)
	if err != nil {
		log.Error("failed to initialize paddle provider", slog.Any("error", err))
		os.Exit(1)
	}

	var dedup billing.Deduper = billing.NewMemoryDeduper()
	if dedupCfg.RedisURL != "" {
		redisDedup, err := billing.NewRedisDeduper(dedupCfg)
		if err != nil {
			log.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisDedup.Close()
		dedup = redisDedup
	} else {
		log.Warn("REDIS_URL not set, webhook dedup is process-local")
	}

	entStore := entitlement.NewPostgresStore(pool)
	listingStore := listing.NewPostgresStore(pool)
	auditStore := entitlement.NewPostgresAuditStore(pool)
	notifLog := notify.NewPostgresLogStore(pool)

	var notifier notify.Notifier = notify.NewDevNotifier(log)
	if notifyCfg.Configured() && appCfg.AccountsDirectoryURL != "" {
		directory := notify.NewHTTPDirectory(appCfg.AccountsDirectoryURL)
		notifier, err = notify.NewPostmarkNotifier(notifyCfg, directory)
		if err != nil {
			log.Error("failed to initialize postmark notifier", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		log.Warn("postmark not configured, notifications are log-only")
	}

	entService := entitlement.NewService(entStore, catalog, auditStore, entCfg,
		entitlement.WithLogger(log))
	listingService := listing.NewService(listingStore, entService, log)
	checkoutService := billing.NewCheckoutService(entStore, provider, catalog, checkoutCfg, log)
	processor := billing.NewProcessor(entStore, listingStore, provider, catalog, dedup, processorCfg, log)
	scanner := reconcile.NewScanner(entStore, listingStore, notifLog, notifier, reconCfg, log)
	runner := reconcile.NewRunner(scanner, log)

	billingModule := billingmod.New(
		moduleCfg,
		processor,
		checkoutService,
		entService,
		scanner,
		billingmod.NewStaticAuthorizer(moduleCfg.AdminActors),
		log,
	)
	listingModule := listingmod.New(listingService, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", healthHandler(pg.Healthcheck(pool)))
	r.Mount("/", billingModule.Router())
	r.Mount("/listings", listingModule.Router())

	// Background reconciliation keeps running alongside the HTTP server; the
	// HTTP trigger reuses the same scanner for out-of-band runs.
	go func() {
		if err := runner.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("reconcile runner stopped", slog.Any("error", err))
		}
	}()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	srv := httpserver.New(httpCfg, log)
	if err := srv.Run(ctx, r); err != nil {
		log.Error("http server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func healthHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
