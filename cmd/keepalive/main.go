package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/keepalive/internal/config"
	"github.com/hamed0406/keepalive/internal/domain"
	"github.com/hamed0406/keepalive/internal/health"
	"github.com/hamed0406/keepalive/internal/httpapi"
	apimw "github.com/hamed0406/keepalive/internal/httpapi/middleware"
	"github.com/hamed0406/keepalive/internal/logging"
	"github.com/hamed0406/keepalive/internal/monitor"
	"github.com/hamed0406/keepalive/internal/notify"
	"github.com/hamed0406/keepalive/internal/probe"
	"github.com/hamed0406/keepalive/internal/provider"
	"github.com/hamed0406/keepalive/internal/redeploy"
	"github.com/hamed0406/keepalive/internal/registry"
	"github.com/hamed0406/keepalive/internal/scheduler"
	"github.com/hamed0406/keepalive/internal/store"
	"github.com/hamed0406/keepalive/internal/store/memory"
	"github.com/hamed0406/keepalive/internal/store/postgres"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		cfgStore store.ConfigStore
		attempts store.AttemptStore
	)
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("postgres_connect_failed", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("postgres_schema_failed", zap.Error(err))
		}
		cfgStore, attempts = pg, pg
		logger.Info("store_postgres")
	} else {
		mem := memory.New()
		cfgStore, attempts = mem, mem
		logger.Info("store_memory")
	}

	reg := registry.New(logger, cfgStore)
	if err := reg.Load(ctx); err != nil {
		logger.Fatal("registry_load_failed", zap.Error(err))
	}
	seedTargets(ctx, logger, reg, cfg.TargetsFile)

	sinks := notify.Multi{&notify.LogSink{Logger: logger}}
	if s := notify.NewSlack(cfg.SlackWebhook); s != nil {
		sinks = append(sinks, s)
	}
	dispatcher := notify.NewDispatcher(logger, sinks)
	defer dispatcher.Close()

	providers := provider.Registry{
		domain.ProviderRender: provider.NewRender(logger),
		domain.ProviderKoyeb:  provider.NewKoyeb(logger, cfg.KoyebAPIToken),
	}

	coord := redeploy.New(logger, providers, attempts, dispatcher)
	if err := coord.Rehydrate(ctx, reg.List()); err != nil {
		logger.Warn("cooldown_rehydrate_failed", zap.Error(err))
	}
	tracker := health.NewTracker(logger, dispatcher, coord)
	coord.SetObserver(tracker)
	for _, t := range reg.List() {
		tracker.Track(t.ID)
	}

	sched := scheduler.New(logger, reg, probe.NewHTTPChecker(), tracker, cfg.ProbeConcurrency,
		scheduler.WithTickResolution(cfg.TickResolution),
		scheduler.WithDrainTimeout(cfg.ShutdownTimeout),
	)

	svc := monitor.New(logger, reg, tracker, coord, sched, attempts)
	api := httpapi.NewServer(logger, svc)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Warn("api_shutdown_error", zap.Error(err))
		}
		// let in-flight redeploy attempts record their outcome
		return coord.Drain(shCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("exit_with_error", zap.Error(err))
	}
	logger.Info("stopped")
}

// seedTargets loads the optional YAML file on boot. Entries already in the
// store win; the file only fills gaps, so operator edits via the API stick.
func seedTargets(ctx context.Context, logger *zap.Logger, reg *registry.Registry, path string) {
	if path == "" {
		return
	}
	seeds, err := config.LoadTargets(path)
	if err != nil {
		logger.Fatal("targets_file_failed", zap.Error(err))
	}
	for _, t := range seeds {
		if _, err := reg.Add(ctx, t); err != nil {
			if errors.Is(err, domain.ErrDuplicateTarget) {
				continue
			}
			logger.Fatal("targets_file_invalid_entry",
				zap.String("target_id", string(t.ID)),
				zap.Error(err),
			)
		}
		logger.Info("target_seeded", zap.String("target_id", string(t.ID)))
	}
}
