package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/api"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/config"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/escrow"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/exchange"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/host"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/ledger"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/logger"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/metrics"
	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and notification feed",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// app is a fully wired escrow service.
type app struct {
	engine    *escrow.Engine
	router    http.Handler
	hub       *api.WSHub
	projector *store.Projector
	cleanup   []func()
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// buildApp wires host, adapters, engine, projection and HTTP surface from cfg.
func buildApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{}

	// --- Clock and host ---
	var (
		clock  host.Clock = host.SystemClock{}
		manual *host.ManualClock
	)
	if cfg.Clock.Mode == "manual" {
		start := cfg.Clock.Start
		if start.IsZero() {
			start = time.Now()
		}
		manual = host.NewManualClock(start)
		clock = manual
	}
	h := host.New(clock, log.WithField("component", "host"))

	// --- Ledger and venue ---
	l := ledger.NewMemoryLedger()
	venue := exchange.NewMemoryVenue(cfg.Exchange.Address, cfg.Exchange.WETH, l, clock.Now)
	h.Register(l, venue)

	for _, g := range cfg.Ledger.Genesis {
		if err := l.Mint(g.Token, g.Owner, g.Amount); err != nil {
			return nil, fmt.Errorf("genesis %s/%s: %w", g.Token, g.Owner, err)
		}
	}
	for _, p := range cfg.Exchange.Pairs {
		if err := venue.CreatePair(ctx, p.TokenA, p.TokenB, p.Rate); err != nil {
			return nil, fmt.Errorf("pair %s/%s: %w", p.TokenA, p.TokenB, err)
		}
	}

	engine := escrow.NewEngine(h, l, venue,
		escrow.WithAddress(cfg.Engine.Address),
		escrow.WithLogger(log.WithField("component", "engine")),
		escrow.WithLiquidationSlippage(cfg.Engine.LiquidationSlippageBps),
		escrow.WithLiquidationWindow(cfg.Engine.LiquidationWindow),
		escrow.WithObserver(metrics.Recorder{}),
	)
	a.engine = engine

	// --- Projection store ---
	var (
		st          store.Store
		projectOpts []store.ProjectorOption
	)
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("database connection: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)
		if err := store.Migrate(ctx, pool); err != nil {
			a.close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		st = store.NewPostgresStore(pool)
		projectOpts = append(projectOpts, store.WithQueue(cfg.Database.ProjectionQueue))
		log.WithField("projection_queue", cfg.Database.ProjectionQueue).Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				a.close()
				return nil, fmt.Errorf("invalid redis url: %w", err)
			}
			rdb := redis.NewClient(opt)
			a.cleanup = append(a.cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			log.Info("Redis cache enabled")
		}
	} else {
		log.Warn("database.url not set, using in-memory projection (history will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Notification sinks ---
	a.hub = api.NewWSHub(log.WithField("component", "ws"))
	gauges := metrics.NewSink(engine)
	a.projector = store.NewProjector(st, engine, log.WithField("component", "store"), projectOpts...)
	h.Subscribe(a.projector, a.hub, gauges)
	gauges.Refresh(ctx)

	// --- HTTP surface ---
	opts := []api.Option{api.WithLedger(l, cfg.Dev.Faucet)}
	if manual != nil {
		opts = append(opts, api.WithManualClock(manual))
	}
	handler := api.NewHandler(engine, st, log.WithField("component", "api"), opts...)
	a.router = api.NewRouter(handler, a.hub)
	return a, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	lg := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	defer lg.Close()
	log := lg.Logrus()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("startup failed")
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hub.Run(gctx) })
	g.Go(func() error { return a.projector.Run(gctx) })
	g.Go(func() error {
		log.WithFields(logrus.Fields{"port": cfg.Server.Port, "clock": cfg.Clock.Mode}).Info("escrow server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down escrow server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server error")
		return err
	}
	log.Info("escrow server stopped")
	return nil
}
