package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kiosk-core/internal/cache"
	"github.com/xenking/kiosk-core/internal/domain/cart"
	"github.com/xenking/kiosk-core/internal/domain/identity"
	"github.com/xenking/kiosk-core/internal/domain/operator"
	"github.com/xenking/kiosk-core/internal/domain/payment"
	"github.com/xenking/kiosk-core/internal/domain/session"
	"github.com/xenking/kiosk-core/internal/export"
	"github.com/xenking/kiosk-core/internal/gateway"
	"github.com/xenking/kiosk-core/internal/handler"
	"github.com/xenking/kiosk-core/internal/repository"
	"github.com/xenking/kiosk-core/pkg/health"
	"github.com/xenking/kiosk-core/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	sessionRepo := repository.NewSessionRepository(pool)
	operatorRepo := repository.NewOperatorRepository(pool)
	evidenceRepo := repository.NewEvidenceRepository(pool)

	// Sessions are memory-resident; whatever a previous process left open
	// is reported for operators to reconcile.
	if orphans, err := sessionRepo.OpenSessions(ctx); err != nil {
		lg.Warn("List open sessions", zap.Error(err))
	} else if len(orphans) > 0 {
		lg.Warn("Sessions left open by a previous run", zap.Strings("session_ids", orphans))
	}

	// Operator registry, optionally fronted by Redis.
	var (
		registry operator.Registry = operatorRepo
		rdb      *redis.Client
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		registry = cache.NewOperatorCache(rdb, operatorRepo, cache.Config{}, lg.Named("operator-cache"))
	}
	gate := operator.NewGate(registry, []byte(cfg.OperatorPepper), lg.Named("gate"))
	if err := gate.LoadFilter(ctx, operatorRepo); err != nil {
		return errors.Wrap(err, "load operator filter")
	}

	// Payments.
	gw, sim, err := newGateway(cfg.Payment, lg, m)
	if err != nil {
		return errors.Wrap(err, "create gateway")
	}
	orch := payment.NewOrchestrator(gw, payment.Policy{
		MaxRetries: cfg.Payment.MaxRetries,
		Timeout:    cfg.Payment.Timeout,
	}, lg.Named("payment"))

	// Session engine.
	metrics, err := session.NewMetrics(m.MeterProvider().Meter("kiosk/session"))
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}
	taxRate, err := cfg.Cart.taxRate()
	if err != nil {
		return err
	}
	opts := []session.Option{
		session.WithLogger(lg.Named("session")),
		session.WithMetrics(metrics),
		session.WithTracer(m.TracerProvider().Tracer("kiosk/session")),
		session.WithEvidence(evidenceRepo),
	}
	var sink *export.Sink
	if len(cfg.Export.Brokers) > 0 {
		sink, err = export.NewKafkaSink(export.Config{
			Brokers: cfg.Export.Brokers,
			Topic:   cfg.Export.Topic,
			Linger:  cfg.Export.Linger,
		}, lg.Named("export"))
		if err != nil {
			return errors.Wrap(err, "create kafka sink")
		}
		opts = append(opts, session.WithSink(sink))
	}
	mgr := session.NewManager(session.Config{
		Pricing: cart.Pricing{
			TaxRate:     taxRate,
			Places:      cfg.Cart.Places,
			MaxQuantity: cfg.Cart.MaxQuantity,
		},
		Retention:   cfg.Session.Retention,
		QueueSize:   cfg.Session.QueueSize,
		SaveTimeout: cfg.Session.SaveTimeout,
		Backlog:     cfg.Broadcast.Buffer,
	}, identity.NewResolver(cfg.Session.MinConfidence), gate, orch, sessionRepo, opts...)
	if sim != nil {
		sim.Bind(mgr.HandlePaymentResult)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Operator-code routes are rate limited; Redis shares the budget
	// between replicas.
	var limiter httpmiddleware.Limiter
	if rdb != nil {
		limiter = httpmiddleware.NewRedisLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		wl := httpmiddleware.NewWindowLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		g.Go(func() error { return wl.Run(gctx) })
		limiter = wl
	}

	// Health checks.
	healthSvc := health.New(10 * time.Second)
	healthSvc.Register(health.Probe{
		Name:    "postgres",
		Kind:    health.Readiness,
		Check:   health.Ping("postgres", pool.Ping),
		Timeout: 5 * time.Second,
	})
	if rdb != nil {
		healthSvc.Register(health.Probe{
			Name: "redis",
			Kind: health.Readiness,
			Check: health.Ping("redis", func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}),
		})
	}
	healthSvc.Register(health.Probe{
		Name:  "sessions",
		Kind:  health.Readiness,
		Check: health.Capacity(mgr.Len, cfg.Session.MaxActive),
	})
	healthSvc.Register(health.Probe{
		Name:  "goroutines",
		Kind:  health.Liveness,
		Check: health.Goroutines(4*cfg.Session.MaxActive + 1000),
	})
	healthSvc.Register(health.Probe{
		Name:  "gc",
		Kind:  health.Liveness,
		Check: health.GCPause(time.Second),
	})

	// HTTP.
	h := handler.New(handler.Config{
		CallbackSecret: []byte(cfg.Payment.CallbackSecret),
		Heartbeat:      cfg.Broadcast.Heartbeat,
		OperatorLimit:  httpmiddleware.RateLimit(limiter, nil),
	}, mgr, sessionRepo, lg.Named("http"))
	router := h.Routes()
	router.Get("/livez", healthSvc.Live)
	router.Get("/readyz", healthSvc.Readyz)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Event streams lift this per response.
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:  cfg.CORS.Origins,
				AllowHeaders:  []string{"Content-Type", "Last-Event-ID", handler.HeaderOperatorCode},
				ExposeHeaders: []string{httpmiddleware.HeaderRequestID},
				MaxAge:        86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			otelhttp.NewMiddleware("kiosk-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.LogRequests(),
		),
	}

	g.Go(func() error {
		return healthSvc.Run(gctx)
	})
	g.Go(func() error {
		return refreshFilter(gctx, lg, gate, operatorRepo, cfg.FilterRefresh)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		mgr.Close()
		if sink != nil {
			if err := sink.Close(shutdownCtx); err != nil {
				lg.Error("Flush event export", zap.Error(err))
			}
		}
		return nil
	})

	healthSvc.SetReady(true)
	return g.Wait()
}

func newGateway(cfg PaymentConfig, lg *zap.Logger, m *app.Telemetry) (payment.Gateway, *gateway.SimulatedGateway, error) {
	if cfg.GatewayURL == "" {
		lg.Warn("No payment gateway configured, using the simulator")
		sim := gateway.NewSimulatedGateway(cfg.SimulatorDelay, gateway.ApproveAll, lg.Named("simulator"))
		return sim, sim, nil
	}
	gw, err := gateway.NewHTTPGateway(gateway.HTTPConfig{
		BaseURL:     cfg.GatewayURL,
		CallbackURL: cfg.CallbackURL,
		Timeout:     10 * time.Second,
	}, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return nil, nil, err
	}
	return gw, nil, nil
}

// refreshFilter reloads the operator pre-filter so operators imported while
// the server runs become usable.
func refreshFilter(ctx context.Context, lg *zap.Logger, gate *operator.Gate, lister operator.HashLister, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := gate.LoadFilter(ctx, lister); err != nil {
				lg.Warn("Refresh operator filter", zap.Error(err))
			}
		}
	}
}
