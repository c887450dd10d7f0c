package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/apparel-checkout/internal/cache"
	"github.com/xenking/apparel-checkout/internal/catalog"
	"github.com/xenking/apparel-checkout/internal/dedupe"
	"github.com/xenking/apparel-checkout/internal/domain/auth"
	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/reconcile"
	"github.com/xenking/apparel-checkout/internal/events"
	"github.com/xenking/apparel-checkout/internal/gateway/mercadopago"
	"github.com/xenking/apparel-checkout/internal/handler"
	"github.com/xenking/apparel-checkout/internal/handoff"
	"github.com/xenking/apparel-checkout/internal/watch"
	"github.com/xenking/apparel-checkout/pkg/health"
	"github.com/xenking/apparel-checkout/pkg/httpmiddleware"
)

// service is the wired application without its listener.
type service struct {
	handler http.Handler
	health  *health.Health
	// background runs until ctx is done.
	background []func(ctx context.Context) error
	closers    []func()
}

func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newService creates every dependency and the HTTP handler chain.
func newService(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) (_ *service, rerr error) {
	s := &service{health: health.New()}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()
	s.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	store, err := openStorage(ctx, cfg, s.health)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store.close)

	// Catalog reads go through the in-process cache.
	c := cache.New()
	cat := catalog.NewCached(c, store.products, store.settings, catalog.TTLs{
		Product:  cfg.Cache.ProductTTL,
		Settings: cfg.Cache.SettingsTTL,
	})
	s.background = append(s.background, func(ctx context.Context) error {
		return c.Run(ctx, cfg.Cache.SweepInterval)
	})

	gateway, err := mercadopago.NewClient(mercadopago.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		AccessToken: cfg.Gateway.AccessToken,
		Timeout:     cfg.Gateway.Timeout,
		Retries:     cfg.Gateway.FetchRetries,
		Sandbox:     cfg.Gateway.Sandbox,
	}, mercadopago.WithTelemetry(m.TracerProvider(), m.MeterProvider()))
	if err != nil {
		return nil, errors.Wrap(err, "create gateway client")
	}

	tolerance, err := cfg.PriceTolerance()
	if err != nil {
		return nil, err
	}
	orderService := order.NewService(order.ServiceConfig{
		SiteURL:        cfg.SiteURL,
		PriceTolerance: tolerance,
	}, cat, store.orders, gateway)

	claimer, closeClaimer := newClaimer(cfg.Redis, s.health)
	s.closers = append(s.closers, closeClaimer)
	publisher, closePublisher := newPublisher(lg, cfg.Kafka)
	s.closers = append(s.closers, closePublisher)

	reconciler, err := reconcile.NewService(gateway, store.orders, reconcile.Options{
		Claimer:        claimer,
		Publisher:      publisher,
		PublishTimeout: cfg.Kafka.PublishTimeout,
		Invalidator:    cat,
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create reconciler")
	}

	hub := watch.NewHub(store.orders)
	if run := store.watch(hub.Notify); run != nil {
		s.background = append(s.background, run)
	}

	if cfg.Gateway.WebhookSecret == "" {
		lg.Warn("Webhook secret is not set, payment callback signatures are not verified")
	}

	h := handler.NewHandler(handler.HandlerConfig{
		WebhookSecret: cfg.Gateway.WebhookSecret,
	}, handler.Dependencies{
		Orders:     orderService,
		Reconciler: reconciler,
		Products:   cat,
		Watcher:    watch.NewWatcher(store.orders, hub, cfg.Watch.PollInterval),
		Handoff: handoff.NewBuilder(cat, handoff.Config{
			Number:    cfg.Handoff.WhatsAppNumber,
			Countdown: cfg.Handoff.Countdown,
		}),
		Auth:     auth.NewAuthenticator(store.keys, []byte(cfg.APIKeyPepper)),
		Settings: cat,
	})

	mux := http.NewServeMux()
	s.health.Register(mux)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		// The gateway retries throttled webhooks for hours; never throttle it.
		Skip: func(r *http.Request) bool {
			return strings.HasPrefix(r.URL.Path, "/api/webhooks/")
		},
	})
	s.background = append(s.background, limiter.Run)

	s.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", "Last-Event-ID"},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		limiter.Middleware(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("shop-api", routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
	return s, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)
	s, err := newService(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Event streams clear their own write deadline.
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        s.handler,
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, run := range s.background {
		g.Go(func() error { return run(gCtx) })
	}
	g.Go(func() error { return s.health.Run(gCtx, 10*time.Second) })
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gCtx.Done()
		s.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
			// Open event streams do not end on their own.
			_ = server.Close()
		}
		return nil
	})
	g.Go(func() error {
		s.health.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// newClaimer returns the webhook dedupe store: Redis when configured so that
// replicas share claims, process memory otherwise.
func newClaimer(cfg RedisConfig, h *health.Health) (reconcile.Claimer, func()) {
	if cfg.Addr == "" {
		return dedupe.NewMemory(cfg.DedupeTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	d := dedupe.NewRedis(client, "", cfg.DedupeTTL)
	h.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(d))
	return d, func() { _ = client.Close() }
}

// newPublisher returns the order event publisher: Kafka when brokers are
// configured, a log line otherwise.
func newPublisher(lg *zap.Logger, cfg KafkaConfig) (reconcile.Publisher, func()) {
	if len(cfg.Brokers) == 0 {
		return events.Log{}, func() {}
	}
	k := events.NewKafka(cfg.Brokers, cfg.Topic)
	return k, func() {
		if err := k.Close(); err != nil {
			lg.Warn("Close kafka writer", zap.Error(err))
		}
	}
}
