package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/campus-canteen/internal/cache"
	"github.com/xenking/campus-canteen/internal/docstore"
	"github.com/xenking/campus-canteen/internal/docstore/memstore"
	"github.com/xenking/campus-canteen/internal/domain/auth"
	"github.com/xenking/campus-canteen/internal/domain/cart"
	"github.com/xenking/campus-canteen/internal/domain/catalog"
	"github.com/xenking/campus-canteen/internal/domain/order"
	"github.com/xenking/campus-canteen/internal/handler"
	"github.com/xenking/campus-canteen/internal/notify"
	"github.com/xenking/campus-canteen/internal/storage/mongo"
	"github.com/xenking/campus-canteen/internal/storage/postgres"
	"github.com/xenking/campus-canteen/internal/watch"
	"github.com/xenking/campus-canteen/pkg/health"
	"github.com/xenking/campus-canteen/pkg/httpmiddleware"
)

// backend is an opened document store.
type backend struct {
	docs docstore.Store
	// stats is set when the store aggregates order stats itself.
	stats order.StatsReporter
	// follow feeds live subscriptions from the store's change feed.
	follow func(ctx context.Context) error
	close  func()
}

// openStore connects the configured document store and registers its
// readiness checks.
func openStore(ctx context.Context, lg *zap.Logger, cfg StoreConfig, hs *health.Health) (*backend, error) {
	breakerCfg := docstore.BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}

	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(pool, lg); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		store := postgres.NewStore(pool, lg.Named("postgres"))
		breaker := docstore.NewBreaker("postgres", store, breakerCfg, lg)
		hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
		hs.AddReadinessCheck("postgres-breaker", time.Second, health.BreakerCheck(breaker.State))
		return &backend{
			docs:  breaker,
			stats: store,
			follow: func(ctx context.Context) error {
				return store.Listen(ctx, postgres.PoolAcquirer(pool))
			},
			close: pool.Close,
		}, nil

	case DriverMongo:
		db, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		disconnect := func() { _ = db.Client().Disconnect(context.Background()) }
		store := mongo.NewStore(db, lg.Named("mongo"))
		if err := store.CreateIndexes(ctx); err != nil {
			disconnect()
			return nil, errors.Wrap(err, "create indexes")
		}
		breaker := docstore.NewBreaker("mongo", store, breakerCfg, lg)
		hs.AddReadinessCheck("mongo", 5*time.Second, health.PingCheck(store))
		hs.AddReadinessCheck("mongo-breaker", time.Second, health.BreakerCheck(breaker.State))
		return &backend{
			docs:   breaker,
			follow: store.Watch,
			close:  disconnect,
		}, nil

	default:
		lg.Warn("Using in-memory store, data is lost on restart")
		return &backend{
			docs: memstore.New(),
			follow: func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			},
			close: func() {},
		}, nil
	}
}

// openCartStore returns the cart store, cached in Redis when configured.
func openCartStore(cfg RedisConfig, docs docstore.Store, lg *zap.Logger, hs *health.Health) (cart.Store, func()) {
	var store cart.Store = cart.NewDocStore(docs)
	if cfg.Addr == "" {
		return store, func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	rc := cache.NewRedisCache(client, cfg.TTL)
	hs.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(rc))
	return cart.NewCachedStore(store, rc, lg.Named("cart.cache")), func() { _ = client.Close() }
}

// openNotifier returns the notification sinks: the log, and the broker when
// configured.
func openNotifier(cfg AMQPConfig, lg *zap.Logger, hs *health.Health) (order.Notifier, func(), error) {
	sinks := notify.Multi{notify.NewLog(lg.Named("notify"))}
	if cfg.URL == "" {
		return sinks, func() {}, nil
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "open amqp channel")
	}
	sink, err := notify.NewAMQP(ch, lg.Named("notify.amqp"))
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	hs.AddReadinessCheck("amqp", time.Second, health.ConnectionCheck(conn.IsClosed))
	return append(sinks, sink), func() { _ = conn.Close() }, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store.Driver),
	)

	taxRate, err := cfg.TaxRate()
	if err != nil {
		return err
	}

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(time.Second))

	store, err := openStore(ctx, lg, cfg.Store, healthSvc)
	if err != nil {
		return err
	}
	defer store.close()

	cartStore, closeCache := openCartStore(cfg.Redis, store.docs, lg, healthSvc)
	defer closeCache()

	notifier, closeAMQP, err := openNotifier(cfg.AMQP, lg, healthSvc)
	if err != nil {
		return err
	}
	defer closeAMQP()

	// Domain services.
	orderOpts := []order.Option{
		order.WithLogger(lg.Named("order")),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}
	if store.stats != nil {
		orderOpts = append(orderOpts, order.WithStatsReporter(store.stats))
	}
	orderService, err := order.NewService(store.docs, notifier, order.Config{
		TaxRate:  taxRate,
		Currency: cfg.Order.Currency,
	}, orderOpts...)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	catalogService := catalog.NewService(store.docs, lg.Named("catalog"))
	carts := cart.NewRegistry(cartStore, cfg.Cart.IdleTTL, lg.Named("cart"))
	authn := auth.NewAuthenticator(auth.NewAPIKeyStore(store.docs), []byte(cfg.APIKeyPepper))

	h := handler.New(
		handler.Config{StreamKeepAlive: cfg.Stream.KeepAlive},
		catalogService,
		orderService,
		carts,
		watch.New(store.docs, lg.Named("watch")),
		authn,
		lg.Named("http"),
	)
	limiter := httpmiddleware.NewLimiter(httpmiddleware.LimiterConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		Key:    handler.PrincipalKey,
	})
	router := h.Router(handler.RouterConfig{
		Middlewares: []httpmiddleware.Middleware{
			httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
			httpmiddleware.Labeler(httpmiddleware.ChiRoute),
		},
		APIMiddlewares: []httpmiddleware.Middleware{
			limiter.Middleware(),
		},
		Live:  healthSvc.LiveEndpoint,
		Ready: healthSvc.ReadyEndpoint,
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("canteen-api", m),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.follow(gctx)
	})
	g.Go(func() error {
		return carts.Run(gctx, cfg.Cart.SweepInterval)
	})
	g.Go(func() error {
		return limiter.Run(gctx)
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
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}
