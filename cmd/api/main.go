package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pay/internal/common"
	"github.com/noah-isme/toko-pay/internal/config"
	"github.com/noah-isme/toko-pay/internal/health"
	"github.com/noah-isme/toko-pay/internal/ledger"
	"github.com/noah-isme/toko-pay/internal/lock"
	"github.com/noah-isme/toko-pay/internal/notify"
	"github.com/noah-isme/toko-pay/internal/obs"
	"github.com/noah-isme/toko-pay/internal/order"
	"github.com/noah-isme/toko-pay/internal/payment"
	"github.com/noah-isme/toko-pay/internal/ratelimit"
	"github.com/noah-isme/toko-pay/internal/resilience"
	"github.com/noah-isme/toko-pay/internal/security"
)

const metricsNamespace = "toko_pay"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	decimal.MarshalJSONWithoutQuotes = true

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	shutdownTracer, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		ServiceName:   "toko-pay-api",
		Endpoint:      cfg.TracingEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: 1.0,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		shutdownTracer = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	probes := map[string]health.Probe{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}

	recorder := &ledger.Recorder{}
	var paymentLedger payment.Recorder
	if cfg.DatabaseURL != "" {
		pool := mustInitDatabase(ctx, cfg, logger)
		defer pool.Close()
		recorder.DB = pool
		paymentLedger = recorder
		probes["postgres"] = pool.Ping
	} else {
		logger.Warn().Msg("DATABASE_URL not set, payment ledger disabled")
	}

	redisConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	taskClient := asynq.NewClient(redisConn)
	defer func() { _ = taskClient.Close() }()

	locker := lock.Locker{R: redisClient, Prefix: "lock:"}
	orders := &order.Store{R: redisClient, Locker: locker}

	processor := &payment.Processor{
		COD:           &payment.COD{},
		Orders:        orders,
		Notifier:      notify.Queue{Client: taskClient, Queue: "emails", MaxRetry: 8},
		Ledger:        paymentLedger,
		Logger:        obs.Component(logger, "payment"),
		PublicBaseURL: cfg.PublicBaseURL,
	}
	gateways := map[string]string{"cod": "configured", "razorpay": "disabled", "payu": "disabled"}
	if cfg.Razorpay.Configured() {
		processor.Razorpay = payment.NewRazorpay(payment.RazorpayConfig{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			BaseURL:       cfg.Razorpay.BaseURL,
		}, gatewayClient(cfg, "razorpay", logger))
		gateways["razorpay"] = "configured"
	}
	if cfg.PayU.Configured() {
		processor.PayU = payment.NewPayU(payment.PayUConfig{
			MerchantKey: cfg.PayU.MerchantKey,
			Salt:        cfg.PayU.Salt,
			AuthHeader:  cfg.PayU.AuthHeader,
			BaseURL:     cfg.PayU.BaseURL,
		}, gatewayClient(cfg, "payu", logger))
		gateways["payu"] = "configured"
	}
	logger.Info().Interface("gateways", gateways).Msg("payment methods")

	paymentHandler := &payment.Handler{Processor: processor, AdminToken: cfg.AdminAPIToken}
	webhookHandler := payment.Webhook{
		Processor: processor,
		Replay:    redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
		Logger:    obs.Component(logger, "webhook"),
	}
	orderHandler := &order.Handler{Store: orders}
	ledgerHandler := &ledger.Handler{Recorder: recorder}
	healthHandler := health.Handler{Probes: probes, Info: gateways}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	createLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("payment_create"),
			Window: time.Minute,
			Max:    cfg.CreateRateLimit,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers{EnableHSTS: cfg.IsProduction()}.Middleware)
	r.Use(security.BodyLimit{Max: common.MaxJSONBody}.Middleware)
	r.Use(obs.TracingMiddleware)
	r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(metricsNamespace, nil)}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(corsOptions(cfg)))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/payment", func(p chi.Router) {
		p.With(createLimit.Middleware, idem.Middleware).Post("/create", paymentHandler.Create)
		p.Get("/status", paymentHandler.Status)
		p.Post("/verify", paymentHandler.Verify)
		p.Group(func(admin chi.Router) {
			admin.Use(paymentHandler.RequireAdmin)
			admin.With(idem.Middleware).Post("/capture", paymentHandler.Capture)
			admin.With(idem.Middleware).Post("/refund", paymentHandler.Refund)
			admin.Get("/ledger", ledgerHandler.List)
		})
	})
	r.With(paymentHandler.RequireAdmin).Get("/orders/{id}/payment", orderHandler.Get)

	r.Post("/webhooks/razorpay", webhookHandler.Razorpay)
	r.Post("/webhooks/payu", webhookHandler.PayU)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func gatewayClient(cfg *config.Config, target string, logger zerolog.Logger) resilience.HTTPClient {
	client := resilience.NewGatewayClient(resilience.GatewayClientConfig{
		Target:      target,
		Timeout:     cfg.GatewayTimeout,
		MaxAttempts: cfg.GatewayMaxAttempts,
		BaseBackoff: 200 * time.Millisecond,
	})
	client.Breaker = client.Breaker.WithLogger(obs.Component(logger, "breaker"))
	return client
}

// corsOptions allows any origin when none are configured; credentials are then never
// allowed.
func corsOptions(cfg *config.Config) cors.Options {
	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           300,
	}
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	if err := ledger.Migrate(cfg.DatabaseURL, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate ledger")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "toko-pay-api"

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(connectCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}
