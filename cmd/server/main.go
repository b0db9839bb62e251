package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adora-payments/internal/config"
	"adora-payments/internal/db"
	"adora-payments/internal/handler"
	"adora-payments/internal/logger"
	"adora-payments/internal/metrics"
	"adora-payments/internal/middleware"
	"adora-payments/internal/notify"
	"adora-payments/internal/order"
	"adora-payments/internal/payment"
	"adora-payments/internal/payment/azkivam"
	"adora-payments/internal/payment/snapppay"
	"adora-payments/internal/payment/torobpay"
	"adora-payments/internal/payment/zarinpal"
	"adora-payments/internal/receipt"
	"adora-payments/internal/token"
	"adora-payments/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	initDBFunc = func(cfg *config.Config) (*sql.DB, error) {
		return db.NewDatabase(cfg)
	}
	startServerFunc = func(ctx context.Context, srv *http.Server) error {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger.Init(cfg.App.Env, cfg.App.LogLevel)
	defer logger.Sync()
	log := logger.L()

	database, err := initDBFunc(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := newServer(ctx, cfg, database, reg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("payment server listening",
		zap.String("addr", srv.Addr),
		zap.Strings("gateways", app.Gateways),
	)
	return startServerFunc(ctx, srv)
}

type server struct {
	Handler  http.Handler
	Gateways []string
	closers  []func() error
}

// Close runs the shutdown steps in reverse registration order.
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.L().Warn("shutdown step failed", zap.Error(err))
		}
	}
}

// newServer wires every dependency and returns the routed handler.
func newServer(ctx context.Context, cfg *config.Config, database *sql.DB, reg *prometheus.Registry) (*server, error) {
	m := metrics.New(reg)
	app := &server{}

	tokens := token.NewCache(
		token.NewStore(database),
		token.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.Backoff),
		token.WithMetrics(m),
	)

	registry, err := buildRegistry(cfg, tokens, m)
	if err != nil {
		return nil, err
	}
	for _, name := range registry.Names() {
		app.Gateways = append(app.Gateways, string(name))
	}

	opts := []payment.Option{payment.WithMetrics(m)}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := notify.NewKafkaPublisher(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.OrderStatusTopic), m)
		opts = append(opts, payment.WithNotifier(pub))
		app.closers = append(app.closers, pub.Close)
	}

	orders := order.NewRepository(database)
	ledger := receipt.NewRepository(database)
	payments := payment.NewService(orders, ledger, registry, opts...)

	tracking, err := order.NewTrackingGenerator()
	if err != nil {
		return nil, fmt.Errorf("tracking generator: %w", err)
	}
	orderSvc := order.NewService(orders, order.NewCatalog(database), tracking, payments)
	app.closers = append(app.closers, func() error {
		orderSvc.Wait()
		return nil
	})

	limiter := middleware.NewRateLimiter()
	go limiter.Run(ctx)

	auth := middleware.NewAuth(cfg.App.JWTSecret, cfg.App.InternalKey)
	api := handler.NewHandler(orderSvc, ledger, payments)

	app.Handler = setupRouter(reg, auth, limiter, api)
	return app, nil
}

// buildRegistry creates an adapter for every enabled gateway, each with its
// own outbound rate limit.
func buildRegistry(cfg *config.Config, tokens *token.Cache, m *metrics.Metrics) (*payment.Registry, error) {
	policy := transport.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff,
		Timeout:     cfg.Retry.Timeout,
	}
	executor := func(gateway order.Gateway) *transport.Executor {
		return transport.NewExecutor(string(gateway), &http.Client{}, policy,
			transport.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Retry.RateLimit), cfg.Retry.RateBurst)),
			transport.WithMetrics(m),
		)
	}

	var gateways []payment.Gateway
	if cfg.Zarinpal.Enabled {
		gateways = append(gateways, zarinpal.New(cfg.Zarinpal, executor(order.GatewayZarinpal)))
	}
	if cfg.TorobPay.Enabled {
		gateways = append(gateways, torobpay.New(cfg.TorobPay, executor(order.GatewayTorobPay), tokens))
	}
	if cfg.Azkivam.Enabled {
		a, err := azkivam.New(cfg.Azkivam, executor(order.GatewayAzkivam))
		if err != nil {
			return nil, fmt.Errorf("azkivam: %w", err)
		}
		gateways = append(gateways, a)
	}
	if cfg.SnappPay.Enabled {
		gateways = append(gateways, snapppay.New(cfg.SnappPay, executor(order.GatewaySnappPay), tokens))
	}
	return payment.NewRegistry(gateways...), nil
}

func setupRouter(gatherer prometheus.Gatherer, auth *middleware.Auth, limiter *middleware.RateLimiter, api *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(limiter.Middleware)
		api.Routes(r)
	})
	return r
}
