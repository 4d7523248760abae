package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/checkout"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/gateway"
	"github.com/safar/go-storefront/internal/httpapi"
	"github.com/safar/go-storefront/internal/lifecycle"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/orderstate"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	cache := connectRedis(ctx, cfg.Redis, logger)
	if cache != nil {
		defer cache.Close()
	}

	publisher := newPublisher(cfg.Kafka, logger)
	if closer, ok := publisher.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	if cfg.Telemetry.Enabled {
		provider, err := metrics.NewMeterProvider(ctx, metrics.ExportConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Interval:    cfg.Telemetry.Interval,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metric provider shutdown", "error", err)
			}
		}()
		logger.Info("exporting metrics over otlp", "endpoint", cfg.Telemetry.Endpoint)
	}

	recorder, err := metrics.New(nil)
	if err != nil {
		return err
	}

	payments := gateway.NewDeferredGateway(logger)
	carts := cart.NewService(db, cache, cfg.Redis.CartTTL, logger)

	checkoutSvc := checkout.NewService(db, checkout.Deps{
		Pricer:    gateway.NewTariffPricer(cfg.Delivery.Tariffs),
		Payments:  payments,
		Publisher: publisher,
		Carts:     carts,
		Metrics:   recorder,
		Logger:    logger,
	}, checkout.Options{
		GatewayTimeout: cfg.Checkout.GatewayTimeout,
		MaxRetries:     cfg.Checkout.MaxRetries,
	})

	lifecycleSvc := lifecycle.NewService(db, lifecycle.Deps{
		Payments:  payments,
		Publisher: publisher,
		Metrics:   recorder,
		Logger:    logger,
	}, lifecycle.Options{
		Policy:           orderstate.Policy{CancelOnPaymentFailure: cfg.Checkout.CancelOnPaymentFailure},
		BonusEarnPercent: cfg.Checkout.BonusEarnPercent,
		GatewayTimeout:   cfg.Checkout.GatewayTimeout,
		MaxRetries:       cfg.Checkout.MaxRetries,
	})

	go lifecycleSvc.RunAutoComplete(ctx, cfg.Checkout.AutoCompleteAfter, cfg.Checkout.AutoCompleteInterval)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpapi.NewHandler(db, checkoutSvc, lifecycleSvc, carts, logger).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// connectRedis returns nil when Redis is unreachable; carts are then served
// straight from Postgres.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, cart cache disabled", "addr", cfg.Addr, "error", err)
		client.Close()
		return nil
	}
	return client
}

func newPublisher(cfg config.KafkaConfig, logger *slog.Logger) events.Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return events.LogPublisher{Logger: logger}
	}
	logger.Info("publishing order events to kafka", "brokers", cfg.Brokers, "topic", cfg.OrderTopic)
	return events.NewKafkaPublisher(cfg.Brokers, cfg.OrderTopic)
}
