// Package main запускает HTTP-сервер магазина цифровых аккаунтов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/mmo-shop/internal/config"
	"github.com/mmeshcher/mmo-shop/internal/events"
	"github.com/mmeshcher/mmo-shop/internal/handler"
	"github.com/mmeshcher/mmo-shop/internal/middleware"
	"github.com/mmeshcher/mmo-shop/internal/payment"
	"github.com/mmeshcher/mmo-shop/internal/ratelimit"
	"github.com/mmeshcher/mmo-shop/internal/repository"
	"github.com/mmeshcher/mmo-shop/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		sugar.Warnw("failed to load .env", "error", err.Error())
	}

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	feed := payment.NewClient(payment.ClientConfig{
		URL:           cfg.BankFeedURL,
		AccountNumber: cfg.BankAccountNumber,
		APIKey:        cfg.BankAPIKey,
		Limit:         cfg.FeedTransactionLimit,
	})
	if cfg.BankAPIKey == "" || cfg.BankAccountNumber == "" {
		sugar.Warn("bank feed is not configured, payment confirmation will be unavailable")
	}

	opts := service.Options{
		PaymentWindow: cfg.PaymentWindow,
		Logger:        logger,
	}

	if cfg.RedisAddr != "" {
		rdb := ratelimit.NewRedisClient(cfg.RedisAddr)
		defer rdb.Close()
		opts.Cooldown = ratelimit.NewRedisCooldown(rdb, cfg.ConfirmCooldown)
		sugar.Infow("confirmation cooldown enabled", "redis", cfg.RedisAddr, "ttl", cfg.ConfirmCooldown)
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
		opts.Publisher = publisher
		sugar.Infow("order events enabled", "brokers", cfg.KafkaBrokers)
	}

	svc := service.NewService(repo, payment.NewVerifier(feed), opts)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.BankAccountNumber)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая отмена заказов с истёкшим окном оплаты
	g.Go(func() error {
		svc.RunExpirySweep(ctx, cfg.SweepInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting mmo shop server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
