// Package main запускает HTTP-сервер сервиса бронирования площадок.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/groundbook/internal/broker"
	"github.com/mmeshcher/groundbook/internal/config"
	"github.com/mmeshcher/groundbook/internal/handler"
	"github.com/mmeshcher/groundbook/internal/middleware"
	"github.com/mmeshcher/groundbook/internal/razorpay"
	"github.com/mmeshcher/groundbook/internal/repository"
	"github.com/mmeshcher/groundbook/internal/service"
)

func newLogger(env string) *zap.Logger {
	var cfg zap.Config

	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg.OutputPaths = []string{"stdout"}

	logger, err := cfg.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	return logger
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Environment)
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	gateway := razorpay.NewClient(
		cfg.RazorpayBaseURL,
		cfg.RazorpayKeyID,
		cfg.RazorpayKeySecret,
		razorpay.WithLogger(logger.Named("razorpay")),
	)

	var publisher service.EventPublisher
	if cfg.RabbitURL != "" {
		p, err := broker.NewPublisher(cfg.RabbitURL, cfg.EventsExchange)
		if err != nil {
			sugar.Fatalw("rabbitmq initialization error", "error", err.Error())
		}
		defer p.Close()
		publisher = p
	}

	svc := service.NewService(repo, gateway, publisher, logger.Named("service"), service.Options{
		Currency:        cfg.Currency,
		ReservationTTL:  cfg.ReservationTTL,
		DefaultVenueID:  cfg.DefaultVenueID,
		Location:        cfg.Location(),
		KeySecret:       cfg.RazorpayKeySecret,
		WebhookSecret:   cfg.RazorpayWebhookSecret,
		ReaperInterval:  cfg.ReaperInterval,
		ReaperBatchSize: cfg.ReaperBatchSize,
	})
	defer svc.Close()

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.CronSecret)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Периодическое снятие просроченных бронирований
	g.Go(func() error {
		return svc.RunReaper(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting groundbook server", "addr", cfg.RunAddress)
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
