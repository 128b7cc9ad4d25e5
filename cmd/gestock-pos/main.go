// Package main запускает HTTP-сервер кассового сервиса gestock-pos.
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/gestock-pos/internal/backoffice"
	"github.com/mmeshcher/gestock-pos/internal/config"
	"github.com/mmeshcher/gestock-pos/internal/handler"
	"github.com/mmeshcher/gestock-pos/internal/metrics"
	"github.com/mmeshcher/gestock-pos/internal/middleware"
	"github.com/mmeshcher/gestock-pos/internal/pricing"
	"github.com/mmeshcher/gestock-pos/internal/repository"
	"github.com/mmeshcher/gestock-pos/internal/service"
	"github.com/mmeshcher/gestock-pos/internal/submission"
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	rates, err := cfg.TaxRateTable()
	if err != nil {
		sugar.Fatalw("tax rate table error", "error", err.Error())
	}
	policy, err := pricing.NewPolicy(rates, cfg.DefaultTaxRateID)
	if err != nil {
		sugar.Fatalw("pricing policy error", "error", err.Error())
	}

	var journal service.Journal
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		journal = repo
	} else {
		sugar.Info("DATABASE_URI not set, submission journal disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	posMetrics := metrics.NewPOSMetrics(reg)

	bo := backoffice.NewClient(cfg.BackofficeAddress, cfg.BackofficeTimeout)

	svc := service.NewService(bo, journal, policy, submission.NewAdapter(cfg.DirectSaleClientID), logger,
		service.WithMetrics(posMetrics),
	)
	defer svc.Close()

	wf := middleware.NewWorkflowMiddleware(cfg.SessionSecret)
	h := handler.NewHandler(svc, logger, wf, posMetrics, reg)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновое закрытие простаивающих кассовых сценариев
	g.Go(func() error {
		svc.StartWorkflowReaper(ctx, cfg.WorkflowTTL)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting gestock-pos server",
			"addr", cfg.RunAddress,
			"backoffice", cfg.BackofficeAddress,
			"direct_sale_client", cfg.DirectSaleClientID,
		)
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
