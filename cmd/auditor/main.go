package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/bootstrap"
	"github.com/kirillkom/heritage-ocr/internal/config"
	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/observability/logging"
	"github.com/kirillkom/heritage-ocr/internal/observability/metrics"
)

const (
	service      = "auditor"
	checkTimeout = 2 * time.Minute
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(service, cfg.LogLevel)
	slog.SetDefault(logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewAuditor(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	auditorMetrics := metrics.NewAuditorMetrics(service)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.AuditorMetricsPort,
		Handler:           auditorMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("auditor_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	check := func(checkCtx context.Context, trigger string) error {
		checkCtx, cancel := context.WithTimeout(checkCtx, checkTimeout)
		defer cancel()

		start := time.Now()
		report, err := app.Ledger.CheckIntegrity(checkCtx)
		if err != nil {
			auditorMetrics.ObserveCheck(service, time.Since(start), 0, false, err)
			return err
		}
		auditorMetrics.ObserveCheck(service, time.Since(start), report.Entries, report.Valid, nil)
		if !report.Valid {
			logger.Error("ledger_chain_broken",
				"trigger", trigger,
				"entries", report.Entries,
				"broken_index", report.BrokenIndex,
				"reason", report.Reason,
			)
			return nil
		}
		logger.Info("ledger_chain_verified", "trigger", trigger, "entries", report.Entries)
		return nil
	}

	if err := check(ctx, "startup"); err != nil {
		logger.Error("ledger_check_failed", "trigger", "startup", "error", err)
	}

	logger.Info("auditor_subscribed", "subject", cfg.NATSSubject)
	err = app.Bus.SubscribeLedgerAppended(ctx, func(handlerCtx context.Context, event domain.LedgerAppendedEvent) error {
		auditorMetrics.ObserveEvent(service)
		return check(handlerCtx, "appended")
	})
	if err != nil {
		log.Fatalf("auditor subscribe error: %v", err)
	}
}
