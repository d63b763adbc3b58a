package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/heritage-ocr/internal/adapters/mcp"
	"github.com/kirillkom/heritage-ocr/internal/bootstrap"
	"github.com/kirillkom/heritage-ocr/internal/config"
	"github.com/kirillkom/heritage-ocr/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	// stdout carries the protocol.
	logger := logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel)
	slog.SetDefault(logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewReasoning(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()
	if app.Reasoner.RequiresAPIKey() {
		logger.Warn("mcp_client_api_key_required", "provider", cfg.LLMProvider)
	}

	s := mcpadapter.NewServer(mcpadapter.NewHandler(app.Reasoner, app.Ledger, logger))
	stdio := server.NewStdioServer(s)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		log.Fatalf("mcp server error: %v", err)
	}
}
