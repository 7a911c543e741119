package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prdigest/prdigest/internal/config"
	"github.com/prdigest/prdigest/internal/db"
	"github.com/prdigest/prdigest/internal/llm"
	"github.com/prdigest/prdigest/internal/render"
	"github.com/prdigest/prdigest/internal/report"
	"github.com/prdigest/prdigest/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	queries := db.NewQueries(database)
	if err := queries.SeedDefaultTemplates(); err != nil {
		return fmt.Errorf("seeding default templates: %w", err)
	}

	renderer, err := render.New(cfg.ReportsDir, cfg.ChromePath)
	if err != nil {
		return err
	}

	generator := llm.NewClient(cfg.AnthropicAPIKey, cfg.Model)
	reports := report.NewService(queries, generator, renderer, report.DefaultSourceResolver(cfg.GitHubToken), log)
	srv := server.New(queries, reports, log, cfg.CORSAllowedOrigins)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
