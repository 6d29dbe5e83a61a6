package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/persona/internal/engine"
	"github.com/lazypower/persona/internal/llm"
	"github.com/lazypower/persona/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Without a backend every reply is the fallback text, but the rest of
	// the API still works.
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		slog.Warn("serve: LLM not configured, replies will use the fallback", "err", err)
		llmClient = llm.Offline{}
	} else {
		slog.Info("serve: llm", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	}

	eng := engine.New(db, llmClient, engine.OptionsFromConfig(cfg.Engine))
	if cfg.Maintenance.Enabled {
		if err := eng.StartMaintenance(cfg.Maintenance.Schedule); err != nil {
			return err
		}
	}
	defer eng.Stop()

	srv := server.New(db, eng, cfg.Server, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serve: listening", "addr", addr, "db", db.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("serve: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
