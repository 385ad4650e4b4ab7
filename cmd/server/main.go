package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gundcab/shipsync/internal/config"
	"github.com/gundcab/shipsync/internal/db"
	"github.com/gundcab/shipsync/internal/hub"
	"github.com/gundcab/shipsync/internal/server"
	"github.com/gundcab/shipsync/internal/store"
)

var migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")

func main() {
	flag.Parse()
	_ = godotenv.Load()
	cfg := config.Load()

	dbConn, err := db.ConnectAndMigrate(cfg.DatabaseDSN)
	if err != nil {
		slog.Error("database setup failed", "err", err)
		os.Exit(1)
	}
	if *migrateOnlyFlag {
		slog.Info("migrations completed; exiting as requested")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.New()
	go h.Run(ctx)

	st := store.New(dbConn, h)
	handler := server.New(dbConn, st, h)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handler}

	go func() {
		slog.Info("server listening", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "err", err)
	}
	slog.Info("server gracefully stopped")
}
