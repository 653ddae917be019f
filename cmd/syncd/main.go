// Package main provides the PantrySync synchronization daemon.
// Devices communicate via REST for push/pull/ack and an optional WebSocket
// for change wake-ups.
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pantryware/pantrysync/cmd/syncd/handlers"
	"github.com/pantryware/pantrysync/internal/config"
	"github.com/pantryware/pantrysync/internal/db"
	"github.com/pantryware/pantrysync/internal/logging"
	syncpkg "github.com/pantryware/pantrysync/internal/sync"
	"github.com/pantryware/pantrysync/internal/sync/archiver"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}

	initLogging(cfg)

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("Failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB, cfg.MigrationsDir)
	if err := migrator.Initialize(); err != nil {
		logging.Error("Failed to initialize migrations", err, nil)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logging.Error("Failed to apply migrations", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	hub := NewWSHub()

	coord := syncpkg.NewCoordinator(repo, hub, syncpkg.CoordinatorConfig{
		MaxPushRetries:    cfg.Sync.MaxPushRetries,
		QueueMaxRetries:   cfg.Sync.QueueMaxRetries,
		DefaultDrainLimit: cfg.Sync.DefaultDrainLimit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	arch := archiver.New(repo, archiver.Config{
		Interval:  cfg.Sync.ArchiveInterval,
		Retention: cfg.Sync.DeliveredRetention,
	})
	arch.Start(ctx)
	defer arch.Stop()

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      buildMux(coord, repo, hub),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logging.Info("PantrySync daemon listening",
			map[string]interface{}{"addr": cfg.ListenAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Server failed", err, nil)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info("Shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Graceful shutdown failed", err, nil)
	}
}

// initLogging routes the structured logger to stdout or a rotated file.
func initLogging(cfg *config.Config) {
	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   true,
		}
	}
	logging.Init(out, logging.ParseLevel(cfg.Log.Level))
}

// buildMux wires the REST API and the WebSocket endpoint.
func buildMux(coord *syncpkg.Coordinator, repo *db.Repository, hub *WSHub) *http.ServeMux {
	syncHandler := handlers.NewSyncHandler(coord, repo)
	deviceHandler := handlers.NewDeviceHandler(repo)
	conflictHandler := handlers.NewConflictHandler(coord, repo)

	mux := http.NewServeMux()

	// =====================================================
	// Sync cycle
	// =====================================================
	mux.HandleFunc("POST /sync/push", syncHandler.Push)
	mux.HandleFunc("GET /sync/pull", syncHandler.Pull)
	mux.HandleFunc("POST /sync/ack", syncHandler.Ack)
	mux.HandleFunc("POST /sync/fail", syncHandler.Fail)
	mux.HandleFunc("GET /sync/changes", syncHandler.Changes)

	// =====================================================
	// Queue operations
	// =====================================================
	mux.HandleFunc("GET /sync/queue/stats", syncHandler.QueueStats)
	mux.HandleFunc("GET /sync/queue/failed", syncHandler.FailedItems)
	mux.HandleFunc("POST /sync/queue/requeue-failed", syncHandler.RequeueFailed)

	// =====================================================
	// Device registry
	// =====================================================
	mux.HandleFunc("POST /sync/devices/register", deviceHandler.Register)
	mux.HandleFunc("POST /sync/devices/{id}/unregister", deviceHandler.Unregister)
	mux.HandleFunc("GET /sync/devices/{id}", deviceHandler.Get)
	mux.HandleFunc("GET /sync/devices", deviceHandler.List)

	// =====================================================
	// Conflicts
	// =====================================================
	mux.HandleFunc("GET /sync/conflicts", conflictHandler.List)
	mux.HandleFunc("GET /sync/conflicts/{id}", conflictHandler.Get)
	mux.HandleFunc("POST /sync/conflicts/{id}/resolve", conflictHandler.Resolve)

	// =====================================================
	// Infrastructure
	// =====================================================
	mux.HandleFunc("GET /ws", HandleWebSocket(hub, repo))
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"pantrysync"}`))
	})

	return mux
}
