package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noahxzhu/safealert/internal/alert"
	"github.com/noahxzhu/safealert/internal/config"
	"github.com/noahxzhu/safealert/internal/gateway"
	"github.com/noahxzhu/safealert/internal/location"
	"github.com/noahxzhu/safealert/internal/model"
	"github.com/noahxzhu/safealert/internal/phone"
	"github.com/noahxzhu/safealert/internal/platform"
	"github.com/noahxzhu/safealert/internal/schedule"
	"github.com/noahxzhu/safealert/internal/storage"
	"github.com/noahxzhu/safealert/internal/watcher"
	"github.com/noahxzhu/safealert/internal/web"
	"github.com/noahxzhu/safealert/internal/worker"
)

func main() {
	// Setup structured logger (JSON handler)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := "configs/config.yaml"
	if p := os.Getenv("SAFEALERT_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	tz, err := cfg.Scheduler.Location()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	norm := phone.Normalizer{CountryCode: cfg.Phone.CountryCode, NationalDigits: cfg.Phone.NationalDigits}

	// Init Storage
	contacts := storage.NewContactStore(cfg.Storage.ContactsPath, norm.Key)
	if err := contacts.Load(); err != nil {
		slog.Error("Failed to load contacts", "error", err)
		os.Exit(1)
	}
	flags, err := storage.OpenFlags(cfg.Storage.FlagsPath)
	if err != nil {
		slog.Error("Failed to open flag store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := flags.Close(); err != nil {
			slog.Error("Failed to close flag store", "error", err)
		}
	}()

	// Platform layer
	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.Timeout)
	tracker := location.NewTracker(cfg.Location.MaxAge)
	perms := platform.NewPermissions()
	notices := platform.NewNotices(0)
	batteryFeed := platform.NewFeed[model.BatteryEvent]("battery")
	geofenceFeed := platform.NewFeed[model.GeofenceEvent]("geofence")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	battery := &watcher.Battery{
		Contacts:   contacts,
		Flags:      flags,
		Locator:    tracker,
		Sender:     gw,
		Normalizer: norm,
		Notices:    notices,
		Messages: watcher.BatteryMessages{
			Warning:  cfg.Messages.BatteryWarning,
			Critical: cfg.Messages.BatteryCritical,
		},
		LocationTimeout: cfg.Alert.LocationTimeout,
	}
	batteryFeed.Subscribe(battery.Handle)

	geofence := &watcher.Geofence{
		Contacts:   contacts,
		Sender:     gw,
		Normalizer: norm,
		Message:    cfg.Messages.GeofenceExit,
	}
	geofenceFeed.Subscribe(geofence.Handle)

	dispatcher := alert.New(ctx, alert.Deps{
		Contacts:    contacts,
		Locator:     tracker,
		Messenger:   gw,
		Dialer:      gw,
		Permissions: perms,
		Notices:     notices,
		Normalizer:  norm,
	}, alert.Options{
		LocationTimeout: cfg.Alert.LocationTimeout,
		CallDelay:       cfg.Alert.CallDelay,
		KeyCooldown:     cfg.Alert.KeyCooldown,
		Template:        cfg.Messages.Alert,
	})

	// Init Scheduler
	job := worker.SendJob{Sender: gw, Normalizer: norm}
	checks := map[string]web.Check{}
	var backend schedule.Backend
	var stopScheduler func()

	switch cfg.Scheduler.Backend {
	case config.BackendAsynq:
		b := worker.NewAsynqBackend(worker.AsynqOptions{
			Addr:        cfg.Scheduler.Redis.Addr,
			Password:    cfg.Scheduler.Redis.Password,
			DB:          cfg.Scheduler.Redis.DB,
			Queue:       cfg.Scheduler.Queue,
			Concurrency: cfg.Scheduler.Concurrency,
		}, job)
		if err := b.Start(); err != nil {
			slog.Error("Failed to start scheduler", "error", err)
			os.Exit(1)
		}
		checks["redis"] = b.Ping
		backend = b
		stopScheduler = b.Shutdown
	default:
		queue := storage.NewQueueStore(cfg.Storage.QueuePath)
		if err := queue.Load(); err != nil {
			slog.Error("Failed to load queue", "error", err)
			os.Exit(1)
		}
		w := worker.NewWorker(queue, job, cfg.Scheduler.Queue)
		done := make(chan struct{})
		go func() {
			w.Start(ctx)
			close(done)
		}()
		backend = w
		stopScheduler = func() { <-done }
	}

	// Init Web Server
	srv := web.NewServer(ctx, web.Deps{
		Contacts:    contacts,
		Alerts:      dispatcher,
		Scheduler:   schedule.NewService(backend, tz),
		Locations:   tracker,
		Battery:     batteryFeed,
		Geofence:    geofenceFeed,
		Permissions: perms,
		Notices:     notices,
		Geofences:   cfg.Geofences,
		Checks:      checks,
	}, cfg.Server.APIKey)
	httpServer := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start HTTP Server
	go func() {
		slog.Info("Starting server", "port", cfg.Server.Port, "scheduler", cfg.Scheduler.Backend, "geofences", len(cfg.Geofences))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	cancel()
	dispatcher.Close()
	batteryFeed.Wait()
	geofenceFeed.Wait()
	stopScheduler()
	slog.Info("Server exited")
}
