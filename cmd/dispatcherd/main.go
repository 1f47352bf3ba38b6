// Command dispatcherd is the composition root: it wires config,
// logger, store, registry, scheduler, liveness monitor, retry
// controller and the API surface, then serves until a shutdown signal
// arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/tachyon-cluster/dispatcher/internal/api"
	"github.com/tachyon-cluster/dispatcher/internal/config"
	"github.com/tachyon-cluster/dispatcher/internal/lifecycle"
	"github.com/tachyon-cluster/dispatcher/internal/liveness"
	"github.com/tachyon-cluster/dispatcher/internal/logging"
	"github.com/tachyon-cluster/dispatcher/internal/registry"
	"github.com/tachyon-cluster/dispatcher/internal/retry"
	"github.com/tachyon-cluster/dispatcher/internal/scheduler"
	"github.com/tachyon-cluster/dispatcher/internal/store"
	"github.com/tachyon-cluster/dispatcher/internal/store/sqlite"
)

func main() {
	log, err := logging.New(os.Stdout, "logs")
	if err != nil {
		println("error initializing logger:", err.Error())
		os.Exit(1)
	}

	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		log.Error("error loading config", "error", err)
		os.Exit(1)
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Error("error opening store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := registry.New(log)

	sched := scheduler.New(st, reg, log, cfg.TaskAssignment.Strategy, 5*time.Second)
	mon := liveness.New(
		st, log,
		time.Duration(cfg.WorkerManagement.HeartbeatInterval)*time.Second,
		time.Duration(cfg.WorkerManagement.HeartbeatTimeout)*time.Second,
		cfg.WorkerManagement.AutoRemoveOffline,
		time.Duration(cfg.WorkerManagement.OfflineThreshold)*time.Second,
	)
	retryCtl := retry.New(st, log, cfg.TaskAssignment.MaxRetries, time.Duration(cfg.TaskAssignment.RetryDelay)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	go mon.Run(ctx)
	go retryCtl.Run(ctx)

	apiServer := api.New(st, reg, cfg, log)
	apiServer.OpenAlt = func() (store.Store, error) {
		return openAltStore(cfg)
	}

	port := cfg.Port
	if port == 0 {
		port = 8000
	}
	httpSrv := &http.Server{
		Addr:    cfg.Host + ":" + strconv.Itoa(port),
		Handler: apiServer.Handler(),
	}

	go func() {
		log.Info("dispatcher listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()

	lifecycle.WaitForSignals(func() {
		log.Info("shutdown signal received, draining")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown failed", "error", err)
		}
	})
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Database.Type {
	case "sqlite":
		s, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

// openAltStore opens the backend NOT selected by cfg.Database.Type,
// used by the /admin/migrate endpoint.
func openAltStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Type == "sqlite" {
		return store.NewMemoryStore(), nil
	}
	return sqlite.Open(cfg.Database.Path)
}
