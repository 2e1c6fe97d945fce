// Package main initializes and starts the PodSync server, setting up
// configuration, logging, the persistence backend, the sync core, and the
// HTTP API.
package main

import (
	"cmp"
	"fmt"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/podsync/internal/config"
	"github.com/atinyakov/podsync/internal/db"
	"github.com/atinyakov/podsync/internal/logger"
	"github.com/atinyakov/podsync/internal/repository"
	"github.com/atinyakov/podsync/internal/server/handler/http"
	"github.com/atinyakov/podsync/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init("Info"); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	// Select the persistence backend: relational when a DSN is
	// configured, the embedded store otherwise. The core only ever sees
	// the repository port.
	var store repository.Store
	if options.DatabaseDSN != "" {
		postgresDB, err := db.InitPostgres(options.DatabaseDSN)
		if err != nil {
			zapLogger.Fatal("cannot init database", zap.Error(err))
		}
		store = repository.NewPostgresStore(postgresDB)
		zapLogger.Info("using postgres backend")
	} else {
		badgerDB, err := repository.OpenBadger(options.DataDir)
		if err != nil {
			zapLogger.Fatal("cannot open data directory", zap.Error(err))
		}
		badgerStore := repository.NewBadgerStore(badgerDB)
		defer func() { _ = badgerStore.Close() }()
		store = badgerStore
		zapLogger.Info("using embedded backend", zap.String("dir", options.DataDir))
	}

	// The synchronization core.
	syncService := service.NewSyncService(store, zapLogger)

	// HTTP handlers and router.
	authHandler := &http.AuthHandler{Sync: syncService, Secure: options.Secure, Log: zapLogger}
	syncHandler := &http.SyncHandler{Sync: syncService, Log: zapLogger}
	router := http.NewRouter(authHandler, syncHandler, zapLogger)

	server := &nethttp.Server{
		Addr:    options.Addr,
		Handler: router,
	}

	zapLogger.Info("starting HTTP server", zap.String("addr", options.Addr))
	if err := server.ListenAndServe(); err != nil {
		zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
	}
}
