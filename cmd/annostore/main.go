// Annotation store HTTP server
// Multi-tenant annotation containers with cached search and async indexing
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annoserv/annostore/internal/config"
	"github.com/annoserv/annostore/internal/logger"
	"github.com/annoserv/annostore/internal/metrics"
	"github.com/annoserv/annostore/internal/server"
	"github.com/annoserv/annostore/pkg/access"
	"github.com/annoserv/annostore/pkg/container"
	"github.com/annoserv/annostore/pkg/index"
	"github.com/annoserv/annostore/pkg/search"
	"github.com/annoserv/annostore/pkg/service"
	"github.com/annoserv/annostore/pkg/storage"
	"github.com/annoserv/annostore/pkg/task"
)

var configPath = flag.String("config", "", "Path to the YAML config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The logger is configured by the file we failed to read.
		println("annostore:", err.Error())
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})

	db, err := storage.Open(storage.Config{
		Dir:      cfg.Storage.Dir,
		InMemory: cfg.Storage.InMemory,
	})
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Storage.Dir).Msg("failed to open store")
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(reg)
	met.StartUptimeUpdater()

	store := storage.Instrument(db, met)

	ctx := context.Background()
	roles, err := access.NewDocRoleStore(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize role store")
	}
	containers, err := container.NewManager(ctx, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize container manager")
	}
	pager, err := search.New(store, cfg.Search, log, met)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize search pager")
	}

	pool := task.NewPool(cfg.Tasks.Workers)
	svc := service.New(service.Deps{
		Gate:       access.NewGate(roles),
		Roles:      roles,
		Containers: containers,
		Pager:      pager,
		Indexes:    index.NewManager(store, pool, cfg.Index.ChoreTTL, log, met),
		Pool:       pool,
		TaskTTL:    cfg.Tasks.TaskTTL,
		Log:        log,
	})

	srv := server.New(cfg.Server.Addr, svc, log, met, reg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.Server.Addr).Str("dir", cfg.Storage.Dir).Msg("annostore starting")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}

	// Let background chores and tasks finish before the store closes.
	pool.Wait()
	log.Info().Msg("annostore stopped")
}
