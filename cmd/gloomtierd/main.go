// Command gloomtierd serves username availability checks backed by a Bloom
// filter in a shared bit store and a SQLite user table.
//
// On startup it opens both stores, loads the seed dataset into them, and only
// then marks the HTTP server ready. The listener starts first so health checks
// can observe the seeding phase.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcalabro/gloomtier"
	"github.com/jcalabro/gloomtier/events"
	"github.com/jcalabro/gloomtier/internal/backend"
	"github.com/jcalabro/gloomtier/server"
	"github.com/jcalabro/gloomtier/userstore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	filterCfg := cfg.filterConfig()
	bits, closer, err := backend.Open(ctx, &cfg.BitStore, filterCfg.SizeBits)
	if err != nil {
		return err
	}
	defer closer.Close()

	filter, err := gloomtier.NewFilter(filterCfg, bits)
	if err != nil {
		return err
	}
	glmtLog.Infof("Filter %q: m=%d bits, k=%d, store=%s", filterCfg.Key,
		filterCfg.SizeBits, filterCfg.HashCount, cfg.BitStore.Kind)

	users, err := userstore.Open(userstore.PoolConfig{Path: cfg.DB.Path, PoolSize: cfg.DB.PoolSize})
	if err != nil {
		return err
	}
	defer users.Close()
	if err := users.Initialize(ctx); err != nil {
		return err
	}

	checker, err := gloomtier.NewChecker(filter, users, gloomtier.WithTakenCache(cfg.Cache.Size))
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Checker: checker,
		Events:  &events.Producer{Interval: cfg.StreamInterval},
	})
	httpServer := &http.Server{
		Addr:              cfg.listenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		httpLog.Infof("Listening on %s", httpServer.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	if err := seed(ctx, cfg, checker); err != nil {
		shutdown(httpServer, cfg.ShutdownTimeout)
		return err
	}
	srv.SetReady(true)
	glmtLog.Infof("Ready to serve requests")

	select {
	case <-ctx.Done():
		glmtLog.Infof("Received shutdown signal")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}
	shutdown(httpServer, cfg.ShutdownTimeout)
	return nil
}

// seed loads the seed dataset. A missing file is not an error: the service
// then starts with whatever the stores already hold. Individual record
// failures are logged and tolerated.
func seed(ctx context.Context, cfg *config, checker *gloomtier.Checker) error {
	records, err := gloomtier.ReadRecordsFile(cfg.SeedFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		seedLog.Warnf("Seed file %s not found, skipping seeding", cfg.SeedFile)
		return nil
	case err != nil:
		return err
	}

	seedLog.Infof("Loading %d records from %s", len(records), cfg.SeedFile)
	seeder := gloomtier.NewSeeder(checker,
		gloomtier.WithSeedWorkers(cfg.SeedWorkers),
		gloomtier.WithSeedLogger(seedLog))
	_, err = seeder.LoadAll(ctx, records)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, gloomtier.ErrPartialSeed):
		seedLog.Warnf("%v", err)
	case err != nil:
		return err
	}
	return nil
}

func shutdown(s *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		httpLog.Errorf("Shutdown: %v", err)
	}
	httpLog.Infof("HTTP server stopped")
}
