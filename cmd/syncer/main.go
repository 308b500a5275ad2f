// Command syncer is the process entrypoint (C9): it wires config, storage, buffer, indicator
// state, history back-fill, the dispatcher, and the live client together and runs them until an
// interrupt signal requests a graceful shutdown.
//
// Shape grounded on the teacher's cmd/server/main.go (signal.Notify + context.WithTimeout +
// graceful shutdown), substituting the HTTP listener shutdown for stopping the live client,
// dispatcher, and history workers via a cancelled root context and a sync.WaitGroup.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/GeekChomolungma/ChomoSyncer/internal/binancerest"
	"github.com/GeekChomolungma/ChomoSyncer/internal/buffer"
	"github.com/GeekChomolungma/ChomoSyncer/internal/clock"
	"github.com/GeekChomolungma/ChomoSyncer/internal/config"
	"github.com/GeekChomolungma/ChomoSyncer/internal/dispatcher"
	"github.com/GeekChomolungma/ChomoSyncer/internal/historysync"
	"github.com/GeekChomolungma/ChomoSyncer/internal/indicator"
	"github.com/GeekChomolungma/ChomoSyncer/internal/liveclient"
	"github.com/GeekChomolungma/ChomoSyncer/internal/logging"
	"github.com/GeekChomolungma/ChomoSyncer/internal/store"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.ini", "path to the INI config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logLevel := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(logLevel)
	if cfg.TLSInsecureSkipVerify {
		logger.Warn("TLS certificate validation is disabled (tls.insecure_skip_verify=true)", logging.Fields{})
	}

	ctx, cancel := context.WithCancel(context.Background())

	mongoClient, err := store.Connect(ctx, cfg.DatabaseURI, logger)
	if err != nil {
		logger.Fatal("failed to connect to mongo", logging.Fields{"error": err})
	}

	bufClient := buffer.New(buffer.Options{Host: cfg.RedisHost, Port: cfg.RedisPort, Password: cfg.RedisPassword})
	if err := bufClient.Ping(ctx); err != nil {
		logger.Fatal("failed to connect to redis", logging.Fields{"error": err})
	}

	engine := indicator.NewEngine(mongoClient, indicator.DefaultFactory, logger)
	engine.LoadCalculators(cfg.Symbols, cfg.Intervals)
	engine.LoadStates(ctx, cfg.Symbols, cfg.Intervals)

	restClient := binancerest.New(cfg.TLSInsecureSkipVerify)
	syncer := historysync.New(restClient, mongoClient, engine, logger, clock.System, cfg.BackfillEpochMs, 8)

	logger.Info("running initial history convergence", logging.Fields{
		"symbols": cfg.Symbols, "intervals": cfg.Intervals,
	})
	syncer.RunAll(ctx, cfg.Symbols, cfg.Intervals)

	disp := dispatcher.New(bufClient, mongoClient, engine, logger)
	live := liveclient.New(liveclient.NewProductionDialer(cfg.TLSInsecureSkipVerify), bufClient, syncer, logger, cfg.Symbols, cfg.Intervals)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		disp.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		live.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received", logging.Fields{})

	cancel()
	live.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Warn("shutdown grace period elapsed, exiting anyway", logging.Fields{})
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := mongoClient.Close(closeCtx); err != nil {
		logger.Warn("error closing mongo client", logging.Fields{"error": err})
	}
	if err := bufClient.Close(); err != nil {
		logger.Warn("error closing redis client", logging.Fields{"error": err})
	}

	logger.Info("syncer exited", logging.Fields{})
}
