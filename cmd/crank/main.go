package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/hypermargin/params"
	"github.com/uhyunpark/hypermargin/pkg/api"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/app/utp/lend"
	"github.com/uhyunpark/hypermargin/pkg/app/utp/perp"
	"github.com/uhyunpark/hypermargin/pkg/chain"
	"github.com/uhyunpark/hypermargin/pkg/crank"
	"github.com/uhyunpark/hypermargin/pkg/storage"
	"github.com/uhyunpark/hypermargin/pkg/util"
)

func main() {
	// .env in the working directory, then the environment
	cfg := params.LoadFromEnv("")

	// LOG_FILE=- logs to stdout only
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "data/crank.log"
	}
	level := util.ParseLevel(cfg.LogLevel)
	var logger *zap.Logger
	var err error
	if logFile == "-" {
		logger, err = util.NewLogger(level)
	} else {
		logger, err = util.NewLoggerWithFile(logFile, level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile, "level", cfg.LogLevel)

	if err := cfg.LoadWatchFile(); err != nil {
		sugar.Fatalw("watch_file_failed", "err", err)
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		sugar.Fatalw("config_invalid", "err", err)
	}

	// ---- Storage: round journal and intent outbox ----
	store, err := storage.NewPebbleStore(cfg.DBPath)
	if err != nil {
		sugar.Fatalw("db_open_failed", "path", cfg.DBPath, "err", err)
	}
	defer store.Close()
	outbox, err := storage.NewOutbox(store)
	if err != nil {
		sugar.Fatalw("outbox_open_failed", "err", err)
	}
	lastSeq, err := store.LastRoundSeq()
	if err != nil {
		sugar.Fatalw("journal_read_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Chain ----
	fetcher, err := chain.DialRPC(ctx, cfg.Chain.RPCURL, cfg.Chain.Commitment)
	if err != nil {
		sugar.Fatalw("rpc_dial_failed", "url", cfg.Chain.RPCURL, "err", err)
	}
	defer fetcher.Close()

	venues, err := utp.NewRegistry(perp.New(resolved.PerpProgram), lend.New(resolved.LendProgram))
	if err != nil {
		sugar.Fatalw("venue_registry_failed", "err", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ---- Crank ----
	// intents queue in the outbox until the signer picks them up
	c := crank.New(crank.Config{
		Group:       resolved.Group,
		Liquidator:  resolved.Liquidator,
		Watch:       resolved.Watch,
		Interval:    cfg.Crank.Interval,
		Concurrency: cfg.Crank.Concurrency,
		RatePerSec:  cfg.Chain.RatePerSec,
		RateBurst:   cfg.Chain.RateBurst,
		AccrueAfter: cfg.Crank.AccrueAfter,
	}, fetcher, outbox, venues, util.RealClock{})
	c.Logger = sugar.Named("crank")
	c.Journal = store
	c.Metrics.Register(registry)
	c.SetSeq(lastSeq)

	// ---- API Server ----
	apiServer := api.NewServer(api.Options{
		Journal:  store,
		Venues:   venues,
		Outbox:   outbox,
		Gatherer: registry,
		Logger:   sugar.Named("api"),
	})
	c.OnRound = apiServer.BroadcastRound
	httpServer := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sugar.Infow("crank_config",
		"margin_program", resolved.MarginProgram,
		"group", resolved.Group,
		"liquidator", resolved.Liquidator,
		"watched", len(resolved.Watch),
		"resume_after_round", lastSeq)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		apiServer.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		sugar.Infow("api_server_starting", "addr", cfg.APIAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := c.Run(gctx)
		// crank stopped: take the API down with it
		stop()
		return err
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("crank_exit", "err", err)
		os.Exit(1)
	}
	sugar.Info("crank_stopped")
}
