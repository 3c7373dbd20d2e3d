package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vestd/config"
	"vestd/core"
	"vestd/history"
	"vestd/observability/logging"
	"vestd/rpc"
	"vestd/state"
	"vestd/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "./vestd.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("validate config: %v", err)
	}
	logger := logging.Setup("vestd", cfg.Env)

	program, err := config.LoadProgram(cfg.ProgramFile)
	if err != nil {
		log.Fatalf("load program: %v", err)
	}
	policy, err := program.Policy()
	if err != nil {
		log.Fatalf("program policy: %v", err)
	}
	bands, capPrice, err := program.PricingBands()
	if err != nil {
		log.Fatalf("program bands: %v", err)
	}
	quantum, err := program.Quantum()
	if err != nil {
		log.Fatalf("program quantum: %v", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		log.Fatalf("open state database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("close state database", "error", err)
		}
	}()

	opts := []core.Option{core.WithLogger(logger)}
	if cfg.HistoryPath != "" {
		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			log.Fatalf("open history store: %v", err)
		}
		opts = append(opts, core.WithRecorder(store))
	}

	node, err := core.NewNode(core.Config{
		Start:          program.Start.Unix,
		Policy:         policy,
		BuybackPercent: program.BuybackPercent,
		PayoutQuantum:  quantum,
		Bands:          bands,
		CapPrice:       capPrice,
	}, state.NewManager(db), opts...)
	if err != nil {
		log.Fatalf("start node: %v", err)
	}

	if !node.ScheduleInitialized() {
		ends, buyers, referrers, err := program.ScheduleArrays()
		if err != nil {
			log.Fatalf("program tranches: %v", err)
		}
		if err := node.InitializeSchedule(ends, buyers, referrers); err != nil {
			log.Fatalf("initialize schedule: %v", err)
		}
	}

	server := rpc.NewServer(node, cfg.AdminToken(), logger)
	rpcSrv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("JSON-RPC listening", "addr", cfg.ListenAddress)
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("rpc listen: %v", err)
		}
	}()

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listen failed", "error", err)
		}
	}()

	interval, err := cfg.SyncIntervalDuration()
	if err != nil {
		log.Fatalf("sync interval: %v", err)
	}
	stopSync := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := node.Advance(cfg.MaxDaysPerSync); err != nil {
					logger.Error("finalization sweep failed", "error", err)
				}
			case <-stopSync:
				return
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	close(stopSync)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rpcSrv.Shutdown(ctx); err != nil {
		logger.Error("rpc shutdown failed", "error", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Error("metrics shutdown failed", "error", err)
	}
}
