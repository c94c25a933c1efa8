package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmetro/tripwarehouse/internal/config"
	"github.com/openmetro/tripwarehouse/internal/etl"
	"github.com/openmetro/tripwarehouse/internal/logging"
	"github.com/openmetro/tripwarehouse/internal/metrics"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		inputDir   = flag.String("input", "", "directory or bucket holding monthly trip batches")
		zoneLookup = flag.String("zone-lookup", "", "path to the taxi zone lookup CSV")
		dataDir    = flag.String("data-dir", "", "directory for generation files and the CURRENT pointer")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags override file and environment.
	if *inputDir != "" {
		cfg.Source.Backend = "local"
		cfg.Source.LocalDir = *inputDir
	}
	if *zoneLookup != "" {
		cfg.Source.ZoneLookup = *zoneLookup
	}
	if *dataDir != "" {
		cfg.Store.DataDir = *dataDir
	}

	logging.Setup(cfg.Logging)
	log := logging.Component("main")
	log.Info("trip warehouse builder starting", "version", Version)

	metrics.Init("tripwarehouse")
	if cfg.Metrics.Enabled {
		go func() {
			log.Info("metrics server listening", "address", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manifest, err := etl.NewRunner(cfg).Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("rebuild interrupted, previous generation stays live")
			os.Exit(1)
		}
		log.Error("rebuild failed", "error", err)
		os.Exit(1)
	}

	failed := 0
	for name, status := range manifest.Aggregates {
		if !status.OK {
			log.Warn("generation published with failed aggregate", "aggregate", name, "error", status.Error)
			failed++
		}
	}
	log.Info("done",
		"generation_id", manifest.GenerationID,
		"fact_rows", manifest.FactRows,
		"failed_aggregates", failed,
	)
}
