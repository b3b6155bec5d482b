package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/barc/reactivemover/internal/logging"
	"github.com/barc/reactivemover/internal/node"
)

func main() {
	configPath := flag.String("config", "cmd/reactivemover/config.toml", "path to node config (TOML)")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := logging.Component("reactivemover")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reactivemover: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reactivemover: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("config", *configPath).Str("run_id", n.RunID()).Msg("reactivemover starting")
	if err := n.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("reactivemover control loop failed")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("reactivemover shutdown")
}
