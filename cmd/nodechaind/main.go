// Command nodechaind runs a single proof-of-stake simulation node: it
// loads its configuration, recovers or initializes its chain, dials the
// relay, and drives the interactive REPL described in §6 until "exit" or
// a shutdown signal.
//
// Usage:
//
//	nodechaind --node-id=alice [options]
//	nodechaind --help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GZK1108/posnet/config"
	klog "github.com/GZK1108/posnet/internal/log"
	"github.com/GZK1108/posnet/internal/node"
	"github.com/GZK1108/posnet/internal/repl"
)

func main() {
	// ── 1. Load config (defaults → file → flags) ─────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/node.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithNodeID(cfg.NodeID)

	logger.Info().
		Str("server", cfg.Server.Addr()).
		Bool("vote_enabled", cfg.Vote.Enabled).
		Msg("starting posnet node")

	// ── 3. Build + start the node ─────────────────────────────────────
	n, err := node.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct node")
	}
	if err := n.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start node")
	}

	// ── 4. Shutdown on signal while the REPL runs on stdin ────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		n.Stop()
		os.Exit(0)
	}()

	repl.NewStdio(n).Run(cfg.NodeID)

	logger.Info().Msg("goodbye")
}
