// Package main provides relayerd - the cross-chain HTLC relayer daemon.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klingon-tech/htlc-relayer/internal/config"
	"github.com/klingon-tech/htlc-relayer/internal/relayer"
	"github.com/klingon-tech/htlc-relayer/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir    = flag.String("data-dir", "~/.htlc-relayer", "Data directory")
		configFile = flag.String("config", "", "Config file path; only its directory is used, config.yaml is read from there (default: <data-dir>/config.yaml)")
		wsAddr     = flag.String("ws", "", "Push hub WebSocket listen address, overrides config")
		adminAddr  = flag.String("admin", "", "Admin query surface listen address, overrides config")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVer    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("relayerd %s (%s)\n", version, commit)
		return
	}

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	effectiveDataDir := *dataDir
	loadDir := effectiveDataDir
	if *configFile != "" {
		loadDir = dirOf(*configFile)
	}

	cfg, err := config.LoadConfig(loadDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	cfg.Store.DataDir = effectiveDataDir
	logLevelSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "log-level" {
			logLevelSet = true
		}
	})
	if logLevelSet || cfg.Logging.Level == "" {
		cfg.Logging.Level = *logLevel
	} else if cfg.Logging.Level != *logLevel {
		log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
		logging.SetDefault(log)
	}
	if *wsAddr != "" {
		cfg.Push.ListenAddr = *wsAddr
	}
	if *adminAddr != "" {
		cfg.Admin.ListenAddr = *adminAddr
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "error", err)
	}

	log.Info("config loaded", "path", config.ConfigPath(loadDir))

	svc, err := relayer.New(cfg)
	if err != nil {
		log.Fatal("failed to construct relayer", "error", err)
	}

	if err := svc.Start(); err != nil {
		log.Fatal("failed to start relayer", "error", err)
	}

	wsServer := &http.Server{Addr: cfg.Push.ListenAddr, Handler: svc.PushHub()}
	go func() {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("push hub websocket server error", "error", err)
		}
	}()

	printBanner(log, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down...")
	_ = wsServer.Close()
	svc.Stop()
}

func printBanner(log *logging.Logger, cfg *config.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  HTLC Relayer (%s)", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  EVM:  %s (chain %d)", cfg.EVM.RPCURL, cfg.EVM.ChainID)
	log.Infof("  Move: %s (%s)", cfg.Move.RPCURL, cfg.Move.Network)
	log.Info("")
	log.Infof("  Admin/health: http://%s", cfg.Admin.ListenAddr)
	log.Infof("  Push hub:     ws://%s", cfg.Push.ListenAddr)
	log.Info("")
	log.Infof("  Data dir: %s", cfg.Store.DataDir)
	log.Info("=================================================")
	log.Info("")
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
