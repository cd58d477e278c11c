package main

//	@title			RelayScan API
//	@version		0.1.0
//	@description	Discovery and reconciliation of Shelly-style IoT relays across customer sites.
//	@BasePath		/api/v1

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/HerbHall/relayscan/api/swagger"
	"github.com/HerbHall/relayscan/internal/server"
	"github.com/HerbHall/relayscan/internal/version"
	"github.com/HerbHall/relayscan/internal/ws"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "scan":
			os.Exit(runScan(os.Args[2:]))
		case "backup":
			os.Exit(runBackup(os.Args[2:]))
		case "restore":
			os.Exit(runRestore(os.Args[2:]))
		case "config":
			os.Exit(runConfig(os.Args[2:]))
		case "version":
			fmt.Println(version.Info())
			return
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	os.Exit(runServe(*configPath))
}

func runServe(configPath string) int {
	v, logger, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting relayscan",
		zap.String("version", version.Short()),
		zap.String("git_commit", version.GitCommit),
	)

	srvCfg, err := server.ServerConfig(v)
	if err != nil {
		logger.Error("invalid server configuration", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, v, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}

	events := ws.NewHandler(a.bus, logger.Named("ws"), srvCfg.AllowedOrigins)
	srv := server.New(srvCfg.Addr(), a.reg, logger, a.db.Ping, srvCfg.Options(), events)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Fprintf(os.Stderr, "\n  RelayScan %s\n  API:     http://%s/api/v1\n  Events:  ws://%s/api/v1/ws/events\n\n",
		version.Short(), srvCfg.Addr(), srvCfg.Addr())

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
			code = 1
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(v))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	events.Close()
	a.close(shutdownCtx)

	logger.Info("relayscan stopped")
	return code
}
