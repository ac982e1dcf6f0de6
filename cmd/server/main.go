package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexumdb/pkg/api"
	"nexumdb/pkg/config"
	"nexumdb/pkg/core"
	"nexumdb/pkg/network"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	httpAddr   string
	tcpAddr    string
	dataPath   string
)

var rootCmd = &cobra.Command{
	Use:   "nexum-server",
	Short: "NexumDB server (HTTP JSON API + binary TCP protocol)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if httpAddr != "" {
			cfg.Server.Addr = httpAddr
		}
		if tcpAddr != "" {
			cfg.Server.TCPAddr = tcpAddr
		}
		if dataPath != "" {
			cfg.Storage.Path = dataPath
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config file (optional)")
	rootCmd.Flags().StringVar(&httpAddr, "addr", "", "HTTP listen address (overrides config)")
	rootCmd.Flags().StringVar(&tcpAddr, "tcp-addr", "", "TCP listen address (overrides config)")
	rootCmd.Flags().StringVar(&dataPath, "data", "", "data directory (overrides config)")
}

func run(cfg *config.Config) error {
	logger, err := cfg.NewLogger(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := core.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	httpSrv := api.NewServer(db, logger)
	tcpSrv := network.NewTCPServer(db, logger)

	errCh := make(chan error, 2)
	go func() {
		if err := httpSrv.Start(cfg.Server.Addr); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := tcpSrv.Start(cfg.Server.TCPAddr); err != nil {
			errCh <- fmt.Errorf("tcp server: %w", err)
		}
	}()
	logger.Info("nexumdb started",
		zap.String("http", cfg.Server.Addr),
		zap.String("tcp", cfg.Server.TCPAddr),
		zap.String("data", cfg.Storage.Path))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := tcpSrv.Close(); err != nil {
		logger.Warn("tcp shutdown", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		logger.Error("close database", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
