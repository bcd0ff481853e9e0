package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agenthands/annals/internal/config"
	"github.com/agenthands/annals/internal/core"
	"github.com/agenthands/annals/internal/logger"
)

var (
	configPath string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:   "annals",
		Short: "Build and repair a knowledge graph of historical persons from chronicle text",
		Long: `annals extracts persons, organizations, events and places from an ordered
chronicle, resolves them against the graph incrementally and repairs the
resolution errors that slip through.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load .env: %w", err)
			}
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			logger.Setup(cfg.Log)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the TOML config (default $CONFIG_PATH)")
}

// open connects to the graph for a command and cancels on SIGINT/SIGTERM.
func open(cmd *cobra.Command, withLLM bool) (context.Context, *core.Builder, func(), error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	b, err := core.Open(ctx, cfg, withLLM)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := b.Close(context.Background()); err != nil {
			logger.Warn("close graph driver", "err", err)
		}
		stop()
	}
	return ctx, b, cleanup, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
