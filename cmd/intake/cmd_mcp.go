package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"medintake/internal/config"
	"medintake/internal/logging"
	intakemcp "medintake/internal/mcp"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	mcpHTTPAddr      string
	mcpWatchConfig   bool
	mcpJanitorPeriod time.Duration
)

// mcpCmd serves the intake tools over the Model Context Protocol
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve intake tools over MCP (stdio or HTTP)",
	Long: `Starts a Model Context Protocol server exposing the intake pipeline:
  intake_turn           - send a patient message to a conversation
  intake_validate       - validate and normalize a record
  intake_session        - inspect or delete a conversation
  intake_sessions       - list conversations
  intake_consultations  - list booked consultations

The server speaks stdio by default; pass --http to listen on an address.
Idle sessions are expired in the background and the config file is watched
for changes unless --watch=false.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpHTTPAddr, "http", "", "Listen for streamable HTTP on this address instead of stdio")
	mcpCmd.Flags().BoolVar(&mcpWatchConfig, "watch", true, "Reload the pipeline when the config file changes")
	mcpCmd.Flags().DurationVar(&mcpJanitorPeriod, "janitor", time.Minute, "How often idle sessions are expired")
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(false)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := intakemcp.NewServer(intakemcp.ServerConfig{Service: a.svc, Version: a.cfg.Version})

	if mcpWatchConfig {
		path := resolveConfigPath()
		w, err := config.NewWatcher(path, func(cfg *config.Config) {
			if err := a.svc.Reconfigure(ctx, cfg); err != nil {
				logger.Warn("config reload rejected", zap.String("path", path), zap.Error(err))
				return
			}
			logging.Reconfigure(cfg.Logging.Settings())
			logger.Info("config reloaded", zap.String("path", path), zap.String("extractor", a.svc.Extractor()))
		})
		if err != nil {
			logger.Warn("config watching disabled", zap.Error(err))
		} else {
			if err := w.Start(ctx); err != nil {
				logger.Warn("config watching disabled", zap.Error(err))
			}
			defer w.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.svc.RunJanitor(gctx, mcpJanitorPeriod)
	})
	g.Go(func() error {
		// The janitor only stops with the context, so serving must cancel it.
		defer cancel()
		if mcpHTTPAddr != "" {
			fmt.Fprintf(os.Stderr, "intake MCP server listening on http://%s/mcp\n", mcpHTTPAddr)
			return intakemcp.ServeHTTP(gctx, srv, mcpHTTPAddr)
		}
		return intakemcp.ServeStdio(gctx, srv, os.Stdin, os.Stdout)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
