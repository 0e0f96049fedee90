// Package main runs the browser automation HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/entrhq/browser-api/pkg/browser"
	"github.com/entrhq/browser-api/pkg/config"
	"github.com/entrhq/browser-api/pkg/logging"
	"github.com/entrhq/browser-api/pkg/metrics"
	"github.com/entrhq/browser-api/pkg/server"
	"github.com/entrhq/browser-api/pkg/session"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "browser-api",
		Short: "HTTP API for driving headless browsers",
		Long: `Serves a JSON API that launches Playwright browser sessions and drives them:
navigate, read content, click, take screenshots and close.

Example:
  browser-api --port 3000 --config browser-api.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config and PORT)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newInstallCmd(), newConfigCmd())
	return rootCmd
}

func newInstallCmd() *cobra.Command {
	var engineName string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download the Playwright driver and browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := browser.NewPlaywrightEngine(browser.EngineOptions{
				Browser: engineName,
				Output:  cmd.OutOrStdout(),
			})
			return engine.Install()
		},
	}
	cmd.Flags().StringVar(&engineName, "browser", "chromium", "Browser to install (chromium, firefox, webkit)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			if err := config.Save(args[0], config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	})
	return cmd
}

// loadConfig resolves configuration and applies flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("port") {
		port, err := cmd.Flags().GetInt("port")
		if err != nil {
			return nil, fmt.Errorf("failed to get port flag: %w", err)
		}
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("log-level") {
		level, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return nil, fmt.Errorf("failed to get log-level flag: %w", err)
		}
		cfg.Logging.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logCfg, err := cfg.LogConfig()
	if err != nil {
		return err
	}
	if err := logging.Configure(logCfg); err != nil {
		return err
	}
	logger, err := logging.NewLogger("main")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	defer logger.Close()

	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("starting browser-api v%s (instance %s)", version, logging.GetInstanceID())

	engine := browser.NewPlaywrightEngine(browser.EngineOptions{
		Browser: cfg.Browser.Engine,
		Install: cfg.Browser.Install,
		Output:  logger.Writer(),
	})
	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start browser engine: %w", err)
	}

	m := metrics.New()
	registry := session.NewRegistry(engine, session.Options{
		Launch:      cfg.LaunchOptions(),
		MaxSessions: cfg.Browser.MaxSessions,
		Observer:    m,
		Logger:      logger.Named("registry"),
	})

	srv, err := server.New(cfg, registry,
		server.WithMetrics(m),
		server.WithLogger(logger.Named("server")),
	)
	if err != nil {
		_ = engine.Close()
		return err
	}

	serveErr := srv.Start(ctx)

	// Browsers outlive the HTTP server only until here
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := registry.CloseAll(closeCtx); err != nil {
		logger.Warnf("closing sessions: %v", err)
	}
	if err := engine.Close(); err != nil {
		logger.Warnf("stopping browser engine: %v", err)
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Infof("shutdown complete")
	return nil
}
