// swerex-server is the sandboxed command-execution server. It exposes
// persistent bash sessions, a one-shot executor and file transfer over
// an authenticated HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/swe-agent/swe-rex/internal/config"
	"github.com/swe-agent/swe-rex/internal/logging"
	"github.com/swe-agent/swe-rex/internal/runtime"
	"github.com/swe-agent/swe-rex/internal/server"
)

var (
	flagConfig    string
	flagHost      string
	flagPort      int
	flagAPIKey    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "swerex-server",
	Short: "Remote command-execution server for agent sandboxes",
	Long: `swerex-server runs inside a sandbox (container, VM, cloud task)
and lets a client drive persistent bash sessions, one-shot commands and
file transfers over HTTP.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&flagHost, "host", "", "listen address (overrides config)")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")
	rootCmd.Flags().StringVar(&flagAPIKey, "api-key", "", "shared API key; falls back to "+config.APIKeyEnvVar)
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&flagLogFormat, "log-format", "", "log format: text, json")
}

func run(cmd *cobra.Command, args []string) error {
	// Optional .env so the API key can be kept out of unit files.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(flagConfig)
	if err != nil {
		return err
	}
	applyFlags(cfg)
	cfg.ResolveAPIKey()

	if err := logging.Init(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	rt := runtime.NewLocal(cfg)
	srv := server.New(&server.Config{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		APIKey: cfg.Server.APIKey,
	}, rt)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info("shutting down", logging.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(ctx)
	return nil
}

func applyFlags(cfg *config.Config) {
	if flagHost != "" {
		cfg.Server.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagAPIKey != "" {
		cfg.Server.APIKey = flagAPIKey
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Logging.Format = flagLogFormat
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
