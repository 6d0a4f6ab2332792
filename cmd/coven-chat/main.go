// ABOUTME: Entry point for coven-chat, a terminal client for gateway conversation threads
// ABOUTME: Builds the cobra command tree and the shared config, logger and collaborators

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/transport"
)

// Version is set by goreleaser at build time.
var version = "dev"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	server     string
	logLevel   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "coven-chat",
		Short:         "Follow and talk to coven gateway conversation threads",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default $"+config.PathEnv+" or ~/.config/coven/chat.yaml)")
	root.PersistentFlags().StringVar(&flags.server, "server", "", "gateway URL, overrides gateway.url")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newAttachCmd(&flags))
	root.AddCommand(newReplayCmd(&flags))
	root.AddCommand(newStatusCmd(&flags))
	root.AddCommand(newThreadsCmd(&flags))
	return root
}

// loadConfig reads the config named by --config, or the default location,
// and applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.Load(flags.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flags.server != "" {
		cfg.Gateway.URL = flags.server
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// openLog opens the local event log. An empty database path keeps it in memory.
func openLog(cfg config.DatabaseConfig, logger *slog.Logger) (store.EventLog, error) {
	if cfg.Path == "" {
		return store.NewMemoryStore(), nil
	}
	log, err := store.OpenSQLite(cfg.Driver, cfg.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return log, nil
}

// resolveToken picks the configured token, else COVEN_TOKEN or the token
// file, and refuses one that has already expired.
func resolveToken(cfg config.GatewayConfig) (*transport.Token, error) {
	raw := cfg.Token
	if raw == "" {
		raw = transport.LoadToken()
	}
	if raw == "" {
		return nil, nil
	}
	tok, err := transport.InspectToken(raw, time.Now())
	if transport.IsExpired(err) {
		return nil, fmt.Errorf("%w; refresh the token file or set %s", err, transport.TokenEnv)
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// newClient builds the HTTP gateway client from cfg.
func newClient(cfg *config.Config, logger *slog.Logger) (*transport.Client, string, error) {
	tok, err := resolveToken(cfg.Gateway)
	if err != nil {
		return nil, "", err
	}
	var raw string
	if tok != nil {
		raw = tok.Raw
		logger.Debug("using bearer token", "subject", tok.Subject, "expires", tok.Expires)
	}
	sender := cfg.Gateway.Sender
	if sender == "" && tok != nil {
		sender = tok.Subject
	}
	client := transport.NewClient(cfg.Gateway.URL, transport.ClientOptions{
		Sender: sender,
		Token:  raw,
		Logger: logger,
	})
	return client, raw, nil
}
