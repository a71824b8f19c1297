package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/openleash/openleash/pkg/client"
	"github.com/openleash/openleash/pkg/config"
	"github.com/openleash/openleash/pkg/server"
)

// openServer is a variable to allow swapping in tests.
var openServer = server.Open

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	cfgPath := configFlag(fs)
	bind := fs.String("bind", "", "override server.bind_address")
	if code, ok := parseFlags(fs, args, stdout, stderr); !ok {
		return code
	}

	cfg, ok := loadConfig(*cfgPath, stderr)
	if !ok {
		return 2
	}
	if *bind != "" {
		cfg.Server.BindAddress = *bind
	}
	logger := newLogger(cfg.Log, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, boot, err := openAndBootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() { _ = srv.Close() }()
	if boot.Created {
		logger.Info("bootstrapped state store",
			"kid", boot.KID,
			"owner_principal_id", boot.OwnerPrincipalID,
			"policy_id", boot.PolicyID)
	}

	logger.Info("openleash listening", "bind_address", cfg.Server.BindAddress, "data_dir", cfg.DataDir)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", "error", err)
		return 1
	}
	logger.Info("openleash stopped")
	return 0
}

func openAndBootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Server, *server.BootstrapResult, error) {
	srv, err := openServer(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	boot, err := server.Bootstrap(ctx, srv.Store(), srv.Recorder())
	if err != nil {
		_ = srv.Close()
		return nil, nil, err
	}
	return srv, boot, nil
}

func runInitCmd(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	cfgPath := configFlag(fs)
	force := fs.Bool("force", false, "overwrite an existing config file")
	if code, ok := parseFlags(fs, args, stdout, stderr); !ok {
		return code
	}

	cfg := config.Default()
	cfg.DataDir = filepath.Join(filepath.Dir(*cfgPath), "data")
	if err := config.Write(*cfgPath, cfg, *force); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg, ok := loadConfig(*cfgPath, stderr)
	if !ok {
		return 2
	}
	srv, boot, err := openAndBootstrap(context.Background(), cfg, newLogger(cfg.Log, stderr))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = srv.Close() }()

	_, _ = fmt.Fprintf(stdout, "Wrote %s\n", *cfgPath)
	if boot.Created {
		_, _ = fmt.Fprintf(stdout, "Created signing key %s\n", boot.KID)
		_, _ = fmt.Fprintf(stdout, "Created owner %s with default-deny policy %s\n", boot.OwnerPrincipalID, boot.PolicyID)
	} else {
		_, _ = fmt.Fprintf(stdout, "State store already initialized (active key %s)\n", boot.KID)
	}
	return 0
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("health", pflag.ContinueOnError)
	url := fs.String("url", envOr("OPENLEASH_URL", client.DefaultBaseURL), "sidecar base URL")
	if code, ok := parseFlags(fs, args, stdout, stderr); !ok {
		return code
	}

	c := client.New(*url)
	ctx := context.Background()
	h, err := c.Health(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	if err := c.CheckCompatibility(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: %v\n", err)
	}
	_, _ = fmt.Fprintf(stdout, "%s (version %s, %s)\n", h.Status, h.Version, h.Time)
	return 0
}
