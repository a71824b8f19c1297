package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/openleash/openleash/pkg/crypto"
	"github.com/openleash/openleash/pkg/server"
)

func runKeysCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: openleash keys <list|rotate|revoke <kid>>")
		return 2
	}
	sub := args[0]

	fs := pflag.NewFlagSet("keys "+sub, pflag.ContinueOnError)
	cfgPath := configFlag(fs)
	if code, ok := parseFlags(fs, args[1:], stdout, stderr); !ok {
		return code
	}
	cfg, ok := loadConfig(*cfgPath, stderr)
	if !ok {
		return 2
	}

	ctx := context.Background()
	srv, _, err := openAndBootstrap(ctx, cfg, newLogger(cfg.Log, stderr))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = srv.Close() }()

	switch sub {
	case "list":
		keys, err := srv.Store().ListServerKeys(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		active, err := srv.Store().ActiveKID(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "KID\tCREATED\tSTATUS")
		for _, k := range keys {
			status := "valid"
			switch {
			case k.KID == active:
				status = "active"
			case k.Revoked():
				status = "revoked"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", k.KID, crypto.FormatTimestamp(k.CreatedAt), status)
		}
		_ = tw.Flush()
	case "rotate":
		rot, err := server.RotateKey(ctx, srv.Store(), srv.Recorder())
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "Active key is now %s (previous %s)\n", rot.ActiveKID, rot.PreviousKID)
	case "revoke":
		if fs.NArg() != 1 {
			_, _ = fmt.Fprintln(stderr, "Usage: openleash keys revoke <kid>")
			return 2
		}
		if err := server.RevokeKey(ctx, srv.Store(), srv.Recorder(), fs.Arg(0)); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "Revoked %s\n", fs.Arg(0))
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown keys command: %s\n", sub)
		return 2
	}
	return 0
}
