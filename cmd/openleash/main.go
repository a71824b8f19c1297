// Command openleash runs the authorization sidecar and its operator tools.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/openleash/openleash/pkg/config"
	"github.com/openleash/openleash/pkg/versioning"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServeCmd(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "init":
		return runInitCmd(args[2:], stdout, stderr)
	case "keys":
		return runKeysCmd(args[2:], stdout, stderr)
	case "policy":
		return runPolicyCmd(args[2:], stdout, stderr)
	case "playground":
		return runPlaygroundCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintln(stdout, versioning.Info().String())
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runServeCmd(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "openleash %s: local authorization sidecar for AI agents\n\n", versioning.Current)
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  openleash <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	for _, c := range [][2]string{
		{"serve", "Run the sidecar (default)"},
		{"init", "Write a default config and bootstrap the state store"},
		{"keys list|rotate|revoke <kid>", "Manage server signing keys"},
		{"policy validate <file|dir>", "Check policy files against the schema"},
		{"playground", "Evaluate an action against a policy (--policy, --action)"},
		{"health", "Check a running sidecar (--url)"},
		{"version", "Print version information"},
	} {
		_, _ = fmt.Fprintf(w, "  %-30s %s\n", c[0], c[1])
	}
}

// configFlag registers the shared --config flag on fs.
func configFlag(fs *pflag.FlagSet) *string {
	return fs.StringP("config", "c", envOr("OPENLEASH_CONFIG", "./config.yaml"), "path to config.yaml")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseFlags parses args, printing usage on --help. The returned code is
// meaningful only when ok is false.
func parseFlags(fs *pflag.FlagSet, args []string, stdout, stderr io.Writer) (code int, ok bool) {
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			fs.SetOutput(stdout)
			fs.PrintDefaults()
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

// loadConfig loads and validates the configuration at path.
func loadConfig(path string, stderr io.Writer) (*config.Config, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return nil, false
	}
	return cfg, true
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
