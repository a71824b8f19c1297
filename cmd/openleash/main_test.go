package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openleash/openleash/pkg/config"
	"github.com/openleash/openleash/pkg/server"
	"github.com/openleash/openleash/pkg/versioning"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"openleash"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const allowPolicy = `version: 1
default: deny
rules:
  - id: small-purchase
    effect: allow
    action: purchase
    constraints:
      amount_max: 5000
`

const purchaseAction = `{
  "action_id": "6f1c2a0e-3d4b-4c8e-9a51-0b7e2d3f4a10",
  "action_type": "purchase",
  "requested_at": "2026-01-01T00:00:00Z",
  "principal": {"agent_id": "shopper"},
  "subject": {"principal_id": "0d9b8f3e-5a2c-4e71-8b6d-2f4a1c9e7b35"},
  "payload": {"amount_minor": 100}
}`

func TestVersionAndUsage(t *testing.T) {
	code, out, _ := run(t, "version")
	if code != 0 || !strings.Contains(out, versioning.Current) {
		t.Fatalf("version: code=%d out=%q", code, out)
	}

	code, out, _ = run(t, "help")
	if code != 0 || !strings.Contains(out, "playground") {
		t.Fatalf("help: code=%d out=%q", code, out)
	}
	for _, cmd := range []string{"keys list|rotate|revoke <kid>", "policy validate <file|dir>"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("help does not list %q", cmd)
		}
	}

	code, _, errOut := run(t, "frobnicate")
	if code != 2 || !strings.Contains(errOut, "Unknown command: frobnicate") {
		t.Fatalf("unknown: code=%d err=%q", code, errOut)
	}
}

func TestInitAndKeys(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	code, out, errOut := run(t, "init", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("init: code=%d err=%q", code, errOut)
	}
	if !strings.Contains(out, "Created signing key") {
		t.Errorf("init output = %q", out)
	}

	// A second init refuses to clobber the config.
	if code, _, _ := run(t, "init", "--config", cfgPath); code != 2 {
		t.Errorf("second init code = %d, want 2", code)
	}
	code, out, _ = run(t, "init", "--config", cfgPath, "--force")
	if code != 0 || !strings.Contains(out, "already initialized") {
		t.Errorf("forced init: code=%d out=%q", code, out)
	}

	code, out, errOut = run(t, "keys", "list", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("keys list: code=%d err=%q", code, errOut)
	}
	if strings.Count(out, "active") != 1 {
		t.Errorf("keys list output = %q", out)
	}

	code, out, errOut = run(t, "keys", "rotate", "--config", cfgPath)
	if code != 0 || !strings.Contains(out, "Active key is now") {
		t.Fatalf("keys rotate: code=%d out=%q err=%q", code, out, errOut)
	}

	_, out, _ = run(t, "keys", "list", "--config", cfgPath)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two keys, got %q", out)
	}

	// The active key cannot be revoked.
	activeKID := ""
	for _, l := range lines[1:] {
		if strings.HasSuffix(l, "active") {
			activeKID = strings.Fields(l)[0]
		}
	}
	if code, _, _ := run(t, "keys", "revoke", activeKID, "--config", cfgPath); code != 1 {
		t.Errorf("revoking the active key: code=%d, want 1", code)
	}

	if code, _, _ := run(t, "keys"); code != 2 {
		t.Errorf("bare keys code = %d, want 2", code)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.AuditLogPath()); err != nil {
		t.Errorf("audit log missing: %v", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", allowPolicy)
	code, out, _ := run(t, "policy", "validate", good)
	if code != 0 || !strings.HasPrefix(out, "OK") {
		t.Fatalf("good policy: code=%d out=%q", code, out)
	}

	bad := writeFile(t, dir, "bad.yaml", "version: 7\nrules: nope\n")
	code, out, _ = run(t, "policy", "validate", bad)
	if code != 1 || out == "" {
		t.Fatalf("bad policy: code=%d out=%q", code, out)
	}

	code, out, _ = run(t, "policy", "validate", dir)
	if code != 1 || !strings.Contains(out, "bad.yaml") || strings.Contains(out, "good.yaml") {
		t.Fatalf("dir: code=%d out=%q", code, out)
	}

	if code, _, _ := run(t, "policy"); code != 2 {
		t.Errorf("bare policy code = %d, want 2", code)
	}
}

func TestPlayground(t *testing.T) {
	dir := t.TempDir()
	policy := writeFile(t, dir, "policy.yaml", allowPolicy)
	action := writeFile(t, dir, "action.json", purchaseAction)

	code, out, errOut := run(t, "playground", "--policy", policy, "--action", action)
	if code != 0 {
		t.Fatalf("playground: code=%d err=%q", code, errOut)
	}
	if !strings.Contains(out, `"result": "ALLOW"`) || !strings.Contains(out, `"action_hash"`) {
		t.Errorf("playground output = %s", out)
	}

	if code, _, _ := run(t, "playground", "--policy", policy); code != 2 {
		t.Errorf("missing --action code = %d, want 2", code)
	}
}

func TestHealth(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.RateLimit.RPS = 0

	srv, err := server.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = srv.Close() }()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, out, errOut := run(t, "health", "--url", ts.URL)
	if code != 0 || !strings.HasPrefix(out, "ok") {
		t.Fatalf("health: code=%d out=%q err=%q", code, out, errOut)
	}

	ts.Close()
	if code, _, _ := run(t, "health", "--url", ts.URL); code != 1 {
		t.Errorf("health against a stopped server: code=%d, want 1", code)
	}
}
