// Package store persists openleash state in a SQL database: owners, agents,
// policies and their bindings, server keys and the audit log.
//
// SQLite (modernc.org/sqlite, no cgo) is the default for a local sidecar;
// Postgres (lib/pq) is supported for shared deployments. Queries are written
// with ? placeholders and rebound per dialect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/openleash/openleash/pkg/contracts"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: already exists")
)

// Dialect selects SQL syntax differences.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3", "":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return 0, fmt.Errorf("store: unsupported driver %q", driver)
}

func (d Dialect) driverName() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// SQLStore is the SQL-backed state store.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects to driver/dsn and applies migrations.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite && !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database without migrating it.
func New(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// WithClock overrides the time source.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == Postgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS owners (
			owner_principal_id TEXT PRIMARY KEY,
			principal_type TEXT NOT NULL,
			display_name TEXT NOT NULL,
			status TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_principal_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL UNIQUE,
			owner_principal_id TEXT NOT NULL REFERENCES owners(owner_principal_id),
			public_key_b64 TEXT NOT NULL,
			status TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			revoked_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS policies (
			policy_id TEXT PRIMARY KEY,
			owner_principal_id TEXT NOT NULL,
			applies_to_agent_principal_id TEXT,
			policy_yaml TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bindings (
			seq ` + serial + `,
			owner_principal_id TEXT NOT NULL,
			policy_id TEXT NOT NULL,
			applies_to_agent_principal_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS server_keys (
			kid TEXT PRIMARY KEY,
			public_key_b64 TEXT NOT NULL,
			private_key_b64 TEXT NOT NULL,
			created_at TEXT NOT NULL,
			revoked_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			seq ` + serial + `,
			event_id TEXT NOT NULL UNIQUE,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			principal_id TEXT,
			action_id TEXT,
			decision_id TEXT,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) getMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM meta WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: read meta %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLStore) setMeta(ctx context.Context, q execer, key, value string) error {
	query := `INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`
	if _, err := s.exec(ctx, q, query, key, value); err != nil {
		return fmt.Errorf("store: write meta %s: %w", key, err)
	}
	return nil
}

const (
	metaCreatedAt = "created_at"
	metaActiveKID = "active_kid"
	stateVersion  = 1
)

// Initialized reports whether Bootstrap has already run against this store.
func (s *SQLStore) Initialized(ctx context.Context) (bool, error) {
	_, ok, err := s.getMeta(ctx, metaCreatedAt)
	return ok, err
}

// InitialState is what Initialize writes to an empty store.
type InitialState struct {
	Key        contracts.ServerKey
	Owner      NewOwner
	PolicyYAML string
}

// Initialize writes the first signing key, an owner and a policy bound to
// that owner, then marks the store initialized. Either everything is written
// or nothing is. An already initialized store yields ErrConflict.
func (s *SQLStore) Initialize(ctx context.Context, in InitialState) (*contracts.Owner, *contracts.PolicyRecord, error) {
	var (
		owner  *contracts.Owner
		policy *contracts.PolicyRecord
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM meta WHERE key = ?`), metaCreatedAt).Scan(&n); err != nil {
			return fmt.Errorf("store: read meta %s: %w", metaCreatedAt, err)
		}
		if n > 0 {
			return fmt.Errorf("store: initialize: %w", ErrConflict)
		}
		if err := s.insertKey(ctx, tx, in.Key, true); err != nil {
			return err
		}
		var err error
		if owner, err = s.insertOwner(ctx, tx, in.Owner); err != nil {
			return err
		}
		policy = s.newPolicyRecord(NewPolicy{OwnerPrincipalID: owner.OwnerPrincipalID, PolicyYAML: in.PolicyYAML})
		if err := s.insertPolicy(ctx, tx, policy); err != nil {
			return err
		}
		return s.setMeta(ctx, tx, metaCreatedAt, formatTime(s.now()))
	})
	if err != nil {
		return nil, nil, err
	}
	return owner, policy, nil
}

// Summary is an overview of stored state.
type Summary struct {
	Version   int            `json:"version"`
	CreatedAt string         `json:"created_at"`
	Counts    map[string]int `json:"counts"`
	ActiveKID string         `json:"active_kid"`
}

// Summary counts the stored entities.
func (s *SQLStore) Summary(ctx context.Context) (*Summary, error) {
	out := &Summary{Version: stateVersion, Counts: map[string]int{}}
	var err error
	if out.CreatedAt, _, err = s.getMeta(ctx, metaCreatedAt); err != nil {
		return nil, err
	}
	if out.ActiveKID, _, err = s.getMeta(ctx, metaActiveKID); err != nil {
		return nil, err
	}
	tables := []struct{ name, table string }{
		{"owners", "owners"},
		{"agents", "agents"},
		{"policies", "policies"},
		{"bindings", "bindings"},
		{"keys", "server_keys"},
	}
	for _, t := range tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(&n); err != nil {
			return nil, fmt.Errorf("store: count %s: %w", t.table, err)
		}
		out.Counts[t.name] = n
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
