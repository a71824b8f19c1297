package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := New(nil, Postgres)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := New(nil, SQLite)
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestPostgres_LookupAgentUsesNumberedPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db, Postgres)
	rows := sqlmock.NewRows([]string{"agent_principal_id", "agent_id", "owner_principal_id", "public_key_b64", "status", "attributes", "created_at", "revoked_at"}).
		AddRow("ap-1", "agent-1", "owner-1", "cHVi", "ACTIVE", `{"k":"v"}`, "2026-01-01T00:00:00Z", nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM agents WHERE agent_id = $1")).
		WithArgs("agent-1").
		WillReturnRows(rows)

	a, err := s.LookupAgentByExternalID(context.Background(), "agent-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "ap-1", a.AgentPrincipalID)
	assert.Equal(t, "v", a.Attributes["k"])
	assert.Nil(t, a.RevokedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreatePolicyIsTransactional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db, Postgres).WithClock(func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO policies")).
		WithArgs(sqlmock.AnyArg(), "owner-1", sqlmock.AnyArg(), "version: 1", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bindings (owner_principal_id, policy_id, applies_to_agent_principal_id) VALUES ($1, $2, $3)")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = s.CreatePolicy(context.Background(), NewPolicy{OwnerPrincipalID: "owner-1", PolicyYAML: "version: 1"})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MigrateUsesBigserial(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"meta", "owners", "agents", "policies"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS bindings \(\s+seq BIGSERIAL PRIMARY KEY`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS server_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS audit_events \(\s+seq BIGSERIAL PRIMARY KEY`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, New(db, Postgres).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
