package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := &DB{Driver: "postgres"}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b > $2", pg.Rebind("SELECT * FROM t WHERE a = ? AND b > ?"))

	lite := &DB{Driver: "sqlite"}
	assert.Equal(t, "SELECT ? ", lite.Rebind("SELECT ? "))
}

func TestOpenSQLiteCreatesTables(t *testing.T) {
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.CreateTables(ctx))
	// idempotent
	require.NoError(t, db.CreateTables(ctx))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM search_events`).Scan(&n))
	assert.Zero(t, n)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open("sqlite", "")
	assert.Error(t, err)

	_, err = Open("mysql", "dsn")
	assert.ErrorContains(t, err, "unsupported")
}
