package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finsync/internal/remote"
)

func TestRunAppliesSQLiteMigrations(t *testing.T) {
	t.Setenv("FINSYNC_CONFIG", "")
	t.Setenv("FINSYNC_REMOTE_DRIVER", "")
	t.Setenv("FINSYNC_REMOTE_DSN", "")
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "db", "finsync.db")

	require.NoError(t, run(ctx, []string{"-driver", "sqlite", "-dsn", dsn}, zerolog.Nop()))
	require.NoError(t, run(ctx, []string{"-driver", "sqlite", "-dsn", dsn}, zerolog.Nop()), "second run is a no-op")

	db, err := remote.OpenDB(ctx, remote.SQLite, dsn)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRunList(t *testing.T) {
	t.Setenv("FINSYNC_CONFIG", "")
	require.NoError(t, run(context.Background(), []string{"-driver", "postgres", "-list"}, zerolog.Nop()))
}

func TestRunRequiresDriver(t *testing.T) {
	t.Setenv("FINSYNC_CONFIG", "")
	t.Setenv("FINSYNC_REMOTE_DRIVER", "")
	err := run(context.Background(), nil, zerolog.Nop())
	require.Error(t, err)
}

func TestRunRejectsUnknownDriver(t *testing.T) {
	t.Setenv("FINSYNC_CONFIG", "")
	err := run(context.Background(), []string{"-driver", "oracle", "-dsn", "x"}, zerolog.Nop())
	require.Error(t, err)
}
