package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	t.Run("applies every migration", func(t *testing.T) {
		version, err := Migrate(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)

		current, latest, err := SchemaStatus(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, latest, current)
	})

	t.Run("is idempotent", func(t *testing.T) {
		version, err := Migrate(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})

	t.Run("enables foreign keys on pooled connections", func(t *testing.T) {
		var enabled int
		require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled))
		assert.Equal(t, 1, enabled)
	})

	t.Run("classifies unique violations", func(t *testing.T) {
		insert := `INSERT INTO broker_account (id, broker, broker_account_id, base_currency, created_at)
			VALUES (?, 'ibkr', 'U1', 'EUR', '2026-01-01T00:00:00.000000000Z')`
		_, err := db.ExecContext(ctx, insert, "a1")
		require.NoError(t, err)

		_, err = db.ExecContext(ctx, insert, "a2")
		require.Error(t, err)
		assert.True(t, IsUniqueViolation(err))
		assert.True(t, IsSQLiteError(err))
		assert.False(t, IsTransient(err))
	})

	t.Run("rejects fx rate updates", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `INSERT INTO fx_rate (id, asof_ts, source_currency, target_currency, rate, provider, created_at)
			VALUES ('r1', '2026-01-01T00:00:00.000000000Z', 'USD', 'EUR', '0.9', 'manual', '2026-01-01T00:00:00.000000000Z')`)
		require.NoError(t, err)

		_, err = db.ExecContext(ctx, `UPDATE fx_rate SET rate = '1' WHERE id = 'r1'`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "immutable")
	})
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("plain")))
}
