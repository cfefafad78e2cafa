package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/HerbHall/tally/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tally.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func countRows(t *testing.T, s *SQLiteStore, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func journalMigration(version int, stmt string) plugin.Migration {
	return plugin.Migration{
		Version:     version,
		Description: stmt,
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(stmt)
			return err
		},
	}
}

func TestNew_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	s, err := New(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, path, s.Path())
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/to/db")
	assert.Error(t, err)
}

func TestNew_Memory(t *testing.T) {
	s, err := New(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DB().Exec("CREATE TABLE probe (id INTEGER)")
	require.NoError(t, err)
	// Same connection, same private database.
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM probe"))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestPragmas(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	var mode string
	require.NoError(t, s.DB().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.DB().QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestTx(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	_, err := s.DB().ExecContext(ctx, "CREATE TABLE deltas (id INTEGER PRIMARY KEY, value REAL)")
	require.NoError(t, err)

	err = s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO deltas (value) VALUES (5.0)")
		return err
	})
	require.NoError(t, err)

	errBoom := errors.New("boom")
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO deltas (value) VALUES (-5.0)"); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, 1, countRows(t, s, "SELECT COUNT(*) FROM deltas"))
}

func TestMigrate(t *testing.T) {
	tests := []struct {
		name        string
		migrations  []plugin.Migration
		wantErr     bool
		wantApplied int
	}{
		{
			name: "applies in order",
			migrations: []plugin.Migration{
				journalMigration(1, "CREATE TABLE counter_deltas (id INTEGER PRIMARY KEY, value REAL)"),
				journalMigration(2, "ALTER TABLE counter_deltas ADD COLUMN score REAL"),
			},
			wantApplied: 2,
		},
		{
			name: "failure rolls back",
			migrations: []plugin.Migration{
				journalMigration(1, "INVALID SQL STATEMENT"),
			},
			wantErr:     true,
			wantApplied: 0,
		},
		{
			name: "partial failure keeps earlier steps",
			migrations: []plugin.Migration{
				journalMigration(1, "CREATE TABLE partial (id INTEGER)"),
				journalMigration(2, "INVALID SQL"),
			},
			wantErr:     true,
			wantApplied: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tempDB(t)
			err := s.Migrate(context.Background(), "counter", tt.migrations)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			got := countRows(t, s, "SELECT COUNT(*) FROM _migrations WHERE plugin_name = ?", "counter")
			assert.Equal(t, tt.wantApplied, got)
		})
	}
}

func TestMigrate_SkipsApplied(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	calls := 0
	migrations := []plugin.Migration{{
		Version:     1,
		Description: "create table",
		Up: func(tx *sql.Tx) error {
			calls++
			_, err := tx.Exec("CREATE TABLE once (id INTEGER)")
			return err
		},
	}}

	require.NoError(t, s.Migrate(ctx, "counter", migrations))
	require.NoError(t, s.Migrate(ctx, "counter", migrations))
	assert.Equal(t, 1, calls)
}

func TestMigrate_ModulesIsolated(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx, "counter", []plugin.Migration{
		journalMigration(1, "CREATE TABLE counter_data (id INTEGER)"),
	}))
	require.NoError(t, s.Migrate(ctx, "mqtt", []plugin.Migration{
		journalMigration(1, "CREATE TABLE mqtt_data (id INTEGER)"),
	}))

	for _, table := range []string{"counter_data", "mqtt_data"} {
		n := countRows(t, s, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		assert.Equal(t, 1, n, "table %s", table)
	}
}

func TestClose(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "close.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name       string
		sequence   []string
		wantErr    error
		wantStored string
	}{
		{name: "first run records version", sequence: []string{"0.2.0"}, wantStored: "0.2.0"},
		{name: "same version", sequence: []string{"0.2.0", "0.2.0"}, wantStored: "0.2.0"},
		{name: "newer binary upgrades", sequence: []string{"0.2.0", "0.3.0"}, wantStored: "0.3.0"},
		{name: "patch upgrade", sequence: []string{"0.2.0", "v0.2.1"}, wantStored: "v0.2.1"},
		{name: "older binary rejected", sequence: []string{"0.3.0", "0.2.0"}, wantErr: ErrNewerSchema, wantStored: "0.3.0"},
		{name: "dev always passes", sequence: []string{"dev", "0.3.0", "dev"}, wantStored: "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()

			var err error
			for _, v := range tt.sequence {
				err = s.CheckVersion(ctx, v)
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			var stored string
			require.NoError(t, s.DB().QueryRowContext(ctx,
				"SELECT app_version FROM _schema_meta WHERE id = 1").Scan(&stored))
			assert.Equal(t, tt.wantStored, stored)
		})
	}
}

func TestMigrate_RejectsOutOfOrder(t *testing.T) {
	s := tempDB(t)
	err := s.Migrate(context.Background(), "counter", []plugin.Migration{
		journalMigration(2, "CREATE TABLE b (id INTEGER)"),
		journalMigration(1, "CREATE TABLE a (id INTEGER)"),
	})
	require.ErrorIs(t, err, ErrMigrationOrder)

	v, err := s.SchemaVersion(context.Background(), "counter")
	require.NoError(t, err)
	assert.Zero(t, v, "nothing applied when the list is rejected")
}

func TestSchemaVersion(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx, "counter")
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, s.Migrate(ctx, "counter", []plugin.Migration{
		journalMigration(1, "CREATE TABLE counter_deltas (id INTEGER)"),
		journalMigration(3, "ALTER TABLE counter_deltas ADD COLUMN score REAL"),
	}))
	v, err = s.SchemaVersion(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestCheckpoint(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx, "counter", []plugin.Migration{
		journalMigration(1, "CREATE TABLE counter_deltas (id INTEGER)"),
	}))
	require.NoError(t, s.Checkpoint(ctx))

	wal, err := os.Stat(s.Path() + "-wal")
	if err == nil {
		assert.Zero(t, wal.Size(), "WAL truncated")
	}

	mem, err := New(MemoryPath)
	require.NoError(t, err)
	defer mem.Close()
	assert.NoError(t, mem.Checkpoint(ctx))
}
