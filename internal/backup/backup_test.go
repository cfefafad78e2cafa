package backup_test

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HerbHall/tally/internal/backup"
	"github.com/HerbHall/tally/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// createTestDB creates a tally database through the store (WAL mode) and
// leaves it open so rows may still sit in the WAL file.
func createTestDB(t *testing.T, dir string) string {
	t.Helper()

	dbPath := filepath.Join(dir, "tally.db")
	db, err := store.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.DB().Exec(`
		CREATE TABLE test_data (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO test_data (id, name) VALUES (1, 'washer'), (2, 'bolt');
	`)
	require.NoError(t, err)
	return dbPath
}

func createTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "tally.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  port: 8080\n"), 0o600))
	return cfgPath
}

func verifyDBContents(t *testing.T, dbPath string) {
	t.Helper()

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test_data").Scan(&count))
	assert.Equal(t, 2, count)

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM test_data WHERE id = 1").Scan(&name))
	assert.Equal(t, "washer", name)
}

func writeArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.tar.gz")

	f, err := os.Create(path)
	require.NoError(t, err)
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for name, body := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(body)), Mode: 0o600, Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestBackupRestore(t *testing.T) {
	tests := []struct {
		name       string
		withConfig bool
		existing   bool
		force      bool
		missingDB  bool
		backupErr  error
		restoreErr error
	}{
		{name: "round trip with config", withConfig: true},
		{name: "round trip without config"},
		{name: "missing database", missingDB: true, backupErr: backup.ErrNoDatabase},
		{name: "no force existing DB", existing: true, restoreErr: backup.ErrExists},
		{name: "force existing DB", existing: true, force: true},
	}

	ctx := context.Background()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srcDir, restoreDir := t.TempDir(), t.TempDir()
			archivePath := filepath.Join(t.TempDir(), "backup.tar.gz")

			dbPath := filepath.Join(srcDir, "nonexistent.db")
			if !tc.missingDB {
				dbPath = createTestDB(t, srcDir)
			}
			cfgPath := ""
			if tc.withConfig {
				cfgPath = createTestConfig(t, srcDir)
			}
			if tc.existing {
				require.NoError(t, os.WriteFile(filepath.Join(restoreDir, "tally.db"), []byte("old"), 0o600))
			}

			err := backup.Backup(ctx, dbPath, cfgPath, archivePath)
			if tc.backupErr != nil {
				require.ErrorIs(t, err, tc.backupErr)
				assert.NoFileExists(t, archivePath)
				return
			}
			require.NoError(t, err)

			err = backup.Restore(ctx, archivePath, restoreDir, tc.force)
			if tc.restoreErr != nil {
				require.ErrorIs(t, err, tc.restoreErr)
				return
			}
			require.NoError(t, err)

			verifyDBContents(t, filepath.Join(restoreDir, "tally.db"))
			if tc.withConfig {
				data, err := os.ReadFile(filepath.Join(restoreDir, "tally.yaml"))
				require.NoError(t, err)
				assert.NotEmpty(t, data)
			}
		})
	}
}

func TestRestore_CorruptArchive(t *testing.T) {
	corruptPath := filepath.Join(t.TempDir(), "corrupt.tar.gz")
	require.NoError(t, os.WriteFile(corruptPath, []byte("not a valid gzip"), 0o600))

	assert.Error(t, backup.Restore(context.Background(), corruptPath, t.TempDir(), false))
}

func TestRestore_PathTraversal(t *testing.T) {
	tests := []string{"../../../etc/evil.db", "/etc/evil.db"}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			archive := writeArchive(t, map[string]string{name: "evil"})
			err := backup.Restore(context.Background(), archive, t.TempDir(), false)
			assert.ErrorIs(t, err, backup.ErrTraversal)
		})
	}
}

func TestRestore_NoDBInArchive(t *testing.T) {
	archive := writeArchive(t, map[string]string{"tally.yaml": "hello"})

	err := backup.Restore(context.Background(), archive, t.TempDir(), false)
	assert.ErrorIs(t, err, backup.ErrInvalidBackup)
}

func TestRestore_CanceledContext(t *testing.T) {
	archive := writeArchive(t, map[string]string{"tally.db": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, backup.Restore(ctx, archive, t.TempDir(), false), context.Canceled)
}

func TestRestore_CorruptDatabase(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		"tally.db": strings.Repeat("not a sqlite file ", 256),
	})

	err := backup.Restore(context.Background(), archive, t.TempDir(), false)
	require.ErrorIs(t, err, backup.ErrCorrupt)
}
