// Package backup archives the tally database and configuration into a
// gzipped tarball and restores them.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // database/sql driver for VACUUM INTO
)

// Sentinel errors.
var (
	ErrNoDatabase    = errors.New("database file not found")
	ErrInvalidBackup = errors.New("invalid backup: archive does not contain a .db file")
	ErrTraversal     = errors.New("path traversal detected")
	ErrExists        = errors.New("file already exists (use -force to overwrite)")
	ErrCorrupt       = errors.New("restored database failed integrity check")
)

// Backup writes a consistent copy of the database, plus the config file when
// configPath is non-empty, to archivePath. The server may keep running: the
// copy is taken with VACUUM INTO, which reads through a single transaction.
func Backup(ctx context.Context, dbPath, configPath, archivePath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("%w: %s", ErrNoDatabase, dbPath)
	}

	tmpDir, err := os.MkdirTemp("", "tally-backup-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, filepath.Base(dbPath))
	if err := vacuumInto(ctx, dbPath, snapshot); err != nil {
		return err
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	files := []string{snapshot}
	if configPath != "" {
		files = append(files, configPath)
	}
	for _, f := range files {
		if err = addFile(tw, f); err != nil {
			break
		}
	}

	// Close in order; keep the first error.
	for _, c := range []io.Closer{tw, gw, out} {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		_ = os.Remove(archivePath)
		return fmt.Errorf("writing archive: %w", err)
	}
	return nil
}

func vacuumInto(ctx context.Context, src, dst string) error {
	db, err := sql.Open("sqlite", src)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("snapshotting database: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    0o600,
		ModTime: time.Now().UTC(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
