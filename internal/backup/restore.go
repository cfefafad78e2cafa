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
	"strings"
)

// maxEntrySize bounds a single extracted file.
const maxEntrySize = 4 << 30

// Restore extracts a backup archive to targetDir. Existing files are only
// overwritten when force is true.
func Restore(ctx context.Context, archivePath, targetDir string, force bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("decompressing archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}
	root, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving target directory: %w", err)
	}

	tr := tar.NewReader(gr)
	foundDB := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dest, err := entryPath(root, hdr.Name)
		if err != nil {
			return err
		}
		if !force {
			if _, err := os.Stat(dest); err == nil {
				return fmt.Errorf("%w: %s", ErrExists, dest)
			}
		}
		if err := extract(tr, dest); err != nil {
			return fmt.Errorf("extracting %s: %w", hdr.Name, err)
		}
		if strings.HasSuffix(hdr.Name, ".db") {
			if err := verify(ctx, dest); err != nil {
				return err
			}
			foundDB = true
		}
	}

	if !foundDB {
		return ErrInvalidBackup
	}
	return nil
}

// verify runs SQLite's integrity check on a restored database.
func verify(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening restored database: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, filepath.Base(dbPath), err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s: %s", ErrCorrupt, filepath.Base(dbPath), result)
	}
	return nil
}

// entryPath resolves an archive entry name inside root, rejecting names that
// would land outside it.
func entryPath(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %q", ErrTraversal, name)
	}
	dest := filepath.Join(root, filepath.Clean(name))
	if !strings.HasPrefix(dest, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrTraversal, name)
	}
	return dest, nil
}

func extract(r io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(r, maxEntrySize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxEntrySize {
		err = errors.New("entry exceeds size limit")
	}
	return err
}
