package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// writeAtomic writes path through a temp file in the same directory and
// renames it into place only after writeFunc, Sync and Close all succeed. On
// failure the temp file is removed and an existing path is left untouched.
// It returns the number of bytes published.
func writeAtomic(path string, perm os.FileMode, writeFunc func(io.Writer) error) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: create directory %s: %v", ErrIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return 0, fmt.Errorf("%w: create temp file: %v", ErrIO, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	cw := &countingWriter{w: tmp}
	if err := writeFunc(cw); err != nil {
		return 0, fmt.Errorf("%w: write: %w", ErrIO, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return 0, fmt.Errorf("%w: chmod: %v", ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("%w: rename to %s: %v", ErrIO, path, err)
	}
	committed = true

	// The archive is already in place; a failed directory fsync only weakens durability.
	_ = fsyncDir(dir)
	return cw.n, nil
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
