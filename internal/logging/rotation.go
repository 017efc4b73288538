package logging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// RotatingWriter appends to a log file and shifts it to name.1, name.2 and so
// on once it grows past a size limit. Only the newest backups are kept.
type RotatingWriter struct {
	name    string
	limit   int64
	backups int

	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewRotatingWriter opens (or creates) name for appending. Non-positive
// limits default to 20 MB and 3 backups.
func NewRotatingWriter(name string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 20
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o700); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}

	w := &RotatingWriter{name: name, limit: int64(maxSizeMB) << 20, backups: maxBackups}
	if err := w.reopen(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write never splits p across files; an oversized record starts a new file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, fs.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.shift(); err != nil {
			return 0, fmt.Errorf("rotate %s: %w", w.name, err)
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

// Close is idempotent; writes after it return fs.ErrClosed.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f := w.f
	w.f = nil
	if f == nil {
		return nil
	}
	return f.Close()
}

func (w *RotatingWriter) reopen() error {
	f, err := os.OpenFile(w.name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("log file: %w", err)
	}
	w.f, w.size = f, st.Size()
	return nil
}

func (w *RotatingWriter) shift() error {
	err := w.f.Close()
	w.f = nil
	if err != nil {
		return err
	}

	backup := func(n int) string {
		if n == 0 {
			return w.name
		}
		return w.name + "." + strconv.Itoa(n)
	}
	for n := w.backups; n > 0; n-- {
		if err := os.Rename(backup(n-1), backup(n)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return w.reopen()
}

// OpenOutput returns the log destination for Init. With a file name, records
// go to stderr and to a RotatingWriter; the closer flushes the file on exit.
func OpenOutput(name string, maxSizeMB, maxBackups int) (io.Writer, io.Closer, error) {
	if name == "" {
		return os.Stderr, stderrOnly{}, nil
	}
	w, err := NewRotatingWriter(name, maxSizeMB, maxBackups)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(os.Stderr, w), w, nil
}

type stderrOnly struct{}

func (stderrOnly) Close() error { return nil }
