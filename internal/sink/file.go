package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

// FileConfig describes a local output file.
type FileConfig struct {
	Path   string
	Format Format
	Meta   Meta
}

// File rewrites a local CSV or JSON file on every flush.
type File struct {
	path   string
	format Format
	meta   Meta
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFile creates the parent directory and checks it is writable.
func NewFile(cfg FileConfig, logger *zap.Logger) (*File, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, validator.NewConfigurationError("output.path", fmt.Errorf("path is required"))
	}
	if cfg.Format == "" {
		cfg.Format = FormatCSV
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, validator.NewConfigurationError("output.path", fmt.Errorf("create output directory: %w", err))
	}
	check, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return nil, validator.NewConfigurationError("output.path", fmt.Errorf("output directory is not writable: %w", err))
	}
	_ = check.Close()
	_ = os.Remove(check.Name())
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{path: cfg.Path, format: cfg.Format, meta: cfg.Meta, logger: logger}, nil
}

// Path returns the destination file.
func (f *File) Path() string {
	return f.path
}

// Append is a no-op; the file is only written as a whole.
func (f *File) Append(context.Context, validator.Result) error {
	return nil
}

// Flush writes results to a temp file in the destination directory and
// renames it over the destination.
func (f *File) Flush(_ context.Context, results []validator.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	w := bufio.NewWriter(tmp)
	if err := Encode(w, f.format, f.meta, results); err != nil {
		cleanup()
		return err
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("write temp output: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp output: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace output: %w", err)
	}
	f.logger.Debug("results flushed", zap.String("path", f.path), zap.Int("count", len(results)))
	return nil
}

// Close implements validator.ResultSink.
func (f *File) Close() error {
	return nil
}
