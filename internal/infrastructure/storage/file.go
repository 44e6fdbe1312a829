package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/erp/console/internal/application/bulk"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ bulk.ExportSink = (*FileSink)(nil)

// FileSink writes exports into a local directory
type FileSink struct {
	dir    string
	logger *zap.Logger
}

// NewFileSink creates a sink writing into dir, creating it when missing
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving export directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{dir: abs, logger: logger}, nil
}

// Save writes the export and returns its absolute path. The file appears
// under its final name only once fully written.
func (s *FileSink) Save(ctx context.Context, name string, blob listing.Blob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("invalid export name %q", name)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("creating export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing export file: %w", err)
	}

	target := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("saving export file: %w", err)
	}
	s.logger.Info("Export written", zap.String("path", target), zap.Int("bytes", len(blob.Data)))
	return target, nil
}

// Dir returns the export directory
func (s *FileSink) Dir() string {
	return s.dir
}

// NewSink builds the sink selected by the export configuration
func NewSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (bulk.ExportSink, error) {
	switch cfg.Export.Sink {
	case config.SinkFile, "":
		return NewFileSink(cfg.Export.Dir, logger)
	case config.SinkS3:
		return NewS3Sink(ctx, &cfg.Storage, WithLogger(logger))
	}
	return nil, errors.New("unknown export sink " + cfg.Export.Sink)
}
