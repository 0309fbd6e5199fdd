package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

// GCSConfig selects the mirror object.
type GCSConfig struct {
	Bucket string
	Object string
	Format Format
	Meta   Meta
}

// GCS mirrors every flush to one object in a bucket. Object writes are atomic
// in GCS, so readers see either the previous or the new snapshot.
type GCS struct {
	client *storage.Client
	owned  bool
	cfg    GCSConfig
	logger *zap.Logger
}

// NewGCS creates a GCS sink with a client built from application default
// credentials.
func NewGCS(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s, err := NewGCSWithClient(client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewGCSWithClient wraps an existing client (primarily for testing). The
// caller keeps ownership of client.
func NewGCSWithClient(client *storage.Client, cfg GCSConfig, logger *zap.Logger) (*GCS, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, validator.NewConfigurationError("sinks.gcs.bucket", fmt.Errorf("bucket name is required"))
	}
	if cfg.Format == "" {
		cfg.Format = FormatCSV
	}
	if strings.TrimSpace(cfg.Object) == "" {
		cfg.Object = "results/" + cfg.Meta.RunID + cfg.Format.Extension()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCS{client: client, cfg: cfg, logger: logger}, nil
}

// URI returns the gs:// location of the mirror.
func (s *GCS) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, s.cfg.Object)
}

// Append is a no-op; the object is replaced on flush.
func (s *GCS) Append(context.Context, validator.Result) error {
	return nil
}

// Flush uploads the full result set.
func (s *GCS) Flush(ctx context.Context, results []validator.Result) error {
	var buf bytes.Buffer
	if err := Encode(&buf, s.cfg.Format, s.cfg.Meta, results); err != nil {
		return err
	}
	writer := s.client.Bucket(s.cfg.Bucket).Object(s.cfg.Object).NewWriter(ctx)
	writer.ContentType = s.cfg.Format.ContentType()
	if _, err := io.Copy(writer, &buf); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	s.logger.Debug("results mirrored", zap.String("uri", s.URI()), zap.Int("count", len(results)))
	return nil
}

// Close releases the client when the sink created it.
func (s *GCS) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
