// Package blob opens uploaded export files for reading.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/raphaelgruber/tmimport/internal/config"
)

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("blob not found")

// Store opens objects by key. The size hint is -1 when unknown.
type Store interface {
	OpenReadStream(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// New returns the store selected by cfg.Backend.
func New(cfg config.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Root), nil
	case "s3":
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
