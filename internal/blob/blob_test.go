package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/raphaelgruber/tmimport/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreOpen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "uploads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uploads", "export.json"), []byte(`{"data":{}}`), 0o644))

	s := NewFileStore(dir)
	r, size, err := s.OpenReadStream(context.Background(), "uploads/export.json")
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(11), size)

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, `{"data":{}}`, string(body))
}

func TestFileStoreErrors(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	_, _, err := s.OpenReadStream(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, key := range []string{"", "..", "../etc/passwd", "a/../../b"} {
		_, _, err := s.OpenReadStream(ctx, key)
		assert.Error(t, err, key)
		assert.NotErrorIs(t, err, ErrNotFound, key)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(config.BlobConfig{Backend: "file", Root: "/tmp"})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = New(config.BlobConfig{Backend: "s3", Endpoint: "localhost:9000", Bucket: "imports"})
	require.NoError(t, err)
	assert.IsType(t, &S3Store{}, s)

	_, err = New(config.BlobConfig{Backend: "ftp"})
	assert.Error(t, err)
}
