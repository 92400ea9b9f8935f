//go:build integration

package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/raphaelgruber/tmimport/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testS3 *S3Store

// TestMain starts a MinIO container and creates the test bucket.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start MinIO container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testS3, err = NewS3Store(config.BlobConfig{
		Endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "imports",
		Region:    "us-east-1",
	})
	if err != nil {
		log.Fatalf("Failed to create S3 store: %v", err)
	}
	if err := testS3.client.MakeBucket(ctx, "imports", minio.MakeBucketOptions{}); err != nil {
		log.Fatalf("Failed to create bucket: %v", err)
	}

	code := m.Run()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate container: %v", err)
	}
	os.Exit(code)
}

func TestS3OpenReadStream(t *testing.T) {
	ctx := context.Background()
	body := []byte(`{"data":{"projects":[{"id":1}]}}`)
	_, err := testS3.client.PutObject(ctx, "imports", "jobs/1/export.json", bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{})
	require.NoError(t, err)

	r, size, err := testS3.OpenReadStream(ctx, "jobs/1/export.json")
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(len(body)), size)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestS3MissingKey(t *testing.T) {
	_, _, err := testS3.OpenReadStream(context.Background(), "jobs/none.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
