//go:build integration

package dest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testStore *PostgresStore

// TestMain starts a Postgres container shared by all tests.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "tm",
				"POSTGRES_PASSWORD": "tm",
				"POSTGRES_DB":       "tm",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start Postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testStore, err = NewPostgresStore(ctx, fmt.Sprintf("postgres://tm:tm@%s:%s/tm?sslmode=disable", host, port.Port()), nil)
	if err != nil {
		log.Fatalf("Failed to connect to destination: %v", err)
	}
	if err := testStore.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	testStore.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestPostgresInsertFindUpdate(t *testing.T) {
	ctx := context.Background()

	id, err := testStore.Insert(ctx, "tags", Record{"name": "pg-smoke"})
	require.NoError(t, err)

	rec, err := testStore.FindOne(ctx, "tags", Record{"name": "pg-smoke"})
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID())

	require.NoError(t, testStore.Update(ctx, "tags", id, Record{"name": "pg-smoke-2"}))
	ok, err := testStore.Exists(ctx, "tags", Record{"name": "pg-smoke-2"})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = testStore.FindByID(ctx, "tags", id+1000)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresUniqueViolation(t *testing.T) {
	ctx := context.Background()
	_, err := testStore.Insert(ctx, "groups", Record{"name": "qa"})
	require.NoError(t, err)
	_, err = testStore.Insert(ctx, "groups", Record{"name": "qa"})
	assert.ErrorIs(t, err, ErrUniqueViolation)
}

func TestPostgresInTxRollback(t *testing.T) {
	ctx := context.Background()
	before, err := testStore.Count(ctx, "roles")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = testStore.InTx(ctx, 5*time.Second, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Insert(ctx, "roles", Record{"name": "rolled-back"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := testStore.Count(ctx, "roles")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPostgresJSONAndNulls(t *testing.T) {
	ctx := context.Background()
	projectID, err := testStore.Insert(ctx, "projects", Record{
		"name": "Demo",
		"note": map[string]any{"type": "doc", "content": []any{}},
	})
	require.NoError(t, err)
	repoID, err := testStore.Insert(ctx, "repositories", Record{"project_id": projectID, "name": "Demo"})
	require.NoError(t, err)
	_, err = testStore.Insert(ctx, "repository_folders", Record{"repository_id": repoID, "parent_id": nil, "name": "root"})
	require.NoError(t, err)

	roots, err := testStore.FindAll(ctx, "repository_folders", Record{"repository_id": repoID, "parent_id": nil})
	require.NoError(t, err)
	require.Len(t, roots, 1)

	project, err := testStore.FindByID(ctx, "projects", projectID)
	require.NoError(t, err)
	note, ok := project["note"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "doc", note["type"])
}
