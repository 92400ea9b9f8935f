package dest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryInsertAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.Insert(ctx, "tags", Record{"name": "smoke"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rec, err := s.FindOne(ctx, "tags", Record{"name": "smoke"})
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID())

	// Integer kinds compare by value.
	rec, err = s.FindByID(ctx, "tags", 1)
	require.NoError(t, err)
	assert.Equal(t, "smoke", rec.String("name"))

	_, err = s.FindOne(ctx, "tags", Record{"name": "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Insert(ctx, "tags", Record{"name": "smoke"})
	assert.ErrorIs(t, err, ErrUniqueViolation)
}

func TestMemoryNullMatching(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Seed("repository_folders", Record{"repository_id": int64(1), "parent_id": nil, "name": "root"})
	s.Seed("repository_folders", Record{"repository_id": int64(1), "parent_id": int64(1), "name": "child"})

	roots, err := s.FindAll(ctx, "repository_folders", Record{"repository_id": int64(1), "parent_id": nil})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "root", roots[0].String("name"))
}

func TestMemoryUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := s.Seed("tags", Record{"name": "a"})
	s.Seed("tags", Record{"name": "b"})

	require.NoError(t, s.Update(ctx, "tags", a, Record{"name": "c"}))
	rec, err := s.FindByID(ctx, "tags", a)
	require.NoError(t, err)
	assert.Equal(t, "c", rec.String("name"))

	assert.ErrorIs(t, s.Update(ctx, "tags", a, Record{"name": "b"}), ErrUniqueViolation)
	assert.ErrorIs(t, s.Update(ctx, "tags", 99, Record{"name": "x"}), ErrNotFound)
}

func TestMemoryInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Seed("tags", Record{"name": "kept"})

	boom := errors.New("boom")
	err := s.InTx(ctx, time.Second, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Insert(ctx, "tags", Record{"name": "discarded"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.Count(ctx, "tags")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Sequence is restored too.
	id, err := s.Insert(ctx, "tags", Record{"name": "next"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestMemoryInTxTimeout(t *testing.T) {
	s := NewMemoryStore()
	err := s.InTx(context.Background(), time.Millisecond, func(ctx context.Context, tx Tx) error {
		<-ctx.Done()
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryOnInsertHook(t *testing.T) {
	s := NewMemoryStore()
	s.OnInsert = func(table string, _ Record) error {
		if table == "users" {
			return errors.New("users are read-only")
		}
		return nil
	}
	_, err := s.Insert(context.Background(), "users", Record{"email": "a@x.com"})
	assert.Error(t, err)
	_, err = s.Insert(context.Background(), "tags", Record{"name": "ok"})
	assert.NoError(t, err)
}
