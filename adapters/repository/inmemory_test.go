package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/conveyor/core"
)

type testEntity struct {
	EntityID string
	Name     string
}

func (e *testEntity) ID() string {
	return e.EntityID
}

func TestInMemoryRepository_SaveAndFind(t *testing.T) {
	repo := NewInMemoryRepository[*testEntity]()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &testEntity{EntityID: "e-1", Name: "first"}))
	require.NoError(t, repo.Save(ctx, &testEntity{EntityID: "e-2", Name: "second"}))

	entity, err := repo.FindByID(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "first", entity.Name)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInMemoryRepository_SaveOverwrites(t *testing.T) {
	repo := NewInMemoryRepository[*testEntity]()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &testEntity{EntityID: "e-1", Name: "first"}))
	require.NoError(t, repo.Save(ctx, &testEntity{EntityID: "e-1", Name: "updated"}))

	entity, err := repo.FindByID(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "updated", entity.Name)
	assert.Equal(t, 1, repo.Count())
}

func TestInMemoryRepository_FindByIDNotFound(t *testing.T) {
	repo := NewInMemoryRepository[*testEntity]()

	_, err := repo.FindByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrNotFound))
}

func TestInMemoryRepository_Delete(t *testing.T) {
	repo := NewInMemoryRepository[*testEntity]()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &testEntity{EntityID: "e-1"}))
	require.NoError(t, repo.Delete(ctx, "e-1"))

	_, err := repo.FindByID(ctx, "e-1")
	assert.True(t, core.IsCode(err, core.ErrNotFound))
}
