package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens-geo/photogrammetry-backend/internal/cache"
	"github.com/skylens-geo/photogrammetry-backend/internal/events"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/repository"
	"github.com/skylens-geo/photogrammetry-backend/internal/storage"
)

type projectFixture struct {
	store   *repository.MemoryStore
	objects *storage.MemoryStore
	svc     *ProjectService
}

func newProjectFixture(t *testing.T, statusCache *cache.StatusCache) *projectFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	emitter := events.NewEmitter(events.NopPublisher{})
	return &projectFixture{
		store:   store,
		objects: objects,
		svc:     NewProjectService(store, objects, statusCache, emitter, "outputs"),
	}
}

func TestProjectCreate(t *testing.T) {
	ctx := context.Background()
	f := newProjectFixture(t, nil)

	t.Run("creates in created with zero progress", func(t *testing.T) {
		p, err := f.svc.Create(ctx, "  Quarry Survey ", "weekly flight", "user-1")
		require.NoError(t, err)
		assert.NotEmpty(t, p.ProjectID)
		assert.Equal(t, "Quarry Survey", p.Name)
		assert.Equal(t, domain.StatusCreated, p.Status)
		assert.Zero(t, p.Progress)
		assert.Empty(t, p.Files)
	})

	t.Run("rejects a blank name", func(t *testing.T) {
		_, err := f.svc.Create(ctx, "   ", "", "user-1")
		assert.Error(t, err)
	})
}

func TestProjectGetUsesCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	statusCache := cache.NewStatusCache(rdb, 3*time.Second)

	f := newProjectFixture(t, statusCache)
	p, err := f.svc.Create(ctx, "survey", "", "user-1")
	require.NoError(t, err)

	// First read populates the cache.
	got, err := f.svc.Get(ctx, p.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, got.Status)

	// A store write the cache has not seen yet is masked until expiry.
	_, err = f.store.Transition(ctx, p.ProjectID,
		[]domain.Status{domain.StatusCreated}, domain.StatusPending, nil)
	require.NoError(t, err)

	got, err = f.svc.Get(ctx, p.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, got.Status)

	mr.FastForward(4 * time.Second)
	got, err = f.svc.Get(ctx, p.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestProjectList(t *testing.T) {
	ctx := context.Background()
	f := newProjectFixture(t, nil)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, "survey", "", "user-1")
		require.NoError(t, err)
	}
	_, err := f.svc.Create(ctx, "other", "", "user-2")
	require.NoError(t, err)

	t.Run("filters by owner", func(t *testing.T) {
		projects, err := f.svc.List(ctx, "user-1", 0)
		require.NoError(t, err)
		assert.Len(t, projects, 3)
	})

	t.Run("no filter returns everything", func(t *testing.T) {
		projects, err := f.svc.List(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, projects, 4)
	})

	t.Run("limit is capped", func(t *testing.T) {
		projects, err := f.svc.List(ctx, "", 100000)
		require.NoError(t, err)
		assert.Len(t, projects, 4)
	})
}

func TestProjectResults(t *testing.T) {
	ctx := context.Background()
	f := newProjectFixture(t, nil)

	p, err := f.svc.Create(ctx, "survey", "", "user-1")
	require.NoError(t, err)

	outputs := []domain.Output{
		{Type: "orthophoto", Filename: "orthophoto.tif", SizeMB: 42.5},
		{Type: "dsm", Filename: "dsm.tif", SizeMB: 12.1},
	}
	require.NoError(t, f.store.SetTerminal(ctx, p.ProjectID, domain.StatusCompleted, "", outputs))
	f.objects.Put("outputs", p.ProjectID+"/orthophoto.tif", []byte("tif-bytes"))
	// dsm.tif intentionally absent from the bucket.

	result, err := f.svc.Results(ctx, p.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Len(t, result.Outputs, 2)
	// Only artifacts still present get a download URL.
	require.Len(t, result.DownloadURLs, 1)
	assert.Contains(t, result.DownloadURLs[0], "orthophoto.tif")
}

func TestProjectResultsUnknownProject(t *testing.T) {
	f := newProjectFixture(t, nil)
	_, err := f.svc.Results(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
}
