package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens-geo/photogrammetry-backend/config"
	"github.com/skylens-geo/photogrammetry-backend/internal/batch"
	"github.com/skylens-geo/photogrammetry-backend/internal/capacity"
	"github.com/skylens-geo/photogrammetry-backend/internal/events"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/repository"
	"github.com/skylens-geo/photogrammetry-backend/internal/storage"
)

type fakeRunner struct {
	mu        sync.Mutex
	submitted []batch.JobSpec
	submitErr error
	statuses  map[string]*batch.JobStatus
}

func (f *fakeRunner) SubmitJob(_ context.Context, spec batch.JobSpec) (*batch.JobRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, spec)
	name := fmt.Sprintf("projects/test/locations/us-central1/jobs/job-%d", len(f.submitted))
	return &batch.JobRef{Name: name, ID: fmt.Sprintf("job-%d", len(f.submitted))}, nil
}

func (f *fakeRunner) JobStatus(_ context.Context, name string) (*batch.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[name]
	if !ok {
		return nil, fmt.Errorf("job %s not found", name)
	}
	return st, nil
}

func (f *fakeRunner) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func testBatchConfig() config.BatchConfig {
	return config.BatchConfig{
		Tiers: []capacity.MachineTier{
			{MaxImages: 100, MachineType: "e2-standard-4", CPUMilli: 4000, MemoryMiB: 16384},
			{MaxImages: 500, MachineType: "c2-standard-16", CPUMilli: 16000, MemoryMiB: 65536},
		},
		AvgImageSizeMB:   10,
		WorkingSetFactor: 6,
		DiskSafetyMargin: 1.15,
		MinBootDiskMiB:   51200,
	}
}

func testGCPConfig() config.GCPConfig {
	return config.GCPConfig{
		ProjectID:     "test-project",
		Region:        "us-central1",
		UploadsBucket: "uploads",
		OutputsBucket: "outputs",
	}
}

type dispatcherFixture struct {
	store   *repository.MemoryStore
	objects *storage.MemoryStore
	runner  *fakeRunner
	disp    *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	runner := &fakeRunner{statuses: map[string]*batch.JobStatus{}}
	emitter := events.NewEmitter(events.NopPublisher{})
	disp := NewDispatcher(store, objects, runner, emitter, testGCPConfig(), testBatchConfig())
	return &dispatcherFixture{store: store, objects: objects, runner: runner, disp: disp}
}

// pendingProject seeds a project in PENDING with n uploaded objects.
func (f *dispatcherFixture) pendingProject(t *testing.T, n int) string {
	t.Helper()
	ctx := context.Background()
	p, err := f.store.Create(ctx, "survey", "", "user-1")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		f.objects.Put("uploads", fmt.Sprintf("%s/img_%03d.jpg", p.ProjectID, i), []byte("jpeg"))
	}
	_, err = f.store.Transition(ctx, p.ProjectID,
		[]domain.Status{domain.StatusCreated}, domain.StatusPending, nil)
	require.NoError(t, err)
	return p.ProjectID
}

func TestStartProcessing(t *testing.T) {
	ctx := context.Background()

	t.Run("submits a job and moves the project to processing", func(t *testing.T) {
		f := newDispatcherFixture(t)
		id := f.pendingProject(t, 42)

		project, err := f.disp.StartProcessing(ctx, id, domain.ProcessingOptions{OrthoQuality: "high"})
		require.NoError(t, err)

		assert.Equal(t, domain.StatusProcessing, project.Status)
		assert.Equal(t, 0, project.Progress)
		assert.Equal(t, 42, project.FilesCount)
		require.NotNil(t, project.BatchJob)
		assert.Equal(t, "e2-standard-4", project.BatchJob.MachineType)

		require.Len(t, f.runner.submitted, 1)
		spec := f.runner.submitted[0]
		assert.Equal(t, 42, spec.FileCount)
		assert.Equal(t, "high", spec.Options.OrthoQuality)
		// 42 * 10MB * 6 * 1.15 = 2898, below the 51200 floor.
		assert.Equal(t, int64(51200), spec.DiskMiB)

		stored, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, stored.BatchJob)
		assert.Equal(t, spec.Tier.MachineType, stored.BatchJob.MachineType)
	})

	t.Run("object store is the authoritative file count", func(t *testing.T) {
		f := newDispatcherFixture(t)
		id := f.pendingProject(t, 3)
		// Stray registration that never completed must not count.
		f.objects.Put("uploads", "some-other-project/img.jpg", []byte("jpeg"))

		project, err := f.disp.StartProcessing(ctx, id, domain.ProcessingOptions{})
		require.NoError(t, err)
		assert.Equal(t, 3, project.FilesCount)
		assert.Equal(t, 3, f.runner.submitted[0].FileCount)
	})

	t.Run("rejects when the bucket holds no images", func(t *testing.T) {
		f := newDispatcherFixture(t)
		id := f.pendingProject(t, 0)

		_, err := f.disp.StartProcessing(ctx, id, domain.ProcessingOptions{})
		assert.ErrorIs(t, err, ErrNoImages)
		assert.Zero(t, f.runner.submitCount())

		stored, _ := f.store.Get(ctx, id)
		assert.Equal(t, domain.StatusPending, stored.Status)
	})

	t.Run("unknown project", func(t *testing.T) {
		f := newDispatcherFixture(t)
		_, err := f.disp.StartProcessing(ctx, "nope", domain.ProcessingOptions{})
		assert.ErrorIs(t, err, domain.ErrProjectNotFound)
	})

	t.Run("second start is rejected with the observed status", func(t *testing.T) {
		f := newDispatcherFixture(t)
		id := f.pendingProject(t, 5)

		_, err := f.disp.StartProcessing(ctx, id, domain.ProcessingOptions{})
		require.NoError(t, err)

		_, err = f.disp.StartProcessing(ctx, id, domain.ProcessingOptions{})
		var rej *RejectionError
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, domain.StatusProcessing, rej.Current)
		assert.Contains(t, rej.Error(), "already being processed")
		assert.Equal(t, 1, f.runner.submitCount())
	})

	t.Run("concurrent starts submit exactly one job", func(t *testing.T) {
		f := newDispatcherFixture(t)
		id := f.pendingProject(t, 5)

		const callers = 8
		errs := make(chan error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.disp.StartProcessing(ctx, id, domain.ProcessingOptions{})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var wins, rejections int
		for err := range errs {
			if err == nil {
				wins++
				continue
			}
			var rej *RejectionError
			require.True(t, errors.As(err, &rej), "unexpected error: %v", err)
			rejections++
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, callers-1, rejections)
		assert.Equal(t, 1, f.runner.submitCount())
	})

	t.Run("submit failure force fails the project", func(t *testing.T) {
		f := newDispatcherFixture(t)
		f.runner.submitErr = errors.New("quota exceeded in zone")
		id := f.pendingProject(t, 5)

		_, err := f.disp.StartProcessing(ctx, id, domain.ProcessingOptions{})
		require.Error(t, err)

		stored, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, stored.Status)
		// The stored message must not leak the collaborator error.
		assert.Equal(t, "failed to submit processing job", stored.ErrorMessage)
	})

	t.Run("large counts select the largest tier", func(t *testing.T) {
		f := newDispatcherFixture(t)
		id := f.pendingProject(t, 800)

		project, err := f.disp.StartProcessing(ctx, id, domain.ProcessingOptions{})
		require.NoError(t, err)
		assert.Equal(t, "c2-standard-16", project.BatchJob.MachineType)
		// 800 * 10MB * 6 * 1.15 = 55200, above the floor.
		assert.Equal(t, int64(55200), project.BatchJob.DiskMiB)
	})
}
