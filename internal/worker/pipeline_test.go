package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens-geo/photogrammetry-backend/config"
	"github.com/skylens-geo/photogrammetry-backend/internal/events"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/repository"
	"github.com/skylens-geo/photogrammetry-backend/internal/storage"
)

// scriptedRunner fakes the tool: it emits log lines and drops artifact
// files into the project directory, the way a real run would.
type scriptedRunner struct {
	lines     []string
	artifacts []string // project-dir relative paths to create
	err       error
	gotCmd    []string
}

func (r *scriptedRunner) Run(_ context.Context, cmd []string, dir string, onLine func(string)) error {
	r.gotCmd = cmd
	for _, line := range r.lines {
		onLine(line)
	}
	if r.err != nil {
		return r.err
	}
	for _, rel := range r.artifacts {
		path := filepath.Join(dir, projectName, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte("artifact-bytes"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// flakyTerminalStore fails the COMPLETED write a configured number of
// times before delegating.
type flakyTerminalStore struct {
	*repository.MemoryStore
	failures int
}

func (s *flakyTerminalStore) SetTerminal(ctx context.Context, projectID string, st domain.Status, errMsg string, outputs []domain.Output) error {
	if st == domain.StatusCompleted && s.failures > 0 {
		s.failures--
		return errors.New("transient store outage")
	}
	return s.MemoryStore.SetTerminal(ctx, projectID, st, errMsg, outputs)
}

// progressRecorder captures every progress write in order.
type progressRecorder struct {
	*repository.MemoryStore
	writes []int
}

func (s *progressRecorder) SetProgress(ctx context.Context, projectID string, progress int) error {
	s.writes = append(s.writes, progress)
	return s.MemoryStore.SetProgress(ctx, projectID, progress)
}

type pipelineFixture struct {
	store   *repository.MemoryStore
	objects *storage.MemoryStore
	runner  *scriptedRunner
	cfg     *config.WorkerConfig
	workDir string
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	return &pipelineFixture{
		store:   repository.NewMemoryStore(),
		objects: storage.NewMemoryObjectStore(),
		runner:  &scriptedRunner{},
		cfg: &config.WorkerConfig{
			GCPProject:    "test-project",
			UploadsBucket: "uploads",
			OutputsBucket: "outputs",
			Options:       domain.ProcessingOptions{OrthoQuality: domain.QualityMedium},
		},
		workDir: t.TempDir(),
	}
}

func (f *pipelineFixture) pipeline() *Pipeline {
	return NewPipeline(f.store, f.objects, events.NewEmitter(events.NopPublisher{}), f.runner, f.cfg, f.workDir)
}

// processingProject seeds a PROCESSING project with n uploaded images.
func (f *pipelineFixture) processingProject(t *testing.T, n int) string {
	t.Helper()
	ctx := context.Background()
	p, err := f.store.Create(ctx, "survey", "", "user-1")
	require.NoError(t, err)
	_, err = f.store.Transition(ctx, p.ProjectID,
		[]domain.Status{domain.StatusCreated}, domain.StatusProcessing, nil)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		f.objects.Put("uploads", p.ProjectID+"/"+string(rune('a'+i))+".jpg", []byte("jpeg-bytes"))
	}
	return p.ProjectID
}

func TestPipelineProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("successful run completes the project", func(t *testing.T) {
		f := newPipelineFixture(t)
		id := f.processingProject(t, 3)
		f.runner.lines = []string{
			"Loading dataset",
			"Detecting features",
			"Texturing mesh",
			"ODM app finished",
		}
		f.runner.artifacts = []string{
			"odm_orthophoto/odm_orthophoto.tif",
			"odm_dem/dsm.tif",
		}

		require.NoError(t, f.pipeline().Process(ctx, id))

		p, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, p.Status)
		assert.Equal(t, 100, p.Progress)
		assert.Empty(t, p.ErrorMessage)

		require.Len(t, p.Outputs, 2)
		assert.Equal(t, "orthophoto", p.Outputs[0].Type)
		assert.Equal(t, "orthophoto.tif", p.Outputs[0].Filename)
		assert.Equal(t, "gs://outputs/"+id+"/orthophoto.tif", p.Outputs[0].Path)
		assert.Equal(t, "dsm", p.Outputs[1].Type)

		ok, _ := f.objects.Exists(ctx, "outputs", id+"/orthophoto.tif")
		assert.True(t, ok)
		ok, _ = f.objects.Exists(ctx, "outputs", id+"/dsm.tif")
		assert.True(t, ok)

		// Scratch directory is removed after the run.
		_, statErr := os.Stat(filepath.Join(f.workDir, projectName))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("unsupported files are skipped during download", func(t *testing.T) {
		f := newPipelineFixture(t)
		id := f.processingProject(t, 2)
		f.objects.Put("uploads", id+"/notes.txt", []byte("not an image"))
		f.objects.Put("uploads", id+"/scan.TIF", []byte("tiff-bytes"))
		f.runner.artifacts = []string{"odm_orthophoto/odm_orthophoto.tif"}

		require.NoError(t, f.pipeline().Process(ctx, id))

		p, _ := f.store.Get(ctx, id)
		assert.Equal(t, domain.StatusCompleted, p.Status)
	})

	t.Run("empty bucket fails the project", func(t *testing.T) {
		f := newPipelineFixture(t)
		id := f.processingProject(t, 0)

		err := f.pipeline().Process(ctx, id)
		require.ErrorIs(t, err, ErrNoImages)

		p, _ := f.store.Get(ctx, id)
		assert.Equal(t, domain.StatusFailed, p.Status)
		assert.Contains(t, p.ErrorMessage, "no images found")
	})

	t.Run("tool failure writes failed with the error", func(t *testing.T) {
		f := newPipelineFixture(t)
		id := f.processingProject(t, 2)
		f.runner.err = errors.New("exit status 1")

		err := f.pipeline().Process(ctx, id)
		require.Error(t, err)

		p, _ := f.store.Get(ctx, id)
		assert.Equal(t, domain.StatusFailed, p.Status)
		assert.Contains(t, p.ErrorMessage, "exit status 1")

		// Cleanup still runs on failure.
		_, statErr := os.Stat(filepath.Join(f.workDir, projectName))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("log lines drive monotonic progress", func(t *testing.T) {
		f := newPipelineFixture(t)
		id := f.processingProject(t, 2)
		f.runner.lines = []string{
			"Detecting features", // 15
			"Loading dataset",    // stale 5, ignored
			"Georeferencing",     // 70
		}
		f.runner.artifacts = []string{"odm_orthophoto/odm_orthophoto.tif"}

		require.NoError(t, f.pipeline().Process(ctx, id))

		// Final progress comes from the completed terminal write.
		p, _ := f.store.Get(ctx, id)
		assert.Equal(t, 100, p.Progress)
	})

	t.Run("missing artifacts are tolerated", func(t *testing.T) {
		f := newPipelineFixture(t)
		id := f.processingProject(t, 2)
		f.runner.artifacts = []string{"odm_orthophoto/odm_orthophoto.tif"}

		require.NoError(t, f.pipeline().Process(ctx, id))

		p, _ := f.store.Get(ctx, id)
		require.Len(t, p.Outputs, 1)
		assert.Equal(t, "orthophoto", p.Outputs[0].Type)
	})

	t.Run("transient completed write failure is retried", func(t *testing.T) {
		f := newPipelineFixture(t)
		id := f.processingProject(t, 2)
		f.runner.artifacts = []string{"odm_orthophoto/odm_orthophoto.tif"}
		store := &flakyTerminalStore{MemoryStore: f.store, failures: 1}

		pipeline := NewPipeline(store, f.objects, events.NewEmitter(events.NopPublisher{}), f.runner, f.cfg, f.workDir)
		require.NoError(t, pipeline.Process(ctx, id))

		p, _ := f.store.Get(ctx, id)
		assert.Equal(t, domain.StatusCompleted, p.Status)
		assert.Equal(t, 100, p.Progress)
		require.Len(t, p.Outputs, 1)
	})

	t.Run("exhausted completed write never rewrites the run as failed", func(t *testing.T) {
		f := newPipelineFixture(t)
		id := f.processingProject(t, 2)
		f.runner.artifacts = []string{"odm_orthophoto/odm_orthophoto.tif"}
		store := &flakyTerminalStore{MemoryStore: f.store, failures: completedWriteAttempts}

		pipeline := NewPipeline(store, f.objects, events.NewEmitter(events.NopPublisher{}), f.runner, f.cfg, f.workDir)
		err := pipeline.Process(ctx, id)
		require.ErrorIs(t, err, errCompletedWrite)

		// The run finished and the artifacts are uploaded; the record
		// must not claim FAILED over a lost status write.
		p, _ := f.store.Get(ctx, id)
		assert.Equal(t, domain.StatusProcessing, p.Status)
		assert.Empty(t, p.ErrorMessage)
		ok, _ := f.objects.Exists(ctx, "outputs", id+"/orthophoto.tif")
		assert.True(t, ok)
	})

	t.Run("late checkpoints never move progress backwards", func(t *testing.T) {
		f := newPipelineFixture(t)
		id := f.processingProject(t, 2)
		f.runner.lines = []string{
			"Georeferencing",   // 70
			"ODM app finished", // 95, past the fixed 90 checkpoint
		}
		f.runner.artifacts = []string{"odm_orthophoto/odm_orthophoto.tif"}
		store := &progressRecorder{MemoryStore: f.store}

		pipeline := NewPipeline(store, f.objects, events.NewEmitter(events.NopPublisher{}), f.runner, f.cfg, f.workDir)
		require.NoError(t, pipeline.Process(ctx, id))

		for i := 1; i < len(store.writes); i++ {
			assert.GreaterOrEqual(t, store.writes[i], store.writes[i-1],
				"progress dipped from %d to %d", store.writes[i-1], store.writes[i])
		}
		assert.Contains(t, store.writes, 95)
	})

	t.Run("command reflects the configured options", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.cfg.Options = domain.ProcessingOptions{OrthoQuality: domain.QualityLow}
		id := f.processingProject(t, 1)
		f.runner.artifacts = []string{"odm_orthophoto/odm_orthophoto.tif"}

		require.NoError(t, f.pipeline().Process(ctx, id))
		assert.Contains(t, f.runner.gotCmd, "--fast-orthophoto")
	})
}
