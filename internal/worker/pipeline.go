// Package worker runs the processing pipeline inside the batch VM:
// download the project's images, drive OpenDroneMap over them, upload
// the artifacts and write the terminal status. It is the only writer
// of COMPLETED.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skylens-geo/photogrammetry-backend/config"
	"github.com/skylens-geo/photogrammetry-backend/internal/events"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/repository"
	"github.com/skylens-geo/photogrammetry-backend/internal/storage"
)

// ErrNoImages is raised when the uploads bucket holds nothing usable
// for the project.
var ErrNoImages = errors.New("no images found in storage")

// errCompletedWrite marks a COMPLETED status write that kept failing
// after retries. The run itself succeeded and its artifacts are
// uploaded, so the failure path must never rewrite it as FAILED.
var errCompletedWrite = errors.New("write completed status")

const (
	completedWriteAttempts = 3
	completedWriteBackoff  = time.Second
)

// Image formats the tool accepts; anything else under the prefix is
// skipped.
var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
}

// outputArtifacts lists what to collect after a run: tool-relative
// source path, upload name, artifact type. Missing entries are normal,
// low quality runs produce no DEM and DTM is opt-in.
var outputArtifacts = []struct {
	srcPath  string
	destName string
	kind     string
}{
	{"odm_orthophoto/odm_orthophoto.tif", "orthophoto.tif", "orthophoto"},
	{"odm_dem/dsm.tif", "dsm.tif", "dsm"},
	{"odm_dem/dtm.tif", "dtm.tif", "dtm"},
	{"odm_georeferencing/odm_georeferenced_model.laz", "pointcloud.laz", "pointcloud"},
}

// Pipeline processes one project end to end.
type Pipeline struct {
	store   repository.Store
	objects storage.ObjectStore
	emitter *events.Emitter
	runner  CommandRunner
	cfg     *config.WorkerConfig
	workDir string
}

func NewPipeline(store repository.Store, objects storage.ObjectStore, emitter *events.Emitter, runner CommandRunner, cfg *config.WorkerConfig, workDir string) *Pipeline {
	return &Pipeline{
		store:   store,
		objects: objects,
		emitter: emitter,
		runner:  runner,
		cfg:     cfg,
		workDir: workDir,
	}
}

func (p *Pipeline) projectDir() string { return filepath.Join(p.workDir, projectName) }
func (p *Pipeline) imagesDir() string  { return filepath.Join(p.projectDir(), "images") }

// Process runs the full pipeline for projectID. The terminal status is
// always written, COMPLETED with outputs on success, FAILED with the
// error otherwise, and the scratch directory is removed either way.
func (p *Pipeline) Process(ctx context.Context, projectID string) (err error) {
	log.Printf("worker: starting project=%s quality=%s dtm=%v multispectral=%v",
		projectID, p.cfg.Options.OrthoQuality, p.cfg.Options.GenerateDTM, p.cfg.Options.Multispectral)

	defer p.cleanup()
	defer func() {
		if err == nil || errors.Is(err, errCompletedWrite) {
			return
		}
		log.Printf("worker: processing failed project=%s err=%v", projectID, err)
		if terr := p.store.SetTerminal(ctx, projectID, domain.StatusFailed, err.Error(), nil); terr != nil {
			log.Printf("worker: terminal status write failed project=%s err=%v", projectID, terr)
		}
		p.emitter.Failed(ctx, projectID, err.Error())
	}()

	p.setProgress(ctx, projectID, 0)

	count, err := p.downloadImages(ctx, projectID)
	if err != nil {
		return err
	}
	log.Printf("worker: downloaded images project=%s count=%d", projectID, count)
	p.setProgress(ctx, projectID, 10)

	reached, err := p.runODM(ctx, projectID)
	if err != nil {
		return err
	}
	// The log stream may already have driven progress past the fixed
	// checkpoint; never move it backwards.
	p.setProgress(ctx, projectID, max(90, reached))

	outputs, err := p.uploadResults(ctx, projectID)
	if err != nil {
		return err
	}
	p.setProgress(ctx, projectID, 95)

	if err := p.writeCompleted(ctx, projectID, outputs); err != nil {
		return err
	}

	names := make([]string, len(outputs))
	for i, o := range outputs {
		names[i] = o.Filename
	}
	p.emitter.Completed(ctx, projectID, names)
	log.Printf("worker: completed project=%s outputs=%d", projectID, len(outputs))
	return nil
}

// downloadImages pulls every supported image under the project prefix
// into the local images directory and returns how many it fetched.
func (p *Pipeline) downloadImages(ctx context.Context, projectID string) (int, error) {
	if err := os.MkdirAll(p.imagesDir(), 0o755); err != nil {
		return 0, fmt.Errorf("create images dir: %w", err)
	}

	prefix := projectID + "/"
	names, err := p.objects.ListObjects(ctx, p.cfg.UploadsBucket, prefix)
	if err != nil {
		return 0, fmt.Errorf("list uploads: %w", err)
	}

	count := 0
	for i, name := range names {
		if !supportedExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		if err := p.downloadOne(ctx, prefix+name, filepath.Join(p.imagesDir(), filepath.Base(name))); err != nil {
			return count, err
		}
		count++
		if (i+1)%100 == 0 {
			log.Printf("worker: downloaded %d/%d files", i+1, len(names))
		}
	}
	if count == 0 {
		return 0, ErrNoImages
	}
	return count, nil
}

func (p *Pipeline) downloadOne(ctx context.Context, objectPath, localPath string) error {
	r, err := p.objects.NewReader(ctx, p.cfg.UploadsBucket, objectPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", objectPath, err)
	}
	defer r.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("download %s: %w", objectPath, err)
	}
	return nil
}

// runODM executes the tool, translating its log stream into progress
// updates as it goes, and returns the highest progress reached.
func (p *Pipeline) runODM(ctx context.Context, projectID string) (int, error) {
	cmd := buildODMCommand(p.workDir, p.cfg.Options)
	log.Printf("worker: executing %s", strings.Join(cmd[:2], " "))

	tracker := NewProgressTracker(10, func(progress int) {
		p.setProgress(ctx, projectID, progress)
	})
	if err := p.runner.Run(ctx, cmd, p.workDir, func(line string) {
		log.Printf("[ODM] %s", line)
		tracker.Observe(line)
	}); err != nil {
		return tracker.Last(), fmt.Errorf("odm run: %w", err)
	}
	return tracker.Last(), nil
}

// writeCompleted records the terminal COMPLETED state, retrying
// transient store failures: losing this write corrupts the
// externally visible state of a finished run.
func (p *Pipeline) writeCompleted(ctx context.Context, projectID string, outputs []domain.Output) error {
	var err error
	for attempt := 1; attempt <= completedWriteAttempts; attempt++ {
		if err = p.store.SetTerminal(ctx, projectID, domain.StatusCompleted, "", outputs); err == nil {
			return nil
		}
		log.Printf("worker: completed status write failed project=%s attempt=%d err=%v", projectID, attempt, err)
		if attempt < completedWriteAttempts {
			time.Sleep(completedWriteBackoff)
		}
	}
	return fmt.Errorf("%w: %v", errCompletedWrite, err)
}

// uploadResults collects whichever artifacts the run produced and
// uploads them to the outputs bucket under the project prefix.
func (p *Pipeline) uploadResults(ctx context.Context, projectID string) ([]domain.Output, error) {
	var outputs []domain.Output
	for _, artifact := range outputArtifacts {
		localPath := filepath.Join(p.projectDir(), artifact.srcPath)
		info, err := os.Stat(localPath)
		if err != nil {
			log.Printf("worker: output not produced: %s", artifact.srcPath)
			continue
		}

		f, err := os.Open(localPath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", localPath, err)
		}
		objectPath := projectID + "/" + artifact.destName
		_, err = p.objects.Write(ctx, p.cfg.OutputsBucket, objectPath, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", artifact.destName, err)
		}

		sizeMB := math.Round(float64(info.Size())/(1024*1024)*100) / 100
		outputs = append(outputs, domain.Output{
			Type:      artifact.kind,
			Filename:  artifact.destName,
			SizeMB:    sizeMB,
			Path:      fmt.Sprintf("gs://%s/%s", p.cfg.OutputsBucket, objectPath),
			CreatedAt: time.Now().UTC(),
		})
		log.Printf("worker: uploaded %s (%.2f MB)", artifact.destName, sizeMB)
	}
	return outputs, nil
}

// setProgress is best effort: a lost progress write must not kill a
// multi-hour run.
func (p *Pipeline) setProgress(ctx context.Context, projectID string, progress int) {
	if err := p.store.SetProgress(ctx, projectID, progress); err != nil {
		log.Printf("worker: progress write failed project=%s progress=%d err=%v", projectID, progress, err)
		return
	}
	p.emitter.Progress(ctx, projectID, progress)
}

func (p *Pipeline) cleanup() {
	if err := os.RemoveAll(p.projectDir()); err != nil {
		log.Printf("worker: cleanup failed dir=%s err=%v", p.projectDir(), err)
		return
	}
	log.Printf("worker: scratch dir removed")
}
