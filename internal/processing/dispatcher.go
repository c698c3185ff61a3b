// Package processing decides when a project's job is submitted to the
// batch collaborator and keeps submitted jobs honest afterwards. It
// owns the pending-to-processing transition; the worker owns the
// terminal one.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/skylens-geo/photogrammetry-backend/config"
	"github.com/skylens-geo/photogrammetry-backend/internal/batch"
	"github.com/skylens-geo/photogrammetry-backend/internal/capacity"
	"github.com/skylens-geo/photogrammetry-backend/internal/events"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/repository"
	"github.com/skylens-geo/photogrammetry-backend/internal/storage"
)

// ErrNoImages is returned when the uploads bucket holds no objects for
// the project at dispatch time.
var ErrNoImages = errors.New("no images found for project")

// RejectionError reports a dispatch refused because of the project's
// current status. Exactly one concurrent dispatch wins; the rest get
// this.
type RejectionError struct {
	Current domain.Status
	Reason  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("processing rejected: %s", e.Reason)
}

func rejectionReason(current domain.Status) string {
	switch current {
	case domain.StatusProcessing:
		return "project is already being processed"
	case domain.StatusCompleted:
		return "project has already been processed"
	case domain.StatusFailed:
		return "project previously failed, create a new project to retry"
	case domain.StatusCreated:
		return "no files have been uploaded yet"
	}
	return fmt.Sprintf("project is %s", current)
}

// Dispatcher submits processing jobs for projects whose uploads are
// complete.
type Dispatcher struct {
	store   repository.Store
	objects storage.ObjectStore
	runner  batch.Runner
	emitter *events.Emitter
	gcp     config.GCPConfig
	cfg     config.BatchConfig
}

func NewDispatcher(store repository.Store, objects storage.ObjectStore, runner batch.Runner, emitter *events.Emitter, gcp config.GCPConfig, cfg config.BatchConfig) *Dispatcher {
	return &Dispatcher{store: store, objects: objects, runner: runner, emitter: emitter, gcp: gcp, cfg: cfg}
}

// StartProcessing moves a project into PROCESSING and submits its
// batch job. The object store, not the project record, is the
// authoritative image count. The status transition is taken before the
// job is submitted so that concurrent calls race on the record, not on
// the collaborator; a submission failure is compensated by force
// failing the project.
func (d *Dispatcher) StartProcessing(ctx context.Context, projectID string, opts domain.ProcessingOptions) (*domain.Project, error) {
	if _, err := d.store.Get(ctx, projectID); err != nil {
		return nil, err
	}

	names, err := d.objects.ListObjects(ctx, d.gcp.UploadsBucket, projectID+"/")
	if err != nil {
		return nil, fmt.Errorf("list uploads for %s: %w", projectID, err)
	}
	fileCount := len(names)
	if fileCount == 0 {
		return nil, ErrNoImages
	}

	progress := 0
	project, err := d.store.Transition(ctx, projectID,
		[]domain.Status{domain.StatusPending, domain.StatusUploading},
		domain.StatusProcessing,
		&repository.TransitionExtra{Progress: &progress, FilesCount: &fileCount},
	)
	if err != nil {
		if current, ok := domain.IsRejected(err); ok {
			return nil, &RejectionError{Current: current, Reason: rejectionReason(current)}
		}
		return nil, err
	}

	opts = opts.Normalize()
	tier := capacity.SelectTier(fileCount, d.cfg.Tiers)
	diskMiB := capacity.DiskSizeMiB(fileCount, d.cfg.AvgImageSizeMB, d.cfg.WorkingSetFactor, d.cfg.DiskSafetyMargin, d.cfg.MinBootDiskMiB)

	ref, err := d.runner.SubmitJob(ctx, batch.JobSpec{
		ProjectID: projectID,
		FileCount: fileCount,
		Tier:      tier,
		DiskMiB:   diskMiB,
		Options:   opts,
	})
	if err != nil {
		log.Printf("dispatch: submit failed project=%s err=%v", projectID, err)
		d.compensate(ctx, projectID)
		return nil, fmt.Errorf("submit processing job: %w", err)
	}

	jobRef := &domain.BatchJobRef{
		JobName:     ref.Name,
		JobID:       ref.ID,
		MachineType: tier.MachineType,
		CPUMilli:    tier.CPUMilli,
		MemoryMiB:   tier.MemoryMiB,
		DiskMiB:     diskMiB,
		FileCount:   fileCount,
		SubmittedAt: ref.SubmittedAt,
	}
	if err := d.store.AttachJob(ctx, projectID, jobRef); err != nil {
		// The job is running either way; the record just loses the
		// reference the reconciler uses. Log loudly.
		log.Printf("dispatch: attach job failed project=%s job=%s err=%v", projectID, ref.Name, err)
	}

	log.Printf("dispatch: submitted project=%s job=%s machine=%s files=%d disk_mib=%d",
		projectID, ref.ID, tier.MachineType, fileCount, diskMiB)
	d.emitter.ProcessingStarted(ctx, projectID, ref.Name, fileCount)

	project.BatchJob = jobRef
	return project, nil
}

// compensate force fails a project whose job never made it to the
// collaborator, so it is not stuck in PROCESSING forever. The stored
// message is generic; the submit error stays in the logs.
func (d *Dispatcher) compensate(ctx context.Context, projectID string) {
	msg := "failed to submit processing job"
	if err := d.store.SetTerminal(ctx, projectID, domain.StatusFailed, msg, nil); err != nil {
		log.Printf("dispatch: compensation failed project=%s err=%v", projectID, err)
		return
	}
	d.emitter.Failed(ctx, projectID, msg)
}
