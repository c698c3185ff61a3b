package processing

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/skylens-geo/photogrammetry-backend/internal/batch"
	"github.com/skylens-geo/photogrammetry-backend/internal/events"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/repository"
)

const reconcileBatchLimit = 100

// Reconciler sweeps PROCESSING projects and repairs the ones whose
// jobs died without reporting back: jobs the collaborator marked
// failed, and jobs stuck unscheduled past the staleness window. It
// never completes a project; only the worker does that.
type Reconciler struct {
	store      repository.Store
	runner     batch.Runner
	emitter    *events.Emitter
	staleAfter time.Duration
	limiter    *rate.Limiter
}

// NewReconciler builds a sweep with collaborator polling capped at
// pollsPerSecond.
func NewReconciler(store repository.Store, runner batch.Runner, emitter *events.Emitter, staleAfter time.Duration, pollsPerSecond float64) *Reconciler {
	return &Reconciler{
		store:      store,
		runner:     runner,
		emitter:    emitter,
		staleAfter: staleAfter,
		limiter:    rate.NewLimiter(rate.Limit(pollsPerSecond), 1),
	}
}

// Run executes one sweep. Errors on individual projects are logged and
// skipped; the sweep itself only fails when the listing does.
func (r *Reconciler) Run(ctx context.Context) error {
	projects, err := r.store.ListByStatus(ctx, domain.StatusProcessing, reconcileBatchLimit)
	if err != nil {
		return fmt.Errorf("list processing projects: %w", err)
	}
	now := time.Now().UTC()
	for i := range projects {
		if err := r.reconcileOne(ctx, &projects[i], now); err != nil {
			log.Printf("reconcile: project=%s err=%v", projects[i].ProjectID, err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, p *domain.Project, now time.Time) error {
	if p.BatchJob == nil {
		// Submitted but the job reference write was lost. Nothing to
		// poll; force fail once the staleness window passes.
		if now.Sub(p.UpdatedAt) > r.staleAfter {
			return r.forceFail(ctx, p.ProjectID, "processing job reference lost")
		}
		return nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	status, err := r.runner.JobStatus(ctx, p.BatchJob.JobName)
	if err != nil {
		return fmt.Errorf("poll job %s: %w", p.BatchJob.JobName, err)
	}

	switch {
	case status.State == batch.StateFailed:
		reason := status.FailureDescription()
		if reason == "" {
			reason = "processing job failed"
		}
		return r.forceFail(ctx, p.ProjectID, reason)
	case status.State.Waiting() && now.Sub(p.UpdatedAt) > r.staleAfter:
		return r.forceFail(ctx, p.ProjectID,
			fmt.Sprintf("processing job stuck in queue for over %s", r.staleAfter))
	}
	return nil
}

func (r *Reconciler) forceFail(ctx context.Context, projectID, reason string) error {
	if err := r.store.SetTerminal(ctx, projectID, domain.StatusFailed, reason, nil); err != nil {
		return err
	}
	log.Printf("reconcile: force failed project=%s reason=%q", projectID, reason)
	r.emitter.Failed(ctx, projectID, reason)
	return nil
}
