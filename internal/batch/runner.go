// Package batch wraps the external batch-execution collaborator. The
// rest of the system only sees Runner and the closed JobState enum;
// provider status strings never leak past this boundary.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/skylens-geo/photogrammetry-backend/internal/capacity"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
)

// JobState is the internal view of an external job's state.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateScheduled JobState = "scheduled"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// Waiting reports whether the job has been accepted but not started.
func (s JobState) Waiting() bool {
	return s == StateQueued || s == StateScheduled
}

// JobSpec is everything needed to submit one processing job. The
// compute shape comes from the capacity planner, not from the caller.
type JobSpec struct {
	ProjectID string
	FileCount int
	Tier      capacity.MachineTier
	DiskMiB   int64
	Options   domain.ProcessingOptions
}

// JobRef identifies a submitted job.
type JobRef struct {
	Name        string // fully qualified resource name
	ID          string // short job id
	SubmittedAt time.Time
}

// StatusEvent is one provider-reported event on a job.
type StatusEvent struct {
	Type        string
	Description string
	Time        time.Time
}

// JobStatus is the mapped status of a submitted job.
type JobStatus struct {
	State  JobState
	Events []StatusEvent
}

// FailureDescription returns the most recent event description, used
// when propagating an external failure into the project record.
func (s *JobStatus) FailureDescription() string {
	for i := len(s.Events) - 1; i >= 0; i-- {
		if s.Events[i].Description != "" {
			return s.Events[i].Description
		}
	}
	return ""
}

// Runner submits jobs to and polls the external batch collaborator.
type Runner interface {
	SubmitJob(ctx context.Context, spec JobSpec) (*JobRef, error)
	JobStatus(ctx context.Context, name string) (*JobStatus, error)
}

// UnknownStateError is returned when the provider reports a state the
// mapping table does not cover. Treated as an infrastructure error,
// never as a silent no-op.
type UnknownStateError struct {
	Raw string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unmapped batch job state %q", e.Raw)
}
