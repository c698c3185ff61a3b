package repository

import (
	"context"

	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
)

// TransitionExtra carries the optional fields written together with a
// status transition, inside the same atomic commit.
type TransitionExtra struct {
	Progress     *int
	FilesCount   *int
	ErrorMessage *string
}

// Store is the sole mutation surface for project documents. Every
// implementation must make Transition, AppendFile and ConfirmFile
// atomic read-check-writes with respect to concurrent callers on the
// same project id.
type Store interface {
	Create(ctx context.Context, name, description, ownerID string) (*domain.Project, error)
	Get(ctx context.Context, projectID string) (*domain.Project, error)
	List(ctx context.Context, ownerID string, limit int) ([]domain.Project, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Project, error)

	// AppendFile registers an upload slot and re-asserts UPLOADING
	// status in one commit.
	AppendFile(ctx context.Context, projectID string, entry domain.FileEntry) error

	// ConfirmFile flips one file entry to uploaded. Returns false when
	// the project or file entry is missing.
	ConfirmFile(ctx context.Context, projectID, fileID string) (bool, error)

	// Transition moves the project to newStatus only if the current
	// status is in allowedFrom. A refused transition returns
	// *domain.RejectedError carrying the status observed at check time.
	Transition(ctx context.Context, projectID string, allowedFrom []domain.Status, newStatus domain.Status, extra *TransitionExtra) (*domain.Project, error)

	// SetProgress records worker progress. Callers treat failures as
	// non-fatal.
	SetProgress(ctx context.Context, projectID string, progress int) error

	// SetTerminal records the final state of a processing run.
	SetTerminal(ctx context.Context, projectID string, status domain.Status, errMsg string, outputs []domain.Output) error

	// AttachJob stores the submitted batch job reference.
	AttachJob(ctx context.Context, projectID string, job *domain.BatchJobRef) error
}

func statusAllowed(current domain.Status, allowedFrom []domain.Status) bool {
	for _, s := range allowedFrom {
		if current == s {
			return true
		}
	}
	return false
}
