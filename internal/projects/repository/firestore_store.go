package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
)

const projectsCollection = "projects"

// FirestoreStore persists projects in a Firestore collection. All
// read-modify-write operations run inside Firestore transactions so
// concurrent callers on the same document cannot lose updates.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a store backed by the given client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) doc(projectID string) *firestore.DocumentRef {
	return s.client.Collection(projectsCollection).Doc(projectID)
}

func (s *FirestoreStore) Create(ctx context.Context, name, description, ownerID string) (*domain.Project, error) {
	now := time.Now().UTC()
	p := &domain.Project{
		ProjectID:   uuid.New().String(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Status:      domain.StatusCreated,
		Progress:    0,
		Files:       []domain.FileEntry{},
		Outputs:     []domain.Output{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.doc(p.ProjectID).Set(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *FirestoreStore) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	snap, err := s.doc(projectID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	var p domain.Project
	if err := snap.DataTo(&p); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	return &p, nil
}

func (s *FirestoreStore) List(ctx context.Context, ownerID string, limit int) ([]domain.Project, error) {
	q := s.client.Collection(projectsCollection).Query
	if ownerID != "" {
		q = q.Where("owner_id", "==", ownerID)
	}
	q = q.OrderBy("created_at", firestore.Desc).Limit(limit)

	out := make([]domain.Project, 0, limit)
	it := q.Documents(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		var p domain.Project
		if err := snap.DataTo(&p); err != nil {
			return nil, fmt.Errorf("decode project: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, st domain.Status, limit int) ([]domain.Project, error) {
	q := s.client.Collection(projectsCollection).Query.
		Where("status", "==", string(st)).Limit(limit)

	out := make([]domain.Project, 0, limit)
	it := q.Documents(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list projects by status: %w", err)
		}
		var p domain.Project
		if err := snap.DataTo(&p); err != nil {
			return nil, fmt.Errorf("decode project: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *FirestoreStore) AppendFile(ctx context.Context, projectID string, entry domain.FileEntry) error {
	ref := s.doc(projectID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return domain.ErrProjectNotFound
		}
		if err != nil {
			return err
		}
		var p domain.Project
		if err := snap.DataTo(&p); err != nil {
			return err
		}
		p.Files = append(p.Files, entry)
		p.Status = domain.StatusUploading
		p.UpdatedAt = time.Now().UTC()
		return tx.Set(ref, &p)
	})
	if err == domain.ErrProjectNotFound {
		return err
	}
	if err != nil {
		return fmt.Errorf("append file: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ConfirmFile(ctx context.Context, projectID, fileID string) (bool, error) {
	ref := s.doc(projectID)
	found := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		found = false
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var p domain.Project
		if err := snap.DataTo(&p); err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range p.Files {
			if p.Files[i].FileID == fileID {
				p.Files[i].Status = domain.FileUploaded
				p.Files[i].UploadedAt = &now
				found = true
				break
			}
		}
		if !found {
			return nil
		}
		p.UpdatedAt = now
		return tx.Set(ref, &p)
	})
	if err != nil {
		return false, fmt.Errorf("confirm file: %w", err)
	}
	return found, nil
}

func (s *FirestoreStore) Transition(ctx context.Context, projectID string, allowedFrom []domain.Status, newStatus domain.Status, extra *TransitionExtra) (*domain.Project, error) {
	ref := s.doc(projectID)
	var result domain.Project
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return domain.ErrProjectNotFound
		}
		if err != nil {
			return err
		}
		var p domain.Project
		if err := snap.DataTo(&p); err != nil {
			return err
		}
		if !statusAllowed(p.Status, allowedFrom) {
			return &domain.RejectedError{Current: p.Status}
		}
		p.Status = newStatus
		p.UpdatedAt = time.Now().UTC()
		applyExtra(&p, extra)
		result = p
		return tx.Set(ref, &p)
	})
	if err != nil {
		if err == domain.ErrProjectNotFound {
			return nil, err
		}
		if _, ok := domain.IsRejected(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("transition to %s: %w", newStatus, err)
	}
	return &result, nil
}

func (s *FirestoreStore) SetProgress(ctx context.Context, projectID string, progress int) error {
	_, err := s.doc(projectID).Update(ctx, []firestore.Update{
		{Path: "progress", Value: progress},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

func (s *FirestoreStore) SetTerminal(ctx context.Context, projectID string, st domain.Status, errMsg string, outputs []domain.Output) error {
	updates := []firestore.Update{
		{Path: "status", Value: st},
		{Path: "updated_at", Value: time.Now().UTC()},
	}
	if st == domain.StatusCompleted {
		updates = append(updates, firestore.Update{Path: "progress", Value: 100})
	}
	if errMsg != "" {
		updates = append(updates, firestore.Update{Path: "error_message", Value: errMsg})
	}
	if outputs != nil {
		updates = append(updates, firestore.Update{Path: "outputs", Value: outputs})
	}
	if _, err := s.doc(projectID).Update(ctx, updates); err != nil {
		return fmt.Errorf("set terminal status: %w", err)
	}
	return nil
}

func (s *FirestoreStore) AttachJob(ctx context.Context, projectID string, job *domain.BatchJobRef) error {
	_, err := s.doc(projectID).Update(ctx, []firestore.Update{
		{Path: "batch_job", Value: job},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("attach job: %w", err)
	}
	return nil
}

func applyExtra(p *domain.Project, extra *TransitionExtra) {
	if extra == nil {
		return
	}
	if extra.Progress != nil {
		p.Progress = *extra.Progress
	}
	if extra.FilesCount != nil {
		p.FilesCount = *extra.FilesCount
	}
	if extra.ErrorMessage != nil {
		p.ErrorMessage = *extra.ErrorMessage
	}
}
