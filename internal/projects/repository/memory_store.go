package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
)

// MemoryStore is a mutex-guarded in-memory Store with the same
// atomicity guarantees as the Firestore implementation. Used for local
// development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	projects map[string]*domain.Project
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*domain.Project)}
}

func clone(p *domain.Project) *domain.Project {
	cp := *p
	cp.Files = append([]domain.FileEntry(nil), p.Files...)
	cp.Outputs = append([]domain.Output(nil), p.Outputs...)
	if p.BatchJob != nil {
		job := *p.BatchJob
		cp.BatchJob = &job
	}
	return &cp
}

func (s *MemoryStore) Create(ctx context.Context, name, description, ownerID string) (*domain.Project, error) {
	now := time.Now().UTC()
	p := &domain.Project{
		ProjectID:   uuid.New().String(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Status:      domain.StatusCreated,
		Files:       []domain.FileEntry{},
		Outputs:     []domain.Output{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	s.projects[p.ProjectID] = p
	s.mu.Unlock()
	return clone(p), nil
}

func (s *MemoryStore) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) List(ctx context.Context, ownerID string, limit int) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if ownerID != "" && p.OwnerID != ownerID {
			continue
		}
		out = append(out, *clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, st domain.Status, limit int) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, 16)
	for _, p := range s.projects {
		if p.Status != st {
			continue
		}
		out = append(out, *clone(p))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendFile(ctx context.Context, projectID string, entry domain.FileEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	p.Files = append(p.Files, entry)
	p.Status = domain.StatusUploading
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ConfirmFile(ctx context.Context, projectID, fileID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return false, nil
	}
	now := time.Now().UTC()
	for i := range p.Files {
		if p.Files[i].FileID == fileID {
			p.Files[i].Status = domain.FileUploaded
			p.Files[i].UploadedAt = &now
			p.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Transition(ctx context.Context, projectID string, allowedFrom []domain.Status, newStatus domain.Status, extra *TransitionExtra) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	if !statusAllowed(p.Status, allowedFrom) {
		return nil, &domain.RejectedError{Current: p.Status}
	}
	p.Status = newStatus
	p.UpdatedAt = time.Now().UTC()
	applyExtra(p, extra)
	return clone(p), nil
}

func (s *MemoryStore) SetProgress(ctx context.Context, projectID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	p.Progress = progress
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetTerminal(ctx context.Context, projectID string, st domain.Status, errMsg string, outputs []domain.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	p.Status = st
	if st == domain.StatusCompleted {
		p.Progress = 100
	}
	if errMsg != "" {
		p.ErrorMessage = errMsg
	}
	if outputs != nil {
		p.Outputs = append([]domain.Output(nil), outputs...)
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AttachJob(ctx context.Context, projectID string, job *domain.BatchJobRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	j := *job
	p.BatchJob = &j
	p.UpdatedAt = time.Now().UTC()
	return nil
}
