// Package service implements the project-facing use cases on top of
// the store and the object storage collaborator.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/skylens-geo/photogrammetry-backend/internal/cache"
	"github.com/skylens-geo/photogrammetry-backend/internal/events"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/repository"
	"github.com/skylens-geo/photogrammetry-backend/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// ProjectService handles project lifecycle reads and creation.
type ProjectService struct {
	store         repository.Store
	objects       storage.ObjectStore
	statusCache   *cache.StatusCache
	emitter       *events.Emitter
	outputsBucket string
}

func NewProjectService(store repository.Store, objects storage.ObjectStore, statusCache *cache.StatusCache, emitter *events.Emitter, outputsBucket string) *ProjectService {
	return &ProjectService{
		store:         store,
		objects:       objects,
		statusCache:   statusCache,
		emitter:       emitter,
		outputsBucket: outputsBucket,
	}
}

// Create registers a new project in CREATED.
func (s *ProjectService) Create(ctx context.Context, name, description, ownerID string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	project, err := s.store.Create(ctx, name, strings.TrimSpace(description), ownerID)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.emitter.ProjectCreated(ctx, project.ProjectID, project.Name)
	return project, nil
}

// Get returns the project, served from the status cache when a fresh
// enough copy exists. Polling clients hit this continuously during
// processing.
func (s *ProjectService) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	if cached := s.statusCache.Get(ctx, projectID); cached != nil {
		return cached, nil
	}
	project, err := s.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s.statusCache.Set(ctx, project)
	return project, nil
}

// InvalidateStatus drops the cached copy after a status-changing
// write, so polling clients see the transition without waiting out the
// TTL.
func (s *ProjectService) InvalidateStatus(ctx context.Context, projectID string) {
	s.statusCache.Invalidate(ctx, projectID)
}

// List returns projects, optionally filtered by owner, newest first.
func (s *ProjectService) List(ctx context.Context, ownerID string, limit int) ([]domain.Project, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.List(ctx, ownerID, limit)
}

// Result is a project's outputs paired with short-lived download URLs.
type Result struct {
	ProjectID    string
	Status       domain.Status
	Outputs      []domain.Output
	DownloadURLs []string
}

// Results returns the project's recorded outputs with a signed
// download URL for each artifact still present in the outputs bucket.
func (s *ProjectService) Results(ctx context.Context, projectID string) (*Result, error) {
	project, err := s.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ProjectID: project.ProjectID,
		Status:    project.Status,
		Outputs:   project.Outputs,
	}
	for _, output := range project.Outputs {
		// Recorded filenames are sanitized again before touching the
		// bucket, a tampered record must not reach other prefixes.
		objectPath := projectID + "/" + domain.SanitizeFilename(output.Filename)
		url, err := s.objects.SignedDownloadURL(ctx, s.outputsBucket, objectPath)
		if err != nil {
			return nil, fmt.Errorf("sign download for %s: %w", output.Filename, err)
		}
		if url != "" {
			result.DownloadURLs = append(result.DownloadURLs, url)
		}
	}
	return result, nil
}
