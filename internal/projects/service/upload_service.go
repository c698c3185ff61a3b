package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/repository"
	"github.com/skylens-geo/photogrammetry-backend/internal/storage"
)

const defaultContentType = "application/octet-stream"

// UploadRegistration is the issued upload slot handed back to the
// client.
type UploadRegistration struct {
	FileID     string
	ObjectPath string
	Upload     *storage.SignedUpload
}

// FinalizeResult reports the outcome of closing the upload phase.
type FinalizeResult struct {
	ProjectID  string
	FilesCount int
	Status     domain.Status
}

// UploadService owns the upload phase: issuing upload URLs,
// confirming individual files and finalizing the set.
type UploadService struct {
	store         repository.Store
	objects       storage.ObjectStore
	uploadsBucket string
}

func NewUploadService(store repository.Store, objects storage.ObjectStore, uploadsBucket string) *UploadService {
	return &UploadService{store: store, objects: objects, uploadsBucket: uploadsBucket}
}

// RegisterUpload issues a signed upload URL for one file and records
// the pending entry on the project. The stored object name is the
// sanitized filename prefixed with a fresh file id, so concurrent
// uploads of identically named files never collide.
func (s *UploadService) RegisterUpload(ctx context.Context, projectID, filename, contentType string, size int64, resumable bool) (*UploadRegistration, error) {
	if _, err := s.store.Get(ctx, projectID); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	fileID := uuid.NewString()
	clean := domain.SanitizeFilename(filename)
	safeName := fmt.Sprintf("%s_%s", fileID, clean)
	objectPath := fmt.Sprintf("%s/%s", projectID, safeName)

	resumable = resumable && size > 0
	upload, err := s.objects.SignedUploadURL(ctx, s.uploadsBucket, objectPath, contentType, size, resumable)
	if err != nil {
		return nil, fmt.Errorf("sign upload url: %w", err)
	}

	entry := domain.FileEntry{
		FileID:      fileID,
		Filename:    clean,
		SafeName:    safeName,
		ObjectPath:  objectPath,
		Size:        size,
		ContentType: contentType,
		Status:      domain.FilePending,
	}
	if err := s.store.AppendFile(ctx, projectID, entry); err != nil {
		return nil, fmt.Errorf("register file: %w", err)
	}

	return &UploadRegistration{FileID: fileID, ObjectPath: objectPath, Upload: upload}, nil
}

// ConfirmUpload verifies the object actually landed in the bucket and
// flips the file entry to uploaded. The storage check comes first; a
// client cannot confirm a file it never sent.
func (s *UploadService) ConfirmUpload(ctx context.Context, projectID, fileID string) error {
	project, err := s.store.Get(ctx, projectID)
	if err != nil {
		return err
	}

	var objectPath string
	for _, f := range project.Files {
		if f.FileID == fileID {
			objectPath = f.ObjectPath
			break
		}
	}
	if objectPath == "" {
		return domain.ErrFileNotFound
	}

	exists, err := s.objects.Exists(ctx, s.uploadsBucket, objectPath)
	if err != nil {
		return fmt.Errorf("check object %s: %w", objectPath, err)
	}
	if !exists {
		return domain.ErrFileNotFound
	}

	found, err := s.store.ConfirmFile(ctx, projectID, fileID)
	if err != nil {
		return fmt.Errorf("confirm file: %w", err)
	}
	if !found {
		return domain.ErrFileNotFound
	}
	return nil
}

// Finalize closes the upload phase and moves the project to PENDING.
// The object store is the authoritative count; registrations whose
// bytes never arrived do not count. Projects already processing or
// finished are rejected.
func (s *UploadService) Finalize(ctx context.Context, projectID string) (*FinalizeResult, error) {
	if _, err := s.store.Get(ctx, projectID); err != nil {
		return nil, err
	}

	names, err := s.objects.ListObjects(ctx, s.uploadsBucket, projectID+"/")
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	count := len(names)
	if count == 0 {
		return nil, domain.ErrNoFiles
	}

	project, err := s.store.Transition(ctx, projectID,
		[]domain.Status{domain.StatusCreated, domain.StatusUploading, domain.StatusPending},
		domain.StatusPending,
		&repository.TransitionExtra{FilesCount: &count},
	)
	if err != nil {
		return nil, err
	}

	return &FinalizeResult{
		ProjectID:  project.ProjectID,
		FilesCount: count,
		Status:     project.Status,
	}, nil
}
