package storage

import (
	"context"
	"io"
	"time"
)

// Upload URL kinds returned by SignedUploadURL.
const (
	UploadResumable = "resumable"
	UploadSimple    = "simple"
)

// ResumableChunkSize is the chunk size hint handed to clients that use
// resumable sessions.
const ResumableChunkSize = 5 * 1024 * 1024

// SignedUpload describes an issued upload URL.
type SignedUpload struct {
	URL        string
	UploadType string
	ChunkSize  int64
	ExpiresIn  time.Duration
}

// ObjectStore abstracts the blob storage collaborator. The API and the
// worker only ever touch objects through this interface.
type ObjectStore interface {
	// ListObjects returns object names under prefix, with the prefix
	// stripped.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)

	// Exists reports whether the object is present.
	Exists(ctx context.Context, bucket, path string) (bool, error)

	// SignedUploadURL issues a URL the client PUTs (simple) or POSTs
	// (resumable session start) directly to the store.
	SignedUploadURL(ctx context.Context, bucket, path, contentType string, size int64, resumable bool) (*SignedUpload, error)

	// SignedDownloadURL issues a short-lived GET URL, or "" when the
	// object does not exist.
	SignedDownloadURL(ctx context.Context, bucket, path string) (string, error)

	// NewReader opens the object for reading.
	NewReader(ctx context.Context, bucket, path string) (io.ReadCloser, error)

	// Write stores the object from r and returns the byte count.
	Write(ctx context.Context, bucket, path string, r io.Reader) (int64, error)
}
