package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

const signedURLExpiry = 15 * time.Minute

// GCSStore implements ObjectStore on Google Cloud Storage. Signed URLs
// use the V4 scheme with the client's ambient credentials; resumable
// uploads are issued as signed session-start POST URLs.
type GCSStore struct {
	client *gcs.Client
}

// NewGCSStore wraps an existing storage client.
func NewGCSStore(client *gcs.Client) *GCSStore {
	return &GCSStore{client: client}
}

func (s *GCSStore) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	names := make([]string, 0, 64)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects %s/%s: %w", bucket, prefix, err)
		}
		names = append(names, strings.TrimPrefix(attrs.Name, prefix))
	}
	return names, nil
}

func (s *GCSStore) Exists(ctx context.Context, bucket, path string) (bool, error) {
	_, err := s.client.Bucket(bucket).Object(path).Attrs(ctx)
	if err == gcs.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %s/%s: %w", bucket, path, err)
	}
	return true, nil
}

func (s *GCSStore) SignedUploadURL(ctx context.Context, bucket, path, contentType string, size int64, resumable bool) (*SignedUpload, error) {
	opts := &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Expires: time.Now().Add(signedURLExpiry),
	}

	if resumable && size > 0 {
		// Session-start URL: the client POSTs once, then streams
		// chunks to the session URL GCS returns.
		opts.Method = "POST"
		opts.Headers = []string{"x-goog-resumable:start"}
		url, err := s.client.Bucket(bucket).SignedURL(path, opts)
		if err != nil {
			return nil, fmt.Errorf("sign resumable upload url: %w", err)
		}
		return &SignedUpload{
			URL:        url,
			UploadType: UploadResumable,
			ChunkSize:  ResumableChunkSize,
			ExpiresIn:  signedURLExpiry,
		}, nil
	}

	opts.Method = "PUT"
	opts.ContentType = contentType
	url, err := s.client.Bucket(bucket).SignedURL(path, opts)
	if err != nil {
		return nil, fmt.Errorf("sign upload url: %w", err)
	}
	return &SignedUpload{
		URL:        url,
		UploadType: UploadSimple,
		ExpiresIn:  signedURLExpiry,
	}, nil
}

func (s *GCSStore) SignedDownloadURL(ctx context.Context, bucket, path string) (string, error) {
	ok, err := s.Exists(ctx, bucket, path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	url, err := s.client.Bucket(bucket).SignedURL(path, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(signedURLExpiry),
	})
	if err != nil {
		return "", fmt.Errorf("sign download url: %w", err)
	}
	return url, nil
}

func (s *GCSStore) NewReader(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s/%s: %w", bucket, path, err)
	}
	return r, nil
}

func (s *GCSStore) Write(ctx context.Context, bucket, path string, r io.Reader) (int64, error) {
	w := s.client.Bucket(bucket).Object(path).NewWriter(ctx)
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return 0, fmt.Errorf("write object %s/%s: %w", bucket, path, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("finalize object %s/%s: %w", bucket, path, err)
	}
	return n, nil
}
