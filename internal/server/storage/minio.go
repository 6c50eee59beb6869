package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore stores uploaded files in a MinIO/S3 bucket. It satisfies the
// same Store contract as the filesystem backend; minio objects are
// seekable, so range downloads work unchanged.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	maxSize int64
}

// MinioOptions configures a MinioStore.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	MaxSize   int64
}

// NewMinioStore connects to MinIO and returns an object storage backend.
func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioStore{
		client:  client,
		bucket:  opts.Bucket,
		maxSize: opts.MaxSize,
	}, nil
}

// EnsureReady creates the bucket if it doesn't exist.
func (s *MinioStore) EnsureReady(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Save streams data into the bucket under name.
func (s *MinioStore) Save(ctx context.Context, name string, data io.Reader) (int64, error) {
	info, err := s.client.PutObject(ctx, s.bucket, name,
		io.LimitReader(data, s.maxSize+1), -1, minio.PutObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to put object %s: %w", name, err)
	}
	if info.Size > s.maxSize {
		_ = s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
		return 0, ErrTooLarge
	}
	return info.Size, nil
}

// Open returns a seekable reader over an object and its size.
func (s *MinioStore) Open(ctx context.Context, name string) (io.ReadSeekCloser, int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get object %s: %w", name, err)
	}

	// GetObject is lazy; Stat surfaces a missing key.
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, ErrNotExist
		}
		return nil, 0, fmt.Errorf("failed to stat object %s: %w", name, err)
	}

	return obj, stat.Size, nil
}

// Exists reports whether an object is present in the bucket.
func (s *MinioStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object %s: %w", name, err)
}

// Delete removes an object. Removing an absent object is a no-op.
func (s *MinioStore) Delete(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", name, err)
	}
	return nil
}
