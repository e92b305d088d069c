package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
)

var ErrEmptyObject = errors.New("archive object is empty")

// ArchiveStorage writes ledger export objects into a single bucket.
type ArchiveStorage struct {
	client *minio.Client
	bucket string

	ensureOnce sync.Once
	ensureErr  error
}

func NewArchiveStorage(client *minio.Client, bucket string) *ArchiveStorage {
	return &ArchiveStorage{
		client: client,
		bucket: strings.TrimSpace(bucket),
	}
}

func (s *ArchiveStorage) EnsureBucket(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	if s.bucket == "" {
		return fmt.Errorf("s3 bucket is empty")
	}

	s.ensureOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.ensureErr = err
			return
		}
		if exists {
			return
		}
		s.ensureErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	})

	if s.ensureErr != nil {
		return fmt.Errorf("ensure s3 bucket %q: %w", s.bucket, s.ensureErr)
	}

	return nil
}

// Put overwrites the object at key, so repeated exports of the same day are safe.
func (s *ArchiveStorage) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if s.client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	if strings.TrimSpace(key) == "" || len(body) == 0 {
		return ErrEmptyObject
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object to s3: %w", err)
	}

	return nil
}
