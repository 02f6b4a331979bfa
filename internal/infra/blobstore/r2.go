package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
)

// R2BlobStore stores PDF bytes in Cloudflare R2 via the S3-compatible API.
type R2BlobStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewR2BlobStore constructs the storage adapter.
func NewR2BlobStore(endpoint, accessKey, secretKey, bucket, region string, logger *slog.Logger) (*R2BlobStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(sanitizeEndpoint(endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       strings.HasPrefix(strings.ToLower(endpoint), "https"),
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init r2 client: %w", err)
	}
	return &R2BlobStore{client: client, bucket: bucket, logger: logger.With("component", "blobstore.r2")}, nil
}

func (s *R2BlobStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err == nil && exists {
		return nil
	}
	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return err
	}
	return nil
}

func (s *R2BlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:      "application/pdf",
		DisableMultipart: len(data) < 5*1024*1024,
	})
	return err
}

func (s *R2BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, statErr := obj.Stat(); statErr != nil {
		return nil, statErr
	}
	return obj, nil
}

func (s *R2BlobStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

var _ ingest.BlobStore = (*R2BlobStore)(nil)

func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if strings.Contains(raw, "/") {
		return strings.Split(raw, "/")[0]
	}
	return raw
}
