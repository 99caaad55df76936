// Package assetstore wraps MinIO/S3 access to uploaded KYC assets. Uploads
// are owned by the intake service; this subsystem only presigns read URLs so
// the remote classifier can fetch document bytes.
package assetstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"veriflow/internal/config"
)

type Store struct {
	client *minio.Client
	bucket string
	region string
	ttl    time.Duration
}

// New creates a MinIO client from the S3 config section.
func New(cfg config.S3Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{client: client, bucket: cfg.Bucket, region: cfg.Region, ttl: ttl}, nil
}

// EnsureBucket verifies the asset bucket exists before serving traffic.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// PresignAssetURL returns a short-lived GET URL for an asset object key.
func (s *Store) PresignAssetURL(ctx context.Context, objectKey string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign asset object: %w", err)
	}
	return u.String(), nil
}
