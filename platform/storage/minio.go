// Package storage provides S3-compatible object storage for catalog assets.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"storefront_backend/platform/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PresignedURLTTL is how long a presigned catalog image link stays valid.
const PresignedURLTTL = 15 * time.Minute

// MinIOService presigns catalog objects.
type MinIOService struct {
	client *minio.Client
	bucket string
}

// NewMinIOService creates a new MinIO storage service.
func NewMinIOService(cfg config.MinIOConfig) (*MinIOService, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOService{client: client, bucket: cfg.GetMinioBucketCatalogAssets()}, nil
}

// EnsureBucketExists creates the catalog bucket if it doesn't exist.
func (s *MinIOService) EnsureBucketExists(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ResolveURL turns a stored image reference into a fetchable URL. Absolute
// URLs pass through; anything else is treated as an object key and presigned.
func (s *MinIOService) ResolveURL(ctx context.Context, ref string) (string, error) {
	if IsAbsoluteURL(ref) {
		return ref, nil
	}

	key := strings.TrimPrefix(strings.TrimSpace(ref), "/")
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}

	reqParams := make(url.Values)
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, PresignedURLTTL, reqParams)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return presigned.String(), nil
}

// IsAbsoluteURL reports whether ref already carries an http(s) scheme.
func IsAbsoluteURL(ref string) bool {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
