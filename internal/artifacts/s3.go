// File: internal/artifacts/s3.go
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/veilkit/pane/internal/config"
)

// S3Sink uploads artifacts to S3-compatible object storage. The returned
// reference is an s3://bucket/key URL. Objects are keyed under a UTC date
// prefix.
type S3Sink struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

// NewS3Sink builds the object storage client and makes sure the configured
// bucket exists.
func NewS3Sink(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (*S3Sink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	s := &S3Sink{
		client: client,
		bucket: cfg.Bucket,
		log:    logger.Named("artifacts"),
	}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3Sink) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
	}
	s.log.Info("Artifact bucket created.", zap.String("bucket", s.bucket))
	return nil
}

// Save uploads the artifact and returns its object URL.
func (s *S3Sink) Save(ctx context.Context, name string, data []byte) (string, error) {
	key := path.Join(time.Now().UTC().Format("2006/01/02"), path.Base(name))

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentTypeFor(name)})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact %q: %w", key, err)
	}

	ref := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	s.log.Debug("Artifact uploaded.", zap.String("ref", ref), zap.Int("bytes", len(data)))
	return ref, nil
}

func contentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
