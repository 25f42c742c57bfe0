package payload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"signet/internal/platform/config"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
)

const objectPrefix = "payloads/"

// MinIOStore keeps payloads as objects in one bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects to the object store and ensures the bucket exists.
func NewMinIOStore(ctx context.Context, cfg config.Payload) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("payload endpoint is empty")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	s := &MinIOStore{client: mc, bucket: cfg.Bucket}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, xerr := mc.BucketExists(ctx, s.bucket)
		if xerr != nil || !exists {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return s, nil
}

func objectKey(ref id.StorageID) string {
	return objectPrefix + string(ref)
}

func (s *MinIOStore) Put(ctx context.Context, ref id.StorageID, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(ref), body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put payload %s: %w", ref, err)
	}
	return nil
}

func (s *MinIOStore) Get(ctx context.Context, ref id.StorageID) (*Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(ref), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get payload %s: %w", ref, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("stat payload %s: %w", ref, err)
	}
	return &Object{Body: obj, Size: info.Size, ContentType: info.ContentType}, nil
}
