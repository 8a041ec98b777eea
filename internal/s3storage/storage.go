// Package s3storage keeps staged file bytes in a MinIO/S3 bucket so a
// background worker on another host can process them.
package s3storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/certdesk/internal/config"
	"github.com/dharsanguruparan/certdesk/internal/model"
)

// Storage wraps MinIO/S3 interactions for staged files.
type Storage struct {
	client    *minio.Client
	rawBucket string
	region    string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:    client,
		rawBucket: cfg.RawBucket,
		region:    cfg.S3Region,
	}, nil
}

// EnsureBucket creates the staging bucket if it does not exist.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.rawBucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.rawBucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.rawBucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.rawBucket, err)
	}
	return nil
}

// ObjectKey is where the bytes of f staged in session live.
func ObjectKey(session string, f model.StagedFile) string {
	return path.Join("staged", session, f.ID, path.Base(f.Name))
}

// PutStaged uploads the content of f and returns its object key.
func (s *Storage) PutStaged(ctx context.Context, session string, f model.StagedFile, r io.Reader) (string, error) {
	key := ObjectKey(session, f)
	opts := minio.PutObjectOptions{ContentType: f.ContentType}
	if _, err := s.client.PutObject(ctx, s.rawBucket, key, r, f.Size, opts); err != nil {
		return "", fmt.Errorf("upload staged object: %w", err)
	}
	return key, nil
}

// Open streams the staged bytes of f. It satisfies processing.Opener.
func (s *Storage) Open(ctx context.Context, f model.StagedFile) (io.ReadCloser, error) {
	if f.ObjectKey == "" {
		return nil, fmt.Errorf("file %s was not uploaded", f.Name)
	}
	obj, err := s.client.GetObject(ctx, s.rawBucket, f.ObjectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get staged object: %w", err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat staged object: %w", err)
	}
	return obj, nil
}

// Remove deletes staged objects; keys that no longer exist are ignored.
func (s *Storage) Remove(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.rawBucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}
