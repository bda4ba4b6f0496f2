package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kurin/blazer/b2"

	"github.com/sharegate/sharegate/internal/config"
)

// B2Store keeps blobs in a private Backblaze B2 bucket.
type B2Store struct {
	bucket *b2.Bucket
}

func NewB2Store(ctx context.Context, cfg config.B2Config) (*B2Store, error) {
	if cfg.KeyID == "" || cfg.ApplicationKey == "" || cfg.Bucket == "" {
		return nil, errors.New("b2 storage requires key id, application key and bucket")
	}

	client, err := b2.NewClient(ctx, cfg.KeyID, cfg.ApplicationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create B2 client: %w", err)
	}
	bucket, err := client.Bucket(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", cfg.Bucket, err)
	}
	return &B2Store{bucket: bucket}, nil
}

func (s *B2Store) Exists(ctx context.Context, p string) (bool, error) {
	name, err := CleanPath(p)
	if err != nil {
		return false, err
	}
	_, err = s.bucket.Object(name).Attrs(ctx)
	if b2.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *B2Store) Put(ctx context.Context, p string, r io.Reader, size int64, contentType string) (string, error) {
	name, err := CleanPath(p)
	if err != nil {
		return "", err
	}

	w := s.bucket.Object(name).NewWriter(ctx, b2.WithAttrsOption(&b2.Attrs{ContentType: contentType}))
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload blob to B2: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close B2 writer: %w", err)
	}
	return name, nil
}

func (s *B2Store) Get(ctx context.Context, p string) (*Object, error) {
	name, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	obj := s.bucket.Object(name)
	attrs, err := obj.Attrs(ctx)
	if b2.IsNotExist(err) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Object{
		Body:        obj.NewReader(ctx),
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
	}, nil
}

func (s *B2Store) Delete(ctx context.Context, p string) error {
	name, err := CleanPath(p)
	if err != nil {
		return err
	}
	if err := s.bucket.Object(name).Delete(ctx); err != nil && !b2.IsNotExist(err) {
		return fmt.Errorf("failed to delete B2 blob: %w", err)
	}
	return nil
}

// SignedURL issues a download authorization URL. B2 has no presigned
// uploads, so only PermRead is supported.
func (s *B2Store) SignedURL(ctx context.Context, p string, ttl time.Duration, perm Permission) (string, error) {
	if perm != PermRead {
		return "", ErrUnsupportedPermission
	}
	name, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	u, err := s.bucket.Object(name).AuthURL(ctx, ttl, "")
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return u.String(), nil
}
