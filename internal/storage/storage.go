// Package storage holds the blob backends behind the BlobStore contract.
// Blobs are addressed by slash-separated relative paths such as
// users/{ownerID}/{fileID}/{name}.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/sharegate/sharegate/internal/config"
)

type Permission string

const (
	PermRead  Permission = "r"
	PermWrite Permission = "w"
)

var (
	ErrObjectNotFound        = errors.New("object not found")
	ErrInvalidPath           = errors.New("invalid object path")
	ErrUnsupportedPermission = errors.New("unsupported signed url permission")
)

// Object is a streaming handle on a stored blob. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

type BlobStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, path string) (*Object, error)
	Delete(ctx context.Context, path string) error
	// SignedURL returns a time-limited URL granting perm on path.
	SignedURL(ctx context.Context, path string, ttl time.Duration, perm Permission) (string, error)
}

// CleanPath normalizes a blob path and rejects anything that could escape
// the store root.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || strings.ContainsAny(p, "\\\x00") {
		return "", ErrInvalidPath
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", ErrInvalidPath
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// UserPrefix is the namespace every blob owned by userID lives under.
func UserPrefix(userID string) string {
	return "users/" + userID + "/"
}

// New builds the BlobStore selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig, publicBaseURL string) (BlobStore, error) {
	switch cfg.Backend {
	case config.StorageBackendLocal, "":
		return NewLocalStore(cfg.Path, publicBaseURL, []byte(cfg.SigningSecret))
	case config.StorageBackendS3:
		return NewS3Store(ctx, cfg.S3)
	case config.StorageBackendB2:
		return NewB2Store(ctx, cfg.B2)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
