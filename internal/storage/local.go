package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrSignatureExpired = errors.New("signature expired")
)

// LocalStore keeps blobs on the filesystem and issues HMAC-signed URLs that
// are served back by the /blobs route.
type LocalStore struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

func NewLocalStore(root, baseURL string, secret []byte) (*LocalStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("local storage requires a signing secret")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		now:     time.Now,
	}, nil
}

func (s *LocalStore) resolve(p string) (string, string, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *LocalStore) Exists(ctx context.Context, p string) (bool, error) {
	_, full, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// Put writes to a temp file in the target directory and renames it into
// place so readers never observe a partial blob.
func (s *LocalStore) Put(ctx context.Context, p string, r io.Reader, size int64, contentType string) (string, error) {
	cleaned, full, err := s.resolve(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	written, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		if copyErr != nil {
			return "", copyErr
		}
		return "", closeErr
	}
	if size >= 0 && written != size {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("short write: expected %d bytes, wrote %d", size, written)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return cleaned, nil
}

func (s *LocalStore) Get(ctx context.Context, p string) (*Object, error) {
	_, full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is cleaned and confined to the store root.
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, ErrObjectNotFound
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectReader(f); err == nil {
		contentType = mt.String()
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Object{Body: f, Size: info.Size(), ContentType: contentType}, nil
}

// Delete removes the blob. Deleting a missing blob is not an error.
func (s *LocalStore) Delete(ctx context.Context, p string) error {
	_, full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) SignedURL(ctx context.Context, p string, ttl time.Duration, perm Permission) (string, error) {
	cleaned, _, err := s.resolve(p)
	if err != nil {
		return "", err
	}
	if perm != PermRead && perm != PermWrite {
		return "", ErrUnsupportedPermission
	}
	if ttl <= 0 {
		return "", errors.New("signed url ttl must be positive")
	}

	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	query := url.Values{}
	query.Set("expires", expires)
	query.Set("perm", string(perm))
	query.Set("sig", s.sign(cleaned, expires, perm))

	return s.baseURL + "/blobs/" + escapePath(cleaned) + "?" + query.Encode(), nil
}

// Verify checks a signature produced by SignedURL.
func (s *LocalStore) Verify(p, expires string, perm Permission, sig string) error {
	cleaned, _, err := s.resolve(p)
	if err != nil {
		return err
	}
	expected := s.sign(cleaned, expires, perm)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrSignatureInvalid
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if s.now().Unix() > exp {
		return ErrSignatureExpired
	}
	return nil
}

func (s *LocalStore) sign(p, expires string, perm Permission) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(p + "\n" + expires + "\n" + string(perm)))
	return hex.EncodeToString(mac.Sum(nil))
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
