package service

import (
	"context"
	"database/sql"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/sharegate/sharegate/internal/auth"
	"github.com/sharegate/sharegate/internal/models"
	"github.com/sharegate/sharegate/internal/repository"
	"github.com/sharegate/sharegate/internal/storage"
	"github.com/sharegate/sharegate/pkg/logger"
)

const (
	minShortLinkMinutes     = 60
	maxShortLinkMinutes     = 10080
	defaultShortLinkMinutes = 1440
)

type ShortLinkService struct {
	mappings    *repository.LinkMappingRepository
	files       *repository.FileRepository
	blobs       storage.BlobStore
	tokens      *auth.TokenManager
	baseURL     string
	tokenTTL    time.Duration
	redirectTTL time.Duration
	now         func() time.Time
}

func NewShortLinkService(
	mappings *repository.LinkMappingRepository,
	files *repository.FileRepository,
	blobs storage.BlobStore,
	tokens *auth.TokenManager,
	baseURL string,
	tokenTTL time.Duration,
	redirectTTL time.Duration,
) *ShortLinkService {
	return &ShortLinkService{
		mappings:    mappings,
		files:       files,
		blobs:       blobs,
		tokens:      tokens,
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokenTTL:    tokenTTL,
		redirectTTL: redirectTTL,
		now:         time.Now,
	}
}

type ShortLinkMetadata struct {
	OriginalFilename string `json:"original_filename"`
	MimeType         string `json:"mime_type"`
	FileSize         int64  `json:"size"`
}

type CreateShortLinkRequest struct {
	OwnerID       string
	BlobPath      string
	ExpiryMinutes int
	Metadata      ShortLinkMetadata
	Password      string
}

type CreatedShortLink struct {
	Link      string    `json:"link"`
	ShortCode string    `json:"short_code"`
	ExpiresAt time.Time `json:"expires_at"`
	BlobPath  string    `json:"blob_path"`
}

func clampShortLinkMinutes(minutes int) int {
	switch {
	case minutes == 0:
		return defaultShortLinkMinutes
	case minutes < minShortLinkMinutes:
		return minShortLinkMinutes
	case minutes > maxShortLinkMinutes:
		return maxShortLinkMinutes
	default:
		return minutes
	}
}

// Create mints a short code for a blob in the owner's namespace. The blob
// must exist before a code is handed out.
func (s *ShortLinkService) Create(ctx context.Context, req CreateShortLinkRequest) (*CreatedShortLink, error) {
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.BlobPath) == "" {
		return nil, validationError("owner_id and blob_path are required")
	}
	blobPath, err := storage.CleanPath(req.BlobPath)
	if err != nil {
		return nil, validationError("invalid blob_path")
	}
	if !strings.HasPrefix(blobPath, storage.UserPrefix(req.OwnerID)) {
		return nil, ErrBlobOutsideNamespace
	}

	exists, err := s.blobs.Exists(ctx, blobPath)
	if err != nil {
		return nil, storageFailure(err)
	}
	if !exists {
		return nil, ErrBlobNotFound
	}

	now := s.now()
	meta := s.fillMetadata(ctx, blobPath, req.Metadata)
	if meta.OriginalFilename == "" {
		meta.OriginalFilename = path.Base(blobPath)
	}
	if meta.MimeType == "" {
		meta.MimeType = "application/octet-stream"
	}
	mapping := &models.LinkMapping{
		BlobPath:         blobPath,
		OwnerID:          req.OwnerID,
		Status:           models.LinkStatusActive,
		OriginalFilename: meta.OriginalFilename,
		MimeType:         meta.MimeType,
		FileSize:         meta.FileSize,
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Duration(clampShortLinkMinutes(req.ExpiryMinutes)) * time.Minute),
	}
	if req.Password != "" {
		hash, err := HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		mapping.PasswordHash = &hash
	}

	if err := s.insertWithFreshCode(ctx, mapping); err != nil {
		return nil, err
	}

	logger.Audit("short_link_create", req.OwnerID, map[string]string{
		"short_code": mapping.ShortCode,
		"protected":  boolString(mapping.HasPassword()),
	})

	return &CreatedShortLink{
		Link:      s.baseURL + "/s/" + mapping.ShortCode,
		ShortCode: mapping.ShortCode,
		ExpiresAt: mapping.ExpiresAt,
		BlobPath:  mapping.BlobPath,
	}, nil
}

// fillMetadata completes missing fields from the uploaded file record that
// owns blobPath, when there is one.
func (s *ShortLinkService) fillMetadata(ctx context.Context, blobPath string, meta ShortLinkMetadata) ShortLinkMetadata {
	if meta.OriginalFilename != "" && meta.MimeType != "" && meta.FileSize > 0 {
		return meta
	}
	file, err := s.files.GetByStoragePath(ctx, blobPath)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warn().Err(err).Str("blob_path", blobPath).Msg("Failed to look up file metadata")
		}
		return meta
	}
	if meta.OriginalFilename == "" {
		meta.OriginalFilename = file.OriginalFilename
	}
	if meta.MimeType == "" {
		meta.MimeType = file.MimeType
	}
	if meta.FileSize <= 0 {
		meta.FileSize = file.FileSize
	}
	return meta
}

// insertWithFreshCode relies on the primary key to detect collisions, so two
// concurrent creators can never end up sharing a code.
func (s *ShortLinkService) insertWithFreshCode(ctx context.Context, mapping *models.LinkMapping) error {
	for attempt := 0; attempt < maxShortCodeAttempts; attempt++ {
		mapping.ShortCode = GenerateShortCode()
		err := s.mappings.Create(ctx, mapping)
		if errors.Is(err, repository.ErrDuplicateKey) {
			logger.Warn().Int("attempt", attempt+1).Msg("Short code collision, retrying")
			continue
		}
		return err
	}
	logger.Error().Int("attempts", maxShortCodeAttempts).Msg("Short code space exhausted")
	return ErrShortCodeExhausted
}

// Resolve returns an active mapping. An active mapping found past its
// expiry is moved to expired before reporting it gone.
func (s *ShortLinkService) Resolve(ctx context.Context, code string) (*models.LinkMapping, error) {
	if !IsValidShortCode(code) {
		return nil, ErrInvalidShortCode
	}
	mapping, err := s.mappings.GetByCode(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}

	switch mapping.Status {
	case models.LinkStatusRevoked:
		return nil, ErrLinkRevoked
	case models.LinkStatusExpired:
		return nil, ErrLinkExpired
	}
	if s.now().After(mapping.ExpiresAt) {
		if _, err := s.mappings.MarkExpired(ctx, mapping.ShortCode); err != nil {
			logger.Warn().Err(err).Str("short_code", mapping.ShortCode).Msg("Failed to mark short link expired")
		}
		return nil, ErrLinkExpired
	}
	if err := s.authorizeBackingFile(ctx, mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

// authorizeBackingFile runs the link capability through the authorization
// engine when the blob belongs to an uploaded file, so a file in the trash
// stops answering on every link. Blobs with no file record pass through.
func (s *ShortLinkService) authorizeBackingFile(ctx context.Context, mapping *models.LinkMapping) error {
	file, err := s.files.GetByStoragePath(ctx, mapping.BlobPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	capability := &Capability{FileID: file.ID, LinkID: mapping.ShortCode}
	if _, err := Authorize(file, "", nil, capability, OpDownload); err != nil {
		logger.Info().
			Str("short_code", mapping.ShortCode).
			Str("file_id", file.ID).
			Msg("Short link refused by file state")
		return err
	}
	return nil
}

type ShortLinkInfo struct {
	ShortCode        string    `json:"short_code"`
	FileName         string    `json:"file_name"`
	MimeType         string    `json:"mime_type"`
	FileSize         int64     `json:"file_size_bytes"`
	ExpiresAt        time.Time `json:"expires_at"`
	RequiresPassword bool      `json:"requires_password"`
}

func infoFor(m *models.LinkMapping) *ShortLinkInfo {
	return &ShortLinkInfo{
		ShortCode:        m.ShortCode,
		FileName:         m.OriginalFilename,
		MimeType:         m.MimeType,
		FileSize:         m.FileSize,
		ExpiresAt:        m.ExpiresAt,
		RequiresPassword: m.HasPassword(),
	}
}

type ResolvedContent struct {
	Info *ShortLinkInfo
	// Object is nil in check-only mode. Callers must close Object.Body.
	Object *storage.Object
}

// ResolveForContent either describes the link (checkOnly) or opens its blob
// and records one access. Password-protected links need a download token
// issued by Verify for this exact code.
func (s *ShortLinkService) ResolveForContent(ctx context.Context, code, token string, checkOnly bool) (*ResolvedContent, error) {
	mapping, err := s.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	info := infoFor(mapping)
	if checkOnly {
		return &ResolvedContent{Info: info}, nil
	}

	if mapping.HasPassword() {
		if _, err := s.tokens.ParseDownloadToken(token, mapping.ShortCode); err != nil {
			return nil, ErrDownloadTokenRequired
		}
	}

	obj, err := s.blobs.Get(ctx, mapping.BlobPath)
	if err != nil {
		logger.Error().Err(err).Str("short_code", mapping.ShortCode).Msg("Failed to open blob for short link")
		return nil, storageFailure(err)
	}
	if obj.ContentType == "" {
		obj.ContentType = mapping.MimeType
	}

	ok, err := s.mappings.RecordAccess(ctx, mapping.ShortCode, s.now())
	if err != nil {
		_ = obj.Body.Close()
		return nil, err
	}
	if !ok {
		_ = obj.Body.Close()
		return nil, ErrLinkExpired
	}
	return &ResolvedContent{Info: info, Object: obj}, nil
}

type DownloadToken struct {
	Token     string    `json:"downloadToken"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Verify checks the link password and returns a short-lived token scoped to
// this code.
func (s *ShortLinkService) Verify(ctx context.Context, code, password string) (*DownloadToken, error) {
	mapping, err := s.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	if !mapping.HasPassword() {
		return nil, ErrLinkNotProtected
	}
	if password == "" {
		return nil, validationError("password is required")
	}
	if !VerifyPassword(password, *mapping.PasswordHash) {
		return nil, ErrInvalidPassword
	}

	token, expiresAt, err := s.tokens.GenerateDownloadToken(mapping.ShortCode, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &DownloadToken{Token: token, ExpiresAt: expiresAt}, nil
}

// Redirect returns a short-lived signed blob URL for an unprotected link and
// records the access.
func (s *ShortLinkService) Redirect(ctx context.Context, code string) (string, error) {
	mapping, err := s.Resolve(ctx, code)
	if err != nil {
		return "", err
	}
	if mapping.HasPassword() {
		return "", ErrPasswordRequired
	}

	signed, err := s.blobs.SignedURL(ctx, mapping.BlobPath, s.redirectTTL, storage.PermRead)
	if err != nil {
		return "", storageFailure(err)
	}
	ok, err := s.mappings.RecordAccess(ctx, mapping.ShortCode, s.now())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLinkExpired
	}
	return signed, nil
}

// Revoke marks the mapping revoked. Revoking twice is not an error.
func (s *ShortLinkService) Revoke(ctx context.Context, code, requesterID string) (*models.LinkMapping, error) {
	if !IsValidShortCode(code) {
		return nil, ErrInvalidShortCode
	}
	mapping, err := s.mappings.GetByCode(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	if requesterID == "" || mapping.OwnerID != requesterID {
		return nil, ErrNotLinkOwner
	}

	changed, err := s.mappings.Revoke(ctx, mapping.ShortCode)
	if err != nil {
		return nil, err
	}
	mapping.Status = models.LinkStatusRevoked
	if changed {
		logger.Audit("short_link_revoke", requesterID, map[string]string{"short_code": mapping.ShortCode})
	}
	return mapping, nil
}

func (s *ShortLinkService) ListByOwner(ctx context.Context, ownerID string) ([]*models.LinkMapping, error) {
	mappings, err := s.mappings.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if mappings == nil {
		mappings = []*models.LinkMapping{}
	}
	return mappings, nil
}
