package service

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sharegate/sharegate/internal/models"
	"github.com/sharegate/sharegate/internal/repository"
	"github.com/sharegate/sharegate/internal/storage"
	"github.com/sharegate/sharegate/pkg/logger"
)

const (
	minLinkHours     = 1
	maxLinkHours     = 168
	defaultLinkHours = 24

	linkTokenAttempts = 2
)

type SecureLinkService struct {
	links   *repository.SecureLinkRepository
	files   *repository.FileRepository
	access  *AccessResolver
	blobs   storage.BlobStore
	baseURL string
	now     func() time.Time
}

func NewSecureLinkService(
	links *repository.SecureLinkRepository,
	files *repository.FileRepository,
	access *AccessResolver,
	blobs storage.BlobStore,
	baseURL string,
) *SecureLinkService {
	return &SecureLinkService{
		links:   links,
		files:   files,
		access:  access,
		blobs:   blobs,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

type SecureLinkPolicy struct {
	Password         string
	RequireEmail     bool
	AllowPreview     *bool
	WatermarkEnabled bool
	ExpiresInHours   int
	MaxAccessCount   *int
}

type CreatedSecureLink struct {
	Link      *models.SecureLink `json:"link"`
	SecureURL string             `json:"secure_url"`
	Mediated  bool               `json:"mediated"`
}

func clampLinkHours(hours int) int {
	switch {
	case hours == 0:
		return defaultLinkHours
	case hours < minLinkHours:
		return minLinkHours
	case hours > maxLinkHours:
		return maxLinkHours
	default:
		return hours
	}
}

// Create issues a secure link for a file the creator owns. Links that need
// no challenge resolve to a signed blob URL; everything else routes back
// through /secure/{token}.
func (s *SecureLinkService) Create(ctx context.Context, fileID, creatorID string, policy SecureLinkPolicy) (*CreatedSecureLink, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	if file.IsDeleted {
		return nil, ErrFileDeleted
	}
	if creatorID == "" || creatorID != file.OwnerID {
		return nil, ErrNotFileOwner
	}
	if file.IsPublic {
		return nil, ErrFileAlreadyPublic
	}
	if policy.MaxAccessCount != nil && *policy.MaxAccessCount <= 0 {
		return nil, validationError("max_access_count must be a positive integer")
	}

	now := s.now()
	ttl := time.Duration(clampLinkHours(policy.ExpiresInHours)) * time.Hour
	link := &models.SecureLink{
		ID:               uuid.New().String(),
		FileID:           file.ID,
		CreatedBy:        creatorID,
		ExpiresAt:        now.Add(ttl),
		IsActive:         true,
		MaxAccessCount:   policy.MaxAccessCount,
		RequireEmail:     policy.RequireEmail,
		AllowPreview:     policy.AllowPreview == nil || *policy.AllowPreview,
		WatermarkEnabled: policy.WatermarkEnabled,
		CreatedAt:        now,
	}
	if policy.Password != "" {
		hash, err := HashPassword(policy.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordHash = &hash
	}

	mediated := link.RequiresMediation()
	var secureURL string
	if !mediated {
		secureURL, err = s.blobs.SignedURL(ctx, file.StoragePath, ttl, storage.PermRead)
		if err != nil {
			return nil, storageFailure(err)
		}
	}

	if err := s.insertWithFreshToken(ctx, link); err != nil {
		return nil, err
	}
	if mediated {
		secureURL = s.baseURL + "/secure/" + link.Token
	}

	if err := s.files.RecordAccess(ctx, file.ID, &models.AccessEntry{
		AccessType: models.AccessShare,
		ActorID:    &creatorID,
		AccessedAt: now,
	}); err != nil {
		logger.Error().Err(err).Str("file_id", file.ID).Msg("Failed to record share event")
	}

	logger.Audit("secure_link_create", creatorID, map[string]string{
		"file_id":  file.ID,
		"link_id":  link.ID,
		"mediated": boolString(mediated),
	})

	return &CreatedSecureLink{Link: link, SecureURL: secureURL, Mediated: mediated}, nil
}

// insertWithFreshToken retries once on a token collision.
func (s *SecureLinkService) insertWithFreshToken(ctx context.Context, link *models.SecureLink) error {
	for attempt := 0; attempt < linkTokenAttempts; attempt++ {
		token, err := generateSecureToken()
		if err != nil {
			return err
		}
		link.Token = token
		err = s.links.Create(ctx, link)
		if errors.Is(err, repository.ErrDuplicateKey) {
			continue
		}
		return err
	}
	return ErrTokenExhausted
}

// Validate checks that the link is usable and that its file still exists.
// It does not consume a use. Links found expired or exhausted are
// deactivated on the way out.
func (s *SecureLinkService) Validate(ctx context.Context, token string) (*models.SecureLink, *models.File, error) {
	if token == "" {
		return nil, nil, ErrLinkInvalidOrExpired
	}
	link, err := s.links.GetByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrLinkInvalidOrExpired
	}
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	if !link.Usable(now) {
		if link.IsActive {
			if _, err := s.links.DeactivateIfUnusable(ctx, link.ID, now); err != nil {
				logger.Warn().Err(err).Str("link_id", link.ID).Msg("Failed to deactivate unusable secure link")
			}
		}
		return nil, nil, ErrLinkInvalidOrExpired
	}

	file, err := s.files.GetByID(ctx, link.FileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrLinkResourceMissing
	}
	if err != nil {
		return nil, nil, err
	}
	if file.IsDeleted {
		return nil, nil, ErrFileDeleted
	}
	return link, file, nil
}

// RecordAccess consumes one use of the link. The store enforces the usable
// invariant in the same statement that increments the count.
func (s *SecureLinkService) RecordAccess(
	ctx context.Context,
	token string,
	client ClientInfo,
	accessType models.AccessType,
	email *string,
) error {
	if !accessType.Valid() {
		return validationError("unknown access type %q", accessType)
	}
	ok, err := s.links.RecordAccess(ctx, token, &models.AccessEntry{
		AccessType: accessType,
		Email:      email,
		IPAddress:  client.IPAddress,
		UserAgent:  client.UserAgent,
		AccessedAt: s.now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrLinkInvalidOrExpired
	}
	return nil
}

type SecureAccessRequest struct {
	Token string
	// ActorID is the authenticated caller, empty when anonymous.
	ActorID  string
	Download bool
	Password string
	Email    string
	Client   ClientInfo
}

type SecureAccessResult struct {
	File   *models.File
	Link   *models.SecureLink
	Object *storage.Object
	// Direct is true when the caller's own access was used and the link
	// quota was left untouched.
	Direct bool
	// Watermark is signalled to the client with X-Watermark: required. The
	// viewer rendering the file draws the overlay; the bytes are unchanged.
	Watermark bool
}

// Access runs the full mediated flow: validate, authorize, challenge, open
// the blob and record exactly one access. Callers must close Object.Body.
func (s *SecureLinkService) Access(ctx context.Context, req SecureAccessRequest) (*SecureAccessResult, error) {
	link, file, err := s.Validate(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	accessType := models.AccessView
	if req.Download {
		accessType = models.AccessDownload
	}

	d, err := s.access.DecideFor(ctx, file, req.ActorID, &Capability{FileID: link.FileID, LinkID: link.ID})
	if err != nil {
		return nil, err
	}
	if !d.Permits(OpView) {
		return nil, ErrAccessDenied
	}

	if d.Direct() {
		obj, err := s.openBlob(ctx, file)
		if err != nil {
			return nil, err
		}
		if err := s.access.RecordDirectAccess(ctx, file, d, accessType, req.ActorID, req.Client); err != nil {
			_ = obj.Body.Close()
			return nil, err
		}
		return &SecureAccessResult{File: file, Link: link, Object: obj, Direct: true}, nil
	}

	if !req.Download && !link.AllowPreview {
		return nil, ErrPreviewDisabled
	}
	if link.HasPassword() {
		if req.Password == "" {
			return nil, ErrPasswordRequired
		}
		if !VerifyPassword(req.Password, *link.PasswordHash) {
			return nil, ErrInvalidPassword
		}
	}
	var email *string
	if link.RequireEmail {
		addr := canonicalizeEmail(req.Email)
		if addr == "" {
			return nil, ErrEmailRequired
		}
		if !isValidEmail(addr) {
			return nil, ErrInvalidEmail
		}
		email = &addr
	}

	obj, err := s.openBlob(ctx, file)
	if err != nil {
		return nil, err
	}
	if err := s.RecordAccess(ctx, link.Token, req.Client, accessType, email); err != nil {
		_ = obj.Body.Close()
		return nil, err
	}
	return &SecureAccessResult{
		File:      file,
		Link:      link,
		Object:    obj,
		Watermark: link.WatermarkEnabled,
	}, nil
}

func (s *SecureLinkService) openBlob(ctx context.Context, file *models.File) (*storage.Object, error) {
	obj, err := s.blobs.Get(ctx, file.StoragePath)
	if err != nil {
		logger.Error().Err(err).Str("file_id", file.ID).Msg("Failed to open blob for secure link")
		return nil, storageFailure(err)
	}
	return obj, nil
}

type SecureLinkInfo struct {
	FileName         string    `json:"file_name"`
	MimeType         string    `json:"mime_type"`
	FileSize         int64     `json:"file_size_bytes"`
	ExpiresAt        time.Time `json:"expires_at"`
	RequiresPassword bool      `json:"requires_password"`
	RequireEmail     bool      `json:"require_email"`
	AllowPreview     bool      `json:"allow_preview"`
	WatermarkEnabled bool      `json:"watermark_enabled"`
	RemainingUses    *int      `json:"remaining_uses,omitempty"`
}

// Info describes the link without consuming a use.
func (s *SecureLinkService) Info(ctx context.Context, token string) (*SecureLinkInfo, error) {
	link, file, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	info := &SecureLinkInfo{
		FileName:         file.OriginalFilename,
		MimeType:         file.MimeType,
		FileSize:         file.FileSize,
		ExpiresAt:        link.ExpiresAt,
		RequiresPassword: link.HasPassword(),
		RequireEmail:     link.RequireEmail,
		AllowPreview:     link.AllowPreview,
		WatermarkEnabled: link.WatermarkEnabled,
	}
	if link.MaxAccessCount != nil {
		remaining := *link.MaxAccessCount - link.AccessCount
		info.RemainingUses = &remaining
	}
	return info, nil
}

// Revoke deactivates the link. Revoking an inactive link is a no-op.
func (s *SecureLinkService) Revoke(ctx context.Context, linkID, requesterID string) (*models.SecureLink, error) {
	link, err := s.links.GetByID(ctx, linkID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	if requesterID == "" || link.CreatedBy != requesterID {
		return nil, ErrNotLinkOwner
	}

	changed, err := s.links.Deactivate(ctx, link.ID)
	if err != nil {
		return nil, err
	}
	link.IsActive = false
	if changed {
		logger.Audit("secure_link_revoke", requesterID, map[string]string{
			"link_id": link.ID,
			"file_id": link.FileID,
		})
	}
	return link, nil
}

func (s *SecureLinkService) ListByFile(ctx context.Context, fileID, requesterID string) ([]*models.SecureLink, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	if requesterID == "" || file.OwnerID != requesterID {
		return nil, ErrNotFileOwner
	}
	links, err := s.links.ListByFile(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []*models.SecureLink{}
	}
	return links, nil
}

// History returns the link's own access log to its creator.
func (s *SecureLinkService) History(ctx context.Context, linkID, requesterID string, limit int) ([]*models.AccessEntry, error) {
	link, err := s.links.GetByID(ctx, linkID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	if requesterID == "" || link.CreatedBy != requesterID {
		return nil, ErrNotLinkOwner
	}
	entries, err := s.links.ListAccessHistory(ctx, link.ID, clampHistoryLimit(limit))
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*models.AccessEntry{}
	}
	return entries, nil
}

func canonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && strings.EqualFold(strings.TrimSpace(addr.Address), strings.TrimSpace(email))
}

func clampHistoryLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
