package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sharegate/sharegate/internal/models"
	"github.com/sharegate/sharegate/internal/repository"
	"github.com/sharegate/sharegate/pkg/logger"
)

const maxAccessRequestMessage = 500

type GrantService struct {
	grants   *repository.GrantRepository
	requests *repository.AccessRequestRepository
	files    *repository.FileRepository
	access   *AccessResolver
	now      func() time.Time
}

func NewGrantService(
	grants *repository.GrantRepository,
	requests *repository.AccessRequestRepository,
	files *repository.FileRepository,
	access *AccessResolver,
) *GrantService {
	return &GrantService{
		grants:   grants,
		requests: requests,
		files:    files,
		access:   access,
		now:      time.Now,
	}
}

// Grant gives userID role on the file, updating an existing grant in place.
// Only admins of the file may grant, and the owner is never granted.
func (s *GrantService) Grant(ctx context.Context, fileID, actorID, userID string, role models.Role) (*models.AccessGrant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError("user_id is required")
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	file, _, err := s.access.Authorize(ctx, fileID, actorID, OpShare)
	if err != nil {
		return nil, err
	}
	return s.upsert(ctx, file, actorID, userID, role)
}

func (s *GrantService) upsert(ctx context.Context, file *models.File, actorID, userID string, role models.Role) (*models.AccessGrant, error) {
	if userID == file.OwnerID {
		return nil, ErrGrantToOwner
	}
	now := s.now()
	grant, err := s.grants.Upsert(ctx, &models.AccessGrant{
		ID:        uuid.New().String(),
		FileID:    file.ID,
		UserID:    userID,
		Role:      role,
		GrantedBy: actorID,
		GrantedAt: now,
	})
	if err != nil {
		return nil, err
	}

	if err := s.files.RecordAccess(ctx, file.ID, &models.AccessEntry{
		AccessType: models.AccessShare,
		ActorID:    &actorID,
		AccessedAt: now,
	}); err != nil {
		logger.Error().Err(err).Str("file_id", file.ID).Msg("Failed to record share event")
	}
	logger.Audit("grant_upsert", actorID, map[string]string{
		"file_id": file.ID,
		"grantee": userID,
		"role":    string(role),
	})
	return grant, nil
}

// Revoke deactivates the grant. Revoking an inactive grant is a no-op.
func (s *GrantService) Revoke(ctx context.Context, fileID, actorID, userID string) error {
	file, _, err := s.access.Authorize(ctx, fileID, actorID, OpShare)
	if err != nil {
		return err
	}
	changed, err := s.grants.Deactivate(ctx, file.ID, userID, s.now())
	if err != nil {
		return err
	}
	if !changed {
		if _, err := s.grants.GetByFileAndUser(ctx, file.ID, userID); errors.Is(err, sql.ErrNoRows) {
			return ErrGrantNotFound
		} else if err != nil {
			return err
		}
		return nil
	}
	logger.Audit("grant_revoke", actorID, map[string]string{"file_id": file.ID, "grantee": userID})
	return nil
}

func (s *GrantService) List(ctx context.Context, fileID, actorID string) ([]*models.AccessGrant, error) {
	file, _, err := s.access.Authorize(ctx, fileID, actorID, OpShare)
	if err != nil {
		return nil, err
	}
	grants, err := s.grants.ListActiveByFile(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	if grants == nil {
		grants = []*models.AccessGrant{}
	}
	return grants, nil
}

// History returns one grant's access log to admins of the file.
func (s *GrantService) History(ctx context.Context, fileID, actorID, userID string, limit int) ([]*models.AccessEntry, error) {
	file, _, err := s.access.Authorize(ctx, fileID, actorID, OpShare)
	if err != nil {
		return nil, err
	}
	grant, err := s.grants.GetByFileAndUser(ctx, file.ID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, err
	}
	entries, err := s.grants.ListAccessHistory(ctx, grant.ID, clampHistoryLimit(limit))
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*models.AccessEntry{}
	}
	return entries, nil
}

type SharedFile struct {
	File  *models.File        `json:"file"`
	Grant *models.AccessGrant `json:"grant"`
}

// SharedWithMe lists files the user reaches through active grants. Files in
// the trash are left out.
func (s *GrantService) SharedWithMe(ctx context.Context, userID string) ([]*SharedFile, error) {
	grants, err := s.grants.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	shared := make([]*SharedFile, 0, len(grants))
	for _, g := range grants {
		file, err := s.files.GetByID(ctx, g.FileID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if file.IsDeleted {
			continue
		}
		shared = append(shared, &SharedFile{File: file, Grant: g})
	}
	return shared, nil
}

// RequestAccess files a pending request for role on a file the requester
// cannot already use at that level.
func (s *GrantService) RequestAccess(ctx context.Context, fileID, requesterID string, role models.Role, message string) (*models.AccessRequest, error) {
	if requesterID == "" {
		return nil, ErrAccessDenied
	}
	if role == "" {
		role = models.RoleView
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	message = strings.TrimSpace(message)
	if len(message) > maxAccessRequestMessage {
		return nil, validationError("message must be at most %d characters", maxAccessRequestMessage)
	}

	file, err := s.access.loadFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.IsDeleted {
		return nil, ErrFileDeleted
	}
	d, err := s.access.DecideFor(ctx, file, requesterID, nil)
	if err != nil {
		return nil, err
	}
	if d.Path == PathOwner || (d.Path == PathGrant && d.Role.AtLeast(role)) {
		return nil, ErrAlreadyHasAccess
	}

	req := &models.AccessRequest{
		ID:          uuid.New().String(),
		FileID:      file.ID,
		RequesterID: requesterID,
		Role:        role,
		Message:     message,
		Status:      models.AccessRequestPending,
		CreatedAt:   s.now(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrAccessRequestDuplicate
		}
		return nil, err
	}
	return req, nil
}

func (s *GrantService) ListRequests(ctx context.Context, fileID, actorID string, status models.AccessRequestStatus) ([]*models.AccessRequest, error) {
	if status == "" {
		status = models.AccessRequestPending
	}
	switch status {
	case models.AccessRequestPending, models.AccessRequestApproved, models.AccessRequestDenied:
	default:
		return nil, validationError("unknown status %q", status)
	}
	file, _, err := s.access.Authorize(ctx, fileID, actorID, OpShare)
	if err != nil {
		return nil, err
	}
	requests, err := s.requests.ListByFile(ctx, file.ID, status)
	if err != nil {
		return nil, err
	}
	if requests == nil {
		requests = []*models.AccessRequest{}
	}
	return requests, nil
}

func (s *GrantService) pendingRequest(ctx context.Context, requestID, actorID string) (*models.AccessRequest, *models.File, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrAccessRequestNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	file, _, err := s.access.Authorize(ctx, req.FileID, actorID, OpShare)
	if err != nil {
		return nil, nil, err
	}
	if req.Status != models.AccessRequestPending {
		return nil, nil, ErrAccessRequestDecided
	}
	return req, file, nil
}

// Approve decides the request and creates or updates the grant. The status
// transition is conditional, so a request is only ever approved once.
func (s *GrantService) Approve(ctx context.Context, requestID, actorID string) (*models.AccessGrant, error) {
	req, file, err := s.pendingRequest(ctx, requestID, actorID)
	if err != nil {
		return nil, err
	}
	ok, err := s.requests.Decide(ctx, req.ID, models.AccessRequestApproved, actorID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccessRequestDecided
	}
	return s.upsert(ctx, file, actorID, req.RequesterID, req.Role)
}

func (s *GrantService) Deny(ctx context.Context, requestID, actorID string) error {
	req, file, err := s.pendingRequest(ctx, requestID, actorID)
	if err != nil {
		return err
	}
	ok, err := s.requests.Decide(ctx, req.ID, models.AccessRequestDenied, actorID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessRequestDecided
	}
	logger.Audit("access_request_deny", actorID, map[string]string{"file_id": file.ID, "request_id": req.ID})
	return nil
}
