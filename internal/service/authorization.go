package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sharegate/sharegate/internal/models"
	"github.com/sharegate/sharegate/internal/repository"
)

type Operation string

const (
	OpView     Operation = "view"
	OpDownload Operation = "download"
	OpModify   Operation = "modify"
	OpDelete   Operation = "delete"
	// OpShare covers visibility changes, grant management and access history.
	OpShare Operation = "share"
)

// AccessPath records which rule admitted the actor. It decides which access
// log receives the record.
type AccessPath string

const (
	PathNone   AccessPath = ""
	PathOwner  AccessPath = "owner"
	PathGrant  AccessPath = "grant"
	PathPublic AccessPath = "public"
	PathLink   AccessPath = "link"
)

// Capability is a link that has already been validated against the store.
type Capability struct {
	FileID string
	LinkID string
}

type Decision struct {
	Allowed bool
	Role    models.Role
	Path    AccessPath
	Reason  string
	// Grant is set when Path is PathGrant.
	Grant *models.AccessGrant
}

// Direct reports whether the actor has standing access that does not depend
// on a link.
func (d Decision) Direct() bool {
	return d.Allowed && d.Path != PathLink
}

// Permits applies operation gating on top of the resolved role. Link-mediated
// access never goes beyond view and download.
func (d Decision) Permits(op Operation) bool {
	if !d.Allowed {
		return false
	}
	switch op {
	case OpView, OpDownload:
		return d.Role.AtLeast(models.RoleView)
	case OpModify:
		return d.Path != PathLink && d.Role.AtLeast(models.RoleEdit)
	case OpDelete, OpShare:
		return d.Path != PathLink && d.Role.AtLeast(models.RoleAdmin)
	default:
		return false
	}
}

// Decide resolves the actor's access to file. It has no side effects.
// Resolution order: deleted, owner, active grant, public flag, link
// capability. An empty actorID is anonymous and only matches the last two.
func Decide(file *models.File, actorID string, grants []*models.AccessGrant, capability *Capability) Decision {
	if file.IsDeleted {
		return Decision{Reason: "file has been deleted"}
	}
	if actorID != "" && actorID == file.OwnerID {
		return Decision{Allowed: true, Role: models.RoleAdmin, Path: PathOwner, Reason: "owner"}
	}
	if actorID != "" {
		for _, g := range grants {
			if g == nil || !g.IsActive || g.FileID != file.ID || g.UserID != actorID || !g.Role.Valid() {
				continue
			}
			return Decision{Allowed: true, Role: g.Role, Path: PathGrant, Reason: "active grant", Grant: g}
		}
	}
	if file.IsPublic {
		return Decision{Allowed: true, Role: models.RoleView, Path: PathPublic, Reason: "public file"}
	}
	if capability != nil && capability.FileID == file.ID {
		return Decision{Allowed: true, Role: models.RoleView, Path: PathLink, Reason: "link capability"}
	}
	return Decision{Reason: "no ownership, grant, public flag or link"}
}

// Authorize runs Decide and converts a refusal for op into a taxonomy error.
func Authorize(file *models.File, actorID string, grants []*models.AccessGrant, capability *Capability, op Operation) (Decision, error) {
	if file.IsDeleted {
		return Decision{Reason: "file has been deleted"}, ErrFileDeleted
	}
	d := Decide(file, actorID, grants, capability)
	if !d.Permits(op) {
		return d, ErrAccessDenied
	}
	return d, nil
}

// ClientInfo identifies the caller for access logs.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// AccessResolver loads the state Decide needs and records direct accesses.
type AccessResolver struct {
	files  *repository.FileRepository
	grants *repository.GrantRepository
	now    func() time.Time
}

func NewAccessResolver(files *repository.FileRepository, grants *repository.GrantRepository) *AccessResolver {
	return &AccessResolver{files: files, grants: grants, now: time.Now}
}

func (r *AccessResolver) loadFile(ctx context.Context, fileID string) (*models.File, error) {
	file, err := r.files.GetByID(ctx, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (r *AccessResolver) actorGrants(ctx context.Context, fileID, actorID string) ([]*models.AccessGrant, error) {
	if actorID == "" {
		return nil, nil
	}
	g, err := r.grants.GetByFileAndUser(ctx, fileID, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []*models.AccessGrant{g}, nil
}

// DecideFor evaluates an already loaded file. Grants are re-read on every
// call.
func (r *AccessResolver) DecideFor(ctx context.Context, file *models.File, actorID string, capability *Capability) (Decision, error) {
	grants, err := r.actorGrants(ctx, file.ID, actorID)
	if err != nil {
		return Decision{}, err
	}
	return Decide(file, actorID, grants, capability), nil
}

// Authorize loads the file and the actor's grant and checks op.
func (r *AccessResolver) Authorize(ctx context.Context, fileID, actorID string, op Operation) (*models.File, Decision, error) {
	file, err := r.loadFile(ctx, fileID)
	if err != nil {
		return nil, Decision{}, err
	}
	grants, err := r.actorGrants(ctx, file.ID, actorID)
	if err != nil {
		return nil, Decision{}, err
	}
	d, err := Authorize(file, actorID, grants, nil, op)
	return file, d, err
}

// RecordDirectAccess appends to the file log, and to the grant log when the
// actor came in through a grant. Link quotas are never touched here.
func (r *AccessResolver) RecordDirectAccess(
	ctx context.Context,
	file *models.File,
	d Decision,
	accessType models.AccessType,
	actorID string,
	client ClientInfo,
) error {
	entry := &models.AccessEntry{
		AccessType: accessType,
		IPAddress:  client.IPAddress,
		UserAgent:  client.UserAgent,
		AccessedAt: r.now(),
	}
	if actorID != "" {
		entry.ActorID = &actorID
	}
	if err := r.files.RecordAccess(ctx, file.ID, entry); err != nil {
		return err
	}
	if d.Path == PathGrant && d.Grant != nil {
		grantEntry := *entry
		if err := r.grants.RecordAccess(ctx, d.Grant.ID, &grantEntry); err != nil {
			return err
		}
	}
	return nil
}
