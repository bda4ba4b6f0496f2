package models

import "time"

type Role string

const (
	RoleView  Role = "view"
	RoleEdit  Role = "edit"
	RoleAdmin Role = "admin"
)

// Level orders roles so that view < edit < admin. Unknown roles rank below view.
func (r Role) Level() int {
	switch r {
	case RoleView:
		return 1
	case RoleEdit:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

func (r Role) Valid() bool {
	return r.Level() > 0
}

// AtLeast reports whether r grants at least the privileges of other.
func (r Role) AtLeast(other Role) bool {
	return r.Level() >= other.Level() && r.Valid()
}

type AccessType string

const (
	AccessView     AccessType = "view"
	AccessDownload AccessType = "download"
	AccessShare    AccessType = "share"
)

func (t AccessType) Valid() bool {
	return t == AccessView || t == AccessDownload || t == AccessShare
}

type File struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id"`
	StoragePath      string     `json:"-"`
	OriginalFilename string     `json:"original_filename"`
	MimeType         string     `json:"mime_type"`
	FileSize         int64      `json:"file_size_bytes"`
	IsPublic         bool       `json:"is_public"`
	IsDeleted        bool       `json:"is_deleted"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	ViewCount        int64      `json:"view_count"`
	DownloadCount    int64      `json:"download_count"`
	ShareCount       int64      `json:"share_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AccessEntry is one append-only record in a file, grant or link access log.
type AccessEntry struct {
	ID         int64      `json:"id"`
	AccessType AccessType `json:"access_type"`
	ActorID    *string    `json:"actor_id,omitempty"`
	Email      *string    `json:"email,omitempty"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	AccessedAt time.Time  `json:"accessed_at"`
}

type AccessGrant struct {
	ID             string     `json:"id"`
	FileID         string     `json:"file_id"`
	UserID         string     `json:"user_id"`
	Role           Role       `json:"role"`
	IsActive       bool       `json:"is_active"`
	GrantedBy      string     `json:"granted_by"`
	GrantedAt      time.Time  `json:"granted_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	AccessCount    int64      `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

type SecureLink struct {
	ID               string     `json:"id"`
	Token            string     `json:"-"`
	FileID           string     `json:"file_id"`
	CreatedBy        string     `json:"created_by"`
	ExpiresAt        time.Time  `json:"expires_at"`
	IsActive         bool       `json:"is_active"`
	AccessCount      int        `json:"access_count"`
	MaxAccessCount   *int       `json:"max_access_count,omitempty"`
	PasswordHash     *string    `json:"-"`
	RequireEmail     bool       `json:"require_email"`
	AllowPreview     bool       `json:"allow_preview"`
	WatermarkEnabled bool       `json:"watermark_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	LastAccessedAt   *time.Time `json:"last_accessed_at,omitempty"`
}

func (l *SecureLink) HasPassword() bool {
	return l.PasswordHash != nil && *l.PasswordHash != ""
}

func (l *SecureLink) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

func (l *SecureLink) Exhausted() bool {
	return l.MaxAccessCount != nil && l.AccessCount >= *l.MaxAccessCount
}

// Usable reports whether the link may serve another access at now.
func (l *SecureLink) Usable(now time.Time) bool {
	return l.IsActive && !l.Expired(now) && !l.Exhausted()
}

// RequiresMediation reports whether access must go through the server
// instead of a direct signed URL.
func (l *SecureLink) RequiresMediation() bool {
	return l.HasPassword() || l.RequireEmail || l.WatermarkEnabled || !l.AllowPreview
}

type LinkStatus string

const (
	LinkStatusActive  LinkStatus = "active"
	LinkStatusExpired LinkStatus = "expired"
	LinkStatusRevoked LinkStatus = "revoked"
)

type LinkMapping struct {
	ShortCode        string     `json:"short_code"`
	BlobPath         string     `json:"-"`
	OwnerID          string     `json:"owner_id"`
	Status           LinkStatus `json:"status"`
	AccessCount      int64      `json:"access_count"`
	LastAccessedAt   *time.Time `json:"last_accessed_at,omitempty"`
	PasswordHash     *string    `json:"-"`
	OriginalFilename string     `json:"original_filename"`
	MimeType         string     `json:"mime_type"`
	FileSize         int64      `json:"file_size_bytes"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
}

func (m *LinkMapping) HasPassword() bool {
	return m.PasswordHash != nil && *m.PasswordHash != ""
}

type AccessRequestStatus string

const (
	AccessRequestPending  AccessRequestStatus = "pending"
	AccessRequestApproved AccessRequestStatus = "approved"
	AccessRequestDenied   AccessRequestStatus = "denied"
)

type AccessRequest struct {
	ID          string              `json:"id"`
	FileID      string              `json:"file_id"`
	RequesterID string              `json:"requester_id"`
	Role        Role                `json:"role"`
	Message     string              `json:"message,omitempty"`
	Status      AccessRequestStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	DecidedBy   *string             `json:"decided_by,omitempty"`
	DecidedAt   *time.Time          `json:"decided_at,omitempty"`
}
