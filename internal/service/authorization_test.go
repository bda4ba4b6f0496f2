package service

import (
	"errors"
	"testing"

	"github.com/sharegate/sharegate/internal/models"
)

func testFile() *models.File {
	return &models.File{ID: "file-1", OwnerID: "owner"}
}

func activeGrant(userID string, role models.Role) *models.AccessGrant {
	return &models.AccessGrant{ID: "grant-" + userID, FileID: "file-1", UserID: userID, Role: role, IsActive: true}
}

func TestDecide_ResolutionOrder(t *testing.T) {
	linkCap := &Capability{FileID: "file-1", LinkID: "link-1"}

	tests := []struct {
		name    string
		mutate  func(*models.File)
		actor   string
		grants  []*models.AccessGrant
		cap     *Capability
		allowed bool
		role    models.Role
		path    AccessPath
	}{
		{
			name:    "owner is admin",
			actor:   "owner",
			allowed: true, role: models.RoleAdmin, path: PathOwner,
		},
		{
			name:    "deleted trumps ownership",
			mutate:  func(f *models.File) { f.IsDeleted = true },
			actor:   "owner",
			allowed: false,
		},
		{
			name:    "grant role is used",
			actor:   "bob",
			grants:  []*models.AccessGrant{activeGrant("bob", models.RoleEdit)},
			allowed: true, role: models.RoleEdit, path: PathGrant,
		},
		{
			name:    "grant on public file keeps grant role",
			mutate:  func(f *models.File) { f.IsPublic = true },
			actor:   "bob",
			grants:  []*models.AccessGrant{activeGrant("bob", models.RoleAdmin)},
			allowed: true, role: models.RoleAdmin, path: PathGrant,
		},
		{
			name:    "inactive grant is ignored",
			actor:   "bob",
			grants:  []*models.AccessGrant{{ID: "g", FileID: "file-1", UserID: "bob", Role: models.RoleAdmin}},
			allowed: false,
		},
		{
			name:    "grant for another user is ignored",
			actor:   "carol",
			grants:  []*models.AccessGrant{activeGrant("bob", models.RoleAdmin)},
			allowed: false,
		},
		{
			name:    "public file gives view",
			mutate:  func(f *models.File) { f.IsPublic = true },
			actor:   "",
			allowed: true, role: models.RoleView, path: PathPublic,
		},
		{
			name:    "link capability gives view",
			actor:   "",
			cap:     linkCap,
			allowed: true, role: models.RoleView, path: PathLink,
		},
		{
			name:    "link for another file is ignored",
			actor:   "",
			cap:     &Capability{FileID: "file-2"},
			allowed: false,
		},
		{
			name:    "anonymous with nothing is denied",
			actor:   "",
			allowed: false,
		},
		{
			name:    "owner with link still resolves as owner",
			actor:   "owner",
			cap:     linkCap,
			allowed: true, role: models.RoleAdmin, path: PathOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := testFile()
			if tt.mutate != nil {
				tt.mutate(file)
			}
			d := Decide(file, tt.actor, tt.grants, tt.cap)
			if d.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v (reason %q)", d.Allowed, tt.allowed, d.Reason)
			}
			if !tt.allowed {
				return
			}
			if d.Role != tt.role || d.Path != tt.path {
				t.Fatalf("got role=%s path=%s, want role=%s path=%s", d.Role, d.Path, tt.role, tt.path)
			}
		})
	}
}

func TestDecide_OwnershipInvariant(t *testing.T) {
	file := testFile()
	for _, actor := range []string{"", "alice", "bob", "OWNER", "owner "} {
		if d := Decide(file, actor, nil, nil); d.Allowed {
			t.Fatalf("expected %q to be denied on a private file without grants", actor)
		}
	}
}

func TestDecision_Permits(t *testing.T) {
	ops := []Operation{OpView, OpDownload, OpModify, OpDelete, OpShare}
	tests := []struct {
		name string
		d    Decision
		want map[Operation]bool
	}{
		{
			name: "owner",
			d:    Decision{Allowed: true, Role: models.RoleAdmin, Path: PathOwner},
			want: map[Operation]bool{OpView: true, OpDownload: true, OpModify: true, OpDelete: true, OpShare: true},
		},
		{
			name: "view grant",
			d:    Decision{Allowed: true, Role: models.RoleView, Path: PathGrant},
			want: map[Operation]bool{OpView: true, OpDownload: true},
		},
		{
			name: "edit grant",
			d:    Decision{Allowed: true, Role: models.RoleEdit, Path: PathGrant},
			want: map[Operation]bool{OpView: true, OpDownload: true, OpModify: true},
		},
		{
			name: "link capped at view even with admin role",
			d:    Decision{Allowed: true, Role: models.RoleAdmin, Path: PathLink},
			want: map[Operation]bool{OpView: true, OpDownload: true},
		},
		{
			name: "denied",
			d:    Decision{},
			want: map[Operation]bool{},
		},
	}
	for _, tt := range tests {
		for _, op := range ops {
			if got := tt.d.Permits(op); got != tt.want[op] {
				t.Errorf("%s: Permits(%s) = %v, want %v", tt.name, op, got, tt.want[op])
			}
		}
	}
}

func TestAuthorize_ErrorKinds(t *testing.T) {
	file := testFile()
	file.IsDeleted = true
	if _, err := Authorize(file, "owner", nil, nil, OpView); !errors.Is(err, ErrGone) {
		t.Fatalf("expected Gone for deleted file, got %v", err)
	}

	file = testFile()
	if _, err := Authorize(file, "stranger", nil, nil, OpView); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected Forbidden for stranger, got %v", err)
	}
	grants := []*models.AccessGrant{activeGrant("bob", models.RoleView)}
	if _, err := Authorize(file, "bob", grants, nil, OpDelete); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected Forbidden for view grant deleting, got %v", err)
	}
	if d, err := Authorize(file, "bob", grants, nil, OpDownload); err != nil || d.Grant == nil {
		t.Fatalf("expected grant download to be allowed, got %v", err)
	}
}
