package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sharegate/sharegate/internal/models"
)

type GrantRepository struct {
	db *sql.DB
}

func NewGrantRepository(db *sql.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

const grantColumns = `id, file_id, user_id, role, is_active, granted_by, granted_at, revoked_at, access_count, last_accessed_at`

func scanGrant(row scanner) (*models.AccessGrant, error) {
	g := &models.AccessGrant{}
	var isActive int
	if err := row.Scan(&g.ID, &g.FileID, &g.UserID, &g.Role, &isActive, &g.GrantedBy, &g.GrantedAt,
		&g.RevokedAt, &g.AccessCount, &g.LastAccessedAt); err != nil {
		return nil, err
	}
	g.IsActive = isActive == 1
	return g, nil
}

// Upsert creates the grant or, when the (file, user) pair already exists,
// updates it in place and reactivates it. The stored row is returned.
func (r *GrantRepository) Upsert(ctx context.Context, g *models.AccessGrant) (*models.AccessGrant, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_grants (id, file_id, user_id, role, is_active, granted_by, granted_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(file_id, user_id) DO UPDATE SET
			role = excluded.role,
			is_active = 1,
			granted_by = excluded.granted_by,
			granted_at = excluded.granted_at,
			revoked_at = NULL
	`, g.ID, g.FileID, g.UserID, g.Role, g.GrantedBy, utc(g.GrantedAt))
	if err != nil {
		return nil, err
	}
	return r.GetByFileAndUser(ctx, g.FileID, g.UserID)
}

// GetByFileAndUser returns the grant row regardless of its active flag.
func (r *GrantRepository) GetByFileAndUser(ctx context.Context, fileID, userID string) (*models.AccessGrant, error) {
	return scanGrant(r.db.QueryRowContext(ctx, `
		SELECT `+grantColumns+` FROM access_grants WHERE file_id = ? AND user_id = ?
	`, fileID, userID))
}

func (r *GrantRepository) ListActiveByFile(ctx context.Context, fileID string) ([]*models.AccessGrant, error) {
	return r.list(ctx, `
		SELECT `+grantColumns+` FROM access_grants WHERE file_id = ? AND is_active = 1 ORDER BY granted_at ASC
	`, fileID)
}

func (r *GrantRepository) ListActiveByUser(ctx context.Context, userID string) ([]*models.AccessGrant, error) {
	return r.list(ctx, `
		SELECT `+grantColumns+` FROM access_grants WHERE user_id = ? AND is_active = 1 ORDER BY granted_at DESC
	`, userID)
}

func (r *GrantRepository) list(ctx context.Context, query string, args ...any) ([]*models.AccessGrant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []*models.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

// Deactivate revokes an active grant. Returns false if none was active.
func (r *GrantRepository) Deactivate(ctx context.Context, fileID, userID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_grants SET is_active = 0, revoked_at = ?
		WHERE file_id = ? AND user_id = ? AND is_active = 1
	`, utc(now), fileID, userID)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

func (r *GrantRepository) RecordAccess(ctx context.Context, grantID string, entry *models.AccessEntry) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE access_grants SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?
		`, utc(entry.AccessedAt), grantID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO grant_access_history (grant_id, access_type, actor_id, ip_address, user_agent, accessed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, grantID, entry.AccessType, entry.ActorID, entry.IPAddress, entry.UserAgent, utc(entry.AccessedAt))
		return err
	})
}

func (r *GrantRepository) ListAccessHistory(ctx context.Context, grantID string, limit int) ([]*models.AccessEntry, error) {
	return listAccessEntries(ctx, r.db, `
		SELECT id, access_type, actor_id, NULL, ip_address, user_agent, accessed_at
		FROM grant_access_history WHERE grant_id = ?
		ORDER BY accessed_at DESC, id DESC LIMIT ?
	`, grantID, limit)
}
