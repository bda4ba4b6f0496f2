package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sharegate/sharegate/internal/models"
)

type SecureLinkRepository struct {
	db *sql.DB
}

func NewSecureLinkRepository(db *sql.DB) *SecureLinkRepository {
	return &SecureLinkRepository{db: db}
}

const secureLinkColumns = `id, token, file_id, created_by, expires_at, is_active, access_count, max_access_count,
	password_hash, require_email, allow_preview, watermark_enabled, created_at, last_accessed_at`

func scanSecureLink(row scanner) (*models.SecureLink, error) {
	l := &models.SecureLink{}
	var isActive, requireEmail, allowPreview, watermark int
	if err := row.Scan(&l.ID, &l.Token, &l.FileID, &l.CreatedBy, &l.ExpiresAt, &isActive, &l.AccessCount,
		&l.MaxAccessCount, &l.PasswordHash, &requireEmail, &allowPreview, &watermark, &l.CreatedAt,
		&l.LastAccessedAt); err != nil {
		return nil, err
	}
	l.IsActive = isActive == 1
	l.RequireEmail = requireEmail == 1
	l.AllowPreview = allowPreview == 1
	l.WatermarkEnabled = watermark == 1
	return l, nil
}

// Create inserts the link. A token collision returns ErrDuplicateKey.
func (r *SecureLinkRepository) Create(ctx context.Context, l *models.SecureLink) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO secure_links (`+secureLinkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.Token, l.FileID, l.CreatedBy, utc(l.ExpiresAt), boolToInt(l.IsActive), l.AccessCount,
		l.MaxAccessCount, l.PasswordHash, boolToInt(l.RequireEmail), boolToInt(l.AllowPreview),
		boolToInt(l.WatermarkEnabled), utc(l.CreatedAt), utcPtr(l.LastAccessedAt))
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *SecureLinkRepository) GetByToken(ctx context.Context, token string) (*models.SecureLink, error) {
	return scanSecureLink(r.db.QueryRowContext(ctx, `SELECT `+secureLinkColumns+` FROM secure_links WHERE token = ?`, token))
}

func (r *SecureLinkRepository) GetByID(ctx context.Context, id string) (*models.SecureLink, error) {
	return scanSecureLink(r.db.QueryRowContext(ctx, `SELECT `+secureLinkColumns+` FROM secure_links WHERE id = ?`, id))
}

func (r *SecureLinkRepository) ListByFile(ctx context.Context, fileID string) ([]*models.SecureLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+secureLinkColumns+` FROM secure_links WHERE file_id = ? ORDER BY created_at DESC
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*models.SecureLink
	for rows.Next() {
		l, err := scanSecureLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

// RecordAccess consumes one use of the link and appends a history entry.
// The usability check and the increment are a single conditional UPDATE, so
// concurrent callers can never push access_count past max_access_count.
// Returns false when the link is inactive, expired or exhausted.
func (r *SecureLinkRepository) RecordAccess(ctx context.Context, token string, entry *models.AccessEntry) (bool, error) {
	recorded := false
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var linkID string
		err := tx.QueryRowContext(ctx, `
			UPDATE secure_links
			SET access_count = access_count + 1, last_accessed_at = ?
			WHERE token = ? AND is_active = 1 AND expires_at >= ?
			AND (max_access_count IS NULL OR access_count < max_access_count)
			RETURNING id
		`, utc(entry.AccessedAt), token, utc(entry.AccessedAt)).Scan(&linkID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO secure_link_access_history (link_id, access_type, actor_id, email, ip_address, user_agent, accessed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, linkID, entry.AccessType, entry.ActorID, entry.Email, entry.IPAddress, entry.UserAgent, utc(entry.AccessedAt))
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			entry.ID = id
		}
		recorded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

// Deactivate turns the link off. Returns false if it was already inactive.
func (r *SecureLinkRepository) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE secure_links SET is_active = 0 WHERE id = ? AND is_active = 1`, id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// DeactivateIfUnusable turns off one link that has expired or hit its access limit.
func (r *SecureLinkRepository) DeactivateIfUnusable(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE secure_links SET is_active = 0
		WHERE id = ? AND is_active = 1
		AND (expires_at < ? OR (max_access_count IS NOT NULL AND access_count >= max_access_count))
	`, id, utc(now))
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// DeactivateUnusable sweeps every active link that has expired or hit its limit.
func (r *SecureLinkRepository) DeactivateUnusable(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE secure_links SET is_active = 0
		WHERE is_active = 1
		AND (expires_at < ? OR (max_access_count IS NOT NULL AND access_count >= max_access_count))
	`, utc(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SecureLinkRepository) ListAccessHistory(ctx context.Context, linkID string, limit int) ([]*models.AccessEntry, error) {
	return listAccessEntries(ctx, r.db, `
		SELECT id, access_type, actor_id, email, ip_address, user_agent, accessed_at
		FROM secure_link_access_history WHERE link_id = ?
		ORDER BY accessed_at DESC, id DESC LIMIT ?
	`, linkID, limit)
}
