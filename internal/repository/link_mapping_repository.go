package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sharegate/sharegate/internal/models"
)

type LinkMappingRepository struct {
	db *sql.DB
}

func NewLinkMappingRepository(db *sql.DB) *LinkMappingRepository {
	return &LinkMappingRepository{db: db}
}

const linkMappingColumns = `short_code, blob_path, owner_id, status, access_count, last_accessed_at, password_hash,
	original_filename, mime_type, file_size_bytes, created_at, expires_at`

func scanLinkMapping(row scanner) (*models.LinkMapping, error) {
	m := &models.LinkMapping{}
	if err := row.Scan(&m.ShortCode, &m.BlobPath, &m.OwnerID, &m.Status, &m.AccessCount, &m.LastAccessedAt,
		&m.PasswordHash, &m.OriginalFilename, &m.MimeType, &m.FileSize, &m.CreatedAt, &m.ExpiresAt); err != nil {
		return nil, err
	}
	return m, nil
}

// Create inserts the mapping. A short code collision returns ErrDuplicateKey.
func (r *LinkMappingRepository) Create(ctx context.Context, m *models.LinkMapping) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO link_mappings (`+linkMappingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ShortCode, m.BlobPath, m.OwnerID, m.Status, m.AccessCount, utcPtr(m.LastAccessedAt), m.PasswordHash,
		m.OriginalFilename, m.MimeType, m.FileSize, utc(m.CreatedAt), utc(m.ExpiresAt))
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *LinkMappingRepository) GetByCode(ctx context.Context, code string) (*models.LinkMapping, error) {
	return scanLinkMapping(r.db.QueryRowContext(ctx, `SELECT `+linkMappingColumns+` FROM link_mappings WHERE short_code = ?`, code))
}

func (r *LinkMappingRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.LinkMapping, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+linkMappingColumns+` FROM link_mappings WHERE owner_id = ? ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*models.LinkMapping
	for rows.Next() {
		m, err := scanLinkMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return mappings, nil
}

// MarkExpired moves an active mapping to expired. Returns false if the
// mapping was not active.
func (r *LinkMappingRepository) MarkExpired(ctx context.Context, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE link_mappings SET status = 'expired' WHERE short_code = ? AND status = 'active'
	`, code)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// Revoke marks the mapping revoked. Returns false if it was already revoked.
func (r *LinkMappingRepository) Revoke(ctx context.Context, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE link_mappings SET status = 'revoked' WHERE short_code = ? AND status != 'revoked'
	`, code)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// RecordAccess increments the access counter only while the mapping is
// active and unexpired at now.
func (r *LinkMappingRepository) RecordAccess(ctx context.Context, code string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE link_mappings SET access_count = access_count + 1, last_accessed_at = ?
		WHERE short_code = ? AND status = 'active' AND expires_at >= ?
	`, utc(now), code, utc(now))
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// ExpireStale moves every active mapping past its expiry to expired.
func (r *LinkMappingRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE link_mappings SET status = 'expired' WHERE status = 'active' AND expires_at < ?
	`, utc(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
