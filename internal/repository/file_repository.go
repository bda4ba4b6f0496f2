package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sharegate/sharegate/internal/models"
)

type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, owner_id, storage_path, original_filename, mime_type, file_size_bytes,
	is_public, is_deleted, deleted_at, view_count, download_count, share_count, created_at, updated_at`

func scanFile(row scanner) (*models.File, error) {
	file := &models.File{}
	var isPublic, isDeleted int
	err := row.Scan(&file.ID, &file.OwnerID, &file.StoragePath, &file.OriginalFilename, &file.MimeType, &file.FileSize,
		&isPublic, &isDeleted, &file.DeletedAt, &file.ViewCount, &file.DownloadCount, &file.ShareCount,
		&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return nil, err
	}
	file.IsPublic = isPublic == 1
	file.IsDeleted = isDeleted == 1
	return file, nil
}

func (r *FileRepository) Create(ctx context.Context, file *models.File) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, file.ID, file.OwnerID, file.StoragePath, file.OriginalFilename, file.MimeType, file.FileSize,
		boolToInt(file.IsPublic), boolToInt(file.IsDeleted), utcPtr(file.DeletedAt),
		file.ViewCount, file.DownloadCount, file.ShareCount, utc(file.CreatedAt), utc(file.UpdatedAt))
	return err
}

// GetByID returns the file including soft-deleted rows; callers decide how
// deleted files are surfaced.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	return scanFile(r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
}

func (r *FileRepository) GetByStoragePath(ctx context.Context, path string) (*models.File, error) {
	return scanFile(r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE storage_path = ?`, path))
}

func (r *FileRepository) ListByOwner(ctx context.Context, ownerID string, includeDeleted bool) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner_id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY created_at DESC`
	return r.list(ctx, query, ownerID)
}

// ListDeletedBefore returns soft-deleted files whose deletion predates cutoff.
func (r *FileRepository) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*models.File, error) {
	return r.list(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE is_deleted = 1 AND deleted_at IS NOT NULL AND deleted_at < ?
		ORDER BY deleted_at ASC
	`, utc(cutoff))
}

func (r *FileRepository) list(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

func (r *FileRepository) SetPublic(ctx context.Context, id string, public bool, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE files SET is_public = ?, updated_at = ? WHERE id = ? AND is_deleted = 0
	`, boolToInt(public), utc(now), id)
	if err != nil {
		return err
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDelete marks the file deleted. Returns false if it was already deleted.
func (r *FileRepository) SoftDelete(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE files SET is_deleted = 1, deleted_at = ?, updated_at = ? WHERE id = ? AND is_deleted = 0
	`, utc(now), utc(now), id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

func (r *FileRepository) Restore(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE files SET is_deleted = 0, deleted_at = NULL, updated_at = ? WHERE id = ? AND is_deleted = 1
	`, utc(now), id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// Delete removes the file row. History, grants, links and requests cascade.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	return err
}

func counterColumn(accessType models.AccessType) (string, error) {
	switch accessType {
	case models.AccessView:
		return "view_count", nil
	case models.AccessDownload:
		return "download_count", nil
	case models.AccessShare:
		return "share_count", nil
	default:
		return "", fmt.Errorf("unknown access type %q", accessType)
	}
}

// RecordAccess bumps the matching file counter and appends a history entry
// in one transaction.
func (r *FileRepository) RecordAccess(ctx context.Context, fileID string, entry *models.AccessEntry) error {
	column, err := counterColumn(entry.AccessType)
	if err != nil {
		return err
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE files SET `+column+` = `+column+` + 1 WHERE id = ?`, fileID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO file_access_history (file_id, access_type, actor_id, ip_address, user_agent, accessed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, fileID, entry.AccessType, entry.ActorID, entry.IPAddress, entry.UserAgent, utc(entry.AccessedAt))
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			entry.ID = id
		}
		return nil
	})
}

func (r *FileRepository) ListAccessHistory(ctx context.Context, fileID string, limit int) ([]*models.AccessEntry, error) {
	return listAccessEntries(ctx, r.db, `
		SELECT id, access_type, actor_id, NULL, ip_address, user_agent, accessed_at
		FROM file_access_history WHERE file_id = ?
		ORDER BY accessed_at DESC, id DESC LIMIT ?
	`, fileID, limit)
}

func listAccessEntries(ctx context.Context, db *sql.DB, query string, args ...any) ([]*models.AccessEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AccessEntry
	for rows.Next() {
		entry := &models.AccessEntry{}
		if err := rows.Scan(&entry.ID, &entry.AccessType, &entry.ActorID, &entry.Email,
			&entry.IPAddress, &entry.UserAgent, &entry.AccessedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
