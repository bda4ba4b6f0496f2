package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sharegate/sharegate/internal/models"
)

type AccessRequestRepository struct {
	db *sql.DB
}

func NewAccessRequestRepository(db *sql.DB) *AccessRequestRepository {
	return &AccessRequestRepository{db: db}
}

const accessRequestColumns = `id, file_id, requester_id, role, message, status, created_at, decided_by, decided_at`

func scanAccessRequest(row scanner) (*models.AccessRequest, error) {
	req := &models.AccessRequest{}
	if err := row.Scan(&req.ID, &req.FileID, &req.RequesterID, &req.Role, &req.Message, &req.Status,
		&req.CreatedAt, &req.DecidedBy, &req.DecidedAt); err != nil {
		return nil, err
	}
	return req, nil
}

// Create stores a pending request. A second pending request from the same
// requester for the same file returns ErrDuplicateKey.
func (r *AccessRequestRepository) Create(ctx context.Context, req *models.AccessRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_requests (`+accessRequestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.FileID, req.RequesterID, req.Role, req.Message, req.Status, utc(req.CreatedAt),
		req.DecidedBy, utcPtr(req.DecidedAt))
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *AccessRequestRepository) GetByID(ctx context.Context, id string) (*models.AccessRequest, error) {
	return scanAccessRequest(r.db.QueryRowContext(ctx, `SELECT `+accessRequestColumns+` FROM access_requests WHERE id = ?`, id))
}

func (r *AccessRequestRepository) ListByFile(ctx context.Context, fileID string, status models.AccessRequestStatus) ([]*models.AccessRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accessRequestColumns+` FROM access_requests
		WHERE file_id = ? AND status = ? ORDER BY created_at ASC
	`, fileID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*models.AccessRequest
	for rows.Next() {
		req, err := scanAccessRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

// Decide moves a pending request to approved or denied. Returns false if
// the request was already decided.
func (r *AccessRequestRepository) Decide(
	ctx context.Context,
	id string,
	status models.AccessRequestStatus,
	decidedBy string,
	now time.Time,
) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_requests SET status = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND status = 'pending'
	`, status, decidedBy, utc(now), id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}
