package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/sharegate/sharegate/internal/models"
	"github.com/sharegate/sharegate/internal/repository"
	"github.com/sharegate/sharegate/internal/storage"
	"github.com/sharegate/sharegate/pkg/logger"
	"github.com/sharegate/sharegate/pkg/sanitize"
)

// AllowedMIMETypes defines the MIME types allowed for upload
var AllowedMIMETypes = map[string]bool{
	// Documents
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"text/plain":      true,
	"text/csv":        true,
	"application/rtf": true,

	// Images
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,

	// Audio
	"audio/mpeg": true,
	"audio/wav":  true,
	"audio/ogg":  true,
	"audio/aac":  true,
	"audio/flac": true,

	// Video
	"video/mp4":       true,
	"video/webm":      true,
	"video/ogg":       true,
	"video/quicktime": true,
	"video/x-msvideo": true,

	// Archives
	"application/zip":              true,
	"application/x-rar-compressed": true,
	"application/x-7z-compressed":  true,
	"application/x-tar":            true,
	"application/gzip":             true,

	// Other
	"application/json":         true,
	"application/xml":          true,
	"application/octet-stream": true,
}

const sniffLen = 3072

type FileService struct {
	files         *repository.FileRepository
	access        *AccessResolver
	blobs         storage.BlobStore
	maxUploadSize int64
	now           func() time.Time
}

func NewFileService(
	files *repository.FileRepository,
	access *AccessResolver,
	blobs storage.BlobStore,
	maxUploadSize int64,
) *FileService {
	return &FileService{
		files:         files,
		access:        access,
		blobs:         blobs,
		maxUploadSize: maxUploadSize,
		now:           time.Now,
	}
}

type UploadRequest struct {
	OwnerID  string
	Filename string
	Size     int64
	Content  io.Reader
	IsPublic bool
}

func baseMediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// Upload sniffs the content type, writes the blob under the owner's
// namespace and stores the file record. The blob is removed again if the
// record cannot be written.
func (s *FileService) Upload(ctx context.Context, req *UploadRequest) (*models.File, error) {
	if req.OwnerID == "" {
		return nil, ErrAccessDenied
	}
	if req.Size <= 0 {
		return nil, ErrEmptyUpload
	}
	if s.maxUploadSize > 0 && req.Size > s.maxUploadSize {
		return nil, validationError("file exceeds maximum allowed size of %d bytes", s.maxUploadSize)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(req.Content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	head = head[:n]
	if n == 0 {
		return nil, ErrEmptyUpload
	}
	contentType := mimetype.Detect(head).String()
	if !AllowedMIMETypes[baseMediaType(contentType)] {
		return nil, ErrFileTypeRejected
	}

	now := s.now()
	fileID := uuid.New().String()
	name := sanitize.SanitizeFilename(req.Filename)
	blobPath := storage.UserPrefix(req.OwnerID) + fileID + "/" + name

	body := io.MultiReader(bytes.NewReader(head), req.Content)
	if _, err := s.blobs.Put(ctx, blobPath, body, req.Size, contentType); err != nil {
		return nil, storageFailure(err)
	}

	file := &models.File{
		ID:               fileID,
		OwnerID:          req.OwnerID,
		StoragePath:      blobPath,
		OriginalFilename: name,
		MimeType:         contentType,
		FileSize:         req.Size,
		IsPublic:         req.IsPublic,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.files.Create(ctx, file); err != nil {
		if delErr := s.blobs.Delete(ctx, blobPath); delErr != nil {
			logger.Error().Err(delErr).Str("blob_path", blobPath).Msg("Failed to remove orphaned blob")
		}
		return nil, err
	}
	return file, nil
}

// Get returns file metadata to anyone who may view it. Soft-deleted files
// are gone even for their owner.
func (s *FileService) Get(ctx context.Context, fileID, actorID string) (*models.File, Decision, error) {
	return s.access.Authorize(ctx, fileID, actorID, OpView)
}

type FileContent struct {
	File   *models.File
	Object *storage.Object
}

// OpenContent streams a file to a caller with standing access and records
// the access in the file log, and the grant log for grantees.
func (s *FileService) OpenContent(ctx context.Context, fileID, actorID string, download bool, client ClientInfo) (*FileContent, error) {
	op, accessType := OpView, models.AccessView
	if download {
		op, accessType = OpDownload, models.AccessDownload
	}
	file, d, err := s.access.Authorize(ctx, fileID, actorID, op)
	if err != nil {
		return nil, err
	}

	obj, err := s.blobs.Get(ctx, file.StoragePath)
	if err != nil {
		logger.Error().Err(err).Str("file_id", file.ID).Msg("Failed to open blob")
		return nil, storageFailure(err)
	}
	if err := s.access.RecordDirectAccess(ctx, file, d, accessType, actorID, client); err != nil {
		_ = obj.Body.Close()
		return nil, err
	}
	return &FileContent{File: file, Object: obj}, nil
}

func (s *FileService) ListMine(ctx context.Context, ownerID string, includeDeleted bool) ([]*models.File, error) {
	files, err := s.files.ListByOwner(ctx, ownerID, includeDeleted)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []*models.File{}
	}
	return files, nil
}

func (s *FileService) SetVisibility(ctx context.Context, fileID, actorID string, public bool) (*models.File, error) {
	file, _, err := s.access.Authorize(ctx, fileID, actorID, OpShare)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.files.SetPublic(ctx, file.ID, public, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileDeleted
		}
		return nil, err
	}
	file.IsPublic = public
	file.UpdatedAt = now

	logger.Audit("file_visibility", actorID, map[string]string{
		"file_id": file.ID,
		"public":  boolString(public),
	})
	return file, nil
}

// SoftDelete moves the file to the trash. Every link and grant path stops
// resolving until it is restored.
func (s *FileService) SoftDelete(ctx context.Context, fileID, actorID string) error {
	file, _, err := s.access.Authorize(ctx, fileID, actorID, OpDelete)
	if err != nil {
		return err
	}
	changed, err := s.files.SoftDelete(ctx, file.ID, s.now())
	if err != nil {
		return err
	}
	if !changed {
		return ErrFileDeleted
	}
	logger.Audit("file_soft_delete", actorID, map[string]string{"file_id": file.ID})
	return nil
}

func (s *FileService) ownedFile(ctx context.Context, fileID, actorID string) (*models.File, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	if actorID == "" || file.OwnerID != actorID {
		return nil, ErrNotFileOwner
	}
	return file, nil
}

func (s *FileService) Restore(ctx context.Context, fileID, actorID string) (*models.File, error) {
	file, err := s.ownedFile(ctx, fileID, actorID)
	if err != nil {
		return nil, err
	}
	changed, err := s.files.Restore(ctx, file.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrFileNotDeleted
	}
	logger.Audit("file_restore", actorID, map[string]string{"file_id": file.ID})
	return s.files.GetByID(ctx, file.ID)
}

// PermanentDelete removes the blob and then the record. Grants, links and
// history rows cascade with the record.
func (s *FileService) PermanentDelete(ctx context.Context, fileID, actorID string) error {
	file, err := s.ownedFile(ctx, fileID, actorID)
	if err != nil {
		return err
	}
	if err := s.purge(ctx, file); err != nil {
		return err
	}
	logger.Audit("file_permanent_delete", actorID, map[string]string{"file_id": file.ID})
	return nil
}

func (s *FileService) purge(ctx context.Context, file *models.File) error {
	if err := s.blobs.Delete(ctx, file.StoragePath); err != nil {
		return storageFailure(err)
	}
	return s.files.Delete(ctx, file.ID)
}

// History returns the file's own access log to admins of the file.
func (s *FileService) History(ctx context.Context, fileID, actorID string, limit int) ([]*models.AccessEntry, error) {
	file, _, err := s.access.Authorize(ctx, fileID, actorID, OpShare)
	if err != nil {
		return nil, err
	}
	entries, err := s.files.ListAccessHistory(ctx, file.ID, clampHistoryLimit(limit))
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*models.AccessEntry{}
	}
	return entries, nil
}

// PurgeDeleted permanently removes files that have been in the trash since
// before cutoff. Failures are logged and skipped.
func (s *FileService) PurgeDeleted(ctx context.Context, cutoff time.Time) (int, error) {
	files, err := s.files.ListDeletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if err := s.purge(ctx, file); err != nil {
			logger.Error().Err(err).Str("file_id", file.ID).Msg("Failed to purge deleted file")
			continue
		}
		purged++
	}
	return purged, nil
}
