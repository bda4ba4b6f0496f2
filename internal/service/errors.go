package service

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package unwraps to exactly one
// of these, and the HTTP layer maps each kind to a fixed status code.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrGone         = errors.New("gone")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrStorage      = errors.New("storage error")
	ErrInternal     = errors.New("internal error")
)

// Error is a sentinel carrying a user-facing message and its kind.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// Kind returns the taxonomy member this error belongs to.
func (e *Error) Kind() error { return e.kind }

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func validationError(format string, args ...any) error {
	return newError(ErrValidation, fmt.Sprintf(format, args...))
}

var (
	ErrFileNotFound      = newError(ErrNotFound, "file not found")
	ErrFileDeleted       = newError(ErrGone, "file has been deleted")
	ErrFileNotDeleted    = newError(ErrConflict, "file is not in the trash")
	ErrNotFileOwner      = newError(ErrForbidden, "only the file owner can perform this action")
	ErrAccessDenied      = newError(ErrForbidden, "access denied")
	ErrFileAlreadyPublic = newError(ErrConflict, "file is already public")
	ErrFileTypeRejected  = newError(ErrValidation, "file type not allowed")
	ErrEmptyUpload       = newError(ErrValidation, "file is empty")

	ErrLinkNotFound         = newError(ErrNotFound, "link not found")
	ErrLinkInvalidOrExpired = newError(ErrGone, "link is invalid or has expired")
	ErrLinkResourceMissing  = newError(ErrNotFound, "the file behind this link no longer exists")
	ErrLinkExpired          = newError(ErrGone, "link has expired")
	ErrLinkRevoked          = newError(ErrGone, "link has been revoked")
	ErrNotLinkOwner         = newError(ErrForbidden, "only the link owner can perform this action")
	ErrInvalidShortCode     = newError(ErrValidation, "invalid short code")
	ErrShortCodeExhausted   = newError(ErrInternal, "could not allocate a unique short code")
	ErrTokenExhausted       = newError(ErrInternal, "could not allocate a unique link token")

	ErrBlobNotFound         = newError(ErrNotFound, "blob not found")
	ErrBlobOutsideNamespace = newError(ErrForbidden, "blob does not belong to this owner")
	ErrStorageUnavailable   = newError(ErrStorage, "storage unavailable")

	ErrPasswordRequired      = newError(ErrUnauthorized, "password required")
	ErrInvalidPassword       = newError(ErrForbidden, "invalid password")
	ErrLinkNotProtected      = newError(ErrValidation, "link is not password protected")
	ErrDownloadTokenRequired = newError(ErrUnauthorized, "a valid download token is required")
	ErrEmailRequired         = newError(ErrUnauthorized, "email required")
	ErrInvalidEmail          = newError(ErrValidation, "invalid email format")
	ErrPreviewDisabled       = newError(ErrForbidden, "preview is disabled for this link")

	ErrGrantNotFound          = newError(ErrNotFound, "grant not found")
	ErrGrantToOwner           = newError(ErrConflict, "the owner already has full access")
	ErrInvalidRole            = newError(ErrValidation, "role must be one of view, edit, admin")
	ErrAccessRequestNotFound  = newError(ErrNotFound, "access request not found")
	ErrAccessRequestDecided   = newError(ErrConflict, "access request has already been decided")
	ErrAccessRequestDuplicate = newError(ErrConflict, "an access request is already pending")
	ErrAlreadyHasAccess       = newError(ErrConflict, "you already have access to this file")
)

// storageFailure tags err as a storage failure while keeping it in the chain
// for logging.
func storageFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
