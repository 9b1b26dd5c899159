package version

import "errors"

var (
	// ErrInvalidSnapshot rejects a structurally malformed snapshot before
	// anything is persisted.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrParentNotFound means the referenced parent version does not exist
	// within the same space.
	ErrParentNotFound = errors.New("parent version not found")
	// ErrProtectedVersion guards protected versions (and, under cascade,
	// protected descendants) against deletion.
	ErrProtectedVersion = errors.New("version is protected")
	// ErrVersionLimitExceeded means the space reached its configured
	// maximum version count.
	ErrVersionLimitExceeded = errors.New("version limit exceeded")
	// ErrVersionNotFound means the requested version does not exist in the
	// requested space.
	ErrVersionNotFound = errors.New("version not found")
	// ErrSpaceNotFound means the space has no working copy and no versions.
	ErrSpaceNotFound = errors.New("space not found")
	// ErrStorage wraps persistence backend failures. They are fatal to the
	// call and surface as-is; the store never retries or falls back.
	ErrStorage = errors.New("storage failure")
)
