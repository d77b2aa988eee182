package job

import "errors"

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPatch is returned for empty patches, unknown statuses and negative counts
	ErrInvalidPatch = errors.New("invalid job update")

	// ErrInvalidTransition is returned when the status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrImmutableField is returned when credited numbers change on a completed job
	ErrImmutableField = errors.New("credited numbers cannot change after completion")

	// ErrInvalidUpload is returned when a job is created without file reference or name
	ErrInvalidUpload = errors.New("invalid upload")
)
