package janitor

import "errors"

var (
	// ErrJobAlreadyRegistered is returned when adding a job name twice.
	ErrJobAlreadyRegistered = errors.New("janitor job already registered")

	// ErrInvalidJob is returned for an empty name, nil schedule or nil function.
	ErrInvalidJob = errors.New("invalid janitor job")

	// ErrNotConfigured is returned by Start when no job was added.
	ErrNotConfigured = errors.New("janitor has no job")
)
