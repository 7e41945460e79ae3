package apubsub

import "errors"

// Domain errors. Engines wrap them with context ("%w: <id>") so callers can
// match with errors.Is.
var (
	// ErrChannelAlreadyExists is returned when creating a channel whose id is taken.
	ErrChannelAlreadyExists = errors.New("channel already exists")

	// ErrChannelDoesNotExist is returned when a read path targets a missing channel.
	ErrChannelDoesNotExist = errors.New("channel does not exist")

	// ErrSubscriptionAlreadyExists is returned when a subscriber already owns a
	// subscription on the target channel.
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")

	// ErrSubscriptionDoesNotExist is returned when a read path targets a missing subscription.
	ErrSubscriptionDoesNotExist = errors.New("subscription does not exist")

	// ErrMessageDoesNotExist is returned when a read path targets a missing message.
	ErrMessageDoesNotExist = errors.New("message does not exist")

	// ErrUnsupportedSortField is returned when a cursor cannot sort on a field.
	ErrUnsupportedSortField = errors.New("unsupported sort field")

	// ErrUnsupportedFilterField is returned when a cursor cannot filter on a field.
	ErrUnsupportedFilterField = errors.New("unsupported filter field")

	// ErrUnsupportedUpdateField is returned when a cursor cannot mass-assign a field.
	ErrUnsupportedUpdateField = errors.New("unsupported update field")

	// ErrCursorAlreadyRun is returned when changing the window of a cursor that was already iterated.
	ErrCursorAlreadyRun = errors.New("cursor already run")

	// ErrUnsupportedOperation is returned when an engine or cursor kind cannot implement an operation.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrTransientConflict is returned when optimistic concurrency retries are exhausted.
	ErrTransientConflict = errors.New("transient conflict, retries exhausted")

	// ErrInvalidState is returned when an entity accessor is used in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid entity state")

	// ErrInvalidValue is returned when a condition, update value or name is invalid.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidOperator is returned for an unknown or misused condition operator.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrUnknownBackend is returned by Registry.Open for unregistered tags.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrBackendAlreadyRegistered is returned when registering a tag twice.
	ErrBackendAlreadyRegistered = errors.New("backend already registered")

	// ErrInvalidFactory is returned when registering an empty tag or a nil factory.
	ErrInvalidFactory = errors.New("invalid backend factory")
)
