package notifications

import "errors"

var (
	// ErrNotificationNotFound is returned when a user has no such notification.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrInvalidNotificationID is returned for ids that are not broker message ids.
	ErrInvalidNotificationID = errors.New("invalid notification id")

	// ErrEmptyUserID is returned when a notification has no recipient.
	ErrEmptyUserID = errors.New("empty user id")
)
