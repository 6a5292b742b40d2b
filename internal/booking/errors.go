package booking

import "errors"

var (
	// ErrNotFound is returned when a booking id does not exist.
	ErrNotFound = errors.New("booking not found")

	// ErrAlreadyExists is returned when a booking id collides on insert.
	ErrAlreadyExists = errors.New("booking already exists")

	// ErrVersionConflict is returned when a compare-and-update loses the race.
	ErrVersionConflict = errors.New("booking version conflict")

	// ErrMissingBuilder is returned when the builder reference is absent.
	ErrMissingBuilder = errors.New("builder id is required")

	// ErrMissingSessionType is returned when the session type reference is absent.
	ErrMissingSessionType = errors.New("session type id is required")

	// ErrInvalidTimes is returned unless startTime < endTime.
	ErrInvalidTimes = errors.New("start time must precede end time")

	// ErrNegativeAmount is returned for a negative price.
	ErrNegativeAmount = errors.New("amount must not be negative")
)
