package models

import "errors"

var (
	// ErrNotFound is returned when an id does not resolve to a stored record
	ErrNotFound = errors.New("not found")

	// ErrInvalidScheduleSpec is returned for malformed timing on a scheduled action
	ErrInvalidScheduleSpec = errors.New("invalid schedule spec")

	// ErrInvalidTransition is returned when a lifecycle change is not legal from the current status
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStaleClaim is returned when a processing result arrives for a claim that no longer owns the item
	ErrStaleClaim = errors.New("stale claim")
)
