package model

import "errors"

// Domain error kinds. Stores wrap driver causes under these with multiple %w verbs.
var (
	ErrRegionNotFound      = errors.New("region not found")
	ErrPersistence         = errors.New("persistence error")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvalidRegion       = errors.New("invalid region")
	ErrInvalidDelta        = errors.New("invalid delta")
)
