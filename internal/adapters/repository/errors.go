package repository

import "errors"

// Sentinel kinds for store lifecycle errors.
var (
	ErrClosed       = errors.New("store closed")
	ErrUnknownStore = errors.New("unknown store kind")
)
