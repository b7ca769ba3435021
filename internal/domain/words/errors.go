package words

import "errors"

// Sentinel kinds for dictionary errors.
var (
	ErrEmptyDictionary = errors.New("dictionary is empty")
	ErrInvalidWord     = errors.New("invalid word")
	ErrMalformedEntry  = errors.New("malformed dictionary entry")
)
