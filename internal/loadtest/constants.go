package loadtest

import "time"

// Defaults used by the CLI and by Validate.
const (
	DefaultRequests     = 10000
	DefaultMaxDelta     = 10
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
	DefaultRegion       = "loadtest"
)

