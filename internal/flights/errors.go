package flights

import "errors"

// Record-level drops. The observation is rejected without any writes.
var (
	ErrNoPosition       = errors.New("observation has no position")
	ErrInvalidICAO      = errors.New("invalid ICAO address")
	ErrStaleObservation = errors.New("observation older than last known state")
)
