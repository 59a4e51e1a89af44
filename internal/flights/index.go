package flights

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// OpenFlightFinder is the store lookup used to rebuild the index
type OpenFlightFinder interface {
	GetOpenFlight(ctx context.Context, icao string) (*Flight, error)
}

// ActiveFlightIndex caches icao -> open flight id. The store stays
// authoritative; a miss here means "ask the store", never "no flight".
// Writes come only from the tracker's sequential processing; the lock
// covers concurrent readers such as the ops API.
type ActiveFlightIndex struct {
	mu      sync.RWMutex
	flights map[string]int64
}

// NewActiveFlightIndex returns an empty index
func NewActiveFlightIndex() *ActiveFlightIndex {
	return &ActiveFlightIndex{flights: make(map[string]int64)}
}

// Get returns the open flight id for icao, if cached
func (x *ActiveFlightIndex) Get(icao string) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.flights[icao]
	return id, ok
}

// Set records icao's open flight
func (x *ActiveFlightIndex) Set(icao string, flightID int64) {
	x.mu.Lock()
	x.flights[icao] = flightID
	x.mu.Unlock()
}

// Delete forgets icao's open flight
func (x *ActiveFlightIndex) Delete(icao string) {
	x.mu.Lock()
	delete(x.flights, icao)
	x.mu.Unlock()
}

// Len returns the number of cached open flights
func (x *ActiveFlightIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.flights)
}

// Snapshot returns a copy of the index
func (x *ActiveFlightIndex) Snapshot() map[string]int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]int64, len(x.flights))
	for k, v := range x.flights {
		out[k] = v
	}
	return out
}

// Rehydrate asks the store for an open flight for every icao and caches the
// ones found. Lookup failures are collected; the remaining aircraft are
// still loaded.
func (x *ActiveFlightIndex) Rehydrate(ctx context.Context, store OpenFlightFinder, icaos []string) (int, error) {
	var errs []error
	loaded := 0
	for _, icao := range icaos {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		f, err := store.GetOpenFlight(ctx, icao)
		if err != nil {
			errs = append(errs, fmt.Errorf("open flight for %s: %w", icao, err))
			continue
		}
		if f == nil {
			continue
		}
		x.Set(icao, f.ID)
		loaded++
	}
	return loaded, errors.Join(errs...)
}
