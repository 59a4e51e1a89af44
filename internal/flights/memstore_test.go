package flights

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same upsert semantics as the SQL stores
type memStore struct {
	mu       sync.Mutex
	states   map[string]LastKnownState
	samples  []PositionSample
	flights  []*Flight
	aircraft map[string]AircraftInfo

	updates      int
	openLookups  int
	createErr    error
	getOpenErrs  map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		states:   make(map[string]LastKnownState),
		aircraft: make(map[string]AircraftInfo),
	}
}

func (m *memStore) GetLastKnownState(ctx context.Context, icao string) (*LastKnownState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[icao]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) WritePositionSample(ctx context.Context, sample PositionSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	return nil
}

func (m *memStore) UpsertLastKnownState(ctx context.Context, state LastKnownState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.states[state.ICAO]; ok && state.OnGround == nil {
		state.OnGround = old.OnGround
	}
	m.states[state.ICAO] = state
	return nil
}

func (m *memStore) CreateFlight(ctx context.Context, nf NewFlight) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return 0, m.createErr
	}
	f := &Flight{
		ID:               int64(len(m.flights) + 1),
		ICAO:             nf.ICAO,
		Callsign:         nf.Callsign,
		TakeoffTime:      nf.TakeoffTime,
		TakeoffLat:       nf.TakeoffLat,
		TakeoffLon:       nf.TakeoffLon,
		TakeoffAltitudeM: nf.TakeoffAltitudeM,
		MaxAltitudeM:     nf.TakeoffAltitudeM,
		Synthesized:      nf.Synthesized,
	}
	m.flights = append(m.flights, f)
	return f.ID, nil
}

func (m *memStore) UpdateFlight(ctx context.Context, id int64, p FlightPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	f := m.flights[id-1]
	if p.LandingTime != nil {
		lt := *p.LandingTime
		f.LandingTime = &lt
	}
	if p.LandingLat != nil {
		f.LandingLat = p.LandingLat
	}
	if p.LandingLon != nil {
		f.LandingLon = p.LandingLon
	}
	if p.MaxAltitudeM != nil {
		v := *p.MaxAltitudeM
		f.MaxAltitudeM = &v
	}
	if p.DistanceKm != nil {
		f.DistanceKm = *p.DistanceKm
	}
	if p.DurationSeconds != nil {
		d := *p.DurationSeconds
		f.DurationSeconds = &d
	}
	return nil
}

func (m *memStore) GetFlight(ctx context.Context, id int64) (*Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || int(id) > len(m.flights) {
		return nil, nil
	}
	f := *m.flights[id-1]
	return &f, nil
}

func (m *memStore) GetOpenFlight(ctx context.Context, icao string) (*Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLookups++
	if err := m.getOpenErrs[icao]; err != nil {
		return nil, err
	}
	for i := len(m.flights) - 1; i >= 0; i-- {
		if f := m.flights[i]; f.ICAO == icao && f.IsOpen() {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpsertAircraft(ctx context.Context, info AircraftInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aircraft[info.ICAO] = info
	return nil
}

func (m *memStore) PrunePositions(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.samples[:0]
	var n int64
	for _, s := range m.samples {
		if s.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	m.samples = kept
	return n, nil
}

func (m *memStore) flightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flights)
}

func (m *memStore) flight(id int64) *Flight {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := *m.flights[id-1]
	return &f
}

func (m *memStore) sampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}
