package adsb

import (
	"context"
	"sort"
	"time"

	"github.com/yegors/flighttrack/pkg/logger"
)

// Source is one telemetry provider. Fetch returns normalized records for (a
// subset of) the requested addresses. Records may accompany a non-nil error
// when the source resolved some aircraft before failing.
type Source interface {
	Name() SourceName
	Fetch(ctx context.Context, icaos []string) ([]StateRecord, error)
}

// Observer receives per-source fetch outcomes
type Observer interface {
	ObserveSource(source SourceName, resolved int, elapsed time.Duration, err *FetchError)
	ObserveRateLimitRemaining(source SourceName, remaining int)
}

// SourceEntry is a source plus the deadline applied to each call to it
type SourceEntry struct {
	Source  Source
	Timeout time.Duration
}

// Snapshot is the merged result of one fleet fetch
type Snapshot struct {
	Records      []StateRecord              `json:"records"`
	Counts       map[SourceName]int         `json:"counts"`
	SourceErrors map[SourceName]*FetchError `json:"-"`
	// Err is the fallback (last) source's error, if it was queried and failed
	Err       *FetchError   `json:"-"`
	Requested int           `json:"requested"`
	Missing   []string      `json:"missing"`
	FetchedAt time.Time     `json:"fetched_at"`
	Duration  time.Duration `json:"duration"`
}

// Fetcher queries sources in priority order, asking each only for the
// aircraft that no higher-priority source resolved
type Fetcher struct {
	sources  []SourceEntry
	observer Observer
	logger   *logger.Logger
	now      func() time.Time
}

// NewFetcher creates a Fetcher; sources are given highest priority first
func NewFetcher(sources []SourceEntry, observer Observer, log *logger.Logger) *Fetcher {
	return &Fetcher{
		sources:  sources,
		observer: observer,
		logger:   log.Named("fusion"),
		now:      time.Now,
	}
}

// Sources returns the configured source names in priority order
func (f *Fetcher) Sources() []SourceName {
	names := make([]SourceName, len(f.sources))
	for i, e := range f.sources {
		names[i] = e.Source.Name()
	}
	return names
}

// FetchFleetSnapshot returns one merged snapshot for the given addresses.
// A source failure never aborts the chain; it is recorded and the next source
// is asked for the remainder.
func (f *Fetcher) FetchFleetSnapshot(ctx context.Context, icaos []string) Snapshot {
	start := f.now()
	missing, invalid := NormalizeICAOList(icaos)
	if len(invalid) > 0 {
		f.logger.Warn("Ignoring invalid ICAO addresses", logger.Strings("invalid", invalid))
	}

	snap := Snapshot{
		Counts:       make(map[SourceName]int, len(f.sources)),
		SourceErrors: make(map[SourceName]*FetchError),
		Requested:    len(missing),
		FetchedAt:    start.UTC(),
	}
	resolved := make(map[string]StateRecord, len(missing))

	for i, entry := range f.sources {
		name := entry.Source.Name()
		snap.Counts[name] = 0

		if len(missing) == 0 {
			f.logger.Debug("All aircraft resolved, skipping source", logger.String("source", string(name)))
			continue
		}
		if ctx.Err() != nil {
			break
		}

		got, fe, elapsed := f.query(ctx, entry, missing)

		for icao, rec := range got {
			resolved[icao] = rec
		}
		snap.Counts[name] = len(got)

		if fe != nil {
			snap.SourceErrors[name] = fe
			if i == len(f.sources)-1 {
				snap.Err = fe
			}
			f.logger.Warn("Source fetch failed",
				logger.String("source", string(name)),
				logger.String("kind", string(fe.Kind)),
				logger.Int("resolved", len(got)),
				logger.Error(fe))
		}

		if f.observer != nil {
			f.observer.ObserveSource(name, len(got), elapsed, fe)
			if r, ok := entry.Source.(interface{ RateLimitRemaining() int }); ok {
				if remaining := r.RateLimitRemaining(); remaining >= 0 {
					f.observer.ObserveRateLimitRemaining(name, remaining)
				}
			}
		}

		missing = difference(missing, got)

		f.logger.Debug("Source queried",
			logger.String("source", string(name)),
			logger.Int("resolved", len(got)),
			logger.Int("still_missing", len(missing)),
			logger.Duration("elapsed", elapsed))
	}

	snap.Records = make([]StateRecord, 0, len(resolved))
	for _, rec := range resolved {
		snap.Records = append(snap.Records, rec)
	}
	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].ICAO < snap.Records[j].ICAO
	})
	snap.Missing = missing
	snap.Duration = f.now().Sub(start)

	return snap
}

// query calls one source under its own deadline and keeps only records for
// requested aircraft, newest per address
func (f *Fetcher) query(ctx context.Context, entry SourceEntry, wanted []string) (map[string]StateRecord, *FetchError, time.Duration) {
	name := entry.Source.Name()

	sctx := ctx
	if entry.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, entry.Timeout)
		defer cancel()
	}

	started := f.now()
	records, err := entry.Source.Fetch(sctx, wanted)
	elapsed := f.now().Sub(started)

	want := make(map[string]bool, len(wanted))
	for _, id := range wanted {
		want[id] = true
	}

	got := make(map[string]StateRecord, len(records))
	for _, rec := range records {
		icao, ok := NormalizeICAO(rec.ICAO)
		if !ok || !want[icao] {
			continue
		}
		if prev, dup := got[icao]; dup && !rec.Timestamp.After(prev.Timestamp) {
			continue
		}
		rec.ICAO = icao
		rec.Source = name
		got[icao] = rec
	}

	return got, AsFetchError(name, err), elapsed
}

// difference returns the members of ids not present in resolved, as a new slice
func difference(ids []string, resolved map[string]StateRecord) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := resolved[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
