package adsb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yegors/flighttrack/pkg/logger"
)

// stubSource returns canned records for whichever requested aircraft it knows
type stubSource struct {
	name      SourceName
	known     map[string]StateRecord
	err       error
	delay     time.Duration
	requested [][]string
	mu        sync.Mutex
}

func (s *stubSource) Name() SourceName { return s.name }

func (s *stubSource) Fetch(ctx context.Context, icaos []string) ([]StateRecord, error) {
	s.mu.Lock()
	s.requested = append(s.requested, append([]string(nil), icaos...))
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var out []StateRecord
	for _, id := range icaos {
		if rec, ok := s.known[id]; ok {
			out = append(out, rec)
		}
	}
	return out, s.err
}

func rec(icao string, alt float64) StateRecord {
	return StateRecord{ICAO: icao, AltitudeM: Float(alt), Lat: Float(1), Lon: Float(1), Timestamp: time.Unix(1700000000, 0)}
}

type recordingObserver struct {
	sources   []SourceName
	errors    int
	remaining map[SourceName]int
}

func (o *recordingObserver) ObserveSource(source SourceName, resolved int, elapsed time.Duration, err *FetchError) {
	o.sources = append(o.sources, source)
	if err != nil {
		o.errors++
	}
}

func (o *recordingObserver) ObserveRateLimitRemaining(source SourceName, remaining int) {
	if o.remaining == nil {
		o.remaining = map[SourceName]int{}
	}
	o.remaining[source] = remaining
}

func TestFetcherPriorityAndMissingSet(t *testing.T) {
	local := &stubSource{name: SourceLocal, known: map[string]StateRecord{
		"aaaaaa": rec("aaaaaa", 100),
	}}
	hex := &stubSource{name: SourceHexAPI, known: map[string]StateRecord{
		"aaaaaa": rec("aaaaaa", 999), // must never overwrite local
		"bbbbbb": rec("bbbbbb", 200),
	}}
	sky := &stubSource{name: SourceOpenSky, known: map[string]StateRecord{
		"bbbbbb": rec("bbbbbb", 999),
		"cccccc": rec("cccccc", 300),
	}}

	obs := &recordingObserver{}
	f := NewFetcher([]SourceEntry{{Source: local}, {Source: hex}, {Source: sky}}, obs, logger.NewNop())
	snap := f.FetchFleetSnapshot(context.Background(), []string{"AAAAAA", "bbbbbb", "cccccc", "dddddd"})

	if len(snap.Records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(snap.Records))
	}

	want := map[string]struct {
		source SourceName
		alt    float64
	}{
		"aaaaaa": {SourceLocal, 100},
		"bbbbbb": {SourceHexAPI, 200},
		"cccccc": {SourceOpenSky, 300},
	}
	for _, r := range snap.Records {
		w := want[r.ICAO]
		if r.Source != w.source || *r.AltitudeM != w.alt {
			t.Errorf("%s: expected %s/%.0f, got %s/%.0f", r.ICAO, w.source, w.alt, r.Source, *r.AltitudeM)
		}
	}

	// Each source is asked only for what is still missing
	if got := hex.requested[0]; len(got) != 3 || got[0] != "bbbbbb" {
		t.Errorf("Expected hex-api asked for [bbbbbb cccccc dddddd], got %v", got)
	}
	if got := sky.requested[0]; len(got) != 2 || got[0] != "cccccc" || got[1] != "dddddd" {
		t.Errorf("Expected opensky asked for [cccccc dddddd], got %v", got)
	}

	total := 0
	for _, c := range snap.Counts {
		total += c
	}
	if total != len(snap.Records) {
		t.Errorf("Expected counts to sum to %d, got %d", len(snap.Records), total)
	}
	if len(snap.Missing) != 1 || snap.Missing[0] != "dddddd" {
		t.Errorf("Expected dddddd missing, got %v", snap.Missing)
	}
	if snap.Err != nil {
		t.Errorf("Expected no error, got %v", snap.Err)
	}
	if len(obs.sources) != 3 {
		t.Errorf("Expected 3 observed sources, got %v", obs.sources)
	}
}

func TestFetcherSkipsSourcesOnceResolved(t *testing.T) {
	local := &stubSource{name: SourceLocal, known: map[string]StateRecord{"aaaaaa": rec("aaaaaa", 1)}}
	sky := &stubSource{name: SourceOpenSky}

	f := NewFetcher([]SourceEntry{{Source: local}, {Source: sky}}, nil, logger.NewNop())
	snap := f.FetchFleetSnapshot(context.Background(), []string{"aaaaaa"})

	if len(sky.requested) != 0 {
		t.Errorf("Expected fallback skipped, got %d calls", len(sky.requested))
	}
	if c, ok := snap.Counts[SourceOpenSky]; !ok || c != 0 {
		t.Errorf("Expected zero count reported for skipped source, got %v", snap.Counts)
	}
}

func TestFetcherRateLimitedSourceDoesNotAbortChain(t *testing.T) {
	hex := &stubSource{name: SourceHexAPI, err: &FetchError{Kind: KindRateLimited, RetryAfter: time.Minute}}
	sky := &stubSource{name: SourceOpenSky, known: map[string]StateRecord{"aaaaaa": rec("aaaaaa", 1)}}

	obs := &recordingObserver{}
	f := NewFetcher([]SourceEntry{{Source: hex}, {Source: sky}}, obs, logger.NewNop())
	snap := f.FetchFleetSnapshot(context.Background(), []string{"aaaaaa"})

	if snap.Counts[SourceHexAPI] != 0 {
		t.Errorf("Expected zero from throttled source, got %d", snap.Counts[SourceHexAPI])
	}
	fe, ok := snap.SourceErrors[SourceHexAPI]
	if !ok || fe.Kind != KindRateLimited || fe.Source != SourceHexAPI {
		t.Errorf("Expected rate limited descriptor for hex-api, got %v", fe)
	}
	if len(snap.Records) != 1 || snap.Records[0].Source != SourceOpenSky {
		t.Errorf("Expected fallback to resolve aaaaaa, got %+v", snap.Records)
	}
	if snap.Err != nil {
		t.Errorf("Expected no fallback error, got %v", snap.Err)
	}
	if obs.errors != 1 {
		t.Errorf("Expected 1 observed error, got %d", obs.errors)
	}
}

func TestFetcherFallbackErrorKeepsResolvedRecords(t *testing.T) {
	local := &stubSource{name: SourceLocal, known: map[string]StateRecord{"aaaaaa": rec("aaaaaa", 1)}}
	sky := &stubSource{name: SourceOpenSky, err: errors.New("connection refused")}

	f := NewFetcher([]SourceEntry{{Source: local}, {Source: sky}}, nil, logger.NewNop())
	snap := f.FetchFleetSnapshot(context.Background(), []string{"aaaaaa", "bbbbbb"})

	if len(snap.Records) != 1 || snap.Records[0].ICAO != "aaaaaa" {
		t.Errorf("Expected local record kept, got %+v", snap.Records)
	}
	if snap.Err == nil || snap.Err.Kind != KindTransport || snap.Err.Source != SourceOpenSky {
		t.Errorf("Expected fallback transport error surfaced, got %v", snap.Err)
	}
}

func TestFetcherSourceTimeout(t *testing.T) {
	local := &stubSource{name: SourceLocal, delay: time.Second, known: map[string]StateRecord{"aaaaaa": rec("aaaaaa", 1)}}
	sky := &stubSource{name: SourceOpenSky, known: map[string]StateRecord{"aaaaaa": rec("aaaaaa", 2)}}

	f := NewFetcher([]SourceEntry{{Source: local, Timeout: 20 * time.Millisecond}, {Source: sky}}, nil, logger.NewNop())
	start := time.Now()
	snap := f.FetchFleetSnapshot(context.Background(), []string{"aaaaaa"})

	if time.Since(start) > 500*time.Millisecond {
		t.Error("Expected slow local source to be cut off")
	}
	if fe := snap.SourceErrors[SourceLocal]; fe == nil || fe.Kind != KindTransport {
		t.Errorf("Expected transport error for timed-out source, got %v", fe)
	}
	if len(snap.Records) != 1 || snap.Records[0].Source != SourceOpenSky {
		t.Errorf("Expected fallback record, got %+v", snap.Records)
	}
}

func TestFetcherPartialRecordsWithError(t *testing.T) {
	hex := &stubSource{
		name:  SourceHexAPI,
		known: map[string]StateRecord{"aaaaaa": rec("aaaaaa", 1)},
		err:   &FetchError{Kind: KindRateLimited},
	}
	sky := &stubSource{name: SourceOpenSky, known: map[string]StateRecord{"bbbbbb": rec("bbbbbb", 2)}}

	f := NewFetcher([]SourceEntry{{Source: hex}, {Source: sky}}, nil, logger.NewNop())
	snap := f.FetchFleetSnapshot(context.Background(), []string{"aaaaaa", "bbbbbb"})

	if snap.Counts[SourceHexAPI] != 1 || snap.Counts[SourceOpenSky] != 1 {
		t.Errorf("Expected one record from each source, got %v", snap.Counts)
	}
	if got := sky.requested[0]; len(got) != 1 || got[0] != "bbbbbb" {
		t.Errorf("Expected fallback asked only for bbbbbb, got %v", got)
	}
}

func TestFetcherDropsUnrequestedAndDuplicateRecords(t *testing.T) {
	older := rec("aaaaaa", 1)
	newer := rec("aaaaaa", 2)
	newer.Timestamp = older.Timestamp.Add(time.Second)

	src := &dupSource{records: []StateRecord{newer, older, rec("zzzzzz", 3)}}
	f := NewFetcher([]SourceEntry{{Source: src}}, nil, logger.NewNop())
	snap := f.FetchFleetSnapshot(context.Background(), []string{"aaaaaa"})

	if len(snap.Records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(snap.Records))
	}
	if *snap.Records[0].AltitudeM != 2 {
		t.Errorf("Expected newest duplicate kept, got altitude %v", *snap.Records[0].AltitudeM)
	}
}

func TestFetcherEmptyFleet(t *testing.T) {
	local := &stubSource{name: SourceLocal}
	f := NewFetcher([]SourceEntry{{Source: local}}, nil, logger.NewNop())
	snap := f.FetchFleetSnapshot(context.Background(), nil)
	if len(snap.Records) != 0 || snap.Err != nil || len(local.requested) != 0 {
		t.Errorf("Expected empty snapshot without source calls, got %+v", snap)
	}
}

type dupSource struct{ records []StateRecord }

func (d *dupSource) Name() SourceName { return SourceLocal }
func (d *dupSource) Fetch(ctx context.Context, icaos []string) ([]StateRecord, error) {
	return d.records, nil
}
