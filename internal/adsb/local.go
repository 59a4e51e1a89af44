package adsb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/yegors/flighttrack/pkg/logger"
)

// LocalSource reads a dump1090 / tar1090 aircraft.json from a receiver on the
// local network. One request returns every aircraft in range.
type LocalSource struct {
	url        string
	httpClient *http.Client
	normalizer Normalizer
	logger     *logger.Logger
	now        func() time.Time
}

// NewLocalSource creates a local receiver source
func NewLocalSource(url string, timeout time.Duration, normalizer Normalizer, log *logger.Logger) *LocalSource {
	return &LocalSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		normalizer: normalizer,
		logger:     log.Named("adsb-local"),
		now:        time.Now,
	}
}

// Name implements Source
func (s *LocalSource) Name() SourceName { return SourceLocal }

// Fetch implements Source. The receiver's full picture is filtered down to icaos.
func (s *LocalSource) Fetch(ctx context.Context, icaos []string) ([]StateRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, transportError(SourceLocal, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	s.logger.Debug("Fetching local ADS-B data", logger.String("url", s.url))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError(SourceLocal, "failed to execute request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimitedError(SourceLocal, resp)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, upstreamError(SourceLocal, resp.StatusCode, string(body))
	}

	var data localResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, dataError(SourceLocal, "failed to parse JSON", err)
	}

	sourceTime := s.now().UTC()
	if data.Now > 0 {
		sourceTime = unixSeconds(data.Now)
	}

	wanted := make(map[string]bool, len(icaos))
	for _, id := range icaos {
		wanted[id] = true
	}

	records := make([]StateRecord, 0, len(icaos))
	for _, target := range data.Aircraft {
		icao, ok := NormalizeICAO(target.Hex)
		if !ok || !wanted[icao] {
			continue
		}
		rec, err := s.normalizer.NormalizeTarget(target, sourceTime, SourceLocal)
		if err != nil {
			s.logger.Debug("Dropping local target", logger.String("hex", target.Hex), logger.Error(err))
			continue
		}
		records = append(records, rec)
	}

	s.logger.Debug("Successfully fetched local ADS-B data",
		logger.Int("aircraft_count", len(data.Aircraft)),
		logger.Int("matched", len(records)),
	)

	return records, nil
}
