package adsb

import (
	"context"
	"time"

	"github.com/yegors/flighttrack/pkg/logger"
)

// StateFetcher is the subset of Client used by OpenSkySource
type StateFetcher interface {
	FetchStates(ctx context.Context, icaos []string) ([]RawState, error)
}

// OpenSkySource adapts the authenticated OpenSky client to the Source interface
type OpenSkySource struct {
	client     StateFetcher
	normalizer Normalizer
	logger     *logger.Logger
	now        func() time.Time
}

// NewOpenSkySource creates the global state-vector source
func NewOpenSkySource(client StateFetcher, normalizer Normalizer, log *logger.Logger) *OpenSkySource {
	return &OpenSkySource{
		client:     client,
		normalizer: normalizer,
		logger:     log.Named("adsb-opensky"),
		now:        time.Now,
	}
}

// Name implements Source
func (s *OpenSkySource) Name() SourceName { return SourceOpenSky }

// RateLimitRemaining reports the client's last known request budget
func (s *OpenSkySource) RateLimitRemaining() int {
	if r, ok := s.client.(interface{ RateLimitRemaining() int }); ok {
		return r.RateLimitRemaining()
	}
	return -1
}

// Fetch implements Source
func (s *OpenSkySource) Fetch(ctx context.Context, icaos []string) ([]StateRecord, error) {
	states, err := s.client.FetchStates(ctx, icaos)

	responseTime := s.now().UTC()
	records := make([]StateRecord, 0, len(states))
	for _, st := range states {
		rec, nerr := s.normalizer.NormalizeOpenSky(st, responseTime)
		if nerr != nil {
			s.logger.Debug("Dropping OpenSky state", logger.Error(nerr))
			continue
		}
		records = append(records, rec)
	}

	if err != nil {
		return records, err
	}
	return records, nil
}
