package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yegors/flighttrack/pkg/logger"
)

// HexSourceConfig configures the per-aircraft lookup source
type HexSourceConfig struct {
	BaseURL           string        // e.g. https://api.airplanes.live/v2
	Timeout           time.Duration // per request
	Concurrency       int           // simultaneous requests
	RequestsPerSecond float64       // pacing across all requests
}

// HexSource queries a public readsb aggregator one aircraft at a time
// via GET {base}/hex/{icao}.
type HexSource struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	concurrency int
	normalizer  Normalizer
	logger      *logger.Logger
	now         func() time.Time
}

// NewHexSource creates a per-aircraft lookup source
func NewHexSource(cfg HexSourceConfig, normalizer Normalizer, log *logger.Logger) *HexSource {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &HexSource{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(limit, 1),
		concurrency: concurrency,
		normalizer:  normalizer,
		logger:      log.Named("adsb-hex"),
		now:         time.Now,
	}
}

// Name implements Source
func (s *HexSource) Name() SourceName { return SourceHexAPI }

// Fetch implements Source. Requests run concurrently; a failure for one
// aircraft is logged and does not abort the others. Once any request is
// throttled no further requests are issued and the throttle is returned
// alongside whatever was already resolved.
func (s *HexSource) Fetch(ctx context.Context, icaos []string) ([]StateRecord, error) {
	var (
		mu          sync.Mutex
		records     = make([]StateRecord, 0, len(icaos))
		failures    int
		firstErr    *FetchError
		rateLimited *FetchError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, icao := range icaos {
		icao := icao
		g.Go(func() error {
			mu.Lock()
			throttled := rateLimited != nil
			mu.Unlock()
			if throttled {
				return nil
			}

			if err := s.limiter.Wait(gctx); err != nil {
				mu.Lock()
				failures++
				if firstErr == nil {
					firstErr = transportError(SourceHexAPI, "rate limiter wait", err)
				}
				mu.Unlock()
				return nil
			}

			rec, err := s.fetchOne(gctx, icao)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && err.Kind == KindRateLimited:
				if rateLimited == nil {
					rateLimited = err
				}
			case err != nil:
				failures++
				if firstErr == nil {
					firstErr = err
				}
				s.logger.Debug("Per-aircraft lookup failed", logger.String("hex", icao), logger.Error(err))
			case rec != nil:
				records = append(records, *rec)
			}
			return nil
		})
	}
	// goroutines never return errors
	_ = g.Wait()

	if rateLimited != nil {
		s.logger.Warn("Per-aircraft source throttled",
			logger.Int("resolved", len(records)),
			logger.Duration("retry_after", rateLimited.RetryAfter))
		return records, rateLimited
	}

	if failures > 0 {
		s.logger.Warn("Some per-aircraft lookups failed",
			logger.Int("failed", failures),
			logger.Int("requested", len(icaos)),
			logger.Int("resolved", len(records)))
		if len(records) == 0 && failures == len(icaos) {
			return nil, firstErr
		}
	}

	return records, nil
}

// fetchOne returns nil, nil when the aggregator has no current data for the aircraft
func (s *HexSource) fetchOne(ctx context.Context, icao string) (*StateRecord, *FetchError) {
	url := fmt.Sprintf("%s/hex/%s", s.baseURL, icao)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, transportError(SourceHexAPI, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError(SourceHexAPI, "failed to execute request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, rateLimitedError(SourceHexAPI, resp)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, upstreamError(SourceHexAPI, resp.StatusCode, string(body))
	}

	var data hexAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, dataError(SourceHexAPI, "failed to parse JSON", err)
	}

	sourceTime := s.now().UTC()
	if data.Now > 0 {
		sourceTime = time.UnixMilli(int64(data.Now)).UTC()
	}

	for _, target := range data.AC {
		hex, ok := NormalizeICAO(target.Hex)
		if !ok || hex != icao {
			continue
		}
		rec, err := s.normalizer.NormalizeTarget(target, sourceTime, SourceHexAPI)
		if err != nil {
			return nil, AsFetchError(SourceHexAPI, err)
		}
		return &rec, nil
	}

	return nil, nil
}
