package adsb

import (
	"net/http"
	"strconv"
	"time"
)

// RateLimitHeaders contains rate limit information from response headers.
// Unreported values are -1 (or zero time for Reset).
type RateLimitHeaders struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// rateLimitedError builds the descriptor returned for an HTTP 429
func rateLimitedError(source SourceName, resp *http.Response) *FetchError {
	return &FetchError{
		Kind:       KindRateLimited,
		Source:     source,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header),
		Message:    "rate limit exceeded",
		Headers:    extractRateLimitHeaders(resp.Header),
	}
}

// parseRetryAfter extracts the wait hint from a throttled response.
// OpenSky reports X-Rate-Limit-Retry-After-Seconds; everyone else uses Retry-After,
// as delay-seconds or an HTTP-date. Returns 0 when absent.
func parseRetryAfter(headers http.Header) time.Duration {
	if v := headers.Get("X-Rate-Limit-Retry-After-Seconds"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}

	return 0
}

// extractRateLimitHeaders reads X-Rate-Limit-* or X-RateLimit-* headers
func extractRateLimitHeaders(headers http.Header) RateLimitHeaders {
	rlh := RateLimitHeaders{
		Limit:     -1,
		Remaining: -1,
	}

	if v, ok := firstInt(headers, "X-Rate-Limit-Limit", "X-RateLimit-Limit"); ok {
		rlh.Limit = int(v)
	}
	if v, ok := firstInt(headers, "X-Rate-Limit-Remaining", "X-RateLimit-Remaining"); ok {
		rlh.Remaining = int(v)
	}
	if v, ok := firstInt(headers, "X-Rate-Limit-Reset", "X-RateLimit-Reset"); ok {
		rlh.Reset = time.Unix(v, 0)
	}

	return rlh
}

func firstInt(headers http.Header, keys ...string) (int64, bool) {
	for _, k := range keys {
		if v := headers.Get(k); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}
