package adsb

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    time.Duration
	}{
		{"absent", nil, 0},
		{"seconds", map[string]string{"Retry-After": "30"}, 30 * time.Second},
		{"opensky header wins", map[string]string{"X-Rate-Limit-Retry-After-Seconds": "90", "Retry-After": "30"}, 90 * time.Second},
		{"garbage", map[string]string{"Retry-After": "soon"}, 0},
		{"date in the past", map[string]string{"Retry-After": "Wed, 21 Oct 2015 07:28:00 GMT"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := parseRetryAfter(h); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	t.Run("date in the future", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		got := parseRetryAfter(h)
		if got < 58*time.Minute || got > time.Hour {
			t.Errorf("Expected about an hour, got %v", got)
		}
	})
}

func TestExtractRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "4000")
	h.Set("X-Rate-Limit-Remaining", "12")
	h.Set("X-Rate-Limit-Reset", "1700000000")

	got := extractRateLimitHeaders(h)
	if got.Limit != 4000 || got.Remaining != 12 || !got.Reset.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Unexpected headers: %+v", got)
	}

	empty := extractRateLimitHeaders(http.Header{})
	if empty.Limit != -1 || empty.Remaining != -1 || !empty.Reset.IsZero() {
		t.Errorf("Expected unknown values, got %+v", empty)
	}
}

func TestFetchErrorWrapping(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	fe := AsFetchError(SourceLocal, fmt.Errorf("wrapped: %w", inner))
	if fe.Kind != KindTransport || fe.Source != SourceLocal {
		t.Errorf("Expected local transport error, got %+v", fe)
	}
	if !errors.Is(fe, inner) {
		t.Error("Expected FetchError to unwrap to the cause")
	}

	rl := &FetchError{Kind: KindRateLimited, RetryAfter: time.Minute}
	if _, ok := IsRateLimited(fmt.Errorf("cycle: %w", rl)); !ok {
		t.Error("Expected wrapped rate limit to be detected")
	}
	if got := AsFetchError(SourceHexAPI, rl); got != rl || got.Source != SourceHexAPI {
		t.Errorf("Expected existing FetchError reused and attributed, got %+v", got)
	}
	if AsFetchError(SourceLocal, nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestFlexibleField(t *testing.T) {
	var v struct {
		A FlexibleField `json:"a"`
		B FlexibleField `json:"b"`
		C FlexibleField `json:"c"`
		D FlexibleField `json:"d"`
		E FlexibleField `json:"e"`
	}
	if err := json.Unmarshal([]byte(`{"a":12.5,"b":"ground","c":"42","d":null,"e":true}`), &v); err != nil {
		t.Fatal(err)
	}

	if p := v.A.Float64Ptr(); p == nil || *p != 12.5 {
		t.Errorf("Expected 12.5, got %v", p)
	}
	if !v.B.IsGround() || v.B.Float64Ptr() != nil {
		t.Error("Expected ground sentinel with no numeric value")
	}
	if p := v.C.Float64Ptr(); p == nil || *p != 42 {
		t.Errorf("Expected quoted number parsed, got %v", p)
	}
	if v.D.IsSet() || v.D.Float64Ptr() != nil {
		t.Error("Expected null to be unset")
	}
	if b := v.E.BoolPtr(); b == nil || !*b {
		t.Errorf("Expected true, got %v", b)
	}
	if v.E.Float64Ptr() != nil {
		t.Error("Expected bool to have no numeric value")
	}
}
