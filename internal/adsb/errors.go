package adsb

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a source failure
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"    // network failure or timeout
	KindAuth        ErrorKind = "auth"         // token acquisition failed or credentials rejected
	KindRateLimited ErrorKind = "rate_limited" // source explicitly throttled us
	KindUpstream    ErrorKind = "upstream"     // non-2xx, non-429 response
	KindData        ErrorKind = "data"         // malformed body or missing required fields
)

// FetchError describes why a source produced no (or partial) data
type FetchError struct {
	Kind       ErrorKind
	Source     SourceName
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Headers    RateLimitHeaders
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Source, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is, or wraps, a rate-limit FetchError
func IsRateLimited(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == KindRateLimited {
		return fe, true
	}
	return nil, false
}

// AsFetchError converts any error into a FetchError attributed to source.
// Context deadline and cancellation map to transport errors.
func AsFetchError(source SourceName, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Source == "" {
			fe.Source = source
		}
		return fe
	}
	return &FetchError{Kind: KindTransport, Source: source, Err: err}
}

func transportError(source SourceName, msg string, err error) *FetchError {
	return &FetchError{Kind: KindTransport, Source: source, Message: msg, Err: err}
}

func dataError(source SourceName, msg string, err error) *FetchError {
	return &FetchError{Kind: KindData, Source: source, Message: msg, Err: err}
}

func upstreamError(source SourceName, status int, body string) *FetchError {
	return &FetchError{Kind: KindUpstream, Source: source, StatusCode: status, Message: preview(body)}
}

// preview shortens a response body for logs
func preview(body string) string {
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}
