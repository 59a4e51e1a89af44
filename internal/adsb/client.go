package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yegors/flighttrack/pkg/logger"
)

const (
	// DefaultOpenSkyURL is the OpenSky REST API root
	DefaultOpenSkyURL = "https://opensky-network.org/api"
	// DefaultOpenSkyTokenURL is the OpenSky OAuth2 token endpoint
	DefaultOpenSkyTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"

	// tokenSafetyMargin is subtracted from a token's declared lifetime so a
	// token never expires while a request using it is in flight
	tokenSafetyMargin = 5 * time.Minute
	// staticTokenTTL applies to access tokens read from a credentials file,
	// which carry no declared lifetime
	staticTokenTTL = 30 * time.Minute
)

// AuthMode is how the client authenticates to OpenSky
type AuthMode string

const (
	AuthAnonymous AuthMode = "anonymous"
	AuthOAuth2    AuthMode = "oauth2"
	AuthBasic     AuthMode = "basic"
	AuthStatic    AuthMode = "static-token"
)

// ClientConfig configures the authenticated OpenSky client
type ClientConfig struct {
	BaseURL         string
	TokenURL        string
	ClientID        string
	ClientSecret    string
	Username        string
	Password        string
	CredentialsPath string // optional JSON file with access_token or client_id/client_secret
	Timeout         time.Duration
	BatchSize       int // icao24 values per request
}

// Client talks to the OpenSky state vector API. It owns the OAuth2 token
// lifecycle and remembers throttling so a rate-limited API is not hammered.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokenURL   string
	batchSize  int
	logger     *logger.Logger
	now        func() time.Time

	mode         AuthMode
	clientID     string
	clientSecret string
	username     string
	password     string
	staticToken  string

	// Cached OAuth2 token
	token       string
	tokenExpiry time.Time
	tokenMu     sync.Mutex

	backoffUntil time.Time
	lastHeaders  RateLimitHeaders
	stateMu      sync.Mutex
}

// NewClient creates a new OpenSky client. Credentials are resolved once:
// explicit client id/secret, then username/password, then the credentials
// file, else anonymous.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	c := &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:     cfg.TokenURL,
		batchSize:    cfg.BatchSize,
		logger:       log.Named("opensky-cli"),
		now:          time.Now,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		username:     cfg.Username,
		password:     cfg.Password,
		lastHeaders:  RateLimitHeaders{Limit: -1, Remaining: -1},
	}
	if c.baseURL == "" {
		c.baseURL = DefaultOpenSkyURL
	}
	if c.tokenURL == "" {
		c.tokenURL = DefaultOpenSkyTokenURL
	}
	if c.batchSize <= 0 {
		c.batchSize = 100
	}

	if c.clientID == "" && c.username == "" && cfg.CredentialsPath != "" {
		if err := c.loadCredentialsFile(cfg.CredentialsPath); err != nil {
			return nil, err
		}
	}

	switch {
	case c.clientID != "" && c.clientSecret != "":
		c.mode = AuthOAuth2
	case c.username != "" && c.password != "":
		c.mode = AuthBasic
	case c.staticToken != "":
		c.mode = AuthStatic
	default:
		c.mode = AuthAnonymous
		c.logger.Warn("No OpenSky credentials configured - proceeding as anonymous (rate limits may apply)")
	}

	c.logger.Info("OpenSky client ready", logger.String("auth_mode", string(c.mode)))
	return c, nil
}

// loadCredentialsFile reads a credentials JSON. Key names are accepted in
// snake_case, kebab-case and camelCase.
func (c *Client) loadCredentialsFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Warn("OpenSky credentials file not found", logger.String("path", path))
			return nil
		}
		return fmt.Errorf("failed to read opensky credentials: %w", err)
	}

	var credMap map[string]any
	if err := json.Unmarshal(b, &credMap); err != nil {
		return fmt.Errorf("invalid opensky credentials JSON: %w", err)
	}

	getFirstString := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := credMap[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}

	c.staticToken = getFirstString("access_token", "access-token", "accessToken")
	c.clientID = getFirstString("client_id", "client-id", "clientId")
	c.clientSecret = getFirstString("client_secret", "client-secret", "clientSecret")
	c.username = getFirstString("username", "user")
	c.password = getFirstString("password")
	if u := getFirstString("token_url", "token-url", "tokenUrl"); u != "" {
		c.tokenURL = u
	}
	return nil
}

// Mode returns the resolved authentication mode
func (c *Client) Mode() AuthMode {
	return c.mode
}

// RateLimitRemaining returns the last reported remaining request budget, -1 if unknown
func (c *Client) RateLimitRemaining() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.lastHeaders.Remaining
}

// FetchStates returns the current state vectors for the given icao24 addresses.
// The error, when non-nil, is always a *FetchError. A throttled API yields a
// KindRateLimited error immediately, without retrying.
func (c *Client) FetchStates(ctx context.Context, icaos []string) ([]RawState, error) {
	if len(icaos) == 0 {
		return nil, nil
	}

	if wait := c.backoffRemaining(); wait > 0 {
		c.logger.Debug("Skipping OpenSky request during rate-limit backoff", logger.Duration("remaining", wait))
		return nil, &FetchError{
			Kind:       KindRateLimited,
			Source:     SourceOpenSky,
			RetryAfter: wait,
			Message:    "backing off after rate limit",
		}
	}

	var states []RawState
	for start := 0; start < len(icaos); start += c.batchSize {
		end := min(start+c.batchSize, len(icaos))
		batch, err := c.fetchBatch(ctx, icaos[start:end])
		if err != nil {
			return states, err
		}
		states = append(states, batch...)
	}
	return states, nil
}

func (c *Client) fetchBatch(ctx context.Context, icaos []string) ([]RawState, *FetchError) {
	q := url.Values{}
	for _, id := range icaos {
		q.Add("icao24", id)
	}
	urlStr := c.baseURL + "/states/all?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, transportError(SourceOpenSky, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	c.logger.Debug("Fetching OpenSky state vectors", logger.Int("icao_count", len(icaos)))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(SourceOpenSky, "failed to execute request", err)
	}
	defer resp.Body.Close()

	headers := extractRateLimitHeaders(resp.Header)
	c.stateMu.Lock()
	if headers.Remaining >= 0 {
		c.lastHeaders = headers
	}
	c.stateMu.Unlock()
	if headers.Remaining >= 0 {
		c.logger.Debug("OpenSky rate limit", logger.Int("remaining", headers.Remaining))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		fe := rateLimitedError(SourceOpenSky, resp)
		c.startBackoff(fe.RetryAfter)
		c.logger.Warn("OpenSky rate limit exceeded", logger.Duration("retry_after", fe.RetryAfter))
		return nil, fe
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.invalidateToken()
		body, _ := io.ReadAll(resp.Body)
		return nil, &FetchError{Kind: KindAuth, Source: SourceOpenSky, StatusCode: resp.StatusCode, Message: preview(string(body))}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("Unexpected OpenSky status code", logger.Int("status_code", resp.StatusCode), logger.String("body", preview(string(body))))
		return nil, upstreamError(SourceOpenSky, resp.StatusCode, string(body))
	}

	var osResp struct {
		Time   int64      `json:"time"`
		States []RawState `json:"states"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&osResp); err != nil {
		return nil, dataError(SourceOpenSky, "failed to parse opensky JSON", err)
	}

	return osResp.States, nil
}

// authorize sets the Authorization header for the resolved auth mode
func (c *Client) authorize(ctx context.Context, req *http.Request) *FetchError {
	switch c.mode {
	case AuthBasic:
		req.SetBasicAuth(c.username, c.password)
	case AuthOAuth2, AuthStatic:
		token, err := c.bearerToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// bearerToken returns a cached token, requesting a new one only when none is valid.
// Failed requests are never cached.
func (c *Client) bearerToken(ctx context.Context) (string, *FetchError) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.tokenExpiry) {
		return c.token, nil
	}

	if c.mode == AuthStatic {
		c.token = c.staticToken
		c.tokenExpiry = now.Add(staticTokenTTL - tokenSafetyMargin)
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &FetchError{Kind: KindAuth, Source: SourceOpenSky, Message: "failed to create token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Debug("Requesting OpenSky OAuth2 token", logger.String("token_url", c.tokenURL))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{Kind: KindAuth, Source: SourceOpenSky, Message: "failed to request token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		fe := rateLimitedError(SourceOpenSky, resp)
		c.startBackoff(fe.RetryAfter)
		return "", fe
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("OpenSky token endpoint returned non-200", logger.Int("status", resp.StatusCode), logger.String("body", preview(string(body))))
		return "", &FetchError{Kind: KindAuth, Source: SourceOpenSky, StatusCode: resp.StatusCode, Message: "token endpoint error"}
	}

	var tokResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokResp); err != nil {
		return "", &FetchError{Kind: KindAuth, Source: SourceOpenSky, Message: "failed to decode token response", Err: err}
	}
	if tokResp.AccessToken == "" {
		return "", &FetchError{Kind: KindAuth, Source: SourceOpenSky, Message: "token response did not contain access_token"}
	}

	// A lifetime shorter than the margin yields an already-expired cache entry;
	// the token is still used for this request
	c.token = tokResp.AccessToken
	c.tokenExpiry = now.Add(time.Duration(tokResp.ExpiresIn)*time.Second - tokenSafetyMargin)

	c.logger.Debug("Obtained OpenSky token", logger.Time("cache_until", c.tokenExpiry))
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.tokenMu.Unlock()
}

func (c *Client) startBackoff(d time.Duration) {
	if d <= 0 {
		return
	}
	c.stateMu.Lock()
	c.backoffUntil = c.now().Add(d)
	c.stateMu.Unlock()
}

func (c *Client) backoffRemaining() time.Duration {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.backoffUntil.Sub(c.now())
}
