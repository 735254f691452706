package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/infra/buildinfo"
	"github.com/yndnr/tabsession-go/internal/telemetry/metric"
)

// maxBodySize bounds how much of a token response is read.
const maxBodySize = 1 << 20

// ClientConfig tunes the token endpoint client.
type ClientConfig struct {
	// Timeout bounds a single HTTP exchange. Default: 10s
	Timeout time.Duration

	// RateLimit is the sustained exchanges per second. 0 disables limiting.
	RateLimit float64

	// Burst is the limiter burst size. Default: 1
	Burst int

	// BreakerFailures is the number of consecutive failures that opens the
	// circuit breaker. Default: 5
	BreakerFailures uint32

	// BreakerCooldown is how long the breaker stays open. Default: 30s
	BreakerCooldown time.Duration
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:         10 * time.Second,
		RateLimit:       5,
		Burst:           2,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Client exchanges grants at the token endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *metric.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records exchanges and breaker transitions.
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a token endpoint client.
func NewClient(cfg Config, cc ClientConfig, opts ...ClientOption) *Client {
	def := DefaultClientConfig()
	if cc.Timeout <= 0 {
		cc.Timeout = def.Timeout
	}
	if cc.Burst <= 0 {
		cc.Burst = 1
	}
	if cc.BreakerFailures == 0 {
		cc.BreakerFailures = def.BreakerFailures
	}
	if cc.BreakerCooldown <= 0 {
		cc.BreakerCooldown = def.BreakerCooldown
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cc.Timeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cc.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cc.RateLimit), cc.Burst)
	}

	failures := cc.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "token-endpoint",
		MaxRequests: 1,
		Timeout:     cc.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Rejected grants are the provider answering, not failing.
			var se *statusError
			return err == nil || (errors.As(err, &se) && se.code < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
			c.metrics.BreakerChanged(to.String())
		},
	})

	return c
}

// ExchangeAuthorizationCode redeems an authorization code and its PKCE
// verifier.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code, verifier string) (*domain.TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"redirect_uri":  {c.cfg.ReturnURL},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	}
	return c.exchange(ctx, metric.GrantAuthorizationCode, form)
}

// ExchangeRefreshToken redeems a refresh token.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*domain.TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.exchange(ctx, metric.GrantRefreshToken, form)
}

// BreakerState returns the circuit breaker state name.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) exchange(ctx context.Context, grant string, form url.Values) (*domain.TokenResponse, error) {
	start := time.Now()
	resp, err := c.do(ctx, form)
	c.metrics.Exchange(grant, err, time.Since(start))
	if err != nil {
		c.logger.Info("token exchange failed", "grant", grant, "error", err)
		return nil, err
	}
	c.logger.Debug("token exchange succeeded", "grant", grant, "expires_in", int64(resp.ExpiresIn))
	return resp, nil
}

func (c *Client) do(ctx context.Context, form url.Values) (*domain.TokenResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.ErrExchangeFailed.WithDetails("rate limited").WithCause(err)
		}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, form)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.ErrExchangeFailed.WithDetails("token endpoint unavailable").WithCause(err)
		}
		return nil, err
	}
	return out.(*domain.TokenResponse), nil
}

func (c *Client) post(ctx context.Context, form url.Values) (*domain.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.ErrExchangeFailed.WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.ErrExchangeFailed.WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, domain.ErrExchangeFailed.WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.ErrExchangeFailed.
			WithDetails(fmt.Sprintf("status %d", resp.StatusCode)).
			WithCause(&statusError{code: resp.StatusCode, body: providerError(body)})
	}

	var tr domain.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, domain.ErrExchangeFailed.WithCause(
			domain.ErrMalformedTokenResponse.WithCause(err))
	}
	if err := tr.Validate(); err != nil {
		return nil, domain.ErrExchangeFailed.WithCause(err)
	}
	return &tr, nil
}

// statusError is a non-2xx token endpoint response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("token endpoint returned %d: %s", e.code, e.body)
	}
	return fmt.Sprintf("token endpoint returned %d", e.code)
}

// providerError extracts the OAuth2 error code from an error body.
func providerError(body []byte) string {
	var e struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if json.Unmarshal(body, &e) != nil || e.Error == "" {
		return ""
	}
	if e.Description != "" {
		return e.Error + ": " + e.Description
	}
	return e.Error
}
