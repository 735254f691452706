package session

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/yndnr/tabsession-go/internal/broadcast"
	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/core/lock"
	"github.com/yndnr/tabsession-go/internal/infra/clock"
	"github.com/yndnr/tabsession-go/internal/oauth"
	"github.com/yndnr/tabsession-go/internal/storage"
	"github.com/yndnr/tabsession-go/internal/telemetry/metric"
)

// TokenEndpoint exchanges grants for tokens.
type TokenEndpoint interface {
	ExchangeAuthorizationCode(ctx context.Context, code, verifier string) (*domain.TokenResponse, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*domain.TokenResponse, error)
}

// Redirector navigates the user agent to url.
type Redirector interface {
	Redirect(ctx context.Context, url string) error
}

// RedirectFunc adapts a function to Redirector.
type RedirectFunc func(ctx context.Context, url string) error

// Redirect calls f.
func (f RedirectFunc) Redirect(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Locker is the cross-tab refresh lock.
type Locker interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(key string) error
}

// Config configures a Controller.
type Config struct {
	OAuth oauth.Config

	// SessionKey is the store key holding the serialized session.
	SessionKey string

	// FlowPrefix prefixes the store keys holding PKCE verifiers.
	FlowPrefix string

	// FlowTTL bounds how long a login attempt may take.
	FlowTTL time.Duration

	// RefreshMargin is how long before expiry the refresh is attempted.
	RefreshMargin time.Duration

	// SettleTimeout is how long a tab whose startup refresh was taken by
	// another tab waits for that tab's result before re-reading the store.
	SettleTimeout time.Duration

	// LockScope selects the refresh lock key.
	LockScope lock.Scope

	// Lock configures the refresh lock built when Dependencies.Lock is nil.
	Lock lock.Config
}

// DefaultConfig returns the default configuration with an empty OAuth
// section.
func DefaultConfig() Config {
	return Config{
		SessionKey:    "session_state",
		FlowPrefix:    "oidc:",
		FlowTTL:       10 * time.Minute,
		RefreshMargin: 30 * time.Second,
		SettleTimeout: 10 * time.Second,
		LockScope:     lock.ScopeFixed,
		Lock:          lock.DefaultConfig(),
	}
}

// Dependencies are the collaborators a Controller is built from.
type Dependencies struct {
	Endpoint   TokenEndpoint
	Redirector Redirector

	// Store is the store shared by all tabs.
	Store storage.Store

	// Flows holds PKCE verifiers. Defaults to Store.
	Flows storage.Store

	// Broadcast is optional; the lock uses it to announce claims.
	Broadcast broadcast.Channel

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metric.Metrics

	// Lock defaults to a lock.Lock over Store.
	Lock Locker
}

// Option configures a Controller.
type Option func(*Controller)

// WithLocation sets the URL the tab was loaded at. A URL carrying code and
// state query parameters completes a login.
func WithLocation(u *url.URL) Option {
	return func(c *Controller) {
		c.location = u
	}
}
