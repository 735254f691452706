package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/infra/clock"
	"github.com/yndnr/tabsession-go/internal/oauth"
	"github.com/yndnr/tabsession-go/internal/storage"
	"github.com/yndnr/tabsession-go/internal/storage/memory"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OAuth = oauth.Config{
		ClientID:              "client-1",
		ReturnURL:             "https://app.example/callback",
		PostLogoutURL:         "https://app.example/bye",
		Scopes:                []string{"openid", "offline_access"},
		AuthorizationEndpoint: "https://idp.example/authorize",
		TokenEndpoint:         "https://idp.example/token",
		EndSessionEndpoint:    "https://idp.example/logout",
	}
	cfg.Lock.MaxJitter = 0
	return cfg
}

// fakeEndpoint is a scripted token endpoint.
type fakeEndpoint struct {
	mu           sync.Mutex
	codeCalls    int
	refreshCalls int
	verifiers    []string

	onCode    func(code, verifier string) (*domain.TokenResponse, error)
	onRefresh func(ctx context.Context, refreshToken string) (*domain.TokenResponse, error)
}

func (e *fakeEndpoint) ExchangeAuthorizationCode(ctx context.Context, code, verifier string) (*domain.TokenResponse, error) {
	e.mu.Lock()
	e.codeCalls++
	e.verifiers = append(e.verifiers, verifier)
	fn := e.onCode
	e.mu.Unlock()
	if fn == nil {
		return nil, domain.ErrExchangeFailed
	}
	return fn(code, verifier)
}

func (e *fakeEndpoint) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*domain.TokenResponse, error) {
	e.mu.Lock()
	e.refreshCalls++
	fn := e.onRefresh
	e.mu.Unlock()
	if fn == nil {
		return nil, domain.ErrExchangeFailed
	}
	return fn(ctx, refreshToken)
}

func (e *fakeEndpoint) calls() (code, refresh int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.codeCalls, e.refreshCalls
}

func (e *fakeEndpoint) lastVerifier() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.verifiers) == 0 {
		return ""
	}
	return e.verifiers[len(e.verifiers)-1]
}

func tokens(access, refresh string, expiresIn domain.Seconds) *domain.TokenResponse {
	return &domain.TokenResponse{AccessToken: access, RefreshToken: refresh, ExpiresIn: expiresIn}
}

// redirects records redirect targets.
type redirects struct {
	mu   sync.Mutex
	urls []string
}

func (r *redirects) Redirect(ctx context.Context, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, target)
	return nil
}

func (r *redirects) last(t *testing.T) *url.URL {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.urls) == 0 {
		t.Fatal("no redirect recorded")
	}
	u, err := url.Parse(r.urls[len(r.urls)-1])
	if err != nil {
		t.Fatal(err)
	}
	return u
}

// harness wires tabs sharing one backend and one virtual clock.
type harness struct {
	t        *testing.T
	backend  *memory.Backend
	clock    *clock.Fake
	endpoint *fakeEndpoint
	cfg      Config
	tabs     int
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:        t,
		backend:  memory.NewBackend(),
		clock:    clock.NewFake(t0),
		endpoint: &fakeEndpoint{},
		cfg:      testConfig(),
	}
}

func (h *harness) view() storage.Store {
	h.tabs++
	return h.backend.Open(fmt.Sprintf("tab-%d", h.tabs))
}

func (h *harness) tab(opts ...Option) (*Controller, *redirects) {
	h.t.Helper()
	return h.tabWith(Dependencies{Store: h.view()}, opts...)
}

// tabWith fills the endpoint, redirector and clock into deps.
func (h *harness) tabWith(deps Dependencies, opts ...Option) (*Controller, *redirects) {
	h.t.Helper()
	r := &redirects{}
	deps.Endpoint = h.endpoint
	deps.Redirector = r
	deps.Clock = h.clock
	c, err := New(h.cfg, deps, opts...)
	if err != nil {
		h.t.Fatal(err)
	}
	h.t.Cleanup(func() { c.Close() })
	return c, r
}

func (h *harness) storeState(s *domain.SessionState) {
	h.t.Helper()
	data, err := s.Marshal()
	if err != nil {
		h.t.Fatal(err)
	}
	if err := h.backend.Open("seed").Set(h.cfg.SessionKey, data); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) stored() *domain.SessionState {
	data, err := h.backend.Open("probe").Get(h.cfg.SessionKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	return domain.UnmarshalSessionState(data)
}

func (h *harness) flows() *FlowStore {
	return NewFlowStore(h.backend.Open("flows"), h.cfg.FlowPrefix, h.cfg.FlowTTL, h.clock)
}

// recorder collects access-token emissions.
type recorder struct {
	mu     sync.Mutex
	values []string
}

func record(c *Controller) *recorder {
	r := &recorder{}
	c.OnChange(func(token string) {
		r.mu.Lock()
		r.values = append(r.values, token)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.values))
	copy(out, r.values)
	return out
}

func (r *recorder) lastValue() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return "", false
	}
	return r.values[len(r.values)-1], true
}

// eventually polls cond in real time.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitToken(t *testing.T, c *Controller, want string) {
	t.Helper()
	eventually(t, "access token "+want, func() bool {
		got, ok := c.AccessToken()
		return ok && got == want
	})
}
