package session

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/core/lock"
	"github.com/yndnr/tabsession-go/internal/storage"
	"github.com/yndnr/tabsession-go/pkg/pkce"
)

func session(access, refresh string, expiresAt time.Time) *domain.SessionState {
	return &domain.SessionState{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt.UnixMilli()}
}

// writeCounter counts writes made through a view.
type writeCounter struct {
	storage.Store
	writes atomic.Int32
}

func (s *writeCounter) Set(key string, value []byte) error {
	s.writes.Add(1)
	return s.Store.Set(key, value)
}

func (s *writeCounter) Delete(key string) error {
	s.writes.Add(1)
	return s.Store.Delete(key)
}

// countingLocker counts denied acquisitions of a real lock.
type countingLocker struct {
	*lock.Lock
	denied atomic.Int32
}

func (l *countingLocker) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := l.Lock.Acquire(ctx, key)
	if err == nil && !ok {
		l.denied.Add(1)
	}
	return ok, err
}

// grantLocker grants every acquisition after running onAcquire.
type grantLocker struct {
	onAcquire func()
}

func (l grantLocker) Acquire(ctx context.Context, key string) (bool, error) {
	if l.onAcquire != nil {
		l.onAcquire()
	}
	return true, nil
}

func (grantLocker) Release(key string) error { return nil }

func TestController_NoSession(t *testing.T) {
	h := newHarness(t)
	c, _ := h.tab()

	got, ok := c.AccessToken()
	if !ok || got != "" {
		t.Errorf("AccessToken() = %q, %v, want \"\", true", got, ok)
	}
	r := record(c)
	if vals := r.all(); len(vals) != 1 || vals[0] != "" {
		t.Errorf("OnChange replay = %q, want [\"\"]", vals)
	}
}

func TestController_RestoresValidSession(t *testing.T) {
	h := newHarness(t)
	h.storeState(session("at-1", "rt-1", t0.Add(time.Minute)))

	view := &writeCounter{Store: h.view()}
	c, _ := h.tabWith(Dependencies{Store: view})

	got, ok := c.AccessToken()
	if !ok || got != "at-1" {
		t.Errorf("AccessToken() = %q, %v, want at-1, true", got, ok)
	}
	if n := view.writes.Load(); n != 0 {
		t.Errorf("store writes = %d, want 0", n)
	}
	code, refresh := h.endpoint.calls()
	if code != 0 || refresh != 0 {
		t.Errorf("endpoint calls = %d, %d, want 0, 0", code, refresh)
	}
}

func TestController_MalformedStoredSession(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{{"},
		{"empty object", "{}"},
		{"no access token", `{"refreshToken":"rt","expiresAt":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if err := h.backend.Open("seed").Set(h.cfg.SessionKey, []byte(tt.data)); err != nil {
				t.Fatal(err)
			}
			c, _ := h.tab()
			if got, ok := c.AccessToken(); !ok || got != "" {
				t.Errorf("AccessToken() = %q, %v, want \"\", true", got, ok)
			}
		})
	}
}

func TestController_Login(t *testing.T) {
	h := newHarness(t)
	c, r := h.tab()

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	u := r.last(t)
	if u.Host != "idp.example" || u.Path != "/authorize" {
		t.Errorf("redirect = %s, want the authorization endpoint", u)
	}
	q := u.Query()
	want := map[string]string{
		"client_id":             "client-1",
		"response_type":         "code",
		"redirect_uri":          "https://app.example/callback",
		"scope":                 "openid offline_access",
		"code_challenge_method": "S256",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}

	state := q.Get("state")
	if state == "" {
		t.Fatal("state parameter missing")
	}
	verifier, err := h.flows().Consume(state)
	if err != nil {
		t.Fatalf("stored verifier: %v", err)
	}
	if got := pkce.Challenge(verifier); got != q.Get("code_challenge") {
		t.Errorf("code_challenge = %q, want %q", q.Get("code_challenge"), got)
	}
}

func TestController_LoginRedirectFailure(t *testing.T) {
	h := newHarness(t)
	c, err := New(h.cfg, Dependencies{
		Endpoint: h.endpoint,
		Redirector: RedirectFunc(func(context.Context, string) error {
			return errors.New("navigation blocked")
		}),
		Store: h.view(),
		Clock: h.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Login(context.Background()); !errors.Is(err, domain.ErrRedirectFailed) {
		t.Errorf("Login() error = %v, want ErrRedirectFailed", err)
	}
}

func TestController_CompletesLogin(t *testing.T) {
	h := newHarness(t)
	h.endpoint.onCode = func(code, verifier string) (*domain.TokenResponse, error) {
		if code != "abc" {
			return nil, domain.ErrExchangeFailed
		}
		return tokens("at-1", "rt-1", 3600), nil
	}

	first, r := h.tab()
	if err := first.Login(context.Background()); err != nil {
		t.Fatal(err)
	}
	state := r.last(t).Query().Get("state")

	callback, _ := url.Parse("https://app.example/callback?code=abc&state=" + url.QueryEscape(state))
	second, _ := h.tab(WithLocation(callback))

	waitToken(t, second, "at-1")
	waitToken(t, first, "at-1")

	eventually(t, "session persisted", func() bool {
		s := h.stored()
		return s != nil && s.AccessToken == "at-1"
	})
	want := session("at-1", "rt-1", t0.Add(time.Hour))
	if got := h.stored(); !got.Equal(want) {
		t.Errorf("stored = %+v, want %+v", got, want)
	}
	if h.endpoint.lastVerifier() == "" {
		t.Error("exchange was sent without a verifier")
	}
	if _, err := h.flows().Consume(state); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("verifier still stored after login, Consume() error = %v", err)
	}
}

func TestController_CallbackWithUnknownState(t *testing.T) {
	h := newHarness(t)
	h.storeState(session("at-old", "rt-old", t0.Add(time.Minute)))

	callback, _ := url.Parse("https://app.example/callback?code=abc&state=forged")
	c, _ := h.tab(WithLocation(callback))

	waitToken(t, c, "")
	if code, _ := h.endpoint.calls(); code != 0 {
		t.Errorf("code exchanges = %d, want 0", code)
	}
	eventually(t, "stored session cleared", func() bool { return h.stored() == nil })
}

func TestController_FailedCodeExchange(t *testing.T) {
	h := newHarness(t)
	first, r := h.tab()
	if err := first.Login(context.Background()); err != nil {
		t.Fatal(err)
	}
	state := r.last(t).Query().Get("state")

	callback, _ := url.Parse("https://app.example/callback?code=abc&state=" + state)
	c, _ := h.tab(WithLocation(callback))

	eventually(t, "code exchange", func() bool {
		code, _ := h.endpoint.calls()
		return code == 1
	})
	waitToken(t, c, "")
}

func TestController_ExpiresWhenRefreshFails(t *testing.T) {
	h := newHarness(t)
	h.storeState(session("at-1", "rt-1", t0.Add(time.Minute)))
	c, _ := h.tab()

	h.clock.Advance(30 * time.Second)
	if !h.clock.AwaitSleepers(1, 5*time.Second) {
		t.Fatal("refresh did not start")
	}
	h.clock.Advance(time.Second)
	eventually(t, "refresh attempt", func() bool {
		_, refresh := h.endpoint.calls()
		return refresh == 1
	})

	h.clock.Advance(28*time.Second + 999*time.Millisecond)
	if got, _ := c.AccessToken(); got != "at-1" {
		t.Errorf("AccessToken() before expiry = %q, want at-1", got)
	}

	h.clock.Advance(time.Millisecond)
	if got, _ := c.AccessToken(); got != "" {
		t.Errorf("AccessToken() at expiry = %q, want \"\"", got)
	}
	if s := h.stored(); s != nil {
		t.Errorf("stored = %+v, want nil", s)
	}
}

func TestController_ScheduledRefresh(t *testing.T) {
	tests := []struct {
		name        string
		resp        *domain.TokenResponse
		wantRefresh string
	}{
		{"rotated", tokens("at-2", "rt-2", 60), "rt-2"},
		{"refresh token omitted", tokens("at-2", "", 60), "rt-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.endpoint.onRefresh = func(_ context.Context, rt string) (*domain.TokenResponse, error) {
				if rt != "rt-1" {
					return nil, domain.ErrExchangeFailed
				}
				return tt.resp, nil
			}
			h.storeState(session("at-1", "rt-1", t0.Add(time.Minute)))
			c, _ := h.tab()

			h.clock.Advance(30 * time.Second)
			if !h.clock.AwaitSleepers(1, 5*time.Second) {
				t.Fatal("refresh did not start")
			}
			h.clock.Advance(time.Second)
			waitToken(t, c, "at-2")

			want := session("at-2", tt.wantRefresh, t0.Add(91*time.Second))
			eventually(t, "refreshed session persisted", func() bool { return h.stored().Equal(want) })

			// The old expiry must not fire.
			h.clock.Advance(29 * time.Second)
			if got, _ := c.AccessToken(); got != "at-2" {
				t.Errorf("AccessToken() = %q, want at-2", got)
			}
		})
	}
}

func TestController_ConcurrentTabsRefreshOnce(t *testing.T) {
	h := newHarness(t)
	h.endpoint.onRefresh = func(context.Context, string) (*domain.TokenResponse, error) {
		return tokens("at-2", "rt-2", 60), nil
	}
	h.storeState(session("at-1", "rt-1", t0.Add(time.Minute)))

	var lockers []*countingLocker
	var tabs []*Controller
	for i := 0; i < 2; i++ {
		view := h.view()
		l, err := lock.New(h.cfg.Lock, view, lock.WithClock(h.clock))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(l.Close)
		cl := &countingLocker{Lock: l}
		c, _ := h.tabWith(Dependencies{Store: view, Lock: cl})
		lockers = append(lockers, cl)
		tabs = append(tabs, c)
	}

	h.clock.Advance(30 * time.Second)
	eventually(t, "both tabs to claim or back off", func() bool {
		decided := h.clock.Sleepers()
		for _, l := range lockers {
			decided += int(l.denied.Load())
		}
		return decided == 2
	})
	h.clock.Advance(time.Second)

	for _, c := range tabs {
		waitToken(t, c, "at-2")
	}
	if _, refresh := h.endpoint.calls(); refresh != 1 {
		t.Errorf("refresh exchanges = %d, want 1", refresh)
	}
}

func TestController_StartupRefresh(t *testing.T) {
	h := newHarness(t)
	h.endpoint.onRefresh = func(context.Context, string) (*domain.TokenResponse, error) {
		return tokens("at-2", "rt-2", 60), nil
	}
	h.storeState(session("at-1", "rt-1", t0.Add(-time.Second)))
	c, _ := h.tab()

	if _, ok := c.AccessToken(); ok {
		t.Error("expired session published before refresh")
	}
	if !h.clock.AwaitSleepers(1, 5*time.Second) {
		t.Fatal("refresh did not start")
	}
	h.clock.Advance(time.Second)
	waitToken(t, c, "at-2")
}

func TestController_StartupRefreshFails(t *testing.T) {
	h := newHarness(t)
	h.storeState(session("at-1", "rt-1", t0.Add(-time.Second)))
	c, _ := h.tab()

	if !h.clock.AwaitSleepers(1, 5*time.Second) {
		t.Fatal("refresh did not start")
	}
	h.clock.Advance(time.Second)
	waitToken(t, c, "")
	eventually(t, "stored session cleared", func() bool { return h.stored() == nil })
}

// holdRefreshLock writes a live claim for the fixed refresh key as another
// tab would.
func holdRefreshLock(t *testing.T, h *harness) {
	t.Helper()
	rec := &domain.LockRecord{Key: lock.RefreshKey, Holder: 42, ExpiresAt: t0.Add(5 * time.Second).UnixMilli()}
	data, err := rec.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := h.backend.Open("holder").Set(h.cfg.Lock.KeyPrefix+lock.RefreshKey, data); err != nil {
		t.Fatal(err)
	}
}

func TestController_StartupWaitsForOtherTab(t *testing.T) {
	h := newHarness(t)
	h.storeState(session("at-1", "rt-1", t0.Add(-time.Second)))
	holdRefreshLock(t, h)
	c, _ := h.tab()

	eventually(t, "settle timer", func() bool { return h.clock.Pending() == 1 })
	if _, ok := c.AccessToken(); ok {
		t.Error("tab resolved while another tab refreshes")
	}

	h.storeState(session("at-2", "rt-2", t0.Add(time.Minute)))
	waitToken(t, c, "at-2")
	if _, refresh := h.endpoint.calls(); refresh != 0 {
		t.Errorf("refresh exchanges = %d, want 0", refresh)
	}
}

func TestController_StartupSettlesWithoutResult(t *testing.T) {
	h := newHarness(t)
	expired := session("at-1", "rt-1", t0.Add(-time.Second))
	h.storeState(expired)
	holdRefreshLock(t, h)
	c, _ := h.tab()

	eventually(t, "settle timer", func() bool { return h.clock.Pending() == 1 })
	h.clock.Advance(h.cfg.SettleTimeout)

	if got, ok := c.AccessToken(); !ok || got != "" {
		t.Errorf("AccessToken() = %q, %v, want \"\", true", got, ok)
	}
	if got := h.stored(); !got.Equal(expired) {
		t.Errorf("stored = %+v, want the untouched expired session", got)
	}
}

func TestController_TokenScopedLockIgnoresOtherTokens(t *testing.T) {
	h := newHarness(t)
	h.cfg.LockScope = lock.ScopeToken
	h.endpoint.onRefresh = func(context.Context, string) (*domain.TokenResponse, error) {
		return tokens("at-2", "rt-2", 60), nil
	}
	h.storeState(session("at-1", "rt-1", t0.Add(-time.Second)))
	holdRefreshLock(t, h)
	c, _ := h.tab()

	if !h.clock.AwaitSleepers(1, 5*time.Second) {
		t.Fatal("refresh did not start")
	}
	h.clock.Advance(time.Second)
	waitToken(t, c, "at-2")
}

func TestController_AdoptsSessionRefreshedMeanwhile(t *testing.T) {
	h := newHarness(t)
	h.storeState(session("at-1", "rt-1", t0.Add(-time.Second)))

	c, _ := h.tabWith(Dependencies{
		Store: h.view(),
		Lock: grantLocker{onAcquire: func() {
			h.storeState(session("at-2", "rt-2", t0.Add(time.Minute)))
		}},
	})

	waitToken(t, c, "at-2")
	if _, refresh := h.endpoint.calls(); refresh != 0 {
		t.Errorf("refresh exchanges = %d, want 0", refresh)
	}
}

func TestController_Logout(t *testing.T) {
	h := newHarness(t)
	h.storeState(session("at-1", "rt-1", t0.Add(time.Minute)))
	first, r := h.tab()
	second, _ := h.tab()
	seen := record(second)

	if err := first.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if got, _ := first.AccessToken(); got != "" {
		t.Errorf("AccessToken() = %q, want \"\"", got)
	}
	waitToken(t, second, "")
	if last, _ := seen.lastValue(); last != "" {
		t.Errorf("other tab last token = %q, want \"\"", last)
	}
	if s := h.stored(); s != nil {
		t.Errorf("stored = %+v, want nil", s)
	}

	u := r.last(t)
	if u.Path != "/logout" {
		t.Errorf("redirect = %s, want the end session endpoint", u)
	}
	if got := u.Query().Get("post_logout_redirect_uri"); got != "https://app.example/bye" {
		t.Errorf("post_logout_redirect_uri = %q", got)
	}

	late, _ := h.tab()
	if got, _ := late.AccessToken(); got != "" {
		t.Errorf("new tab AccessToken() = %q, want \"\"", got)
	}
}

func TestController_LogoutDiscardsRefreshInFlight(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.endpoint.onRefresh = func(ctx context.Context, _ string) (*domain.TokenResponse, error) {
		<-release
		return tokens("at-2", "rt-2", 60), nil
	}
	h.storeState(session("at-1", "rt-1", t0.Add(time.Minute)))
	c, _ := h.tab()

	h.clock.Advance(30 * time.Second)
	if !h.clock.AwaitSleepers(1, 5*time.Second) {
		t.Fatal("refresh did not start")
	}
	h.clock.Advance(time.Second)
	eventually(t, "refresh exchange", func() bool {
		_, refresh := h.endpoint.calls()
		return refresh == 1
	})

	if err := c.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(release)
	c.Close()

	if got, _ := c.AccessToken(); got != "" {
		t.Errorf("AccessToken() = %q, want \"\"", got)
	}
	if s := h.stored(); s != nil {
		t.Errorf("stored = %+v, want nil", s)
	}
}

func TestController_CloseStopsTimers(t *testing.T) {
	h := newHarness(t)
	h.storeState(session("at-1", "rt-1", t0.Add(time.Minute)))
	c, _ := h.tab()

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if n := h.clock.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
	h.clock.Advance(2 * time.Minute)
	if got, _ := c.AccessToken(); got != "at-1" {
		t.Errorf("AccessToken() = %q, want at-1", got)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestController_ClosedTabIgnoresOtherTabs(t *testing.T) {
	h := newHarness(t)
	c, _ := h.tab()
	c.Close()

	h.storeState(session("at-1", "rt-1", t0.Add(time.Minute)))
	if got, _ := c.AccessToken(); got != "" {
		t.Errorf("AccessToken() = %q, want \"\"", got)
	}
}

func TestController_SubscribeState(t *testing.T) {
	h := newHarness(t)
	h.storeState(session("at-1", "rt-1", t0.Add(time.Minute)))
	c, _ := h.tab()

	var got []*domain.SessionState
	unsubscribe := c.Subscribe(func(s *domain.SessionState) { got = append(got, s) })
	if len(got) != 1 || got[0].AccessToken != "at-1" {
		t.Fatalf("replay = %+v, want the restored session", got)
	}

	unsubscribe()
	h.storeState(session("at-2", "rt-2", t0.Add(time.Minute)))
	waitToken(t, c, "at-2")
	if len(got) != 1 {
		t.Errorf("deliveries after unsubscribe = %d, want 1", len(got))
	}
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t)
	valid := Dependencies{Endpoint: h.endpoint, Redirector: &redirects{}, Store: h.view()}

	tests := []struct {
		name   string
		mutate func(*Config, *Dependencies)
		want   error
	}{
		{"missing client id", func(c *Config, _ *Dependencies) { c.OAuth.ClientID = "" }, domain.ErrInvalidConfig},
		{"missing session key", func(c *Config, _ *Dependencies) { c.SessionKey = "" }, domain.ErrInvalidConfig},
		{"negative margin", func(c *Config, _ *Dependencies) { c.RefreshMargin = -time.Second }, domain.ErrInvalidConfig},
		{"bad lock config", func(c *Config, _ *Dependencies) { c.Lock.SafetyInterval = 0 }, domain.ErrInvalidConfig},
		{"no endpoint", func(_ *Config, d *Dependencies) { d.Endpoint = nil }, domain.ErrInvalidArgument},
		{"no store", func(_ *Config, d *Dependencies) { d.Store = nil }, domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, deps := testConfig(), valid
			tt.mutate(&cfg, &deps)
			c, err := New(cfg, deps)
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
			if c != nil {
				c.Close()
			}
		})
	}
}
