package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/core/lock"
	"github.com/yndnr/tabsession-go/internal/infra/clock"
	"github.com/yndnr/tabsession-go/internal/oauth"
	"github.com/yndnr/tabsession-go/internal/storage"
	"github.com/yndnr/tabsession-go/internal/telemetry/metric"
	"github.com/yndnr/tabsession-go/pkg/pkce"
	"github.com/yndnr/tabsession-go/pkg/stream"
)

// Controller is one tab's session manager.
type Controller struct {
	cfg      Config
	endpoint TokenEndpoint
	redirect Redirector
	store    storage.Store
	flows    *FlowStore
	locker   Locker
	ownLock  *lock.Lock
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metric.Metrics
	location *url.URL

	state *stream.Value[*domain.SessionState]
	token *stream.Value[string]

	// pubMu orders publishes; seq numbers them so persistence, which runs
	// after pubMu is released, never lets an older state overwrite a newer.
	pubMu     sync.Mutex
	seq       uint64
	persistMu sync.Mutex
	persisted uint64

	mu           sync.Mutex
	gen          uint64 // bumped on every re-arm; stale timers do nothing
	epoch        uint64 // bumped on logout; stale exchanges are discarded
	refreshTimer clock.Timer
	expiryTimer  clock.Timer
	settleTimer  clock.Timer
	closed       bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unwatch func()
}

// New creates a Controller and starts resolving its initial state.
// Resolution that needs a token exchange continues in the background.
func New(cfg Config, deps Dependencies, opts ...Option) (*Controller, error) {
	if err := cfg.OAuth.Validate(); err != nil {
		return nil, domain.ErrInvalidConfig.WithDetails(err.Error())
	}
	if cfg.SessionKey == "" || cfg.FlowPrefix == "" {
		return nil, domain.ErrInvalidConfig.WithDetails("session key and flow prefix are required")
	}
	if cfg.RefreshMargin < 0 {
		return nil, domain.ErrInvalidConfig.WithDetails("refresh margin must not be negative")
	}
	if deps.Endpoint == nil || deps.Redirector == nil || deps.Store == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("endpoint, redirector and store are required")
	}

	c := &Controller{
		cfg:      cfg,
		endpoint: deps.Endpoint,
		redirect: deps.Redirector,
		store:    deps.Store,
		locker:   deps.Lock,
		clock:    deps.Clock,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		state:    stream.New[*domain.SessionState](),
		token:    stream.New[string](),
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "session")
	for _, opt := range opts {
		opt(c)
	}

	flows := deps.Flows
	if flows == nil {
		flows = deps.Store
	}
	c.flows = NewFlowStore(flows, cfg.FlowPrefix, cfg.FlowTTL, c.clock)

	if c.locker == nil {
		l, err := lock.New(cfg.Lock, deps.Store,
			lock.WithBroadcast(deps.Broadcast),
			lock.WithClock(c.clock),
			lock.WithLogger(c.logger),
			lock.WithMetrics(deps.Metrics))
		if err != nil {
			return nil, err
		}
		c.locker = l
		c.ownLock = l
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	// Registered first so timers and the token stream follow every state.
	c.state.Subscribe(c.onState)
	c.unwatch = c.store.Watch(c.onStoreChange)

	c.resolve()
	return c, nil
}

// resolve picks the initial state.
func (c *Controller) resolve() {
	if code, state, ok := oauth.CallbackParams(c.location); ok {
		c.logger.Info("completing login from redirect")
		c.spawn(func(ctx context.Context) { c.completeLogin(ctx, code, state) })
		return
	}

	restored := c.restore()
	switch {
	case restored == nil:
		c.publish(nil, false, nil)
	case restored.HasExpired(c.clock.Now()):
		c.logger.Info("restored session expired, refreshing")
		c.spawn(func(ctx context.Context) { c.startupRefresh(ctx, restored) })
	default:
		c.logger.Debug("restored session", "expires_at", restored.ExpiresAt)
		c.publish(restored, false, nil)
	}
}

// Login starts a login: it stores a fresh PKCE verifier under a random
// state token and redirects to the authorization endpoint.
func (c *Controller) Login(ctx context.Context) error {
	pair, err := pkce.NewPair()
	if err != nil {
		return fmt.Errorf("generate pkce pair: %w", err)
	}
	stateToken, err := pkce.NewStateToken()
	if err != nil {
		return fmt.Errorf("generate state token: %w", err)
	}
	if err := c.flows.Save(stateToken, pair.Verifier); err != nil {
		return err
	}

	target, err := oauth.AuthorizationURL(c.cfg.OAuth, stateToken, pair.Challenge)
	if err != nil {
		return domain.ErrInvalidConfig.WithDetails("authorization endpoint").WithCause(err)
	}
	if err := c.redirect.Redirect(ctx, target); err != nil {
		return domain.ErrRedirectFailed.WithCause(err)
	}
	return nil
}

// Logout clears the session in every tab and redirects to the end-session
// endpoint. Exchanges still in flight in this tab are discarded.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()

	c.publish(nil, true, nil)

	target, err := oauth.EndSessionURL(c.cfg.OAuth)
	if err != nil {
		return domain.ErrInvalidConfig.WithDetails("end session endpoint").WithCause(err)
	}
	if err := c.redirect.Redirect(ctx, target); err != nil {
		return domain.ErrRedirectFailed.WithCause(err)
	}
	return nil
}

// OnChange subscribes to the access token. "" means no session. A sink
// subscribed after the state is resolved is called with the current value
// immediately.
func (c *Controller) OnChange(sink func(accessToken string)) func() {
	return c.token.Subscribe(sink)
}

// Subscribe subscribes to the session state. nil means no session.
func (c *Controller) Subscribe(sink func(*domain.SessionState)) func() {
	return c.state.Subscribe(sink)
}

// AccessToken returns the current access token. ok is false until the
// initial state is resolved.
func (c *Controller) AccessToken() (token string, ok bool) {
	return c.token.Latest()
}

// State returns the current session state. ok is false until the initial
// state is resolved.
func (c *Controller) State() (*domain.SessionState, bool) {
	return c.state.Latest()
}

// Close stops timers and change tracking, cancels in-flight exchanges and
// waits for them to return.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.stopTimersLocked()
	c.mu.Unlock()

	c.unwatch()
	c.cancel()
	c.wg.Wait()

	if c.ownLock != nil {
		c.ownLock.Close()
	}
	c.logger.Debug("session controller closed")
	return nil
}

// ============================================================================
// State publication
// ============================================================================

// publish makes state current. When guard is set it is checked under the
// publish lock and a false result drops the state. Reports whether the
// state was published.
func (c *Controller) publish(state *domain.SessionState, persist bool, guard func() bool) bool {
	c.pubMu.Lock()
	if guard != nil && !guard() {
		c.pubMu.Unlock()
		return false
	}
	c.state.Publish(state)
	var seq uint64
	if persist {
		c.seq++
		seq = c.seq
	}
	c.pubMu.Unlock()

	if persist {
		c.persist(seq, state)
	}
	return true
}

func (c *Controller) persist(seq uint64, state *domain.SessionState) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if seq <= c.persisted {
		return
	}
	c.persisted = seq

	var err error
	if state == nil {
		err = c.store.Delete(c.cfg.SessionKey)
	} else {
		var data []byte
		if data, err = state.Marshal(); err == nil {
			err = c.store.Set(c.cfg.SessionKey, data)
		}
	}
	if err != nil {
		c.logger.Error("persist session failed", "error", err)
	}
}

// onState runs first for every published state.
func (c *Controller) onState(state *domain.SessionState) {
	c.rearm(state)
	c.metrics.SetAuthenticated(state != nil)
	if state == nil {
		c.token.Publish("")
	} else {
		c.token.Publish(state.AccessToken)
	}
}

// restore reads the stored session. Absent or malformed data is nil.
func (c *Controller) restore() *domain.SessionState {
	data, err := c.store.Get(c.cfg.SessionKey)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			c.logger.Warn("read session failed", "error", err)
		}
		return nil
	}
	state := domain.UnmarshalSessionState(data)
	if state == nil {
		c.logger.Warn("stored session is malformed, ignoring")
	}
	return state
}

// onStoreChange adopts sessions written by other tabs.
func (c *Controller) onStoreChange(key string) {
	if key != c.cfg.SessionKey {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	state := c.restore()
	c.metrics.Synced()
	c.logger.Debug("session changed in another tab", "authenticated", state != nil)
	c.publish(state, false, nil)
}

// spawn runs fn in a tracked goroutine bound to the controller context.
// It reports false once the controller is closed.
func (c *Controller) spawn(fn func(ctx context.Context)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
	return true
}

// currentEpoch returns a guard that holds while no logout happened and
// the controller is open.
func (c *Controller) currentEpoch() func() bool {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.closed && c.epoch == epoch
	}
}
