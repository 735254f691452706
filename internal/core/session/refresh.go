package session

import (
	"context"
	"errors"

	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/infra/clock"
)

// completeLogin exchanges the authorization code from the redirect.
// Any failure leaves the tab without a session.
func (c *Controller) completeLogin(ctx context.Context, code, stateToken string) {
	guard := c.currentEpoch()

	verifier, err := c.flows.Consume(stateToken)
	if err != nil {
		c.logger.Warn("login callback rejected", "error", err)
		c.publish(nil, true, guard)
		return
	}

	resp, err := c.endpoint.ExchangeAuthorizationCode(ctx, code, verifier)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("authorization code exchange failed", "error", err)
		c.publish(nil, true, guard)
		return
	}

	state := domain.FromTokenResponse(resp, c.clock.Now())
	if c.publish(state, true, guard) {
		c.logger.Info("login completed", "expires_at", state.ExpiresAt)
	}
}

// startupRefresh refreshes a restored session that had already expired.
// If another tab holds the refresh lock the state stays unresolved until
// that tab's result arrives through the store or the settle timer fires.
func (c *Controller) startupRefresh(ctx context.Context, restored *domain.SessionState) {
	guard := c.currentEpoch()

	next, persist, err := c.refresh(ctx, restored)
	switch {
	case errors.Is(err, domain.ErrExchangeInProgress):
		c.logger.Info("refresh in progress in another tab")
		c.armSettle()
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("startup refresh failed", "error", err)
		c.publish(nil, true, guard)
	default:
		c.publish(next, persist, guard)
	}
}

// scheduledRefresh runs when the refresh timer fires. Failures are left
// to the expiry timer.
func (c *Controller) scheduledRefresh(ctx context.Context, current *domain.SessionState) {
	guard := c.currentEpoch()

	next, persist, err := c.refresh(ctx, current)
	if err != nil {
		if errors.Is(err, domain.ErrExchangeInProgress) {
			c.logger.Debug("refresh in progress in another tab")
		} else if ctx.Err() == nil {
			c.logger.Warn("scheduled refresh failed", "error", err)
		}
		return
	}
	if c.publish(next, persist, guard) {
		c.logger.Debug("session refreshed", "expires_at", next.ExpiresAt)
	}
}

// refresh exchanges current's refresh token under the refresh lock. When
// the store already holds a different live session once the lock is held,
// another tab refreshed first: that session is returned with persist false
// and no exchange is made.
func (c *Controller) refresh(ctx context.Context, current *domain.SessionState) (next *domain.SessionState, persist bool, err error) {
	key := c.cfg.LockScope.Key(current.RefreshToken)

	ok, err := c.locker.Acquire(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, domain.ErrExchangeInProgress
	}
	defer func() {
		if rerr := c.locker.Release(key); rerr != nil {
			c.logger.Warn("release refresh lock failed", "error", rerr)
		}
	}()

	if stored := c.restore(); stored != nil && !stored.Equal(current) && !stored.HasExpired(c.clock.Now()) {
		c.logger.Debug("session already refreshed by another tab")
		return stored, false, nil
	}

	resp, err := c.endpoint.ExchangeRefreshToken(ctx, current.RefreshToken)
	if err != nil {
		return nil, false, err
	}

	next = domain.FromTokenResponse(resp, c.clock.Now())
	if next.RefreshToken == "" {
		// Providers without rotation may omit the refresh token.
		next.RefreshToken = current.RefreshToken
	}
	return next, true, nil
}

// ============================================================================
// Timers
// ============================================================================

// rearm cancels pending timers and, for a session, schedules the refresh
// at expiry minus the margin and the expiry itself.
func (c *Controller) rearm(state *domain.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.stopTimersLocked()
	if state == nil || c.closed {
		return
	}

	gen := c.gen
	untilExpiry := state.ExpiresIn(c.clock.Now())
	untilRefresh := untilExpiry - c.cfg.RefreshMargin
	if untilExpiry < 0 {
		untilExpiry = 0
	}
	if untilRefresh < 0 {
		untilRefresh = 0
	}

	c.refreshTimer = c.clock.AfterFunc(untilRefresh, func() { c.onRefreshTimer(gen, state) })
	c.expiryTimer = c.clock.AfterFunc(untilExpiry, func() { c.onExpiryTimer(gen) })
}

func (c *Controller) stopTimersLocked() {
	for _, t := range []*clock.Timer{&c.refreshTimer, &c.expiryTimer, &c.settleTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

func (c *Controller) onRefreshTimer(gen uint64, state *domain.SessionState) {
	if !c.isCurrent(gen) {
		return
	}
	// Off the timer goroutine: the exchange waits on the lock.
	c.spawn(func(ctx context.Context) { c.scheduledRefresh(ctx, state) })
}

func (c *Controller) onExpiryTimer(gen uint64) {
	expired := c.publish(nil, true, func() bool { return c.isCurrent(gen) })
	if expired {
		c.metrics.Expired()
		c.logger.Info("session expired")
	}
}

// armSettle schedules a re-read of the store for a tab whose startup
// refresh was left to another tab.
func (c *Controller) armSettle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.cfg.SettleTimeout <= 0 {
		return
	}
	gen := c.gen
	c.settleTimer = c.clock.AfterFunc(c.cfg.SettleTimeout, func() { c.settle(gen) })
}

// settle resolves a still-unresolved tab from the store: a live session is
// adopted, anything else becomes no session. Nothing is persisted.
func (c *Controller) settle(gen uint64) {
	stored := c.restore()
	if stored != nil && stored.HasExpired(c.clock.Now()) {
		stored = nil
	}
	c.publish(stored, false, func() bool {
		if !c.isCurrent(gen) {
			return false
		}
		_, resolved := c.state.Latest()
		return !resolved
	})
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.gen == gen
}
