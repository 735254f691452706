package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/core/lock"
	"github.com/yndnr/tabsession-go/internal/storage"
	"github.com/yndnr/tabsession-go/internal/telemetry/logger"
)

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the stored session and the refresh lock",
		Action: runStatus,
	}
}

// sessionView is the printable form of a session. Tokens are masked.
type sessionView struct {
	Authenticated bool       `json:"authenticated" yaml:"authenticated"`
	AccessToken   string     `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	RefreshToken  string     `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	ExpiresIn     string     `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
	Expired       bool       `json:"expired" yaml:"expired"`

	LockKey       string     `json:"lock_key,omitempty" yaml:"lock_key,omitempty"`
	LockHeld      bool       `json:"lock_held" yaml:"lock_held"`
	LockHolder    int64      `json:"lock_holder,omitempty" yaml:"lock_holder,omitempty"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty" yaml:"lock_expires_at,omitempty"`
}

func newSessionView(state *domain.SessionState, now time.Time) *sessionView {
	if state == nil {
		return &sessionView{}
	}
	expiry := state.Expiry()
	v := &sessionView{
		Authenticated: !state.HasExpired(now),
		AccessToken:   logger.RedactString(state.AccessToken),
		RefreshToken:  logger.RedactString(state.RefreshToken),
		ExpiresAt:     &expiry,
		Expired:       state.HasExpired(now),
	}
	if !v.Expired {
		v.ExpiresIn = state.ExpiresIn(now).Round(time.Second).String()
	}
	return v
}

// withLock adds the state of the refresh lock slot as seen by l.
func (v *sessionView) withLock(l *lock.Lock, key string, now time.Time) {
	v.LockKey = key
	rec := l.Record(key)
	if !rec.Live(now) {
		return
	}
	v.LockHeld = true
	v.LockHolder = rec.Holder
	if rec.ExpiresAt > 0 {
		at := time.UnixMilli(rec.ExpiresAt)
		v.LockExpiresAt = &at
	}
}

func runStatus(c *cli.Context) error {
	e := newEnv(c)
	defer e.Close()

	t, err := e.openTab(c.Context, tabID(c))
	if err != nil {
		return err
	}

	state, err := readSession(t.store, e.cfg.Session.Key)
	if err != nil {
		return err
	}

	now := time.Now()
	view := newSessionView(state, now)

	scope, err := lock.ParseScope(e.cfg.Session.LockScope)
	if err != nil {
		return err
	}
	if state != nil || scope == lock.ScopeFixed {
		l, err := e.newLock(t)
		if err != nil {
			return err
		}
		refreshToken := ""
		if state != nil {
			refreshToken = state.RefreshToken
		}
		view.withLock(l, scope.Key(refreshToken), now)
	}

	return render(c, view)
}

// readSession reads the stored session. Malformed content reads as no
// session.
func readSession(store storage.Store, key string) (*domain.SessionState, error) {
	data, err := store.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return domain.UnmarshalSessionState(data), nil
}
