package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/tabsession-go/internal/broadcast"
	"github.com/yndnr/tabsession-go/internal/config"
	"github.com/yndnr/tabsession-go/internal/core/lock"
	"github.com/yndnr/tabsession-go/internal/core/session"
	"github.com/yndnr/tabsession-go/internal/infra/tlsroots"
	"github.com/yndnr/tabsession-go/internal/oauth"
	"github.com/yndnr/tabsession-go/internal/storage"
	"github.com/yndnr/tabsession-go/internal/storage/filestore"
	"github.com/yndnr/tabsession-go/internal/storage/memory"
	"github.com/yndnr/tabsession-go/internal/telemetry/metric"
)

// env holds the backends shared by the tabs a command opens.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metric.Metrics

	memory *memory.Backend
	badger *storage.BadgerDB
	hub    *broadcast.Hub
	seeds  []string

	closers []func() error
}

// tab is one participant: a store view and an optional broadcast channel.
type tab struct {
	id      string
	store   storage.Store
	channel broadcast.Channel
	logger  *slog.Logger
}

func newEnv(c *cli.Context) *env {
	registry := prometheus.NewRegistry()
	return &env{
		cfg:      configFrom(c),
		logger:   loggerFrom(c),
		registry: registry,
		metrics:  metric.New(registry),
	}
}

// Close releases everything opened through e, most recent first.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *env) onClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

// newTabID returns a fresh tab identifier.
func newTabID() string {
	return ulid.Make().String()
}

// tabID returns the --tab-id flag or a fresh identifier.
func tabID(c *cli.Context) string {
	if id := c.String("tab-id"); id != "" {
		return id
	}
	return newTabID()
}

// openTab opens the store view and broadcast channel of tab id.
func (e *env) openTab(ctx context.Context, id string) (*tab, error) {
	t := &tab{id: id, logger: e.logger.With("tab_id", id)}

	store, err := e.openStore(id, t.logger)
	if err != nil {
		return nil, err
	}
	t.store = store

	channel, err := e.openChannel(ctx, id, t.logger)
	if err != nil {
		return nil, err
	}
	t.channel = channel
	return t, nil
}

func (e *env) openStore(id string, logger *slog.Logger) (storage.Store, error) {
	sc := e.cfg.Store
	switch sc.Backend {
	case config.StoreMemory:
		if e.memory == nil {
			e.memory = memory.NewBackend()
		}
		return e.memory.Open(id), nil

	case config.StoreBadger:
		if e.badger == nil {
			bc := storage.DefaultBadgerConfig(filepath.Join(sc.Dir, "badger"))
			bc.GCInterval = sc.Badger.GCInterval.String()
			bc.SyncWrites = sc.Badger.SyncWrites
			db, err := storage.OpenBadger(bc, e.logger)
			if err != nil {
				return nil, err
			}
			db.RegisterMetrics(e.registry)
			e.badger = db
			e.onClose(db.Close)
		}
		view := e.badger.Open(id)
		e.onClose(view.Close)
		return view, nil

	default:
		s, err := filestore.Open(sc.Dir, id, filestore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		e.onClose(s.Close)
		return s, nil
	}
}

// openChannel returns the broadcast channel of tab id. With no broadcast
// backend, tabs of the same process still share an in-process hub.
func (e *env) openChannel(ctx context.Context, id string, logger *slog.Logger) (broadcast.Channel, error) {
	bc := e.cfg.Broadcast
	switch bc.Backend {
	case config.BroadcastRedis:
		r, err := broadcast.NewRedis(ctx, broadcast.RedisConfig{
			Addr:     bc.Redis.Addr,
			Password: bc.Redis.Password,
			DB:       bc.Redis.DB,
			Channel:  bc.Redis.Channel,
			Timeout:  bc.Redis.Timeout,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		e.onClose(r.Close)
		return r, nil

	case config.BroadcastGossip:
		gc := broadcast.GossipConfig{
			NodeName: id,
			BindAddr: bc.Gossip.BindAddr,
			BindPort: bc.Gossip.BindPort,
			Seeds:    bc.Gossip.Seeds,
			Logger:   logger,
		}
		if bc.Gossip.NodeName != "" && len(e.seeds) == 0 {
			gc.NodeName = bc.Gossip.NodeName
		}
		// Later tabs of this process bind a free port and join the first.
		if len(e.seeds) > 0 {
			gc.BindPort = 0
			gc.Seeds = append(append([]string(nil), e.seeds...), bc.Gossip.Seeds...)
		}
		g, err := broadcast.NewGossip(gc)
		if err != nil {
			return nil, err
		}
		if len(e.seeds) == 0 {
			e.seeds = []string{g.Addr()}
		}
		e.onClose(g.Close)
		return g, nil

	default:
		if e.hub == nil {
			e.hub = broadcast.NewHub()
		}
		ep := e.hub.Join()
		e.onClose(ep.Close)
		return ep, nil
	}
}

// newLock builds a lock over the tab's store.
func (e *env) newLock(t *tab) (*lock.Lock, error) {
	l, err := lock.New(lockConfig(e.cfg), t.store,
		lock.WithBroadcast(t.channel),
		lock.WithLogger(t.logger),
		lock.WithMetrics(e.metrics))
	if err != nil {
		return nil, err
	}
	e.onClose(func() error {
		l.Close()
		return nil
	})
	return l, nil
}

// newController builds a session controller for the tab.
func (e *env) newController(t *tab, redirect session.Redirector, opts ...session.Option) (*session.Controller, error) {
	if err := config.VerifyOAuth(e.cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	scfg, err := sessionConfig(e.cfg)
	if err != nil {
		return nil, err
	}

	clientOpts := []oauth.ClientOption{
		oauth.WithLogger(t.logger),
		oauth.WithMetrics(e.metrics),
	}
	if caFile := e.cfg.OAuth.Client.CAFile; caFile != "" {
		pool, err := tlsroots.LoadFile(caFile)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, oauth.WithHTTPClient(&http.Client{
			Timeout: e.cfg.OAuth.Client.Timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: pool.TLSConfig(),
			},
		}))
	}
	client := oauth.NewClient(scfg.OAuth, clientConfig(e.cfg), clientOpts...)

	ctrl, err := session.New(scfg, session.Dependencies{
		Endpoint:   client,
		Redirector: redirect,
		Store:      t.store,
		Broadcast:  t.channel,
		Logger:     t.logger,
		Metrics:    e.metrics,
	}, opts...)
	if err != nil {
		return nil, err
	}
	e.onClose(ctrl.Close)
	return ctrl, nil
}

// ============================================================================
// Config mapping
// ============================================================================

func oauthConfig(cfg *config.Config) oauth.Config {
	oc := cfg.OAuth
	return oauth.Config{
		ClientID:                 oc.ClientID,
		ReturnURL:                oc.ReturnURL,
		PostLogoutURL:            oc.PostLogoutURL,
		Scopes:                   oc.ScopeList(),
		AuthorizationEndpoint:    oc.AuthorizationEndpoint,
		TokenEndpoint:            oc.TokenEndpoint,
		EndSessionEndpoint:       oc.EndSessionEndpoint,
		ExtraAuthorizationParams: oc.ExtraParams,
	}
}

func clientConfig(cfg *config.Config) oauth.ClientConfig {
	cc := cfg.OAuth.Client
	return oauth.ClientConfig{
		Timeout:         cc.Timeout,
		RateLimit:       cc.RateLimit,
		Burst:           cc.Burst,
		BreakerFailures: cc.BreakerFailures,
		BreakerCooldown: cc.BreakerCooldown,
	}
}

func lockConfig(cfg *config.Config) lock.Config {
	return lock.Config{
		SafetyInterval: cfg.Lock.SafetyInterval,
		Timeout:        cfg.Lock.Timeout,
		MaxJitter:      cfg.Lock.MaxJitter,
		KeyPrefix:      cfg.Lock.KeyPrefix,
	}
}

func sessionConfig(cfg *config.Config) (session.Config, error) {
	scope, err := lock.ParseScope(cfg.Session.LockScope)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		OAuth:         oauthConfig(cfg),
		SessionKey:    cfg.Session.Key,
		FlowPrefix:    cfg.Session.FlowPrefix,
		FlowTTL:       cfg.Session.FlowTTL,
		RefreshMargin: cfg.Session.RefreshMargin,
		SettleTimeout: cfg.Session.SettleTimeout,
		LockScope:     scope,
		Lock:          lockConfig(cfg),
	}, nil
}

// printRedirect returns a redirector that prints the target URL instead
// of navigating.
func printRedirect(w io.Writer, message string) session.Redirector {
	return session.RedirectFunc(func(_ context.Context, url string) error {
		_, err := fmt.Fprintf(w, "%s\n%s\n", message, url)
		return err
	})
}
