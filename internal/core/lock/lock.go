package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/tabsession-go/internal/broadcast"
	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/infra/clock"
	"github.com/yndnr/tabsession-go/internal/storage"
	"github.com/yndnr/tabsession-go/internal/telemetry/metric"
)

// Config configures a Lock.
type Config struct {
	// SafetyInterval is how long a claimant waits before deciding.
	// Must exceed the worst-case propagation delay between tabs.
	SafetyInterval time.Duration

	// Timeout is how long a claim stays valid. 0 disables expiry.
	Timeout time.Duration

	// MaxJitter bounds the random delay before writing a claim.
	// 0 writes immediately.
	MaxJitter time.Duration

	// KeyPrefix is prepended to a lock key to form its store slot.
	KeyPrefix string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SafetyInterval: time.Second,
		Timeout:        5 * time.Second,
		MaxJitter:      time.Second,
		KeyPrefix:      "lock:",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SafetyInterval <= 0 {
		return fmt.Errorf("safety interval must be positive")
	}
	if c.Timeout < 0 || c.MaxJitter < 0 {
		return fmt.Errorf("timeout and jitter must not be negative")
	}
	if c.Timeout > 0 && c.Timeout <= c.SafetyInterval+c.MaxJitter {
		return fmt.Errorf("timeout %s must exceed safety interval plus jitter (%s)",
			c.Timeout, c.SafetyInterval+c.MaxJitter)
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("key prefix is required")
	}
	return nil
}

// message is a claim or release announced on the broadcast channel.
// A nil Record announces a release.
type message struct {
	Slot   string             `json:"slot"`
	Record *domain.LockRecord `json:"record"`
}

// Lock is one tab's handle on the shared lock slots.
type Lock struct {
	cfg     Config
	store   storage.Store
	channel broadcast.Channel
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metric.Metrics

	mu sync.Mutex
	// cache is the latest record observed per slot; a present nil entry
	// means the slot was observed free.
	cache map[string]*domain.LockRecord
	// owned holds the claims this tab won, by key.
	owned map[string]*domain.LockRecord

	cancelWatch     func()
	cancelBroadcast func()
}

// Option configures a Lock.
type Option func(*Lock)

// WithBroadcast announces claims on ch.
func WithBroadcast(ch broadcast.Channel) Option {
	return func(l *Lock) {
		l.channel = ch
	}
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(l *Lock) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lock) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records acquisition outcomes.
func WithMetrics(m *metric.Metrics) Option {
	return func(l *Lock) {
		l.metrics = m
	}
}

// New creates a Lock over store and starts tracking changes to its slots.
func New(cfg Config, store storage.Store, opts ...Option) (*Lock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.ErrInvalidConfig.WithDetails(err.Error())
	}
	if store == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("lock: store is required")
	}

	l := &Lock{
		cfg:    cfg,
		store:  store,
		clock:  clock.Real(),
		logger: slog.Default(),
		cache:  make(map[string]*domain.LockRecord),
		owned:  make(map[string]*domain.LockRecord),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.cancelWatch = store.Watch(l.onStoreChange)
	if l.channel != nil {
		l.cancelBroadcast = l.channel.Subscribe(l.onMessage)
	}
	return l, nil
}

// Close stops tracking changes. Claims still held are left to expire.
func (l *Lock) Close() {
	l.cancelWatch()
	if l.cancelBroadcast != nil {
		l.cancelBroadcast()
	}
}

// Acquire tries to become the sole holder of key. It returns false when
// another tab holds the key or wins a concurrent claim. A cancelled ctx
// withdraws the claim and returns ctx.Err().
func (l *Lock) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := l.acquire(ctx, key)
	switch {
	case err != nil:
		l.metrics.LockAcquired(metric.LockError)
	case ok:
		l.metrics.LockAcquired(metric.LockGranted)
	default:
		l.metrics.LockAcquired(metric.LockDenied)
	}
	return ok, err
}

func (l *Lock) acquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, domain.ErrInvalidArgument.WithDetails("lock: key is required")
	}
	slot := l.cfg.KeyPrefix + key

	if l.heldElsewhere(slot) {
		l.logger.Debug("lock held", "key", key)
		return false, nil
	}

	if l.cfg.MaxJitter > 0 {
		if err := clock.Sleep(ctx, l.clock, rand.N(l.cfg.MaxJitter)); err != nil {
			return false, err
		}
		if l.heldElsewhere(slot) {
			l.logger.Debug("lock claimed during jitter", "key", key)
			return false, nil
		}
	}

	claim := &domain.LockRecord{Key: key, Holder: newHolderID()}
	if l.cfg.Timeout > 0 {
		claim.ExpiresAt = l.clock.Now().Add(l.cfg.Timeout).UnixMilli()
	}
	if err := l.write(slot, claim); err != nil {
		return false, err
	}

	if err := clock.Sleep(ctx, l.clock, l.cfg.SafetyInterval); err != nil {
		l.withdraw(slot, claim)
		return false, err
	}

	current := l.refresh(slot)
	if !current.Same(claim) {
		l.logger.Debug("lock lost to concurrent claim", "key", key)
		return false, nil
	}

	l.mu.Lock()
	l.owned[key] = claim
	l.mu.Unlock()

	l.logger.Debug("lock acquired", "key", key, "holder", claim.Holder)
	return true, nil
}

// Release drops this tab's hold on key. Releasing a key this tab does not
// hold is a no-op, as is releasing after another tab took over an
// expired claim.
func (l *Lock) Release(key string) error {
	slot := l.cfg.KeyPrefix + key

	l.mu.Lock()
	claim := l.owned[key]
	delete(l.owned, key)
	l.mu.Unlock()

	if claim == nil {
		return nil
	}
	if !l.refresh(slot).Same(claim) {
		l.logger.Debug("lock already taken over", "key", key)
		return nil
	}
	if err := l.clear(slot); err != nil {
		return err
	}

	l.metrics.LockReleased()
	l.logger.Debug("lock released", "key", key)
	return nil
}

// Held reports whether key is currently claimed by any tab, as far as
// this tab has observed.
func (l *Lock) Held(key string) bool {
	return l.cached(l.cfg.KeyPrefix + key).Live(l.clock.Now())
}

// Owns reports whether this tab holds key.
func (l *Lock) Owns(key string) bool {
	l.mu.Lock()
	claim := l.owned[key]
	l.mu.Unlock()
	return claim.Live(l.clock.Now())
}

// Record returns the last observed record for key, or nil.
func (l *Lock) Record(key string) *domain.LockRecord {
	rec := l.cached(l.cfg.KeyPrefix + key)
	if rec == nil {
		return nil
	}
	out := *rec
	return &out
}

func (l *Lock) heldElsewhere(slot string) bool {
	return l.cached(slot).Live(l.clock.Now())
}

// cached returns the cached record for slot, reading the store the first
// time a slot is looked at.
func (l *Lock) cached(slot string) *domain.LockRecord {
	l.mu.Lock()
	rec, ok := l.cache[slot]
	l.mu.Unlock()
	if ok {
		return rec
	}
	return l.refresh(slot)
}

// refresh replaces the cached record for slot with the store's current
// value. On read errors the cached value is kept.
func (l *Lock) refresh(slot string) *domain.LockRecord {
	data, err := l.store.Get(slot)
	var rec *domain.LockRecord
	switch {
	case err == nil:
		rec = domain.UnmarshalLockRecord(data)
	case errors.Is(err, storage.ErrKeyNotFound):
	default:
		l.logger.Warn("lock slot read failed", "slot", slot, "error", err)
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.cache[slot]
	}

	l.mu.Lock()
	l.cache[slot] = rec
	l.mu.Unlock()
	return rec
}

// write records claim locally, then in the store and on the channel.
func (l *Lock) write(slot string, claim *domain.LockRecord) error {
	data, err := claim.Marshal()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.cache[slot] = claim
	l.mu.Unlock()

	if err := l.store.Set(slot, data); err != nil {
		l.mu.Lock()
		if l.cache[slot].Same(claim) {
			delete(l.cache, slot)
		}
		l.mu.Unlock()
		return domain.ErrStorageError.WithDetails("lock: write claim").WithCause(err)
	}

	l.announce(slot, claim)
	return nil
}

// clear empties slot locally, in the store and on the channel.
func (l *Lock) clear(slot string) error {
	l.mu.Lock()
	l.cache[slot] = nil
	l.mu.Unlock()

	if err := l.store.Delete(slot); err != nil {
		return domain.ErrStorageError.WithDetails("lock: clear claim").WithCause(err)
	}
	l.announce(slot, nil)
	return nil
}

// withdraw clears slot if claim is still the current record.
func (l *Lock) withdraw(slot string, claim *domain.LockRecord) {
	if !l.refresh(slot).Same(claim) {
		return
	}
	if err := l.clear(slot); err != nil {
		l.logger.Warn("lock withdraw failed", "slot", slot, "error", err)
	}
}

func (l *Lock) announce(slot string, rec *domain.LockRecord) {
	if l.channel == nil {
		return
	}
	data, err := json.Marshal(message{Slot: slot, Record: rec})
	if err != nil {
		return
	}
	if err := l.channel.Publish(data); err != nil {
		l.logger.Debug("lock broadcast failed", "slot", slot, "error", err)
	}
}

func (l *Lock) onStoreChange(key string) {
	if !strings.HasPrefix(key, l.cfg.KeyPrefix) {
		return
	}
	l.refresh(key)
}

func (l *Lock) onMessage(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if !strings.HasPrefix(msg.Slot, l.cfg.KeyPrefix) {
		return
	}
	if msg.Record != nil && (msg.Record.Key == "" || msg.Record.Holder == 0) {
		return
	}

	l.mu.Lock()
	l.cache[msg.Slot] = msg.Record
	l.mu.Unlock()
}

// newHolderID returns a random non-zero holder id.
func newHolderID() int64 {
	return rand.Int64N(1<<53-1) + 1
}
