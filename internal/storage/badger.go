package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/pb"
	"github.com/prometheus/client_golang/prometheus"
)

// keyPrefix namespaces every key this package writes into Badger.
var keyPrefix = []byte("tabsession/")

// BadgerConfig contains Badger tuning parameters.
type BadgerConfig struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps the database in RAM only.
	InMemory bool

	// GCInterval is the interval between automatic value log GC runs.
	// Default: 10m
	GCInterval string

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 8MB
	CacheSize int64

	// SyncWrites enables fsync after each write.
	// Default: false
	SyncWrites bool
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:         dir,
		GCInterval:  "10m",
		GCThreshold: 0.5,
		CacheSize:   8 << 20, // 8MB
		SyncWrites:  false,
	}
}

// BadgerStats holds storage statistics.
type BadgerStats struct {
	LSMSize      uint64
	ValueLogSize uint64
	TotalSize    uint64
	LastGCTime   int64 // Unix milliseconds
	GCRuns       uint64
}

// BadgerDB is a Badger database shared by per-tab views.
//
// A single change feed subscription dispatches every committed write to
// the views that did not make it.
type BadgerDB struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	mu    sync.Mutex
	views map[*BadgerStore]struct{}

	lastGCTime atomic.Int64
	gcRuns     atomic.Uint64

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge
	metricsGCRuns       prometheus.Counter

	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// OpenBadger opens (or creates) a Badger database.
func OpenBadger(cfg BadgerConfig, logger *slog.Logger) (*BadgerDB, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &BadgerDB{
		db:     db,
		cfg:    cfg,
		logger: logger,
		views:  make(map[*BadgerStore]struct{}),
		cancel: cancel,
		stopCh: make(chan struct{}),
	}

	b.wg.Add(2)
	go b.subscribeLoop(ctx)
	go b.gcLoop()

	logger.Info("badger store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"gc_interval", cfg.GCInterval)

	return b, nil
}

// Open returns the view of the tab identified by tabID.
func (b *BadgerDB) Open(tabID string) *BadgerStore {
	s := &BadgerStore{parent: b, tabID: tabID}
	b.mu.Lock()
	b.views[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Close stops background work and closes the database.
func (b *BadgerDB) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.logger.Info("shutting down badger store")

	b.cancel()
	close(b.stopCh)
	b.wg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// GC runs value log garbage collection until nothing is left to rewrite.
func (b *BadgerDB) GC() error {
	if b.cfg.InMemory {
		return nil
	}
	start := time.Now()
	runs := 0
	for {
		err := b.db.RunValueLogGC(b.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			return fmt.Errorf("gc: %w", err)
		}
		runs++
	}

	b.lastGCTime.Store(time.Now().UnixMilli())
	b.gcRuns.Add(1)
	if b.metricsGCRuns != nil {
		b.metricsGCRuns.Inc()
		b.metricsLastGCTime.Set(float64(time.Now().Unix()))
	}

	b.logger.Debug("gc completed", "rewrites", runs, "elapsed", time.Since(start))
	return nil
}

// Stats returns storage statistics.
func (b *BadgerDB) Stats() BadgerStats {
	lsm, vlog := b.db.Size()
	return BadgerStats{
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		TotalSize:    uint64(lsm + vlog),
		LastGCTime:   b.lastGCTime.Load(),
		GCRuns:       b.gcRuns.Load(),
	}
}

// RegisterMetrics registers Badger gauges with registry.
// Returns the database for method chaining.
func (b *BadgerDB) RegisterMetrics(registry prometheus.Registerer) *BadgerDB {
	b.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabsession",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	b.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabsession",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})
	b.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tabsession",
		Subsystem: "badger",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last Badger GC run",
	})
	b.metricsGCRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tabsession",
		Subsystem: "badger",
		Name:      "gc_runs_total",
		Help:      "Total Badger garbage collection runs",
	})

	registry.MustRegister(
		b.metricsLSMSize,
		b.metricsValueLogSize,
		b.metricsLastGCTime,
		b.metricsGCRuns,
	)
	b.updateSizeMetrics()

	return b
}

func (b *BadgerDB) updateSizeMetrics() {
	if b.metricsLSMSize == nil {
		return
	}
	stats := b.Stats()
	b.metricsLSMSize.Set(float64(stats.LSMSize))
	b.metricsValueLogSize.Set(float64(stats.ValueLogSize))
}

// subscribeLoop feeds committed writes to the views.
func (b *BadgerDB) subscribeLoop(ctx context.Context) {
	defer b.wg.Done()

	err := b.db.Subscribe(ctx, func(kvs *badger.KVList) error {
		for _, kv := range kvs.Kv {
			b.dispatch(kv)
		}
		return nil
	}, []pb.Match{{Prefix: keyPrefix}})

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("badger subscription ended", "error", err)
	}
}

func (b *BadgerDB) dispatch(kv *pb.KV) {
	env, err := DecodeEnvelope(kv.Value)
	if err != nil {
		b.logger.Warn("ignoring foreign badger value", "key", string(kv.Key))
		return
	}
	key := string(kv.Key[len(keyPrefix):])

	b.mu.Lock()
	targets := make([]*BadgerStore, 0, len(b.views))
	for v := range b.views {
		if v.tabID != env.Origin {
			targets = append(targets, v)
		}
	}
	b.mu.Unlock()

	for _, v := range targets {
		v.watchers.Notify(key)
	}
}

// gcLoop runs periodic garbage collection and refreshes size gauges.
func (b *BadgerDB) gcLoop() {
	defer b.wg.Done()

	interval, err := time.ParseDuration(b.cfg.GCInterval)
	if err != nil || interval <= 0 {
		b.logger.Error("invalid gc_interval, using default 10m", "value", b.cfg.GCInterval)
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.GC(); err != nil {
				b.logger.Error("auto gc failed", "error", err)
			}
			b.updateSizeMetrics()

		case <-b.stopCh:
			return
		}
	}
}

// ============================================================================
// View
// ============================================================================

// BadgerStore is one tab's view of a BadgerDB. It implements Store.
type BadgerStore struct {
	parent   *BadgerDB
	tabID    string
	watchers WatcherSet
}

// Get returns the value for key.
func (s *BadgerStore) Get(key string) ([]byte, error) {
	if s.parent.closed.Load() {
		return nil, ErrClosed
	}

	var raw []byte
	err := s.parent.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		s.parent.logger.Warn("malformed value read as absent", "key", key)
		return nil, ErrKeyNotFound
	}
	if env.Deleted {
		return nil, ErrKeyNotFound
	}
	return env.Payload, nil
}

// Set stores value under key.
func (s *BadgerStore) Set(key string, value []byte) error {
	return s.write(key, Envelope{Origin: s.tabID, Payload: value})
}

// Delete writes a tombstone for key.
func (s *BadgerStore) Delete(key string) error {
	return s.write(key, Envelope{Origin: s.tabID, Deleted: true})
}

// Watch registers fn for changes made by other views.
func (s *BadgerStore) Watch(fn func(key string)) func() {
	return s.watchers.Add(fn)
}

// Close detaches the view from the database.
func (s *BadgerStore) Close() error {
	s.parent.mu.Lock()
	delete(s.parent.views, s)
	s.parent.mu.Unlock()
	return nil
}

func (s *BadgerStore) write(key string, env Envelope) error {
	if s.parent.closed.Load() {
		return ErrClosed
	}
	return s.parent.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), env.Encode())
	})
}

func badgerKey(key string) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(key))
	k = append(k, keyPrefix...)
	return append(k, key...)
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
