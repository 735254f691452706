package config

import "time"

// Store backends.
const (
	StoreFile   = "file"
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// Broadcast backends.
const (
	BroadcastNone   = "none"
	BroadcastRedis  = "redis"
	BroadcastGossip = "gossip"
)

// Default configuration values.
const (
	DefaultSessionKey    = "session_state"
	DefaultFlowPrefix    = "oidc:"
	DefaultFlowTTL       = 10 * time.Minute
	DefaultRefreshMargin = 30 * time.Second
	DefaultSettleTimeout = 10 * time.Second
	DefaultLockScope     = "fixed"

	DefaultSafetyInterval = time.Second
	DefaultLockTimeout    = 5 * time.Second
	DefaultMaxJitter      = time.Second
	DefaultLockKeyPrefix  = "lock:"

	DefaultStoreBackend = StoreFile
	DefaultStoreDir     = ".tabsession"
	DefaultGCInterval   = 10 * time.Minute

	DefaultBroadcastBackend = BroadcastNone
	DefaultRedisAddr        = "127.0.0.1:6379"
	DefaultRedisChannel     = "tabsession:broadcast"
	DefaultRedisTimeout     = 3 * time.Second
	DefaultGossipBindAddr   = "127.0.0.1"
	DefaultGossipBindPort   = 7946

	DefaultClientTimeout   = 10 * time.Second
	DefaultRateLimit       = 5
	DefaultBurst           = 2
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// DefaultScopes are requested when no scopes are configured. They are not
// preset in Default() because a configured list must replace them, not
// overlay them.
var DefaultScopes = []string{"openid", "profile", "offline_access"}

// ScopeList returns the configured scopes or DefaultScopes.
func (s OAuthSection) ScopeList() []string {
	if len(s.Scopes) == 0 {
		return append([]string(nil), DefaultScopes...)
	}
	return s.Scopes
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		OAuth: OAuthSection{
			Client: ClientSection{
				Timeout:         DefaultClientTimeout,
				RateLimit:       DefaultRateLimit,
				Burst:           DefaultBurst,
				BreakerFailures: DefaultBreakerFailures,
				BreakerCooldown: DefaultBreakerCooldown,
			},
		},
		Session: SessionSection{
			Key:           DefaultSessionKey,
			FlowPrefix:    DefaultFlowPrefix,
			FlowTTL:       DefaultFlowTTL,
			RefreshMargin: DefaultRefreshMargin,
			SettleTimeout: DefaultSettleTimeout,
			LockScope:     DefaultLockScope,
		},
		Lock: LockSection{
			SafetyInterval: DefaultSafetyInterval,
			Timeout:        DefaultLockTimeout,
			MaxJitter:      DefaultMaxJitter,
			KeyPrefix:      DefaultLockKeyPrefix,
		},
		Store: StoreSection{
			Backend: DefaultStoreBackend,
			Dir:     DefaultStoreDir,
			Badger: BadgerSection{
				GCInterval: DefaultGCInterval,
			},
		},
		Broadcast: BroadcastSection{
			Backend: DefaultBroadcastBackend,
			Redis: RedisSection{
				Addr:    DefaultRedisAddr,
				Channel: DefaultRedisChannel,
				Timeout: DefaultRedisTimeout,
			},
			Gossip: GossipSection{
				BindAddr: DefaultGossipBindAddr,
				BindPort: DefaultGossipBindPort,
			},
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
