package config

import "time"

// Config is the root configuration for tabsession.
type Config struct {
	OAuth     OAuthSection     `koanf:"oauth" json:"oauth" yaml:"oauth"`
	Session   SessionSection   `koanf:"session" json:"session" yaml:"session"`
	Lock      LockSection      `koanf:"lock" json:"lock" yaml:"lock"`
	Store     StoreSection     `koanf:"store" json:"store" yaml:"store"`
	Broadcast BroadcastSection `koanf:"broadcast" json:"broadcast" yaml:"broadcast"`
	Log       LogSection       `koanf:"log" json:"log" yaml:"log"`
	Metrics   MetricsSection   `koanf:"metrics" json:"metrics" yaml:"metrics"`
}

// OAuthSection describes the client registration and provider endpoints.
type OAuthSection struct {
	ClientID      string   `koanf:"client_id" json:"client_id" yaml:"client_id"`
	ReturnURL     string   `koanf:"return_url" json:"return_url" yaml:"return_url"`
	PostLogoutURL string   `koanf:"post_logout_url" json:"post_logout_url" yaml:"post_logout_url"`
	Scopes        []string `koanf:"scopes" json:"scopes" yaml:"scopes"`

	AuthorizationEndpoint string `koanf:"authorization_endpoint" json:"authorization_endpoint" yaml:"authorization_endpoint"`
	TokenEndpoint         string `koanf:"token_endpoint" json:"token_endpoint" yaml:"token_endpoint"`
	EndSessionEndpoint    string `koanf:"end_session_endpoint" json:"end_session_endpoint" yaml:"end_session_endpoint"`

	// ExtraParams are added to the authorization URL.
	ExtraParams map[string]string `koanf:"extra_params" json:"extra_params" yaml:"extra_params"`

	Client ClientSection `koanf:"client" json:"client" yaml:"client"`
}

// ClientSection tunes the token endpoint client.
type ClientSection struct {
	Timeout         time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`
	RateLimit       float64       `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	Burst           int           `koanf:"burst" json:"burst" yaml:"burst"`
	BreakerFailures uint32        `koanf:"breaker_failures" json:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" json:"breaker_cooldown" yaml:"breaker_cooldown"`

	// CAFile is a PEM bundle trusted in addition to the system roots.
	CAFile string `koanf:"ca_file" json:"ca_file" yaml:"ca_file"`
}

// SessionSection configures the session controller.
type SessionSection struct {
	Key           string        `koanf:"key" json:"key" yaml:"key"`
	FlowPrefix    string        `koanf:"flow_prefix" json:"flow_prefix" yaml:"flow_prefix"`
	FlowTTL       time.Duration `koanf:"flow_ttl" json:"flow_ttl" yaml:"flow_ttl"`
	RefreshMargin time.Duration `koanf:"refresh_margin" json:"refresh_margin" yaml:"refresh_margin"`
	SettleTimeout time.Duration `koanf:"settle_timeout" json:"settle_timeout" yaml:"settle_timeout"`

	// LockScope is "fixed" (one refresh lock) or "token" (one lock per
	// refresh token).
	LockScope string `koanf:"lock_scope" json:"lock_scope" yaml:"lock_scope"`
}

// LockSection configures the cross-tab lock.
type LockSection struct {
	SafetyInterval time.Duration `koanf:"safety_interval" json:"safety_interval" yaml:"safety_interval"`
	// Timeout is how long a claim stays valid; 0 means claims never lapse.
	Timeout   time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`
	MaxJitter time.Duration `koanf:"max_jitter" json:"max_jitter" yaml:"max_jitter"`
	KeyPrefix string        `koanf:"key_prefix" json:"key_prefix" yaml:"key_prefix"`
}

// StoreSection selects the shared store.
type StoreSection struct {
	// Backend is "file", "badger" or "memory".
	Backend string `koanf:"backend" json:"backend" yaml:"backend"`

	// Dir holds the store data for the file and badger backends.
	Dir string `koanf:"dir" json:"dir" yaml:"dir"`

	Badger BadgerSection `koanf:"badger" json:"badger" yaml:"badger"`
}

// BadgerSection tunes the badger backend.
type BadgerSection struct {
	GCInterval time.Duration `koanf:"gc_interval" json:"gc_interval" yaml:"gc_interval"`
	SyncWrites bool          `koanf:"sync_writes" json:"sync_writes" yaml:"sync_writes"`
}

// BroadcastSection selects the broadcast channel used to announce lock
// claims.
type BroadcastSection struct {
	// Backend is "none", "redis" or "gossip".
	Backend string        `koanf:"backend" json:"backend" yaml:"backend"`
	Redis   RedisSection  `koanf:"redis" json:"redis" yaml:"redis"`
	Gossip  GossipSection `koanf:"gossip" json:"gossip" yaml:"gossip"`
}

// RedisSection configures pub/sub broadcast over Redis.
type RedisSection struct {
	Addr     string        `koanf:"addr" json:"addr" yaml:"addr"`
	Password string        `koanf:"password" json:"password" yaml:"password"`
	DB       int           `koanf:"db" json:"db" yaml:"db"`
	Channel  string        `koanf:"channel" json:"channel" yaml:"channel"`
	Timeout  time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`
}

// GossipSection configures broadcast over memberlist gossip.
type GossipSection struct {
	// NodeName defaults to the tab id.
	NodeName string   `koanf:"node_name" json:"node_name" yaml:"node_name"`
	BindAddr string   `koanf:"bind_addr" json:"bind_addr" yaml:"bind_addr"`
	BindPort int      `koanf:"bind_port" json:"bind_port" yaml:"bind_port"`
	Seeds    []string `koanf:"seeds" json:"seeds" yaml:"seeds"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Format string `koanf:"format" json:"format" yaml:"format"`
}

// MetricsSection configures the metrics endpoint of long-running commands.
type MetricsSection struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `koanf:"addr" json:"addr" yaml:"addr"`
}
