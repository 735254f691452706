package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yndnr/tabsession-go/internal/core/lock"
	"github.com/yndnr/tabsession-go/internal/telemetry/logger"
)

// Verify validates the configuration. Every problem found is reported.
func Verify(cfg *Config) error {
	return errors.Join(verifyOAuth(&cfg.OAuth), VerifyLocal(cfg))
}

// VerifyLocal validates every section except the provider one.
func VerifyLocal(cfg *Config) error {
	return errors.Join(
		verifySession(&cfg.Session),
		verifyLock(&cfg.Lock),
		verifyStore(&cfg.Store),
		verifyBroadcast(&cfg.Broadcast),
		verifyLog(&cfg.Log),
	)
}

// VerifyOAuth validates only the provider section. Commands that never
// talk to the provider skip it.
func VerifyOAuth(cfg *Config) error {
	return verifyOAuth(&cfg.OAuth)
}

func verifyOAuth(cfg *OAuthSection) error {
	var errs []error
	required := []struct {
		name, value string
	}{
		{"oauth.client_id", cfg.ClientID},
		{"oauth.return_url", cfg.ReturnURL},
		{"oauth.authorization_endpoint", cfg.AuthorizationEndpoint},
		{"oauth.token_endpoint", cfg.TokenEndpoint},
		{"oauth.end_session_endpoint", cfg.EndSessionEndpoint},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if cfg.Client.Timeout <= 0 {
		errs = append(errs, errors.New("oauth.client.timeout must be positive"))
	}
	if cfg.Client.RateLimit < 0 {
		errs = append(errs, errors.New("oauth.client.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

func verifySession(cfg *SessionSection) error {
	var errs []error
	if cfg.Key == "" {
		errs = append(errs, errors.New("session.key is required"))
	}
	if cfg.FlowPrefix == "" {
		errs = append(errs, errors.New("session.flow_prefix is required"))
	}
	if cfg.RefreshMargin < 0 {
		errs = append(errs, errors.New("session.refresh_margin must not be negative"))
	}
	if _, err := lock.ParseScope(cfg.LockScope); err != nil {
		errs = append(errs, fmt.Errorf("session.lock_scope: %w", err))
	}
	return errors.Join(errs...)
}

func verifyLock(cfg *LockSection) error {
	lc := lock.Config{
		SafetyInterval: cfg.SafetyInterval,
		Timeout:        cfg.Timeout,
		MaxJitter:      cfg.MaxJitter,
		KeyPrefix:      cfg.KeyPrefix,
	}
	if err := lc.Validate(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	return nil
}

func verifyStore(cfg *StoreSection) error {
	switch cfg.Backend {
	case StoreMemory:
		return nil
	case StoreFile, StoreBadger:
		if cfg.Dir == "" {
			return fmt.Errorf("store.dir is required for the %s backend", cfg.Backend)
		}
		return nil
	default:
		return fmt.Errorf("store.backend %q is not one of file, badger, memory", cfg.Backend)
	}
}

func verifyBroadcast(cfg *BroadcastSection) error {
	switch cfg.Backend {
	case "", BroadcastNone:
		return nil
	case BroadcastRedis:
		if cfg.Redis.Addr == "" {
			return errors.New("broadcast.redis.addr is required")
		}
		return nil
	case BroadcastGossip:
		if cfg.Gossip.BindPort < 0 || cfg.Gossip.BindPort > 65535 {
			return fmt.Errorf("broadcast.gossip.bind_port %d is out of range", cfg.Gossip.BindPort)
		}
		return nil
	default:
		return fmt.Errorf("broadcast.backend %q is not one of none, redis, gossip", cfg.Backend)
	}
}

func verifyLog(cfg *LogSection) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(cfg.Format) {
	case "", "json", "text", "console":
		return nil
	default:
		return fmt.Errorf("log.format %q is not one of json, text", cfg.Format)
	}
}
