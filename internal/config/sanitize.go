package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for printing configuration without exposing secrets.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg

	if sanitized.Broadcast.Redis.Password != "" {
		sanitized.Broadcast.Redis.Password = maskSecret(sanitized.Broadcast.Redis.Password)
	}
	if len(cfg.OAuth.ExtraParams) > 0 {
		params := make(map[string]string, len(cfg.OAuth.ExtraParams))
		for k, v := range cfg.OAuth.ExtraParams {
			if strings.Contains(strings.ToLower(k), "secret") {
				v = maskSecret(v)
			}
			params[k] = v
		}
		sanitized.OAuth.ExtraParams = params
	}

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
