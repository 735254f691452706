package oauth

import (
	"fmt"
	"net/url"
)

// Config describes the client registration and provider endpoints.
type Config struct {
	ClientID      string
	ReturnURL     string
	PostLogoutURL string
	Scopes        []string

	AuthorizationEndpoint string
	TokenEndpoint         string
	EndSessionEndpoint    string

	// ExtraAuthorizationParams are added to the authorization URL and
	// override the standard parameters of the same name.
	ExtraAuthorizationParams map[string]string
}

// Validate checks that the required fields are present and the endpoints
// are absolute URLs.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.ReturnURL == "" {
		return fmt.Errorf("return url is required")
	}
	endpoints := map[string]string{
		"authorization endpoint": c.AuthorizationEndpoint,
		"token endpoint":         c.TokenEndpoint,
		"end session endpoint":   c.EndSessionEndpoint,
	}
	for name, raw := range endpoints {
		if raw == "" {
			return fmt.Errorf("%s is required", name)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s %q is not an absolute url", name, raw)
		}
	}
	return nil
}
