package oauth

import (
	"net/url"
	"strings"

	"github.com/yndnr/tabsession-go/pkg/pkce"
)

// AuthorizationURL returns the authorization endpoint URL that starts a
// login with the given anti-forgery state and PKCE challenge.
func AuthorizationURL(cfg Config, state, challenge string) (string, error) {
	u, err := url.Parse(cfg.AuthorizationEndpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("client_id", cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", cfg.ReturnURL)
	q.Set("scope", strings.Join(cfg.Scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", pkce.MethodS256)
	for k, v := range cfg.ExtraAuthorizationParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// EndSessionURL returns the end-session endpoint URL. client_id and
// post_logout_redirect_uri are only sent when a post-logout URL is set.
func EndSessionURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.EndSessionEndpoint)
	if err != nil {
		return "", err
	}
	if cfg.PostLogoutURL != "" {
		q := u.Query()
		q.Set("client_id", cfg.ClientID)
		q.Set("post_logout_redirect_uri", cfg.PostLogoutURL)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// CallbackParams extracts the authorization code and state from a
// redirect URL. ok is false unless both are present.
func CallbackParams(u *url.URL) (code, state string, ok bool) {
	if u == nil {
		return "", "", false
	}
	q := u.Query()
	code, state = q.Get("code"), q.Get("state")
	return code, state, code != "" && state != ""
}
