package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// provider is a token endpoint issuing numbered tokens. The code "bad" is
// rejected.
type provider struct {
	*httptest.Server

	mu     sync.Mutex
	issued int
	grants []string
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	p := &provider{}
	p.Server = httptest.NewServer(http.HandlerFunc(p.token))
	t.Cleanup(p.Close)
	return p
}

// newTLSProvider is newProvider served over TLS with a self-signed
// certificate.
func newTLSProvider(t *testing.T) *provider {
	t.Helper()
	p := &provider{}
	p.Server = httptest.NewTLSServer(http.HandlerFunc(p.token))
	t.Cleanup(p.Close)
	return p
}

func (p *provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	grant := r.PostForm.Get("grant_type")

	p.mu.Lock()
	p.grants = append(p.grants, grant)
	if grant == "authorization_code" && r.PostForm.Get("code") == "bad" {
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
		return
	}
	p.issued++
	n := p.issued
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access_token":"access-token-%04d","expires_in":3600,"refresh_token":"refresh-token-%04d"}`, n, n)
}

func (p *provider) grantLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.grants...)
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fixture is a config file pointing at a test provider and a file store in
// a temporary directory.
type fixture struct {
	t          *testing.T
	dir        string
	configPath string
	provider   *provider
}

const configTemplate = `
oauth:
  client_id: cli-test
  return_url: https://app.example/callback
  post_logout_url: https://app.example/bye
  authorization_endpoint: https://idp.example/authorize
  token_endpoint: %s/token
  end_session_endpoint: https://idp.example/logout
  client:
    rate_limit: 0
lock:
  safety_interval: 10ms
  timeout: 1s
  max_jitter: 0s
store:
  backend: file
  dir: %s
log:
  level: error
`

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, newProvider(t), "")
}

// newFixtureWith writes the fixture config for p. extra is appended to the
// oauth.client section.
func newFixtureWith(t *testing.T, p *provider, extra string) *fixture {
	t.Helper()
	f := &fixture{t: t, dir: t.TempDir(), provider: p}
	f.configPath = filepath.Join(f.dir, "tabsession.yaml")
	content := fmt.Sprintf(configTemplate, f.provider.URL, f.storeDir())
	if extra != "" {
		content = strings.Replace(content, "    rate_limit: 0\n", "    rate_limit: 0\n    "+extra+"\n", 1)
	}
	if err := os.WriteFile(f.configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) storeDir() string {
	return filepath.Join(f.dir, "store")
}

// runApp runs the CLI with args, writing to stdout and stderr.
func runApp(ctx context.Context, stdout, stderr *syncBuffer, args ...string) error {
	app := App()
	app.Writer = stdout
	app.ErrWriter = stderr
	return app.RunContext(ctx, append([]string{"tabsession"}, args...))
}

// run runs one command against the fixture config and returns stdout.
func (f *fixture) run(args ...string) (string, error) {
	f.t.Helper()
	var stdout, stderr syncBuffer
	err := runApp(context.Background(), &stdout, &stderr,
		append([]string{"--config", f.configPath}, args...)...)
	if err != nil {
		f.t.Logf("stderr: %s", stderr.String())
	}
	return stdout.String(), err
}

// mustRun is run that fails the test on error.
func (f *fixture) mustRun(args ...string) string {
	f.t.Helper()
	out, err := f.run(args...)
	if err != nil {
		f.t.Fatalf("%v: %v", args, err)
	}
	return out
}

// login starts a login and returns the authorization URL it printed.
func (f *fixture) login() *url.URL {
	f.t.Helper()
	out := f.mustRun("login")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	u, err := url.Parse(lines[len(lines)-1])
	if err != nil {
		f.t.Fatalf("login printed %q: %v", out, err)
	}
	return u
}

// callbackURL is the redirect the provider would send for a login.
func callbackURL(code string, authorize *url.URL) string {
	q := url.Values{"code": {code}, "state": {authorize.Query().Get("state")}}
	return "https://app.example/callback?" + q.Encode()
}

// signIn completes a login with a good code.
func (f *fixture) signIn() {
	f.t.Helper()
	f.mustRun("callback", callbackURL("good", f.login()))
}

func decodeJSON(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return m
}

// eventually polls cond until it holds or 5 seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
