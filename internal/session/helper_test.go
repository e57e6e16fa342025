package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openscms/auth-gateway/internal/config"
	"github.com/openscms/auth-gateway/internal/google"
	"github.com/openscms/auth-gateway/internal/scmsapi"
	"github.com/openscms/auth-gateway/internal/session"
)

// backendScript wires handlers for the SCMS endpoints a test exercises.
// Unscripted endpoints fail the test when hit.
type backendScript struct {
	login      http.HandlerFunc
	status     http.HandlerFunc
	verify     http.HandlerFunc
	googleAuth http.HandlerFunc
	logout     http.HandlerFunc
	profile    http.HandlerFunc
	link       http.HandlerFunc
	unlink     http.HandlerFunc
}

func startBackend(t *testing.T, script backendScript) *scmsapi.Client {
	t.Helper()

	route := func(name string, fn http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if fn == nil {
				t.Errorf("unexpected call to %s", name)
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fn(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", route("login", script.login))
	mux.HandleFunc("/api/auth/2fa/status", route("2fa status", script.status))
	mux.HandleFunc("/api/auth/2fa/verify-login", route("2fa verify", script.verify))
	mux.HandleFunc("/api/auth/google", route("google auth", script.googleAuth))
	mux.HandleFunc("/api/auth/logout", route("logout", script.logout))
	mux.HandleFunc("/api/users/profile", route("profile", script.profile))
	mux.HandleFunc("/api/auth/google/link", route("link", script.link))
	mux.HandleFunc("/api/auth/google/unlink", route("unlink", script.unlink))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := scmsapi.NewClient(server.URL, 5*time.Second)
	require.NoError(t, err)

	return client
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func respondStatus(statusCode int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_, _ = w.Write([]byte(body))
	}
}

// fakeGoogle is a scripted GoogleIdentity.
type fakeGoogle struct {
	mu           sync.Mutex
	cred         google.Credential
	signInErr    error
	signOutCalls int
}

func (g *fakeGoogle) SignIn(_ context.Context) (google.Credential, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.signInErr != nil {
		return google.Credential{}, g.signInErr
	}
	return g.cred, nil
}

func (g *fakeGoogle) SignOut(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signOutCalls++
	return nil
}

func (g *fakeGoogle) signOuts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signOutCalls
}

// testClock is an adjustable clock for the manager.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		TwoFactor: config.TwoFactor{
			ReissueWindow:       30 * time.Second,
			ChallengeTTL:        3 * time.Minute,
			MaxAttempts:         3,
			FailOpenStatusCheck: true,
		},
		Sessions: config.Sessions{
			Duration:    12 * time.Hour,
			IdleTimeout: 2 * time.Hour,
		},
	}
}

type managerFixture struct {
	manager *session.Manager
	repo    session.Repository
	google  *fakeGoogle
	clock   *testClock
	events  *session.TimeoutBus
}

func newManager(t *testing.T, cfg *config.Config, api *scmsapi.Client, repo session.Repository) managerFixture {
	t.Helper()

	if cfg == nil {
		cfg = testConfig()
	}

	googleID := &fakeGoogle{}
	clock := newTestClock()
	events := session.NewTimeoutBus()

	manager := session.NewManager(cfg, api, repo, googleID, events)
	manager.SetNow(clock.Now)

	return managerFixture{
		manager: manager,
		repo:    repo,
		google:  googleID,
		clock:   clock,
		events:  events,
	}
}
