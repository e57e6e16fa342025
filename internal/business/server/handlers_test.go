package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/csrf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscms/auth-gateway/internal/config"
	"github.com/openscms/auth-gateway/internal/google"
	"github.com/openscms/auth-gateway/internal/idp"
	idpmock "github.com/openscms/auth-gateway/internal/idp/mock"
	"github.com/openscms/auth-gateway/internal/scmsapi"
	"github.com/openscms/auth-gateway/internal/session"
	sessionmock "github.com/openscms/auth-gateway/internal/session/mock"
	"github.com/openscms/auth-gateway/pkg/storeid"
)

type fakeGoogle struct {
	mu           sync.Mutex
	cred         google.Credential
	signInErr    error
	signOutCalls int
}

func (f *fakeGoogle) SignIn(_ context.Context) (google.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return google.Credential{}, f.signInErr
	}
	return f.cred, nil
}

func (f *fakeGoogle) SignOut(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return nil
}

type fakeRelay struct {
	mu        sync.Mutex
	delivered []string
	err       error
}

func (f *fakeRelay) Deliver(_ context.Context, rawIDToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, rawIDToken)
	return nil
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

type fixture struct {
	gateway *Gateway
	repo    *sessionmock.Repository
	idpRepo *idpmock.Repository
	google  *fakeGoogle
	relay   *fakeRelay
}

func newFixture(t *testing.T, backend http.Handler, opts ...sessionmock.RepositoryOption) *fixture {
	t.Helper()

	if backend == nil {
		backend = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("unexpected backend call: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		})
	}

	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	api, err := scmsapi.NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	repo := sessionmock.NewInMemRepository(opts...)
	googleID := &fakeGoogle{}
	events := session.NewTimeoutBus()
	idpRepo := idpmock.NewInMemRepository(nil, nil, nil, nil)
	relay := &fakeRelay{}

	return &fixture{
		gateway: &Gateway{
			Manager:     session.NewManager(testConfig(), api, repo, googleID, events),
			Providers:   idp.NewService(idpRepo),
			Relay:       relay,
			Events:      events,
			StateSecret: []byte("test-state-secret"),
		},
		repo:    repo,
		idpRepo: idpRepo,
		google:  googleID,
		relay:   relay,
	}
}

func do(t *testing.T, handler http.Handler, method, target, storeID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(encoded)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, target, reqBody)
	r.Header.Set(storeid.Header, storeID)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestGateway_Login(t *testing.T) {
	t.Run("accepted login returns the user", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.Handle("POST /api/auth/login", respondJSON(
			`{"status": true, "message": "welcome", "token": "tok-1", "data": {"user": {"user_id": "u1", "email": "amira@north-high.edu"}}}`))
		mux.Handle("GET /api/auth/2fa/status", respondJSON(
			`{"success": true, "data": {"is_enabled": false}}`))

		f := newFixture(t, mux)
		handler := f.gateway.routes()

		rec := do(t, handler, http.MethodPost, "/v1/auth/login", "store-1",
			map[string]string{"email": "amira@north-high.edu", "password": "pw"})

		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[loginResponse](t, rec)
		assert.True(t, res.Success)
		assert.False(t, res.RequiresTwoFactor)
		require.NotNil(t, res.User)
		assert.Equal(t, "u1", res.User.ID)
	})

	t.Run("rejected login is a structured response, not an error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.Handle("POST /api/auth/login", respondJSON(
			`{"status": false, "message": "Invalid email or password"}`))

		f := newFixture(t, mux)
		rec := do(t, f.gateway.routes(), http.MethodPost, "/v1/auth/login", "store-1",
			map[string]string{"email": "amira@north-high.edu", "password": "wrong"})

		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[loginResponse](t, rec)
		assert.False(t, res.Success)
		assert.Equal(t, "Invalid email or password", res.Message)
		assert.Nil(t, res.User)
	})

	t.Run("unreachable backend maps to a gateway error", func(t *testing.T) {
		f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("must not be called")
		}))

		api, err := scmsapi.NewClient("http://127.0.0.1:1", time.Second)
		require.NoError(t, err)
		f.gateway.Manager = session.NewManager(testConfig(), api, f.repo, f.google, f.gateway.Events)

		rec := do(t, f.gateway.routes(), http.MethodPost, "/v1/auth/login", "store-1",
			map[string]string{"email": "amira@north-high.edu", "password": "pw"})

		require.Equal(t, http.StatusBadGateway, rec.Code)

		res := decode[errorModel](t, rec)
		assert.Equal(t, "network_error", res.Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("must not be called")
		}))

		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader("{"))
		r.Header.Set(storeid.Header, "store-1")
		rec := httptest.NewRecorder()
		f.gateway.routes().ServeHTTP(rec, r)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGateway_VerifyTwoFactor(t *testing.T) {
	t.Run("without a pending login", func(t *testing.T) {
		f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("must not be called")
		}))

		rec := do(t, f.gateway.routes(), http.MethodPost, "/v1/auth/2fa/verify", "store-1",
			map[string]string{"code": "123456"})

		require.Equal(t, http.StatusGone, rec.Code)

		res := decode[errorModel](t, rec)
		assert.Equal(t, "missing_pending_session", res.Error)
	})
}

func TestGateway_GooglePopupFlow(t *testing.T) {
	t.Run("credential with the issued state reaches the relay", func(t *testing.T) {
		f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("must not be called")
		}))
		handler := f.gateway.routes()

		rec := do(t, handler, http.MethodGet, "/v1/auth/google/state", "store-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		state := decode[map[string]string](t, rec)["state"]
		require.NotEmpty(t, state)

		rec = do(t, handler, http.MethodPost, "/v1/auth/google/credential", "store-1",
			map[string]string{"state": state, "credential": "raw-id-token"})
		require.Equal(t, http.StatusAccepted, rec.Code)

		assert.Equal(t, []string{"raw-id-token"}, f.relay.delivered)
	})

	t.Run("state bound to another store is rejected", func(t *testing.T) {
		f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("must not be called")
		}))

		state := csrf.NewToken("store-other", f.gateway.StateSecret)

		rec := do(t, f.gateway.routes(), http.MethodPost, "/v1/auth/google/credential", "store-1",
			map[string]string{"state": state, "credential": "raw-id-token"})

		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, f.relay.delivered)
	})
}

func TestGateway_Session(t *testing.T) {
	user := scmsapi.User{ID: "u1", Email: "amira@north-high.edu", FullName: "Amira Hassan"}

	t.Run("current session", func(t *testing.T) {
		f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("must not be called")
		}), sessionmock.WithSession(session.Session{
			StoreID:  "store-1",
			Token:    "tok-1",
			User:     user,
			Expiry:   time.Now().Add(time.Hour),
			LastSeen: time.Now(),
		}))
		handler := f.gateway.routes()

		rec := do(t, handler, http.MethodGet, "/v1/session", "store-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[sessionResponse](t, rec)
		assert.Equal(t, user, res.User)

		rec = do(t, handler, http.MethodGet, "/v1/session/status", "store-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decode[map[string]bool](t, rec)["authenticated"])
	})

	t.Run("no session", func(t *testing.T) {
		f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("must not be called")
		}))
		handler := f.gateway.routes()

		rec := do(t, handler, http.MethodGet, "/v1/session", "store-1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, handler, http.MethodGet, "/v1/session/status", "store-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, decode[map[string]bool](t, rec)["authenticated"])
	})

	t.Run("touch", func(t *testing.T) {
		f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("must not be called")
		}), sessionmock.WithSession(session.Session{
			StoreID: "store-1",
			Token:   "tok-1",
			User:    user,
			Expiry:  time.Now().Add(time.Hour),
		}))

		rec := do(t, f.gateway.routes(), http.MethodPost, "/v1/session/touch", "store-1", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("logout clears the session", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.Handle("POST /api/auth/logout", respondJSON(`{"success": true}`))

		f := newFixture(t, mux, sessionmock.WithSession(session.Session{
			StoreID: "store-1",
			Token:   "tok-1",
			User:    user,
			Expiry:  time.Now().Add(time.Hour),
		}))
		handler := f.gateway.routes()

		rec := do(t, handler, http.MethodPost, "/v1/auth/logout", "store-1", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = do(t, handler, http.MethodGet, "/v1/session", "store-1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGateway_NewStore(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("must not be called")
	}))

	rec := do(t, f.gateway.routes(), http.MethodPost, "/v1/session/store", "store-1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	id := decode[map[string]string](t, rec)["store_id"]
	assert.Len(t, id, 32)
}

func TestGateway_SessionEvents(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("must not be called")
	}))

	srv := httptest.NewServer(f.gateway.routes())
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/v1/session/events", nil)
	require.NoError(t, err)
	req.Header.Set(storeid.Header, "store-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// events for other stores must not leak into this stream
	f.gateway.Events.Publish(session.TimeoutEvent{StoreID: "store-2", Email: "other@north-high.edu", At: time.Now()})
	f.gateway.Events.Publish(session.TimeoutEvent{StoreID: "store-1", Email: "amira@north-high.edu", At: time.Now()})

	reader := bufio.NewReader(resp.Body)
	var data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}

	assert.Contains(t, data, "amira@north-high.edu")
	assert.NotContains(t, data, "other@north-high.edu")
}

func TestGateway_AccountStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /api/auth/account-status", respondJSON(
		`{"success": true, "data": {"account_type": "google"}}`))

	f := newFixture(t, mux)
	handler := f.gateway.routes()

	rec := do(t, handler, http.MethodGet, "/v1/account/status?email=amira%40north-high.edu", "store-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "google", decode[map[string]string](t, rec)["account_type"])

	rec = do(t, handler, http.MethodGet, "/v1/account/status", "store-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateway_Providers(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("must not be called")
	}))
	handler := f.gateway.routes()

	provider := idp.Provider{ClientID: "school-client", HostedDomain: "north-high.edu"}

	rec := do(t, handler, http.MethodPost, "/v1/admin/providers/north-high", "store-1", provider)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, handler, http.MethodPost, "/v1/admin/providers/north-high", "store-1", provider)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, handler, http.MethodGet, "/v1/admin/providers/north-high", "store-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, provider, decode[idp.Provider](t, rec))

	provider.Blocked = true
	rec = do(t, handler, http.MethodPut, "/v1/admin/providers/north-high", "store-1", provider)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, handler, http.MethodDelete, "/v1/admin/providers/north-high", "store-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, handler, http.MethodGet, "/v1/admin/providers/north-high", "store-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_StoreIDHeader(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("must not be called")
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/session/status", nil)
	r.Header.Set(storeid.Header, "not a valid id")
	rec := httptest.NewRecorder()
	f.gateway.routes().ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
