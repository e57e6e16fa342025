package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openkcm/common-sdk/pkg/csrf"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openscms/auth-gateway/internal/idp"
	"github.com/openscms/auth-gateway/internal/randid"
	"github.com/openscms/auth-gateway/internal/scmsapi"
	"github.com/openscms/auth-gateway/internal/serviceerr"
	"github.com/openscms/auth-gateway/internal/session"
	"github.com/openscms/auth-gateway/pkg/storeid"
)

// CredentialRelay is the slice of the Google relay widget the credential
// endpoint needs.
type CredentialRelay interface {
	Deliver(ctx context.Context, rawIDToken string) error
}

// Gateway bundles the collaborators the HTTP handlers work against.
type Gateway struct {
	Manager     *session.Manager
	Providers   *idp.Service
	Relay       CredentialRelay
	Events      *session.TimeoutBus
	StateSecret []byte

	ids randid.Source
}

// routes builds the REST surface of the gateway. Every route runs behind
// the store ID middleware, so handlers can rely on storeid.Extract.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/login", g.login)
	mux.HandleFunc("POST /v1/auth/2fa/verify", g.verifyTwoFactor)
	mux.HandleFunc("POST /v1/auth/2fa/cancel", g.cancelTwoFactor)
	mux.HandleFunc("GET /v1/auth/2fa/pending-user", g.pendingUser)
	mux.HandleFunc("POST /v1/auth/google", g.loginWithGoogle)
	mux.HandleFunc("GET /v1/auth/google/state", g.googleState)
	mux.HandleFunc("POST /v1/auth/google/credential", g.googleCredential)
	mux.HandleFunc("POST /v1/auth/logout", g.logout)

	mux.HandleFunc("POST /v1/session/store", g.newStore)
	mux.HandleFunc("GET /v1/session", g.currentSession)
	mux.HandleFunc("GET /v1/session/status", g.sessionStatus)
	mux.HandleFunc("POST /v1/session/touch", g.touch)
	mux.HandleFunc("POST /v1/session/timeout", g.signalTimeout)
	mux.HandleFunc("GET /v1/session/events", g.sessionEvents)

	mux.HandleFunc("PATCH /v1/profile", g.updateProfile)
	mux.HandleFunc("GET /v1/account/status", g.accountStatus)
	mux.HandleFunc("POST /v1/account/google/link", g.linkGoogle)
	mux.HandleFunc("DELETE /v1/account/google/link", g.unlinkGoogle)

	mux.HandleFunc("GET /v1/admin/providers/{school}", g.getProvider)
	mux.HandleFunc("POST /v1/admin/providers/{school}", g.createProvider)
	mux.HandleFunc("PUT /v1/admin/providers/{school}", g.updateProvider)
	mux.HandleFunc("DELETE /v1/admin/providers/{school}", g.deleteProvider)

	return storeid.Middleware(mux)
}

type loginResponse struct {
	Success           bool          `json:"success"`
	Message           string        `json:"message,omitempty"`
	RequiresTwoFactor bool          `json:"requires_two_factor,omitempty"`
	User              *scmsapi.User `json:"user,omitempty"`
}

func newLoginResponse(res session.LoginResult) loginResponse {
	response := loginResponse{
		Success:           res.Success,
		Message:           res.Message,
		RequiresTwoFactor: res.RequiresTwoFactor,
	}

	if res.User.ID != "" || res.User.Email != "" {
		user := res.User
		response.User = &user
	}

	return response
}

func (g *Gateway) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeBadRequest(ctx, w, "invalid request body")
		return
	}

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	result, err := g.Manager.Login(ctx, storeID, req.Email, req.Password)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, newLoginResponse(result))
}

func (g *Gateway) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeBadRequest(ctx, w, "invalid request body")
		return
	}

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	result, err := g.Manager.VerifyTwoFactor(ctx, storeID, req.Code)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, newLoginResponse(result))
}

func (g *Gateway) cancelTwoFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	if err := g.Manager.CancelTwoFactor(ctx, storeID); err != nil {
		g.writeError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) pendingUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	user, err := g.Manager.PendingUser(ctx, storeID)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, map[string]scmsapi.User{"user": user})
}

func (g *Gateway) loginWithGoogle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	result, err := g.Manager.LoginWithGoogle(ctx, storeID)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, newLoginResponse(result))
}

// googleState hands the popup an anti-forgery state bound to the caller's
// token store. The popup posts it back together with the credential.
func (g *Gateway) googleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	state := csrf.NewToken(storeID, g.StateSecret)

	g.writeJSON(ctx, w, http.StatusOK, map[string]string{"state": state})
}

// googleCredential receives the ID token from the sign-in popup. The state
// must match the one issued to the same token store; the credential itself
// is verified by the relay before it reaches a waiting sign-in.
func (g *Gateway) googleCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		State      string `json:"state"`
		Credential string `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeBadRequest(ctx, w, "invalid request body")
		return
	}

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	if !csrf.Validate(req.State, storeID, g.StateSecret) {
		slogctx.Warn(ctx, "Received an invalid google state token")

		g.writeErrorModel(w, http.StatusForbidden, "invalid_state", "state token does not match this client")
		return
	}

	if err := g.Relay.Deliver(ctx, req.Credential); err != nil {
		g.writeError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	if err := g.Manager.Logout(ctx, storeID); err != nil {
		g.writeError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// newStore mints a store ID for a client that wants a durable one instead
// of the header fingerprint fallback.
func (g *Gateway) newStore(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(r.Context(), w, http.StatusCreated, map[string]string{"store_id": g.ids.StoreID()})
}

type sessionResponse struct {
	User     scmsapi.User `json:"user"`
	Expiry   string       `json:"expiry"`
	LastSeen string       `json:"last_seen"`
}

func (g *Gateway) currentSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	sess, err := g.Manager.CurrentSession(ctx, storeID)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, sessionResponse{
		User:     sess.User,
		Expiry:   sess.Expiry.Format(timeFormat),
		LastSeen: sess.LastSeen.Format(timeFormat),
	})
}

func (g *Gateway) sessionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	authenticated, err := g.Manager.IsAuthenticated(ctx, storeID)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, map[string]bool{"authenticated": authenticated})
}

func (g *Gateway) touch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	if err := g.Manager.Touch(ctx, storeID); err != nil {
		g.writeError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) signalTimeout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	if err := g.Manager.SignalTimeout(ctx, storeID); err != nil {
		g.writeError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// sessionEvents streams the caller's session timeouts as server-sent
// events, so an open client learns right away when its login ended.
func (g *Gateway) sessionEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeErrorModel(w, http.StatusNotImplemented, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	events, cancel := g.Events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			if event.StoreID != storeID {
				continue
			}

			payload, err := json.Marshal(map[string]string{
				"email": event.Email,
				"at":    event.At.Format(timeFormat),
			})
			if err != nil {
				slogctx.Error(ctx, "Could not encode timeout event", "error", err)
				continue
			}

			fmt.Fprintf(w, "event: timeout\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var update scmsapi.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		g.writeBadRequest(ctx, w, "invalid request body")
		return
	}

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	result, err := g.Manager.UpdateProfile(ctx, storeID, update)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"success": result.Success,
		"message": result.Message,
		"user":    result.User,
	})
}

func (g *Gateway) accountStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email := r.URL.Query().Get("email")
	if email == "" {
		g.writeBadRequest(ctx, w, "missing email query parameter")
		return
	}

	accountType, err := g.Manager.AccountStatus(ctx, email)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, map[string]scmsapi.AccountType{"account_type": accountType})
}

func (g *Gateway) linkGoogle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	result, err := g.Manager.LinkGoogle(ctx, storeID)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, map[string]any{"success": result.OK, "message": result.Message})
}

func (g *Gateway) unlinkGoogle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID, err := storeid.Extract(ctx)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	result, err := g.Manager.UnlinkGoogle(ctx, storeID)
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, map[string]any{"success": result.OK, "message": result.Message})
}

func (g *Gateway) getProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	provider, err := g.Providers.Get(ctx, r.PathValue("school"))
	if err != nil {
		g.writeError(ctx, w, err)
		return
	}

	g.writeJSON(ctx, w, http.StatusOK, provider)
}

func (g *Gateway) createProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var provider idp.Provider
	if err := json.NewDecoder(r.Body).Decode(&provider); err != nil {
		g.writeBadRequest(ctx, w, "invalid request body")
		return
	}

	if err := g.Providers.Create(ctx, r.PathValue("school"), provider); err != nil {
		g.writeError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (g *Gateway) updateProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var provider idp.Provider
	if err := json.NewDecoder(r.Body).Decode(&provider); err != nil {
		g.writeBadRequest(ctx, w, "invalid request body")
		return
	}

	if err := g.Providers.Update(ctx, r.PathValue("school"), provider); err != nil {
		g.writeError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) deleteProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := g.Providers.Delete(ctx, r.PathValue("school")); err != nil {
		g.writeError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

type errorModel struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeError maps an operation failure onto the wire. Service errors keep
// their code and description; anything else is reported as unknown.
func (g *Gateway) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var serviceErr *serviceerr.Error
	if !errors.As(err, &serviceErr) {
		slogctx.Error(ctx, "Unexpected error while handling a request", "error", err)
		serviceErr = serviceerr.ErrUnknown
	}

	g.writeErrorModel(w, serviceErr.HTTPStatus(), string(serviceErr.Err), serviceErr.Description)
}

func (g *Gateway) writeBadRequest(_ context.Context, w http.ResponseWriter, description string) {
	g.writeErrorModel(w, http.StatusBadRequest, "invalid_request", description)
}

func (g *Gateway) writeErrorModel(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorModel{Error: code, ErrorDescription: description})
}

func (g *Gateway) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slogctx.Error(ctx, "Could not encode response body", "error", err)
	}
}
