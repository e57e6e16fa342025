// Package session implements the gateway's login state machine. A token
// store moves between three states: logged out, awaiting a second factor
// (a PendingSession exists) and logged in (a Session exists). All account
// truth lives on the SCMS backend; this package orchestrates the calls and
// keeps the per-store state consistent.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openscms/auth-gateway/internal/config"
	"github.com/openscms/auth-gateway/internal/google"
	"github.com/openscms/auth-gateway/internal/scmsapi"
	"github.com/openscms/auth-gateway/internal/serviceerr"
	"github.com/openscms/auth-gateway/internal/twofactor"
)

// GoogleIdentity is the slice of the Google adapter the manager needs.
type GoogleIdentity interface {
	SignIn(ctx context.Context) (google.Credential, error)
	SignOut(ctx context.Context) error
}

// LoginResult is the structured outcome of a login step. A false Success is
// an expected rejection with a user-facing Message, not an error.
type LoginResult struct {
	Success           bool
	Message           string
	RequiresTwoFactor bool
	User              scmsapi.User
	Token             string
}

// ProfileResult is the structured outcome of a profile update.
type ProfileResult struct {
	Success bool
	Message string
	User    scmsapi.User
}

type Manager struct {
	api      *scmsapi.Client
	sessions Repository
	google   GoogleIdentity
	policy   twofactor.Policy
	events   *TimeoutBus

	sessionDuration     time.Duration
	failOpenStatusCheck bool

	now func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewManager(
	cfg *config.Config,
	api *scmsapi.Client,
	sessions Repository,
	googleID GoogleIdentity,
	events *TimeoutBus,
) *Manager {
	return &Manager{
		api:      api,
		sessions: sessions,
		google:   googleID,
		events:   events,
		policy: twofactor.Policy{
			ReissueWindow: cfg.TwoFactor.ReissueWindow,
			TTL:           cfg.TwoFactor.ChallengeTTL,
			MaxAttempts:   cfg.TwoFactor.MaxAttempts,
		},
		sessionDuration:     cfg.Sessions.Duration,
		failOpenStatusCheck: cfg.TwoFactor.FailOpenStatusCheck,
		now:                 time.Now,
		inflight:            make(map[string]struct{}),
	}
}

// beginLogin claims the single login slot of a token store. A store cannot
// run two login flows at once; the loser gets ErrLoginInProgress instead of
// queueing behind the winner.
func (m *Manager) beginLogin(storeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inflight[storeID]; ok {
		return serviceerr.ErrLoginInProgress
	}
	m.inflight[storeID] = struct{}{}

	return nil
}

func (m *Manager) endLogin(storeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, storeID)
}

// Login runs the password flow. When the account has a second factor
// enabled, the store moves to the pending state and the caller must follow
// up with VerifyTwoFactor; otherwise the session is established right away.
func (m *Manager) Login(ctx context.Context, storeID, email, password string) (LoginResult, error) {
	if err := m.beginLogin(storeID); err != nil {
		return LoginResult{}, err
	}
	defer m.endLogin(storeID)

	res, err := m.api.Login(ctx, email, password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("logging in: %w", err)
	}

	if !res.OK {
		message := res.Message
		if message == "" {
			message = serviceerr.ErrInvalidCredentials.Description
		}

		return LoginResult{Success: false, Message: message}, nil
	}

	if res.Token == "" {
		return LoginResult{}, serviceerr.ErrMalformedServerResponse
	}

	enabled, err := m.api.TwoFactorStatus(ctx, res.Token)
	if err != nil {
		if !m.failOpenStatusCheck {
			return LoginResult{}, fmt.Errorf("checking two-factor status: %w", err)
		}

		slogctx.Warn(ctx, "Two-factor status check failed, continuing without a second factor", "error", err)
		enabled = false
	}

	if !enabled {
		session, err := m.establish(ctx, storeID, res.Token, res.User)
		if err != nil {
			return LoginResult{}, err
		}

		return LoginResult{Success: true, Message: res.Message, User: session.User, Token: session.Token}, nil
	}

	if err := m.issueChallenge(ctx, storeID, email, res.Token, res.User); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{Success: true, Message: res.Message, RequiresTwoFactor: true, User: res.User}, nil
}

// issueChallenge creates the pending state for a second-factor login. A
// repeated login inside the reissue window keeps the existing challenge so
// the attempt counter survives the retry.
func (m *Manager) issueChallenge(ctx context.Context, storeID, email, tempToken string, user scmsapi.User) error {
	now := m.now()

	if existing, err := m.sessions.LoadPending(ctx, storeID); err == nil {
		challenge := existing.Challenge
		if challenge.Email == email &&
			!m.policy.Expired(challenge, now) &&
			m.policy.WithinReissueWindow(challenge, now) {
			return nil
		}
	}

	pending := PendingSession{
		StoreID:   storeID,
		TempUser:  user,
		Challenge: m.policy.Issue(email, tempToken, now),
	}

	if err := m.sessions.StorePending(ctx, pending); err != nil {
		return fmt.Errorf("storing pending session: %w", err)
	}

	return nil
}

// VerifyTwoFactor completes a pending login with the user's code. A wrong
// code comes back as a structured rejection until the challenge runs out of
// attempts; a vanished or expired challenge is ErrMissingPendingSession and
// the caller has to start over.
func (m *Manager) VerifyTwoFactor(ctx context.Context, storeID, code string) (LoginResult, error) {
	pending, err := m.sessions.LoadPending(ctx, storeID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return LoginResult{}, serviceerr.ErrMissingPendingSession
		}

		return LoginResult{}, fmt.Errorf("loading pending session: %w", err)
	}

	now := m.now()
	if m.policy.Expired(pending.Challenge, now) {
		if err := m.sessions.DeletePending(ctx, storeID); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
			slogctx.Warn(ctx, "Could not delete expired pending session", "error", err)
		}

		return LoginResult{}, serviceerr.ErrMissingPendingSession
	}

	if err := twofactor.ValidateCode(code); err != nil {
		return LoginResult{Success: false, Message: serviceerr.ErrEmptyCode.Description}, nil
	}

	res, err := m.api.VerifyTwoFactorLogin(ctx, pending.Challenge.Email, code)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verifying two-factor code: %w", err)
	}

	if !res.OK {
		message := res.Message
		if message == "" {
			message = serviceerr.ErrInvalidCode.Description
		}

		challenge, retryable := m.policy.RecordFailure(pending.Challenge)
		if !retryable {
			if err := m.sessions.DeletePending(ctx, storeID); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
				slogctx.Warn(ctx, "Could not delete exhausted pending session", "error", err)
			}

			return LoginResult{}, serviceerr.ErrMissingPendingSession.WithDescription("too many failed attempts")
		}

		pending.Challenge = challenge
		if err := m.sessions.StorePending(ctx, pending); err != nil {
			return LoginResult{}, fmt.Errorf("storing pending session: %w", err)
		}

		return LoginResult{Success: false, Message: message}, nil
	}

	token := res.Token
	if token == "" {
		token = pending.Challenge.TempToken
	}
	if token == "" {
		return LoginResult{}, serviceerr.ErrMalformedServerResponse
	}

	user := res.User
	if user.ID == "" {
		user = pending.TempUser
	}

	session, err := m.establish(ctx, storeID, token, user)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{Success: true, Message: res.Message, User: session.User, Token: session.Token}, nil
}

// CancelTwoFactor abandons a pending login. Cancelling an already clean
// store is fine.
func (m *Manager) CancelTwoFactor(ctx context.Context, storeID string) error {
	if err := m.sessions.DeletePending(ctx, storeID); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
		return fmt.Errorf("deleting pending session: %w", err)
	}

	return nil
}

// PendingUser returns the provisional user of a pending login, so the
// verification screen can show who is completing it.
func (m *Manager) PendingUser(ctx context.Context, storeID string) (scmsapi.User, error) {
	pending, err := m.sessions.LoadPending(ctx, storeID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return scmsapi.User{}, serviceerr.ErrMissingPendingSession
		}

		return scmsapi.User{}, fmt.Errorf("loading pending session: %w", err)
	}

	if m.policy.Expired(pending.Challenge, m.now()) {
		return scmsapi.User{}, serviceerr.ErrMissingPendingSession
	}

	return pending.TempUser, nil
}

// LoginWithGoogle runs the Google flow: obtain a verified credential from
// the adapter, exchange it with the backend, establish the session. A
// backend rejection also signs the adapter out so a retry asks for the
// account again.
func (m *Manager) LoginWithGoogle(ctx context.Context, storeID string) (LoginResult, error) {
	if err := m.beginLogin(storeID); err != nil {
		return LoginResult{}, err
	}
	defer m.endLogin(storeID)

	cred, err := m.google.SignIn(ctx)
	if err != nil {
		return LoginResult{}, err
	}

	res, err := m.api.GoogleAuth(ctx, cred.ID, cred.Email, cred.Name)
	if err != nil {
		return LoginResult{}, fmt.Errorf("exchanging google credential: %w", err)
	}

	if !res.OK {
		if err := m.google.SignOut(ctx); err != nil {
			slogctx.Warn(ctx, "Could not sign out of Google after a rejected exchange", "error", err)
		}

		rejection := serviceerr.ErrBackendRejectedGoogleAuth
		if res.Message != "" {
			rejection = rejection.WithDescription(res.Message)
		}

		return LoginResult{}, rejection
	}

	if res.Token == "" {
		return LoginResult{}, serviceerr.ErrMalformedServerResponse
	}

	user := mergeGoogleUser(res.User, cred)

	session, err := m.establish(ctx, storeID, res.Token, user)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{Success: true, Message: res.Message, User: session.User, Token: session.Token}, nil
}

// mergeGoogleUser prefers the backend's canonical record and fills the gaps
// from the Google profile.
func mergeGoogleUser(user scmsapi.User, cred google.Credential) scmsapi.User {
	if user.ID == "" {
		user.ID = cred.ID
	}
	if user.Email == "" {
		user.Email = cred.Email
	}
	if user.FullName == "" {
		user.FullName = cred.Name
	}
	if user.ImageURL == "" {
		user.ImageURL = cred.ImageURL
	}
	if user.Provider == "" {
		user.Provider = cred.Provider
	}
	user.GoogleLinked = true

	return user
}

// establish stores the session and clears any pending state the store still
// holds. Storing overwrites a previous session for the same store.
func (m *Manager) establish(ctx context.Context, storeID, token string, user scmsapi.User) (Session, error) {
	now := m.now()

	session := Session{
		StoreID:  storeID,
		Token:    token,
		User:     user,
		Expiry:   now.Add(m.sessionDuration),
		LastSeen: now,
	}

	if err := m.sessions.StoreSession(ctx, session); err != nil {
		return Session{}, fmt.Errorf("storing session: %w", err)
	}

	if err := m.sessions.DeletePending(ctx, storeID); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
		slogctx.Warn(ctx, "Could not delete pending session after login", "error", err)
	}

	return session, nil
}

// Logout ends the session. The backend and Google calls are best-effort;
// local state is always cleared, even when the backend cannot be reached.
func (m *Manager) Logout(ctx context.Context, storeID string) error {
	session, err := m.sessions.LoadSession(ctx, storeID)
	if err == nil {
		if err := m.api.Logout(ctx, session.Token); err != nil {
			slogctx.Warn(ctx, "Backend logout failed, clearing local session anyway", "error", err)
		}

		if err := m.google.SignOut(ctx); err != nil {
			slogctx.Warn(ctx, "Could not sign out of Google", "error", err)
		}

		if err := m.sessions.DeleteSession(ctx, session); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
			return fmt.Errorf("deleting session: %w", err)
		}
	} else if !errors.Is(err, serviceerr.ErrNotFound) {
		return fmt.Errorf("loading session: %w", err)
	}

	return m.CancelTwoFactor(ctx, storeID)
}

// CurrentSession returns the live session of a store. A missing or expired
// session is ErrNotFound.
func (m *Manager) CurrentSession(ctx context.Context, storeID string) (Session, error) {
	session, err := m.sessions.LoadSession(ctx, storeID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return Session{}, serviceerr.ErrNotFound
		}

		return Session{}, fmt.Errorf("loading session: %w", err)
	}

	if session.Token == "" || m.now().After(session.Expiry) {
		return Session{}, serviceerr.ErrNotFound
	}

	return session, nil
}

// IsAuthenticated reports whether the store holds a live session.
func (m *Manager) IsAuthenticated(ctx context.Context, storeID string) (bool, error) {
	_, err := m.CurrentSession(ctx, storeID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Touch records activity on the session so the housekeeper does not reap it
// as idle. Touching a store without a session is a no-op.
func (m *Manager) Touch(ctx context.Context, storeID string) error {
	session, err := m.sessions.LoadSession(ctx, storeID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("loading session: %w", err)
	}

	session.LastSeen = m.now()
	if err := m.sessions.StoreSession(ctx, session); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}

	return nil
}

// UpdateProfile submits a profile edit and keeps the session's user in sync
// with what the backend confirmed. Fields the backend echoed win over the
// requested values.
func (m *Manager) UpdateProfile(ctx context.Context, storeID string, update scmsapi.ProfileUpdate) (ProfileResult, error) {
	session, err := m.CurrentSession(ctx, storeID)
	if err != nil {
		return ProfileResult{}, err
	}

	res, err := m.api.UpdateProfile(ctx, session.Token, update)
	if err != nil {
		return ProfileResult{}, fmt.Errorf("updating profile: %w", err)
	}

	if !res.OK {
		return ProfileResult{Success: false, Message: res.Message}, nil
	}

	session.User = session.User.Apply(update).Apply(res.Echo)
	if err := m.sessions.StoreSession(ctx, session); err != nil {
		return ProfileResult{}, fmt.Errorf("storing session: %w", err)
	}

	return ProfileResult{Success: true, Message: res.Message, User: session.User}, nil
}

// LinkGoogle attaches a Google identity to the logged-in account and
// records the link on the session's user.
func (m *Manager) LinkGoogle(ctx context.Context, storeID string) (scmsapi.LinkResult, error) {
	session, err := m.CurrentSession(ctx, storeID)
	if err != nil {
		return scmsapi.LinkResult{}, err
	}

	cred, err := m.google.SignIn(ctx)
	if err != nil {
		return scmsapi.LinkResult{}, err
	}

	res, err := m.api.LinkGoogleAccount(ctx, session.User.Email, cred.ID)
	if err != nil {
		return scmsapi.LinkResult{}, fmt.Errorf("linking google account: %w", err)
	}

	if res.OK {
		session.User.GoogleLinked = true
		if err := m.sessions.StoreSession(ctx, session); err != nil {
			return scmsapi.LinkResult{}, fmt.Errorf("storing session: %w", err)
		}
	}

	return res, nil
}

// UnlinkGoogle detaches the Google identity from the logged-in account.
func (m *Manager) UnlinkGoogle(ctx context.Context, storeID string) (scmsapi.LinkResult, error) {
	session, err := m.CurrentSession(ctx, storeID)
	if err != nil {
		return scmsapi.LinkResult{}, err
	}

	res, err := m.api.UnlinkGoogleAccount(ctx, session.User.Email)
	if err != nil {
		return scmsapi.LinkResult{}, fmt.Errorf("unlinking google account: %w", err)
	}

	if res.OK {
		session.User.GoogleLinked = false
		if err := m.sessions.StoreSession(ctx, session); err != nil {
			return scmsapi.LinkResult{}, fmt.Errorf("storing session: %w", err)
		}
	}

	return res, nil
}

// AccountStatus reports which authentication methods the backend accepts
// for an email, so a sign-in screen can offer the right ones up front.
func (m *Manager) AccountStatus(ctx context.Context, email string) (scmsapi.AccountType, error) {
	accountType, err := m.api.CheckAccountStatus(ctx, email)
	if err != nil {
		return "", fmt.Errorf("checking account status: %w", err)
	}

	return accountType, nil
}

// SignalTimeout force-expires a store's login state and notifies timeout
// subscribers. Used when an upstream call came back unauthorized.
func (m *Manager) SignalTimeout(ctx context.Context, storeID string) error {
	var email string

	session, err := m.sessions.LoadSession(ctx, storeID)
	if err == nil {
		email = session.User.Email
		if err := m.sessions.DeleteSession(ctx, session); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
			return fmt.Errorf("deleting session: %w", err)
		}
	} else if !errors.Is(err, serviceerr.ErrNotFound) {
		return fmt.Errorf("loading session: %w", err)
	}

	if err := m.CancelTwoFactor(ctx, storeID); err != nil {
		return err
	}

	if m.events != nil {
		m.events.Publish(TimeoutEvent{StoreID: storeID, Email: email, At: m.now()})
	}

	return nil
}
