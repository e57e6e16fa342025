package google

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openscms/auth-gateway/internal/serviceerr"
)

// Adapter runs the Google sign-in flow on top of a Widget. Initialization is
// lazy and happens at most once; only a single sign-in may be in flight at a
// time.
type Adapter struct {
	widget        Widget
	clientID      string
	signInTimeout time.Duration

	mu          sync.Mutex
	initialized bool
	pending     chan Credential
}

func NewAdapter(clientID string, widget Widget, signInTimeout time.Duration) *Adapter {
	return &Adapter{
		widget:        widget,
		clientID:      clientID,
		signInTimeout: signInTimeout,
	}
}

// Initialize loads the widget and registers the credential sink. Repeated
// calls after a successful initialization are no-ops.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}

	if a.clientID == "" || strings.Contains(a.clientID, "YOUR_") {
		return serviceerr.ErrNotConfigured
	}

	if err := a.widget.Load(ctx); err != nil {
		return errors.Join(serviceerr.ErrGoogleSignInFailed, err)
	}

	a.widget.SetCredentialCallback(a.deliver)
	a.initialized = true

	return nil
}

// deliver is the widget's credential sink. It decodes the raw token and hands
// the credential to the waiting sign-in, if any.
func (a *Adapter) deliver(idToken string) {
	cred, err := DecodeCredential(idToken)
	if err != nil {
		slogctx.Warn(context.Background(), "Discarding undecodable credential", "error", err)
		return
	}

	a.mu.Lock()
	ch := a.pending
	a.mu.Unlock()

	if ch == nil {
		return
	}

	select {
	case ch <- cred:
	default:
	}
}

// SignIn runs one complete sign-in: prompt, button fallback when the prompt
// was skipped, then wait for the credential. A second call while one is in
// flight fails with ErrSignInAlreadyInProgress instead of queueing.
func (a *Adapter) SignIn(ctx context.Context) (Credential, error) {
	if err := a.Initialize(ctx); err != nil {
		return Credential{}, err
	}

	a.mu.Lock()
	if a.pending != nil {
		a.mu.Unlock()
		return Credential{}, serviceerr.ErrSignInAlreadyInProgress
	}
	ch := make(chan Credential, 1)
	a.pending = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
	}()

	res, err := a.widget.Prompt(ctx)
	if err != nil {
		return Credential{}, errors.Join(serviceerr.ErrGoogleSignInFailed, err)
	}

	if !res.Displayed || res.Skipped {
		slogctx.Info(ctx, "Sign-in prompt not shown, falling back to button", "reason", res.Reason)

		if err := a.widget.RenderButton(ctx); err != nil {
			return Credential{}, errors.Join(serviceerr.ErrGoogleSignInFailed, err)
		}
	}

	select {
	case cred := <-ch:
		return cred, nil
	case <-time.After(a.signInTimeout):
		return Credential{}, serviceerr.ErrSignInTimeout
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
}

// SignOut drops the picked account so the next sign-in asks again.
func (a *Adapter) SignOut(ctx context.Context) error {
	a.mu.Lock()
	initialized := a.initialized
	a.mu.Unlock()

	if !initialized {
		return nil
	}

	return a.widget.DisableAutoSelect(ctx)
}

// IsSignedIn reports whether the widget holds a Google session of its own.
// Credentials are one-shot and nothing persists in the widget, so this is
// always false; session state lives with the session manager.
func (a *Adapter) IsSignedIn() bool {
	return false
}
