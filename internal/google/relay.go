package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/openkcm/common-sdk/pkg/oidc"
	gocache "github.com/patrickmn/go-cache"

	"github.com/openscms/auth-gateway/internal/serviceerr"
)

// DefaultIssuerURL is Google's OpenID issuer.
const DefaultIssuerURL = "https://accounts.google.com"

// RelayWidget is the production Widget. The sign-in UI runs in the user's
// browser; the popup callback posts the resulting ID token to the gateway,
// which hands it to Deliver. Deliver verifies the token against the issuer's
// JWKS before the credential reaches the adapter, so an unverified token
// never enters the login flow.
type RelayWidget struct {
	issuerURL       string
	clientID        string
	allowHTTPScheme bool
	httpClient      *http.Client
	cache           *gocache.Cache

	mu       sync.Mutex
	callback func(idToken string)
}

type RelayOption func(*RelayWidget)

// WithIssuerURL overrides the token issuer, used by tests.
func WithIssuerURL(issuerURL string) RelayOption {
	return func(w *RelayWidget) { w.issuerURL = issuerURL }
}

// WithAllowHTTPScheme permits plain-http issuers, used by tests.
func WithAllowHTTPScheme(allow bool) RelayOption {
	return func(w *RelayWidget) { w.allowHTTPScheme = allow }
}

func NewRelayWidget(clientID string, httpClient *http.Client, opts ...RelayOption) *RelayWidget {
	w := &RelayWidget{
		issuerURL:  DefaultIssuerURL,
		clientID:   clientID,
		httpClient: httpClient,
		cache:      gocache.New(time.Hour, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Load warms the discovery configuration so the first sign-in does not pay
// for it.
func (w *RelayWidget) Load(ctx context.Context) error {
	_, err := w.openIDConfig(ctx)
	return err
}

func (w *RelayWidget) SetCredentialCallback(fn func(idToken string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = fn
}

// Prompt has no server-side UI. The frontend opens the popup; the credential
// comes back through Deliver.
func (w *RelayWidget) Prompt(_ context.Context) (PromptResult, error) {
	return PromptResult{Displayed: true}, nil
}

func (w *RelayWidget) RenderButton(_ context.Context) error {
	return nil
}

func (w *RelayWidget) DisableAutoSelect(_ context.Context) error {
	return nil
}

// Deliver verifies a raw ID token and forwards it to the registered
// callback. Tokens that fail signature, issuer, audience or time checks are
// rejected with ErrInvalidCredential.
func (w *RelayWidget) Deliver(ctx context.Context, rawIDToken string) error {
	cfg, err := w.openIDConfig(ctx)
	if err != nil {
		return fmt.Errorf("getting openid configuration: %w", err)
	}

	keySet, err := w.keySet(ctx, cfg.JwksURI)
	if err != nil {
		return fmt.Errorf("getting issuer keyset: %w", err)
	}

	token, err := jwt.ParseSigned(rawIDToken, []jose.SignatureAlgorithm{jose.RS256, jose.ES256})
	if err != nil {
		return errors.Join(serviceerr.ErrInvalidCredential, err)
	}

	var claims jwt.Claims
	if err := token.Claims(keySet, &claims); err != nil {
		return errors.Join(serviceerr.ErrInvalidCredential, err)
	}

	if err := claims.Validate(jwt.Expected{Time: time.Now()}); err != nil {
		return errors.Join(serviceerr.ErrInvalidCredential, err)
	}

	// Google issues tokens both with and without the scheme on the issuer
	if claims.Issuer != cfg.Issuer && claims.Issuer != strings.TrimPrefix(cfg.Issuer, "https://") {
		return errors.Join(serviceerr.ErrInvalidCredential,
			fmt.Errorf("unexpected issuer: %s", claims.Issuer))
	}

	if !claims.Audience.Contains(w.clientID) {
		return errors.Join(serviceerr.ErrInvalidCredential,
			errors.New("token audience does not contain the client ID"))
	}

	w.mu.Lock()
	callback := w.callback
	w.mu.Unlock()

	if callback == nil {
		return errors.New("no credential callback registered")
	}

	callback(rawIDToken)

	return nil
}

func (w *RelayWidget) openIDConfig(ctx context.Context) (*oidc.Configuration, error) {
	const cacheKey = "openid_config"

	if cached, ok := w.cache.Get(cacheKey); ok {
		//nolint:forcetypeassert
		return cached.(*oidc.Configuration), nil
	}

	provider, err := oidc.NewProvider(w.issuerURL, []string{}, oidc.WithAllowHttpScheme(w.allowHTTPScheme))
	if err != nil {
		return nil, err
	}

	cfg, err := provider.GetConfiguration(ctx)
	if err != nil {
		return nil, err
	}

	w.cache.Set(cacheKey, cfg, 0)

	return cfg, nil
}

func (w *RelayWidget) keySet(ctx context.Context, jwksURI string) (*jose.JSONWebKeySet, error) {
	cacheKey := "jwks_" + jwksURI

	if cached, ok := w.cache.Get(cacheKey); ok {
		//nolint:forcetypeassert
		return cached.(*jose.JSONWebKeySet), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("creating a new HTTP request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing an http request: %w", err)
	}
	defer resp.Body.Close()

	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
		return nil, fmt.Errorf("decoding keyset response: %w", err)
	}

	w.cache.Set(cacheKey, &keySet, 0)

	return &keySet, nil
}
