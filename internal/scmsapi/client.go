// Package scmsapi is the HTTP client for the remote SCMS backend. All
// account state lives there; this package only shapes requests and decodes
// the backend's response envelopes. Transport failures are reported as
// serviceerr.ErrNetwork so callers can distinguish "the server said no"
// from "the server was unreachable".
package scmsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openscms/auth-gateway/internal/serviceerr"
)

const (
	pathLogin           = "/api/auth/login"
	pathTwoFactorStatus = "/api/auth/2fa/status"
	pathTwoFactorVerify = "/api/auth/2fa/verify-login"
	pathGoogleAuth      = "/api/auth/google"
	pathLogout          = "/api/auth/logout"
	pathProfile         = "/api/users/profile"
	pathAccountStatus   = "/api/auth/account-status"
	pathLinkGoogle      = "/api/auth/google/link"
	pathUnlinkGoogle    = "/api/auth/google/unlink"
)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend base URL: %w", err)
	}

	return &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &bearerRoundTripper{next: http.DefaultTransport},
		},
	}, nil
}

type tokenCtxKey struct{}

// withToken stores the bearer token for one request; the round tripper
// copies it into the Authorization header.
func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenCtxKey{}, token)
}

type bearerRoundTripper struct {
	next http.RoundTripper
}

func (t *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if token, ok := req.Context().Value(tokenCtxKey{}).(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return t.next.RoundTrip(req)
}

// envelope matches the backend's common response wrapper. Older endpoints
// report "status", newer ones "success"; either counts as acceptance.
type envelope struct {
	Status  *bool           `json:"status"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	if e.Status != nil {
		return *e.Status
	}
	if e.Success != nil {
		return *e.Success
	}
	return false
}

// Login authenticates with email and password. A rejected credential is
// returned as OK=false with the backend's message, not as an error.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body, env, err := c.post(ctx, pathLogin, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return LoginResult{}, err
	}

	if !env.ok() {
		return LoginResult{OK: false, Message: env.Message}, nil
	}

	token, _ := ExtractToken(body)

	return LoginResult{
		OK:      true,
		Message: env.Message,
		Token:   token,
		User:    extractUser(body),
	}, nil
}

// TwoFactorStatus reports whether the account behind the token has a second
// factor enabled.
func (c *Client) TwoFactorStatus(ctx context.Context, token string) (bool, error) {
	_, env, err := c.get(withToken(ctx, token), pathTwoFactorStatus, nil)
	if err != nil {
		return false, err
	}

	if !env.ok() {
		return false, fmt.Errorf("two-factor status check rejected: %s", env.Message)
	}

	var data struct {
		IsEnabled bool `json:"is_enabled"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return false, fmt.Errorf("decoding two-factor status: %w", err)
	}

	return data.IsEnabled, nil
}

// VerifyTwoFactorLogin submits a TOTP code for a pending login.
func (c *Client) VerifyTwoFactorLogin(ctx context.Context, email, code string) (VerifyResult, error) {
	body, env, err := c.post(ctx, pathTwoFactorVerify, map[string]string{
		"email": email,
		"code":  code,
	})
	if err != nil {
		return VerifyResult{}, err
	}

	if !env.ok() {
		return VerifyResult{OK: false, Message: env.Message}, nil
	}

	token, _ := ExtractToken(body)

	return VerifyResult{
		OK:      true,
		Message: env.Message,
		Token:   token,
		User:    extractUser(body),
	}, nil
}

// GoogleAuth exchanges a verified Google identity for a backend session.
// The backend's canonical user record wins over the raw Google profile.
func (c *Client) GoogleAuth(ctx context.Context, googleID, email, fullName string) (GoogleAuthResult, error) {
	body, env, err := c.post(ctx, pathGoogleAuth, map[string]string{
		"google_id": googleID,
		"email":     email,
		"full_name": fullName,
	})
	if err != nil {
		return GoogleAuthResult{}, err
	}

	if !env.ok() {
		return GoogleAuthResult{OK: false, Message: env.Message}, nil
	}

	token, _ := ExtractToken(body)

	return GoogleAuthResult{
		OK:      true,
		Message: env.Message,
		Token:   token,
		User:    extractUser(body),
	}, nil
}

// Logout acknowledges the end of a session server-side. Callers treat
// failures as non-fatal; local cleanup must proceed regardless.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, env, err := c.post(withToken(ctx, token), pathLogout, struct{}{})
	if err != nil {
		return err
	}

	if !env.ok() && env.Message != "" {
		return fmt.Errorf("backend logout rejected: %s", env.Message)
	}

	return nil
}

// UpdateProfile submits a partial profile edit and returns the fields the
// backend confirmed.
func (c *Client) UpdateProfile(ctx context.Context, token string, update ProfileUpdate) (UpdateResult, error) {
	_, env, err := c.patch(withToken(ctx, token), pathProfile, update)
	if err != nil {
		return UpdateResult{}, err
	}

	if !env.ok() {
		return UpdateResult{OK: false, Message: env.Message}, nil
	}

	var echo ProfileUpdate
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &echo); err != nil {
			return UpdateResult{}, fmt.Errorf("decoding updated profile fields: %w", err)
		}
	}

	return UpdateResult{OK: true, Message: env.Message, Echo: echo}, nil
}

// CheckAccountStatus reports which authentication methods an account accepts.
func (c *Client) CheckAccountStatus(ctx context.Context, email string) (AccountType, error) {
	_, env, err := c.get(ctx, pathAccountStatus, url.Values{"email": []string{email}})
	if err != nil {
		return "", err
	}

	if !env.ok() {
		return "", fmt.Errorf("account status check rejected: %s", env.Message)
	}

	var data struct {
		AccountType AccountType `json:"account_type"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("decoding account status: %w", err)
	}

	return data.AccountType, nil
}

// LinkGoogleAccount attaches a Google identity to an existing local account.
func (c *Client) LinkGoogleAccount(ctx context.Context, email, googleID string) (LinkResult, error) {
	_, env, err := c.post(ctx, pathLinkGoogle, map[string]string{
		"email":     email,
		"google_id": googleID,
	})
	if err != nil {
		return LinkResult{}, err
	}

	return LinkResult{OK: env.ok(), Message: env.Message}, nil
}

// UnlinkGoogleAccount detaches the Google identity from an account.
func (c *Client) UnlinkGoogleAccount(ctx context.Context, email string) (LinkResult, error) {
	_, env, err := c.post(ctx, pathUnlinkGoogle, map[string]string{
		"email": email,
	})
	if err != nil {
		return LinkResult{}, err
	}

	return LinkResult{OK: env.ok(), Message: env.Message}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, envelope, error) {
	return c.send(ctx, http.MethodPost, path, nil, payload)
}

func (c *Client) patch(ctx context.Context, path string, payload any) ([]byte, envelope, error) {
	return c.send(ctx, http.MethodPatch, path, nil, payload)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, envelope, error) {
	return c.send(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, envelope, error) {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, envelope{}, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, envelope{}, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, envelope{}, errors.Join(serviceerr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, envelope{}, errors.Join(serviceerr.ErrNetwork, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, envelope{}, errors.Join(serviceerr.ErrNetwork,
				fmt.Errorf("backend returned status %d", resp.StatusCode))
		}

		return nil, envelope{}, fmt.Errorf("decoding response envelope: %w", err)
	}

	return body, env, nil
}
