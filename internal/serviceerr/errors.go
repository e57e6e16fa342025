// Package serviceerr defines the error taxonomy shared by the gateway's
// authentication operations. Expected authentication failures are represented
// as *Error values with a stable machine-readable code so that handlers can
// map them to HTTP statuses and clients can render the message inline.
package serviceerr

import (
	"fmt"
	"net/http"
)

type Code string

const (
	// Credential and backend response codes
	CodeInvalidCredentials      Code = "invalid_credentials"
	CodeMalformedServerResponse Code = "malformed_server_response"
	CodeMissingPendingSession   Code = "missing_pending_session"
	CodeNetworkError            Code = "network_error"

	// Google identity codes
	CodeGoogleSignInFailed        Code = "google_sign_in_failed"
	CodeBackendRejectedGoogleAuth Code = "backend_rejected_google_auth"
	CodeNotConfigured             Code = "not_configured"
	CodeSignInTimeout             Code = "sign_in_timeout"
	CodeSignInAlreadyInProgress   Code = "sign_in_already_in_progress"
	CodeInvalidCredential         Code = "invalid_credential"

	// Two-factor challenge codes
	CodeInvalidCode Code = "invalid_code"
	CodeEmptyCode   Code = "empty_code"

	// Concurrency guard
	CodeLoginInProgress Code = "login_in_progress"

	// Generic storage/service codes
	CodeNotFound Code = "not_found"
	CodeConflict Code = "conflict"
	CodeUnknown  Code = "unknown"
)

var (
	ErrInvalidCredentials      = &Error{Err: CodeInvalidCredentials, Description: "invalid email or password"}
	ErrMalformedServerResponse = &Error{Err: CodeMalformedServerResponse, Description: "No token found in login response"}
	ErrMissingPendingSession   = &Error{Err: CodeMissingPendingSession, Description: "no pending two-factor session"}
	ErrNetwork                 = &Error{Err: CodeNetworkError, Description: "could not reach the server"}

	ErrGoogleSignInFailed        = &Error{Err: CodeGoogleSignInFailed, Description: "Google sign-in failed"}
	ErrBackendRejectedGoogleAuth = &Error{Err: CodeBackendRejectedGoogleAuth, Description: "Google sign-in was rejected by the server"}
	ErrNotConfigured             = &Error{Err: CodeNotConfigured, Description: "Google client ID is not configured"}
	ErrSignInTimeout             = &Error{Err: CodeSignInTimeout, Description: "Google sign-in timeout"}
	ErrSignInAlreadyInProgress   = &Error{Err: CodeSignInAlreadyInProgress, Description: "a sign-in attempt is already in progress"}
	ErrInvalidCredential         = &Error{Err: CodeInvalidCredential, Description: "could not decode the identity credential"}

	ErrInvalidCode = &Error{Err: CodeInvalidCode, Description: "invalid verification code"}
	ErrEmptyCode   = &Error{Err: CodeEmptyCode, Description: "verification code must not be empty"}

	ErrLoginInProgress = &Error{Err: CodeLoginInProgress, Description: "a login attempt is already in progress"}

	ErrNotFound = &Error{Err: CodeNotFound, Description: "not found"}
	ErrConflict = &Error{Err: CodeConflict, Description: "already exists"}
	ErrUnknown  = &Error{Err: CodeUnknown, Description: "unknown error"}
)

type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Description)
}

// Is matches errors by code so that a WithDescription variant still
// satisfies errors.Is against the predefined sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Err == t.Err
}

// WithDescription returns a copy of the error carrying a caller-supplied
// description, e.g. the backend's rejection message verbatim.
func (e *Error) WithDescription(description string) *Error {
	return &Error{Err: e.Err, Description: description}
}

func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidCredentials, CodeInvalidCode, CodeInvalidCredential,
		CodeGoogleSignInFailed, CodeBackendRejectedGoogleAuth:
		return http.StatusUnauthorized
	case CodeEmptyCode:
		return http.StatusBadRequest
	case CodeMissingPendingSession:
		return http.StatusGone
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeLoginInProgress, CodeSignInAlreadyInProgress:
		return http.StatusConflict
	case CodeNotConfigured:
		return http.StatusPreconditionFailed
	case CodeSignInTimeout:
		return http.StatusRequestTimeout
	case CodeMalformedServerResponse, CodeNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
