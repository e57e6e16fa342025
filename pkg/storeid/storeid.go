// Package storeid resolves which token store a request belongs to. Clients
// carry their store ID in a header; requests without one fall back to a
// fingerprint of stable request headers, which keeps an anonymous client on
// the same store across calls.
package storeid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"regexp"
)

// Header names the client's token store.
const Header = "X-Store-ID"

var validID = regexp.MustCompile(`^[0-9A-Za-z_-]{1,128}$`)

var headerKeys = []string{"user-agent", "accept"}

type ctxKey string

const storeIDKey ctxKey = "storeID"

// FromHTTPRequest returns the request's store ID: the validated header value
// when present, otherwise the header fingerprint.
func FromHTTPRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", errors.New("http request is nil")
	}

	if id := r.Header.Get(Header); id != "" {
		if !validID.MatchString(id) {
			return "", errors.New("invalid store ID header")
		}

		return id, nil
	}

	h := sha256.New()
	for _, key := range headerKeys {
		h.Write([]byte(r.Header.Get(key)))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Middleware resolves the store ID once and stashes it in the request
// context. Requests with a malformed header are rejected before any handler
// runs.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := FromHTTPRequest(r)
		if err != nil {
			http.Error(w, "invalid store ID", http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), storeIDKey, id)))
	})
}

// Extract reads the store ID stashed by Middleware.
func Extract(ctx context.Context) (string, error) {
	id, ok := ctx.Value(storeIDKey).(string)
	if !ok {
		return "", errors.New("no store ID in ctx")
	}
	return id, nil
}
