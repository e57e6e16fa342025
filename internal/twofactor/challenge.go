// Package twofactor holds the lifecycle rules for a pending second-factor
// challenge: issue, reissue throttling, attempt counting and expiry. The
// actual code verification happens on the SCMS backend; this package only
// decides when a challenge may be created, retried or must be discarded.
package twofactor

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openscms/auth-gateway/internal/serviceerr"
)

// Challenge is one pending second-factor verification. TempToken is the
// provisional bearer token from the first login step; it never becomes a
// session token, it only authorises the status and verify calls.
type Challenge struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	TempToken string    `json:"temp_token"`
	Attempts  int       `json:"attempts"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Policy carries the tunable limits for challenge handling.
type Policy struct {
	ReissueWindow time.Duration
	TTL           time.Duration
	MaxAttempts   int
}

// Issue creates a fresh challenge for the given login.
func (p Policy) Issue(email, tempToken string, now time.Time) Challenge {
	return Challenge{
		ID:        uuid.NewString(),
		Email:     email,
		TempToken: tempToken,
		IssuedAt:  now,
		ExpiresAt: now.Add(p.TTL),
	}
}

// Expired reports whether the challenge is past its TTL.
func (p Policy) Expired(c Challenge, now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// WithinReissueWindow reports whether a repeated login should reuse this
// challenge instead of issuing a new one. Keeping the challenge alive keeps
// its attempt count, so a throttled retry cannot reset the counter.
func (p Policy) WithinReissueWindow(c Challenge, now time.Time) bool {
	return now.Before(c.IssuedAt.Add(p.ReissueWindow))
}

// RecordFailure bumps the attempt counter. The second return value is false
// once the challenge has used up its attempts and must be discarded.
func (p Policy) RecordFailure(c Challenge) (Challenge, bool) {
	c.Attempts++
	return c, c.Attempts < p.MaxAttempts
}

// ValidateCode rejects codes that must not reach the backend at all.
func ValidateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return serviceerr.ErrEmptyCode
	}

	return nil
}
