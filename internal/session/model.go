package session

import (
	"time"

	"github.com/openscms/auth-gateway/internal/scmsapi"
	"github.com/openscms/auth-gateway/internal/twofactor"
)

// Session is an established login. StoreID identifies the client's token
// store; one store holds at most one session.
type Session struct {
	StoreID  string       `json:"store_id"`
	Token    string       `json:"token"`
	User     scmsapi.User `json:"user"`
	Expiry   time.Time    `json:"expiry"`
	LastSeen time.Time    `json:"last_seen"`
}

// PendingSession is a login stuck between the credential check and the
// second factor. It holds the provisional user so the verification screen
// can show who is logging in.
type PendingSession struct {
	StoreID   string              `json:"store_id"`
	TempUser  scmsapi.User        `json:"temp_user"`
	Challenge twofactor.Challenge `json:"challenge"`
}
