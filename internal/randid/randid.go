// Package randid generates the random identifiers used by the login flows.
package randid

import (
	"crypto/rand"
	"math/big"
)

type Source struct{}

func (s Source) randString(n int) string {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

	ret := make([]byte, n)
	for i := range n {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		ret[i] = letters[num.Int64()]
	}

	return string(ret)
}

// StoreID mints an identifier for a client that arrives without one.
func (s Source) StoreID() string {
	return s.randString(32) // Entropy E = L * log2(63) = 32 * log2(63) = 191.3 bits
}
