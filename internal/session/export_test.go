package session

import "time"

// SetNow replaces the manager's clock in tests.
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}

// LockLogin claims a store's login slot, imitating an in-flight login.
func (m *Manager) LockLogin(storeID string) error {
	return m.beginLogin(storeID)
}

// UnlockLogin releases a slot claimed with LockLogin.
func (m *Manager) UnlockLogin(storeID string) {
	m.endLogin(storeID)
}
