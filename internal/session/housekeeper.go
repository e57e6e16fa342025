package session

import (
	"context"
	"errors"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openscms/auth-gateway/internal/serviceerr"
)

// CleanupIdleSessions deletes sessions that are past their expiry or have
// been idle for longer than the timeout. Each reaped session is announced
// on the timeout bus so connected clients learn their login ended.
func (m *Manager) CleanupIdleSessions(ctx context.Context, idleTimeout time.Duration, concurrencyLimit int) error {
	sessions, err := m.sessions.ListSessions(ctx)
	if err != nil {
		return err
	}

	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}

	now := m.now()
	sem := make(chan struct{}, concurrencyLimit)

	var wg sync.WaitGroup
	for _, s := range sessions {
		if now.Before(s.Expiry) && now.Sub(s.LastSeen) < idleTimeout {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(s Session) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := m.sessions.DeleteSession(ctx, s); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
				slogctx.Warn(ctx, "Could not delete idle session", "store_id", s.StoreID, "error", err)
				return
			}

			slogctx.Info(ctx, "Deleted idle session", "store_id", s.StoreID)

			if m.events != nil {
				m.events.Publish(TimeoutEvent{StoreID: s.StoreID, Email: s.User.Email, At: now})
			}
		}(s)
	}
	wg.Wait()

	return nil
}

// CleanupExpiredChallenges deletes pending logins whose challenge ran out.
func (m *Manager) CleanupExpiredChallenges(ctx context.Context) error {
	pending, err := m.sessions.ListPending(ctx)
	if err != nil {
		return err
	}

	now := m.now()
	for _, p := range pending {
		if !m.policy.Expired(p.Challenge, now) {
			continue
		}

		if err := m.sessions.DeletePending(ctx, p.StoreID); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
			slogctx.Warn(ctx, "Could not delete expired pending session", "store_id", p.StoreID, "error", err)
			continue
		}

		slogctx.Info(ctx, "Deleted expired pending session", "store_id", p.StoreID)
	}

	return nil
}
