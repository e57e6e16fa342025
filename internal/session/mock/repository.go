package sessionmock

import (
	"context"
	"sync"

	"github.com/openscms/auth-gateway/internal/serviceerr"
	"github.com/openscms/auth-gateway/internal/session"
)

type RepositoryOption func(*Repository)

// Repository is an in-memory session store for tests. Unlike the valkey
// repository it is safe to inspect after the fact; unlike a real store,
// every failure can be scripted through the With*Error options.
type Repository struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	pending  map[string]session.PendingSession

	loadSessionErr, storeSessionErr, deleteSessionErr, listSessionsErr error
	loadPendingErr, storePendingErr, deletePendingErr                  error
}

func WithSession(s session.Session) RepositoryOption {
	return func(r *Repository) { r.sessions[s.StoreID] = s }
}
func WithPending(p session.PendingSession) RepositoryOption {
	return func(r *Repository) { r.pending[p.StoreID] = p }
}
func WithLoadSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.loadSessionErr = err }
}
func WithStoreSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.storeSessionErr = err }
}
func WithDeleteSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteSessionErr = err }
}
func WithListSessionsError(err error) RepositoryOption {
	return func(r *Repository) { r.listSessionsErr = err }
}
func WithLoadPendingError(err error) RepositoryOption {
	return func(r *Repository) { r.loadPendingErr = err }
}
func WithStorePendingError(err error) RepositoryOption {
	return func(r *Repository) { r.storePendingErr = err }
}
func WithDeletePendingError(err error) RepositoryOption {
	return func(r *Repository) { r.deletePendingErr = err }
}

var _ = session.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		sessions: make(map[string]session.Session),
		pending:  make(map[string]session.PendingSession),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) LoadSession(_ context.Context, storeID string) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadSessionErr != nil {
		return session.Session{}, r.loadSessionErr
	}
	if s, ok := r.sessions[storeID]; ok {
		return s, nil
	}
	return session.Session{}, serviceerr.ErrNotFound
}

// StoreSession overwrites any previous session for the same store. A login
// replacing an old session is the normal case, not a conflict.
func (r *Repository) StoreSession(_ context.Context, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeSessionErr != nil {
		return r.storeSessionErr
	}
	r.sessions[s.StoreID] = s
	return nil
}

func (r *Repository) ListSessions(_ context.Context) ([]session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listSessionsErr != nil {
		return nil, r.listSessionsErr
	}
	sessions := make([]session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *Repository) DeleteSession(_ context.Context, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteSessionErr != nil {
		return r.deleteSessionErr
	}
	if _, ok := r.sessions[s.StoreID]; !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.sessions, s.StoreID)
	return nil
}

func (r *Repository) LoadPending(_ context.Context, storeID string) (session.PendingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadPendingErr != nil {
		return session.PendingSession{}, r.loadPendingErr
	}
	if p, ok := r.pending[storeID]; ok {
		return p, nil
	}
	return session.PendingSession{}, serviceerr.ErrNotFound
}

func (r *Repository) StorePending(_ context.Context, p session.PendingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storePendingErr != nil {
		return r.storePendingErr
	}
	r.pending[p.StoreID] = p
	return nil
}

func (r *Repository) ListPending(_ context.Context) ([]session.PendingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]session.PendingSession, 0, len(r.pending))
	for _, p := range r.pending {
		pending = append(pending, p)
	}
	return pending, nil
}

func (r *Repository) DeletePending(_ context.Context, storeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deletePendingErr != nil {
		return r.deletePendingErr
	}
	if _, ok := r.pending[storeID]; !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.pending, storeID)
	return nil
}
