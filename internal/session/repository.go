package session

import "context"

type Repository interface {
	// Session operations
	LoadSession(ctx context.Context, storeID string) (Session, error)
	StoreSession(ctx context.Context, session Session) error
	ListSessions(ctx context.Context) ([]Session, error)
	DeleteSession(ctx context.Context, session Session) error
	// Pending session operations
	LoadPending(ctx context.Context, storeID string) (PendingSession, error)
	StorePending(ctx context.Context, pending PendingSession) error
	ListPending(ctx context.Context) ([]PendingSession, error)
	DeletePending(ctx context.Context, storeID string) error
}
