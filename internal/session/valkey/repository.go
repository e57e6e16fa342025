// Package sessionvalkey stores login state in valkey so every gateway
// replica sees the same per-store session, the same way a browser's shared
// localStorage makes a login visible to every tab. Besides the session
// object itself, the token and user are mirrored under their own keys for
// operators poking around with a CLI client.
package sessionvalkey

import (
	"context"
	"errors"
	"time"

	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openscms/auth-gateway/internal/session"
)

const (
	objectTypeSession   = "session"
	objectTypePending   = "pending"
	objectTypeToken     = "token"
	objectTypeTempToken = "temp_token"

	// Key name kept from the web client's localStorage entry so existing
	// tooling that watches scms:logged_in_user:* keeps working.
	objectTypeUser = "logged_in_user"
)

var (
	ErrGetSessions  = errors.New("getting sessions from store")
	ErrGetSession   = errors.New("getting session from store")
	ErrStoreSession = errors.New("setting session into storage")
	ErrGetPending   = errors.New("getting pending session from store")
	ErrStorePending = errors.New("setting pending session into storage")
	ErrListPending  = errors.New("listing pending sessions from store")
)

type Repository struct {
	store *store
}

var _ = session.Repository(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix),
	}
}

func (r *Repository) LoadSession(ctx context.Context, storeID string) (session.Session, error) {
	var s session.Session
	if err := r.store.Get(ctx, objectTypeSession, storeID, &s); err != nil {
		return session.Session{}, errors.Join(ErrGetSession, err)
	}

	return s, nil
}

func (r *Repository) StoreSession(ctx context.Context, s session.Session) error {
	duration := time.Until(s.Expiry)

	var errs []error
	if err := r.store.Set(ctx, objectTypeToken, s.StoreID, s.Token, duration); err != nil {
		errs = append(errs, err)
	}

	if err := r.store.Set(ctx, objectTypeUser, s.StoreID, s.User, duration); err != nil {
		errs = append(errs, err)
	}

	if err := r.store.Set(ctx, objectTypeSession, s.StoreID, s, duration); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		if err := r.DeleteSession(ctx, s); err != nil {
			slogctx.Error(ctx, "couldn't delete session during rollback", "error", err)
			return err
		}
		return ErrStoreSession
	}

	return nil
}

func (r *Repository) ListSessions(ctx context.Context) ([]session.Session, error) {
	var sessions []session.Session
	if err := getStoreObjects(ctx, r.store, objectTypeSession, "*", &sessions); err != nil {
		return nil, errors.Join(ErrGetSessions, err)
	}

	return sessions, nil
}

func (r *Repository) DeleteSession(ctx context.Context, s session.Session) error {
	if err := r.store.Destroy(ctx, objectTypeSession, s.StoreID); err != nil {
		return err
	}
	if err := r.store.Destroy(ctx, objectTypeToken, s.StoreID); err != nil {
		return err
	}
	if err := r.store.Destroy(ctx, objectTypeUser, s.StoreID); err != nil {
		return err
	}

	return nil
}

func (r *Repository) LoadPending(ctx context.Context, storeID string) (session.PendingSession, error) {
	var p session.PendingSession
	if err := r.store.Get(ctx, objectTypePending, storeID, &p); err != nil {
		return session.PendingSession{}, errors.Join(ErrGetPending, err)
	}

	return p, nil
}

func (r *Repository) StorePending(ctx context.Context, p session.PendingSession) error {
	duration := time.Until(p.Challenge.ExpiresAt)

	var errs []error
	if err := r.store.Set(ctx, objectTypeTempToken, p.StoreID, p.Challenge.TempToken, duration); err != nil {
		errs = append(errs, err)
	}

	if err := r.store.Set(ctx, objectTypePending, p.StoreID, p, duration); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		if err := r.DeletePending(ctx, p.StoreID); err != nil {
			slogctx.Error(ctx, "couldn't delete pending session during rollback", "error", err)
			return err
		}
		return ErrStorePending
	}

	return nil
}

func (r *Repository) ListPending(ctx context.Context) ([]session.PendingSession, error) {
	var pending []session.PendingSession
	if err := getStoreObjects(ctx, r.store, objectTypePending, "*", &pending); err != nil {
		return nil, errors.Join(ErrListPending, err)
	}

	return pending, nil
}

func (r *Repository) DeletePending(ctx context.Context, storeID string) error {
	if err := r.store.Destroy(ctx, objectTypePending, storeID); err != nil {
		return err
	}

	return r.store.Destroy(ctx, objectTypeTempToken, storeID)
}
