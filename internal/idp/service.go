package idp

import (
	"context"
	"errors"
	"fmt"

	"github.com/openscms/auth-gateway/internal/serviceerr"
)

type Service struct {
	repository Repository
}

func NewService(repo Repository) *Service {
	return &Service{
		repository: repo,
	}
}

func (s *Service) Get(ctx context.Context, school string) (Provider, error) {
	provider, err := s.repository.Get(ctx, school)
	if err != nil {
		return Provider{}, fmt.Errorf("getting provider for school: %w", err)
	}

	return provider, nil
}

// ResolveClientID returns the school's Google client ID, falling back to
// the default when the school has no entry. A blocked school cannot sign in
// with Google at all.
func (s *Service) ResolveClientID(ctx context.Context, school, fallback string) (string, error) {
	provider, err := s.repository.Get(ctx, school)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return fallback, nil
		}

		return "", fmt.Errorf("getting provider for school: %w", err)
	}

	if provider.Blocked {
		return "", serviceerr.ErrNotConfigured.WithDescription("Google sign-in is disabled for this school")
	}

	if provider.ClientID == "" {
		return fallback, nil
	}

	return provider.ClientID, nil
}

func (s *Service) Create(ctx context.Context, school string, provider Provider) error {
	if err := s.repository.Create(ctx, school, provider); err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	return nil
}

func (s *Service) Update(ctx context.Context, school string, provider Provider) error {
	if err := s.repository.Update(ctx, school, provider); err != nil {
		return fmt.Errorf("updating provider: %w", err)
	}

	return nil
}

func (s *Service) Delete(ctx context.Context, school string) error {
	if err := s.repository.Delete(ctx, school); err != nil {
		return fmt.Errorf("deleting provider: %w", err)
	}

	return nil
}
