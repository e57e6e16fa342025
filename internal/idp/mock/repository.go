package idpmock

import (
	"context"

	"github.com/openscms/auth-gateway/internal/idp"
	"github.com/openscms/auth-gateway/internal/serviceerr"
)

type Repository struct {
	Providers map[string]idp.Provider

	getErr, createErr, updateErr, deleteErr error
}

func NewInMemRepository(getErr, createErr, updateErr, deleteErr error) *Repository {
	return &Repository{
		Providers: make(map[string]idp.Provider),

		getErr:    getErr,
		createErr: createErr,
		updateErr: updateErr,
		deleteErr: deleteErr,
	}
}

var _ = idp.Repository(&Repository{})

func (r *Repository) Get(_ context.Context, school string) (idp.Provider, error) {
	if r.getErr != nil {
		return idp.Provider{}, r.getErr
	}

	if provider, ok := r.Providers[school]; ok {
		return provider, nil
	}

	return idp.Provider{}, serviceerr.ErrNotFound
}

func (r *Repository) Create(_ context.Context, school string, provider idp.Provider) error {
	if r.createErr != nil {
		return r.createErr
	}

	if _, ok := r.Providers[school]; ok {
		return serviceerr.ErrConflict
	}

	r.Providers[school] = provider

	return nil
}

func (r *Repository) Update(_ context.Context, school string, provider idp.Provider) error {
	if r.updateErr != nil {
		return r.updateErr
	}

	if _, ok := r.Providers[school]; !ok {
		return serviceerr.ErrNotFound
	}

	r.Providers[school] = provider

	return nil
}

func (r *Repository) Delete(_ context.Context, school string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}

	if _, ok := r.Providers[school]; !ok {
		return serviceerr.ErrNotFound
	}

	delete(r.Providers, school)

	return nil
}
