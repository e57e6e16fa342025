package idp

import "context"

// Repository reads and writes the provider settings of a school.
type Repository interface {
	Get(ctx context.Context, school string) (Provider, error)
	Create(ctx context.Context, school string, provider Provider) error
	Update(ctx context.Context, school string, provider Provider) error
	Delete(ctx context.Context, school string) error
}
