package idpsql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openscms/auth-gateway/internal/idp"
	"github.com/openscms/auth-gateway/internal/serviceerr"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Get(ctx context.Context, school string) (idp.Provider, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return idp.Provider{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT client_id, hosted_domain, blocked, properties FROM identity_providers WHERE school = $1;`, school)

	var propsBytes []byte
	var provider idp.Provider
	if err := row.Scan(&provider.ClientID, &provider.HostedDomain, &provider.Blocked, &propsBytes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return idp.Provider{}, serviceerr.ErrNotFound
		}

		return idp.Provider{}, fmt.Errorf("scanning rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return idp.Provider{}, fmt.Errorf("committing tx: %w", err)
	}

	if len(propsBytes) > 0 {
		if err := json.Unmarshal(propsBytes, &provider.Properties); err != nil {
			return idp.Provider{}, fmt.Errorf("unmarshalling properties: %w", err)
		}
	} else {
		provider.Properties = make(map[string]string)
	}

	return provider, nil
}

func (r *Repository) Create(ctx context.Context, school string, provider idp.Provider) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	propsBytes, err := marshalProperties(provider)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO identity_providers (school, client_id, hosted_domain, blocked, properties)
			 VALUES ($1, $2, $3, $4, $5);`,
		school, provider.ClientID, provider.HostedDomain, provider.Blocked, propsBytes,
	); err != nil {
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("inserting into identity_providers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (r *Repository) Update(ctx context.Context, school string, provider idp.Provider) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	propsBytes, err := marshalProperties(provider)
	if err != nil {
		return err
	}

	ct, err := tx.Exec(ctx,
		`UPDATE identity_providers
			 SET client_id = $1, hosted_domain = $2, blocked = $3, properties = $4
			 WHERE school = $5;`,
		provider.ClientID, provider.HostedDomain, provider.Blocked, propsBytes, school)
	if err != nil {
		return fmt.Errorf("updating identity_providers: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, school string) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `DELETE FROM identity_providers WHERE school = $1;`, school)
	if err != nil {
		return fmt.Errorf("executing sql query: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

func marshalProperties(provider idp.Provider) ([]byte, error) {
	propsBytes, err := json.Marshal(provider.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshaling json: %w", err)
	}
	return propsBytes, nil
}
