package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the sequence table used by Postgres
const Schema = `
CREATE TABLE IF NOT EXISTS nfe_sequences (
	company_id  TEXT    NOT NULL,
	branch      TEXT    NOT NULL DEFAULT '',
	model       TEXT    NOT NULL,
	series      INTEGER NOT NULL,
	last_number BIGINT  NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (company_id, branch, model, series)
)`

// Postgres allocates numbers under a row lock of the sequence key
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates the allocator. Call Migrate once before use.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// NewPool connects and pings the database
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url not set")
	}
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the sequence table
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create sequence table: %w", err)
	}
	return nil
}

// Seed raises the highest used number of a key
func (p *Postgres) Seed(ctx context.Context, key Key, last int64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO nfe_sequences (company_id, branch, model, series, last_number)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, branch, model, series)
		DO UPDATE SET last_number = GREATEST(nfe_sequences.last_number, EXCLUDED.last_number), updated_at = NOW()
	`, key.CompanyID, key.Branch, string(key.Model), key.Series, last)
	if err != nil {
		return fmt.Errorf("failed to seed sequence %s: %w", key, err)
	}
	return nil
}

// Next implements Allocator. The highest number of the key, used or not,
// is read under FOR UPDATE so concurrent emissions never share a number.
func (p *Postgres) Next(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO nfe_sequences (company_id, branch, model, series)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id, branch, model, series) DO NOTHING
	`, key.CompanyID, key.Branch, string(key.Model), key.Series); err != nil {
		return 0, fmt.Errorf("failed to create sequence %s: %w", key, err)
	}

	var last int64
	err = tx.QueryRow(ctx, `
		SELECT last_number
		FROM nfe_sequences
		WHERE company_id = $1 AND branch = $2 AND model = $3 AND series = $4
		FOR UPDATE
	`, key.CompanyID, key.Branch, string(key.Model), key.Series).Scan(&last)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("sequence not found: %s", key)
		}
		return 0, fmt.Errorf("failed to lock sequence %s: %w", key, err)
	}

	next := last + 1
	if next > MaxNumber {
		return 0, exhausted(key)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE nfe_sequences
		SET last_number = $5, updated_at = NOW()
		WHERE company_id = $1 AND branch = $2 AND model = $3 AND series = $4
	`, key.CompanyID, key.Branch, string(key.Model), key.Series, next); err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit sequence %s: %w", key, err)
	}
	return next, nil
}
