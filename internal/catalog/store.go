package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the model catalog snapshot. The
// snapshot is written by an external fetch (or the seed command); the
// orchestrator only ever reads it.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// List returns all models in the current catalog snapshot, ordered by rank.
func (s *Store) List(ctx context.Context) ([]Model, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, rank, family, tier, is_free, prompt_price, completion_price, request_price
		 FROM models
		 ORDER BY rank, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer rows.Close()

	var models []Model
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.ID, &m.Name, &m.Rank, &m.Family, &m.Tier, &m.IsFree,
			&m.Pricing.Prompt, &m.Pricing.Completion, &m.Pricing.Request); err != nil {
			return nil, fmt.Errorf("scanning model row: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating model rows: %w", err)
	}
	return models, nil
}

// GetByID retrieves a single model by its ID.
func (s *Store) GetByID(ctx context.Context, id string) (*Model, error) {
	m := &Model{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, rank, family, tier, is_free, prompt_price, completion_price, request_price
		 FROM models
		 WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.Name, &m.Rank, &m.Family, &m.Tier, &m.IsFree,
		&m.Pricing.Prompt, &m.Pricing.Completion, &m.Pricing.Request)
	if err != nil {
		return nil, fmt.Errorf("getting model: %w", err)
	}
	return m, nil
}

// Replace swaps the whole catalog snapshot in a single transaction. The old
// snapshot stays visible to concurrent readers until the commit.
func (s *Store) Replace(ctx context.Context, models []Model) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning catalog replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM models`); err != nil {
		return fmt.Errorf("clearing models: %w", err)
	}

	batch := &pgx.Batch{}
	for _, m := range models {
		batch.Queue(
			`INSERT INTO models (id, name, rank, family, tier, is_free, prompt_price, completion_price, request_price)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.ID, m.Name, m.Rank, m.Family, m.Tier, m.IsFree,
			m.Pricing.Prompt, m.Pricing.Completion, m.Pricing.Request,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting models: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing catalog replace: %w", err)
	}
	return nil
}
