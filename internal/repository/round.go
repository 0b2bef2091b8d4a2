package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"club-ledger/internal/model"
)

const roundColumns = `round_id, number, color, size, source, created_at`

// RoundRepository handles round result persistence. Results are
// write-once per round id; the primary key backstops the
// check-then-insert performed inside the oracle's atomic block.
type RoundRepository struct {
	pool *pgxpool.Pool
}

// NewRoundRepository creates a new RoundRepository instance.
func NewRoundRepository(pool *pgxpool.Pool) *RoundRepository {
	return &RoundRepository{pool: pool}
}

func scanRound(row pgx.Row) (*model.RoundResult, error) {
	var r model.RoundResult
	err := row.Scan(
		&r.RoundID,
		&r.Number,
		&r.Color,
		&r.Size,
		&r.Source,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Get retrieves a round result by round id.
func (r *RoundRepository) Get(ctx context.Context, roundID string) (*model.RoundResult, error) {
	const query = `SELECT ` + roundColumns + ` FROM round_results WHERE round_id = $1`

	result, err := scanRound(r.pool.QueryRow(ctx, query, roundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round result: %w", err)
	}

	return result, nil
}

// GetTx retrieves a round result inside a transaction.
func (r *RoundRepository) GetTx(ctx context.Context, tx pgx.Tx, roundID string) (*model.RoundResult, error) {
	const query = `SELECT ` + roundColumns + ` FROM round_results WHERE round_id = $1`

	result, err := scanRound(tx.QueryRow(ctx, query, roundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round result: %w", err)
	}

	return result, nil
}

// InsertTx writes a round result inside a transaction. The primary key
// on round_id rejects a second writer that slipped past the read check.
func (r *RoundRepository) InsertTx(ctx context.Context, tx pgx.Tx, result *model.RoundResult) (*model.RoundResult, error) {
	const query = `
		INSERT INTO round_results (round_id, number, color, size, source, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING ` + roundColumns

	created, err := scanRound(tx.QueryRow(ctx, query,
		result.RoundID, result.Number, result.Color, result.Size, result.Source,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert round result: %w", err)
	}

	return created, nil
}

// ListRecent retrieves the most recently materialized results.
func (r *RoundRepository) ListRecent(ctx context.Context, limit int) ([]*model.RoundResult, error) {
	const query = `
		SELECT ` + roundColumns + `
		FROM round_results
		ORDER BY round_id DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list round results: %w", err)
	}
	defer rows.Close()

	var results []*model.RoundResult
	for rows.Next() {
		result, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round result: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating round results: %w", err)
	}

	return results, nil
}
