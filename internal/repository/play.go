package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"club-ledger/internal/model"
)

const playColumns = `id, user_key, round_id, selection, stake, outcome, created_at`

// PlayRepository handles round participation records.
type PlayRepository struct {
	pool *pgxpool.Pool
}

// NewPlayRepository creates a new PlayRepository instance.
func NewPlayRepository(pool *pgxpool.Pool) *PlayRepository {
	return &PlayRepository{pool: pool}
}

func scanPlay(row pgx.Row) (*model.Play, error) {
	var p model.Play
	err := row.Scan(
		&p.ID,
		&p.UserKey,
		&p.RoundID,
		&p.Selection,
		&p.Stake,
		&p.Outcome,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertTx appends a play record inside a transaction, paired with the
// stake debit.
func (r *PlayRepository) InsertTx(ctx context.Context, tx pgx.Tx, p *model.Play) (*model.Play, error) {
	const query = `
		INSERT INTO plays (id, user_key, round_id, selection, stake, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING ` + playColumns

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	outcome := p.Outcome
	if outcome == "" {
		outcome = model.OutcomePending
	}

	created, err := scanPlay(tx.QueryRow(ctx, query,
		id, p.UserKey, p.RoundID, p.Selection, p.Stake, outcome,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert play: %w", err)
	}

	return created, nil
}

// GetByID retrieves a single play record.
func (r *PlayRepository) GetByID(ctx context.Context, id string) (*model.Play, error) {
	const query = `SELECT ` + playColumns + ` FROM plays WHERE id = $1`

	p, err := scanPlay(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayNotFound
		}
		return nil, fmt.Errorf("failed to get play: %w", err)
	}

	return p, nil
}

// GetByUserKey retrieves plays for a user, newest first.
func (r *PlayRepository) GetByUserKey(ctx context.Context, userKey string, limit int) ([]*model.Play, error) {
	const query = `
		SELECT ` + playColumns + `
		FROM plays
		WHERE user_key = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get plays: %w", err)
	}
	defer rows.Close()

	var plays []*model.Play
	for rows.Next() {
		p, err := scanPlay(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan play: %w", err)
		}
		plays = append(plays, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plays: %w", err)
	}

	return plays, nil
}

// GetPendingByRound retrieves all unsettled plays for a round.
func (r *PlayRepository) GetPendingByRound(ctx context.Context, roundID string) ([]*model.Play, error) {
	const query = `
		SELECT ` + playColumns + `
		FROM plays
		WHERE round_id = $1 AND outcome = $2
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, roundID, model.OutcomePending)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending plays: %w", err)
	}
	defer rows.Close()

	var plays []*model.Play
	for rows.Next() {
		p, err := scanPlay(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan play: %w", err)
		}
		plays = append(plays, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plays: %w", err)
	}

	return plays, nil
}

// SettleTx marks a pending play with its outcome inside a transaction.
// Returns false if the play was already settled, which makes settlement
// idempotent under concurrent settlers.
func (r *PlayRepository) SettleTx(ctx context.Context, tx pgx.Tx, id, outcome string) (bool, error) {
	const query = `UPDATE plays SET outcome = $2 WHERE id = $1 AND outcome = $3`

	tag, err := tx.Exec(ctx, query, id, outcome, model.OutcomePending)
	if err != nil {
		return false, fmt.Errorf("failed to settle play: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// WinLossTotals sums the stakes of settled winning and losing plays for
// a user within an optional time range. Zero times mean unbounded.
func (r *PlayRepository) WinLossTotals(ctx context.Context, userKey string, from, to time.Time) (win, loss int64, err error) {
	const query = `
		SELECT
			COALESCE(SUM(stake) FILTER (WHERE outcome = $2), 0),
			COALESCE(SUM(stake) FILTER (WHERE outcome = $3), 0)
		FROM plays
		WHERE user_key = $1
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at <= $5)
	`

	err = r.pool.QueryRow(ctx, query, userKey, model.OutcomeWin, model.OutcomeLose,
		nullableTime(from), nullableTime(to)).Scan(&win, &loss)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to total win/loss: %w", err)
	}

	return win, loss, nil
}

// DeleteByUserKeyTx removes all play records for a user inside a
// transaction, as part of a history clear.
func (r *PlayRepository) DeleteByUserKeyTx(ctx context.Context, tx pgx.Tx, userKey string) error {
	const query = `DELETE FROM plays WHERE user_key = $1`

	_, err := tx.Exec(ctx, query, userKey)
	if err != nil {
		return fmt.Errorf("failed to clear plays: %w", err)
	}
	return nil
}
