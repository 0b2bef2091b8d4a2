package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"club-ledger/internal/game/draw"
	"club-ledger/internal/game/period"
	"club-ledger/internal/model"
	"club-ledger/internal/pkg/db"
	"club-ledger/internal/repository"
)

// Oracle-related errors.
var (
	ErrInvalidRoundID  = errors.New("invalid round id")
	ErrRoundNotElapsed = errors.New("round window has not elapsed")
)

// Oracle materializes round results. Results are fully determined by
// the round id; the oracle's job is persisting each exactly once, which
// it does with a read-check-then-write inside an atomic transaction.
type Oracle struct {
	pool      *pgxpool.Pool
	roundRepo *repository.RoundRepository
	now       func() time.Time
}

// NewOracle creates a new Oracle instance.
func NewOracle(pool *pgxpool.Pool, roundRepo *repository.RoundRepository) *Oracle {
	return &Oracle{
		pool:      pool,
		roundRepo: roundRepo,
		now:       time.Now,
	}
}

// EnsureResult returns the result for a round, materializing it on
// first request. Idempotent: concurrent callers racing on the same
// round all observe the identical result and exactly one row is
// written. Rounds whose window has not yet elapsed are refused.
func (o *Oracle) EnsureResult(ctx context.Context, roundID string) (*model.RoundResult, error) {
	elapsed, err := period.Elapsed(roundID, o.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoundID, err)
	}
	if !elapsed {
		return nil, fmt.Errorf("%w: %s", ErrRoundNotElapsed, roundID)
	}

	var result *model.RoundResult
	err = db.RunAtomic(ctx, o.pool, func(tx pgx.Tx) error {
		existing, err := o.roundRepo.GetTx(ctx, tx, roundID)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, repository.ErrRoundNotFound) {
			return err
		}

		outcome := draw.Derive(roundID)
		created, err := o.roundRepo.InsertTx(ctx, tx, &model.RoundResult{
			RoundID: roundID,
			Number:  outcome.Number,
			Color:   outcome.Color,
			Size:    outcome.Size,
			Source:  draw.Source,
		})
		if err != nil {
			return err
		}

		log.Info().
			Str("round_id", roundID).
			Int("number", created.Number).
			Str("color", created.Color).
			Str("size", created.Size).
			Msg("Round result materialized")

		result = created
		return nil
	})
	if err != nil {
		// A concurrent writer slipped past the read check and won the
		// primary-key race; its row is the result.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return o.roundRepo.Get(ctx, roundID)
		}
		return nil, err
	}

	return result, nil
}

// GetResult returns an already-materialized result without creating one.
func (o *Oracle) GetResult(ctx context.Context, roundID string) (*model.RoundResult, error) {
	if _, _, err := period.Parse(roundID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoundID, err)
	}
	return o.roundRepo.Get(ctx, roundID)
}
