package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// ErrTxConflict is returned when an atomic block kept losing the race
// after the bounded number of retries.
var ErrTxConflict = errors.New("transaction conflict: retries exhausted")

const (
	// maxAttempts bounds how often a conflicting atomic block is retried.
	maxAttempts = 5
	// retryBackoff is the pause between attempts.
	retryBackoff = 25 * time.Millisecond
)

// Beginner is the subset of pgxpool.Pool needed to open transactions.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// RunAtomic executes fn inside a serializable transaction. All reads and
// writes fn performs through the tx commit or roll back as one unit.
// Serialization failures and deadlocks are retried a bounded number of
// times; any other error from fn aborts immediately and is returned
// unchanged so callers can match sentinel errors with errors.Is.
func RunAtomic(ctx context.Context, pool Beginner, fn func(tx pgx.Tx) error) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		err = fn(tx)
		if err == nil {
			err = tx.Commit(ctx)
			if err == nil {
				return nil
			}
		}
		_ = tx.Rollback(ctx)

		if !isRetryable(err) {
			return err
		}

		lastErr = err
		log.Debug().
			Int("attempt", attempt).
			Err(err).
			Msg("Atomic block lost a race, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}

	return fmt.Errorf("%w: %v", ErrTxConflict, lastErr)
}

// isRetryable reports whether the error is a serialization failure
// (SQLSTATE 40001) or deadlock (40P01) that a fresh attempt may resolve.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
