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

const txColumns = `id, user_key, type, amount, note, acting_admin_key, kind, created_at`

// TransactionRepository handles transaction log persistence.
// Rows are append-only; they are removed only by history clears and
// user deletion.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(
		&t.ID,
		&t.UserKey,
		&t.Type,
		&t.Amount,
		&t.Note,
		&t.ActingAdminKey,
		&t.Kind,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTx appends a transaction record inside a transaction, so the
// append commits or rolls back together with the balance write it
// describes.
func (r *TransactionRepository) InsertTx(ctx context.Context, tx pgx.Tx, t *model.Transaction) (*model.Transaction, error) {
	const query = `
		INSERT INTO transactions (id, user_key, type, amount, note, acting_admin_key, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + txColumns

	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}

	created, err := scanTransaction(tx.QueryRow(ctx, query,
		id, t.UserKey, t.Type, t.Amount, t.Note, t.ActingAdminKey, t.Kind,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return created, nil
}

// DeleteTx removes a transaction record inside a transaction. Used only
// by the undo path, in the same atomic unit as the reversing balance
// write.
func (r *TransactionRepository) DeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	const query = `DELETE FROM transactions WHERE id = $1`

	_, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// GetByUserKey retrieves transactions for a user, newest first.
func (r *TransactionRepository) GetByUserKey(ctx context.Context, userKey string, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE user_key = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// GetByUserKeyAndKind retrieves transactions for a user filtered by kind.
func (r *TransactionRepository) GetByUserKeyAndKind(ctx context.Context, userKey, kind string, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE user_key = $1 AND kind = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, userKey, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// GetLatestByActingAdminTx returns the most recent points transaction
// an admin performed, read inside the undo operation's transaction so
// the reversal and the removal see the same row.
func (r *TransactionRepository) GetLatestByActingAdminTx(ctx context.Context, tx pgx.Tx, adminKey string) (*model.Transaction, error) {
	const query = `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE acting_admin_key = $1 AND kind = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	t, err := scanTransaction(tx.QueryRow(ctx, query, adminKey, model.KindPoints))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get latest admin transaction: %w", err)
	}

	return t, nil
}

// TotalAdminCredit sums admin-issued point credits for a user within an
// optional time range. Zero times mean unbounded.
func (r *TransactionRepository) TotalAdminCredit(ctx context.Context, userKey string, from, to time.Time) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_key = $1
		  AND kind = $2
		  AND type = $3
		  AND acting_admin_key IS NOT NULL
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at <= $5)
	`

	var total int64
	err := r.pool.QueryRow(ctx, query, userKey, model.KindPoints, model.TxCredit,
		nullableTime(from), nullableTime(to)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total admin credit: %w", err)
	}

	return total, nil
}

// NetPoints sums all point credits minus debits for a user within an
// optional time range.
func (r *TransactionRepository) NetPoints(ctx context.Context, userKey string, from, to time.Time) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(CASE WHEN type = $3 THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE user_key = $1
		  AND kind = $2
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at <= $5)
	`

	var total int64
	err := r.pool.QueryRow(ctx, query, userKey, model.KindPoints, model.TxCredit,
		nullableTime(from), nullableTime(to)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total points: %w", err)
	}

	return total, nil
}

// DeleteByUserKeyTx removes all transaction records for a user inside a
// transaction, as part of a history clear.
func (r *TransactionRepository) DeleteByUserKeyTx(ctx context.Context, tx pgx.Tx, userKey string) error {
	const query = `DELETE FROM transactions WHERE user_key = $1`

	_, err := tx.Exec(ctx, query, userKey)
	if err != nil {
		return fmt.Errorf("failed to clear transactions: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
