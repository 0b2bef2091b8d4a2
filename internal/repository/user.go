// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"club-ledger/internal/model"
)

// Common errors for repository operations.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user key already exists")
	ErrPhoneExists   = errors.New("phone already exists")
	ErrPlayNotFound  = errors.New("play not found")
	ErrRoundNotFound = errors.New("round result not found")
)

const userColumns = `key, role, name, phone, blocked, points, admin_wallet, admin_used, password_hash, created_at, updated_at`

// UserRepository handles user data persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.Key,
		&u.Role,
		&u.Name,
		&u.Phone,
		&u.Blocked,
		&u.Points,
		&u.AdminWallet,
		&u.AdminUsed,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user record.
// Returns ErrUserExists or ErrPhoneExists on uniqueness violations.
func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	const query = `
		INSERT INTO users (key, role, name, phone, blocked, points, admin_wallet, admin_used, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING ` + userColumns

	created, err := scanUser(r.pool.QueryRow(ctx, query,
		u.Key, u.Role, u.Name, u.Phone, u.Blocked,
		u.Points, u.AdminWallet, u.AdminUsed, u.PasswordHash,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "users_phone_key" {
				return nil, ErrPhoneExists
			}
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return created, nil
}

// GetByKey retrieves a user by their key.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByKey(ctx context.Context, key string) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE key = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByKeyOrPhone retrieves a user by key or by phone number.
// Used for login where either identifier is accepted.
func (r *UserRepository) GetByKeyOrPhone(ctx context.Context, id string) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE key = $1 OR phone = $1 LIMIT 1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetForUpdateTx reads a user inside a transaction with a row lock, so
// concurrent mutators of the same user serialize on the store.
func (r *UserRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, key string) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE key = $1 FOR UPDATE`

	user, err := scanUser(tx.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user for update: %w", err)
	}

	return user, nil
}

// SetPointsTx writes a user's points balance inside a transaction.
// The caller has already validated the new balance is non-negative
// against the row read in the same transaction.
func (r *UserRepository) SetPointsTx(ctx context.Context, tx pgx.Tx, key string, points int64) error {
	const query = `UPDATE users SET points = $2, updated_at = NOW() WHERE key = $1`

	tag, err := tx.Exec(ctx, query, key, points)
	if err != nil {
		return fmt.Errorf("failed to set points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ConsumeAllowanceTx increments an admin's consumed allowance inside a
// transaction.
func (r *UserRepository) ConsumeAllowanceTx(ctx context.Context, tx pgx.Tx, key string, amount int64) error {
	const query = `UPDATE users SET admin_used = admin_used + $2, updated_at = NOW() WHERE key = $1`

	tag, err := tx.Exec(ctx, query, key, amount)
	if err != nil {
		return fmt.Errorf("failed to consume allowance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GrantAllowanceTx raises an admin's total allowance inside a
// transaction.
func (r *UserRepository) GrantAllowanceTx(ctx context.Context, tx pgx.Tx, key string, amount int64) error {
	const query = `UPDATE users SET admin_wallet = admin_wallet + $2, updated_at = NOW() WHERE key = $1`

	tag, err := tx.Exec(ctx, query, key, amount)
	if err != nil {
		return fmt.Errorf("failed to grant allowance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// List retrieves all users, newest first.
func (r *UserRepository) List(ctx context.Context) ([]*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// GetTopByPoints retrieves the top N users by balance.
func (r *UserRepository) GetTopByPoints(ctx context.Context, limit int) ([]*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE role = $1 ORDER BY points DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, model.RoleUser, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// UpdateName updates a user's display name.
func (r *UserRepository) UpdateName(ctx context.Context, key, name string) error {
	const query = `UPDATE users SET name = $2, updated_at = NOW() WHERE key = $1`

	tag, err := r.pool.Exec(ctx, query, key, name)
	if err != nil {
		return fmt.Errorf("failed to update name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePasswordHash replaces a user's credential hash.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, key, hash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE key = $1`

	tag, err := r.pool.Exec(ctx, query, key, hash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetBlocked toggles a user's blocked flag.
func (r *UserRepository) SetBlocked(ctx context.Context, key string, blocked bool) error {
	const query = `UPDATE users SET blocked = $2, updated_at = NOW() WHERE key = $1`

	tag, err := r.pool.Exec(ctx, query, key, blocked)
	if err != nil {
		return fmt.Errorf("failed to set blocked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete removes a user. Dependent transactions and plays are purged by
// the ON DELETE CASCADE constraints.
func (r *UserRepository) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM users WHERE key = $1`

	tag, err := r.pool.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Exists checks if a user with the given key exists.
func (r *UserRepository) Exists(ctx context.Context, key string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE key = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return exists, nil
}
