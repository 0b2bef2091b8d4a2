// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"club-ledger/internal/model"
	"club-ledger/internal/pkg/db"
	"club-ledger/internal/repository"
)

// Wallet-related errors.
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient admin allowance")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNothingToUndo         = errors.New("no admin transaction to undo")
)

// WalletService mutates point balances. Every mutation runs inside one
// atomic store transaction together with its transaction-log append, so
// the non-negative invariant and the 1:1 pairing hold under arbitrary
// concurrent callers.
type WalletService struct {
	pool     *pgxpool.Pool
	userRepo *repository.UserRepository
	txRepo   *repository.TransactionRepository
}

// NewWalletService creates a new WalletService instance.
func NewWalletService(
	pool *pgxpool.Pool,
	userRepo *repository.UserRepository,
	txRepo *repository.TransactionRepository,
) *WalletService {
	return &WalletService{
		pool:     pool,
		userRepo: userRepo,
		txRepo:   txRepo,
	}
}

// Adjust applies a signed delta to a user's points balance and appends
// the paired transaction record in the same atomic unit.
// Returns the new balance.
func (s *WalletService) Adjust(ctx context.Context, userKey string, delta int64, note string, actingAdminKey *string) (int64, error) {
	if delta == 0 {
		return 0, fmt.Errorf("%w: delta must be non-zero", ErrInvalidAmount)
	}

	var newBalance int64
	err := db.RunAtomic(ctx, s.pool, func(tx pgx.Tx) error {
		balance, err := s.applyDeltaTx(ctx, tx, userKey, delta, note, actingAdminKey)
		if err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Str("user_key", userKey).
		Int64("delta", delta).
		Int64("balance", newBalance).
		Msg("Balance adjusted")

	return newBalance, nil
}

// AdjustAsActor applies a delta on behalf of an acting principal,
// enforcing the admin allowance gate: an admin crediting an end user
// consumes allowance in the same atomic unit as the target's mutation.
// Debits and superadmin actors bypass the gate.
func (s *WalletService) AdjustAsActor(ctx context.Context, userKey string, delta int64, note, actingKey string) (int64, error) {
	if delta == 0 {
		return 0, fmt.Errorf("%w: delta must be non-zero", ErrInvalidAmount)
	}
	if actingKey == "" {
		return 0, fmt.Errorf("%w: acting key required", ErrUnauthorized)
	}

	var newBalance int64
	err := db.RunAtomic(ctx, s.pool, func(tx pgx.Tx) error {
		actor, err := s.userRepo.GetForUpdateTx(ctx, tx, actingKey)
		if err != nil {
			return mapUserErr(err)
		}

		switch actor.Role {
		case model.RoleSuperAdmin:
			// No allowance applies.
		case model.RoleAdmin:
			target, err := s.userRepo.GetForUpdateTx(ctx, tx, userKey)
			if err != nil {
				return mapUserErr(err)
			}
			if target.Role == model.RoleUser && delta > 0 {
				remaining := actor.AllowanceRemaining()
				if delta > remaining {
					return fmt.Errorf("%w: remaining %d, requested %d",
						ErrInsufficientAllowance, remaining, delta)
				}
				if err := s.userRepo.ConsumeAllowanceTx(ctx, tx, actingKey, delta); err != nil {
					return err
				}
				if _, err := s.txRepo.InsertTx(ctx, tx, &model.Transaction{
					UserKey: actingKey,
					Type:    model.TxDebit,
					Amount:  delta,
					Note:    fmt.Sprintf("allowance consumed crediting %s", userKey),
					Kind:    model.KindAdminWallet,
				}); err != nil {
					return err
				}
			}
		case model.RoleUser:
			return fmt.Errorf("%w: user-role actors cannot adjust balances", ErrUnauthorized)
		default:
			return fmt.Errorf("%w: unknown role %q", ErrUnauthorized, actor.Role)
		}

		balance, err := s.applyDeltaTx(ctx, tx, userKey, delta, note, &actingKey)
		if err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Str("user_key", userKey).
		Str("acting_key", actingKey).
		Int64("delta", delta).
		Int64("balance", newBalance).
		Msg("Balance adjusted by actor")

	return newBalance, nil
}

// GrantAllowance raises an admin's total allowance. Only a superadmin
// may grant; the raise and its admin-wallet record commit together.
func (s *WalletService) GrantAllowance(ctx context.Context, adminKey string, amount int64, superKey string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	err := db.RunAtomic(ctx, s.pool, func(tx pgx.Tx) error {
		super, err := s.userRepo.GetForUpdateTx(ctx, tx, superKey)
		if err != nil {
			return mapUserErr(err)
		}
		if super.Role != model.RoleSuperAdmin {
			return fmt.Errorf("%w: only a superadmin may grant allowance", ErrUnauthorized)
		}

		admin, err := s.userRepo.GetForUpdateTx(ctx, tx, adminKey)
		if err != nil {
			return mapUserErr(err)
		}
		if admin.Role != model.RoleAdmin {
			return fmt.Errorf("%w: allowance applies to admin accounts only", ErrUnauthorized)
		}

		if err := s.userRepo.GrantAllowanceTx(ctx, tx, adminKey, amount); err != nil {
			return err
		}

		_, err = s.txRepo.InsertTx(ctx, tx, &model.Transaction{
			UserKey:        adminKey,
			Type:           model.TxCredit,
			Amount:         amount,
			Note:           "allowance granted",
			ActingAdminKey: &superKey,
			Kind:           model.KindAdminWallet,
		})
		return err
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("admin_key", adminKey).
		Str("super_key", superKey).
		Int64("amount", amount).
		Msg("Allowance granted")

	return nil
}

// UndoLastAdminTxn reverses the most recent points transaction an admin
// performed: the target balance is re-adjusted by the opposite delta
// and the record removed, all in one atomic unit. Reversing a credit
// fails with ErrInsufficientBalance if the target has since spent the
// points.
func (s *WalletService) UndoLastAdminTxn(ctx context.Context, adminKey string) (int64, error) {
	var newBalance int64
	err := db.RunAtomic(ctx, s.pool, func(tx pgx.Tx) error {
		last, err := s.txRepo.GetLatestByActingAdminTx(ctx, tx, adminKey)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNothingToUndo
			}
			return err
		}

		user, err := s.userRepo.GetForUpdateTx(ctx, tx, last.UserKey)
		if err != nil {
			return mapUserErr(err)
		}

		next := user.Points - last.Signed()
		if next < 0 {
			return fmt.Errorf("%w: cannot undo, balance %d, reversal %d",
				ErrInsufficientBalance, user.Points, -last.Signed())
		}

		if err := s.userRepo.SetPointsTx(ctx, tx, last.UserKey, next); err != nil {
			return err
		}
		if err := s.txRepo.DeleteTx(ctx, tx, last.ID); err != nil {
			return err
		}

		newBalance = next
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Str("admin_key", adminKey).
		Int64("balance", newBalance).
		Msg("Last admin transaction undone")

	return newBalance, nil
}

// applyDeltaTx performs the core balance mutation inside an open
// transaction: read with row lock, non-negative check, write, paired
// transaction append.
func (s *WalletService) applyDeltaTx(ctx context.Context, tx pgx.Tx, userKey string, delta int64, note string, actingAdminKey *string) (int64, error) {
	user, err := s.userRepo.GetForUpdateTx(ctx, tx, userKey)
	if err != nil {
		return 0, mapUserErr(err)
	}

	next := user.Points + delta
	if next < 0 {
		return 0, fmt.Errorf("%w: balance %d, requested %d",
			ErrInsufficientBalance, user.Points, delta)
	}

	if err := s.userRepo.SetPointsTx(ctx, tx, userKey, next); err != nil {
		return 0, err
	}

	txType := model.TxCredit
	amount := delta
	if delta < 0 {
		txType = model.TxDebit
		amount = -delta
	}

	if _, err := s.txRepo.InsertTx(ctx, tx, &model.Transaction{
		UserKey:        userKey,
		Type:           txType,
		Amount:         amount,
		Note:           note,
		ActingAdminKey: actingAdminKey,
		Kind:           model.KindPoints,
	}); err != nil {
		return 0, err
	}

	return next, nil
}

// mapUserErr translates repository not-found errors into the service
// sentinel.
func mapUserErr(err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}
