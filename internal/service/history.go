package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"club-ledger/internal/model"
	"club-ledger/internal/pkg/db"
	"club-ledger/internal/repository"
)

// HistoryService reads per-user history and computes report totals.
type HistoryService struct {
	pool      *pgxpool.Pool
	userRepo  *repository.UserRepository
	txRepo    *repository.TransactionRepository
	playRepo  *repository.PlayRepository
	pageLimit int
}

// NewHistoryService creates a new HistoryService instance.
func NewHistoryService(
	pool *pgxpool.Pool,
	userRepo *repository.UserRepository,
	txRepo *repository.TransactionRepository,
	playRepo *repository.PlayRepository,
	pageLimit int,
) *HistoryService {
	if pageLimit <= 0 {
		pageLimit = 200
	}
	return &HistoryService{
		pool:      pool,
		userRepo:  userRepo,
		txRepo:    txRepo,
		playRepo:  playRepo,
		pageLimit: pageLimit,
	}
}

// Transactions returns a user's transaction history, newest first.
func (s *HistoryService) Transactions(ctx context.Context, userKey string) ([]*model.Transaction, error) {
	return s.txRepo.GetByUserKey(ctx, userKey, s.pageLimit)
}

// Plays returns a user's play history, newest first.
func (s *HistoryService) Plays(ctx context.Context, userKey string) ([]*model.Play, error) {
	return s.playRepo.GetByUserKey(ctx, userKey, s.pageLimit)
}

// Ledger merges admin transactions and game plays into one history,
// newest first. Each play contributes a stake entry and, when it won or
// tied, a payout entry.
func (s *HistoryService) Ledger(ctx context.Context, userKey string) ([]model.LedgerEntry, error) {
	txns, err := s.txRepo.GetByUserKeyAndKind(ctx, userKey, model.KindPoints, s.pageLimit)
	if err != nil {
		return nil, err
	}

	plays, err := s.playRepo.GetByUserKey(ctx, userKey, s.pageLimit)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LedgerEntry, 0, len(txns)+2*len(plays))

	for _, t := range txns {
		if t.ActingAdminKey == nil {
			continue // game entries come from plays below
		}
		label := "Admin Credit"
		if t.Type == model.TxDebit {
			label = "Admin Debit"
		}
		if t.Note != "" {
			label += " - " + t.Note
		}
		entries = append(entries, model.LedgerEntry{
			Kind:      "ADMIN",
			RoundID:   "-",
			Label:     label,
			Amount:    t.Signed(),
			Outcome:   "-",
			ByAdmin:   t.ActingAdminKey,
			CreatedAt: t.CreatedAt,
		})
	}

	for _, p := range plays {
		entries = append(entries, model.LedgerEntry{
			Kind:      "GAME",
			RoundID:   p.RoundID,
			Label:     fmt.Sprintf("Bet Entry - %s", p.Selection),
			Amount:    -p.Stake,
			Outcome:   p.Outcome,
			CreatedAt: p.CreatedAt,
		})

		if payout := payoutFor(p.Outcome, p.Stake); payout > 0 {
			entries = append(entries, model.LedgerEntry{
				Kind:      "GAME",
				RoundID:   p.RoundID,
				Label:     fmt.Sprintf("Payout - %s", p.Selection),
				Amount:    payout,
				Outcome:   p.Outcome,
				CreatedAt: p.CreatedAt,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	return entries, nil
}

// TotalAdminCredit sums admin-issued point credits for a user within an
// optional time range.
func (s *HistoryService) TotalAdminCredit(ctx context.Context, userKey string, from, to time.Time) (int64, error) {
	return s.txRepo.TotalAdminCredit(ctx, userKey, from, to)
}

// NetPoints sums point credits minus debits for a user within an
// optional time range.
func (s *HistoryService) NetPoints(ctx context.Context, userKey string, from, to time.Time) (int64, error) {
	return s.txRepo.NetPoints(ctx, userKey, from, to)
}

// WinLoss sums stakes of settled winning and losing plays for a user.
func (s *HistoryService) WinLoss(ctx context.Context, userKey string, from, to time.Time) (win, loss int64, err error) {
	return s.playRepo.WinLossTotals(ctx, userKey, from, to)
}

// ClearHistory purges a user's transactions and plays, optionally
// resetting the wallet to zero, all in one atomic unit.
func (s *HistoryService) ClearHistory(ctx context.Context, userKey string, resetWallet bool, actingKey string) error {
	actor, err := s.userRepo.GetByKey(ctx, actingKey)
	if err != nil {
		return mapUserErr(err)
	}
	if actor.Role != model.RoleAdmin && actor.Role != model.RoleSuperAdmin {
		return fmt.Errorf("%w: role %q cannot clear history", ErrUnauthorized, actor.Role)
	}

	err = db.RunAtomic(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := s.userRepo.GetForUpdateTx(ctx, tx, userKey); err != nil {
			return mapUserErr(err)
		}
		if err := s.txRepo.DeleteByUserKeyTx(ctx, tx, userKey); err != nil {
			return err
		}
		if err := s.playRepo.DeleteByUserKeyTx(ctx, tx, userKey); err != nil {
			return err
		}
		if resetWallet {
			if err := s.userRepo.SetPointsTx(ctx, tx, userKey, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("user_key", userKey).
		Bool("reset_wallet", resetWallet).
		Str("acting_key", actingKey).
		Msg("History cleared")

	return nil
}
