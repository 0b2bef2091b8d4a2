package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"club-ledger/internal/game/draw"
	"club-ledger/internal/game/period"
	"club-ledger/internal/model"
	"club-ledger/internal/pkg/db"
	"club-ledger/internal/repository"
)

// Betting-related errors.
var (
	ErrInvalidSelection = errors.New("invalid selection")
	ErrInvalidStake     = errors.New("invalid stake")
	ErrRoundClosed      = errors.New("round is not open for betting")
	ErrUserBlocked      = errors.New("account blocked")
	ErrPlayNotFound     = errors.New("play not found")
	ErrInvalidOutcome   = errors.New("invalid outcome")
)

// winMultiplier is the payout applied to the stake of a winning play.
const winMultiplier = 2

// BettingService places round bets and settles them once the round
// result is known. Placing a bet debits the stake and records the play
// in one atomic unit; each settlement credits the payout and marks the
// play in one atomic unit, guarded so a play settles at most once.
type BettingService struct {
	pool     *pgxpool.Pool
	userRepo *repository.UserRepository
	txRepo   *repository.TransactionRepository
	playRepo *repository.PlayRepository
	oracle   *Oracle
	minStake int64
	maxStake int64
	now      func() time.Time
}

// NewBettingService creates a new BettingService instance.
func NewBettingService(
	pool *pgxpool.Pool,
	userRepo *repository.UserRepository,
	txRepo *repository.TransactionRepository,
	playRepo *repository.PlayRepository,
	oracle *Oracle,
	minStake, maxStake int64,
) *BettingService {
	return &BettingService{
		pool:     pool,
		userRepo: userRepo,
		txRepo:   txRepo,
		playRepo: playRepo,
		oracle:   oracle,
		minStake: minStake,
		maxStake: maxStake,
		now:      time.Now,
	}
}

// PlaceBet stakes points on a selection for the currently open round.
// The stake debit, its transaction record, and the pending play commit
// together or not at all.
func (s *BettingService) PlaceBet(ctx context.Context, userKey, roundID, selection string, stake int64) (*model.Play, error) {
	if stake < s.minStake || stake > s.maxStake {
		return nil, fmt.Errorf("%w: stake %d outside [%d, %d]",
			ErrInvalidStake, stake, s.minStake, s.maxStake)
	}
	if !draw.ValidSelection(selection) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSelection, selection)
	}
	if _, _, err := period.Parse(roundID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoundID, err)
	}
	if roundID != period.RoundIDAt(s.now()) {
		return nil, fmt.Errorf("%w: %s", ErrRoundClosed, roundID)
	}

	var play *model.Play
	err := db.RunAtomic(ctx, s.pool, func(tx pgx.Tx) error {
		user, err := s.userRepo.GetForUpdateTx(ctx, tx, userKey)
		if err != nil {
			return mapUserErr(err)
		}
		if user.Blocked {
			return ErrUserBlocked
		}

		next := user.Points - stake
		if next < 0 {
			return fmt.Errorf("%w: balance %d, stake %d",
				ErrInsufficientBalance, user.Points, stake)
		}

		if err := s.userRepo.SetPointsTx(ctx, tx, userKey, next); err != nil {
			return err
		}

		created, err := s.playRepo.InsertTx(ctx, tx, &model.Play{
			UserKey:   userKey,
			RoundID:   roundID,
			Selection: selection,
			Stake:     stake,
		})
		if err != nil {
			return err
		}

		if _, err := s.txRepo.InsertTx(ctx, tx, &model.Transaction{
			UserKey: userKey,
			Type:    model.TxDebit,
			Amount:  stake,
			Note:    fmt.Sprintf("bet %s @ %s", selection, roundID),
			Kind:    model.KindPoints,
		}); err != nil {
			return err
		}

		play = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_key", userKey).
		Str("round_id", roundID).
		Str("selection", selection).
		Int64("stake", stake).
		Msg("Bet placed")

	return play, nil
}

// SettleRound materializes the round's result and settles every pending
// play against it. A play wins when its selection matches the result's
// color or size; winners are credited twice their stake. Safe to call
// repeatedly: already-settled plays are skipped.
func (s *BettingService) SettleRound(ctx context.Context, roundID string) (*model.RoundResult, int, error) {
	result, err := s.oracle.EnsureResult(ctx, roundID)
	if err != nil {
		return nil, 0, err
	}

	plays, err := s.playRepo.GetPendingByRound(ctx, roundID)
	if err != nil {
		return nil, 0, err
	}

	settled := 0
	for _, play := range plays {
		outcome := model.OutcomeLose
		if draw.Matches(play.Selection, draw.Outcome{
			Number: result.Number,
			Color:  result.Color,
			Size:   result.Size,
		}) {
			outcome = model.OutcomeWin
		}

		ok, err := s.settleOne(ctx, play, outcome)
		if err != nil {
			return result, settled, fmt.Errorf("failed to settle play %s: %w", play.ID, err)
		}
		if ok {
			settled++
		}
	}

	log.Info().
		Str("round_id", roundID).
		Int("number", result.Number).
		Int("settled", settled).
		Msg("Round settled")

	return result, settled, nil
}

// SettlePlay settles a single play with an explicit outcome, for manual
// admin settlement. A tie returns the stake; a win pays twice the stake.
func (s *BettingService) SettlePlay(ctx context.Context, playID, outcome string) (*model.Play, error) {
	switch outcome {
	case model.OutcomeWin, model.OutcomeLose, model.OutcomeTie:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	play, err := s.playRepo.GetByID(ctx, playID)
	if err != nil {
		if errors.Is(err, repository.ErrPlayNotFound) {
			return nil, ErrPlayNotFound
		}
		return nil, err
	}

	applied, err := s.settleOne(ctx, play, outcome)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Already settled; report the stored state, not the request.
		return s.playRepo.GetByID(ctx, playID)
	}

	play.Outcome = outcome
	return play, nil
}

// settleOne marks one pending play and credits its payout in a single
// atomic unit. Returns false when the play was already settled.
func (s *BettingService) settleOne(ctx context.Context, play *model.Play, outcome string) (bool, error) {
	payout := payoutFor(outcome, play.Stake)

	var applied bool
	err := db.RunAtomic(ctx, s.pool, func(tx pgx.Tx) error {
		ok, err := s.playRepo.SettleTx(ctx, tx, play.ID, outcome)
		if err != nil {
			return err
		}
		if !ok {
			applied = false
			return nil
		}

		if payout > 0 {
			user, err := s.userRepo.GetForUpdateTx(ctx, tx, play.UserKey)
			if err != nil {
				return mapUserErr(err)
			}
			if err := s.userRepo.SetPointsTx(ctx, tx, play.UserKey, user.Points+payout); err != nil {
				return err
			}
			if _, err := s.txRepo.InsertTx(ctx, tx, &model.Transaction{
				UserKey: play.UserKey,
				Type:    model.TxCredit,
				Amount:  payout,
				Note:    fmt.Sprintf("%s payout @ %s", outcome, play.RoundID),
				Kind:    model.KindPoints,
			}); err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// payoutFor returns the points credited back for a settled play.
func payoutFor(outcome string, stake int64) int64 {
	switch outcome {
	case model.OutcomeWin:
		return stake * winMultiplier
	case model.OutcomeTie:
		return stake
	default:
		return 0
	}
}
