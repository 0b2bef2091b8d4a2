// Package main is the entry point for the club ledger admin tool.
// It wires the storage and services and exposes the ledger operations
// as subcommands for operators.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"club-ledger/internal/config"
	"club-ledger/internal/game/period"
	"club-ledger/internal/model"
	"club-ledger/internal/pkg/db"
	"club-ledger/internal/repository"
	"club-ledger/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	userRepo := repository.NewUserRepository(dbPool.Pool)
	txRepo := repository.NewTransactionRepository(dbPool.Pool)
	playRepo := repository.NewPlayRepository(dbPool.Pool)
	roundRepo := repository.NewRoundRepository(dbPool.Pool)

	wallet := service.NewWalletService(dbPool.Pool, userRepo, txRepo)
	accounts := service.NewAccountService(userRepo, wallet, cfg.Security.BcryptCost)
	oracle := service.NewOracle(dbPool.Pool, roundRepo)
	betting := service.NewBettingService(dbPool.Pool, userRepo, txRepo, playRepo, oracle,
		cfg.Betting.MinStake, cfg.Betting.MaxStake)
	history := service.NewHistoryService(dbPool.Pool, userRepo, txRepo, playRepo, cfg.History.PageLimit)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if err := run(ctx, os.Args[1], os.Args[2:], &deps{
		wallet:   wallet,
		accounts: accounts,
		oracle:   oracle,
		betting:  betting,
		history:  history,
	}); err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("Command failed")
	}
}

type deps struct {
	wallet   *service.WalletService
	accounts *service.AccountService
	oracle   *service.Oracle
	betting  *service.BettingService
	history  *service.HistoryService
}

func run(ctx context.Context, command string, args []string, d *deps) error {
	switch command {
	case "round":
		fmt.Println(period.Current())
		return nil

	case "bootstrap":
		if len(args) != 3 {
			return fmt.Errorf("usage: bootstrap <key> <name> <password>")
		}
		user, created, err := d.accounts.Bootstrap(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("superadmin %s (created=%t)\n", user.Key, created)
		return nil

	case "create-user":
		if len(args) < 4 {
			return fmt.Errorf("usage: create-user <acting> <name> <phone> <password> [points]")
		}
		var points int64
		if len(args) > 4 {
			var err error
			points, err = strconv.ParseInt(args[4], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid points: %w", err)
			}
		}
		user, err := d.accounts.CreateUser(ctx, service.CreateUserInput{
			Role:          model.RoleUser,
			Name:          args[1],
			Phone:         args[2],
			Password:      args[3],
			InitialPoints: points,
		}, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("user %s points=%d\n", user.Key, user.Points)
		return nil

	case "create-admin":
		if len(args) != 3 {
			return fmt.Errorf("usage: create-admin <acting> <name> <password>")
		}
		user, err := d.accounts.CreateUser(ctx, service.CreateUserInput{
			Role:     model.RoleAdmin,
			Name:     args[1],
			Password: args[2],
		}, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("admin %s\n", user.Key)
		return nil

	case "credit", "debit":
		if len(args) < 3 {
			return fmt.Errorf("usage: %s <acting> <user> <amount> [note]", command)
		}
		amount, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || amount <= 0 {
			return fmt.Errorf("invalid amount %q", args[2])
		}
		if command == "debit" {
			amount = -amount
		}
		note := ""
		if len(args) > 3 {
			note = args[3]
		}
		balance, err := d.wallet.AdjustAsActor(ctx, args[1], amount, note, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("balance %d\n", balance)
		return nil

	case "grant":
		if len(args) != 3 {
			return fmt.Errorf("usage: grant <super> <admin> <amount>")
		}
		amount, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		return d.wallet.GrantAllowance(ctx, args[1], amount, args[0])

	case "undo":
		if len(args) != 1 {
			return fmt.Errorf("usage: undo <admin>")
		}
		balance, err := d.wallet.UndoLastAdminTxn(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("balance %d\n", balance)
		return nil

	case "bet":
		if len(args) != 3 {
			return fmt.Errorf("usage: bet <user> <selection> <stake>")
		}
		stake, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stake: %w", err)
		}
		play, err := d.betting.PlaceBet(ctx, args[0], period.Current(), args[1], stake)
		if err != nil {
			return err
		}
		fmt.Printf("play %s round %s\n", play.ID, play.RoundID)
		return nil

	case "settle":
		if len(args) != 1 {
			return fmt.Errorf("usage: settle <round-id>")
		}
		result, settled, err := d.betting.SettleRound(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("round %s number=%d color=%s size=%s settled=%d\n",
			result.RoundID, result.Number, result.Color, result.Size, settled)
		return nil

	case "result":
		if len(args) != 1 {
			return fmt.Errorf("usage: result <round-id>")
		}
		result, err := d.oracle.EnsureResult(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("round %s number=%d color=%s size=%s\n",
			result.RoundID, result.Number, result.Color, result.Size)
		return nil

	case "settle-play":
		if len(args) != 2 {
			return fmt.Errorf("usage: settle-play <play-id> <win|lose|tie>")
		}
		play, err := d.betting.SettlePlay(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("play %s outcome=%s\n", play.ID, play.Outcome)
		return nil

	case "block", "unblock":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <acting> <user>", command)
		}
		return d.accounts.SetBlocked(ctx, args[1], command == "block", args[0])

	case "reset-password":
		if len(args) != 3 {
			return fmt.Errorf("usage: reset-password <acting> <user> <new-password>")
		}
		return d.accounts.ResetPassword(ctx, args[1], args[2], args[0])

	case "top":
		limit := 10
		if len(args) > 0 {
			var err error
			limit, err = strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid limit: %w", err)
			}
		}
		users, err := d.accounts.GetTopUsers(ctx, limit)
		if err != nil {
			return err
		}
		for i, u := range users {
			fmt.Printf("%2d. %-12s %-20s points=%d\n", i+1, u.Key, u.Name, u.Points)
		}
		return nil

	case "clear-history":
		if len(args) < 2 {
			return fmt.Errorf("usage: clear-history <acting> <user> [reset]")
		}
		reset := len(args) > 2 && args[2] == "reset"
		return d.history.ClearHistory(ctx, args[1], reset, args[0])

	case "history":
		if len(args) != 1 {
			return fmt.Errorf("usage: history <user>")
		}
		entries, err := d.history.Ledger(ctx, args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s %-5s %-8s %+d %s\n",
				e.CreatedAt.Format(time.RFC3339), e.Kind, e.RoundID, e.Amount, e.Label)
		}
		return nil

	case "users":
		users, err := d.accounts.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%-12s %-10s %-20s points=%d\n", u.Key, u.Role, u.Name, u.Points)
		}
		return nil

	case "delete-user":
		if len(args) != 2 {
			return fmt.Errorf("usage: delete-user <acting> <user>")
		}
		return d.accounts.DeleteUser(ctx, args[1], args[0])

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: club <command> [args]

commands:
  round                                       print the current round id
  bootstrap <key> <name> <password>           ensure the superadmin exists
  create-user <acting> <name> <phone> <password> [points]
  create-admin <acting> <name> <password>
  credit <acting> <user> <amount> [note]
  debit <acting> <user> <amount> [note]
  grant <super> <admin> <amount>              top up an admin allowance
  undo <admin>                                reverse the admin's last transaction
  bet <user> <selection> <stake>              bet on the current round
  settle <round-id>                           materialize result and settle plays
  settle-play <play-id> <win|lose|tie>        settle one play manually
  result <round-id>                           materialize/fetch a round result
  history <user>                              merged ledger, newest first
  users                                       list accounts
  top [n]                                     top end users by balance
  block <acting> <user>
  unblock <acting> <user>
  reset-password <acting> <user> <new-password>
  clear-history <acting> <user> [reset]       purge history, optionally zero wallet
  delete-user <acting> <user>`)
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: users table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			key TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			name TEXT NOT NULL,
			phone TEXT UNIQUE,
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			points BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
			admin_wallet BIGINT NOT NULL DEFAULT 0,
			admin_used BIGINT NOT NULL DEFAULT 0 CHECK (admin_used >= 0 AND admin_used <= admin_wallet),
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_points ON users(points DESC);
	`)
	if err != nil {
		return err
	}

	// Migration 2: transactions table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			user_key TEXT NOT NULL REFERENCES users(key) ON DELETE CASCADE,
			type TEXT NOT NULL CHECK (type IN ('credit', 'debit')),
			amount BIGINT NOT NULL CHECK (amount >= 0),
			note TEXT NOT NULL DEFAULT '',
			acting_admin_key TEXT,
			kind TEXT NOT NULL DEFAULT 'points',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_key, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_admin_time ON transactions(acting_admin_key, created_at DESC);
	`)
	if err != nil {
		return err
	}

	// Migration 3: plays table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS plays (
			id UUID PRIMARY KEY,
			user_key TEXT NOT NULL REFERENCES users(key) ON DELETE CASCADE,
			round_id TEXT NOT NULL,
			selection TEXT NOT NULL,
			stake BIGINT NOT NULL CHECK (stake > 0),
			outcome TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_plays_user_time ON plays(user_key, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_plays_round_outcome ON plays(round_id, outcome);
	`)
	if err != nil {
		return err
	}

	// Migration 4: round results table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS round_results (
			round_id TEXT PRIMARY KEY,
			number SMALLINT NOT NULL,
			color TEXT NOT NULL,
			size TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
