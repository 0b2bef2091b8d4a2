// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"club-ledger/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = applySchema(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// applySchema creates the tables the repositories depend on, mirroring
// the migrations the binary runs at startup.
func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
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

		CREATE TABLE IF NOT EXISTS plays (
			id UUID PRIMARY KEY,
			user_key TEXT NOT NULL REFERENCES users(key) ON DELETE CASCADE,
			round_id TEXT NOT NULL,
			selection TEXT NOT NULL,
			stake BIGINT NOT NULL CHECK (stake > 0),
			outcome TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS round_results (
			round_id TEXT PRIMARY KEY,
			number SMALLINT NOT NULL,
			color TEXT NOT NULL,
			size TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// mustCreateUser inserts a user for test setup.
func mustCreateUser(t *testing.T, repo *UserRepository, u *model.User) *model.User {
	t.Helper()
	if u.PasswordHash == "" {
		u.PasswordHash = "x"
	}
	created, err := repo.Create(context.Background(), u)
	require.NoError(t, err)
	return created
}

// inTx runs fn inside a committed transaction for test setup.
func inTx(t *testing.T, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	err = fn(tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(ctx))
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	phone := "9876543210"
	user := mustCreateUser(t, repo, &model.User{
		Key:   "C00000001",
		Role:  model.RoleUser,
		Name:  "Test User",
		Phone: &phone,
	})
	assert.Equal(t, "C00000001", user.Key)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, int64(0), user.Points)
	assert.False(t, user.CreatedAt.IsZero())

	got, err := repo.GetByKey(ctx, "C00000001")
	require.NoError(t, err)
	assert.Equal(t, "Test User", got.Name)
	require.NotNil(t, got.Phone)
	assert.Equal(t, phone, *got.Phone)

	_, err = repo.GetByKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Login accepts either the key or the phone number.
	byPhone, err := repo.GetByKeyOrPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, user.Key, byPhone.Key)
}

func TestUserRepository_UniquenessViolations(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	phone := "1112223334"
	mustCreateUser(t, repo, &model.User{Key: "C1", Role: model.RoleUser, Name: "First", Phone: &phone})

	_, err := repo.Create(ctx, &model.User{Key: "C1", Role: model.RoleUser, Name: "Dup key", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = repo.Create(ctx, &model.User{Key: "C2", Role: model.RoleUser, Name: "Dup phone", Phone: &phone, PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrPhoneExists)
}

func TestUserRepository_PointsAndAllowance(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, repo, &model.User{Key: "A1", Role: model.RoleAdmin, Name: "Admin"})

	inTx(t, pool, func(tx pgx.Tx) error {
		user, err := repo.GetForUpdateTx(ctx, tx, "A1")
		if err != nil {
			return err
		}
		if err := repo.SetPointsTx(ctx, tx, "A1", user.Points+500); err != nil {
			return err
		}
		if err := repo.GrantAllowanceTx(ctx, tx, "A1", 1000); err != nil {
			return err
		}
		return repo.ConsumeAllowanceTx(ctx, tx, "A1", 300)
	})

	user, err := repo.GetByKey(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), user.Points)
	assert.Equal(t, int64(1000), user.AdminWallet)
	assert.Equal(t, int64(300), user.AdminUsed)
	assert.Equal(t, int64(700), user.AllowanceRemaining())
}

func TestUserRepository_SchemaRejectsNegativePoints(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, repo, &model.User{Key: "C1", Role: model.RoleUser, Name: "User"})

	// The CHECK constraint backstops the service-level validation.
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	err = repo.SetPointsTx(ctx, tx, "C1", -1)
	assert.Error(t, err)
}

func TestUserRepository_BlockListAndTop(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, repo, &model.User{Key: "S1", Role: model.RoleSuperAdmin, Name: "Super"})
	mustCreateUser(t, repo, &model.User{Key: "C1", Role: model.RoleUser, Name: "Low", Points: 10})
	mustCreateUser(t, repo, &model.User{Key: "C2", Role: model.RoleUser, Name: "High", Points: 900})

	require.NoError(t, repo.SetBlocked(ctx, "C1", true))
	user, err := repo.GetByKey(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, user.Blocked)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Leaderboard covers end users only.
	top, err := repo.GetTopByPoints(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "C2", top[0].Key)
	assert.Equal(t, "C1", top[1].Key)
}

func TestUserRepository_DeleteCascades(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	userRepo := NewUserRepository(pool)
	txRepo := NewTransactionRepository(pool)
	playRepo := NewPlayRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, userRepo, &model.User{Key: "C1", Role: model.RoleUser, Name: "User", Points: 100})

	inTx(t, pool, func(tx pgx.Tx) error {
		if _, err := txRepo.InsertTx(ctx, tx, &model.Transaction{
			UserKey: "C1", Type: model.TxCredit, Amount: 100, Kind: model.KindPoints,
		}); err != nil {
			return err
		}
		_, err := playRepo.InsertTx(ctx, tx, &model.Play{
			UserKey: "C1", RoundID: "20240101-0001", Selection: "red", Stake: 50,
		})
		return err
	})

	require.NoError(t, userRepo.Delete(ctx, "C1"))

	txns, err := txRepo.GetByUserKey(ctx, "C1", 10)
	require.NoError(t, err)
	assert.Empty(t, txns)

	plays, err := playRepo.GetByUserKey(ctx, "C1", 10)
	require.NoError(t, err)
	assert.Empty(t, plays)

	assert.ErrorIs(t, userRepo.Delete(ctx, "C1"), ErrUserNotFound)
}

// ============================================================================
// TransactionRepository Tests
// ============================================================================

func TestTransactionRepository_InsertAndQuery(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	userRepo := NewUserRepository(pool)
	txRepo := NewTransactionRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, userRepo, &model.User{Key: "C1", Role: model.RoleUser, Name: "User"})
	admin := "A1"

	inTx(t, pool, func(tx pgx.Tx) error {
		for _, rec := range []*model.Transaction{
			{UserKey: "C1", Type: model.TxCredit, Amount: 500, Note: "topup", ActingAdminKey: &admin, Kind: model.KindPoints},
			{UserKey: "C1", Type: model.TxDebit, Amount: 200, Note: "bet", Kind: model.KindPoints},
		} {
			if _, err := txRepo.InsertTx(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})

	txns, err := txRepo.GetByUserKey(ctx, "C1", 10)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	for _, rec := range txns {
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())
	}

	net, err := txRepo.NetPoints(ctx, "C1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(300), net)

	total, err := txRepo.TotalAdminCredit(ctx, "C1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(500), total)

	// Range that excludes everything.
	past := time.Now().Add(-48 * time.Hour)
	total, err = txRepo.TotalAdminCredit(ctx, "C1", past.Add(-time.Hour), past)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestTransactionRepository_LatestByActingAdmin(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	userRepo := NewUserRepository(pool)
	txRepo := NewTransactionRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, userRepo, &model.User{Key: "C1", Role: model.RoleUser, Name: "User"})
	admin := "A1"

	var firstID string
	inTx(t, pool, func(tx pgx.Tx) error {
		rec, err := txRepo.InsertTx(ctx, tx, &model.Transaction{
			UserKey: "C1", Type: model.TxCredit, Amount: 100, ActingAdminKey: &admin, Kind: model.KindPoints,
		})
		if err != nil {
			return err
		}
		firstID = rec.ID
		// Admin-wallet records must not surface in the undo lookup.
		_, err = txRepo.InsertTx(ctx, tx, &model.Transaction{
			UserKey: "A1", Type: model.TxDebit, Amount: 100, ActingAdminKey: &admin, Kind: model.KindAdminWallet,
		})
		return err
	})

	inTx(t, pool, func(tx pgx.Tx) error {
		latest, err := txRepo.GetLatestByActingAdminTx(ctx, tx, admin)
		if err != nil {
			return err
		}
		assert.Equal(t, firstID, latest.ID)
		assert.Equal(t, model.KindPoints, latest.Kind)
		return txRepo.DeleteTx(ctx, tx, latest.ID)
	})

	inTx(t, pool, func(tx pgx.Tx) error {
		_, err := txRepo.GetLatestByActingAdminTx(ctx, tx, admin)
		assert.ErrorIs(t, err, pgx.ErrNoRows)
		return nil
	})
}

// ============================================================================
// PlayRepository Tests
// ============================================================================

func TestPlayRepository_InsertAndSettle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	userRepo := NewUserRepository(pool)
	playRepo := NewPlayRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, userRepo, &model.User{Key: "C1", Role: model.RoleUser, Name: "User"})

	var playID string
	inTx(t, pool, func(tx pgx.Tx) error {
		p, err := playRepo.InsertTx(ctx, tx, &model.Play{
			UserKey: "C1", RoundID: "20240101-0001", Selection: "green", Stake: 100,
		})
		if err != nil {
			return err
		}
		playID = p.ID
		assert.Equal(t, model.OutcomePending, p.Outcome)
		return nil
	})

	pending, err := playRepo.GetPendingByRound(ctx, "20240101-0001")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// First settlement applies, the second is a no-op.
	inTx(t, pool, func(tx pgx.Tx) error {
		ok, err := playRepo.SettleTx(ctx, tx, playID, model.OutcomeWin)
		if err != nil {
			return err
		}
		assert.True(t, ok)
		return nil
	})
	inTx(t, pool, func(tx pgx.Tx) error {
		ok, err := playRepo.SettleTx(ctx, tx, playID, model.OutcomeLose)
		if err != nil {
			return err
		}
		assert.False(t, ok)
		return nil
	})

	play, err := playRepo.GetByID(ctx, playID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWin, play.Outcome)

	pending, err = playRepo.GetPendingByRound(ctx, "20240101-0001")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPlayRepository_WinLossTotals(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	userRepo := NewUserRepository(pool)
	playRepo := NewPlayRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, userRepo, &model.User{Key: "C1", Role: model.RoleUser, Name: "User"})

	inTx(t, pool, func(tx pgx.Tx) error {
		for _, p := range []*model.Play{
			{UserKey: "C1", RoundID: "20240101-0001", Selection: "red", Stake: 100, Outcome: model.OutcomeWin},
			{UserKey: "C1", RoundID: "20240101-0002", Selection: "big", Stake: 250, Outcome: model.OutcomeLose},
			{UserKey: "C1", RoundID: "20240101-0003", Selection: "small", Stake: 50, Outcome: model.OutcomeLose},
			{UserKey: "C1", RoundID: "20240101-0004", Selection: "green", Stake: 75},
		} {
			if _, err := playRepo.InsertTx(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})

	win, loss, err := playRepo.WinLossTotals(ctx, "C1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(100), win)
	assert.Equal(t, int64(300), loss)
}

// ============================================================================
// RoundRepository Tests
// ============================================================================

func TestRoundRepository_WriteOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoundRepository(pool)
	ctx := context.Background()

	_, err := repo.Get(ctx, "20240101-0001")
	assert.ErrorIs(t, err, ErrRoundNotFound)

	inTx(t, pool, func(tx pgx.Tx) error {
		_, err := repo.InsertTx(ctx, tx, &model.RoundResult{
			RoundID: "20240101-0001", Number: 7, Color: "green", Size: "big", Source: "sha256-v1",
		})
		return err
	})

	result, err := repo.Get(ctx, "20240101-0001")
	require.NoError(t, err)
	assert.Equal(t, 7, result.Number)
	assert.Equal(t, "green", result.Color)

	// The primary key rejects a second writer.
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	_, err = repo.InsertTx(ctx, tx, &model.RoundResult{
		RoundID: "20240101-0001", Number: 2, Color: "red", Size: "small", Source: "sha256-v1",
	})
	assert.Error(t, err)
}

func TestRoundRepository_ListRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoundRepository(pool)
	ctx := context.Background()

	inTx(t, pool, func(tx pgx.Tx) error {
		for _, id := range []string{"20240101-0001", "20240101-0003", "20240101-0002"} {
			if _, err := repo.InsertTx(ctx, tx, &model.RoundResult{
				RoundID: id, Number: 0, Color: "violet", Size: "small", Source: "sha256-v1",
			}); err != nil {
				return err
			}
		}
		return nil
	})

	results, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "20240101-0003", results[0].RoundID)
	assert.Equal(t, "20240101-0002", results[1].RoundID)
}
