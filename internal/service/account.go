package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"club-ledger/internal/model"
	"club-ledger/internal/repository"
)

// Account-related errors.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrPhoneExists        = errors.New("phone already exists")
)

// minPasswordLen matches the historical minimum.
const minPasswordLen = 4

var phonePattern = regexp.MustCompile(`^\d{10}$`)

// AccountService provisions and manages user accounts. Credentials are
// stored as bcrypt hashes, never plaintext.
type AccountService struct {
	userRepo   *repository.UserRepository
	wallet     *WalletService
	bcryptCost int
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(
	userRepo *repository.UserRepository,
	wallet *WalletService,
	bcryptCost int,
) *AccountService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AccountService{
		userRepo:   userRepo,
		wallet:     wallet,
		bcryptCost: bcryptCost,
	}
}

// CreateUserInput carries the fields for provisioning an account.
type CreateUserInput struct {
	Key           string // generated when empty
	Role          model.Role
	Name          string
	Phone         string
	Password      string
	InitialPoints int64
}

// CreateUser provisions an account on behalf of an acting principal.
// Admins may create end users; creating an admin requires a superadmin.
// A positive initial balance goes through the wallet so the allowance
// gate and transaction pairing apply.
func (s *AccountService) CreateUser(ctx context.Context, in CreateUserInput, actingKey string) (*model.User, error) {
	actor, err := s.userRepo.GetByKey(ctx, actingKey)
	if err != nil {
		return nil, mapUserErr(err)
	}

	role := in.Role
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}

	switch actor.Role {
	case model.RoleSuperAdmin:
		// May create any role.
	case model.RoleAdmin:
		if role != model.RoleUser {
			return nil, fmt.Errorf("%w: admins may only create end users", ErrUnauthorized)
		}
	default:
		return nil, fmt.Errorf("%w: role %q cannot provision accounts", ErrUnauthorized, actor.Role)
	}

	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password minimum %d characters", ErrInvalidInput, minPasswordLen)
	}
	if in.InitialPoints < 0 {
		return nil, fmt.Errorf("%w: initial points must not be negative", ErrInvalidInput)
	}

	var phone *string
	if in.Phone != "" {
		if !phonePattern.MatchString(in.Phone) {
			return nil, fmt.Errorf("%w: phone must be 10 digits", ErrInvalidInput)
		}
		p := in.Phone
		phone = &p
	}

	key := in.Key
	if key == "" {
		key = generateKey(role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.userRepo.Create(ctx, &model.User{
		Key:          key,
		Role:         role,
		Name:         strings.TrimSpace(in.Name),
		Phone:        phone,
		PasswordHash: string(hash),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserExists):
			return nil, ErrUserExists
		case errors.Is(err, repository.ErrPhoneExists):
			return nil, ErrPhoneExists
		}
		return nil, err
	}

	// The funding credit is a second atomic unit: if the allowance gate
	// refuses it, the account exists with zero balance and the actor
	// retries the credit once topped up.
	if in.InitialPoints > 0 {
		balance, err := s.wallet.AdjustAsActor(ctx, user.Key, in.InitialPoints, "initial balance", actingKey)
		if err != nil {
			return nil, err
		}
		user.Points = balance
	}

	log.Info().
		Str("user_key", user.Key).
		Str("role", string(user.Role)).
		Str("acting_key", actingKey).
		Msg("User created")

	return user, nil
}

// Bootstrap ensures the superadmin account exists, creating it with the
// given credentials on first run. Returns the account and whether it
// was newly created.
func (s *AccountService) Bootstrap(ctx context.Context, key, name, password string) (*model.User, bool, error) {
	user, err := s.userRepo.GetByKey(ctx, key)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, false, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, false, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err = s.userRepo.Create(ctx, &model.User{
		Key:          key,
		Role:         model.RoleSuperAdmin,
		Name:         name,
		PasswordHash: string(hash),
	})
	if err != nil {
		// Another process may have bootstrapped concurrently.
		if errors.Is(err, repository.ErrUserExists) {
			user, err = s.userRepo.GetByKey(ctx, key)
			if err != nil {
				return nil, false, err
			}
			return user, false, nil
		}
		return nil, false, err
	}

	log.Info().Str("user_key", key).Msg("Superadmin bootstrapped")
	return user, true, nil
}

// Authenticate verifies a password against the stored hash. The caller
// may present either the account key or the phone number.
func (s *AccountService) Authenticate(ctx context.Context, keyOrPhone, password string) (*model.User, error) {
	user, err := s.userRepo.GetByKeyOrPhone(ctx, keyOrPhone)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if user.Blocked {
		return nil, ErrUserBlocked
	}

	return user, nil
}

// ResetPassword sets a new password for a target account on behalf of
// an acting principal. Admins may reset end users only; a superadmin
// may reset anyone but themselves through this path.
func (s *AccountService) ResetPassword(ctx context.Context, targetKey, newPassword, actingKey string) error {
	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password minimum %d characters", ErrInvalidInput, minPasswordLen)
	}

	if err := s.authorizeOnTarget(ctx, targetKey, actingKey); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userRepo.UpdatePasswordHash(ctx, targetKey, string(hash)); err != nil {
		return mapUserErr(err)
	}

	log.Info().
		Str("target_key", targetKey).
		Str("acting_key", actingKey).
		Msg("Password reset")

	return nil
}

// UpdateProfile lets a principal change their own name and password.
func (s *AccountService) UpdateProfile(ctx context.Context, key, name, newPassword string) error {
	if name != "" {
		if err := s.userRepo.UpdateName(ctx, key, strings.TrimSpace(name)); err != nil {
			return mapUserErr(err)
		}
	}

	if newPassword != "" {
		if len(newPassword) < minPasswordLen {
			return fmt.Errorf("%w: password minimum %d characters", ErrInvalidInput, minPasswordLen)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		if err := s.userRepo.UpdatePasswordHash(ctx, key, string(hash)); err != nil {
			return mapUserErr(err)
		}
	}

	return nil
}

// SetBlocked blocks or unblocks a target account.
func (s *AccountService) SetBlocked(ctx context.Context, targetKey string, blocked bool, actingKey string) error {
	if err := s.authorizeOnTarget(ctx, targetKey, actingKey); err != nil {
		return err
	}

	if err := s.userRepo.SetBlocked(ctx, targetKey, blocked); err != nil {
		return mapUserErr(err)
	}

	log.Info().
		Str("target_key", targetKey).
		Bool("blocked", blocked).
		Str("acting_key", actingKey).
		Msg("Blocked flag changed")

	return nil
}

// DeleteUser removes an account and, via cascade, all its transactions
// and plays. Superadmin accounts cannot be deleted.
func (s *AccountService) DeleteUser(ctx context.Context, targetKey, actingKey string) error {
	if err := s.authorizeOnTarget(ctx, targetKey, actingKey); err != nil {
		return err
	}

	if err := s.userRepo.Delete(ctx, targetKey); err != nil {
		return mapUserErr(err)
	}

	log.Info().
		Str("target_key", targetKey).
		Str("acting_key", actingKey).
		Msg("User deleted")

	return nil
}

// GetUser retrieves a user by key.
func (s *AccountService) GetUser(ctx context.Context, key string) (*model.User, error) {
	user, err := s.userRepo.GetByKey(ctx, key)
	if err != nil {
		return nil, mapUserErr(err)
	}
	return user, nil
}

// ListUsers retrieves all accounts, newest first.
func (s *AccountService) ListUsers(ctx context.Context) ([]*model.User, error) {
	return s.userRepo.List(ctx)
}

// GetTopUsers retrieves the top end users by balance.
func (s *AccountService) GetTopUsers(ctx context.Context, limit int) ([]*model.User, error) {
	return s.userRepo.GetTopByPoints(ctx, limit)
}

// authorizeOnTarget checks that the actor may administer the target:
// superadmins may act on admins and users, admins on end users only.
func (s *AccountService) authorizeOnTarget(ctx context.Context, targetKey, actingKey string) error {
	actor, err := s.userRepo.GetByKey(ctx, actingKey)
	if err != nil {
		return mapUserErr(err)
	}

	target, err := s.userRepo.GetByKey(ctx, targetKey)
	if err != nil {
		return mapUserErr(err)
	}

	switch actor.Role {
	case model.RoleSuperAdmin:
		if target.Role == model.RoleSuperAdmin {
			return fmt.Errorf("%w: superadmin accounts are immutable here", ErrUnauthorized)
		}
		return nil
	case model.RoleAdmin:
		if target.Role != model.RoleUser {
			return fmt.Errorf("%w: admins may only administer end users", ErrUnauthorized)
		}
		return nil
	default:
		return fmt.Errorf("%w: role %q cannot administer accounts", ErrUnauthorized, actor.Role)
	}
}

// generateKey produces an opaque account key with a role-specific
// prefix, e.g. "C7F3A21B9" for end users.
func generateKey(role model.Role) string {
	prefix := "C"
	switch role {
	case model.RoleAdmin:
		prefix = "A"
	case model.RoleSuperAdmin:
		prefix = "S"
	}
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + id[:8]
}
