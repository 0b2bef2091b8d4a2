// Package model defines the data models for the club ledger system.
package model

import "time"

// Role identifies what a user is allowed to do. It is a closed set;
// any other value is rejected at the boundary.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleUser:
		return true
	}
	return false
}

// User represents one principal: a super admin, an admin, or an end user.
// Points is the spendable wallet and is never negative. AdminWallet and
// AdminUsed only apply to admin-role users: AdminWallet is the total
// allowance granted by a super admin, AdminUsed is the cumulative amount
// consumed crediting end users, and AdminUsed <= AdminWallet always holds.
type User struct {
	Key          string    `db:"key"`
	Role         Role      `db:"role"`
	Name         string    `db:"name"`
	Phone        *string   `db:"phone"`
	Blocked      bool      `db:"blocked"`
	Points       int64     `db:"points"`
	AdminWallet  int64     `db:"admin_wallet"`
	AdminUsed    int64     `db:"admin_used"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// AllowanceRemaining returns how many points the admin may still grant.
func (u *User) AllowanceRemaining() int64 {
	return u.AdminWallet - u.AdminUsed
}

// Transaction is an immutable record of one balance mutation. It is only
// ever written in the same atomic unit as the mutation it describes.
type Transaction struct {
	ID             string    `db:"id"`
	UserKey        string    `db:"user_key"`
	Type           string    `db:"type"`
	Amount         int64     `db:"amount"`
	Note           string    `db:"note"`
	ActingAdminKey *string   `db:"acting_admin_key"`
	Kind           string    `db:"kind"`
	CreatedAt      time.Time `db:"created_at"`
}

// Transaction directions.
const (
	TxCredit = "credit"
	TxDebit  = "debit"
)

// Transaction kinds distinguishing which balance a record touched.
const (
	KindPoints      = "points"       // the user's spendable wallet
	KindAdminWallet = "admin_wallet" // an admin's allowance
)

// Signed returns the delta the transaction applied: positive for
// credits, negative for debits.
func (t *Transaction) Signed() int64 {
	if t.Type == TxDebit {
		return -t.Amount
	}
	return t.Amount
}

// Play is an immutable record of one round participation.
type Play struct {
	ID        string    `db:"id"`
	UserKey   string    `db:"user_key"`
	RoundID   string    `db:"round_id"`
	Selection string    `db:"selection"`
	Stake     int64     `db:"stake"`
	Outcome   string    `db:"outcome"`
	CreatedAt time.Time `db:"created_at"`
}

// Play outcomes.
const (
	OutcomePending = "pending"
	OutcomeWin     = "win"
	OutcomeLose    = "lose"
	OutcomeTie     = "tie"
)

// RoundResult is the derived outcome of one round. At most one exists
// per round id; it is never mutated after creation.
type RoundResult struct {
	RoundID   string    `db:"round_id"`
	Number    int       `db:"number"`
	Color     string    `db:"color"`
	Size      string    `db:"size"`
	Source    string    `db:"source"`
	CreatedAt time.Time `db:"created_at"`
}

// LedgerEntry is a merged history row combining admin transactions and
// game plays for display, newest first.
type LedgerEntry struct {
	Kind      string // "ADMIN" or "GAME"
	RoundID   string // "-" for admin entries
	Label     string
	Amount    int64  // signed
	Outcome   string // "-" for admin entries
	ByAdmin   *string
	CreatedAt time.Time
}
