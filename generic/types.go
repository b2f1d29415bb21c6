/*
Package generic provides the core rewards ledger engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms for keeping
  per-user coin and point balances. Whether credits come from a daily claim,
  a purchase or an administrator, the same ledger applies them, records an
  immutable transaction and keeps the balance equal to the sum of its
  transactions.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind: Which ledger a transaction belongs to (coins or points)
  - Transaction: An immutable ledger entry recording a signed change
  - Profile: The mutable balance/streak/tier record owned by the store
  - DailyClaim: One record per user per claimed calendar day

DESIGN PRINCIPLES:
  1. Immutability: Transactions and claim records are never modified
  2. Single writer: Profiles change only through Ledger.Do
  3. Integers: Balances are whole coins/points, never fractions
  4. Auditability: Every transaction has a type, description and actor

USAGE:
  tx, err := ledger.ApplyDelta(ctx, "user-1", generic.KindCoin, 10,
      generic.TxDailyClaim, "Daily claim")

SEE ALSO:
  - ledger.go: Atomic apply-delta unit
  - store.go: Persistence contract
  - errors.go: Error taxonomy
*/
package generic

import "time"

// =============================================================================
// LEDGER KIND
// =============================================================================

// Kind selects one of the two balance ledgers a user owns.
type Kind string

const (
	KindCoin  Kind = "coin"
	KindPoint Kind = "point"
)

// Kinds lists every ledger kind in a stable order.
var Kinds = []Kind{KindCoin, KindPoint}

func (k Kind) Valid() bool { return k == KindCoin || k == KindPoint }

func (k Kind) String() string { return string(k) }

// ParseKind accepts both singular and plural spellings ("coin", "coins").
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "coin", "coins":
		return KindCoin, true
	case "point", "points":
		return KindPoint, true
	}
	return "", false
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TransactionID string

// =============================================================================
// TRANSACTION - Immutable signed change to one balance
// =============================================================================

type TransactionType string

const (
	TxDailyClaim      TransactionType = "daily_claim"      // Base coins for a daily claim
	TxStreakBonus     TransactionType = "streak_bonus"     // Extra coins when a streak hits the bonus cadence
	TxPurchaseBonus   TransactionType = "purchase_bonus"   // Credit from the commerce subsystem
	TxAdminAdjustment TransactionType = "admin_adjustment" // Manual admin correction
)

type Transaction struct {
	ID     TransactionID
	Seq    int64 // Assigned by the store, strictly increasing in creation order
	UserID UserID
	Kind   Kind
	Type   TransactionType

	// Amount is signed: positive = credit, negative = debit.
	Amount      int64
	Description string

	ReferenceID    string
	IdempotencyKey string

	// Audit fields
	CreatedBy string
	CreatedAt time.Time
}

func (t Transaction) IsCredit() bool { return t.Amount > 0 }
func (t Transaction) IsDebit() bool  { return t.Amount < 0 }

// =============================================================================
// PROFILE - Mutable balances, owned by the store
// =============================================================================

type Profile struct {
	UserID       UserID
	CoinBalance  int64
	PointBalance int64

	// LoginStreak counts consecutive claim days ending at LastClaimDate.
	LoginStreak   int
	LastClaimDate *Date

	LoyaltyTier string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProfile returns the zeroed profile a user starts with.
func NewProfile(userID UserID) Profile {
	return Profile{UserID: userID}
}

// Exists reports whether the profile was ever committed.
func (p Profile) Exists() bool { return !p.CreatedAt.IsZero() }

// Balance returns the balance of the given ledger.
func (p Profile) Balance(kind Kind) int64 {
	if kind == KindPoint {
		return p.PointBalance
	}
	return p.CoinBalance
}

func (p *Profile) setBalance(kind Kind, v int64) {
	if kind == KindPoint {
		p.PointBalance = v
		return
	}
	p.CoinBalance = v
}

// =============================================================================
// DAILY CLAIM - At most one per (user, calendar day)
// =============================================================================

type DailyClaim struct {
	UserID       UserID
	ClaimDate    Date
	ClaimedAt    time.Time
	CoinsAwarded int64
	Streak       int
}

// =============================================================================
// AUDIT ENTRY - Admin actions, append-only
// =============================================================================

type AuditEntry struct {
	ID        string
	ActorID   string
	UserID    UserID
	Action    string
	Reason    string
	Details   map[string]string
	CreatedAt time.Time
}
