/*
store.go - Persistence contract for profiles, transactions and claim records

PURPOSE:
  Defines the narrow interface between the ledger and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage;
  the engine does not care which.

KEY INTERFACES:
  Store:   Profiles, append-only transaction logs, claim records, audit log
  TxStore: Store + WithTx for atomic multi-write units

APPEND-ONLY CONTRACT:
  Transactions, daily claims and audit entries are append-only:
  - AppendTransaction / AppendDailyClaim / AppendAudit
  - NO Update() or Delete() methods exist for them
  Only the profile is mutable, and only through UpdateProfile.

UNIQUENESS:
  - A second AppendDailyClaim for the same (user, date) returns
    ErrAlreadyClaimed.
  - A second AppendTransaction with the same non-empty idempotency key
    returns ErrDuplicateIdempotencyKey.

ATOMIC UNITS:
  WithTx() gives all-or-nothing semantics: a daily claim appends two
  transactions, a claim record and a profile update - either all are
  written or none are.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: The only writer
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for ledger persistence
// =============================================================================

type Store interface {
	// GetProfile returns the user's profile, or a zeroed profile (Exists()
	// == false) when the user never had a committed write. Reading never
	// creates anything.
	GetProfile(ctx context.Context, userID UserID) (Profile, error)

	// UpdateProfile loads (or zero-initialises) the profile, applies
	// mutate and persists the result. An error from mutate aborts the write.
	UpdateProfile(ctx context.Context, userID UserID, mutate func(*Profile) error) (Profile, error)

	// AppendTransaction persists a transaction and returns it with Seq set.
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// ListTransactions returns a user's transactions of one kind in
	// creation order.
	ListTransactions(ctx context.Context, userID UserID, kind Kind) ([]Transaction, error)

	// Exists checks if an idempotency key was already used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// GetDailyClaim returns the claim for (user, date) or nil when absent.
	GetDailyClaim(ctx context.Context, userID UserID, date Date) (*DailyClaim, error)

	// AppendDailyClaim persists a claim record.
	AppendDailyClaim(ctx context.Context, claim DailyClaim) error

	// ListDailyClaims returns a user's claims ordered by date.
	ListDailyClaims(ctx context.Context, userID UserID) ([]DailyClaim, error)

	// AppendAudit persists an audit entry.
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// ListAudit returns a user's audit entries, oldest first.
	ListAudit(ctx context.Context, userID UserID) ([]AuditEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
