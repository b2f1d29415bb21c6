/*
ledger.go - Balance ledger: the only writer of profiles

PURPOSE:
  Applies signed deltas to a user's coin or point balance and appends the
  matching immutable transaction, as one atomic unit. Daily claims, purchase
  credits and admin adjustments all come through here.

CRITICAL INVARIANTS:
  1. BALANCE == SUM: for every user and kind, the profile balance equals the
     sum of that user's transactions of that kind.
  2. NON-NEGATIVE: a delta that would drive a balance below zero fails and
     changes nothing.
  3. ALL-OR-NOTHING: a unit commits its transactions, claim record, audit
     entries and profile update together, or none of them.
  4. SERIALIZED PER USER: units for the same user never interleave; units
     for different users never wait on each other.

HOW A UNIT RUNS:
  1. Acquire the user's lock (bounded by LockTimeout)
  2. Open a store transaction and load the profile
  3. Run the caller's fn: Apply / RecordClaim / SetStreak / SetTier / Audit
  4. Write the profile and commit
  5. Release the lock

  If fn returns an error the store transaction is rolled back, so a caller
  never observes a transaction without its balance change or vice versa.

TIER:
  Every point delta recomputes Profile.LoyaltyTier through the TierResolver.
  The generic package does not know the tier table; the rewards package
  injects it.

EXAMPLE:
  out, err := ledger.Do(ctx, "user-1", now, func(u *generic.Unit) error {
      if _, err := u.Apply(generic.Delta{Kind: generic.KindCoin, Amount: 10,
          Type: generic.TxDailyClaim, Description: "Daily claim"}); err != nil {
          return err
      }
      return u.RecordClaim(generic.DailyClaim{...})
  })

SEE ALSO:
  - store.go: Persistence contract used inside the unit
  - locks.go: Per-user lock
  - rewards/claim.go: Multi-write unit for daily claims
*/
package generic

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLockTimeout bounds how long a unit waits for the user's lock.
const DefaultLockTimeout = 5 * time.Second

// TierResolver maps a point balance to a loyalty tier name.
type TierResolver func(points int64) string

// Observer is notified after a unit commits.
type Observer interface {
	UnitCommitted(out Outcome)
	UnitFailed(userID UserID, err error)
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store       TxStore
	Tiers       TierResolver
	Clock       Clock
	LockTimeout time.Duration
	Logger      *slog.Logger
	Observer    Observer

	locksOnce sync.Once
	locks     *KeyedMutex
}

type Option func(*Ledger)

func WithTiers(t TierResolver) Option        { return func(l *Ledger) { l.Tiers = t } }
func WithClock(c Clock) Option               { return func(l *Ledger) { l.Clock = c } }
func WithLockTimeout(d time.Duration) Option { return func(l *Ledger) { l.LockTimeout = d } }
func WithLogger(logger *slog.Logger) Option  { return func(l *Ledger) { l.Logger = logger } }
func WithObserver(o Observer) Option         { return func(l *Ledger) { l.Observer = o } }
func WithLocks(k *KeyedMutex) Option         { return func(l *Ledger) { l.locks = k } }

func NewLedger(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		Store:       store,
		Clock:       SystemClock{},
		LockTimeout: DefaultLockTimeout,
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) keyed() *KeyedMutex {
	l.locksOnce.Do(func() {
		if l.locks == nil {
			l.locks = NewKeyedMutex()
		}
	})
	return l.locks
}

func (l *Ledger) now() time.Time {
	if l.Clock == nil {
		return time.Now()
	}
	return l.Clock.Now()
}

func (l *Ledger) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Outcome is what a committed unit wrote.
type Outcome struct {
	Profile      Profile
	Transactions []Transaction
	Claim        *DailyClaim
	Audit        []AuditEntry
}

// Do runs fn as one atomic, per-user serialized unit at instant at.
func (l *Ledger) Do(ctx context.Context, userID UserID, at time.Time, fn func(*Unit) error) (Outcome, error) {
	if userID == "" {
		return Outcome{}, ErrUserRequired
	}
	if at.IsZero() {
		at = l.now()
	}

	lockCtx := ctx
	if l.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, l.LockTimeout)
		defer cancel()
	}
	unlock, err := l.keyed().Lock(lockCtx, userID)
	if err != nil {
		l.fail(userID, err)
		return Outcome{}, err
	}
	defer unlock()

	var out Outcome
	err = l.Store.WithTx(ctx, func(s Store) error {
		profile, err := s.GetProfile(ctx, userID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		u := &Unit{ctx: ctx, store: s, at: at, tiers: l.Tiers, profile: profile}
		if err := fn(u); err != nil {
			return err
		}
		if !u.dirty {
			out = Outcome{Profile: u.profile}
			return nil
		}

		u.profile.UpdatedAt = at
		if u.profile.CreatedAt.IsZero() {
			u.profile.CreatedAt = at
		}
		committed, err := s.UpdateProfile(ctx, userID, func(p *Profile) error {
			*p = u.profile
			return nil
		})
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		out = Outcome{Profile: committed, Transactions: u.txs, Claim: u.claim, Audit: u.audit}
		return nil
	})
	if err != nil {
		l.fail(userID, err)
		return Outcome{}, err
	}

	if l.Observer != nil {
		l.Observer.UnitCommitted(out)
	}
	return out, nil
}

func (l *Ledger) fail(userID UserID, err error) {
	if IsClientError(err) {
		l.logger().Debug("ledger unit rejected", slog.String("user_id", string(userID)), slog.Any("error", err))
	} else {
		l.logger().Warn("ledger unit failed", slog.String("user_id", string(userID)), slog.Any("error", err))
	}
	if l.Observer != nil {
		l.Observer.UnitFailed(userID, err)
	}
}

// ApplyDelta applies one signed delta and returns the committed transaction.
func (l *Ledger) ApplyDelta(ctx context.Context, userID UserID, kind Kind, amount int64, txType TransactionType, description string) (Transaction, error) {
	out, err := l.Do(ctx, userID, l.now(), func(u *Unit) error {
		_, err := u.Apply(Delta{Kind: kind, Amount: amount, Type: txType, Description: description})
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	return out.Transactions[0], nil
}

// =============================================================================
// READ SIDE - No locking, snapshot reads
// =============================================================================

func (l *Ledger) Profile(ctx context.Context, userID UserID) (Profile, error) {
	if userID == "" {
		return Profile{}, ErrUserRequired
	}
	return l.Store.GetProfile(ctx, userID)
}

func (l *Ledger) Transactions(ctx context.Context, userID UserID, kind Kind) ([]Transaction, error) {
	return l.Store.ListTransactions(ctx, userID, kind)
}

func (l *Ledger) Claims(ctx context.Context, userID UserID) ([]DailyClaim, error) {
	return l.Store.ListDailyClaims(ctx, userID)
}

func (l *Ledger) AuditLog(ctx context.Context, userID UserID) ([]AuditEntry, error) {
	return l.Store.ListAudit(ctx, userID)
}

// Reconciliation compares one balance with the sum of its transactions.
type Reconciliation struct {
	UserID       UserID
	Kind         Kind
	Balance      int64
	LedgerSum    int64
	Transactions int
}

func (r Reconciliation) Drift() int64     { return r.Balance - r.LedgerSum }
func (r Reconciliation) Consistent() bool { return r.Drift() == 0 }

// Reconcile checks the balance-equals-sum invariant for both kinds. It runs
// under the user's lock so the balance and the ledger come from the same
// committed state.
func (l *Ledger) Reconcile(ctx context.Context, userID UserID) ([]Reconciliation, error) {
	var result []Reconciliation
	_, err := l.Do(ctx, userID, l.now(), func(u *Unit) error {
		for _, kind := range Kinds {
			txs, err := u.store.ListTransactions(ctx, userID, kind)
			if err != nil {
				return err
			}
			var sum int64
			for _, tx := range txs {
				sum += tx.Amount
			}
			result = append(result, Reconciliation{
				UserID:       userID,
				Kind:         kind,
				Balance:      u.profile.Balance(kind),
				LedgerSum:    sum,
				Transactions: len(txs),
			})
		}
		return nil
	})
	return result, err
}

// =============================================================================
// UNIT - One atomic write set
// =============================================================================

// Delta describes one balance change.
type Delta struct {
	Kind           Kind
	Amount         int64
	Type           TransactionType
	Description    string
	ReferenceID    string
	IdempotencyKey string
	CreatedBy      string
}

// Unit is the view a Do callback gets. It is only valid inside the callback.
type Unit struct {
	ctx     context.Context
	store   Store
	at      time.Time
	tiers   TierResolver
	profile Profile
	dirty   bool

	txs   []Transaction
	claim *DailyClaim
	audit []AuditEntry
}

// Profile returns the profile as staged so far in this unit.
func (u *Unit) Profile() Profile { return u.profile }

// At returns the instant the unit runs at.
func (u *Unit) At() time.Time { return u.at }

// Apply appends a transaction and moves the staged balance.
func (u *Unit) Apply(d Delta) (Transaction, error) {
	if !d.Kind.Valid() {
		return Transaction{}, fmt.Errorf("%w: unknown ledger kind %q", ErrInvalidCommand, d.Kind)
	}
	if d.Amount == 0 {
		return Transaction{}, fmt.Errorf("%w: zero delta", ErrInvalidAmount)
	}

	if d.Amount == math.MinInt64 {
		return Transaction{}, fmt.Errorf("%w: delta out of range", ErrInvalidAmount)
	}

	current := u.profile.Balance(d.Kind)
	if d.Amount > 0 && current > math.MaxInt64-d.Amount {
		return Transaction{}, fmt.Errorf("%w: %s balance %d cannot take %d more", ErrInvalidAmount, d.Kind, current, d.Amount)
	}
	next := current + d.Amount
	if next < 0 {
		return Transaction{}, &InsufficientBalanceError{
			UserID:    u.profile.UserID,
			Kind:      d.Kind,
			Available: current,
			Requested: -d.Amount,
		}
	}

	if d.IdempotencyKey != "" {
		exists, err := u.store.Exists(u.ctx, d.IdempotencyKey)
		if err != nil {
			return Transaction{}, err
		}
		if exists {
			return Transaction{}, ErrDuplicateIdempotencyKey
		}
	}

	tx, err := u.store.AppendTransaction(u.ctx, Transaction{
		ID:             TransactionID(uuid.NewString()),
		UserID:         u.profile.UserID,
		Kind:           d.Kind,
		Type:           d.Type,
		Amount:         d.Amount,
		Description:    d.Description,
		ReferenceID:    d.ReferenceID,
		IdempotencyKey: d.IdempotencyKey,
		CreatedBy:      d.CreatedBy,
		CreatedAt:      u.at,
	})
	if err != nil {
		return Transaction{}, err
	}

	u.profile.setBalance(d.Kind, next)
	if d.Kind == KindPoint && u.tiers != nil {
		u.profile.LoyaltyTier = u.tiers(next)
	}
	u.txs = append(u.txs, tx)
	u.dirty = true
	return tx, nil
}

// DailyClaim returns the claim for date or nil.
func (u *Unit) DailyClaim(date Date) (*DailyClaim, error) {
	return u.store.GetDailyClaim(u.ctx, u.profile.UserID, date)
}

// RecordClaim appends the claim record.
func (u *Unit) RecordClaim(c DailyClaim) error {
	c.UserID = u.profile.UserID
	if c.ClaimedAt.IsZero() {
		c.ClaimedAt = u.at
	}
	if err := u.store.AppendDailyClaim(u.ctx, c); err != nil {
		return err
	}
	u.claim = &c
	u.dirty = true
	return nil
}

// SetStreak stages the streak counter and the last claim day.
func (u *Unit) SetStreak(streak int, lastClaim *Date) {
	if streak < 0 {
		streak = 0
	}
	u.profile.LoginStreak = streak
	if lastClaim != nil {
		d := *lastClaim
		u.profile.LastClaimDate = &d
	} else {
		u.profile.LastClaimDate = nil
	}
	u.dirty = true
}

// SetTier stages an explicit tier; the next point delta recomputes it.
func (u *Unit) SetTier(tier string) {
	u.profile.LoyaltyTier = tier
	u.dirty = true
}

// Audit appends an audit entry in the same unit.
func (u *Unit) Audit(e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.UserID = u.profile.UserID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = u.at
	}
	if err := u.store.AppendAudit(u.ctx, e); err != nil {
		return err
	}
	u.audit = append(u.audit, e)
	u.dirty = true
	return nil
}
