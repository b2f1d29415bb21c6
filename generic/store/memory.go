// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/rewards-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	profiles     map[generic.UserID]generic.Profile
	transactions map[key][]generic.Transaction
	claims       map[generic.UserID][]generic.DailyClaim
	audit        map[generic.UserID][]generic.AuditEntry
	idempotency  map[string]bool
	seq          int64
}

type key struct {
	UserID generic.UserID
	Kind   generic.Kind
}

func NewMemory() *Memory {
	return &Memory{
		profiles:     make(map[generic.UserID]generic.Profile),
		transactions: make(map[key][]generic.Transaction),
		claims:       make(map[generic.UserID][]generic.DailyClaim),
		audit:        make(map[generic.UserID][]generic.AuditEntry),
		idempotency:  make(map[string]bool),
	}
}

func (m *Memory) GetProfile(_ context.Context, userID generic.UserID) (generic.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProfileLocked(userID), nil
}

func (m *Memory) UpdateProfile(_ context.Context, userID generic.UserID, mutate func(*generic.Profile) error) (generic.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateProfileLocked(userID, mutate)
}

func (m *Memory) AppendTransaction(_ context.Context, tx generic.Transaction) (generic.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTxLocked(tx)
}

func (m *Memory) ListTransactions(_ context.Context, userID generic.UserID, kind generic.Kind) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTxLocked(userID, kind), nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) GetDailyClaim(_ context.Context, userID generic.UserID, date generic.Date) (*generic.DailyClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getClaimLocked(userID, date), nil
}

func (m *Memory) AppendDailyClaim(_ context.Context, c generic.DailyClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendClaimLocked(c)
}

func (m *Memory) ListDailyClaims(_ context.Context, userID generic.UserID) ([]generic.DailyClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.DailyClaim(nil), m.claims[userID]...), nil
}

func (m *Memory) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit[e.UserID] = append(m.audit[e.UserID], e)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, userID generic.UserID) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.AuditEntry(nil), m.audit[userID]...), nil
}

// ListUserIDs returns every user with a stored profile, in id order.
func (m *Memory) ListUserIDs(_ context.Context) ([]generic.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]generic.UserID, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// =============================================================================
// LOCKED HELPERS - Caller holds m.mu
// =============================================================================

func (m *Memory) getProfileLocked(userID generic.UserID) generic.Profile {
	p, ok := m.profiles[userID]
	if !ok {
		return generic.NewProfile(userID)
	}
	return cloneProfile(p)
}

func (m *Memory) updateProfileLocked(userID generic.UserID, mutate func(*generic.Profile) error) (generic.Profile, error) {
	p := m.getProfileLocked(userID)
	if err := mutate(&p); err != nil {
		return generic.Profile{}, err
	}
	p.UserID = userID
	m.profiles[userID] = cloneProfile(p)
	return p, nil
}

func (m *Memory) appendTxLocked(tx generic.Transaction) (generic.Transaction, error) {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return generic.Transaction{}, generic.ErrDuplicateIdempotencyKey
	}
	m.seq++
	tx.Seq = m.seq
	k := key{UserID: tx.UserID, Kind: tx.Kind}
	m.transactions[k] = append(m.transactions[k], tx)
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return tx, nil
}

func (m *Memory) listTxLocked(userID generic.UserID, kind generic.Kind) []generic.Transaction {
	k := key{UserID: userID, Kind: kind}
	result := make([]generic.Transaction, len(m.transactions[k]))
	copy(result, m.transactions[k])
	return result
}

func (m *Memory) getClaimLocked(userID generic.UserID, date generic.Date) *generic.DailyClaim {
	for _, c := range m.claims[userID] {
		if c.ClaimDate.Equal(date) {
			found := c
			return &found
		}
	}
	return nil
}

func (m *Memory) appendClaimLocked(c generic.DailyClaim) error {
	if m.getClaimLocked(c.UserID, c.ClaimDate) != nil {
		return generic.ErrAlreadyClaimed
	}
	claims := m.claims[c.UserID]

	// Binary search for insertion point keeps claims ordered by date
	i := sort.Search(len(claims), func(i int) bool {
		return claims[i].ClaimDate.After(c.ClaimDate)
	})
	claims = append(claims, generic.DailyClaim{})
	copy(claims[i+1:], claims[i:])
	claims[i] = c
	m.claims[c.UserID] = claims
	return nil
}

func cloneProfile(p generic.Profile) generic.Profile {
	if p.LastClaimDate != nil {
		d := *p.LastClaimDate
		p.LastClaimDate = &d
	}
	return p
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}

	// A caller that gave up mid-unit must not see a partial commit.
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		profiles:     make(map[generic.UserID]generic.Profile, len(tm.profiles)),
		transactions: make(map[key][]generic.Transaction, len(tm.transactions)),
		claims:       make(map[generic.UserID][]generic.DailyClaim, len(tm.claims)),
		audit:        make(map[generic.UserID][]generic.AuditEntry, len(tm.audit)),
		idempotency:  make(map[string]bool, len(tm.idempotency)),
		seq:          tm.seq,
	}
	for k, v := range tm.profiles {
		s.profiles[k] = cloneProfile(v)
	}
	for k, v := range tm.transactions {
		s.transactions[k] = append([]generic.Transaction{}, v...)
	}
	for k, v := range tm.claims {
		s.claims[k] = append([]generic.DailyClaim{}, v...)
	}
	for k, v := range tm.audit {
		s.audit[k] = append([]generic.AuditEntry{}, v...)
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.profiles = s.profiles
	tm.transactions = s.transactions
	tm.claims = s.claims
	tm.audit = s.audit
	tm.idempotency = s.idempotency
	tm.seq = s.seq
}

type memorySnapshot struct {
	profiles     map[generic.UserID]generic.Profile
	transactions map[key][]generic.Transaction
	claims       map[generic.UserID][]generic.DailyClaim
	audit        map[generic.UserID][]generic.AuditEntry
	idempotency  map[string]bool
	seq          int64
}

// txMemoryView runs with the parent's write lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetProfile(_ context.Context, userID generic.UserID) (generic.Profile, error) {
	return tv.parent.getProfileLocked(userID), nil
}

func (tv *txMemoryView) UpdateProfile(_ context.Context, userID generic.UserID, mutate func(*generic.Profile) error) (generic.Profile, error) {
	return tv.parent.updateProfileLocked(userID, mutate)
}

func (tv *txMemoryView) AppendTransaction(_ context.Context, tx generic.Transaction) (generic.Transaction, error) {
	return tv.parent.appendTxLocked(tx)
}

func (tv *txMemoryView) ListTransactions(_ context.Context, userID generic.UserID, kind generic.Kind) ([]generic.Transaction, error) {
	return tv.parent.listTxLocked(userID, kind), nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}

func (tv *txMemoryView) GetDailyClaim(_ context.Context, userID generic.UserID, date generic.Date) (*generic.DailyClaim, error) {
	return tv.parent.getClaimLocked(userID, date), nil
}

func (tv *txMemoryView) AppendDailyClaim(_ context.Context, c generic.DailyClaim) error {
	return tv.parent.appendClaimLocked(c)
}

func (tv *txMemoryView) ListDailyClaims(_ context.Context, userID generic.UserID) ([]generic.DailyClaim, error) {
	return append([]generic.DailyClaim(nil), tv.parent.claims[userID]...), nil
}

func (tv *txMemoryView) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	tv.parent.audit[e.UserID] = append(tv.parent.audit[e.UserID], e)
	return nil
}

func (tv *txMemoryView) ListAudit(_ context.Context, userID generic.UserID) ([]generic.AuditEntry, error) {
	return append([]generic.AuditEntry(nil), tv.parent.audit[userID]...), nil
}

// Compile-time checks
var (
	_ generic.Store   = (*Memory)(nil)
	_ generic.TxStore = (*TxMemory)(nil)
	_ generic.Store   = (*txMemoryView)(nil)
)
