/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements generic.Store and generic.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on coin_transactions, point_transactions,
    daily_claims or admin_audit
  - Only reward_profiles rows are updated, and only by the ledger unit

KEY TABLES:
  reward_profiles:     Balances, streak, last claim day, tier
  coin_transactions:   Immutable coin ledger
  point_transactions:  Immutable point ledger (same shape)
  daily_claims:        One row per (user, claim_date)
  admin_audit:         Admin actions

CONSTRAINTS:
  The database backs the engine's invariants:
  - PRIMARY KEY (user_id, claim_date) on daily_claims: a second claim on the
    same day fails even if two processes race -> generic.ErrAlreadyClaimed
  - UNIQUE idempotency_key -> generic.ErrDuplicateIdempotencyKey
  - CHECK balance >= 0 on reward_profiles (named constraints, mapped by
    column in translate)
  - SQLITE_BUSY / SQLITE_LOCKED -> generic.ErrConcurrentModification

CONCURRENCY:
  Uses sync.RWMutex for in-process thread-safety; WithTx holds the write
  lock for the whole unit. Across processes, SQLite's own locking applies.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/rewards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewLedger(store)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/rewards-engine/generic"
)

const timeLayout = time.RFC3339Nano

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dbPath, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reward_profiles (
		user_id TEXT PRIMARY KEY,
		coin_balance INTEGER NOT NULL DEFAULT 0 CONSTRAINT coin_balance_non_negative CHECK (coin_balance >= 0),
		point_balance INTEGER NOT NULL DEFAULT 0 CONSTRAINT point_balance_non_negative CHECK (point_balance >= 0),
		login_streak INTEGER NOT NULL DEFAULT 0 CONSTRAINT login_streak_non_negative CHECK (login_streak >= 0),
		last_claim_date TEXT,
		loyalty_tier TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS coin_transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount INTEGER NOT NULL CONSTRAINT amount_non_zero CHECK (amount <> 0),
		description TEXT,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_coin_transactions_user
		ON coin_transactions(user_id, seq);

	CREATE TABLE IF NOT EXISTS point_transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount INTEGER NOT NULL CONSTRAINT amount_non_zero CHECK (amount <> 0),
		description TEXT,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_point_transactions_user
		ON point_transactions(user_id, seq);

	-- CRITICAL: at most one claim per user per calendar day
	CREATE TABLE IF NOT EXISTS daily_claims (
		user_id TEXT NOT NULL,
		claim_date TEXT NOT NULL,
		claimed_at TEXT NOT NULL,
		coins_awarded INTEGER NOT NULL,
		streak INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, claim_date)
	);

	CREATE TABLE IF NOT EXISTS admin_audit (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT,
		details_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_admin_audit_user
		ON admin_audit(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE (generic.Store interface)
// =============================================================================

func (s *Store) GetProfile(ctx context.Context, userID generic.UserID) (generic.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProfile(ctx, s.db, userID)
}

func (s *Store) UpdateProfile(ctx context.Context, userID generic.UserID, mutate func(*generic.Profile) error) (generic.Profile, error) {
	var out generic.Profile
	err := s.WithTx(ctx, func(ts generic.Store) error {
		var err error
		out, err = ts.UpdateProfile(ctx, userID, mutate)
		return err
	})
	return out, err
}

func (s *Store) AppendTransaction(ctx context.Context, tx generic.Transaction) (generic.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func (s *Store) ListTransactions(ctx context.Context, userID generic.UserID, kind generic.Kind) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, userID, kind)
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exists(ctx, s.db, idempotencyKey)
}

func (s *Store) GetDailyClaim(ctx context.Context, userID generic.UserID, date generic.Date) (*generic.DailyClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDailyClaim(ctx, s.db, userID, date)
}

func (s *Store) AppendDailyClaim(ctx context.Context, c generic.DailyClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendDailyClaim(ctx, s.db, c)
}

func (s *Store) ListDailyClaims(ctx context.Context, userID generic.UserID) ([]generic.DailyClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDailyClaims(ctx, s.db, userID)
}

func (s *Store) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, e)
}

func (s *Store) ListAudit(ctx context.Context, userID generic.UserID) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAudit(ctx, s.db, userID)
}

// ListUserIDs returns every user with a stored profile, in id order.
func (s *Store) ListUserIDs(ctx context.Context) ([]generic.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM reward_profiles ORDER BY user_id`)
	if err != nil {
		return nil, translate(fmt.Errorf("failed to list users: %w", err))
	}
	defer rows.Close()

	var ids []generic.UserID
	for rows.Next() {
		var id generic.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return translate(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// txStore runs every call on the open *sql.Tx; the parent's lock is held.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetProfile(ctx context.Context, userID generic.UserID) (generic.Profile, error) {
	return getProfile(ctx, ts.tx, userID)
}

func (ts *txStore) UpdateProfile(ctx context.Context, userID generic.UserID, mutate func(*generic.Profile) error) (generic.Profile, error) {
	p, err := getProfile(ctx, ts.tx, userID)
	if err != nil {
		return generic.Profile{}, err
	}
	if err := mutate(&p); err != nil {
		return generic.Profile{}, err
	}
	p.UserID = userID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if err := upsertProfile(ctx, ts.tx, p); err != nil {
		return generic.Profile{}, err
	}
	return p, nil
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx generic.Transaction) (generic.Transaction, error) {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) ListTransactions(ctx context.Context, userID generic.UserID, kind generic.Kind) ([]generic.Transaction, error) {
	return listTransactions(ctx, ts.tx, userID, kind)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return exists(ctx, ts.tx, idempotencyKey)
}

func (ts *txStore) GetDailyClaim(ctx context.Context, userID generic.UserID, date generic.Date) (*generic.DailyClaim, error) {
	return getDailyClaim(ctx, ts.tx, userID, date)
}

func (ts *txStore) AppendDailyClaim(ctx context.Context, c generic.DailyClaim) error {
	return appendDailyClaim(ctx, ts.tx, c)
}

func (ts *txStore) ListDailyClaims(ctx context.Context, userID generic.UserID) ([]generic.DailyClaim, error) {
	return listDailyClaims(ctx, ts.tx, userID)
}

func (ts *txStore) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	return appendAudit(ctx, ts.tx, e)
}

func (ts *txStore) ListAudit(ctx context.Context, userID generic.UserID) ([]generic.AuditEntry, error) {
	return listAudit(ctx, ts.tx, userID)
}

// =============================================================================
// PROFILES
// =============================================================================

func getProfile(ctx context.Context, q querier, userID generic.UserID) (generic.Profile, error) {
	var (
		p         generic.Profile
		lastClaim sql.NullString
		createdAt string
		updatedAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, coin_balance, point_balance, login_streak, last_claim_date,
		       loyalty_tier, created_at, updated_at
		FROM reward_profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.CoinBalance, &p.PointBalance, &p.LoginStreak, &lastClaim,
		&p.LoyaltyTier, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return generic.NewProfile(userID), nil
	}
	if err != nil {
		return generic.Profile{}, translate(fmt.Errorf("failed to load profile: %w", err))
	}

	if lastClaim.Valid && lastClaim.String != "" {
		d, err := generic.ParseDate(lastClaim.String)
		if err != nil {
			return generic.Profile{}, err
		}
		p.LastClaimDate = &d
	}
	p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	p.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return p, nil
}

func upsertProfile(ctx context.Context, q querier, p generic.Profile) error {
	var lastClaim sql.NullString
	if p.LastClaimDate != nil {
		lastClaim = sql.NullString{String: p.LastClaimDate.String(), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO reward_profiles
		(user_id, coin_balance, point_balance, login_streak, last_claim_date, loyalty_tier, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			coin_balance = excluded.coin_balance,
			point_balance = excluded.point_balance,
			login_streak = excluded.login_streak,
			last_claim_date = excluded.last_claim_date,
			loyalty_tier = excluded.loyalty_tier,
			updated_at = excluded.updated_at`,
		p.UserID, p.CoinBalance, p.PointBalance, p.LoginStreak, lastClaim, p.LoyaltyTier,
		p.CreatedAt.UTC().Format(timeLayout), p.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return translate(fmt.Errorf("failed to save profile: %w", err))
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func txTable(kind generic.Kind) (string, error) {
	switch kind {
	case generic.KindCoin:
		return "coin_transactions", nil
	case generic.KindPoint:
		return "point_transactions", nil
	}
	return "", fmt.Errorf("%w: unknown ledger kind %q", generic.ErrInvalidCommand, kind)
}

func appendTransaction(ctx context.Context, q querier, tx generic.Transaction) (generic.Transaction, error) {
	table, err := txTable(tx.Kind)
	if err != nil {
		return generic.Transaction{}, err
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO `+table+`
		(id, user_id, tx_type, amount, description, reference_id, idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Description,
		nullString(tx.ReferenceID), nullString(tx.IdempotencyKey), nullString(tx.CreatedBy),
		tx.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return generic.Transaction{}, translate(fmt.Errorf("failed to append transaction: %w", err))
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return generic.Transaction{}, fmt.Errorf("failed to read transaction seq: %w", err)
	}
	tx.Seq = seq
	return tx, nil
}

func listTransactions(ctx context.Context, q querier, userID generic.UserID, kind generic.Kind) ([]generic.Transaction, error) {
	table, err := txTable(kind)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT seq, id, user_id, tx_type, amount, description, reference_id,
		       idempotency_key, created_by, created_at
		FROM `+table+`
		WHERE user_id = ?
		ORDER BY seq ASC`, userID)
	if err != nil {
		return nil, translate(fmt.Errorf("failed to query transactions: %w", err))
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		var (
			tx             generic.Transaction
			description    sql.NullString
			referenceID    sql.NullString
			idempotencyKey sql.NullString
			createdBy      sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&tx.Seq, &tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &description,
			&referenceID, &idempotencyKey, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Kind = kind
		tx.Description = description.String
		tx.ReferenceID = referenceID.String
		tx.IdempotencyKey = idempotencyKey.String
		tx.CreatedBy = createdBy.String
		tx.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func exists(ctx context.Context, q querier, idempotencyKey string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM coin_transactions WHERE idempotency_key = ?) +
			(SELECT COUNT(*) FROM point_transactions WHERE idempotency_key = ?)`,
		idempotencyKey, idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

// =============================================================================
// DAILY CLAIMS
// =============================================================================

func getDailyClaim(ctx context.Context, q querier, userID generic.UserID, date generic.Date) (*generic.DailyClaim, error) {
	var (
		c         generic.DailyClaim
		claimDate string
		claimedAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, claim_date, claimed_at, coins_awarded, streak
		FROM daily_claims WHERE user_id = ? AND claim_date = ?`,
		userID, date.String(),
	).Scan(&c.UserID, &claimDate, &claimedAt, &c.CoinsAwarded, &c.Streak)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translate(fmt.Errorf("failed to load claim: %w", err))
	}
	c.ClaimDate = date
	c.ClaimedAt, _ = time.Parse(timeLayout, claimedAt)
	return &c, nil
}

func appendDailyClaim(ctx context.Context, q querier, c generic.DailyClaim) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO daily_claims (user_id, claim_date, claimed_at, coins_awarded, streak)
		VALUES (?, ?, ?, ?, ?)`,
		c.UserID, c.ClaimDate.String(), c.ClaimedAt.UTC().Format(timeLayout), c.CoinsAwarded, c.Streak,
	)
	if err != nil {
		return translate(fmt.Errorf("failed to append claim: %w", err))
	}
	return nil
}

func listDailyClaims(ctx context.Context, q querier, userID generic.UserID) ([]generic.DailyClaim, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id, claim_date, claimed_at, coins_awarded, streak
		FROM daily_claims WHERE user_id = ?
		ORDER BY claim_date ASC`, userID)
	if err != nil {
		return nil, translate(fmt.Errorf("failed to query claims: %w", err))
	}
	defer rows.Close()

	var claims []generic.DailyClaim
	for rows.Next() {
		var (
			c         generic.DailyClaim
			claimDate string
			claimedAt string
		)
		if err := rows.Scan(&c.UserID, &claimDate, &claimedAt, &c.CoinsAwarded, &c.Streak); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		d, err := generic.ParseDate(claimDate)
		if err != nil {
			return nil, err
		}
		c.ClaimDate = d
		c.ClaimedAt, _ = time.Parse(timeLayout, claimedAt)
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// =============================================================================
// AUDIT
// =============================================================================

func appendAudit(ctx context.Context, q querier, e generic.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO admin_audit (id, actor_id, user_id, action, reason, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorID, e.UserID, e.Action, e.Reason, string(details),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return translate(fmt.Errorf("failed to append audit entry: %w", err))
	}
	return nil
}

func listAudit(ctx context.Context, q querier, userID generic.UserID) ([]generic.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, actor_id, user_id, action, reason, details_json, created_at
		FROM admin_audit WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, translate(fmt.Errorf("failed to query audit: %w", err))
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e         generic.AuditEntry
			reason    sql.NullString
			details   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.UserID, &e.Action, &reason, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Reason = reason.String
		if details.Valid && details.String != "" && details.String != "null" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// translate maps driver errors onto the engine's error taxonomy.
func translate(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", generic.ErrConcurrentModification, err)
	case sqlite3.ErrConstraint:
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "daily_claims"):
			return generic.ErrAlreadyClaimed
		case strings.Contains(msg, "idempotency_key"):
			return generic.ErrDuplicateIdempotencyKey
		case strings.Contains(msg, "coin_balance"), strings.Contains(msg, "point_balance"):
			return fmt.Errorf("%w: %v", generic.ErrInsufficientBalance, err)
		case strings.Contains(msg, "amount"):
			return fmt.Errorf("%w: %v", generic.ErrInvalidAmount, err)
		}
	}
	return err
}

// Compile-time checks
var (
	_ generic.TxStore = (*Store)(nil)
	_ generic.Store   = (*txStore)(nil)
)
