package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-engine/generic"
	"github.com/warp/rewards-engine/generic/store"
)

var day = generic.NewDate(2025, time.March, 10)

func TestMemory_UnknownProfile_IsZeroed(t *testing.T) {
	m := store.NewMemory()

	p, err := m.GetProfile(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, generic.UserID("ghost"), p.UserID)
	assert.False(t, p.Exists())
}

func TestMemory_AppendTransaction_AssignsSeqAndRejectsDuplicateKey(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	a, err := m.AppendTransaction(ctx, generic.Transaction{ID: "a", UserID: "u", Kind: generic.KindCoin, Amount: 1, IdempotencyKey: "k1"})
	require.NoError(t, err)
	b, err := m.AppendTransaction(ctx, generic.Transaction{ID: "b", UserID: "u", Kind: generic.KindCoin, Amount: 2})
	require.NoError(t, err)
	assert.Less(t, a.Seq, b.Seq)

	_, err = m.AppendTransaction(ctx, generic.Transaction{ID: "c", UserID: "u", Kind: generic.KindPoint, Amount: 3, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	exists, err := m.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	coins, _ := m.ListTransactions(ctx, "u", generic.KindCoin)
	points, _ := m.ListTransactions(ctx, "u", generic.KindPoint)
	assert.Len(t, coins, 2)
	assert.Empty(t, points)
}

func TestMemory_DailyClaims_OnePerDayAndOrdered(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AppendDailyClaim(ctx, generic.DailyClaim{UserID: "u", ClaimDate: day.AddDays(2)}))
	require.NoError(t, m.AppendDailyClaim(ctx, generic.DailyClaim{UserID: "u", ClaimDate: day}))
	require.NoError(t, m.AppendDailyClaim(ctx, generic.DailyClaim{UserID: "u", ClaimDate: day.AddDays(1)}))

	err := m.AppendDailyClaim(ctx, generic.DailyClaim{UserID: "u", ClaimDate: day})
	assert.ErrorIs(t, err, generic.ErrAlreadyClaimed)

	claims, err := m.ListDailyClaims(ctx, "u")
	require.NoError(t, err)
	require.Len(t, claims, 3)
	assert.Equal(t, day, claims[0].ClaimDate)
	assert.Equal(t, day.AddDays(2), claims[2].ClaimDate)

	// Another user may claim the same day
	assert.NoError(t, m.AppendDailyClaim(ctx, generic.DailyClaim{UserID: "v", ClaimDate: day}))
}

func TestMemory_ProfileIsCopiedOnRead(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	_, err := m.UpdateProfile(ctx, "u", func(p *generic.Profile) error {
		d := day
		p.LastClaimDate = &d
		p.CreatedAt = time.Now()
		return nil
	})
	require.NoError(t, err)

	p, _ := m.GetProfile(ctx, "u")
	*p.LastClaimDate = day.AddDays(5)

	again, _ := m.GetProfile(ctx, "u")
	assert.Equal(t, day, *again.LastClaimDate)
}

func TestTxMemory_RollbackRestoresAllTables(t *testing.T) {
	// GIVEN: A committed credit for user u
	// WHEN: A later transaction writes to every table, then fails
	// THEN: Only the first credit is visible and the idempotency key is free
	tm := store.NewTxMemory()
	ctx := context.Background()

	require.NoError(t, tm.WithTx(ctx, func(s generic.Store) error {
		_, err := s.AppendTransaction(ctx, generic.Transaction{ID: "a", UserID: "u", Kind: generic.KindCoin, Amount: 10})
		return err
	}))

	boom := errors.New("boom")
	err := tm.WithTx(ctx, func(s generic.Store) error {
		if _, err := s.AppendTransaction(ctx, generic.Transaction{ID: "b", UserID: "u", Kind: generic.KindCoin, Amount: 5, IdempotencyKey: "once"}); err != nil {
			return err
		}
		if err := s.AppendDailyClaim(ctx, generic.DailyClaim{UserID: "u", ClaimDate: day}); err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, generic.AuditEntry{ID: "x", UserID: "u", Action: "add_coins"}); err != nil {
			return err
		}
		if _, err := s.UpdateProfile(ctx, "u", func(p *generic.Profile) error {
			p.CoinBalance = 15
			return nil
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	txs, _ := tm.ListTransactions(ctx, "u", generic.KindCoin)
	require.Len(t, txs, 1)
	assert.Equal(t, generic.TransactionID("a"), txs[0].ID)

	claims, _ := tm.ListDailyClaims(ctx, "u")
	assert.Empty(t, claims)
	audit, _ := tm.ListAudit(ctx, "u")
	assert.Empty(t, audit)
	p, _ := tm.GetProfile(ctx, "u")
	assert.Zero(t, p.CoinBalance)
	exists, _ := tm.Exists(ctx, "once")
	assert.False(t, exists)
}

func TestTxMemory_CancelledContext_DoesNotCommit(t *testing.T) {
	tm := store.NewTxMemory()
	ctx, cancel := context.WithCancel(context.Background())

	err := tm.WithTx(ctx, func(s generic.Store) error {
		_, err := s.AppendTransaction(ctx, generic.Transaction{ID: "a", UserID: "u", Kind: generic.KindCoin, Amount: 10})
		cancel()
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)

	txs, _ := tm.ListTransactions(context.Background(), "u", generic.KindCoin)
	assert.Empty(t, txs)
}
