package rewards_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-engine/generic"
	"github.com/warp/rewards-engine/rewards"
)

func TestAdjust_AddCoins_WritesTransactionAndAudit(t *testing.T) {
	engine, _ := newEngine(t, rewards.DefaultProgram(), "admin-1")
	ctx := context.Background()

	res, err := engine.Adjust(ctx, "admin-1", "user-1", rewards.AddCoins{Amount: 40}, "goodwill")
	require.NoError(t, err)

	assert.Equal(t, rewards.ActionAddCoins, res.Action)
	assert.Equal(t, int64(40), res.Applied)
	assert.False(t, res.Clamped)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, generic.TxAdminAdjustment, res.Transaction.Type)
	assert.Equal(t, "admin-1", res.Transaction.CreatedBy)
	assert.Equal(t, int64(40), res.Profile.CoinBalance)

	audit, err := engine.Ledger.AuditLog(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "admin-1", audit[0].ActorID)
	assert.Equal(t, rewards.ActionAddCoins, audit[0].Action)
	assert.Equal(t, "goodwill", audit[0].Reason)
	assert.Equal(t, "40", audit[0].Details["applied"])
}

func TestAdjust_RemoveMoreThanBalance_ClampsToAvailable(t *testing.T) {
	// GIVEN: A user with 30 coins
	// WHEN: An admin removes 1000 coins
	// THEN: Applied is -30, balance is 0, the result says it was clamped
	engine, _ := newEngine(t, rewards.DefaultProgram(), "admin-1")
	ctx := context.Background()

	_, err := engine.Adjust(ctx, "admin-1", "user-1", rewards.AddCoins{Amount: 30}, "seed")
	require.NoError(t, err)

	res, err := engine.Adjust(ctx, "admin-1", "user-1", rewards.RemoveCoins{Amount: 1000}, "chargeback")
	require.NoError(t, err)

	assert.Equal(t, int64(1000), res.Requested)
	assert.Equal(t, int64(-30), res.Applied)
	assert.True(t, res.Clamped)
	assert.Contains(t, res.Message, "clamped")
	assert.Zero(t, res.Profile.CoinBalance)
	assert.Zero(t, coinLedgerSum(t, engine, "user-1"))

	audit, _ := engine.Ledger.AuditLog(ctx, "user-1")
	require.Len(t, audit, 2)
	assert.Equal(t, "1000", audit[1].Details["requested"])
	assert.Equal(t, "-30", audit[1].Details["applied"])
	assert.Equal(t, "true", audit[1].Details["clamped"])
}

func TestAdjust_AddCoinsOverflow_InvalidAmount(t *testing.T) {
	// GIVEN: A user who claimed 10 coins
	// WHEN: An admin adds MaxInt64 coins
	// THEN: ErrInvalidAmount; balance, ledger and audit trail are unchanged
	engine, _ := newEngine(t, rewards.DefaultProgram(), "admin-1")
	ctx := context.Background()
	_, err := engine.Claim(ctx, "user-1")
	require.NoError(t, err)

	_, err = engine.Adjust(ctx, "admin-1", "user-1", rewards.AddCoins{Amount: math.MaxInt64}, "typo")
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
	assert.NotErrorIs(t, err, generic.ErrInsufficientBalance)
	assert.Equal(t, "invalid_amount", generic.Reason(err))

	p, err := engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.CoinBalance)
	assert.Equal(t, int64(10), coinLedgerSum(t, engine, "user-1"))
	audit, _ := engine.Ledger.AuditLog(ctx, "user-1")
	assert.Empty(t, audit)
}

func TestAdjust_RemoveFromZeroBalance_AuditOnly(t *testing.T) {
	engine, _ := newEngine(t, rewards.DefaultProgram(), "admin-1")
	ctx := context.Background()

	res, err := engine.Adjust(ctx, "admin-1", "user-1", rewards.RemovePoints{Amount: 50}, "cleanup")
	require.NoError(t, err)

	assert.Nil(t, res.Transaction)
	assert.Zero(t, res.Applied)
	assert.True(t, res.Clamped)

	points, _ := engine.Ledger.Transactions(ctx, "user-1", generic.KindPoint)
	assert.Empty(t, points)
	audit, _ := engine.Ledger.AuditLog(ctx, "user-1")
	assert.Len(t, audit, 1)
}

func TestAdjust_NotAnAdmin_Unauthorized(t *testing.T) {
	// GIVEN: An authorizer that knows admin-1 only
	// WHEN: mallory and an empty actor try to adjust
	// THEN: ErrUnauthorizedAdjustment and nothing is written
	engine, _ := newEngine(t, rewards.DefaultProgram(), "admin-1")
	ctx := context.Background()

	_, err := engine.Adjust(ctx, "mallory", "user-1", rewards.AddCoins{Amount: 100}, "free money")
	assert.ErrorIs(t, err, generic.ErrUnauthorizedAdjustment)
	_, err = engine.Adjust(ctx, "", "user-1", rewards.AddCoins{Amount: 100}, "free money")
	assert.ErrorIs(t, err, generic.ErrUnauthorizedAdjustment)

	p, _ := engine.Ledger.Profile(ctx, "user-1")
	assert.False(t, p.Exists())
	audit, _ := engine.Ledger.AuditLog(ctx, "user-1")
	assert.Empty(t, audit)
}

func TestAdjust_Validation(t *testing.T) {
	engine, _ := newEngine(t, rewards.DefaultProgram(), "admin-1")
	ctx := context.Background()

	tests := []struct {
		name   string
		cmd    rewards.Command
		reason string
		want   error
	}{
		{"missing reason", rewards.AddCoins{Amount: 5}, "", generic.ErrInvalidCommand},
		{"zero amount", rewards.AddPoints{Amount: 0}, "x", generic.ErrInvalidAmount},
		{"negative amount", rewards.RemoveCoins{Amount: -5}, "x", generic.ErrInvalidAmount},
		{"unknown tier", rewards.SetTier{Tier: "diamond"}, "x", generic.ErrInvalidCommand},
		{"no command", nil, "x", generic.ErrInvalidCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Adjust(ctx, "admin-1", "user-1", tt.cmd, tt.reason)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAdjust_ResetStreak_KeepsLastClaimDate(t *testing.T) {
	engine, _ := newEngine(t, rewards.DefaultProgram(), "admin-1")
	ctx := context.Background()
	claimOn(t, engine, "user-1", t0)

	res, err := engine.Adjust(ctx, "admin-1", "user-1", rewards.ResetStreak{}, "abuse")
	require.NoError(t, err)

	assert.Zero(t, res.Profile.LoginStreak)
	require.NotNil(t, res.Profile.LastClaimDate)
	assert.Equal(t, int64(10), res.Profile.CoinBalance)
	assert.Equal(t, "1", res.Audit.Details["previous_streak"])
}

func TestAdjust_SetTier_HeldUntilNextPointDelta(t *testing.T) {
	// GIVEN: A bronze user promoted to gold by an admin
	// WHEN: They later earn 10 points
	// THEN: The tier is recomputed from the point balance (bronze)
	engine, _ := newEngine(t, rewards.DefaultProgram(), "admin-1")
	ctx := context.Background()

	res, err := engine.Adjust(ctx, "admin-1", "user-1", rewards.SetTier{Tier: rewards.TierGold}, "vip")
	require.NoError(t, err)
	assert.Equal(t, rewards.TierGold, res.Profile.LoyaltyTier)

	// Coin deltas leave the tier alone
	claimOn(t, engine, "user-1", t0)
	p, _ := engine.Balance(ctx, "user-1")
	assert.Equal(t, rewards.TierGold, p.LoyaltyTier)

	_, err = engine.CreditPurchaseBonus(ctx, "user-1", 10, "pattern-1")
	require.NoError(t, err)
	p, _ = engine.Balance(ctx, "user-1")
	assert.Equal(t, rewards.TierBronze, p.LoyaltyTier)
}

func TestAdjust_PointsCrossThreshold_PromotesTier(t *testing.T) {
	engine, _ := newEngine(t, rewards.DefaultProgram(), "admin-1")
	ctx := context.Background()

	res, err := engine.Adjust(ctx, "admin-1", "user-1", rewards.AddPoints{Amount: 1200}, "migration")
	require.NoError(t, err)
	assert.Equal(t, rewards.TierPlatinum, res.Profile.LoyaltyTier)

	res, err = engine.Adjust(ctx, "admin-1", "user-1", rewards.RemovePoints{Amount: 800}, "refund")
	require.NoError(t, err)
	assert.Equal(t, rewards.TierSilver, res.Profile.LoyaltyTier)
}

func TestParseCommand(t *testing.T) {
	cmd, err := rewards.ParseCommand("remove_coins", 7, "")
	require.NoError(t, err)
	assert.Equal(t, rewards.RemoveCoins{Amount: 7}, cmd)

	cmd, err = rewards.ParseCommand("set_tier", 0, "gold")
	require.NoError(t, err)
	assert.Equal(t, rewards.SetTier{Tier: "gold"}, cmd)

	_, err = rewards.ParseCommand("delete_user", 0, "")
	assert.ErrorIs(t, err, generic.ErrInvalidCommand)
}
