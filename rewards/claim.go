/*
claim.go - Daily claim processor

PURPOSE:
  Redeems the daily coin allowance once per calendar day, keeps the login
  streak and pays the streak bonus on bonus days.

STATE PER USER:
  (LoginStreak, LastClaimDate) on the profile.
  Unclaimed-Today --claim--> Claimed-Today, once per calendar day.

CLAIM STEPS (one ledger unit, all-or-nothing):
  1. today = calendar day of now in the program location
     A claim record for (user, today) exists -> ErrAlreadyClaimed
  2. LastClaimDate == today-1 -> streak+1, otherwise streak = 1
  3. Credit BaseAmount (daily_claim); on bonus days also credit
     StreakBonus as a separate streak_bonus transaction
  4. Append the claim record with CoinsAwarded = total credited
  5. Set LastClaimDate = today and the new streak
  If any step fails nothing is written.

CLOCK SKEW:
  A LastClaimDate later than today (clock moved back, location changed)
  is treated as already claimed rather than restarting the streak.

ELIGIBILITY:
  CanClaim never writes. It answers "can I claim now", "when is the next
  claim" and "would the streak continue" from the profile and the claim
  record alone.

SEE ALSO:
  - generic/ledger.go: The unit the claim runs in
  - analytics.go: Effective streak for display
*/
package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/rewards-engine/generic"
)

// ClaimProcessor processes daily claims.
type ClaimProcessor struct {
	Ledger  *generic.Ledger
	Program Program
	Logger  *slog.Logger
}

func NewClaimProcessor(ledger *generic.Ledger, program Program, logger *slog.Logger) *ClaimProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaimProcessor{Ledger: ledger, Program: program, Logger: logger}
}

// ClaimResult is what a successful claim credited.
type ClaimResult struct {
	Claim        generic.DailyClaim
	CoinsAwarded int64
	BonusAwarded int64
	NewStreak    int
	NewBalance   int64
	Profile      generic.Profile
	Transactions []generic.Transaction
}

// Claim redeems today's allowance for userID.
func (p *ClaimProcessor) Claim(ctx context.Context, userID generic.UserID, now time.Time) (ClaimResult, error) {
	today := generic.DateIn(now, p.Program.location())

	var result ClaimResult
	out, err := p.Ledger.Do(ctx, userID, now, func(u *generic.Unit) error {
		existing, err := u.DailyClaim(today)
		if err != nil {
			return err
		}
		if existing != nil {
			return generic.ErrAlreadyClaimed
		}

		profile := u.Profile()
		if profile.LastClaimDate != nil && !profile.LastClaimDate.Before(today) {
			return generic.ErrAlreadyClaimed
		}

		streak := nextStreak(profile, today)

		base, err := u.Apply(generic.Delta{
			Kind:           generic.KindCoin,
			Amount:         p.Program.BaseAmount,
			Type:           generic.TxDailyClaim,
			Description:    fmt.Sprintf("Daily claim %s", today),
			ReferenceID:    today.String(),
			IdempotencyKey: claimKey(generic.TxDailyClaim, userID, today),
		})
		if err != nil {
			return err
		}
		total := base.Amount

		if p.Program.BonusDay(streak) {
			bonus, err := u.Apply(generic.Delta{
				Kind:           generic.KindCoin,
				Amount:         p.Program.StreakBonus,
				Type:           generic.TxStreakBonus,
				Description:    fmt.Sprintf("%d-day streak bonus", streak),
				ReferenceID:    today.String(),
				IdempotencyKey: claimKey(generic.TxStreakBonus, userID, today),
			})
			if err != nil {
				return err
			}
			total += bonus.Amount
			result.BonusAwarded = bonus.Amount
		}

		if err := u.RecordClaim(generic.DailyClaim{
			ClaimDate:    today,
			ClaimedAt:    now,
			CoinsAwarded: total,
			Streak:       streak,
		}); err != nil {
			return err
		}
		u.SetStreak(streak, &today)

		result.CoinsAwarded = total
		result.NewStreak = streak
		return nil
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim: %w", err)
	}

	result.Profile = out.Profile
	result.NewBalance = out.Profile.CoinBalance
	result.Transactions = out.Transactions
	if out.Claim != nil {
		result.Claim = *out.Claim
	}

	p.Logger.Info("daily claim",
		slog.String("user_id", string(userID)),
		slog.String("claim_date", today.String()),
		slog.Int64("coins_awarded", result.CoinsAwarded),
		slog.Int("streak", result.NewStreak))
	return result, nil
}

// nextStreak returns the streak a claim on today reaches.
func nextStreak(profile generic.Profile, today generic.Date) int {
	if profile.LastClaimDate != nil && profile.LastClaimDate.Equal(today.AddDays(-1)) {
		return profile.LoginStreak + 1
	}
	return 1
}

func claimKey(t generic.TransactionType, userID generic.UserID, day generic.Date) string {
	return fmt.Sprintf("%s:%s:%s", t, userID, day)
}

// =============================================================================
// ELIGIBILITY - Read only
// =============================================================================

type Eligibility struct {
	CanClaim        bool          `json:"can_claim"`
	Today           generic.Date  `json:"-"`
	LastClaim       *generic.Date `json:"-"`
	NextClaimAt     time.Time     `json:"next_claim_at"`
	TimeUntilNext   time.Duration `json:"-"`
	CurrentStreak   int           `json:"current_streak"`
	StreakContinues bool          `json:"streak_continues"`
	NextStreak      int           `json:"next_streak"`
	NextAward       int64         `json:"next_award"`
}

// CanClaim reports whether userID may claim at now. It never writes.
func (p *ClaimProcessor) CanClaim(ctx context.Context, userID generic.UserID, now time.Time) (Eligibility, error) {
	if userID == "" {
		return Eligibility{}, generic.ErrUserRequired
	}
	loc := p.Program.location()
	today := generic.DateIn(now, loc)

	profile, err := p.Ledger.Profile(ctx, userID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("can claim: %w", err)
	}
	existing, err := p.Ledger.Store.GetDailyClaim(ctx, userID, today)
	if err != nil {
		return Eligibility{}, fmt.Errorf("can claim: %w", err)
	}

	e := Eligibility{
		Today:         today,
		LastClaim:     profile.LastClaimDate,
		CurrentStreak: EffectiveStreak(profile, today),
	}

	claimed := existing != nil || (profile.LastClaimDate != nil && !profile.LastClaimDate.Before(today))
	if claimed {
		next := today.AddDays(1)
		if profile.LastClaimDate != nil && profile.LastClaimDate.After(today) {
			next = profile.LastClaimDate.AddDays(1)
		}
		e.NextClaimAt = next.Midnight(loc)
		e.TimeUntilNext = e.NextClaimAt.Sub(now)
		// What tomorrow's claim would pay if the user comes back in time.
		e.StreakContinues = true
		e.NextStreak = profile.LoginStreak + 1
		e.NextAward = p.Program.AwardFor(e.NextStreak)
		return e, nil
	}

	e.CanClaim = true
	e.NextClaimAt = now
	e.NextStreak = nextStreak(profile, today)
	e.StreakContinues = e.NextStreak > 1
	e.NextAward = p.Program.AwardFor(e.NextStreak)
	return e, nil
}
