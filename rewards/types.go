/*
Package rewards provides the storefront rewards domain on top of the generic
ledger engine.

PURPOSE:
  The generic package keeps balances honest. This package decides WHEN and
  HOW MUCH to credit:
  - Daily claims with login streaks and a streak bonus cadence
  - Loyalty tiers derived from the point balance
  - Milestones derived from ledger aggregates
  - Engagement analytics recomputed from history on every request
  - Admin adjustments with an audit trail

KEY DIFFERENCES FROM A PLAIN LEDGER:
  1. Calendar days: claims are keyed by the day in the program's location
  2. Derived state: tier, milestones and score are never cached flags
  3. Two ledgers: coins (claims, admin) and points (purchases, admin)

PROGRAM:
  A Program carries the reward rules:
    BaseAmount:        coins credited by every daily claim (default 10)
    StreakBonus:       extra coins on bonus days (default 5)
    StreakBonusEvery:  bonus cadence in streak days (default 7)
    Location:          where calendar days start and end (default UTC)
    Tiers:             point thresholds for loyalty tiers
    Milestones:        progress targets shown in analytics

EXAMPLE FLOW:
  1. Day 1..6: user claims, 10 coins each, streak 1..6
  2. Day 7: claim credits 10 (daily_claim) + 5 (streak_bonus) = 15
  3. Balance: 6*10 + 15 = 75 coins, streak 7

SEE ALSO:
  - claim.go: Daily claim processor
  - tiers.go, milestones.go: Tier and milestone evaluation
  - analytics.go: Engagement analytics
  - admin.go: Admin adjustment gateway
  - engine.go: Wiring and the purchase credit hook
*/
package rewards

import (
	"fmt"
	"time"
)

// =============================================================================
// PROGRAM - Reward rules
// =============================================================================

// Program defaults.
const (
	DefaultBaseAmount       int64 = 10
	DefaultStreakBonus      int64 = 5
	DefaultStreakBonusEvery       = 7
)

// Program holds the reward rules shared by the claim processor, the
// evaluators and the analytics aggregator.
type Program struct {
	BaseAmount       int64
	StreakBonus      int64
	StreakBonusEvery int
	Location         *time.Location
	Tiers            TierTable
	Milestones       []Milestone
}

// DefaultProgram returns the reference program.
func DefaultProgram() Program {
	return Program{
		BaseAmount:       DefaultBaseAmount,
		StreakBonus:      DefaultStreakBonus,
		StreakBonusEvery: DefaultStreakBonusEvery,
		Location:         time.UTC,
		Tiers:            DefaultTiers(),
		Milestones:       DefaultMilestones(),
	}
}

// Validate checks the program for inconsistent rules.
func (p Program) Validate() error {
	if p.BaseAmount <= 0 {
		return fmt.Errorf("base amount must be positive, got %d", p.BaseAmount)
	}
	if p.StreakBonus < 0 {
		return fmt.Errorf("streak bonus must not be negative, got %d", p.StreakBonus)
	}
	if p.StreakBonus > 0 && p.StreakBonusEvery <= 0 {
		return fmt.Errorf("streak bonus cadence must be positive, got %d", p.StreakBonusEvery)
	}
	if err := p.Tiers.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(p.Milestones))
	for _, m := range p.Milestones {
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate milestone %q", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

func (p Program) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// BonusDay reports whether reaching streak earns the streak bonus.
func (p Program) BonusDay(streak int) bool {
	return p.StreakBonus > 0 && p.StreakBonusEvery > 0 && streak > 0 && streak%p.StreakBonusEvery == 0
}

// AwardFor returns the coins a claim reaching streak credits.
func (p Program) AwardFor(streak int) int64 {
	award := p.BaseAmount
	if p.BonusDay(streak) {
		award += p.StreakBonus
	}
	return award
}
