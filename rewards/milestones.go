package rewards

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MILESTONES - Static targets, progress always derived
// =============================================================================

type Category string

const (
	CategoryStreak Category = "streak" // Longest streak ever reached
	CategoryClaims Category = "claims" // Number of daily claims
	CategoryCoins  Category = "coins"  // Lifetime coins credited
	CategoryPoints Category = "points" // Lifetime points credited
)

func (c Category) Valid() bool {
	switch c {
	case CategoryStreak, CategoryClaims, CategoryCoins, CategoryPoints:
		return true
	}
	return false
}

type Milestone struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Target   int64    `json:"target"`
	Title    string   `json:"title"`
}

func (m Milestone) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("milestone has no id")
	}
	if !m.Category.Valid() {
		return fmt.Errorf("milestone %q: unknown category %q", m.ID, m.Category)
	}
	if m.Target <= 0 {
		return fmt.Errorf("milestone %q: target must be positive, got %d", m.ID, m.Target)
	}
	return nil
}

func DefaultMilestones() []Milestone {
	return []Milestone{
		{ID: "streak-7", Category: CategoryStreak, Target: 7, Title: "Week Warrior"},
		{ID: "streak-30", Category: CategoryStreak, Target: 30, Title: "Monthly Devotee"},
		{ID: "claims-10", Category: CategoryClaims, Target: 10, Title: "Regular Visitor"},
		{ID: "claims-100", Category: CategoryClaims, Target: 100, Title: "Centurion"},
		{ID: "coins-500", Category: CategoryCoins, Target: 500, Title: "Coin Collector"},
		{ID: "points-1000", Category: CategoryPoints, Target: 1000, Title: "Point Hoarder"},
	}
}

// Stats are the ledger aggregates milestones are measured against.
type Stats struct {
	LongestStreak  int
	TotalClaims    int
	LifetimeCoins  int64
	LifetimePoints int64
}

func (s Stats) value(c Category) int64 {
	switch c {
	case CategoryStreak:
		return int64(s.LongestStreak)
	case CategoryClaims:
		return int64(s.TotalClaims)
	case CategoryCoins:
		return s.LifetimeCoins
	case CategoryPoints:
		return s.LifetimePoints
	}
	return 0
}

type MilestoneProgress struct {
	Milestone
	Current   int64           `json:"current"`
	Progress  decimal.Decimal `json:"progress"` // 0..100, two decimals
	Completed bool            `json:"completed"`
}

var hundred = decimal.NewFromInt(100)

// EvaluateMilestones computes progress = min(current/target, 1) * 100 for
// every definition. Completion is current >= target.
func EvaluateMilestones(defs []Milestone, stats Stats) []MilestoneProgress {
	result := make([]MilestoneProgress, 0, len(defs))
	for _, m := range defs {
		current := stats.value(m.Category)
		result = append(result, MilestoneProgress{
			Milestone: m,
			Current:   current,
			Progress:  ratioPercent(current, m.Target),
			Completed: m.Target > 0 && current >= m.Target,
		})
	}
	return result
}

func ratioPercent(current, target int64) decimal.Decimal {
	if target <= 0 || current <= 0 {
		return decimal.Zero
	}
	ratio := decimal.NewFromInt(current).Div(decimal.NewFromInt(target))
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}
	return ratio.Mul(hundred).Round(2)
}
