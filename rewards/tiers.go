package rewards

import (
	"fmt"
	"sort"
)

// =============================================================================
// LOYALTY TIERS
// =============================================================================

// Tier names.
const (
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// TierThreshold is the minimum point balance for a tier.
type TierThreshold struct {
	Name      string `json:"name"`
	MinPoints int64  `json:"min_points"`
}

// TierTable is a strictly ascending list of thresholds starting at zero.
// The metric is the CURRENT point balance: spending points can drop a user
// to a lower tier.
type TierTable []TierThreshold

// DefaultTiers returns bronze 0, silver 100, gold 500, platinum 1000.
func DefaultTiers() TierTable {
	return TierTable{
		{Name: TierBronze, MinPoints: 0},
		{Name: TierSilver, MinPoints: 100},
		{Name: TierGold, MinPoints: 500},
		{Name: TierPlatinum, MinPoints: 1000},
	}
}

func (t TierTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("tier table is empty")
	}
	if t[0].MinPoints != 0 {
		return fmt.Errorf("lowest tier %q must start at 0 points, got %d", t[0].Name, t[0].MinPoints)
	}
	names := make(map[string]bool, len(t))
	for i, tier := range t {
		if tier.Name == "" {
			return fmt.Errorf("tier %d has no name", i)
		}
		if names[tier.Name] {
			return fmt.Errorf("duplicate tier %q", tier.Name)
		}
		names[tier.Name] = true
		if i > 0 && tier.MinPoints <= t[i-1].MinPoints {
			return fmt.Errorf("tier %q threshold %d must be above %q threshold %d",
				tier.Name, tier.MinPoints, t[i-1].Name, t[i-1].MinPoints)
		}
	}
	return nil
}

// TierFor returns the highest tier whose threshold is <= points.
func (t TierTable) TierFor(points int64) string {
	i := t.index(points)
	if i < 0 {
		return ""
	}
	return t[i].Name
}

// Next returns the tier above the one points falls in and how many more
// points reach it. ok is false at the top tier.
func (t TierTable) Next(points int64) (next TierThreshold, needed int64, ok bool) {
	i := t.index(points)
	if i+1 >= len(t) {
		return TierThreshold{}, 0, false
	}
	next = t[i+1]
	return next, next.MinPoints - points, true
}

// Has reports whether name is a tier in the table.
func (t TierTable) Has(name string) bool {
	for _, tier := range t {
		if tier.Name == name {
			return true
		}
	}
	return false
}

// Names lists the tier names, lowest first.
func (t TierTable) Names() []string {
	names := make([]string, len(t))
	for i, tier := range t {
		names[i] = tier.Name
	}
	return names
}

// Resolver adapts the table to the ledger's tier hook.
func (t TierTable) Resolver() func(points int64) string {
	return t.TierFor
}

// index returns the position of the highest threshold <= points, or -1.
func (t TierTable) index(points int64) int {
	return sort.Search(len(t), func(i int) bool { return t[i].MinPoints > points }) - 1
}
