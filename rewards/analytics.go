/*
analytics.go - Engagement analytics, recomputed from history

PURPOSE:
  Everything here is a pure function over the ledgers and the claim
  records. Nothing is cached, so a value can never drift from the history
  it summarizes.

OUTPUTS:
  LongestStreak:   Historical high-water mark of consecutive claim days
  DailyActivity:   Per-day buckets for the last N days (heatmap/calendar)
  EngagementScore: Bounded 0-100 composite, see below
  Summary:         All of the above plus balances, tier and milestones

ENGAGEMENT SCORE:
  Five capped sub-scores, each min(value/saturation, 1) * weight:

    input               weight   saturates at
    current streak        30       30 days
    total days claimed    20      100 claims
    lifetime coins        20      500 coins
    lifetime points       20     1000 points
    30-day activity       10       50 transactions

  The sum is rounded to the nearest integer (half away from zero).

READS:
  Summary loads the profile, both ledgers and the claim history in
  parallel without taking the user's lock. A concurrent write may land
  between loads; the result is advisory.

SEE ALSO:
  - milestones.go: Milestone evaluation over the same aggregates
*/
package rewards

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/rewards-engine/generic"
)

// RecentActivityDays is the window of the engagement activity sub-score.
const RecentActivityDays = 30

// =============================================================================
// STREAKS
// =============================================================================

// LongestStreak returns the longest run of consecutive days in dates.
// Duplicates and order do not matter.
func LongestStreak(dates []generic.Date) int {
	if len(dates) == 0 {
		return 0
	}
	sorted := make([]generic.Date, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	longest, run := 1, 1
	for i := 1; i < len(sorted); i++ {
		switch generic.DaysBetween(sorted[i-1], sorted[i]) {
		case 0:
			continue
		case 1:
			run++
		default:
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// EffectiveStreak is the streak a user still holds on today: the stored
// streak while the last claim is today or yesterday, zero once a full day
// has been missed.
func EffectiveStreak(profile generic.Profile, today generic.Date) int {
	if profile.LastClaimDate == nil {
		return 0
	}
	if profile.LastClaimDate.Before(today.AddDays(-1)) {
		return 0
	}
	return profile.LoginStreak
}

// =============================================================================
// DAILY ACTIVITY
// =============================================================================

type ActivityBucket struct {
	Date           generic.Date `json:"-"`
	CoinsCredited  int64        `json:"coins_credited"`
	PointsCredited int64        `json:"points_credited"`
	Transactions   int          `json:"transactions"`
	Claimed        bool         `json:"claimed"`
}

// DailyActivity buckets the last days calendar days ending at today,
// oldest first. Transactions are bucketed by CreatedAt in loc.
func DailyActivity(coinTxs, pointTxs []generic.Transaction, claims []generic.DailyClaim, today generic.Date, days int, loc *time.Location) []ActivityBucket {
	if days <= 0 {
		return nil
	}
	first := today.AddDays(-(days - 1))
	buckets := make([]ActivityBucket, days)
	for i := range buckets {
		buckets[i].Date = first.AddDays(i)
	}

	slot := func(d generic.Date) *ActivityBucket {
		i := generic.DaysBetween(first, d)
		if i < 0 || i >= days {
			return nil
		}
		return &buckets[i]
	}

	for _, tx := range coinTxs {
		if b := slot(generic.DateIn(tx.CreatedAt, loc)); b != nil {
			b.Transactions++
			if tx.IsCredit() {
				b.CoinsCredited += tx.Amount
			}
		}
	}
	for _, tx := range pointTxs {
		if b := slot(generic.DateIn(tx.CreatedAt, loc)); b != nil {
			b.Transactions++
			if tx.IsCredit() {
				b.PointsCredited += tx.Amount
			}
		}
	}
	for _, c := range claims {
		if b := slot(c.ClaimDate); b != nil {
			b.Claimed = true
		}
	}
	return buckets
}

// =============================================================================
// ENGAGEMENT SCORE
// =============================================================================

type EngagementInputs struct {
	CurrentStreak     int
	TotalDaysClaimed  int
	TotalCoinsEarned  int64
	TotalPointsEarned int64
	RecentActivity    int
}

type scoreComponent struct {
	weight     int64
	saturation int64
}

var (
	scoreStreak   = scoreComponent{weight: 30, saturation: 30}
	scoreClaims   = scoreComponent{weight: 20, saturation: 100}
	scoreCoins    = scoreComponent{weight: 20, saturation: 500}
	scorePoints   = scoreComponent{weight: 20, saturation: 1000}
	scoreActivity = scoreComponent{weight: 10, saturation: 50}
)

func (c scoreComponent) score(value int64) decimal.Decimal {
	if value <= 0 {
		return decimal.Zero
	}
	if value >= c.saturation {
		return decimal.NewFromInt(c.weight)
	}
	return decimal.NewFromInt(value).
		Div(decimal.NewFromInt(c.saturation)).
		Mul(decimal.NewFromInt(c.weight))
}

// EngagementScore returns the 0-100 composite score.
func EngagementScore(in EngagementInputs) int {
	total := scoreStreak.score(int64(in.CurrentStreak)).
		Add(scoreClaims.score(int64(in.TotalDaysClaimed))).
		Add(scoreCoins.score(in.TotalCoinsEarned)).
		Add(scorePoints.score(in.TotalPointsEarned)).
		Add(scoreActivity.score(int64(in.RecentActivity)))
	return int(total.Round(0).IntPart())
}

// =============================================================================
// SUMMARY
// =============================================================================

// Analytics is the read-side aggregator.
type Analytics struct {
	Ledger  *generic.Ledger
	Program Program
}

func NewAnalytics(ledger *generic.Ledger, program Program) *Analytics {
	return &Analytics{Ledger: ledger, Program: program}
}

// LedgerTotals splits one ledger into credits and debits.
type LedgerTotals struct {
	Earned int64 `json:"earned"`
	Spent  int64 `json:"spent"`
}

func totals(txs []generic.Transaction) LedgerTotals {
	var t LedgerTotals
	for _, tx := range txs {
		if tx.IsCredit() {
			t.Earned += tx.Amount
		} else {
			t.Spent -= tx.Amount
		}
	}
	return t
}

type Summary struct {
	UserID           generic.UserID
	CoinBalance      int64
	PointBalance     int64
	LoyaltyTier      string
	TierOverridden   bool // set by an admin, held until the next point delta
	NextTier         string
	PointsToNextTier int64
	LastClaim        *generic.Date

	CurrentStreak    int
	LongestStreak    int
	TotalDaysClaimed int
	Coins            LedgerTotals
	Points           LedgerTotals
	RecentActivity   int
	EngagementScore  int

	Activity   []ActivityBucket
	Milestones []MilestoneProgress
}

// Summary recomputes every analytics output for userID. days sizes the
// activity buckets.
func (a *Analytics) Summary(ctx context.Context, userID generic.UserID, now time.Time, days int) (Summary, error) {
	if userID == "" {
		return Summary{}, generic.ErrUserRequired
	}

	var (
		profile  generic.Profile
		coinTxs  []generic.Transaction
		pointTxs []generic.Transaction
		claims   []generic.DailyClaim
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		profile, err = a.Ledger.Profile(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		coinTxs, err = a.Ledger.Transactions(gctx, userID, generic.KindCoin)
		return err
	})
	g.Go(func() (err error) {
		pointTxs, err = a.Ledger.Transactions(gctx, userID, generic.KindPoint)
		return err
	})
	g.Go(func() (err error) {
		claims, err = a.Ledger.Claims(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("analytics: %w", err)
	}

	loc := a.Program.location()
	today := generic.DateIn(now, loc)

	dates := make([]generic.Date, len(claims))
	for i, c := range claims {
		dates[i] = c.ClaimDate
	}

	s := Summary{
		UserID:           userID,
		CoinBalance:      profile.CoinBalance,
		PointBalance:     profile.PointBalance,
		LoyaltyTier:      profile.LoyaltyTier,
		LastClaim:        profile.LastClaimDate,
		CurrentStreak:    EffectiveStreak(profile, today),
		LongestStreak:    LongestStreak(dates),
		TotalDaysClaimed: len(claims),
		Coins:            totals(coinTxs),
		Points:           totals(pointTxs),
	}
	earned := a.Program.Tiers.TierFor(profile.PointBalance)
	if s.LoyaltyTier == "" {
		s.LoyaltyTier = earned
	}
	s.TierOverridden = s.LoyaltyTier != earned
	// Progress toward the next tier only means something for an earned tier.
	if !s.TierOverridden {
		if next, needed, ok := a.Program.Tiers.Next(profile.PointBalance); ok {
			s.NextTier = next.Name
			s.PointsToNextTier = needed
		}
	}

	for _, b := range DailyActivity(coinTxs, pointTxs, claims, today, RecentActivityDays, loc) {
		s.RecentActivity += b.Transactions
	}
	s.Activity = DailyActivity(coinTxs, pointTxs, claims, today, days, loc)

	s.EngagementScore = EngagementScore(EngagementInputs{
		CurrentStreak:     s.CurrentStreak,
		TotalDaysClaimed:  s.TotalDaysClaimed,
		TotalCoinsEarned:  s.Coins.Earned,
		TotalPointsEarned: s.Points.Earned,
		RecentActivity:    s.RecentActivity,
	})
	s.Milestones = EvaluateMilestones(a.Program.Milestones, Stats{
		LongestStreak:  s.LongestStreak,
		TotalClaims:    s.TotalDaysClaimed,
		LifetimeCoins:  s.Coins.Earned,
		LifetimePoints: s.Points.Earned,
	})
	return s, nil
}
