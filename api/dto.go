/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Claims:       ClaimResponseDTO, EligibilityDTO, ClaimDTO
  Balance:      BalanceDTO
  Ledger:       TransactionDTO, ReconciliationDTO
  Analytics:    AnalyticsDTO, ActivityDTO, MilestoneDTO
  Admin:        AdjustmentRequest, AdjustmentResponseDTO, AuditDTO
  Commerce:     PurchaseBonusRequest

DATES:
  Calendar days are "2006-01-02"; instants are RFC 3339 UTC.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/program.go: ProgramSpec served by GET /api/program
*/
package api

import (
	"time"

	"github.com/warp/rewards-engine/generic"
	"github.com/warp/rewards-engine/rewards"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// BalanceDTO is the balance view of a profile.
type BalanceDTO struct {
	UserID       string  `json:"user_id"`
	CoinBalance  int64   `json:"coin_balance"`
	PointBalance int64   `json:"point_balance"`
	LoginStreak  int     `json:"login_streak"`
	LastClaim    *string `json:"last_claim"`
	LoyaltyTier  string  `json:"loyalty_tier"`
}

type TransactionDTO struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	Kind        string `json:"kind"`
	Type        string `json:"type"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type ClaimDTO struct {
	ClaimDate    string `json:"claim_date"`
	ClaimedAt    string `json:"claimed_at"`
	CoinsAwarded int64  `json:"coins_awarded"`
	Streak       int    `json:"streak"`
}

// ClaimResponseDTO is returned by POST /api/users/{id}/claim.
type ClaimResponseDTO struct {
	CoinsAwarded int64            `json:"coins_awarded"`
	BonusAwarded int64            `json:"bonus_awarded"`
	NewStreak    int              `json:"new_streak"`
	NewBalance   int64            `json:"new_balance"`
	ClaimDate    string           `json:"claim_date"`
	Transactions []TransactionDTO `json:"transactions"`
}

// EligibilityDTO is returned by GET /api/users/{id}/claim.
type EligibilityDTO struct {
	CanClaim         bool    `json:"can_claim"`
	Today            string  `json:"today"`
	LastClaim        *string `json:"last_claim"`
	NextClaimAt      string  `json:"next_claim_at"`
	SecondsUntilNext int64   `json:"seconds_until_next"`
	CurrentStreak    int     `json:"current_streak"`
	StreakContinues  bool    `json:"streak_continues"`
	NextStreak       int     `json:"next_streak"`
	NextAward        int64   `json:"next_award"`
}

type ActivityDTO struct {
	Date           string `json:"date"`
	CoinsCredited  int64  `json:"coins_credited"`
	PointsCredited int64  `json:"points_credited"`
	Transactions   int    `json:"transactions"`
	Claimed        bool   `json:"claimed"`
}

type MilestoneDTO struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Title     string `json:"title"`
	Target    int64  `json:"target"`
	Current   int64  `json:"current"`
	Progress  string `json:"progress"`
	Completed bool   `json:"completed"`
}

// AnalyticsDTO is returned by GET /api/users/{id}/analytics.
type AnalyticsDTO struct {
	UserID           string               `json:"user_id"`
	CoinBalance      int64                `json:"coin_balance"`
	PointBalance     int64                `json:"point_balance"`
	LoyaltyTier      string               `json:"loyalty_tier"`
	TierOverridden   bool                 `json:"tier_overridden,omitempty"`
	NextTier         string               `json:"next_tier,omitempty"`
	PointsToNextTier int64                `json:"points_to_next_tier,omitempty"`
	LastClaim        *string              `json:"last_claim"`
	CurrentStreak    int                  `json:"current_streak"`
	LongestStreak    int                  `json:"longest_streak"`
	TotalDaysClaimed int                  `json:"total_days_claimed"`
	Coins            rewards.LedgerTotals `json:"coins"`
	Points           rewards.LedgerTotals `json:"points"`
	RecentActivity   int                  `json:"recent_activity"`
	EngagementScore  int                  `json:"engagement_score"`
	Activity         []ActivityDTO        `json:"activity"`
	Milestones       []MilestoneDTO       `json:"milestones"`
}

// AdjustmentRequest is the body of POST /api/admin/adjustments. The admin
// identity comes from the X-Admin-ID header, not the body.
type AdjustmentRequest struct {
	UserID string `json:"user_id"`
	Action string `json:"action"`
	Amount int64  `json:"amount"`
	Tier   string `json:"tier,omitempty"`
	Reason string `json:"reason"`
}

type AdjustmentResponseDTO struct {
	Action      string          `json:"action"`
	Requested   int64           `json:"requested,omitempty"`
	Applied     int64           `json:"applied"`
	Clamped     bool            `json:"clamped"`
	Message     string          `json:"message"`
	Transaction *TransactionDTO `json:"transaction,omitempty"`
	Balance     BalanceDTO      `json:"balance"`
	AuditID     string          `json:"audit_id"`
}

type AuditDTO struct {
	ID        string            `json:"id"`
	ActorID   string            `json:"actor_id"`
	Action    string            `json:"action"`
	Reason    string            `json:"reason"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt string            `json:"created_at"`
}

type ReconciliationDTO struct {
	Kind         string `json:"kind"`
	Balance      int64  `json:"balance"`
	LedgerSum    int64  `json:"ledger_sum"`
	Drift        int64  `json:"drift"`
	Transactions int    `json:"transactions"`
	Consistent   bool   `json:"consistent"`
}

// ReconciliationRunDTO is a drift check report.
type ReconciliationRunDTO struct {
	ReconciliationRun
	NextRunAt string `json:"next_run_at,omitempty"`
}

// PurchaseBonusRequest is sent by the commerce subsystem after checkout.
type PurchaseBonusRequest struct {
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	PatternID string `json:"pattern_id"`
	OrderID   string `json:"order_id,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDate(d *generic.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func toBalanceDTO(p generic.Profile) BalanceDTO {
	return BalanceDTO{
		UserID:       string(p.UserID),
		CoinBalance:  p.CoinBalance,
		PointBalance: p.PointBalance,
		LoginStreak:  p.LoginStreak,
		LastClaim:    formatDate(p.LastClaimDate),
		LoyaltyTier:  p.LoyaltyTier,
	}
}

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		Seq:         tx.Seq,
		Kind:        string(tx.Kind),
		Type:        string(tx.Type),
		Amount:      tx.Amount,
		Description: tx.Description,
		ReferenceID: tx.ReferenceID,
		CreatedBy:   tx.CreatedBy,
		CreatedAt:   formatTime(tx.CreatedAt),
	}
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toClaimDTO(c generic.DailyClaim) ClaimDTO {
	return ClaimDTO{
		ClaimDate:    c.ClaimDate.String(),
		ClaimedAt:    formatTime(c.ClaimedAt),
		CoinsAwarded: c.CoinsAwarded,
		Streak:       c.Streak,
	}
}

func toEligibilityDTO(e rewards.Eligibility) EligibilityDTO {
	return EligibilityDTO{
		CanClaim:         e.CanClaim,
		Today:            e.Today.String(),
		LastClaim:        formatDate(e.LastClaim),
		NextClaimAt:      formatTime(e.NextClaimAt),
		SecondsUntilNext: int64(e.TimeUntilNext / time.Second),
		CurrentStreak:    e.CurrentStreak,
		StreakContinues:  e.StreakContinues,
		NextStreak:       e.NextStreak,
		NextAward:        e.NextAward,
	}
}

func toAnalyticsDTO(s rewards.Summary) AnalyticsDTO {
	dto := AnalyticsDTO{
		UserID:           string(s.UserID),
		CoinBalance:      s.CoinBalance,
		PointBalance:     s.PointBalance,
		LoyaltyTier:      s.LoyaltyTier,
		TierOverridden:   s.TierOverridden,
		NextTier:         s.NextTier,
		PointsToNextTier: s.PointsToNextTier,
		LastClaim:        formatDate(s.LastClaim),
		CurrentStreak:    s.CurrentStreak,
		LongestStreak:    s.LongestStreak,
		TotalDaysClaimed: s.TotalDaysClaimed,
		Coins:            s.Coins,
		Points:           s.Points,
		RecentActivity:   s.RecentActivity,
		EngagementScore:  s.EngagementScore,
		Activity:         make([]ActivityDTO, len(s.Activity)),
		Milestones:       make([]MilestoneDTO, len(s.Milestones)),
	}
	for i, b := range s.Activity {
		dto.Activity[i] = ActivityDTO{
			Date:           b.Date.String(),
			CoinsCredited:  b.CoinsCredited,
			PointsCredited: b.PointsCredited,
			Transactions:   b.Transactions,
			Claimed:        b.Claimed,
		}
	}
	for i, m := range s.Milestones {
		dto.Milestones[i] = MilestoneDTO{
			ID:        m.ID,
			Category:  string(m.Category),
			Title:     m.Title,
			Target:    m.Target,
			Current:   m.Current,
			Progress:  m.Progress.StringFixed(2),
			Completed: m.Completed,
		}
	}
	return dto
}

func toAuditDTO(e generic.AuditEntry) AuditDTO {
	return AuditDTO{
		ID:        e.ID,
		ActorID:   e.ActorID,
		Action:    e.Action,
		Reason:    e.Reason,
		Details:   e.Details,
		CreatedAt: formatTime(e.CreatedAt),
	}
}
