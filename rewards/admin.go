/*
admin.go - Admin adjustment gateway

PURPOSE:
  Privileged entry point for manual corrections. Bypasses claim
  eligibility and goes straight to the ledger with type admin_adjustment.

COMMANDS (closed set):
  AddCoins / RemoveCoins     coin ledger
  AddPoints / RemovePoints   point ledger
  ResetStreak                streak back to 0, no transaction
  SetTier                    tier override, no transaction

  Command is a sealed interface: only this package can add variants, and
  Adjust switches over all of them.

REMOVE CLAMPS:
  The ledger rejects a debit that would go negative. The gateway does not
  inherit that: a remove larger than the balance removes exactly the
  available balance. Removing from an empty balance records no
  transaction, only the audit entry.

  Balance 30, RemoveCoins{1000} -> transaction -30, balance 0

SET TIER:
  The override holds until the next point delta, which recomputes the tier
  from the point balance.

AUTHORIZATION:
  Deciding who is an admin is not this package's job. The Authorizer is
  supplied by the caller; a false answer is ErrUnauthorizedAdjustment.

AUDIT:
  Every adjustment writes an AuditEntry in the same unit as its
  transaction.
*/
package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/warp/rewards-engine/generic"
)

// =============================================================================
// COMMANDS
// =============================================================================

// Command is one admin action.
type Command interface {
	Action() string
	sealed()
}

type AddCoins struct{ Amount int64 }
type RemoveCoins struct{ Amount int64 }
type AddPoints struct{ Amount int64 }
type RemovePoints struct{ Amount int64 }
type ResetStreak struct{}
type SetTier struct{ Tier string }

// Wire names.
const (
	ActionAddCoins     = "add_coins"
	ActionRemoveCoins  = "remove_coins"
	ActionAddPoints    = "add_points"
	ActionRemovePoints = "remove_points"
	ActionResetStreak  = "reset_streak"
	ActionSetTier      = "set_tier"
)

func (AddCoins) Action() string     { return ActionAddCoins }
func (RemoveCoins) Action() string  { return ActionRemoveCoins }
func (AddPoints) Action() string    { return ActionAddPoints }
func (RemovePoints) Action() string { return ActionRemovePoints }
func (ResetStreak) Action() string  { return ActionResetStreak }
func (SetTier) Action() string      { return ActionSetTier }

func (AddCoins) sealed()     {}
func (RemoveCoins) sealed()  {}
func (AddPoints) sealed()    {}
func (RemovePoints) sealed() {}
func (ResetStreak) sealed()  {}
func (SetTier) sealed()      {}

// ParseCommand maps a wire action onto a Command. amount is used by the
// coin/point actions, tier by set_tier.
func ParseCommand(action string, amount int64, tier string) (Command, error) {
	switch action {
	case ActionAddCoins:
		return AddCoins{Amount: amount}, nil
	case ActionRemoveCoins:
		return RemoveCoins{Amount: amount}, nil
	case ActionAddPoints:
		return AddPoints{Amount: amount}, nil
	case ActionRemovePoints:
		return RemovePoints{Amount: amount}, nil
	case ActionResetStreak:
		return ResetStreak{}, nil
	case ActionSetTier:
		return SetTier{Tier: tier}, nil
	}
	return nil, fmt.Errorf("%w: unknown action %q", generic.ErrInvalidCommand, action)
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

// Authorizer decides whether an actor may adjust balances.
type Authorizer interface {
	IsAdmin(ctx context.Context, actorID string) (bool, error)
}

// StaticAuthorizer allows a fixed set of actor IDs.
type StaticAuthorizer map[string]bool

func NewStaticAuthorizer(ids ...string) StaticAuthorizer {
	a := make(StaticAuthorizer, len(ids))
	for _, id := range ids {
		a[id] = true
	}
	return a
}

func (a StaticAuthorizer) IsAdmin(_ context.Context, actorID string) (bool, error) {
	return a[actorID], nil
}

// =============================================================================
// GATEWAY
// =============================================================================

type AdminGateway struct {
	Ledger     *generic.Ledger
	Program    Program
	Authorizer Authorizer
	Logger     *slog.Logger
}

func NewAdminGateway(ledger *generic.Ledger, program Program, auth Authorizer, logger *slog.Logger) *AdminGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminGateway{Ledger: ledger, Program: program, Authorizer: auth, Logger: logger}
}

type AdjustResult struct {
	Action      string
	Requested   int64
	Applied     int64 // Signed amount that hit the ledger
	Clamped     bool
	Transaction *generic.Transaction
	Profile     generic.Profile
	Audit       generic.AuditEntry
	Message     string
}

// Adjust runs cmd against targetUserID on behalf of adminID.
func (g *AdminGateway) Adjust(ctx context.Context, adminID string, targetUserID generic.UserID, cmd Command, reason string) (AdjustResult, error) {
	if err := g.authorize(ctx, adminID); err != nil {
		return AdjustResult{}, err
	}
	if err := g.validate(cmd, reason); err != nil {
		return AdjustResult{}, err
	}

	result := AdjustResult{Action: cmd.Action()}
	out, err := g.Ledger.Do(ctx, targetUserID, time.Time{}, func(u *generic.Unit) error {
		profile := u.Profile()
		details := map[string]string{}

		switch c := cmd.(type) {
		case AddCoins:
			return g.credit(u, &result, details, generic.KindCoin, c.Amount, adminID, reason)
		case AddPoints:
			return g.credit(u, &result, details, generic.KindPoint, c.Amount, adminID, reason)
		case RemoveCoins:
			return g.debit(u, &result, details, generic.KindCoin, c.Amount, adminID, reason)
		case RemovePoints:
			return g.debit(u, &result, details, generic.KindPoint, c.Amount, adminID, reason)
		case ResetStreak:
			details["previous_streak"] = strconv.Itoa(profile.LoginStreak)
			u.SetStreak(0, profile.LastClaimDate)
			result.Message = fmt.Sprintf("Reset streak of %s (was %d)", targetUserID, profile.LoginStreak)
			return g.audit(u, adminID, cmd.Action(), reason, details)
		case SetTier:
			details["previous_tier"] = profile.LoyaltyTier
			details["tier"] = c.Tier
			u.SetTier(c.Tier)
			result.Message = fmt.Sprintf("Set tier of %s to %s", targetUserID, c.Tier)
			return g.audit(u, adminID, cmd.Action(), reason, details)
		default:
			return fmt.Errorf("%w: unhandled command %T", generic.ErrInvalidCommand, cmd)
		}
	})
	if err != nil {
		return AdjustResult{}, fmt.Errorf("admin adjust: %w", err)
	}

	result.Profile = out.Profile
	if len(out.Transactions) > 0 {
		tx := out.Transactions[0]
		result.Transaction = &tx
	}
	if len(out.Audit) > 0 {
		result.Audit = out.Audit[0]
	}

	g.Logger.Info("admin adjustment",
		slog.String("admin_id", adminID),
		slog.String("user_id", string(targetUserID)),
		slog.String("action", result.Action),
		slog.Int64("applied", result.Applied),
		slog.Bool("clamped", result.Clamped))
	return result, nil
}

func (g *AdminGateway) authorize(ctx context.Context, adminID string) error {
	if adminID == "" || g.Authorizer == nil {
		return generic.ErrUnauthorizedAdjustment
	}
	ok, err := g.Authorizer.IsAdmin(ctx, adminID)
	if err != nil {
		return fmt.Errorf("admin adjust: authorize %s: %w", adminID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", generic.ErrUnauthorizedAdjustment, adminID)
	}
	return nil
}

// validate rejects bad input before the ledger is touched.
func (g *AdminGateway) validate(cmd Command, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: reason is required", generic.ErrInvalidCommand)
	}
	switch c := cmd.(type) {
	case AddCoins:
		return positive(c.Amount)
	case RemoveCoins:
		return positive(c.Amount)
	case AddPoints:
		return positive(c.Amount)
	case RemovePoints:
		return positive(c.Amount)
	case ResetStreak:
		return nil
	case SetTier:
		if !g.Program.Tiers.Has(c.Tier) {
			return fmt.Errorf("%w: unknown tier %q", generic.ErrInvalidCommand, c.Tier)
		}
		return nil
	case nil:
		return fmt.Errorf("%w: no command", generic.ErrInvalidCommand)
	}
	return fmt.Errorf("%w: unhandled command %T", generic.ErrInvalidCommand, cmd)
}

func positive(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", generic.ErrInvalidAmount, amount)
	}
	return nil
}

func (g *AdminGateway) credit(u *generic.Unit, result *AdjustResult, details map[string]string, kind generic.Kind, amount int64, adminID, reason string) error {
	result.Requested = amount
	if _, err := u.Apply(generic.Delta{
		Kind:        kind,
		Amount:      amount,
		Type:        generic.TxAdminAdjustment,
		Description: reason,
		CreatedBy:   adminID,
	}); err != nil {
		return err
	}
	result.Applied = amount
	result.Message = fmt.Sprintf("Added %d %ss to %s", amount, kind, u.Profile().UserID)

	details["kind"] = string(kind)
	details["requested"] = strconv.FormatInt(amount, 10)
	details["applied"] = strconv.FormatInt(amount, 10)
	return g.audit(u, adminID, result.Action, reason, details)
}

// debit removes up to amount; never more than the available balance.
func (g *AdminGateway) debit(u *generic.Unit, result *AdjustResult, details map[string]string, kind generic.Kind, amount int64, adminID, reason string) error {
	result.Requested = amount
	available := u.Profile().Balance(kind)
	remove := amount
	if remove > available {
		remove = available
		result.Clamped = true
	}

	if remove > 0 {
		if _, err := u.Apply(generic.Delta{
			Kind:        kind,
			Amount:      -remove,
			Type:        generic.TxAdminAdjustment,
			Description: reason,
			CreatedBy:   adminID,
		}); err != nil {
			return err
		}
	}
	result.Applied = -remove

	user := u.Profile().UserID
	switch {
	case remove == 0:
		result.Message = fmt.Sprintf("No %ss to remove from %s", kind, user)
	case result.Clamped:
		result.Message = fmt.Sprintf("Removed %d %ss from %s (requested %d, clamped to available balance)", remove, kind, user, amount)
	default:
		result.Message = fmt.Sprintf("Removed %d %ss from %s", remove, kind, user)
	}

	details["kind"] = string(kind)
	details["requested"] = strconv.FormatInt(amount, 10)
	details["applied"] = strconv.FormatInt(-remove, 10)
	details["clamped"] = strconv.FormatBool(result.Clamped)
	return g.audit(u, adminID, result.Action, reason, details)
}

func (g *AdminGateway) audit(u *generic.Unit, adminID, action, reason string, details map[string]string) error {
	return u.Audit(generic.AuditEntry{
		ActorID: adminID,
		Action:  action,
		Reason:  reason,
		Details: details,
	})
}
