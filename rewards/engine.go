package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/rewards-engine/generic"
)

// Config wires an Engine.
type Config struct {
	Program     Program
	Authorizer  Authorizer
	Clock       generic.Clock
	LockTimeout time.Duration
	Logger      *slog.Logger
	Observer    generic.Observer
}

// Engine bundles the ledger with every rewards component that uses it.
// It is what the HTTP layer and the commerce hook talk to.
type Engine struct {
	Ledger    *generic.Ledger
	Program   Program
	Claims    *ClaimProcessor
	Analytics *Analytics
	Admin     *AdminGateway
	Logger    *slog.Logger
}

func NewEngine(store generic.TxStore, cfg Config) (*Engine, error) {
	if err := cfg.Program.Validate(); err != nil {
		return nil, fmt.Errorf("invalid program: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []generic.Option{
		generic.WithTiers(cfg.Program.Tiers.Resolver()),
		generic.WithLogger(logger),
	}
	if cfg.Clock != nil {
		opts = append(opts, generic.WithClock(cfg.Clock))
	}
	if cfg.LockTimeout > 0 {
		opts = append(opts, generic.WithLockTimeout(cfg.LockTimeout))
	}
	if cfg.Observer != nil {
		opts = append(opts, generic.WithObserver(cfg.Observer))
	}
	ledger := generic.NewLedger(store, opts...)

	return &Engine{
		Ledger:    ledger,
		Program:   cfg.Program,
		Claims:    NewClaimProcessor(ledger, cfg.Program, logger),
		Analytics: NewAnalytics(ledger, cfg.Program),
		Admin:     NewAdminGateway(ledger, cfg.Program, cfg.Authorizer, logger),
		Logger:    logger,
	}, nil
}

// Now is the engine's current instant.
func (e *Engine) Now() time.Time {
	if e.Ledger.Clock == nil {
		return time.Now()
	}
	return e.Ledger.Clock.Now()
}

func (e *Engine) Claim(ctx context.Context, userID generic.UserID) (ClaimResult, error) {
	return e.Claims.Claim(ctx, userID, e.Now())
}

func (e *Engine) CanClaim(ctx context.Context, userID generic.UserID) (Eligibility, error) {
	return e.Claims.CanClaim(ctx, userID, e.Now())
}

// Balance returns the profile with the tier filled in for users that
// never had a point delta.
func (e *Engine) Balance(ctx context.Context, userID generic.UserID) (generic.Profile, error) {
	p, err := e.Ledger.Profile(ctx, userID)
	if err != nil {
		return generic.Profile{}, err
	}
	if p.LoyaltyTier == "" {
		p.LoyaltyTier = e.Program.Tiers.TierFor(p.PointBalance)
	}
	return p, nil
}

func (e *Engine) Summary(ctx context.Context, userID generic.UserID, days int) (Summary, error) {
	return e.Analytics.Summary(ctx, userID, e.Now(), days)
}

func (e *Engine) Adjust(ctx context.Context, adminID string, userID generic.UserID, cmd Command, reason string) (AdjustResult, error) {
	return e.Admin.Adjust(ctx, adminID, userID, cmd, reason)
}

// =============================================================================
// PURCHASE CREDIT HOOK
// =============================================================================

// PurchaseCredit is one completed purchase reported by the commerce hook.
// OrderID identifies the purchase; without it a pattern pays at most one
// bonus per user.
type PurchaseCredit struct {
	UserID    generic.UserID
	Amount    int64
	PatternID string
	OrderID   string
}

// PurchaseBonusKey is the idempotency key of a purchase credit.
func PurchaseBonusKey(userID generic.UserID, patternID, orderID string) string {
	if orderID == "" {
		return fmt.Sprintf("%s:%s:%s", generic.TxPurchaseBonus, userID, patternID)
	}
	return fmt.Sprintf("%s:%s:%s:%s", generic.TxPurchaseBonus, userID, patternID, orderID)
}

// CreditPurchaseBonus credits amount points for a purchase of patternID
// that carries no order id.
func (e *Engine) CreditPurchaseBonus(ctx context.Context, userID generic.UserID, amount int64, patternID string) (generic.Transaction, error) {
	return e.CreditPurchase(ctx, PurchaseCredit{UserID: userID, Amount: amount, PatternID: patternID})
}

// CreditPurchase credits the purchase bonus to the point ledger. A replay of
// the same (user, pattern, order) fails with ErrDuplicateIdempotencyKey and
// credits nothing.
func (e *Engine) CreditPurchase(ctx context.Context, p PurchaseCredit) (generic.Transaction, error) {
	if p.Amount <= 0 {
		return generic.Transaction{}, fmt.Errorf("%w: purchase bonus must be positive, got %d", generic.ErrInvalidAmount, p.Amount)
	}
	if p.PatternID == "" {
		return generic.Transaction{}, fmt.Errorf("%w: pattern id is required", generic.ErrInvalidCommand)
	}
	if strings.Contains(p.OrderID, ":") {
		return generic.Transaction{}, fmt.Errorf("%w: order id must not contain ':'", generic.ErrInvalidCommand)
	}

	ref := p.PatternID
	if p.OrderID != "" {
		ref = p.OrderID
	}
	out, err := e.Ledger.Do(ctx, p.UserID, e.Now(), func(u *generic.Unit) error {
		_, err := u.Apply(generic.Delta{
			Kind:           generic.KindPoint,
			Amount:         p.Amount,
			Type:           generic.TxPurchaseBonus,
			Description:    fmt.Sprintf("Purchase bonus for %s", p.PatternID),
			ReferenceID:    ref,
			IdempotencyKey: PurchaseBonusKey(p.UserID, p.PatternID, p.OrderID),
		})
		return err
	})
	if err != nil {
		return generic.Transaction{}, fmt.Errorf("purchase bonus: %w", err)
	}

	e.Logger.Info("purchase bonus credited",
		slog.String("user_id", string(p.UserID)),
		slog.String("pattern_id", p.PatternID),
		slog.String("order_id", p.OrderID),
		slog.Int64("points", p.Amount))
	return out.Transactions[0], nil
}
