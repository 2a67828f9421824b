// Package topup applies purchased add-on quantities to the usage ledger.
//
// The applier has no deduplication of its own: the same legitimate purchase
// may contain two equal line items. Idempotency is the caller's job, gated by
// the purchase status transition or the cart rollforward bookkeeping.
package topup

import (
	"context"
	"fmt"
	"time"

	"github.com/akshay2d/rxtrace/internal/ledger"
	"github.com/akshay2d/rxtrace/internal/models"
	"gorm.io/gorm"
)

// PlanLimits supplies the plan base limit used when a top-up arrives before
// the period's counter row exists.
type PlanLimits interface {
	GetLimit(ctx context.Context, companyID uint64, kind models.UsageKind) (int64, error)
}

// Result reports the capacity after a top-up.
type Result struct {
	Remaining int64 // Capacity left after the grant (-1 = unlimited).
	Unlimited bool  // Whether the counter has no ceiling.
}

// Applier grants purchased quota to companies.
type Applier struct {
	store  *ledger.Store
	limits PlanLimits
	nowFn  func() time.Time
}

// NewApplier constructs an Applier.
func NewApplier(store *ledger.Store, limits PlanLimits) *Applier {
	return &Applier{
		store:  store,
		limits: limits,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ApplyTopUp extends the current period's quota ceiling by qty for the given
// kind, creating the counter with its plan base limit if bookkeeping has not
// caught up yet. A purchased top-up is never dropped because the period row
// was missing. Seat purchases extend the company's additive seat capacity
// instead. All statements run on tx so the caller controls atomicity.
func (a *Applier) ApplyTopUp(ctx context.Context, tx *gorm.DB, companyID uint64, kind models.UsageKind, qty int64) (Result, error) {
	if qty <= 0 {
		return Result{}, fmt.Errorf("topup: non-positive qty %d", qty)
	}
	parsed, ok := models.ParseUsageKind(string(kind))
	if !ok {
		return Result{}, fmt.Errorf("topup: unknown kind %q", kind)
	}

	if parsed == models.KindSeat {
		return a.applySeats(ctx, tx, companyID, qty)
	}

	store := a.store.WithTx(tx)

	limit, errLimit := a.limits.GetLimit(ctx, companyID, parsed)
	if errLimit != nil {
		return Result{}, fmt.Errorf("topup: resolve base limit: %w", errLimit)
	}

	counter, errEnsure := store.EnsureCounter(ctx, companyID, parsed, limit, a.nowFn())
	if errEnsure != nil {
		return Result{}, fmt.Errorf("topup: ensure counter: %w", errEnsure)
	}

	updated, errExtend := store.IncrementLimit(ctx, counter.ID, qty)
	if errExtend != nil {
		return Result{}, fmt.Errorf("topup: extend ceiling: %w", errExtend)
	}
	return Result{Remaining: updated.Remaining(), Unlimited: updated.Unlimited()}, nil
}

// applySeats extends the company's extra seat capacity.
func (a *Applier) applySeats(ctx context.Context, tx *gorm.DB, companyID uint64, qty int64) (Result, error) {
	res := tx.WithContext(ctx).
		Model(&models.Company{}).
		Where("id = ?", companyID).
		Updates(map[string]any{
			"extra_seats": gorm.Expr("extra_seats + ?", qty),
			"updated_at":  a.nowFn(),
		})
	if res.Error != nil {
		return Result{}, fmt.Errorf("topup: extend seats: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Result{}, fmt.Errorf("topup: company %d not found", companyID)
	}

	var company models.Company
	if errReload := tx.WithContext(ctx).Take(&company, companyID).Error; errReload != nil {
		return Result{}, fmt.Errorf("topup: reload company: %w", errReload)
	}
	return Result{Remaining: company.ExtraSeats}, nil
}
