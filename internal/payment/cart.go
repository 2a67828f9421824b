package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/akshay2d/rxtrace/internal/topup"
	"gorm.io/gorm"
)

// Cart rollforward failure modes surfaced to callers.
var (
	// ErrCartNotFound indicates an unknown cart ID.
	ErrCartNotFound = errors.New("payment: cart not found")
	// ErrAmountMismatch indicates the paid amount differs from the cart total.
	ErrAmountMismatch = errors.New("payment: order amount does not match cart total")
	// ErrCartOrderConflict indicates the cart is linked to a different order.
	ErrCartOrderConflict = errors.New("payment: cart already linked to another order")
	// ErrCartContended indicates a concurrent rollforward won an item append;
	// the caller should retry.
	ErrCartContended = errors.New("payment: concurrent cart rollforward")
)

// RollforwardResult reports what a cart rollforward did.
type RollforwardResult struct {
	AlreadyProcessed bool // Whether the cart was already fully applied.
	ItemsApplied     int  // Number of items granted by this call.
}

// CartTracker applies multi-item purchases resumably.
type CartTracker struct {
	db      *gorm.DB
	applier *topup.Applier
	nowFn   func() time.Time
}

// NewCartTracker constructs a CartTracker.
func NewCartTracker(db *gorm.DB, applier *topup.Applier) *CartTracker {
	return &CartTracker{
		db:      db,
		applier: applier,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// ApplyCartItems grants every cart line not yet recorded in applied_items,
// in cart order, persisting progress after each grant. Items are tracked as
// a multiset of (kind, qty) pairs: two identical lines are two grants. A
// retry after a crash recomputes the difference and resumes where the last
// run stopped.
//
// Each item grant and its applied_items append run in one transaction whose
// append is conditional on the previously observed applied_items value, so
// two concurrent rollforwards cannot double-apply an item.
func (t *CartTracker) ApplyCartItems(ctx context.Context, cartID string, companyID uint64, orderID string, paidAmountPaise int64) (RollforwardResult, error) {
	var cart models.AddonCart
	errFind := t.db.WithContext(ctx).Take(&cart, "id = ?", cartID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return RollforwardResult{}, ErrCartNotFound
		}
		return RollforwardResult{}, fmt.Errorf("payment: load cart: %w", errFind)
	}
	if cart.CompanyID != companyID {
		return RollforwardResult{}, fmt.Errorf("payment: cart %s does not belong to company %d", cartID, companyID)
	}
	if cart.Status == models.CartApplied {
		return RollforwardResult{AlreadyProcessed: true}, nil
	}

	if paidAmountPaise != cart.TotalPaise {
		return RollforwardResult{}, fmt.Errorf("%w: paid %d, cart total %d",
			ErrAmountMismatch, paidAmountPaise, cart.TotalPaise)
	}

	if errLink := t.linkOrder(ctx, &cart, orderID); errLink != nil {
		return RollforwardResult{}, errLink
	}

	items, errItems := models.DecodeCartItems(cart.Items)
	if errItems != nil {
		return RollforwardResult{}, errItems
	}
	applied, errApplied := models.DecodeCartItems(cart.AppliedItems)
	if errApplied != nil {
		return RollforwardResult{}, errApplied
	}

	pending := pendingItems(items, applied)
	granted := 0
	for _, item := range pending {
		next := append(append([]models.CartItem{}, applied...), item)
		if errGrant := t.applyOne(ctx, cart.ID, companyID, applied, next, item); errGrant != nil {
			return RollforwardResult{}, errGrant
		}
		applied = next
		granted++
	}

	now := t.nowFn()
	errDone := t.db.WithContext(ctx).
		Model(&models.AddonCart{}).
		Where("id = ?", cart.ID).
		Updates(map[string]any{
			"status":     models.CartApplied,
			"applied_at": now,
			"updated_at": now,
		}).Error
	if errDone != nil {
		return RollforwardResult{}, fmt.Errorf("payment: mark cart applied: %w", errDone)
	}

	if granted == 0 {
		// Every line had landed in an earlier run; only the terminal status
		// write was missing.
		return RollforwardResult{AlreadyProcessed: true}, nil
	}
	return RollforwardResult{ItemsApplied: granted}, nil
}

// linkOrder binds the cart to its paying order, rejecting a second order.
func (t *CartTracker) linkOrder(ctx context.Context, cart *models.AddonCart, orderID string) error {
	if cart.OrderID != nil {
		if *cart.OrderID != orderID {
			return fmt.Errorf("%w: linked to %s, got %s", ErrCartOrderConflict, *cart.OrderID, orderID)
		}
		return nil
	}

	res := t.db.WithContext(ctx).
		Model(&models.AddonCart{}).
		Where("id = ? AND (order_id IS NULL OR order_id = ?)", cart.ID, orderID).
		Updates(map[string]any{
			"order_id":   orderID,
			"status":     models.CartPaid,
			"updated_at": t.nowFn(),
		})
	if res.Error != nil {
		return fmt.Errorf("payment: link order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: lost link race for cart %s", ErrCartOrderConflict, cart.ID)
	}
	cart.OrderID = &orderID
	return nil
}

// applyOne grants one cart line and persists the appended applied_items in
// the same transaction. The append is a compare-and-swap against the
// previously observed serialization.
func (t *CartTracker) applyOne(ctx context.Context, cartID string, companyID uint64, prev, next []models.CartItem, item models.CartItem) error {
	prevRaw, errPrev := models.EncodeCartItems(prev)
	if errPrev != nil {
		return errPrev
	}
	nextRaw, errNext := models.EncodeCartItems(next)
	if errNext != nil {
		return errNext
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AddonCart{}).
			Where("id = ? AND applied_items = ?", cartID, prevRaw).
			Updates(map[string]any{
				"applied_items": nextRaw,
				"status":        models.CartApplying,
				"updated_at":    t.nowFn(),
			})
		if res.Error != nil {
			return fmt.Errorf("payment: append applied item: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrCartContended
		}

		_, errApply := t.applier.ApplyTopUp(ctx, tx, companyID, item.Kind, item.Qty)
		return errApply
	})
}

// pendingItems returns the cart lines not yet applied, preserving cart
// order. Matching is by exact (kind, qty) occurrence counts, so duplicate
// lines survive as distinct grants.
func pendingItems(items, applied []models.CartItem) []models.CartItem {
	seen := make(map[models.CartItem]int, len(applied))
	for _, item := range applied {
		seen[item]++
	}
	var pending []models.CartItem
	for _, item := range items {
		if seen[item] > 0 {
			seen[item]--
			continue
		}
		pending = append(pending, item)
	}
	return pending
}
