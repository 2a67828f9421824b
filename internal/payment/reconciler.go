// Package payment reconciles gateway order confirmations into quota grants
// and invoices, exactly once per logical purchase under at-least-once
// delivery.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akshay2d/rxtrace/internal/audit"
	"github.com/akshay2d/rxtrace/internal/invoice"
	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/akshay2d/rxtrace/internal/topup"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Reconciliation failure modes surfaced to callers.
var (
	// ErrInvalidSignature indicates a gateway signature mismatch.
	ErrInvalidSignature = errors.New("payment: invalid signature")
	// ErrOrderNotFound indicates an unknown gateway order ID.
	ErrOrderNotFound = errors.New("payment: order not found")
	// ErrUnsupportedOrder indicates a malformed or unknown purpose payload.
	ErrUnsupportedOrder = errors.New("payment: unsupported order purpose")
)

// Actor names recorded in the audit trail.
const (
	// ActorWebhook marks events driven by asynchronous gateway delivery.
	ActorWebhook = "gateway_webhook"
	// ActorCallback marks events driven by the client confirmation redirect.
	ActorCallback = "client_callback"
	// ActorAdmin marks manual reconcile retries from the admin API.
	ActorAdmin = "admin"
)

// Outcome is the structured result of a reconcile call.
type Outcome struct {
	AlreadyProcessed bool  `json:"already_processed"`   // Whether this was a duplicate delivery.
	Remaining        int64 `json:"remaining,omitempty"` // Capacity after a single-item grant.
}

// Reconciler drives payment confirmations through the quota applier and
// invoice service.
type Reconciler struct {
	db       *gorm.DB
	applier  *topup.Applier
	carts    *CartTracker
	invoices *invoice.Service
	auditor  *audit.Writer
	secret   string
	nowFn    func() time.Time
}

// NewReconciler constructs a Reconciler. secret is the gateway shared secret
// used for callback signature verification.
func NewReconciler(db *gorm.DB, applier *topup.Applier, carts *CartTracker, invoices *invoice.Service, auditor *audit.Writer, secret string) *Reconciler {
	return &Reconciler{
		db:       db,
		applier:  applier,
		carts:    carts,
		invoices: invoices,
		auditor:  auditor,
		secret:   secret,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile processes a payment confirmation for orderID. Both the client
// callback and the asynchronous webhook land here and behave identically.
//
// The purchase status transition CREATED -> PAID is a conditional update
// that at most one caller wins; every caller then runs the application step,
// which is itself idempotent (applied_at marker for single items, the
// rollforward bookkeeping for carts), and finally ensures the invoice. A
// crash at any point is therefore recoverable by re-invoking Reconcile with
// the same order ID.
func (r *Reconciler) Reconcile(ctx context.Context, orderID, paymentID, signature, actor string) (Outcome, error) {
	if signature != "" {
		if !VerifySignature(r.secret, orderID, paymentID, signature) {
			log.WithFields(log.Fields{"order_id": orderID, "actor": actor}).
				Warn("payment: signature mismatch")
			return Outcome{}, ErrInvalidSignature
		}
	}

	var purchase models.AddonPurchase
	errFind := r.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&purchase).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Outcome{}, ErrOrderNotFound
		}
		return Outcome{}, fmt.Errorf("payment: load purchase: %w", errFind)
	}

	purpose, errPurpose := purchase.DecodePurpose()
	if errPurpose != nil {
		log.WithError(errPurpose).WithField("order_id", orderID).Warn("payment: bad purpose payload")
		return Outcome{}, ErrUnsupportedOrder
	}

	now := r.nowFn()
	res := r.db.WithContext(ctx).
		Model(&models.AddonPurchase{}).
		Where("order_id = ? AND status <> ?", orderID, models.PurchasePaid).
		Updates(map[string]any{
			"status":     models.PurchasePaid,
			"payment_id": paymentID,
			"paid_at":    now,
		})
	if res.Error != nil {
		return Outcome{}, fmt.Errorf("payment: mark paid: %w", res.Error)
	}

	var outcome Outcome
	var errApply error
	switch purpose.Type {
	case models.PurposeSingle:
		outcome, errApply = r.applySingle(ctx, purchase, purpose, actor)
	case models.PurposeCart:
		outcome, errApply = r.applyCart(ctx, purchase, purpose, paymentID, actor)
	}
	if errApply != nil {
		// Money is captured and the purchase stays PAID; a retry of this
		// call resumes the grant without re-charging.
		r.auditor.Write(ctx, audit.Entry{
			CompanyID: purchase.CompanyID,
			Actor:     actor,
			Action:    "addon_purchase_apply",
			Status:    "failed",
			Metadata: map[string]any{
				"order_id": orderID,
				"error":    errApply.Error(),
			},
		})
		return Outcome{}, errApply
	}

	if _, errInvoice := r.invoices.EnsureInvoice(ctx, purchase.CompanyID, orderID, paymentID, purchase.AmountPaise, purchase.Purpose); errInvoice != nil {
		return Outcome{}, fmt.Errorf("payment: ensure invoice: %w", errInvoice)
	}

	// The application step owns AlreadyProcessed: whichever caller won the
	// applied_at (or rollforward) gate reports the fresh grant, even when a
	// concurrent caller won the status transition.
	return outcome, nil
}

// applySingle grants a single-item purchase exactly once. The applied_at
// marker is the grant's own idempotency gate, independent of the status
// column, and is set in the same transaction as the ledger update.
func (r *Reconciler) applySingle(ctx context.Context, purchase models.AddonPurchase, purpose models.PurchasePurpose, actor string) (Outcome, error) {
	var result topup.Result
	applied := false

	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AddonPurchase{}).
			Where("id = ? AND applied_at IS NULL", purchase.ID).
			Update("applied_at", r.nowFn())
		if res.Error != nil {
			return fmt.Errorf("payment: mark applied: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		var errApply error
		result, errApply = r.applier.ApplyTopUp(ctx, tx, purchase.CompanyID, purpose.Kind, purpose.Qty)
		return errApply
	})
	if errTx != nil {
		return Outcome{}, errTx
	}
	if !applied {
		return Outcome{AlreadyProcessed: true}, nil
	}

	r.auditor.Write(ctx, audit.Entry{
		CompanyID: purchase.CompanyID,
		Actor:     actor,
		Action:    "addon_topup",
		Status:    "success",
		Metadata: map[string]any{
			"order_id": purchase.OrderID,
			"kind":     purpose.Kind,
			"qty":      purpose.Qty,
		},
	})
	return Outcome{Remaining: result.Remaining}, nil
}

// applyCart delegates to the cart rollforward tracker.
func (r *Reconciler) applyCart(ctx context.Context, purchase models.AddonPurchase, purpose models.PurchasePurpose, paymentID, actor string) (Outcome, error) {
	rollforward, errApply := r.carts.ApplyCartItems(ctx, purpose.CartID, purchase.CompanyID, purchase.OrderID, purchase.AmountPaise)
	if errApply != nil {
		return Outcome{}, errApply
	}
	if rollforward.AlreadyProcessed {
		return Outcome{AlreadyProcessed: true}, nil
	}

	r.auditor.Write(ctx, audit.Entry{
		CompanyID: purchase.CompanyID,
		Actor:     actor,
		Action:    "addon_cart_applied",
		Status:    "success",
		Metadata: map[string]any{
			"order_id":   purchase.OrderID,
			"payment_id": paymentID,
			"cart_id":    purpose.CartID,
			"items":      rollforward.ItemsApplied,
		},
	})
	return Outcome{}, nil
}
