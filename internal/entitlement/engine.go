// Package entitlement decides whether metered usage is allowed and reserves
// quota atomically against the usage ledger.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akshay2d/rxtrace/internal/ledger"
	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Reason codes reported on denied decisions.
const (
	// ReasonQuotaExceeded marks a denial because the ceiling was reached.
	ReasonQuotaExceeded = "QUOTA_EXCEEDED"
	// ReasonStoreUnavailable marks a fail-closed denial on store errors.
	ReasonStoreUnavailable = "STORE_UNAVAILABLE"
)

// Validation errors returned before any state is touched.
var (
	// ErrInvalidQuantity indicates a non-positive requested quantity.
	ErrInvalidQuantity = errors.New("entitlement: quantity must be positive")
	// ErrUnknownKind indicates a kind outside the metered enumeration.
	ErrUnknownKind = errors.New("entitlement: unknown usage kind")
	// ErrNotConsumable indicates a kind that cannot be reserved (seats).
	ErrNotConsumable = errors.New("entitlement: kind is not consumable")
)

// PlanLimits supplies the plan-configured base limit for a company and kind.
type PlanLimits interface {
	GetLimit(ctx context.Context, companyID uint64, kind models.UsageKind) (int64, error)
}

// Decision is the structured outcome of a reserve call.
type Decision struct {
	Allowed       bool   `json:"allowed"`                  // Whether the usage may proceed.
	ReservationID string `json:"reservation_id,omitempty"` // Reservation to finalize or release.
	Reason        string `json:"reason,omitempty"`         // Denial reason code.
	Remaining     int64  `json:"remaining"`                // Capacity left (-1 = unlimited).
	Unlimited     bool   `json:"unlimited"`                // Whether the counter has no ceiling.
}

// Engine reserves, finalizes, and releases metered usage.
type Engine struct {
	db     *gorm.DB
	store  *ledger.Store
	limits PlanLimits
	nowFn  func() time.Time
}

// NewEngine constructs an entitlement Engine.
func NewEngine(db *gorm.DB, store *ledger.Store, limits PlanLimits) *Engine {
	return &Engine{
		db:     db,
		store:  store,
		limits: limits,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// Reserve checks the quota for (company, kind) in the current billing period
// and atomically debits quantity from it. On allow, a reservation in state
// RESERVED is created for the caller to finalize or release. On deny, no
// state is mutated. Store failures deny (fail closed) rather than overshoot.
func (e *Engine) Reserve(ctx context.Context, companyID uint64, kind models.UsageKind, quantity int64) (Decision, error) {
	if quantity <= 0 {
		return Decision{}, ErrInvalidQuantity
	}
	parsed, ok := models.ParseUsageKind(string(kind))
	if !ok {
		return Decision{}, ErrUnknownKind
	}
	if !parsed.Consumable() {
		return Decision{}, ErrNotConsumable
	}

	now := e.nowFn()

	limit, errLimit := e.limits.GetLimit(ctx, companyID, parsed)
	if errLimit != nil {
		return Decision{Reason: ReasonStoreUnavailable}, fmt.Errorf("entitlement: resolve limit: %w", errLimit)
	}

	counter, errEnsure := e.store.EnsureCounter(ctx, companyID, parsed, limit, now)
	if errEnsure != nil {
		return Decision{Reason: ReasonStoreUnavailable}, fmt.Errorf("entitlement: ensure counter: %w", errEnsure)
	}

	updated, errIncr := e.store.IncrementWithCeiling(ctx, counter.ID, quantity)
	if errIncr != nil {
		if errors.Is(errIncr, ledger.ErrCeilingExceeded) {
			return Decision{
				Allowed:   false,
				Reason:    ReasonQuotaExceeded,
				Remaining: updated.Remaining(),
			}, nil
		}
		return Decision{Reason: ReasonStoreUnavailable}, fmt.Errorf("entitlement: reserve: %w", errIncr)
	}

	reservation := models.UsageReservation{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Kind:      parsed,
		CounterID: updated.ID,
		Quantity:  quantity,
		State:     models.ReservationReserved,
	}
	if errCreate := e.db.WithContext(ctx).Create(&reservation).Error; errCreate != nil {
		// The debit already landed; refund it so a failed bookkeeping insert
		// does not leak quota.
		if errRefund := e.store.Decrement(ctx, updated.ID, quantity); errRefund != nil {
			log.WithError(errRefund).WithField("counter_id", updated.ID).
				Error("entitlement: refund after reservation insert failure")
		}
		return Decision{Reason: ReasonStoreUnavailable}, fmt.Errorf("entitlement: create reservation: %w", errCreate)
	}

	return Decision{
		Allowed:       true,
		ReservationID: reservation.ID,
		Remaining:     updated.Remaining(),
		Unlimited:     updated.Unlimited(),
	}, nil
}

// Finalize marks a reservation FINALIZED. The counter is untouched: the
// debit happened at reserve time. Finalizing a reservation that is already
// finalized or released is a no-op.
func (e *Engine) Finalize(ctx context.Context, reservationID string) error {
	res := e.db.WithContext(ctx).
		Model(&models.UsageReservation{}).
		Where("id = ? AND state = ?", reservationID, models.ReservationReserved).
		Update("state", models.ReservationFinalized)
	if res.Error != nil {
		return fmt.Errorf("entitlement: finalize: %w", res.Error)
	}
	return nil
}

// Release marks a reservation RELEASED and refunds the reserved quantity to
// the counter it was debited from. If that counter's billing period has
// closed, the refund is dropped rather than corrupting the new period.
// Releasing a finalized or already-released reservation is a no-op.
func (e *Engine) Release(ctx context.Context, reservationID string) error {
	var reservation models.UsageReservation
	errFind := e.db.WithContext(ctx).Take(&reservation, "id = ?", reservationID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("entitlement: load reservation: %w", errFind)
	}

	// The state CAS makes concurrent releases refund at most once.
	res := e.db.WithContext(ctx).
		Model(&models.UsageReservation{}).
		Where("id = ? AND state = ?", reservationID, models.ReservationReserved).
		Update("state", models.ReservationReleased)
	if res.Error != nil {
		return fmt.Errorf("entitlement: release: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	counter, errCounter := e.store.Counter(ctx, reservation.CounterID)
	if errCounter != nil {
		return fmt.Errorf("entitlement: load counter for refund: %w", errCounter)
	}
	if !e.nowFn().Before(counter.PeriodEnd) {
		log.WithFields(log.Fields{
			"reservation_id": reservationID,
			"counter_id":     counter.ID,
		}).Info("entitlement: dropping refund into closed billing period")
		return nil
	}
	if errRefund := e.store.Decrement(ctx, counter.ID, reservation.Quantity); errRefund != nil {
		return fmt.Errorf("entitlement: refund: %w", errRefund)
	}
	return nil
}

// Remaining reports current capacity for (company, kind) without mutating
// anything. A missing counter reports the full plan limit.
func (e *Engine) Remaining(ctx context.Context, companyID uint64, kind models.UsageKind) (Decision, error) {
	parsed, ok := models.ParseUsageKind(string(kind))
	if !ok {
		return Decision{}, ErrUnknownKind
	}
	if !parsed.Consumable() {
		return Decision{}, ErrNotConsumable
	}

	now := e.nowFn()
	counter, found, errFind := e.store.ActiveCounter(ctx, companyID, parsed, now)
	if errFind != nil {
		return Decision{Reason: ReasonStoreUnavailable}, errFind
	}
	if !found {
		limit, errLimit := e.limits.GetLimit(ctx, companyID, parsed)
		if errLimit != nil {
			return Decision{Reason: ReasonStoreUnavailable}, errLimit
		}
		counter = models.QuotaCounter{LimitQty: limit}
	}
	return Decision{
		Allowed:   true,
		Remaining: counter.Remaining(),
		Unlimited: counter.Unlimited(),
	}, nil
}
