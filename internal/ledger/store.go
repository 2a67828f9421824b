// Package ledger implements the usage ledger store: quota counters with
// atomic increment-with-ceiling, refund, and limit-extension primitives.
//
// Every mutation is a single conditional UPDATE so concurrent callers can
// never jointly overshoot a ceiling, on either PostgreSQL or SQLite, without
// row locks in application code.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akshay2d/rxtrace/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCeilingExceeded indicates an increment was denied by the quota ceiling.
var ErrCeilingExceeded = errors.New("ledger: ceiling exceeded")

// Store mediates all access to quota counter rows.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store backed by GORM.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection, for callers composing transactions.
func (s *Store) DB() *gorm.DB { return s.db }

// WithTx returns a Store bound to the given transaction handle.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	if tx == nil {
		return s
	}
	return &Store{db: tx}
}

// PeriodBounds returns the billing period containing ts: the enclosing
// calendar month in UTC, start inclusive, end exclusive.
func PeriodBounds(ts time.Time) (time.Time, time.Time) {
	ts = ts.UTC()
	start := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// EnsureCounter returns the counter for (company, kind, period containing
// now), creating it with the given limit when missing. Concurrent creates
// collapse onto the same row via the unique scope index.
func (s *Store) EnsureCounter(ctx context.Context, companyID uint64, kind models.UsageKind, limit int64, now time.Time) (models.QuotaCounter, error) {
	periodStart, periodEnd := PeriodBounds(now)

	var counter models.QuotaCounter
	errFind := s.db.WithContext(ctx).
		Where("company_id = ? AND kind = ? AND period_start = ?", companyID, kind, periodStart).
		Take(&counter).Error
	if errFind == nil {
		return counter, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.QuotaCounter{}, fmt.Errorf("ledger: load counter: %w", errFind)
	}

	record := models.QuotaCounter{
		CompanyID:   companyID,
		Kind:        kind,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		LimitQty:    limit,
	}
	errCreate := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "kind"}, {Name: "period_start"}},
		DoNothing: true,
	}).Create(&record).Error
	if errCreate != nil && !errors.Is(errCreate, gorm.ErrDuplicatedKey) {
		return models.QuotaCounter{}, fmt.Errorf("ledger: create counter: %w", errCreate)
	}

	errReload := s.db.WithContext(ctx).
		Where("company_id = ? AND kind = ? AND period_start = ?", companyID, kind, periodStart).
		Take(&counter).Error
	if errReload != nil {
		return models.QuotaCounter{}, fmt.Errorf("ledger: reload counter: %w", errReload)
	}
	return counter, nil
}

// IncrementWithCeiling atomically adds delta to used_qty if the result stays
// within the ceiling (or the counter is unlimited). Returns the counter after
// the attempt and ErrCeilingExceeded on denial; the row is untouched when
// denied.
func (s *Store) IncrementWithCeiling(ctx context.Context, counterID uint64, delta int64) (models.QuotaCounter, error) {
	if delta <= 0 {
		return models.QuotaCounter{}, fmt.Errorf("ledger: non-positive delta %d", delta)
	}

	res := s.db.WithContext(ctx).
		Model(&models.QuotaCounter{}).
		Where("id = ? AND (limit_qty < 0 OR used_qty + ? <= limit_qty)", counterID, delta).
		Updates(map[string]any{
			"used_qty":   gorm.Expr("used_qty + ?", delta),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return models.QuotaCounter{}, fmt.Errorf("ledger: increment: %w", res.Error)
	}

	var counter models.QuotaCounter
	if errReload := s.db.WithContext(ctx).Take(&counter, counterID).Error; errReload != nil {
		return models.QuotaCounter{}, fmt.Errorf("ledger: reload counter: %w", errReload)
	}
	if res.RowsAffected == 0 {
		return counter, ErrCeilingExceeded
	}
	return counter, nil
}

// Decrement atomically refunds delta from used_qty, clamping at zero.
func (s *Store) Decrement(ctx context.Context, counterID uint64, delta int64) error {
	if delta <= 0 {
		return fmt.Errorf("ledger: non-positive delta %d", delta)
	}
	res := s.db.WithContext(ctx).
		Model(&models.QuotaCounter{}).
		Where("id = ?", counterID).
		Updates(map[string]any{
			"used_qty":   gorm.Expr("CASE WHEN used_qty >= ? THEN used_qty - ? ELSE 0 END", delta, delta),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("ledger: decrement: %w", res.Error)
	}
	return nil
}

// IncrementLimit atomically extends the counter ceiling by delta. Unlimited
// counters stay unlimited.
func (s *Store) IncrementLimit(ctx context.Context, counterID uint64, delta int64) (models.QuotaCounter, error) {
	if delta <= 0 {
		return models.QuotaCounter{}, fmt.Errorf("ledger: non-positive delta %d", delta)
	}
	res := s.db.WithContext(ctx).
		Model(&models.QuotaCounter{}).
		Where("id = ? AND limit_qty >= 0", counterID).
		Updates(map[string]any{
			"limit_qty":  gorm.Expr("limit_qty + ?", delta),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return models.QuotaCounter{}, fmt.Errorf("ledger: extend limit: %w", res.Error)
	}

	var counter models.QuotaCounter
	if errReload := s.db.WithContext(ctx).Take(&counter, counterID).Error; errReload != nil {
		return models.QuotaCounter{}, fmt.Errorf("ledger: reload counter: %w", errReload)
	}
	return counter, nil
}

// Counter loads a counter row by ID.
func (s *Store) Counter(ctx context.Context, counterID uint64) (models.QuotaCounter, error) {
	var counter models.QuotaCounter
	if errFind := s.db.WithContext(ctx).Take(&counter, counterID).Error; errFind != nil {
		return models.QuotaCounter{}, fmt.Errorf("ledger: load counter: %w", errFind)
	}
	return counter, nil
}

// ActiveCounter loads the counter for the period containing now, if any.
func (s *Store) ActiveCounter(ctx context.Context, companyID uint64, kind models.UsageKind, now time.Time) (models.QuotaCounter, bool, error) {
	periodStart, _ := PeriodBounds(now)
	var counter models.QuotaCounter
	errFind := s.db.WithContext(ctx).
		Where("company_id = ? AND kind = ? AND period_start = ?", companyID, kind, periodStart).
		Take(&counter).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.QuotaCounter{}, false, nil
	}
	if errFind != nil {
		return models.QuotaCounter{}, false, fmt.Errorf("ledger: load counter: %w", errFind)
	}
	return counter, true, nil
}
