// Package invoice creates accounting invoices idempotently per gateway order.
package invoice

import (
	"context"
	"errors"
	"fmt"

	"github.com/akshay2d/rxtrace/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExternalKey derives the invoice dedup key for a gateway order.
func ExternalKey(orderID string) string {
	return "razorpay_order:" + orderID
}

// Service ensures invoices exist for settled payments.
type Service struct {
	db *gorm.DB
}

// NewService constructs an invoice Service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// EnsureInvoice creates the invoice for an order if it does not exist yet and
// returns it. Concurrent and repeated calls for the same order converge on
// the single row keyed by the order's external key.
func (s *Service) EnsureInvoice(ctx context.Context, companyID uint64, orderID, paymentID string, amountPaise int64, metadata datatypes.JSON) (models.Invoice, error) {
	key := ExternalKey(orderID)

	record := models.Invoice{
		CompanyID:   companyID,
		ExternalKey: key,
		OrderID:     orderID,
		PaymentID:   paymentID,
		AmountPaise: amountPaise,
		Metadata:    metadata,
	}
	errCreate := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_key"}},
		DoNothing: true,
	}).Create(&record).Error
	if errCreate != nil && !errors.Is(errCreate, gorm.ErrDuplicatedKey) {
		return models.Invoice{}, fmt.Errorf("invoice: create: %w", errCreate)
	}

	var existing models.Invoice
	if errFind := s.db.WithContext(ctx).Where("external_key = ?", key).Take(&existing).Error; errFind != nil {
		return models.Invoice{}, fmt.Errorf("invoice: load: %w", errFind)
	}
	return existing, nil
}
