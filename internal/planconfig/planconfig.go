// Package planconfig resolves the plan-configured quota limits for a company.
package planconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/akshay2d/rxtrace/internal/models"
	"gorm.io/gorm"
)

// Service looks up plan limits from the database.
type Service struct {
	db *gorm.DB
}

// NewService constructs a plan config Service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetLimit returns the base quota limit for a consumable usage kind under the
// company's active plan. Companies without a plan get a zero base limit, so
// only purchased top-ups grant capacity.
func (s *Service) GetLimit(ctx context.Context, companyID uint64, kind models.UsageKind) (int64, error) {
	if !kind.Consumable() {
		return 0, fmt.Errorf("planconfig: kind %s has no quota limit", kind)
	}

	var company models.Company
	errFind := s.db.WithContext(ctx).
		Preload("Plan").
		Take(&company, companyID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("planconfig: company %d not found", companyID)
		}
		return 0, fmt.Errorf("planconfig: load company: %w", errFind)
	}
	if company.Plan == nil || !company.Plan.IsEnabled {
		return 0, nil
	}
	return company.Plan.LimitFor(kind), nil
}

// SeatAllowance returns the total seats available to the company: the plan
// allowance plus purchased extra seats.
func (s *Service) SeatAllowance(ctx context.Context, companyID uint64) (int64, error) {
	var company models.Company
	errFind := s.db.WithContext(ctx).
		Preload("Plan").
		Take(&company, companyID).Error
	if errFind != nil {
		return 0, fmt.Errorf("planconfig: load company: %w", errFind)
	}
	seats := company.ExtraSeats
	if company.Plan != nil && company.Plan.IsEnabled {
		seats += company.Plan.Seats
	}
	return seats, nil
}
