package ratelimit

import (
	"context"
	"errors"

	"github.com/akshay2d/rxtrace/internal/models"
	"gorm.io/gorm"
)

// ResolveLimit resolves the effective reserve-call rate limit for a company:
// the plan-level limit when one is set, otherwise the settings default.
func ResolveLimit(ctx context.Context, db *gorm.DB, companyID uint64) (Decision, error) {
	if db == nil || companyID == 0 {
		return Decision{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var company models.Company
	errFind := db.WithContext(ctx).Preload("Plan").Take(&company, companyID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Decision{}, nil
		}
		return Decision{}, errFind
	}

	if company.Plan != nil && company.Plan.IsEnabled && company.Plan.RateLimit > 0 {
		return Decision{Limit: company.Plan.RateLimit, Scope: ScopeCompany}, nil
	}

	if limit := DefaultSettingsLimit(); limit > 0 {
		return Decision{Limit: limit, Scope: ScopeCompany}, nil
	}
	return Decision{}, nil
}
