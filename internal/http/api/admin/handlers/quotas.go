package handlers

import (
	"net/http"
	"strconv"
	"strings"

	dbutil "github.com/akshay2d/rxtrace/internal/db"
	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// QuotaHandler handles admin quota endpoints.
type QuotaHandler struct {
	db *gorm.DB
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(db *gorm.DB) *QuotaHandler {
	return &QuotaHandler{db: db}
}

// quotaListQuery defines filters for the quota counter list view.
type quotaListQuery struct {
	Page    int    `form:"page,default=1"`   // Page number.
	Limit   int    `form:"limit,default=12"` // Page size.
	Company string `form:"company"`          // Company name filter.
	Kind    string `form:"kind"`             // Usage kind filter.
}

// quotaListRow defines the query result row for the counter list.
type quotaListRow struct {
	models.QuotaCounter
	CompanyName string `gorm:"column:company_name"`
}

// List returns quota counters with paging and filters.
func (h *QuotaHandler) List(c *gin.Context) {
	var q quotaListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 12
	}

	companyQ := strings.TrimSpace(q.Company)
	kindQ := strings.TrimSpace(q.Kind)
	if kindQ != "" {
		if _, ok := models.ParseUsageKind(kindQ); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
			return
		}
	}

	ctx := c.Request.Context()

	base := h.db.WithContext(ctx).
		Table("quota_counters").
		Joins("JOIN companies ON companies.id = quota_counters.company_id")
	if companyQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+companyQ+"%")
		base = base.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "companies.name"), pattern)
	}
	if kindQ != "" {
		base = base.Where("quota_counters.kind = ?", kindQ)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count counters failed"})
		return
	}

	offset := (q.Page - 1) * q.Limit
	var rows []quotaListRow
	if errFind := base.
		Select("quota_counters.*, companies.name AS company_name").
		Order("quota_counters.period_start DESC, quota_counters.company_id ASC, quota_counters.kind ASC").
		Offset(offset).
		Limit(q.Limit).
		Scan(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list counters failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":           row.ID,
			"company_id":   row.CompanyID,
			"company_name": row.CompanyName,
			"kind":         row.Kind,
			"period_start": row.PeriodStart,
			"period_end":   row.PeriodEnd,
			"used":         row.UsedQty,
			"limit":        row.LimitQty,
			"remaining":    row.Remaining(),
			"unlimited":    row.Unlimited(),
			"updated_at":   row.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"counters": out,
		"total":    total,
		"page":     q.Page,
		"limit":    q.Limit,
	})
}

// Reservations returns recent reservations for one company.
func (h *QuotaHandler) Reservations(c *gin.Context) {
	companyID, errParse := strconv.ParseUint(strings.TrimSpace(c.Query("company_id")), 10, 64)
	if errParse != nil || companyID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company_id"})
		return
	}

	var rows []models.UsageReservation
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("company_id = ?", companyID).
		Order("created_at DESC").
		Limit(100).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list reservations failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": rows})
}
