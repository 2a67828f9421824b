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

// AuditLogHandler handles admin audit log endpoints.
type AuditLogHandler struct {
	db *gorm.DB
}

// NewAuditLogHandler constructs an AuditLogHandler.
func NewAuditLogHandler(db *gorm.DB) *AuditLogHandler {
	return &AuditLogHandler{db: db}
}

// auditListQuery defines filters for the audit log list view.
type auditListQuery struct {
	Page   int    `form:"page,default=1"`   // Page number.
	Limit  int    `form:"limit,default=20"` // Page size.
	Action string `form:"action"`           // Action name filter.
	Status string `form:"status"`           // Status filter (success, failed).
}

// List returns audit log entries with paging and filters.
func (h *AuditLogHandler) List(c *gin.Context) {
	var q auditListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	base := h.db.WithContext(c.Request.Context()).Model(&models.AuditLog{})
	if companyQ := strings.TrimSpace(c.Query("company_id")); companyQ != "" {
		companyID, errParse := strconv.ParseUint(companyQ, 10, 64)
		if errParse != nil || companyID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company_id"})
			return
		}
		base = base.Where("company_id = ?", companyID)
	}
	if action := strings.TrimSpace(q.Action); action != "" {
		base = base.Where("action = ?", action)
	}
	if status := strings.TrimSpace(q.Status); status != "" {
		base = base.Where("status = ?", status)
	}
	if orderID := strings.TrimSpace(c.Query("order_id")); orderID != "" {
		base = base.Where(dbutil.JSONExtractTextExpr(h.db, "metadata", "order_id")+" = ?", orderID)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count audit logs failed"})
		return
	}

	offset := (q.Page - 1) * q.Limit
	var rows []models.AuditLog
	if errFind := base.
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list audit logs failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  rows,
		"total": total,
		"page":  q.Page,
		"limit": q.Limit,
	})
}
