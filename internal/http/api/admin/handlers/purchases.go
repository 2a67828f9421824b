package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/akshay2d/rxtrace/internal/payment"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PurchaseHandler handles admin add-on purchase endpoints.
type PurchaseHandler struct {
	db         *gorm.DB
	reconciler *payment.Reconciler
}

// NewPurchaseHandler constructs a PurchaseHandler.
func NewPurchaseHandler(db *gorm.DB, reconciler *payment.Reconciler) *PurchaseHandler {
	return &PurchaseHandler{db: db, reconciler: reconciler}
}

// purchaseListQuery defines filters for the purchase list view.
type purchaseListQuery struct {
	Page      int    `form:"page,default=1"`   // Page number.
	Limit     int    `form:"limit,default=12"` // Page size.
	CompanyID uint64 `form:"company_id"`       // Company filter.
	Status    int    `form:"status"`           // Purchase status filter.
}

// List returns add-on purchases with paging and filters.
func (h *PurchaseHandler) List(c *gin.Context) {
	var q purchaseListQuery
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

	base := h.db.WithContext(c.Request.Context()).Model(&models.AddonPurchase{})
	if q.CompanyID > 0 {
		base = base.Where("company_id = ?", q.CompanyID)
	}
	if q.Status > 0 {
		base = base.Where("status = ?", q.Status)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count purchases failed"})
		return
	}

	offset := (q.Page - 1) * q.Limit
	var rows []models.AddonPurchase
	if errFind := base.
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list purchases failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"purchases": rows,
		"total":     total,
		"page":      q.Page,
		"limit":     q.Limit,
	})
}

// reconcileRetryRequest is the body for a manual reconcile retry.
type reconcileRetryRequest struct {
	PaymentID string `json:"payment_id"` // Gateway payment identifier.
}

// Reconcile retries reconciliation for a paid order whose grant did not
// complete. It runs the same idempotent path as the webhook, so a completed
// order is a no-op.
func (h *PurchaseHandler) Reconcile(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("order_id"))
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
		return
	}

	var body reconcileRetryRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	paymentID := strings.TrimSpace(body.PaymentID)
	if paymentID == "" {
		var purchase models.AddonPurchase
		errFind := h.db.WithContext(c.Request.Context()).
			Where("order_id = ?", orderID).
			Take(&purchase).Error
		if errFind != nil || purchase.PaymentID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payment_id is required"})
			return
		}
		paymentID = *purchase.PaymentID
	}

	// Admin retries skip signature verification; the route sits behind the
	// admin JWT middleware.
	outcome, errReconcile := h.reconciler.Reconcile(c.Request.Context(), orderID, paymentID, "", payment.ActorAdmin)
	if errReconcile != nil {
		switch {
		case errors.Is(errReconcile, payment.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "ORDER_NOT_FOUND"})
		case errors.Is(errReconcile, payment.ErrUnsupportedOrder):
			c.JSON(http.StatusBadRequest, gin.H{"error": "UNSUPPORTED_ORDER"})
		case errors.Is(errReconcile, payment.ErrAmountMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"error": "AMOUNT_MISMATCH"})
		case errors.Is(errReconcile, payment.ErrCartOrderConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "CART_ORDER_CONFLICT"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":                true,
		"already_processed": outcome.AlreadyProcessed,
	})
}
