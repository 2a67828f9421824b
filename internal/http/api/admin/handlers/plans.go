package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PlanHandler handles admin plan endpoints.
type PlanHandler struct {
	db *gorm.DB
}

// NewPlanHandler constructs a PlanHandler.
func NewPlanHandler(db *gorm.DB) *PlanHandler {
	return &PlanHandler{db: db}
}

// List returns all plans ordered for display.
func (h *PlanHandler) List(c *gin.Context) {
	var plans []models.Plan
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("sort_order ASC, id ASC").
		Find(&plans).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list plans failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// Get returns one plan by ID.
func (h *PlanHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var plan models.Plan
	if errFind := h.db.WithContext(c.Request.Context()).Take(&plan, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query plan failed"})
		return
	}
	c.JSON(http.StatusOK, plan)
}

// updatePlanRequest defines the editable plan fields.
type updatePlanRequest struct {
	Name            *string `json:"name"`
	Description     *string `json:"description"`
	MonthPricePaise *int64  `json:"month_price_paise"`
	UnitLimit       *int64  `json:"unit_limit"`
	BoxLimit        *int64  `json:"box_limit"`
	PalletLimit     *int64  `json:"pallet_limit"`
	Seats           *int64  `json:"seats"`
	RateLimit       *int    `json:"rate_limit"`
	IsEnabled       *bool   `json:"is_enabled"`
}

// Update edits a plan's limits and pricing. Changes affect counters created
// for future billing periods; existing counters keep their ceilings.
func (h *PlanHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updatePlanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{}
	if body.Name != nil {
		updates["name"] = *body.Name
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.MonthPricePaise != nil {
		updates["month_price_paise"] = *body.MonthPricePaise
	}
	if body.UnitLimit != nil {
		updates["unit_limit"] = *body.UnitLimit
	}
	if body.BoxLimit != nil {
		updates["box_limit"] = *body.BoxLimit
	}
	if body.PalletLimit != nil {
		updates["pallet_limit"] = *body.PalletLimit
	}
	if body.Seats != nil {
		updates["seats"] = *body.Seats
	}
	if body.RateLimit != nil {
		updates["rate_limit"] = *body.RateLimit
	}
	if body.IsEnabled != nil {
		updates["is_enabled"] = *body.IsEnabled
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Model(&models.Plan{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update plan failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
