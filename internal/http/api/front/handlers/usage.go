package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/akshay2d/rxtrace/internal/entitlement"
	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/akshay2d/rxtrace/internal/ratelimit"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UsageHandler exposes the entitlement engine over HTTP.
type UsageHandler struct {
	db      *gorm.DB
	engine  *entitlement.Engine
	limiter *ratelimit.Manager
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB, engine *entitlement.Engine, limiter *ratelimit.Manager) *UsageHandler {
	return &UsageHandler{db: db, engine: engine, limiter: limiter}
}

// reserveRequest is the request body for quota reservation.
type reserveRequest struct {
	CompanyID uint64 `json:"company_id"` // Requesting company.
	Kind      string `json:"kind"`       // Usage kind to meter.
	Quantity  int64  `json:"quantity"`   // Units requested.
}

// Reserve checks and debits quota for a metered action.
func (h *UsageHandler) Reserve(c *gin.Context) {
	var body reserveRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.CompanyID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "company_id is required"})
		return
	}

	ctx := c.Request.Context()

	if h.limiter != nil {
		decision, errResolve := ratelimit.ResolveLimit(ctx, h.db, body.CompanyID)
		if errResolve != nil {
			log.WithError(errResolve).Warn("usage: resolve rate limit failed")
		} else if key := ratelimit.KeyForDecision(body.CompanyID, decision); key != "" {
			result, errAllow := h.limiter.Allow(ctx, key, decision.Limit)
			if errAllow == nil && !result.Allowed {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
				return
			}
		}
	}

	decision, errReserve := h.engine.Reserve(ctx, body.CompanyID, models.UsageKind(body.Kind), body.Quantity)
	if errReserve != nil {
		switch {
		case errors.Is(errReserve, entitlement.ErrInvalidQuantity),
			errors.Is(errReserve, entitlement.ErrUnknownKind),
			errors.Is(errReserve, entitlement.ErrNotConsumable):
			c.JSON(http.StatusBadRequest, gin.H{"error": errReserve.Error()})
		default:
			log.WithError(errReserve).WithField("company_id", body.CompanyID).
				Error("usage: reserve failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "STORE_UNAVAILABLE"})
		}
		return
	}

	c.JSON(http.StatusOK, decision)
}

// Finalize marks a reservation's metered action as completed.
func (h *UsageHandler) Finalize(c *gin.Context) {
	reservationID := strings.TrimSpace(c.Param("id"))
	if reservationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reservation id is required"})
		return
	}
	if errFinalize := h.engine.Finalize(c.Request.Context(), reservationID); errFinalize != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "finalize failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Release refunds a reservation after a failed metered action.
func (h *UsageHandler) Release(c *gin.Context) {
	reservationID := strings.TrimSpace(c.Param("id"))
	if reservationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reservation id is required"})
		return
	}
	if errRelease := h.engine.Release(c.Request.Context(), reservationID); errRelease != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "release failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Remaining reports current capacity without mutating anything.
func (h *UsageHandler) Remaining(c *gin.Context) {
	companyID, errParse := strconv.ParseUint(strings.TrimSpace(c.Query("company_id")), 10, 64)
	if errParse != nil || companyID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company_id"})
		return
	}
	kind := strings.TrimSpace(c.Query("kind"))

	decision, errRemaining := h.engine.Remaining(c.Request.Context(), companyID, models.UsageKind(kind))
	if errRemaining != nil {
		switch {
		case errors.Is(errRemaining, entitlement.ErrUnknownKind),
			errors.Is(errRemaining, entitlement.ErrNotConsumable):
			c.JSON(http.StatusBadRequest, gin.H{"error": errRemaining.Error()})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "STORE_UNAVAILABLE"})
		}
		return
	}
	c.JSON(http.StatusOK, decision)
}
