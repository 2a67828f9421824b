// Package front registers the public API surface: payment confirmations and
// metered usage calls.
package front

import (
	"github.com/akshay2d/rxtrace/internal/entitlement"
	"github.com/akshay2d/rxtrace/internal/http/api/front/handlers"
	"github.com/akshay2d/rxtrace/internal/payment"
	"github.com/akshay2d/rxtrace/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers public routes and handlers.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, engine *entitlement.Engine, reconciler *payment.Reconciler, limiter *ratelimit.Manager) {
	if r == nil || db == nil {
		return
	}

	paymentHandler := handlers.NewPaymentHandler(reconciler)
	r.POST("/v0/payment/callback", paymentHandler.Callback)
	r.POST("/v0/payment/webhook", paymentHandler.Webhook)

	usageHandler := handlers.NewUsageHandler(db, engine, limiter)
	r.POST("/v0/usage/reserve", usageHandler.Reserve)
	r.POST("/v0/usage/:id/finalize", usageHandler.Finalize)
	r.POST("/v0/usage/:id/release", usageHandler.Release)
	r.GET("/v0/usage/remaining", usageHandler.Remaining)
}
