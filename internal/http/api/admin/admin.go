// Package admin wires the operator-facing HTTP API.
package admin

import (
	"net/http"
	"strings"

	"github.com/akshay2d/rxtrace/internal/config"
	handlers "github.com/akshay2d/rxtrace/internal/http/api/admin/handlers"
	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/akshay2d/rxtrace/internal/payment"
	"github.com/akshay2d/rxtrace/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, reconciler *payment.Reconciler) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	quotaHandler := handlers.NewQuotaHandler(db)
	authed.GET("/quotas", quotaHandler.List)
	authed.GET("/reservations", quotaHandler.Reservations)

	purchaseHandler := handlers.NewPurchaseHandler(db, reconciler)
	authed.GET("/purchases", purchaseHandler.List)
	authed.POST("/purchases/:order_id/reconcile", purchaseHandler.Reconcile)

	planHandler := handlers.NewPlanHandler(db)
	authed.GET("/plans", planHandler.List)
	authed.GET("/plans/:id", planHandler.Get)
	authed.PUT("/plans/:id", planHandler.Update)

	settingHandler := handlers.NewSettingHandler(db)
	authed.GET("/settings", settingHandler.List)
	authed.PUT("/settings/:key", settingHandler.Update)

	auditLogHandler := handlers.NewAuditLogHandler(db)
	authed.GET("/audit-logs", auditLogHandler.List)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}
