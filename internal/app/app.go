// Package app boots the metering server: database, settings, ledger
// components, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/akshay2d/rxtrace/internal/audit"
	"github.com/akshay2d/rxtrace/internal/config"
	"github.com/akshay2d/rxtrace/internal/db"
	"github.com/akshay2d/rxtrace/internal/entitlement"
	adminapi "github.com/akshay2d/rxtrace/internal/http/api/admin"
	"github.com/akshay2d/rxtrace/internal/http/api/front"
	"github.com/akshay2d/rxtrace/internal/invoice"
	"github.com/akshay2d/rxtrace/internal/ledger"
	"github.com/akshay2d/rxtrace/internal/payment"
	"github.com/akshay2d/rxtrace/internal/planconfig"
	"github.com/akshay2d/rxtrace/internal/ratelimit"
	internalsettings "github.com/akshay2d/rxtrace/internal/settings"
	"github.com/akshay2d/rxtrace/internal/topup"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const settingsRefreshInterval = 30 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the metering server with database-backed components.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	jwtConfig, _ := config.LoadJWTConfig(configPath)
	gatewayConfig, _ := config.LoadGatewayConfig(configPath)
	bootstrapConfig, _ := config.LoadAdminBootstrapConfig(configPath)
	if errBootstrap := EnsureBootstrapAdmin(conn, bootstrapConfig); errBootstrap != nil {
		return errBootstrap
	}
	if gatewayConfig.WebhookSecret == "" {
		log.Warn("gateway webhook secret is empty, webhook signatures will not verify")
	}

	internalsettings.StartRefresher(ctx, conn, settingsRefreshInterval)

	store := ledger.NewStore(conn)
	plans := planconfig.NewService(conn)
	engine := entitlement.NewEngine(conn, store, plans)
	applier := topup.NewApplier(store, plans)
	carts := payment.NewCartTracker(conn, applier)
	invoices := invoice.NewService(conn)
	auditor := audit.NewWriter(conn)
	reconciler := payment.NewReconciler(conn, applier, carts, invoices, auditor, gatewayConfig.WebhookSecret)
	limiter := ratelimit.NewManager(nil, nil, nil)

	engineHTTP := gin.New()
	engineHTTP.Use(gin.Recovery())
	adminapi.RegisterAdminRoutes(engineHTTP, conn, jwtConfig, reconciler)
	front.RegisterFrontRoutes(engineHTTP, conn, engine, reconciler, limiter)

	sweeper := entitlement.NewSweeper(conn, engine)
	sweeper.Start(ctx)

	port := defaultPort
	if port <= 0 {
		port = 8318
	}
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engineHTTP,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("server shutdown failed")
		}
	}()

	log.Infof("starting server on :%d", port)
	if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return errServe
	}
	return nil
}
