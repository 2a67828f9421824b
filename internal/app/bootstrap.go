package app

import (
	"fmt"

	"github.com/akshay2d/rxtrace/internal/config"
	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/akshay2d/rxtrace/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HasAdminInitialized reports whether the system has at least one admin account.
func HasAdminInitialized(conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("nil db")
	}
	if !conn.Migrator().HasTable(&models.Admin{}) {
		return false, nil
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}

// EnsureBootstrapAdmin creates the first admin account from config when no
// admin exists yet. A missing bootstrap entry is not an error; the server can
// run without an admin until one is configured.
func EnsureBootstrapAdmin(conn *gorm.DB, cfg config.AdminBootstrapConfig) error {
	initialized, errInit := HasAdminInitialized(conn)
	if errInit != nil {
		return errInit
	}
	if initialized {
		return nil
	}
	if cfg.Username == "" || cfg.Password == "" {
		log.Warn("no admin account exists and no bootstrap admin is configured")
		return nil
	}
	return CreateAdminUserWithConn(conn, cfg.Username, cfg.Password)
}

// CreateAdminUserWithConn creates an admin user with a bcrypt-hashed password.
func CreateAdminUserWithConn(conn *gorm.DB, username, password string) error {
	if conn == nil {
		return fmt.Errorf("open database: nil connection")
	}
	hashedPassword, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}
	admin := models.Admin{
		Username: username,
		Password: hashedPassword,
		Active:   true,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("create admin: %w", errCreate)
	}
	log.Infof("created bootstrap admin %q", username)
	return nil
}
