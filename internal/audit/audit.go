// Package audit writes best-effort audit trail records. Failures are logged
// and swallowed: audit is observability, never a correctness dependency.
package audit

import (
	"context"
	"encoding/json"

	"github.com/akshay2d/rxtrace/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry describes one audit event.
type Entry struct {
	CompanyID uint64         // Affected company.
	Actor     string         // Who triggered the action.
	Action    string         // Action name.
	Status    string         // success or failed.
	Metadata  map[string]any // Action details.
}

// Writer persists audit entries.
type Writer struct {
	db *gorm.DB
}

// NewWriter constructs an audit Writer.
func NewWriter(db *gorm.DB) *Writer {
	return &Writer{db: db}
}

// Write records an entry. Errors are logged, never returned.
func (w *Writer) Write(ctx context.Context, entry Entry) {
	if w == nil || w.db == nil {
		return
	}
	var metadata datatypes.JSON
	if entry.Metadata != nil {
		raw, errMarshal := json.Marshal(entry.Metadata)
		if errMarshal != nil {
			log.WithError(errMarshal).Warn("audit: marshal metadata failed")
		} else {
			metadata = datatypes.JSON(raw)
		}
	}
	record := models.AuditLog{
		CompanyID: entry.CompanyID,
		Actor:     entry.Actor,
		Action:    entry.Action,
		Status:    entry.Status,
		Metadata:  metadata,
	}
	if errCreate := w.db.WithContext(ctx).Create(&record).Error; errCreate != nil {
		log.WithError(errCreate).WithField("action", entry.Action).Warn("audit: write failed")
	}
}
