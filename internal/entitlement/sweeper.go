package entitlement

import (
	"context"
	"time"

	"github.com/akshay2d/rxtrace/internal/models"
	internalsettings "github.com/akshay2d/rxtrace/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const sweepBatchSize = 200

// Sweeper releases reservations abandoned by crashed callers.
type Sweeper struct {
	db     *gorm.DB
	engine *Engine
}

// NewSweeper constructs a Sweeper.
func NewSweeper(db *gorm.DB, engine *Engine) *Sweeper {
	if db == nil || engine == nil {
		return nil
	}
	return &Sweeper{db: db, engine: engine}
}

// Start runs the sweep loop until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	go func() {
		for {
			interval := time.Duration(internalsettings.IntValue(
				internalsettings.ReservationSweepIntervalKey,
				internalsettings.DefaultReservationSweepIntervalSeconds,
			)) * time.Second
			if interval <= 0 {
				interval = internalsettings.DefaultReservationSweepIntervalSeconds * time.Second
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
				s.SweepOnce(ctx)
			}
		}
	}()
}

// SweepOnce releases every reservation older than the configured timeout.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	if s == nil {
		return
	}
	timeout := time.Duration(internalsettings.IntValue(
		internalsettings.ReservationTimeoutSecondsKey,
		internalsettings.DefaultReservationTimeoutSeconds,
	)) * time.Second
	if timeout <= 0 {
		timeout = internalsettings.DefaultReservationTimeoutSeconds * time.Second
	}
	cutoff := time.Now().UTC().Add(-timeout)

	var stale []models.UsageReservation
	errFind := s.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", models.ReservationReserved, cutoff).
		Order("created_at ASC").
		Limit(sweepBatchSize).
		Find(&stale).Error
	if errFind != nil {
		log.WithError(errFind).Warn("entitlement: sweep query failed")
		return
	}

	for _, reservation := range stale {
		if errRelease := s.engine.Release(ctx, reservation.ID); errRelease != nil {
			log.WithError(errRelease).WithField("reservation_id", reservation.ID).
				Warn("entitlement: sweep release failed")
			continue
		}
		log.WithFields(log.Fields{
			"reservation_id": reservation.ID,
			"company_id":     reservation.CompanyID,
		}).Info("entitlement: released abandoned reservation")
	}
}
