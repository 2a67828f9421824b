package entitlement

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/akshay2d/rxtrace/internal/ledger"
	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticLimits map[models.UsageKind]int64

func (l staticLimits) GetLimit(_ context.Context, _ uint64, kind models.UsageKind) (int64, error) {
	return l[kind], nil
}

func newTestEngine(t *testing.T, limits staticLimits) (*Engine, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.QuotaCounter{}, &models.UsageReservation{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewEngine(conn, ledger.NewStore(conn), limits), conn
}

func TestReserve_AllowAndDeny(t *testing.T) {
	engine, _ := newTestEngine(t, staticLimits{models.KindUnit: 10})
	ctx := context.Background()

	decision, err := engine.Reserve(ctx, 1, models.KindUnit, 6)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !decision.Allowed || decision.ReservationID == "" {
		t.Fatalf("expected allow with reservation, got %+v", decision)
	}
	if decision.Remaining != 4 {
		t.Fatalf("expected remaining 4, got %d", decision.Remaining)
	}

	denied, err := engine.Reserve(ctx, 1, models.KindUnit, 5)
	if err != nil {
		t.Fatalf("reserve over limit: %v", err)
	}
	if denied.Allowed {
		t.Fatalf("expected denial, got %+v", denied)
	}
	if denied.Reason != ReasonQuotaExceeded {
		t.Fatalf("expected reason %s, got %s", ReasonQuotaExceeded, denied.Reason)
	}
	if denied.ReservationID != "" {
		t.Fatalf("denied decision must not carry a reservation")
	}

	// The denial left the remaining 4 intact.
	again, err := engine.Reserve(ctx, 1, models.KindUnit, 4)
	if err != nil {
		t.Fatalf("reserve remaining: %v", err)
	}
	if !again.Allowed || again.Remaining != 0 {
		t.Fatalf("expected allow with remaining 0, got %+v", again)
	}
}

func TestReserve_Validation(t *testing.T) {
	engine, _ := newTestEngine(t, staticLimits{})
	ctx := context.Background()

	if _, err := engine.Reserve(ctx, 1, models.KindUnit, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := engine.Reserve(ctx, 1, models.KindUnit, -3); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := engine.Reserve(ctx, 1, "bottle", 1); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := engine.Reserve(ctx, 1, models.KindSeat, 1); !errors.Is(err, ErrNotConsumable) {
		t.Fatalf("expected ErrNotConsumable, got %v", err)
	}
}

func TestReserve_ZeroLimitDeniesFirstCall(t *testing.T) {
	engine, _ := newTestEngine(t, staticLimits{models.KindPallet: 0})

	decision, err := engine.Reserve(context.Background(), 1, models.KindPallet, 1)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonQuotaExceeded {
		t.Fatalf("expected quota denial on zero limit, got %+v", decision)
	}
}

func TestReserve_Unlimited(t *testing.T) {
	engine, _ := newTestEngine(t, staticLimits{models.KindUnit: models.LimitUnlimited})

	decision, err := engine.Reserve(context.Background(), 1, models.KindUnit, 1_000_000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !decision.Allowed || !decision.Unlimited || decision.Remaining != models.LimitUnlimited {
		t.Fatalf("expected unlimited allow, got %+v", decision)
	}
}

func TestFinalize_LeavesCounterAndIsIdempotent(t *testing.T) {
	engine, conn := newTestEngine(t, staticLimits{models.KindUnit: 10})
	ctx := context.Background()

	decision, err := engine.Reserve(ctx, 1, models.KindUnit, 3)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	for i := 0; i < 2; i++ {
		if errFinalize := engine.Finalize(ctx, decision.ReservationID); errFinalize != nil {
			t.Fatalf("finalize %d: %v", i, errFinalize)
		}
	}

	var reservation models.UsageReservation
	if errFind := conn.Take(&reservation, "id = ?", decision.ReservationID).Error; errFind != nil {
		t.Fatalf("load reservation: %v", errFind)
	}
	if reservation.State != models.ReservationFinalized {
		t.Fatalf("expected finalized state, got %d", reservation.State)
	}

	var counter models.QuotaCounter
	if errFind := conn.Take(&counter, reservation.CounterID).Error; errFind != nil {
		t.Fatalf("load counter: %v", errFind)
	}
	if counter.UsedQty != 3 {
		t.Fatalf("finalize must not touch the counter, got used %d", counter.UsedQty)
	}
}

func TestRelease_RefundsOnce(t *testing.T) {
	engine, conn := newTestEngine(t, staticLimits{models.KindUnit: 10})
	ctx := context.Background()

	decision, err := engine.Reserve(ctx, 1, models.KindUnit, 4)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	for i := 0; i < 3; i++ {
		if errRelease := engine.Release(ctx, decision.ReservationID); errRelease != nil {
			t.Fatalf("release %d: %v", i, errRelease)
		}
	}

	var reservation models.UsageReservation
	if errFind := conn.Take(&reservation, "id = ?", decision.ReservationID).Error; errFind != nil {
		t.Fatalf("load reservation: %v", errFind)
	}
	if reservation.State != models.ReservationReleased {
		t.Fatalf("expected released state, got %d", reservation.State)
	}

	var counter models.QuotaCounter
	if errFind := conn.Take(&counter, reservation.CounterID).Error; errFind != nil {
		t.Fatalf("load counter: %v", errFind)
	}
	if counter.UsedQty != 0 {
		t.Fatalf("expected a single refund back to zero, got used %d", counter.UsedQty)
	}
}

func TestRelease_AfterFinalizeIsNoOp(t *testing.T) {
	engine, conn := newTestEngine(t, staticLimits{models.KindUnit: 10})
	ctx := context.Background()

	decision, err := engine.Reserve(ctx, 1, models.KindUnit, 4)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if errFinalize := engine.Finalize(ctx, decision.ReservationID); errFinalize != nil {
		t.Fatalf("finalize: %v", errFinalize)
	}
	if errRelease := engine.Release(ctx, decision.ReservationID); errRelease != nil {
		t.Fatalf("release: %v", errRelease)
	}

	var counter models.QuotaCounter
	if errFind := conn.Where("company_id = ?", 1).Take(&counter).Error; errFind != nil {
		t.Fatalf("load counter: %v", errFind)
	}
	if counter.UsedQty != 4 {
		t.Fatalf("release after finalize must not refund, got used %d", counter.UsedQty)
	}
}

func TestRelease_UnknownReservationIsNoOp(t *testing.T) {
	engine, _ := newTestEngine(t, staticLimits{})
	if err := engine.Release(context.Background(), "no-such-id"); err != nil {
		t.Fatalf("release unknown: %v", err)
	}
}

func TestRelease_DropsRefundIntoClosedPeriod(t *testing.T) {
	engine, conn := newTestEngine(t, staticLimits{models.KindUnit: 10})
	ctx := context.Background()

	reserveTime := time.Date(2026, time.April, 30, 23, 0, 0, 0, time.UTC)
	engine.nowFn = func() time.Time { return reserveTime }

	decision, err := engine.Reserve(ctx, 1, models.KindUnit, 5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// The billing period closed before the release arrived.
	engine.nowFn = func() time.Time { return time.Date(2026, time.May, 1, 0, 30, 0, 0, time.UTC) }
	if errRelease := engine.Release(ctx, decision.ReservationID); errRelease != nil {
		t.Fatalf("release: %v", errRelease)
	}

	var reservation models.UsageReservation
	if errFind := conn.Take(&reservation, "id = ?", decision.ReservationID).Error; errFind != nil {
		t.Fatalf("load reservation: %v", errFind)
	}
	if reservation.State != models.ReservationReleased {
		t.Fatalf("expected released state, got %d", reservation.State)
	}

	var counter models.QuotaCounter
	if errFind := conn.Take(&counter, reservation.CounterID).Error; errFind != nil {
		t.Fatalf("load counter: %v", errFind)
	}
	if counter.UsedQty != 5 {
		t.Fatalf("refund must be dropped for a closed period, got used %d", counter.UsedQty)
	}
}

func TestRemaining(t *testing.T) {
	engine, _ := newTestEngine(t, staticLimits{models.KindBox: 20})
	ctx := context.Background()

	// No counter yet: the plan limit is reported untouched.
	decision, err := engine.Remaining(ctx, 1, models.KindBox)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if decision.Remaining != 20 {
		t.Fatalf("expected remaining 20, got %d", decision.Remaining)
	}

	if _, err := engine.Reserve(ctx, 1, models.KindBox, 8); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	decision, err = engine.Remaining(ctx, 1, models.KindBox)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if decision.Remaining != 12 {
		t.Fatalf("expected remaining 12, got %d", decision.Remaining)
	}

	if _, err := engine.Remaining(ctx, 1, models.KindSeat); !errors.Is(err, ErrNotConsumable) {
		t.Fatalf("expected ErrNotConsumable, got %v", err)
	}
}
