package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.QuotaCounter{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewStore(conn)
}

func TestPeriodBounds(t *testing.T) {
	ts := time.Date(2026, time.March, 15, 13, 45, 0, 0, time.UTC)
	start, end := PeriodBounds(ts)
	if !start.Equal(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected period start: %v", start)
	}
	if !end.Equal(time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected period end: %v", end)
	}

	endOfDec := time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC)
	start, end = PeriodBounds(endOfDec)
	if !start.Equal(time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected period start: %v", start)
	}
	if !end.Equal(time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected period end: %v", end)
	}
}

func TestEnsureCounter_Idempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.May, 10, 9, 0, 0, 0, time.UTC)

	first, err := store.EnsureCounter(ctx, 1, models.KindUnit, 100, now)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := store.EnsureCounter(ctx, 1, models.KindUnit, 999, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one counter row, got %d and %d", first.ID, second.ID)
	}
	if second.LimitQty != 100 {
		t.Fatalf("second ensure must not rewrite the limit, got %d", second.LimitQty)
	}

	other, err := store.EnsureCounter(ctx, 1, models.KindBox, 50, now)
	if err != nil {
		t.Fatalf("ensure other kind: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("kinds must get distinct counters")
	}
}

func TestEnsureCounter_NewPeriodNewRow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	may, err := store.EnsureCounter(ctx, 1, models.KindUnit, 100, time.Date(2026, time.May, 30, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ensure may: %v", err)
	}
	june, err := store.EnsureCounter(ctx, 1, models.KindUnit, 100, time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ensure june: %v", err)
	}
	if may.ID == june.ID {
		t.Fatalf("expected a fresh counter for the new period")
	}
	if june.UsedQty != 0 {
		t.Fatalf("new period counter must start at zero, got %d", june.UsedQty)
	}
}

func TestIncrementWithCeiling(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	counter, err := store.EnsureCounter(ctx, 1, models.KindUnit, 10, now)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	updated, err := store.IncrementWithCeiling(ctx, counter.ID, 7)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if updated.UsedQty != 7 {
		t.Fatalf("expected used 7, got %d", updated.UsedQty)
	}

	// 7 + 4 > 10: denied, row untouched.
	denied, err := store.IncrementWithCeiling(ctx, counter.ID, 4)
	if !errors.Is(err, ErrCeilingExceeded) {
		t.Fatalf("expected ErrCeilingExceeded, got %v", err)
	}
	if denied.UsedQty != 7 {
		t.Fatalf("denied increment must not change used, got %d", denied.UsedQty)
	}

	// Exactly filling the ceiling is allowed.
	filled, err := store.IncrementWithCeiling(ctx, counter.ID, 3)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if filled.UsedQty != 10 || filled.Remaining() != 0 {
		t.Fatalf("expected used 10 remaining 0, got used %d remaining %d", filled.UsedQty, filled.Remaining())
	}

	if _, err := store.IncrementWithCeiling(ctx, counter.ID, 0); err == nil {
		t.Fatalf("expected error for zero delta")
	}
}

func TestIncrementWithCeiling_NeverOvershoots(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	counter, err := store.EnsureCounter(ctx, 1, models.KindBox, 25, time.Now().UTC())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	granted := int64(0)
	for i := 0; i < 40; i++ {
		updated, errIncr := store.IncrementWithCeiling(ctx, counter.ID, 3)
		if errIncr != nil {
			if !errors.Is(errIncr, ErrCeilingExceeded) {
				t.Fatalf("increment %d: %v", i, errIncr)
			}
			continue
		}
		granted += 3
		if updated.UsedQty > 25 {
			t.Fatalf("ceiling overshot: used %d", updated.UsedQty)
		}
	}

	final, err := store.Counter(ctx, counter.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.UsedQty != granted {
		t.Fatalf("expected used %d, got %d", granted, final.UsedQty)
	}
	if final.UsedQty > 25 {
		t.Fatalf("ceiling overshot: used %d", final.UsedQty)
	}
}

func TestIncrementWithCeiling_Unlimited(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	counter, err := store.EnsureCounter(ctx, 1, models.KindPallet, models.LimitUnlimited, time.Now().UTC())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	updated, err := store.IncrementWithCeiling(ctx, counter.ID, 1_000_000)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if !updated.Unlimited() || updated.Remaining() != models.LimitUnlimited {
		t.Fatalf("expected unlimited counter, got %+v", updated)
	}
}

func TestDecrement_ClampsAtZero(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	counter, err := store.EnsureCounter(ctx, 1, models.KindUnit, 10, time.Now().UTC())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := store.IncrementWithCeiling(ctx, counter.ID, 4); err != nil {
		t.Fatalf("increment: %v", err)
	}

	if errDecr := store.Decrement(ctx, counter.ID, 3); errDecr != nil {
		t.Fatalf("decrement: %v", errDecr)
	}
	after, err := store.Counter(ctx, counter.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.UsedQty != 1 {
		t.Fatalf("expected used 1, got %d", after.UsedQty)
	}

	if errDecr := store.Decrement(ctx, counter.ID, 50); errDecr != nil {
		t.Fatalf("decrement past zero: %v", errDecr)
	}
	after, err = store.Counter(ctx, counter.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.UsedQty != 0 {
		t.Fatalf("expected clamp at zero, got %d", after.UsedQty)
	}
}

func TestIncrementLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	counter, err := store.EnsureCounter(ctx, 1, models.KindUnit, 100, time.Now().UTC())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	updated, err := store.IncrementLimit(ctx, counter.ID, 500)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if updated.LimitQty != 600 {
		t.Fatalf("expected limit 600, got %d", updated.LimitQty)
	}
}

func TestIncrementLimit_UnlimitedStaysUnlimited(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	counter, err := store.EnsureCounter(ctx, 1, models.KindUnit, models.LimitUnlimited, time.Now().UTC())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	updated, err := store.IncrementLimit(ctx, counter.ID, 500)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if updated.LimitQty != models.LimitUnlimited {
		t.Fatalf("unlimited counter must stay unlimited, got %d", updated.LimitQty)
	}
}

func TestActiveCounter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.July, 4, 12, 0, 0, 0, time.UTC)

	_, found, err := store.ActiveCounter(ctx, 1, models.KindUnit, now)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if found {
		t.Fatalf("expected no counter before ensure")
	}

	created, err := store.EnsureCounter(ctx, 1, models.KindUnit, 10, now)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	got, found, err := store.ActiveCounter(ctx, 1, models.KindUnit, now)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if !found || got.ID != created.ID {
		t.Fatalf("expected counter %d, found=%v got=%d", created.ID, found, got.ID)
	}

	// A different month is a different period.
	_, found, err = store.ActiveCounter(ctx, 1, models.KindUnit, now.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("active next month: %v", err)
	}
	if found {
		t.Fatalf("expected no counter in the next period")
	}
}
