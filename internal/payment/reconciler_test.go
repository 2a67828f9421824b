package payment

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/akshay2d/rxtrace/internal/audit"
	"github.com/akshay2d/rxtrace/internal/invoice"
	"github.com/akshay2d/rxtrace/internal/ledger"
	"github.com/akshay2d/rxtrace/internal/models"
	"github.com/akshay2d/rxtrace/internal/topup"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testSecret = "test-webhook-secret"

type staticLimits map[models.UsageKind]int64

func (l staticLimits) GetLimit(_ context.Context, _ uint64, kind models.UsageKind) (int64, error) {
	return l[kind], nil
}

func newTestReconciler(t *testing.T, limits staticLimits) (*Reconciler, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	errMigrate := conn.AutoMigrate(
		&models.Plan{},
		&models.Company{},
		&models.QuotaCounter{},
		&models.AddonPurchase{},
		&models.AddonCart{},
		&models.Invoice{},
		&models.AuditLog{},
	)
	if errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	applier := topup.NewApplier(ledger.NewStore(conn), limits)
	carts := NewCartTracker(conn, applier)
	reconciler := NewReconciler(conn, applier, carts, invoice.NewService(conn), audit.NewWriter(conn), testSecret)
	return reconciler, conn
}

func createSinglePurchase(t *testing.T, conn *gorm.DB, companyID uint64, orderID string, kind models.UsageKind, qty, amountPaise int64) models.AddonPurchase {
	t.Helper()
	purpose, err := models.EncodePurpose(models.PurchasePurpose{Type: models.PurposeSingle, Kind: kind, Qty: qty})
	if err != nil {
		t.Fatalf("encode purpose: %v", err)
	}
	purchase := models.AddonPurchase{
		CompanyID:   companyID,
		OrderID:     orderID,
		Purpose:     purpose,
		AmountPaise: amountPaise,
		Status:      models.PurchaseCreated,
	}
	if errCreate := conn.Create(&purchase).Error; errCreate != nil {
		t.Fatalf("create purchase: %v", errCreate)
	}
	return purchase
}

func createCompany(t *testing.T, conn *gorm.DB, slug string) models.Company {
	t.Helper()
	company := models.Company{Name: slug, Slug: slug, Active: true}
	if errCreate := conn.Create(&company).Error; errCreate != nil {
		t.Fatalf("create company: %v", errCreate)
	}
	return company
}

func TestReconcile_SingleGrantsOnce(t *testing.T) {
	reconciler, conn := newTestReconciler(t, staticLimits{models.KindUnit: 100})
	ctx := context.Background()

	company := createCompany(t, conn, "acme")
	createSinglePurchase(t, conn, company.ID, "order_1", models.KindUnit, 500, 9900)

	sig := ComputeSignature(testSecret, "order_1", "pay_1")
	outcome, err := reconciler.Reconcile(ctx, "order_1", "pay_1", sig, ActorCallback)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.AlreadyProcessed {
		t.Fatalf("first reconcile must not report already processed")
	}
	if outcome.Remaining != 600 {
		t.Fatalf("expected remaining 600, got %d", outcome.Remaining)
	}

	var purchase models.AddonPurchase
	if errFind := conn.Where("order_id = ?", "order_1").Take(&purchase).Error; errFind != nil {
		t.Fatalf("load purchase: %v", errFind)
	}
	if purchase.Status != models.PurchasePaid {
		t.Fatalf("expected paid status, got %d", purchase.Status)
	}
	if purchase.PaymentID == nil || *purchase.PaymentID != "pay_1" {
		t.Fatalf("expected payment_id pay_1, got %v", purchase.PaymentID)
	}
	if purchase.PaidAt == nil || purchase.AppliedAt == nil {
		t.Fatalf("expected paid_at and applied_at set")
	}

	var counter models.QuotaCounter
	if errFind := conn.Where("company_id = ?", company.ID).Take(&counter).Error; errFind != nil {
		t.Fatalf("load counter: %v", errFind)
	}
	if counter.LimitQty != 600 {
		t.Fatalf("expected limit 600, got %d", counter.LimitQty)
	}

	var invoices int64
	if errCount := conn.Model(&models.Invoice{}).Count(&invoices).Error; errCount != nil {
		t.Fatalf("count invoices: %v", errCount)
	}
	if invoices != 1 {
		t.Fatalf("expected one invoice, got %d", invoices)
	}
}

func TestReconcile_DuplicateDeliveryIsIdempotent(t *testing.T) {
	reconciler, conn := newTestReconciler(t, staticLimits{models.KindUnit: 100})
	ctx := context.Background()

	company := createCompany(t, conn, "acme")
	createSinglePurchase(t, conn, company.ID, "order_1", models.KindUnit, 500, 9900)

	sig := ComputeSignature(testSecret, "order_1", "pay_1")
	if _, err := reconciler.Reconcile(ctx, "order_1", "pay_1", sig, ActorCallback); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	// The webhook redelivers the same confirmation.
	for i := 0; i < 3; i++ {
		outcome, err := reconciler.Reconcile(ctx, "order_1", "pay_1", sig, ActorWebhook)
		if err != nil {
			t.Fatalf("redelivery %d: %v", i, err)
		}
		if !outcome.AlreadyProcessed {
			t.Fatalf("redelivery %d must report already processed", i)
		}
	}

	var counter models.QuotaCounter
	if errFind := conn.Where("company_id = ?", company.ID).Take(&counter).Error; errFind != nil {
		t.Fatalf("load counter: %v", errFind)
	}
	if counter.LimitQty != 600 {
		t.Fatalf("duplicate delivery must not grant twice, got limit %d", counter.LimitQty)
	}

	var invoices int64
	if errCount := conn.Model(&models.Invoice{}).Count(&invoices).Error; errCount != nil {
		t.Fatalf("count invoices: %v", errCount)
	}
	if invoices != 1 {
		t.Fatalf("expected one invoice, got %d", invoices)
	}
}

func TestReconcile_TamperedSignatureMutatesNothing(t *testing.T) {
	reconciler, conn := newTestReconciler(t, staticLimits{models.KindUnit: 100})
	ctx := context.Background()

	company := createCompany(t, conn, "acme")
	createSinglePurchase(t, conn, company.ID, "order_1", models.KindUnit, 500, 9900)

	tampered := ComputeSignature("wrong-secret", "order_1", "pay_1")
	if _, err := reconciler.Reconcile(ctx, "order_1", "pay_1", tampered, ActorWebhook); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	var purchase models.AddonPurchase
	if errFind := conn.Where("order_id = ?", "order_1").Take(&purchase).Error; errFind != nil {
		t.Fatalf("load purchase: %v", errFind)
	}
	if purchase.Status != models.PurchaseCreated || purchase.AppliedAt != nil {
		t.Fatalf("tampered call must not mutate the purchase, got %+v", purchase)
	}

	var counters int64
	if errCount := conn.Model(&models.QuotaCounter{}).Count(&counters).Error; errCount != nil {
		t.Fatalf("count counters: %v", errCount)
	}
	if counters != 0 {
		t.Fatalf("tampered call must not touch the ledger")
	}

	var invoices int64
	if errCount := conn.Model(&models.Invoice{}).Count(&invoices).Error; errCount != nil {
		t.Fatalf("count invoices: %v", errCount)
	}
	if invoices != 0 {
		t.Fatalf("tampered call must not create an invoice")
	}
}

func TestReconcile_UnknownOrder(t *testing.T) {
	reconciler, _ := newTestReconciler(t, staticLimits{})

	sig := ComputeSignature(testSecret, "order_missing", "pay_1")
	if _, err := reconciler.Reconcile(context.Background(), "order_missing", "pay_1", sig, ActorWebhook); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestReconcile_AdminRetryWithoutSignature(t *testing.T) {
	reconciler, conn := newTestReconciler(t, staticLimits{models.KindBox: 10})
	ctx := context.Background()

	company := createCompany(t, conn, "acme")
	createSinglePurchase(t, conn, company.ID, "order_1", models.KindBox, 50, 4900)

	// The admin retry route sits behind the JWT middleware and passes no
	// gateway signature; the front handlers reject unsigned requests before
	// they reach Reconcile.
	outcome, err := reconciler.Reconcile(ctx, "order_1", "pay_1", "", ActorAdmin)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.AlreadyProcessed {
		t.Fatalf("first reconcile must not report already processed")
	}
}

func TestReconcile_ResumesAfterCrashBetweenStatusAndGrant(t *testing.T) {
	reconciler, conn := newTestReconciler(t, staticLimits{models.KindUnit: 100})
	ctx := context.Background()

	company := createCompany(t, conn, "acme")
	createSinglePurchase(t, conn, company.ID, "order_1", models.KindUnit, 500, 9900)

	// Simulate a crash after the status transition but before the grant:
	// the purchase is PAID yet applied_at is still NULL.
	if errMark := conn.Model(&models.AddonPurchase{}).
		Where("order_id = ?", "order_1").
		Update("status", models.PurchasePaid).Error; errMark != nil {
		t.Fatalf("mark paid: %v", errMark)
	}

	sig := ComputeSignature(testSecret, "order_1", "pay_1")
	outcome, err := reconciler.Reconcile(ctx, "order_1", "pay_1", sig, ActorWebhook)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.AlreadyProcessed {
		t.Fatalf("recovery run performed the grant, must not report already processed")
	}

	var counter models.QuotaCounter
	if errFind := conn.Where("company_id = ?", company.ID).Take(&counter).Error; errFind != nil {
		t.Fatalf("load counter: %v", errFind)
	}
	if counter.LimitQty != 600 {
		t.Fatalf("expected the grant to land exactly once, got limit %d", counter.LimitQty)
	}
}

func TestReconcile_ReportsDuplicateWhenGrantRacedAway(t *testing.T) {
	reconciler, conn := newTestReconciler(t, staticLimits{models.KindUnit: 100})
	ctx := context.Background()

	company := createCompany(t, conn, "acme")
	createSinglePurchase(t, conn, company.ID, "order_1", models.KindUnit, 500, 9900)

	// A concurrent caller completed the grant between this caller's status
	// transition and its application step: applied_at is already set.
	if errMark := conn.Model(&models.AddonPurchase{}).
		Where("order_id = ?", "order_1").
		Update("applied_at", gorm.Expr("CURRENT_TIMESTAMP")).Error; errMark != nil {
		t.Fatalf("mark applied: %v", errMark)
	}

	sig := ComputeSignature(testSecret, "order_1", "pay_1")
	outcome, err := reconciler.Reconcile(ctx, "order_1", "pay_1", sig, ActorWebhook)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !outcome.AlreadyProcessed {
		t.Fatalf("losing the grant gate must report already processed even after winning the status transition")
	}

	var counters int64
	if errCount := conn.Model(&models.QuotaCounter{}).Count(&counters).Error; errCount != nil {
		t.Fatalf("count counters: %v", errCount)
	}
	if counters != 0 {
		t.Fatalf("losing caller must not grant, got %d counters", counters)
	}
}

func TestVerifySignature(t *testing.T) {
	sig := ComputeSignature("secret", "order_1", "pay_1")
	if !VerifySignature("secret", "order_1", "pay_1", sig) {
		t.Fatalf("expected valid signature to verify")
	}
	if VerifySignature("secret", "order_1", "pay_2", sig) {
		t.Fatalf("signature must bind the payment ID")
	}
	if VerifySignature("other", "order_1", "pay_1", sig) {
		t.Fatalf("signature must bind the secret")
	}
	if VerifySignature("secret", "order_1", "pay_1", sig[:len(sig)-2]) {
		t.Fatalf("truncated signature must not verify")
	}
}
