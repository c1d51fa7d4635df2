package workers

import (
	"fmt"
	"testing"

	"invest-settlement-system/models"
	"invest-settlement-system/services"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubVerifier struct {
	result *services.VerifyResult
	err    error
}

func (s *stubVerifier) Verify(txHash string, expectedAmount float64, requiredConfirmations int) (*services.VerifyResult, error) {
	return s.result, s.err
}

func newWorkerFixture(t *testing.T, verifier services.PaymentVerifier) (*VerificationWorker, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{}, &models.Tier{}, &models.Subscription{},
		&models.LedgerEntry{}, &models.Rank{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ledger := services.NewLedgerService(db)
	commission := services.NewCommissionService(db, ledger)
	rank := services.NewRankService(db)
	activation := services.NewActivationService(db, ledger, commission, rank, verifier, 12)
	return NewVerificationWorker(db, activation), db
}

func seedPending(t *testing.T, db *gorm.DB) *models.Subscription {
	t.Helper()

	user := &models.User{ID: uuid.NewString(), Email: uuid.NewString() + "@example.com"}
	if err := db.Create(user).Error; err != nil {
		t.Fatal(err)
	}
	tier := &models.Tier{ID: uuid.NewString(), Level: 1, Name: "Starter", InvestmentAmount: 100, Enabled: true}
	if err := db.Create(tier).Error; err != nil {
		t.Fatal(err)
	}

	proof := "0x" + uuid.NewString() + uuid.NewString() // unique enough per test row
	sub := &models.Subscription{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		TierID:     tier.ID,
		AmountPaid: 100,
		Status:     models.SubscriptionPendingVerification,
		TxProof:    &proof,
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatal(err)
	}
	return sub
}

func TestRunOnceActivatesVerifiedDeposits(t *testing.T) {
	worker, db := newWorkerFixture(t, &stubVerifier{result: &services.VerifyResult{Verified: true, Confirmations: 20}})
	sub := seedPending(t, db)

	if err := worker.RunOnce(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var fresh models.Subscription
	if err := db.First(&fresh, "id = ?", sub.ID).Error; err != nil {
		t.Fatal(err)
	}
	if fresh.Status != models.SubscriptionActive {
		t.Errorf("status = %s, want ACTIVE", fresh.Status)
	}
	if fresh.Confirmations != 20 {
		t.Errorf("confirmations = %d, want 20", fresh.Confirmations)
	}
}

func TestRunOnceRejectsTerminalVerdicts(t *testing.T) {
	worker, db := newWorkerFixture(t, &stubVerifier{
		err: &services.VerifyError{Tag: services.VerifyInsufficientAmount, Detail: "short paid"},
	})
	sub := seedPending(t, db)

	if err := worker.RunOnce(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var fresh models.Subscription
	if err := db.First(&fresh, "id = ?", sub.ID).Error; err != nil {
		t.Fatal(err)
	}
	if fresh.Status != models.SubscriptionRejected {
		t.Errorf("status = %s, want REJECTED", fresh.Status)
	}
}

func TestRunOnceLeavesRetryableUntouched(t *testing.T) {
	worker, db := newWorkerFixture(t, &stubVerifier{
		err: &services.VerifyError{Tag: services.VerifyNotFound, Detail: "still indexing"},
	})
	sub := seedPending(t, db)

	if err := worker.RunOnce(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var fresh models.Subscription
	if err := db.First(&fresh, "id = ?", sub.ID).Error; err != nil {
		t.Fatal(err)
	}
	if fresh.Status != models.SubscriptionPendingVerification {
		t.Errorf("status = %s, want PENDING_VERIFICATION (left for the next sweep)", fresh.Status)
	}
}
