package services

import (
	"fmt"
	"testing"

	"invest-settlement-system/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
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
		&models.User{},
		&models.Tier{},
		&models.Subscription{},
		&models.LedgerEntry{},
		&models.Rank{},
		&models.Signal{},
		&models.SignalParticipation{},
		&models.TimedOrder{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func createUser(t *testing.T, db *gorm.DB, sponsorID *string, rank int) *models.User {
	t.Helper()

	u := &models.User{
		ID:          uuid.NewString(),
		Email:       uuid.NewString() + "@example.com",
		SponsorID:   sponsorID,
		CurrentRank: rank,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createTier(t *testing.T, db *gorm.DB, level int, amount float64, referralBonus, returnBonus bool) *models.Tier {
	t.Helper()

	tier := &models.Tier{
		ID:               uuid.NewString(),
		Level:            level,
		Name:             fmt.Sprintf("Tier %d", level),
		InvestmentAmount: amount,
		ReferralBonus:    referralBonus,
		ReturnBonus:      returnBonus,
		Enabled:          true,
	}
	if err := db.Create(tier).Error; err != nil {
		t.Fatalf("create tier: %v", err)
	}
	return tier
}

func createActiveSub(t *testing.T, db *gorm.DB, userID string, tier *models.Tier, runningCapital float64) *models.Subscription {
	t.Helper()

	sub := &models.Subscription{
		ID:             uuid.NewString(),
		UserID:         userID,
		TierID:         tier.ID,
		AmountPaid:     tier.InvestmentAmount,
		Status:         models.SubscriptionActive,
		RunningCapital: runningCapital,
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	sub.Tier = *tier
	return sub
}

func userBalance(t *testing.T, ledger *LedgerService, userID string) float64 {
	t.Helper()

	balance, err := ledger.Balance(userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func countEntries(t *testing.T, db *gorm.DB, userID string, kind models.LedgerKind) int64 {
	t.Helper()

	var n int64
	err := db.Model(&models.LedgerEntry{}).
		Where("user_id = ? AND kind = ?", userID, kind).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return n
}

// fakeVerifier satisfies PaymentVerifier for state-machine tests.
type fakeVerifier struct {
	result *VerifyResult
	err    error
}

func (f *fakeVerifier) Verify(txHash string, expectedAmount float64, requiredConfirmations int) (*VerifyResult, error) {
	return f.result, f.err
}
