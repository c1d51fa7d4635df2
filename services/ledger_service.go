// services/ledger_service.go
package services

import (
	"time"

	"invest-settlement-system/models"
	"invest-settlement-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerService owns the append-only ledger. Balance is always derived
// from the entry log; nothing here stores a running total.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// Credit appends one signed entry inside the caller's transaction.
// Amount is written as given (already rounded by the caller's payout
// math); negative amounts are debits and the store does not check
// available balance — callers must.
func (s *LedgerService) Credit(tx *gorm.DB, userID string, kind models.LedgerKind, amount float64, description string) error {
	entry := &models.LedgerEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now(),
	}
	return tx.Create(entry).Error
}

// CreditRounded applies the engine-wide rounding policy before writing.
func (s *LedgerService) CreditRounded(tx *gorm.DB, userID string, kind models.LedgerKind, amount float64, description string) error {
	return s.Credit(tx, userID, kind, utils.Round2(amount), description)
}

// Balance returns the sum of all entries for a user as a single
// aggregate query.
func (s *LedgerService) Balance(userID string) (float64, error) {
	return s.balanceIn(s.DB, userID)
}

// BalanceTx is Balance against an open transaction, for callers that
// need to check funds before a debit they are about to write.
func (s *LedgerService) BalanceTx(tx *gorm.DB, userID string) (float64, error) {
	return s.balanceIn(tx, userID)
}

func (s *LedgerService) balanceIn(db *gorm.DB, userID string) (float64, error) {
	var total float64
	err := db.Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// BalanceByKind breaks the balance down per entry kind, for statements
// and reconciliation by level.
func (s *LedgerService) BalanceByKind(userID string) (map[models.LedgerKind]float64, error) {
	var rows []struct {
		Kind  models.LedgerKind
		Total float64
	}
	err := s.DB.Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("kind, COALESCE(SUM(amount), 0) AS total").
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.LedgerKind]float64, len(rows))
	for _, r := range rows {
		out[r.Kind] = r.Total
	}
	return out, nil
}

// Entries returns a user's ledger page, newest first.
func (s *LedgerService) Entries(userID string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := s.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error
	return entries, err
}

// ResetBonuses zeroes a user's accumulated REFERRAL_BONUS and
// RETURN_BONUS by appending one offsetting entry per kind, keeping the
// original entries in the audit trail. The only legitimate caller is
// the activation path, for a fresh (non-upgrade) activation into a tier
// outside the return-bonus program, and it must run before that
// activation's own payouts are written so the reset can never touch
// them.
func (s *LedgerService) ResetBonuses(tx *gorm.DB, userID string) error {
	for _, kind := range []models.LedgerKind{models.LedgerReferralBonus, models.LedgerReturnBonus} {
		var total float64
		err := tx.Model(&models.LedgerEntry{}).
			Where("user_id = ? AND kind = ?", userID, kind).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&total).Error
		if err != nil {
			return err
		}
		if total == 0 {
			continue
		}
		if err := s.Credit(tx, userID, kind, -total, "bonus reset on entry-tier activation"); err != nil {
			return err
		}
	}
	return nil
}
