// services/commission_service.go
package services

import (
	"fmt"
	"log"

	"invest-settlement-system/models"
	"invest-settlement-system/utils"

	"gorm.io/gorm"
)

// levelRule is one row of the referral payout table.
type levelRule struct {
	DirectPercent float64
	PoolPercent   float64 // split evenly among the sponsor's direct referrals
}

// referralLevels: level 1 pays the immediate sponsor directly plus a
// pooled share split across all of that sponsor's direct referrals
// (the activator's siblings, activator included, any status). Levels
// past 3 receive nothing.
var referralLevels = []levelRule{
	{DirectPercent: 8.5, PoolPercent: 1.5},
	{DirectPercent: 3.0},
	{DirectPercent: 2.0},
}

// maxChainDepth caps every upward walk over the sponsor relation. The
// data model declares the tree acyclic, but a bad import or manual edit
// must not hang a settlement.
const maxChainDepth = 100

// CommissionService pays referral commissions into the ledger. It
// performs no state transitions of its own — all writes go through the
// caller's transaction so a failed payout aborts the whole activation.
type CommissionService struct {
	DB     *gorm.DB
	Ledger *LedgerService
}

func NewCommissionService(db *gorm.DB, ledger *LedgerService) *CommissionService {
	return &CommissionService{DB: db, Ledger: ledger}
}

// Distribute walks the activating user's sponsor chain and writes one
// ledger credit per payout. mult is +1 for a normal distribution and -1
// to append offsetting reversal entries for a previously paid one.
// A missing sponsor at any level simply ends the walk.
func (s *CommissionService) Distribute(tx *gorm.DB, userID string, amount float64, mult float64) error {
	var current models.User
	if err := tx.First(&current, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("activating user %s not found: %w", userID, err)
	}

	childID := current.ID
	sponsorID := current.SponsorID

	for level := 0; level < len(referralLevels) && level < maxChainDepth; level++ {
		if sponsorID == nil {
			return nil
		}
		var sponsor models.User
		if err := tx.First(&sponsor, "id = ?", *sponsorID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				log.Printf("⚠️ [COMMISSION] dangling sponsor %s above user %s", *sponsorID, childID)
				return nil
			}
			return err
		}

		rule := referralLevels[level]

		direct := utils.Round2(amount * rule.DirectPercent / 100 * mult)
		desc := fmt.Sprintf("Level %d referral bonus (%.1f%%) from downline activation", level+1, rule.DirectPercent)
		if mult < 0 {
			desc = fmt.Sprintf("Reversal of level %d referral bonus (%.1f%%)", level+1, rule.DirectPercent)
		}
		if err := s.Ledger.Credit(tx, sponsor.ID, models.LedgerReferralBonus, direct, desc); err != nil {
			return err
		}

		if rule.PoolPercent > 0 {
			if err := s.distributePool(tx, sponsor.ID, amount, rule.PoolPercent, mult); err != nil {
				return err
			}
		}

		childID = sponsor.ID
		sponsorID = sponsor.SponsorID
	}
	return nil
}

// distributePool splits poolPercent of the amount evenly among every
// direct referral of the sponsor, regardless of their own subscription
// status. The activating user is one of them and takes a share too.
func (s *CommissionService) distributePool(tx *gorm.DB, sponsorID string, amount, poolPercent, mult float64) error {
	var siblings []models.User
	if err := tx.Where("sponsor_id = ?", sponsorID).Find(&siblings).Error; err != nil {
		return err
	}
	if len(siblings) == 0 {
		return nil
	}

	share := utils.Round2(amount * poolPercent / 100 / float64(len(siblings)) * mult)
	desc := fmt.Sprintf("Shared referral pool (%.1f%% / %d referrals)", poolPercent, len(siblings))
	if mult < 0 {
		desc = fmt.Sprintf("Reversal of shared referral pool (%.1f%% / %d referrals)", poolPercent, len(siblings))
	}
	for _, sib := range siblings {
		if err := s.Ledger.Credit(tx, sib.ID, models.LedgerReferralBonus, share, desc); err != nil {
			return err
		}
	}
	return nil
}

// Reverse negates a previously distributed commission by appending
// offsetting entries. The original entries stay put.
func (s *CommissionService) Reverse(tx *gorm.DB, userID string, amount float64) error {
	return s.Distribute(tx, userID, amount, -1)
}
