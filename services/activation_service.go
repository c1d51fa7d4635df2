// services/activation_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"invest-settlement-system/models"
	"invest-settlement-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// returnBonusPercent is the flat payout to the activator for tiers in
// the return-bonus program.
const returnBonusPercent = 8.5

var txProofPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

var (
	ErrDuplicateProof   = errors.New("payment proof already submitted")
	ErrTierUnavailable  = errors.New("tier not found or disabled")
	ErrTierNotHigher    = errors.New("upgrade target must be a strictly higher tier")
	ErrNoActiveTier     = errors.New("no active subscription to upgrade from")
	ErrBadProofFormat   = errors.New("payment proof does not look like a transaction hash")
	ErrWrongState       = errors.New("subscription is not in an activatable state")
	ErrAlreadyHasActive = errors.New("user already has an active subscription")
)

// ActivationService is the package activation state machine. Every
// multi-step effect of an activation — cancelling a superseded
// subscription, the status flip, the bonus reset, the investment
// credit, commission distribution — happens inside one transaction.
type ActivationService struct {
	DB         *gorm.DB
	Ledger     *LedgerService
	Commission *CommissionService
	Rank       *RankService
	Verifier   PaymentVerifier

	RequiredConfirmations int
}

func NewActivationService(db *gorm.DB, ledger *LedgerService, commission *CommissionService, rank *RankService, verifier PaymentVerifier, requiredConfirmations int) *ActivationService {
	return &ActivationService{
		DB:                    db,
		Ledger:                ledger,
		Commission:            commission,
		Rank:                  rank,
		Verifier:              verifier,
		RequiredConfirmations: requiredConfirmations,
	}
}

// --- Fiber surface ---

// SubmitDeposit handles POST /deposits: a fresh package purchase backed
// by an on-chain payment proof.
func (s *ActivationService) SubmitDeposit(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		TierID  string `json:"tier_id"`
		TxProof string `json:"payment_proof"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	sub, err := s.CreateDeposit(userID, req.TierID, req.TxProof, false)
	if err != nil {
		return depositError(c, err)
	}

	if err := s.VerifyAndSettle(sub); err != nil {
		log.Printf("⚠️ [DEPOSIT] immediate verification inconclusive for %s: %v", sub.ID, err)
	}

	// Re-read: verification may have activated or rejected it already.
	var fresh models.Subscription
	if err := s.DB.Preload("Tier").First(&fresh, "id = ?", sub.ID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.Status(fiber.StatusCreated).JSON(fresh)
}

// SubmitUpgrade handles POST /deposits/upgrade: replace the current
// ACTIVE subscription with a strictly higher tier, paying the delta.
func (s *ActivationService) SubmitUpgrade(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		TierID  string `json:"tier_id"`
		TxProof string `json:"payment_proof"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	sub, err := s.CreateDeposit(userID, req.TierID, req.TxProof, true)
	if err != nil {
		return depositError(c, err)
	}

	if err := s.VerifyAndSettle(sub); err != nil {
		log.Printf("⚠️ [UPGRADE] immediate verification inconclusive for %s: %v", sub.ID, err)
	}

	var fresh models.Subscription
	if err := s.DB.Preload("Tier").First(&fresh, "id = ?", sub.ID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.Status(fiber.StatusCreated).JSON(fresh)
}

// GetDeposit handles GET /deposits/:id.
func (s *ActivationService) GetDeposit(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	id := c.Params("id")

	var sub models.Subscription
	if err := s.DB.Preload("Tier").First(&sub, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Deposit not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(sub)
}

func depositError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrBadProofFormat):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrTierUnavailable):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrDuplicateProof),
		errors.Is(err, ErrTierNotHigher),
		errors.Is(err, ErrNoActiveTier),
		errors.Is(err, ErrAlreadyHasActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Printf("❌ [DEPOSIT] %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create deposit"})
	}
}

// --- Core state machine ---

// CreateDeposit validates a deposit submission and records a
// PENDING_VERIFICATION subscription. All checks run before any write.
func (s *ActivationService) CreateDeposit(userID, tierID, txProof string, isUpgrade bool) (*models.Subscription, error) {
	if !txProofPattern.MatchString(txProof) {
		return nil, ErrBadProofFormat
	}

	var tier models.Tier
	if err := s.DB.First(&tier, "id = ? AND enabled = ?", tierID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTierUnavailable
		}
		return nil, err
	}

	// Duplicate-submission protection: the proof must not exist on any
	// subscription, whatever became of it.
	var count int64
	if err := s.DB.Model(&models.Subscription{}).Where("tx_proof = ?", txProof).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrDuplicateProof
	}

	amount := tier.InvestmentAmount
	var upgradedFromID *string

	current, err := s.activeSubscription(userID)
	if err != nil {
		return nil, err
	}

	if isUpgrade {
		if current == nil {
			return nil, ErrNoActiveTier
		}
		if tier.Level <= current.Tier.Level {
			return nil, ErrTierNotHigher
		}
		amount = utils.Round2(tier.InvestmentAmount - current.Tier.InvestmentAmount)
		upgradedFromID = &current.ID
	} else if current != nil {
		return nil, ErrAlreadyHasActive
	}

	sub := &models.Subscription{
		ID:             uuid.NewString(),
		UserID:         userID,
		TierID:         tier.ID,
		AmountPaid:     amount,
		Status:         models.SubscriptionPendingVerification,
		IsUpgrade:      isUpgrade,
		UpgradedFromID: upgradedFromID,
		TxProof:        &txProof,
	}
	if err := s.DB.Create(sub).Error; err != nil {
		return nil, err
	}
	sub.Tier = tier
	return sub, nil
}

// VerifyAndSettle consults the payment verifier for a pending
// subscription and applies the verdict: activate on success, reject on
// a terminal failure, record progress and wait otherwise.
func (s *ActivationService) VerifyAndSettle(sub *models.Subscription) error {
	if sub.TxProof == nil {
		return fmt.Errorf("subscription %s has no payment proof", sub.ID)
	}

	result, err := s.Verifier.Verify(*sub.TxProof, sub.AmountPaid, s.RequiredConfirmations)
	if err != nil {
		var verr *VerifyError
		if errors.As(err, &verr) {
			if verr.Retryable() {
				// Still pending — leave the subscription for the sweep.
				return err
			}
			log.Printf("🚫 [VERIFY] %s rejected: %v", sub.ID, verr)
			return s.reject(sub.ID)
		}
		return err
	}

	if err := s.DB.Model(&models.Subscription{}).Where("id = ?", sub.ID).
		Update("confirmations", result.Confirmations).Error; err != nil {
		return err
	}
	if err := s.Activate(sub.ID, sub.IsUpgrade, false); err != nil {
		if errors.Is(err, ErrAlreadyHasActive) {
			// Payment checks out but a sibling deposit took the slot
			// first. The slot will not free itself, so this is terminal.
			log.Printf("🚫 [VERIFY] %s rejected: %v", sub.ID, err)
			return s.reject(sub.ID)
		}
		return err
	}
	return nil
}

// reject is a status-guarded transition to REJECTED; an already
// activated or rejected subscription is left alone.
func (s *ActivationService) reject(subID string) error {
	return s.DB.Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", subID,
			[]models.SubscriptionStatus{models.SubscriptionPending, models.SubscriptionPendingVerification}).
		Update("status", models.SubscriptionRejected).Error
}

// Activate applies the full activation as one atomic unit:
//
//  1. on upgrade, cancel the superseded ACTIVE subscription; on a
//     fresh activation, require the user's ACTIVE slot to still be
//     free (a sibling deposit may have won it since submission)
//  2. status-guarded flip to ACTIVE (zero rows on an already-ACTIVE
//     subscription makes re-activation an idempotent no-op)
//  3. for a fresh activation into a tier outside the return-bonus
//     program, reset previously accrued referral/return bonuses
//  4. credit the investment (full price, or the delta on upgrade)
//  5. fresh activations only: referral distribution and/or the flat
//     return bonus, per the tier's program flags
//
// force widens the entry guard to any non-ACTIVE state (admin path).
func (s *ActivationService) Activate(subID string, isUpgrade bool, force bool) error {
	var activated bool
	var activatedUserID string

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := tx.Preload("Tier").First(&sub, "id = ?", subID).Error; err != nil {
			return err
		}

		if sub.Status == models.SubscriptionActive {
			return nil // re-activation is a reported success without side effects
		}

		allowed := []models.SubscriptionStatus{models.SubscriptionPending, models.SubscriptionPendingVerification}
		if force {
			allowed = []models.SubscriptionStatus{
				models.SubscriptionPending, models.SubscriptionPendingVerification,
				models.SubscriptionRejected, models.SubscriptionCancelled,
			}
		}

		runningCapital := sub.Tier.InvestmentAmount

		if isUpgrade {
			var prior models.Subscription
			err := tx.First(&prior, "user_id = ? AND status = ?", sub.UserID, models.SubscriptionActive).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNoActiveTier
				}
				return err
			}
			// Superseding and activating are the same atomic step.
			if err := tx.Model(&models.Subscription{}).
				Where("id = ? AND status = ?", prior.ID, models.SubscriptionActive).
				Update("status", models.SubscriptionCancelled).Error; err != nil {
				return err
			}
			runningCapital = utils.Round2(prior.RunningCapital + sub.AmountPaid)
		} else {
			// The submission-time check cannot see a sibling deposit that
			// was still unverified then. The slot must be free here, inside
			// the same transaction that fills it.
			var occupied int64
			if err := tx.Model(&models.Subscription{}).
				Where("user_id = ? AND status = ? AND id <> ?", sub.UserID, models.SubscriptionActive, sub.ID).
				Count(&occupied).Error; err != nil {
				return err
			}
			if occupied > 0 {
				return ErrAlreadyHasActive
			}
		}

		now := time.Now()
		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND status IN ?", sub.ID, allowed).
			Updates(map[string]any{
				"status":          models.SubscriptionActive,
				"activated_at":    now,
				"running_capital": runningCapital,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent actor transitioned it first. If it landed on
			// ACTIVE this is the idempotent path; anything else is a
			// real state conflict.
			var recheck models.Subscription
			if err := tx.First(&recheck, "id = ?", sub.ID).Error; err != nil {
				return err
			}
			if recheck.Status == models.SubscriptionActive {
				return nil
			}
			return ErrWrongState
		}

		if !isUpgrade && !sub.Tier.ReturnBonus {
			if err := s.Ledger.ResetBonuses(tx, sub.UserID); err != nil {
				return err
			}
		}

		desc := fmt.Sprintf("Investment in %s package", sub.Tier.Name)
		if isUpgrade {
			desc = fmt.Sprintf("Upgrade to %s package (price difference)", sub.Tier.Name)
		}
		if err := s.Ledger.CreditRounded(tx, sub.UserID, models.LedgerInvestmentCredit, sub.AmountPaid, desc); err != nil {
			return err
		}

		if !isUpgrade {
			if sub.Tier.ReferralBonus {
				if err := s.Commission.Distribute(tx, sub.UserID, sub.Tier.InvestmentAmount, 1); err != nil {
					return err
				}
			}
			if sub.Tier.ReturnBonus {
				bonus := sub.Tier.InvestmentAmount * returnBonusPercent / 100
				if err := s.Ledger.CreditRounded(tx, sub.UserID, models.LedgerReturnBonus, bonus,
					fmt.Sprintf("Return bonus (%.1f%%) on %s package", returnBonusPercent, sub.Tier.Name)); err != nil {
					return err
				}
			}
		}

		activated = true
		activatedUserID = sub.UserID
		return nil
	})
	if err != nil {
		return err
	}

	if activated {
		// Ancestors may have become rank-eligible through this
		// activation. Recalculation never lowers anyone.
		if err := s.Rank.RecalculateChain(activatedUserID); err != nil {
			log.Printf("⚠️ [RANK] recalculation after activation of %s: %v", subID, err)
		}
	}
	return nil
}

// ForceActivate is the admin override: put a user into a tier with no
// payment proof, through the same state machine.
func (s *ActivationService) ForceActivate(userID, tierID string, isUpgrade bool) (*models.Subscription, error) {
	var tier models.Tier
	if err := s.DB.First(&tier, "id = ?", tierID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTierUnavailable
		}
		return nil, err
	}

	amount := tier.InvestmentAmount
	var upgradedFromID *string

	current, err := s.activeSubscription(userID)
	if err != nil {
		return nil, err
	}
	if isUpgrade {
		if current == nil {
			return nil, ErrNoActiveTier
		}
		if tier.Level <= current.Tier.Level {
			return nil, ErrTierNotHigher
		}
		amount = utils.Round2(tier.InvestmentAmount - current.Tier.InvestmentAmount)
		upgradedFromID = &current.ID
	} else if current != nil {
		return nil, ErrAlreadyHasActive
	}

	sub := &models.Subscription{
		ID:             uuid.NewString(),
		UserID:         userID,
		TierID:         tier.ID,
		AmountPaid:     amount,
		Status:         models.SubscriptionPending,
		IsUpgrade:      isUpgrade,
		UpgradedFromID: upgradedFromID,
	}
	if err := s.DB.Create(sub).Error; err != nil {
		return nil, err
	}
	if err := s.Activate(sub.ID, isUpgrade, true); err != nil {
		return nil, err
	}

	var fresh models.Subscription
	if err := s.DB.Preload("Tier").First(&fresh, "id = ?", sub.ID).Error; err != nil {
		return nil, err
	}
	return &fresh, nil
}

func (s *ActivationService) activeSubscription(userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.DB.Preload("Tier").First(&sub, "user_id = ? AND status = ?", userID, models.SubscriptionActive).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}
