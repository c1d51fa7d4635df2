// services/admin_service.go
package services

import (
	"errors"
	"log"

	"invest-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdminService exposes the override surface. Every override goes
// through the same services as the user-initiated paths, so the
// invariants hold no matter who triggered the change.
type AdminService struct {
	DB         *gorm.DB
	Ledger     *LedgerService
	Activation *ActivationService
	Rank       *RankService
	Signal     *SignalService
}

func NewAdminService(db *gorm.DB, ledger *LedgerService, activation *ActivationService, rank *RankService, signal *SignalService) *AdminService {
	return &AdminService{DB: db, Ledger: ledger, Activation: activation, Rank: rank, Signal: signal}
}

// PublishSignal handles POST /admin/signals.
func (s *AdminService) PublishSignal(c *fiber.Ctx) error {
	var req struct {
		Pair       string                 `json:"pair"`
		Direction  models.SignalDirection `json:"direction"`
		EntryPrice float64                `json:"entry_price"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Pair == "" || (req.Direction != models.SignalLong && req.Direction != models.SignalShort) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "pair and direction (LONG|SHORT) are required"})
	}

	sig, err := s.Signal.Publish(req.Pair, req.Direction, req.EntryPrice)
	if err != nil {
		if errors.Is(err, ErrSignalExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		log.Printf("❌ [ADMIN] publish signal: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to publish signal"})
	}
	return c.Status(fiber.StatusCreated).JSON(sig)
}

// CloseSignal handles POST /admin/signals/:id/close.
func (s *AdminService) CloseSignal(c *fiber.Ctx) error {
	if err := s.Signal.Close(c.Params("id")); err != nil {
		if errors.Is(err, ErrNoActiveSignal) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Signal is not active"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to close signal"})
	}
	return c.JSON(fiber.Map{"status": "closed"})
}

// ForceActivate handles POST /admin/activations — direct activation or
// upgrade of any user into any tier, no payment proof.
func (s *AdminService) ForceActivate(c *fiber.Ctx) error {
	var req struct {
		UserID    string `json:"user_id"`
		TierID    string `json:"tier_id"`
		IsUpgrade bool   `json:"is_upgrade"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.UserID == "" || req.TierID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and tier_id are required"})
	}

	sub, err := s.Activation.ForceActivate(req.UserID, req.TierID, req.IsUpgrade)
	if err != nil {
		switch {
		case errors.Is(err, ErrTierUnavailable):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, ErrTierNotHigher), errors.Is(err, ErrNoActiveTier), errors.Is(err, ErrAlreadyHasActive):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			log.Printf("❌ [ADMIN] force activation: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Activation failed"})
		}
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// SetRank handles PUT /admin/users/:id/rank — manual override, any
// configured level including 0.
func (s *AdminService) SetRank(c *fiber.Ctx) error {
	var req struct {
		Rank int `json:"rank"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := s.Rank.SetRank(c.Params("id"), req.Rank); err != nil {
		if errors.Is(err, ErrRankOutOfRange) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to set rank"})
	}
	return c.JSON(fiber.Map{"user_id": c.Params("id"), "rank": req.Rank})
}

// ResolveOrder handles POST /admin/orders/:id/resolve — forced
// settlement of a specific order. A zero-row no-op (someone already
// settled it) reports success.
func (s *AdminService) ResolveOrder(c *fiber.Ctx) error {
	if err := s.Signal.Resolve(c.Params("id")); err != nil {
		if errors.Is(err, ErrNotSignalOrder) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Order not found"})
		}
		log.Printf("❌ [ADMIN] resolve order %s: %v", c.Params("id"), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to resolve order"})
	}
	return c.JSON(fiber.Map{"status": "resolved"})
}

// AdjustLedger handles POST /admin/ledger — a manual signed adjustment,
// recorded like any other entry.
func (s *AdminService) AdjustLedger(c *fiber.Ctx) error {
	var req struct {
		UserID      string  `json:"user_id"`
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.UserID == "" || req.Amount == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and a non-zero amount are required"})
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		return s.Ledger.CreditRounded(tx, req.UserID, models.LedgerManualAdjustment, req.Amount, req.Description)
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to record adjustment"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "recorded"})
}

// ListTiers handles GET /tiers (public) and GET /admin/tiers.
func (s *AdminService) ListTiers(c *fiber.Ctx) error {
	var tiers []models.Tier
	if err := s.DB.Where("enabled = ?", true).Order("level ASC").Find(&tiers).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(tiers)
}

// SeedTiers inserts the default package table if none exists yet.
func (s *AdminService) SeedTiers() error {
	var count int64
	if err := s.DB.Model(&models.Tier{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []models.Tier{
		{Level: 1, Name: "Starter", InvestmentAmount: 100, DailyYield: 0.5, ReferralBonus: true},
		{Level: 2, Name: "Basic", InvestmentAmount: 500, DailyYield: 0.7, ReferralBonus: true},
		{Level: 3, Name: "Advanced", InvestmentAmount: 1000, DailyYield: 0.9, ReferralBonus: true, ReturnBonus: true},
		{Level: 4, Name: "Pro", InvestmentAmount: 5000, DailyYield: 1.1, ReferralBonus: true, ReturnBonus: true},
		{Level: 5, Name: "Whale", InvestmentAmount: 10000, DailyYield: 1.3, ReferralBonus: true, ReturnBonus: true},
	}
	for i := range defaults {
		defaults[i].ID = uuid.NewString()
		defaults[i].Enabled = true
	}
	return s.DB.Create(&defaults).Error
}
