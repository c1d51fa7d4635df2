// services/signal_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"invest-settlement-system/models"
	"invest-settlement-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

const (
	signalJoinWindow = 5 * time.Minute
	signalHorizon    = 15 * time.Minute

	signalGainPercent = 1.0 // of the participant's running capital
	participantShare  = 0.40
	pooledShare       = 0.60
)

var (
	ErrSignalExists     = errors.New("an active signal already exists")
	ErrNoActiveSignal   = errors.New("no active signal")
	ErrJoinWindowClosed = errors.New("join window for this signal has closed")
	ErrAlreadyJoined    = errors.New("already joined this signal")
	ErrNeedActiveTier   = errors.New("an active subscription is required to join signals")
	ErrNotSignalOrder   = errors.New("order is not linked to a signal")
)

// SignalService runs the timed-event settlement: joining compounds the
// participant's capital immediately, all ledger credits are deferred to
// resolution, and racing resolution attempts are serialized by a
// conditional status flip on the paired order.
type SignalService struct {
	DB     *gorm.DB
	Ledger *LedgerService
	Rank   *RankService
}

func NewSignalService(db *gorm.DB, ledger *LedgerService, rank *RankService) *SignalService {
	return &SignalService{DB: db, Ledger: ledger, Rank: rank}
}

// --- Fiber surface ---

// GetActiveSignal handles GET /signals/active.
func (s *SignalService) GetActiveSignal(c *fiber.Ctx) error {
	var sig models.Signal
	if err := s.DB.First(&sig, "status = ?", models.SignalActive).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No active signal"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(sig)
}

// JoinSignal handles POST /signals/:id/join.
func (s *SignalService) JoinSignal(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	signalID := c.Params("id")

	part, err := s.Join(signalID, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoActiveSignal):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, ErrJoinWindowClosed), errors.Is(err, ErrAlreadyJoined), errors.Is(err, ErrNeedActiveTier):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			log.Printf("❌ [SIGNAL] join failed for %s: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to join signal"})
		}
	}
	return c.Status(fiber.StatusCreated).JSON(part)
}

// CloseOrder handles POST /orders/:id/close — the participant's own
// client asking for settlement. Past the horizon it resolves in full;
// before it, the payout is time-prorated and the pooled share is
// forfeited.
func (s *SignalService) CloseOrder(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	orderID := c.Params("id")

	var order models.TimedOrder
	if err := s.DB.First(&order, "id = ? AND user_id = ?", orderID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Order not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var err error
	if time.Now().Before(order.AutoCloseAt) {
		err = s.CloseEarly(orderID)
	} else {
		err = s.Resolve(orderID)
	}
	if err != nil {
		if errors.Is(err, ErrNotSignalOrder) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		log.Printf("❌ [SIGNAL] close failed for order %s: %v", orderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to close order"})
	}

	var fresh models.TimedOrder
	if err := s.DB.First(&fresh, "id = ?", orderID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(fresh)
}

// --- Core engine ---

// Publish creates a new signal. At most one ACTIVE signal exists
// system-wide; publishing while one is open is a conflict.
func (s *SignalService) Publish(pair string, direction models.SignalDirection, entryPrice float64) (*models.Signal, error) {
	var sig *models.Signal
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Signal{}).Where("status = ?", models.SignalActive).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrSignalExists
		}

		now := time.Now()
		sig = &models.Signal{
			ID:         uuid.NewString(),
			Code:       slug.Make(fmt.Sprintf("%s %s %s", pair, direction, now.Format("Jan-2 15:04:05"))),
			Pair:       pair,
			Direction:  direction,
			Status:     models.SignalActive,
			EntryPrice: entryPrice,
			CreatedAt:  now,
		}
		return tx.Create(sig).Error
	})
	if err != nil {
		return nil, err
	}
	log.Printf("📣 [SIGNAL] published %s (%s %s)", sig.Code, sig.Pair, sig.Direction)
	return sig, nil
}

// Join records a user's single participation in a signal and compounds
// their running capital immediately. The ledger credit is deferred to
// resolution; joining writes no monetary entries.
func (s *SignalService) Join(signalID, userID string) (*models.SignalParticipation, error) {
	var part *models.SignalParticipation

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var sig models.Signal
		if err := tx.First(&sig, "id = ? AND status = ?", signalID, models.SignalActive).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoActiveSignal
			}
			return err
		}
		if time.Since(sig.CreatedAt) > signalJoinWindow {
			return ErrJoinWindowClosed
		}

		var sub models.Subscription
		if err := tx.First(&sub, "user_id = ? AND status = ?", userID, models.SubscriptionActive).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNeedActiveTier
			}
			return err
		}

		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			return err
		}

		capitalBefore := sub.RunningCapital
		gain := capitalBefore * signalGainPercent / 100
		capitalAdded := utils.Round2(gain * participantShare)
		pooled := utils.Round2(gain * pooledShare)

		// Compound now so the next signal builds on the new capital.
		if err := tx.Model(&models.Subscription{}).Where("id = ?", sub.ID).
			Update("running_capital", utils.Round2(capitalBefore+capitalAdded)).Error; err != nil {
			return err
		}

		order := &models.TimedOrder{
			ID:          uuid.NewString(),
			UserID:      userID,
			SignalID:    &sig.ID,
			Status:      models.OrderActive,
			Amount:      capitalBefore,
			AutoCloseAt: sig.CreatedAt.Add(signalHorizon),
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		part = &models.SignalParticipation{
			ID:             uuid.NewString(),
			SignalID:       sig.ID,
			UserID:         userID,
			SubscriptionID: sub.ID,
			OrderID:        order.ID,
			CapitalBefore:  capitalBefore,
			GainTotal:      utils.Round2(gain),
			CapitalAdded:   capitalAdded,
			PooledBonus:    pooled,
			UserRankAtTime: user.CurrentRank,
		}
		// The (signal_id, user_id) unique index is the once-per-signal
		// guard; a duplicate insert rolls the whole join back, including
		// the compounding above.
		if err := tx.Create(part).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyJoined
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return part, nil
}

// Resolve settles one signal-linked order in full. The conditional
// ACTIVE -> WIN flip is the concurrency guard: zero rows affected means
// a concurrent trigger already settled it and every dependent write is
// skipped — that outcome is a success, not an error.
func (s *SignalService) Resolve(orderID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var order models.TimedOrder
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			return err
		}
		if order.SignalID == nil {
			return ErrNotSignalOrder
		}

		var part models.SignalParticipation
		if err := tx.First(&part, "order_id = ?", orderID).Error; err != nil {
			return err
		}

		res := tx.Model(&models.TimedOrder{}).
			Where("id = ? AND status = ?", orderID, models.OrderActive).
			Updates(map[string]any{"status": models.OrderWin, "pnl": part.CapitalAdded})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // already settled by a concurrent trigger
		}

		if err := s.Ledger.Credit(tx, part.UserID, models.LedgerSignalProfit, part.CapitalAdded,
			fmt.Sprintf("Signal profit on %s", *order.SignalID)); err != nil {
			return err
		}

		return s.distributePooledBonus(tx, &part)
	})
}

// CloseEarly settles before the horizon: the participant receives a
// time-prorated fraction of their share and the pooled bonus is not
// distributed.
func (s *SignalService) CloseEarly(orderID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var order models.TimedOrder
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			return err
		}
		if order.SignalID == nil {
			return ErrNotSignalOrder
		}

		var part models.SignalParticipation
		if err := tx.First(&part, "order_id = ?", orderID).Error; err != nil {
			return err
		}

		opened := order.AutoCloseAt.Add(-signalHorizon)
		fraction := time.Since(opened).Seconds() / signalHorizon.Seconds()
		if fraction > 1 {
			fraction = 1
		}
		if fraction < 0 {
			fraction = 0
		}
		payout := utils.Round2(part.CapitalAdded * fraction)

		res := tx.Model(&models.TimedOrder{}).
			Where("id = ? AND status = ?", orderID, models.OrderActive).
			Updates(map[string]any{"status": models.OrderWin, "pnl": payout})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return s.Ledger.Credit(tx, part.UserID, models.LedgerSignalProfit, payout,
			fmt.Sprintf("Early close (%.0f%% of horizon) on %s", fraction*100, *order.SignalID))
	})
}

// distributePooledBonus walks the participant's sponsor chain upward
// and credits every ranked ancestor their configured share of the
// pooled bonus. Depth is capped like every chain walk.
func (s *SignalService) distributePooledBonus(tx *gorm.DB, part *models.SignalParticipation) error {
	var user models.User
	if err := tx.First(&user, "id = ?", part.UserID).Error; err != nil {
		return err
	}

	sponsorID := user.SponsorID
	for depth := 0; sponsorID != nil && depth < maxChainDepth; depth++ {
		var ancestor models.User
		if err := tx.First(&ancestor, "id = ?", *sponsorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		if ancestor.CurrentRank > 0 {
			pct, err := s.Rank.GlobalBonusPercent(tx, ancestor.CurrentRank)
			if err != nil {
				return err
			}
			if pct > 0 {
				bonus := utils.Round2(part.PooledBonus * pct / 100)
				desc := fmt.Sprintf("Global bonus (rank %d, %.1f%%) from downline signal", ancestor.CurrentRank, pct)
				if err := s.Ledger.Credit(tx, ancestor.ID, models.LedgerGlobalBonus, bonus, desc); err != nil {
					return err
				}
			}
		}
		sponsorID = ancestor.SponsorID
	}
	return nil
}

// Close marks a signal CLOSED. Open orders keep their AutoCloseAt and
// settle through the normal sweep.
func (s *SignalService) Close(signalID string) error {
	now := time.Now()
	res := s.DB.Model(&models.Signal{}).
		Where("id = ? AND status = ?", signalID, models.SignalActive).
		Updates(map[string]any{"status": models.SignalClosed, "closed_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoActiveSignal
	}
	return nil
}

// SweepExpired resolves every signal-linked order whose horizon has
// passed, system-wide. Called from the scheduler; each order settles in
// its own transaction so one failure does not block the rest.
func (s *SignalService) SweepExpired() (int, error) {
	var orders []models.TimedOrder
	err := s.DB.Where("status = ? AND signal_id IS NOT NULL AND auto_close_at <= ?",
		models.OrderActive, time.Now()).
		Order("auto_close_at ASC").
		Find(&orders).Error
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, order := range orders {
		if err := s.Resolve(order.ID); err != nil {
			log.Printf("⚠️ [SWEEP] failed to resolve order %s: %v", order.ID, err)
			continue
		}
		settled++
	}
	return settled, nil
}
