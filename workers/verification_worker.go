package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"invest-settlement-system/models"
	"invest-settlement-system/services"

	"gorm.io/gorm"
)

// VerificationWorker re-attempts payment verification for subscriptions
// stuck in PENDING_VERIFICATION: deposits whose transaction had not yet
// been indexed or lacked confirmations when submitted.
type VerificationWorker struct {
	DB         *gorm.DB
	Activation *services.ActivationService
	BatchSize  int
}

func NewVerificationWorker(db *gorm.DB, activation *services.ActivationService) *VerificationWorker {
	return &VerificationWorker{
		DB:         db,
		Activation: activation,
		BatchSize:  50,
	}
}

// PollPendingDeposits runs the re-verification sweep on a ticker,
// oldest submissions first, until the context is cancelled.
func PollPendingDeposits(ctx context.Context, worker *VerificationWorker, pollInterval time.Duration) {
	log.Println("Starting deposit re-verification polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Deposit re-verification polling stopped.")
			return
		case <-ticker.C:
			if err := worker.RunOnce(); err != nil {
				log.Printf("❌ Error re-verifying deposits: %v", err)
			}
		}
	}
}

// RunOnce processes one batch of pending subscriptions. Successful
// verification settles through the activation state machine; terminal
// verdicts reject; retryable verdicts leave the subscription untouched
// for the next sweep.
func (w *VerificationWorker) RunOnce() error {
	var pending []models.Subscription
	err := w.DB.Where("status = ? AND tx_proof IS NOT NULL", models.SubscriptionPendingVerification).
		Order("created_at ASC").
		Limit(w.BatchSize).
		Find(&pending).Error
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	log.Printf("📥 Re-verifying %d pending deposit(s)...", len(pending))
	for i := range pending {
		sub := pending[i]
		if err := w.Activation.VerifyAndSettle(&sub); err != nil {
			var verr *services.VerifyError
			if errors.As(err, &verr) && verr.Retryable() {
				continue // still waiting on the chain
			}
			log.Printf("⚠️ Re-verification of %s failed: %v", sub.ID, err)
		}
	}
	return nil
}
