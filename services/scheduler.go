// services/scheduler.go
package services

import (
	"log"
	"time"

	"invest-settlement-system/models"

	"github.com/go-co-op/gocron/v2"
)

// StartSettlementScheduler runs the periodic sweeps: resolving expired
// signal positions and closing signals past their horizon. Racing with
// user-triggered settlement is safe — resolution is guarded by the
// conditional status flip.
func (s *SignalService) StartSettlementScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every 30s: settle signal-linked orders past their horizon.
	_, _ = sched.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			settled, err := s.SweepExpired()
			if err != nil {
				log.Printf("[Scheduler] order sweep error: %v", err)
				return
			}
			if settled > 0 {
				log.Printf("✅ [Scheduler] settled %d expired signal orders", settled)
			}
		}),
	)

	// Every minute: close signals whose horizon has fully passed.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			cutoff := time.Now().Add(-signalHorizon)
			var signals []models.Signal
			err := s.DB.Where("status = ? AND created_at <= ?", models.SignalActive, cutoff).
				Find(&signals).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			for _, sig := range signals {
				if err := s.Close(sig.ID); err != nil {
					log.Printf("[Scheduler] Failed to close signal %s: %v", sig.ID, err)
				} else {
					log.Printf("✅ Auto-closed signal: %s", sig.Code)
				}
			}
		}),
	)
}
