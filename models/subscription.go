package models

import "time"

// SubscriptionStatus is the lifecycle state of a package purchase.
type SubscriptionStatus string

const (
	SubscriptionPending             SubscriptionStatus = "PENDING"
	SubscriptionPendingVerification SubscriptionStatus = "PENDING_VERIFICATION"
	SubscriptionActive              SubscriptionStatus = "ACTIVE"
	SubscriptionRejected            SubscriptionStatus = "REJECTED"
	SubscriptionCancelled           SubscriptionStatus = "CANCELLED"
)

// Subscription is a user's purchase of a Tier.
// At most one ACTIVE subscription per user; an upgrade cancels the
// prior ACTIVE one in the same transaction that activates the new one.
type Subscription struct {
	ID         string             `gorm:"primaryKey;type:uuid" json:"id"`
	UserID     string             `gorm:"index;not null" json:"user_id"`
	TierID     string             `gorm:"index;not null" json:"tier_id"`
	AmountPaid float64            `gorm:"not null" json:"amount_paid"` // full price, or price delta on upgrade
	Status     SubscriptionStatus `gorm:"type:varchar(32);index;default:'PENDING'" json:"status"`

	ActivatedAt *time.Time `json:"activated_at,omitempty"`

	// Upgrade bookkeeping
	IsUpgrade      bool    `gorm:"default:false" json:"is_upgrade"`
	UpgradedFromID *string `json:"upgraded_from_id,omitempty"` // subscription superseded by this one

	// On-chain payment proof. Globally unique — duplicate submissions
	// are rejected regardless of the first attempt's outcome.
	TxProof       *string `gorm:"uniqueIndex" json:"tx_proof,omitempty"` // nil for admin-forced activations
	Confirmations int     `gorm:"default:0" json:"confirmations"`

	// RunningCapital is the compounding base used by signal joins.
	RunningCapital float64 `gorm:"default:0" json:"running_capital"`

	Timestamps

	Tier Tier `json:"tier,omitempty" gorm:"foreignKey:TierID"`
}
