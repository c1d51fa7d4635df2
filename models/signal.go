package models

import "time"

// SignalStatus — at most one ACTIVE signal exists system-wide.
type SignalStatus string

const (
	SignalActive SignalStatus = "ACTIVE"
	SignalClosed SignalStatus = "CLOSED"
)

// SignalDirection is the published trade direction.
type SignalDirection string

const (
	SignalLong  SignalDirection = "LONG"
	SignalShort SignalDirection = "SHORT"
)

// Signal is a short-lived admin-published trading event. Users may join
// within JoinWindow of publication; positions auto-resolve at Horizon.
type Signal struct {
	ID        string          `gorm:"primaryKey;type:uuid" json:"id"`
	Code      string          `gorm:"uniqueIndex;not null" json:"code"`
	Pair      string          `gorm:"not null" json:"pair"` // e.g. BTC/USDT
	Direction SignalDirection `gorm:"type:varchar(8);not null" json:"direction"`
	Status    SignalStatus    `gorm:"type:varchar(16);index;default:'ACTIVE'" json:"status"`

	EntryPrice float64    `json:"entry_price"`
	CreatedAt  time.Time  `json:"created_at" gorm:"autoCreateTime"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// SignalParticipation is the immutable record of one user joining one
// signal. Unique per (signal, user); written once, never updated.
type SignalParticipation struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	SignalID       string `gorm:"not null;index;uniqueIndex:idx_signal_user" json:"signal_id"`
	UserID         string `gorm:"not null;index;uniqueIndex:idx_signal_user" json:"user_id"`
	SubscriptionID string `gorm:"not null" json:"subscription_id"`
	OrderID        string `gorm:"index;not null" json:"order_id"` // paired TimedOrder

	CapitalBefore  float64 `gorm:"not null" json:"capital_before"`
	GainTotal      float64 `gorm:"not null" json:"gain_total"`    // capital * 1%
	CapitalAdded   float64 `gorm:"not null" json:"capital_added"` // 40% of gain, compounds for the participant
	PooledBonus    float64 `gorm:"not null" json:"pooled_bonus"`  // 60% of gain, distributed to ranked ancestors
	UserRankAtTime int     `gorm:"default:0" json:"user_rank_at_time"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
