package models

import "time"

// OrderStatus — a TimedOrder flips ACTIVE -> WIN or LOSS exactly once.
// The flip is a conditional update and doubles as the concurrency guard
// for settlement.
type OrderStatus string

const (
	OrderActive OrderStatus = "ACTIVE"
	OrderWin    OrderStatus = "WIN"
	OrderLoss   OrderStatus = "LOSS"
)

// TimedOrder is a time-boxed position. Signal-linked orders drive
// settlement of their paired SignalParticipation when AutoCloseAt
// passes (or earlier, on manual close).
type TimedOrder struct {
	ID       string  `gorm:"primaryKey;type:uuid" json:"id"`
	UserID   string  `gorm:"index;not null" json:"user_id"`
	SignalID *string `gorm:"index" json:"signal_id,omitempty"` // nil = plain future

	Status OrderStatus `gorm:"type:varchar(16);index;default:'ACTIVE'" json:"status"`
	Amount float64     `gorm:"not null" json:"amount"`
	Pnl    float64     `gorm:"default:0" json:"pnl"`

	AutoCloseAt time.Time `gorm:"index;not null" json:"auto_close_at"`

	Timestamps
}
