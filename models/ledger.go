package models

import "time"

// LedgerKind tags a ledger entry with the business event that produced it.
type LedgerKind string

const (
	LedgerInvestmentCredit LedgerKind = "INVESTMENT_CREDIT"
	LedgerReferralBonus    LedgerKind = "REFERRAL_BONUS"
	LedgerReturnBonus      LedgerKind = "RETURN_BONUS"
	LedgerSignalProfit     LedgerKind = "SIGNAL_PROFIT"
	LedgerGlobalBonus      LedgerKind = "GLOBAL_BONUS"
	LedgerWithdrawRequest  LedgerKind = "WITHDRAW_REQUEST"
	LedgerFuturesEntry     LedgerKind = "FUTURES_ENTRY"
	LedgerFuturesPayout    LedgerKind = "FUTURES_PAYOUT"
	LedgerManualAdjustment LedgerKind = "MANUAL_ADJUSTMENT"
)

// LedgerEntry is one immutable signed monetary movement. A user's
// balance is always the sum of their entries — never stored. Entries
// are never updated; corrections are written as new offsetting entries.
type LedgerEntry struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string     `gorm:"index;not null" json:"user_id"`
	Kind        LedgerKind `gorm:"type:varchar(32);index;not null" json:"kind"`
	Amount      float64    `gorm:"not null" json:"amount"` // signed; negative = debit
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
}
