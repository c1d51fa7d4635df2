package models

// Tier is an investment package definition. Rows are seeded
// configuration — the engine only reads them.
type Tier struct {
	ID               string  `gorm:"primaryKey;type:uuid" json:"id"`
	Level            int     `gorm:"uniqueIndex;not null" json:"level"` // ordering key for upgrades
	Name             string  `gorm:"not null" json:"name"`
	InvestmentAmount float64 `gorm:"not null" json:"investment_amount"`
	DailyYield       float64 `gorm:"default:0" json:"daily_yield"` // percent per day

	// Bonus program participation flags
	ReferralBonus bool `gorm:"default:false" json:"referral_bonus"`
	ReturnBonus   bool `gorm:"default:false" json:"return_bonus"`

	Enabled bool `gorm:"default:true" json:"enabled"`

	Timestamps
}
