package models

// Rank is a configured rank definition. Level 0 is implicit (unranked,
// no global bonus share); rows here start at level 1.
type Rank struct {
	ID    string `gorm:"primaryKey;type:uuid" json:"id"`
	Level int    `gorm:"uniqueIndex;not null" json:"level"`
	Name  string `gorm:"not null" json:"name"`

	// Eligibility thresholds
	MinDirects   int `gorm:"default:0" json:"min_directs"`    // directly sponsored users with an ACTIVE subscription
	MinTeamSize  int `gorm:"default:0" json:"min_team_size"`  // whole organization under the user
	MinTierLevel int `gorm:"default:0" json:"min_tier_level"` // user's own active tier must be at least this

	// Share of pooled signal bonuses, in percent.
	GlobalBonusPercent float64 `gorm:"default:0" json:"global_bonus_percent"`

	Timestamps
}
