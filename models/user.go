package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the local account record for the settlement engine.
// SponsorID points at the user who referred this one; the chain of
// sponsors forms a forest that commission and bonus distribution walk
// upward.
type User struct {
	ID        string  `gorm:"primaryKey;type:uuid" json:"id"`
	Email     string  `gorm:"uniqueIndex;not null" json:"email"`
	Username  string  `gorm:"index" json:"username"`
	SponsorID *string `gorm:"index" json:"sponsor_id,omitempty"` // nil = no referrer (tree root)

	// CurrentRank is the stored rank level (0 = unranked). Raised by
	// automatic recalculation, set to anything by admin override.
	CurrentRank int `gorm:"default:0" json:"current_rank"`

	LastRankUpAt *time.Time `json:"last_rank_up_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
