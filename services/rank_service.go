// services/rank_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"invest-settlement-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrRankOutOfRange = errors.New("rank level out of configured range")

// RankService derives a user's eligible rank from network statistics.
// Automatic recalculation only ever raises the stored rank; a manual
// override may set any configured value, including 0 to clear it.
type RankService struct {
	DB *gorm.DB
}

func NewRankService(db *gorm.DB) *RankService {
	return &RankService{DB: db}
}

// networkStats are the inputs to rank eligibility.
type networkStats struct {
	ActiveDirects int // directly sponsored users holding an ACTIVE subscription
	TeamSize      int // whole organization under the user
	OwnTierLevel  int // level of the user's own ACTIVE tier, 0 if none
}

// EligibleRank computes the highest configured rank whose thresholds
// the user currently meets.
func (s *RankService) EligibleRank(userID string) (int, error) {
	stats, err := s.collectStats(userID)
	if err != nil {
		return 0, err
	}

	var ranks []models.Rank
	if err := s.DB.Order("level DESC").Find(&ranks).Error; err != nil {
		return 0, err
	}
	for _, r := range ranks {
		if stats.ActiveDirects >= r.MinDirects &&
			stats.TeamSize >= r.MinTeamSize &&
			stats.OwnTierLevel >= r.MinTierLevel {
			return r.Level, nil
		}
	}
	return 0, nil
}

// Recalculate raises the stored rank to the eligible rank if higher.
// It never lowers it — a manual override below eligibility survives
// until eligibility catches up past it.
func (s *RankService) Recalculate(userID string) (int, error) {
	eligible, err := s.EligibleRank(userID)
	if err != nil {
		return 0, err
	}

	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return 0, err
	}
	if eligible <= user.CurrentRank {
		return user.CurrentRank, nil
	}

	now := time.Now()
	err = s.DB.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]any{"current_rank": eligible, "last_rank_up_at": now}).Error
	if err != nil {
		return 0, err
	}
	log.Printf("⬆️ [RANK] user %s promoted %d -> %d", userID, user.CurrentRank, eligible)
	return eligible, nil
}

// RecalculateChain recalculates every ancestor of a user after an
// activation changed the network shape below them. Bounded walk.
func (s *RankService) RecalculateChain(userID string) error {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return err
	}

	sponsorID := user.SponsorID
	for depth := 0; sponsorID != nil && depth < maxChainDepth; depth++ {
		var sponsor models.User
		if err := s.DB.First(&sponsor, "id = ?", *sponsorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if _, err := s.Recalculate(sponsor.ID); err != nil {
			return err
		}
		sponsorID = sponsor.SponsorID
	}
	return nil
}

// SetRank is the manual override: any configured level (or 0), no
// eligibility check. The value sticks until recalculation finds a
// higher eligible rank.
func (s *RankService) SetRank(userID string, level int) error {
	if level < 0 {
		return ErrRankOutOfRange
	}
	if level > 0 {
		var count int64
		if err := s.DB.Model(&models.Rank{}).Where("level = ?", level).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRankOutOfRange
		}
	}
	res := s.DB.Model(&models.User{}).Where("id = ?", userID).Update("current_rank", level)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}

// GlobalBonusPercent looks up the bonus share for a rank level; 0 for
// unranked or unknown levels.
func (s *RankService) GlobalBonusPercent(tx *gorm.DB, level int) (float64, error) {
	if level <= 0 {
		return 0, nil
	}
	var rank models.Rank
	if err := tx.First(&rank, "level = ?", level).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return rank.GlobalBonusPercent, nil
}

func (s *RankService) collectStats(userID string) (*networkStats, error) {
	stats := &networkStats{}

	// Directly sponsored users with an ACTIVE subscription.
	err := s.DB.Raw(`
		SELECT COUNT(DISTINCT u.id)
		FROM users u
		JOIN subscriptions sub ON sub.user_id = u.id AND sub.status = ?
		WHERE u.sponsor_id = ?`, models.SubscriptionActive, userID).
		Scan(&stats.ActiveDirects).Error
	if err != nil {
		return nil, err
	}

	// Organization size: breadth-first over the sponsor tree, level by
	// level, with the same safety cap as every other chain walk.
	frontier := []string{userID}
	for depth := 0; depth < maxChainDepth && len(frontier) > 0; depth++ {
		var next []string
		if err := s.DB.Model(&models.User{}).
			Where("sponsor_id IN ?", frontier).
			Pluck("id", &next).Error; err != nil {
			return nil, err
		}
		stats.TeamSize += len(next)
		frontier = next
	}

	// The user's own active tier level.
	var sub models.Subscription
	err = s.DB.Preload("Tier").First(&sub, "user_id = ? AND status = ?", userID, models.SubscriptionActive).Error
	if err == nil {
		stats.OwnTierLevel = sub.Tier.Level
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return stats, nil
}

// SeedRanks inserts the default rank table if none exists yet.
func (s *RankService) SeedRanks() error {
	var count int64
	if err := s.DB.Model(&models.Rank{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []models.Rank{
		{Level: 1, Name: "Bronze", MinDirects: 3, MinTeamSize: 10, MinTierLevel: 1, GlobalBonusPercent: 5},
		{Level: 2, Name: "Silver", MinDirects: 5, MinTeamSize: 30, MinTierLevel: 2, GlobalBonusPercent: 10},
		{Level: 3, Name: "Gold", MinDirects: 8, MinTeamSize: 100, MinTierLevel: 3, GlobalBonusPercent: 15},
		{Level: 4, Name: "Platinum", MinDirects: 12, MinTeamSize: 300, MinTierLevel: 4, GlobalBonusPercent: 25},
		{Level: 5, Name: "Diamond", MinDirects: 20, MinTeamSize: 1000, MinTierLevel: 5, GlobalBonusPercent: 45},
	}
	for i := range defaults {
		defaults[i].ID = uuid.NewString()
	}
	return s.DB.Create(&defaults).Error
}
