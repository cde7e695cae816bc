package model

import "time"

// GuildQuest is a guild-scoped task with an earmarked reward.
// AssigneeID is set at most once; Completed and Cancelled are mutually
// exclusive terminal flags.
type GuildQuest struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID         int64      `gorm:"index:idx_quest_guild;not null" json:"guild_id"`
	CreatorID       int64      `gorm:"not null" json:"creator_id"`
	Title           string     `gorm:"size:128;not null" json:"title"`
	Description     string     `gorm:"type:text" json:"description"`
	RewardAmount    int64      `gorm:"not null" json:"reward_amount"`
	RequiredRole    int        `gorm:"default:1" json:"required_role"`
	RequiredRep     int64      `gorm:"default:0" json:"required_reputation"`
	AssigneeID      *int64     `json:"assignee_id"`
	Completed       bool       `gorm:"default:false" json:"completed"`
	Cancelled       bool       `gorm:"default:false" json:"cancelled"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt       time.Time  `gorm:"index:idx_quest_expiry;not null" json:"expires_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// Terminal reports whether the quest can no longer change hands.
func (q *GuildQuest) Terminal() bool {
	return q.Completed || q.Cancelled
}
