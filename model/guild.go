package model

import "time"

// GuildRole ranks a member within the guild. Higher values carry more
// privilege; exactly one Founder exists per guild.
type GuildRole = int

const (
	RoleMember      GuildRole = 1
	RoleContributor GuildRole = 2
	RoleOfficer     GuildRole = 3
	RoleFounder     GuildRole = 4
)

// Guild is a named collective sharing a treasury and reputation pool.
// TreasuryBalance counts units of TreasuryMaterialID already moved out
// of member holdings; quest rewards are earmarked against it.
type Guild struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name               string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Description        string    `gorm:"type:text" json:"description"`
	FounderID          int64     `gorm:"not null" json:"founder_id"`
	IsPublic           bool      `gorm:"default:true" json:"is_public"`
	MinContribution    int64     `gorm:"default:0" json:"min_contribution"`
	MemberCount        int       `gorm:"default:1" json:"member_count"`
	TreasuryMaterialID int64     `gorm:"not null" json:"treasury_material_id"`
	TreasuryBalance    int64     `gorm:"default:0" json:"treasury_balance"`
	TotalReputation    int64     `gorm:"default:0" json:"total_reputation"`
	// Fixed point: 100 = 1.0x reputation per unit contributed.
	ReputationCoefficient int64     `gorm:"default:100" json:"reputation_coefficient"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Membership links an account to a guild. An account has at most one
// active membership at a time.
type Membership struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID      int64     `gorm:"uniqueIndex:idx_membership_pair;not null" json:"guild_id"`
	AccountID    int64     `gorm:"uniqueIndex:idx_membership_pair;index:idx_membership_account;not null" json:"account_id"`
	Role         int       `gorm:"default:1" json:"role"`
	Reputation   int64     `gorm:"default:0" json:"reputation"`
	Contribution int64     `gorm:"default:0" json:"contribution"`
	Active       bool      `gorm:"default:true" json:"active"`
	JoinedAt     time.Time `gorm:"autoCreateTime" json:"joined_at"`
}
