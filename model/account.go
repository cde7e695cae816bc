package model

import "time"

// Account is an identity capable of holding materials and one active
// guild membership. The engine trusts the ID as supplied by auth.
type Account struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash string     `gorm:"size:64;not null" json:"-"`
	WalletAddr   string     `gorm:"size:64" json:"wallet_addr"` // external ledger address, optional
	Status       int        `gorm:"default:1" json:"status"`    // 0=banned 1=normal
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	LastLoginIP  string     `gorm:"size:45" json:"last_login_ip"`
}
