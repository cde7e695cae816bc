package model

import "time"

// MaterialCategory groups materials by their gameplay origin.
type MaterialCategory = string

const (
	CategoryBasic    MaterialCategory = "Basic"
	CategoryRare     MaterialCategory = "Rare"
	CategorySeasonal MaterialCategory = "Seasonal"
	CategoryMystic   MaterialCategory = "Mystic"
)

// RarityTier ranks how hard a material is to come by.
type RarityTier = string

const (
	RarityCommon    RarityTier = "Common"
	RarityUncommon  RarityTier = "Uncommon"
	RarityRare      RarityTier = "Rare"
	RarityEpic      RarityTier = "Epic"
	RarityLegendary RarityTier = "Legendary"
)

// MaterialDefinition describes one fungible material type.
// Renaming or disabling a definition never retroactively touches
// sessions that already snapshotted it.
type MaterialDefinition struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Category     string    `gorm:"size:16;default:Basic" json:"category"`
	Rarity       string    `gorm:"size:16;default:Common" json:"rarity"`
	StackLimit   int64     `gorm:"default:9999" json:"stack_limit"`
	Transferable bool      `gorm:"default:true" json:"transferable"`
	Consumable   bool      `gorm:"default:true" json:"consumable"`
	Bridged      bool      `gorm:"default:false" json:"bridged"` // mirrored to the external mint ledger
	Enabled      bool      `gorm:"default:true" json:"enabled"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// MaterialHolding is the authoritative quantity of one material held
// by one account. Quantity never goes negative.
type MaterialHolding struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID  int64     `gorm:"uniqueIndex:idx_holding_pair;not null" json:"account_id"`
	MaterialID int64     `gorm:"uniqueIndex:idx_holding_pair;not null" json:"material_id"`
	Quantity   int64     `gorm:"default:0" json:"quantity"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
