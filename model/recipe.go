package model

import (
	"time"

	"gorm.io/datatypes"
)

// Ingredient is one entry of a recipe's ingredient list.
type Ingredient struct {
	MaterialID int64 `json:"material_id"`
	Quantity   int64 `json:"quantity"`
}

// RecipeDefinition declares a transformation of ingredients into a
// result material. A recipe is usable only when approved && enabled.
type RecipeDefinition struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name             string         `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Ingredients      datatypes.JSON `json:"ingredients"` // []Ingredient
	DurationSeconds  int64          `gorm:"not null" json:"duration_seconds"`
	SuccessRate      int            `gorm:"not null" json:"success_rate"` // percent, 1-100
	ResultMaterialID int64          `gorm:"not null" json:"result_material_id"`
	ResultQuantity   int64          `gorm:"default:1" json:"result_quantity"`
	ResultRarity     string         `gorm:"size:16" json:"result_rarity"`
	Approved         bool           `gorm:"default:false" json:"approved"`
	Enabled          bool           `gorm:"default:true" json:"enabled"`
	CreatorID        int64          `gorm:"index:idx_recipe_creator;not null" json:"creator_id"`
	TimesCrafted     int64          `gorm:"default:0" json:"times_crafted"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
