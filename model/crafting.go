package model

import (
	"time"

	"gorm.io/datatypes"
)

// SessionState is the lifecycle state of a crafting session.
type SessionState = int

const (
	SessionMaterialsReserved SessionState = 0
	SessionSucceeded         SessionState = 1
	SessionFailed            SessionState = 2
	SessionCancelled         SessionState = 3
)

// CraftingSession is one attempt to execute a recipe. The ingredient
// list is snapshotted at start so later recipe edits cannot change an
// in-flight session. Roll is drawn exactly once, at resolution.
type CraftingSession struct {
	ID                  int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID           int64          `gorm:"index:idx_session_account;not null" json:"account_id"`
	RecipeID            int64          `gorm:"not null" json:"recipe_id"`
	ReservationToken    string         `gorm:"size:36;not null" json:"reservation_token"`
	IngredientsSnapshot datatypes.JSON `json:"ingredients_snapshot"` // []Ingredient
	State               int            `gorm:"index:idx_session_state;default:0" json:"state"`
	Roll                *int           `json:"roll"`
	StartedAt           time.Time      `gorm:"not null" json:"started_at"`
	CompletesAt         time.Time      `gorm:"not null" json:"completes_at"`
	ResolvedAt          *time.Time     `json:"resolved_at"`
}

// Terminal reports whether the session has reached a final state.
func (s *CraftingSession) Terminal() bool {
	return s.State != SessionMaterialsReserved
}
