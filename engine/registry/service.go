package registry

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ashvale/alchemyd/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxIngredients = 10

var (
	ErrRecipeNotFound    = errors.New("recipe not found")
	ErrRecipeNotApproved = errors.New("recipe not approved")
	ErrRecipeDisabled    = errors.New("recipe disabled")
	ErrInvalidRecipe     = errors.New("invalid recipe definition")
)

// Service is the catalog of approved recipes.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a registry Service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// CreateParams carries a new recipe submission. Recipes start
// unapproved and must be approved before they can be crafted.
type CreateParams struct {
	Name             string
	Ingredients      []model.Ingredient
	DurationSeconds  int64
	SuccessRate      int
	ResultMaterialID int64
	ResultQuantity   int64
	ResultRarity     string
	CreatorID        int64
}

// Create validates and stores a new recipe definition.
func (svc *Service) Create(ctx context.Context, p CreateParams) (*model.RecipeDefinition, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(p.Ingredients)
	if err != nil {
		return nil, err
	}
	recipe := &model.RecipeDefinition{
		Name:             p.Name,
		Ingredients:      datatypes.JSON(raw),
		DurationSeconds:  p.DurationSeconds,
		SuccessRate:      p.SuccessRate,
		ResultMaterialID: p.ResultMaterialID,
		ResultQuantity:   p.ResultQuantity,
		ResultRarity:     p.ResultRarity,
		Approved:         false,
		Enabled:          true,
		CreatorID:        p.CreatorID,
	}
	if err := svc.db.WithContext(ctx).Create(recipe).Error; err != nil {
		return nil, err
	}
	svc.logger.Info("recipe created",
		zap.Int64("recipe_id", recipe.ID),
		zap.Int64("creator_id", p.CreatorID))
	return recipe, nil
}

func validate(p CreateParams) error {
	if p.Name == "" {
		return ErrInvalidRecipe
	}
	if len(p.Ingredients) == 0 || len(p.Ingredients) > maxIngredients {
		return ErrInvalidRecipe
	}
	seen := make(map[int64]bool, len(p.Ingredients))
	for _, ing := range p.Ingredients {
		if ing.Quantity <= 0 || seen[ing.MaterialID] {
			return ErrInvalidRecipe
		}
		seen[ing.MaterialID] = true
	}
	if p.DurationSeconds <= 0 {
		return ErrInvalidRecipe
	}
	if p.SuccessRate < 1 || p.SuccessRate > 100 {
		return ErrInvalidRecipe
	}
	if p.ResultQuantity <= 0 {
		return ErrInvalidRecipe
	}
	return nil
}

// Get returns a recipe regardless of its approval state.
func (svc *Service) Get(ctx context.Context, recipeID int64) (*model.RecipeDefinition, error) {
	var recipe model.RecipeDefinition
	err := svc.db.WithContext(ctx).First(&recipe, recipeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecipeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}

// Resolve is the crafting gate: it distinguishes "exists but not
// usable" from "does not exist" so callers can report precisely.
func (svc *Service) Resolve(ctx context.Context, recipeID int64) (*model.RecipeDefinition, error) {
	recipe, err := svc.Get(ctx, recipeID)
	if err != nil {
		return nil, err
	}
	if !recipe.Approved {
		return nil, ErrRecipeNotApproved
	}
	if !recipe.Enabled {
		return nil, ErrRecipeDisabled
	}
	return recipe, nil
}

// List returns recipes, optionally only approved ones.
func (svc *Service) List(ctx context.Context, approvedOnly bool) ([]model.RecipeDefinition, error) {
	q := svc.db.WithContext(ctx).Order("id")
	if approvedOnly {
		q = q.Where("approved = ? AND enabled = ?", true, true)
	}
	var recipes []model.RecipeDefinition
	err := q.Find(&recipes).Error
	return recipes, err
}

// Approve toggles the administrative approval flag. Sessions already
// started are unaffected.
func (svc *Service) Approve(ctx context.Context, recipeID int64, approved bool) error {
	res := svc.db.WithContext(ctx).Model(&model.RecipeDefinition{}).
		Where("id = ?", recipeID).
		Update("approved", approved)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecipeNotFound
	}
	svc.logger.Info("recipe approval updated",
		zap.Int64("recipe_id", recipeID), zap.Bool("approved", approved))
	return nil
}

// SetEnabled toggles whether an approved recipe can start new sessions.
func (svc *Service) SetEnabled(ctx context.Context, recipeID int64, enabled bool) error {
	res := svc.db.WithContext(ctx).Model(&model.RecipeDefinition{}).
		Where("id = ?", recipeID).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecipeNotFound
	}
	return nil
}
