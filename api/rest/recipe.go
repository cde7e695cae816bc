package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ashvale/alchemyd/engine/registry"
	mw "github.com/ashvale/alchemyd/middleware"
	"github.com/ashvale/alchemyd/model"
	"github.com/gin-gonic/gin"
)

// RecipeHandler handles recipe registry endpoints.
type RecipeHandler struct {
	registry *registry.Service
}

// NewRecipeHandler creates a new RecipeHandler.
func NewRecipeHandler(reg *registry.Service) *RecipeHandler {
	return &RecipeHandler{registry: reg}
}

type createRecipeRequest struct {
	Name            string             `json:"name" binding:"required,min=2,max=64"`
	Ingredients     []model.Ingredient `json:"ingredients" binding:"required"`
	DurationSeconds int64              `json:"duration_seconds" binding:"required,gt=0"`
	SuccessRate     int                `json:"success_rate" binding:"required,min=1,max=100"`
	ResultMaterialID int64             `json:"result_material_id" binding:"required"`
	ResultQuantity  int64              `json:"result_quantity" binding:"required,gt=0"`
	ResultRarity    model.RarityTier   `json:"result_rarity"`
}

// Create handles POST /api/recipes. New recipes await approval before
// they can be crafted.
func (h *RecipeHandler) Create(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req createRecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recipe, err := h.registry.Create(c.Request.Context(), registry.CreateParams{
		Name:             req.Name,
		Ingredients:      req.Ingredients,
		DurationSeconds:  req.DurationSeconds,
		SuccessRate:      req.SuccessRate,
		ResultMaterialID: req.ResultMaterialID,
		ResultQuantity:   req.ResultQuantity,
		ResultRarity:     req.ResultRarity,
		CreatorID:        accountID,
	})
	if err != nil {
		if errors.Is(err, registry.ErrInvalidRecipe) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusCreated, recipe)
}

// List handles GET /api/recipes. By default only approved recipes are
// returned; ?all=1 includes pending ones.
func (h *RecipeHandler) List(c *gin.Context) {
	approvedOnly := c.Query("all") != "1"
	recipes, err := h.registry.List(c.Request.Context(), approvedOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipes": recipes})
}

// Detail handles GET /api/recipes/:id.
func (h *RecipeHandler) Detail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	recipe, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrRecipeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, recipe)
}
