package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ashvale/alchemyd/engine/guild"
	"github.com/ashvale/alchemyd/engine/ledger"
	"github.com/ashvale/alchemyd/engine/registry"
	"github.com/ashvale/alchemyd/model"
	"github.com/ashvale/alchemyd/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db       *gorm.DB
	ledger   *ledger.Service
	registry *registry.Service
	guilds   *guild.Service
	sched    *scheduler.Scheduler
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	led *ledger.Service,
	reg *registry.Service,
	gs *guild.Service,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{db: db, ledger: led, registry: reg, guilds: gs, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var accounts, materials, recipes, guilds, openSessions, openQuests int64
	h.db.Model(&model.Account{}).Count(&accounts)
	h.db.Model(&model.MaterialDefinition{}).Count(&materials)
	h.db.Model(&model.RecipeDefinition{}).Count(&recipes)
	h.db.Model(&model.Guild{}).Count(&guilds)
	h.db.Model(&model.CraftingSession{}).
		Where("state = ?", model.SessionMaterialsReserved).Count(&openSessions)
	h.db.Model(&model.GuildQuest{}).
		Where("completed = ? AND cancelled = ?", false, false).Count(&openQuests)

	c.JSON(http.StatusOK, gin.H{
		"accounts":        accounts,
		"materials":       materials,
		"recipes":         recipes,
		"guilds":          guilds,
		"open_sessions":   openSessions,
		"open_quests":     openQuests,
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

type createMaterialRequest struct {
	Name         string                 `json:"name" binding:"required,min=2,max=64"`
	Category     model.MaterialCategory `json:"category" binding:"required"`
	Rarity       model.RarityTier       `json:"rarity" binding:"required"`
	StackLimit   int64                  `json:"stack_limit"`
	Transferable bool                   `json:"transferable"`
	Consumable   bool                   `json:"consumable"`
	Bridged      bool                   `json:"bridged"`
}

// CreateMaterial registers a new material definition.
// POST /api/admin/materials
func (h *AdminHandler) CreateMaterial(c *gin.Context) {
	var req createMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def := model.MaterialDefinition{
		Name:         req.Name,
		Category:     req.Category,
		Rarity:       req.Rarity,
		StackLimit:   req.StackLimit,
		Transferable: req.Transferable,
		Consumable:   req.Consumable,
		Bridged:      req.Bridged,
		Enabled:      true,
	}
	if def.StackLimit <= 0 {
		def.StackLimit = 9999
	}
	if err := h.db.Create(&def).Error; err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "material name already taken"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	h.logger.Info("admin created material",
		zap.Int64("material_id", def.ID), zap.String("name", def.Name))
	c.JSON(http.StatusCreated, def)
}

// SetMaterialEnabled flips the enabled flag. Disabling blocks credits
// and crafts that produce the material; existing holdings stay intact.
// PUT /api/admin/materials/:id/enabled
func (h *AdminHandler) SetMaterialEnabled(c *gin.Context) {
	materialID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.db.Model(&model.MaterialDefinition{}).
		Where("id = ?", materialID).Update("enabled", req.Enabled)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "material not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "enabled": req.Enabled})
}

type mintRequest struct {
	AccountID int64 `json:"account_id" binding:"required"`
	Amount    int64 `json:"amount" binding:"required,gt=0"`
}

// Mint credits material to an account out of thin air.
// POST /api/admin/materials/:id/mint
func (h *AdminHandler) Mint(c *gin.Context) {
	materialID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newBal, err := h.ledger.Credit(c.Request.Context(), req.AccountID, materialID, req.Amount)
	switch {
	case err == nil:
		h.logger.Info("admin minted material",
			zap.Int64("account_id", req.AccountID),
			zap.Int64("material_id", materialID),
			zap.Int64("amount", req.Amount))
		c.JSON(http.StatusOK, gin.H{"ok": true, "balance": newBal})
	case errors.Is(err, ledger.ErrMaterialNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "material not found"})
	case errors.Is(err, ledger.ErrMaterialDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": "material disabled"})
	case errors.Is(err, ledger.ErrStackLimitExceeded):
		c.JSON(http.StatusBadRequest, gin.H{"error": "stack limit exceeded"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ApproveRecipe marks a recipe craftable. A body of {"approved": false}
// revokes approval.
// POST /api/admin/recipes/:id/approve
func (h *AdminHandler) ApproveRecipe(c *gin.Context) {
	recipeID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Approved *bool `json:"approved"`
	}
	_ = c.ShouldBindJSON(&req)
	approved := true
	if req.Approved != nil {
		approved = *req.Approved
	}
	if err := h.registry.Approve(c.Request.Context(), recipeID, approved); err != nil {
		if errors.Is(err, registry.ErrRecipeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	h.logger.Info("admin updated recipe approval",
		zap.Int64("recipe_id", recipeID), zap.Bool("approved", approved))
	c.JSON(http.StatusOK, gin.H{"ok": true, "approved": approved})
}

// SetRecipeEnabled flips a recipe's enabled flag.
// PUT /api/admin/recipes/:id/enabled
func (h *AdminHandler) SetRecipeEnabled(c *gin.Context) {
	recipeID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.SetEnabled(c.Request.Context(), recipeID, req.Enabled); err != nil {
		if errors.Is(err, registry.ErrRecipeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "enabled": req.Enabled})
}

// BanAccount bans or unbans an account.
// POST /api/admin/accounts/:id/ban
func (h *AdminHandler) BanAccount(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.db.Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// SweepQuests runs the overdue-quest sweep immediately.
// POST /api/admin/quests/sweep
func (h *AdminHandler) SweepQuests(c *gin.Context) {
	n, err := h.guilds.ExpireDue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
