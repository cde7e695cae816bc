package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ashvale/alchemyd/engine/crafting"
	"github.com/ashvale/alchemyd/engine/ledger"
	"github.com/ashvale/alchemyd/engine/registry"
	mw "github.com/ashvale/alchemyd/middleware"
	"github.com/gin-gonic/gin"
)

// CraftingHandler handles crafting session endpoints.
type CraftingHandler struct {
	crafting *crafting.Service
}

// NewCraftingHandler creates a new CraftingHandler.
func NewCraftingHandler(cs *crafting.Service) *CraftingHandler {
	return &CraftingHandler{crafting: cs}
}

type startCraftRequest struct {
	RecipeID int64 `json:"recipe_id" binding:"required"`
}

// Start handles POST /api/craft.
func (h *CraftingHandler) Start(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req startCraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.crafting.Start(c.Request.Context(), accountID, req.RecipeID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// Complete handles POST /api/craft/:id/complete.
func (h *CraftingHandler) Complete(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if !h.ownsSession(c, accountID, sessionID) {
		return
	}
	session, err := h.crafting.Complete(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Cancel handles POST /api/craft/:id/cancel.
func (h *CraftingHandler) Cancel(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if !h.ownsSession(c, accountID, sessionID) {
		return
	}
	session, err := h.crafting.Cancel(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Status handles GET /api/craft/:id.
func (h *CraftingHandler) Status(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	session, err := h.crafting.Get(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if session.AccountID != accountID {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	progress := h.crafting.Progress(session)
	c.JSON(http.StatusOK, gin.H{"session": session, "progress": progress})
}

// History handles GET /api/craft/history.
func (h *CraftingHandler) History(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	sessions, err := h.crafting.History(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// ownsSession rejects requests for sessions the caller does not own.
// Foreign sessions read as not found so IDs cannot be probed.
func (h *CraftingHandler) ownsSession(c *gin.Context, accountID, sessionID int64) bool {
	session, err := h.crafting.Get(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err)
		return false
	}
	if session.AccountID != accountID {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return false
	}
	return true
}

// writeError maps crafting outcomes to HTTP statuses.
func (h *CraftingHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, crafting.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, crafting.ErrSessionNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "session not ready"})
	case errors.Is(err, crafting.ErrSessionAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "session already terminal"})
	case errors.Is(err, crafting.ErrSessionNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": "session not cancellable"})
	case errors.Is(err, registry.ErrRecipeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found"})
	case errors.Is(err, registry.ErrRecipeNotApproved):
		c.JSON(http.StatusForbidden, gin.H{"error": "recipe not approved"})
	case errors.Is(err, registry.ErrRecipeDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "recipe disabled"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient balance"})
	case errors.Is(err, ledger.ErrStackLimitExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": "stack limit exceeded"})
	case errors.Is(err, ledger.ErrMaterialDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "material disabled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
