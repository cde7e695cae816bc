package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ashvale/alchemyd/engine/ledger"
	mw "github.com/ashvale/alchemyd/middleware"
	"github.com/ashvale/alchemyd/model"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// MaterialHandler handles material catalog and holdings endpoints.
type MaterialHandler struct {
	db     *gorm.DB
	ledger *ledger.Service
}

// NewMaterialHandler creates a new MaterialHandler.
func NewMaterialHandler(db *gorm.DB, led *ledger.Service) *MaterialHandler {
	return &MaterialHandler{db: db, ledger: led}
}

// List handles GET /api/materials. Disabled materials stay listed so
// clients can explain holdings of them.
func (h *MaterialHandler) List(c *gin.Context) {
	q := h.db.Order("id")
	if cat := c.Query("category"); cat != "" {
		q = q.Where("category = ?", cat)
	}
	if rarity := c.Query("rarity"); rarity != "" {
		q = q.Where("rarity = ?", rarity)
	}
	var defs []model.MaterialDefinition
	if err := q.Find(&defs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"materials": defs})
}

// Detail handles GET /api/materials/:id.
func (h *MaterialHandler) Detail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var def model.MaterialDefinition
	if err := h.db.First(&def, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "material not found"})
		return
	}
	c.JSON(http.StatusOK, def)
}

// Holdings handles GET /api/holdings.
func (h *MaterialHandler) Holdings(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	holdings, err := h.ledger.Holdings(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": holdings})
}

// Balance handles GET /api/holdings/:materialID.
func (h *MaterialHandler) Balance(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	materialID, err := strconv.ParseInt(c.Param("materialID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	bal, err := h.ledger.Balance(c.Request.Context(), accountID, materialID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"material_id": materialID, "balance": bal})
}

type transferRequest struct {
	ToAccountID int64 `json:"to_account_id" binding:"required"`
	MaterialID  int64 `json:"material_id" binding:"required"`
	Amount      int64 `json:"amount" binding:"required,gt=0"`
}

// Transfer handles POST /api/materials/transfer.
func (h *MaterialHandler) Transfer(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.ledger.Transfer(c.Request.Context(), accountID, req.ToAccountID, req.MaterialID, req.Amount)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "transferred"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient balance"})
	case errors.Is(err, ledger.ErrMaterialNotTransferable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "material not transferable"})
	case errors.Is(err, ledger.ErrMaterialDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": "material disabled"})
	case errors.Is(err, ledger.ErrStackLimitExceeded):
		c.JSON(http.StatusBadRequest, gin.H{"error": "stack limit exceeded"})
	case errors.Is(err, ledger.ErrMaterialNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "material not found"})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
