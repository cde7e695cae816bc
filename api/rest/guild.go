package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ashvale/alchemyd/engine/guild"
	"github.com/ashvale/alchemyd/engine/ledger"
	mw "github.com/ashvale/alchemyd/middleware"
	"github.com/ashvale/alchemyd/model"
	"github.com/gin-gonic/gin"
)

// GuildHandler handles guild and quest REST endpoints.
type GuildHandler struct {
	guilds *guild.Service
}

// NewGuildHandler creates a new GuildHandler.
func NewGuildHandler(gs *guild.Service) *GuildHandler {
	return &GuildHandler{guilds: gs}
}

type createGuildRequest struct {
	Name               string `json:"name" binding:"required,min=2,max=32"`
	Description        string `json:"description" binding:"max=200"`
	IsPublic           bool   `json:"is_public"`
	MinContribution    int64  `json:"min_contribution" binding:"gte=0"`
	TreasuryMaterialID int64  `json:"treasury_material_id" binding:"required"`
}

// Create handles POST /api/guilds.
func (h *GuildHandler) Create(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req createGuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	g, err := h.guilds.CreateGuild(c.Request.Context(), accountID, guild.CreateParams{
		Name:               req.Name,
		Description:        req.Description,
		IsPublic:           req.IsPublic,
		MinContribution:    req.MinContribution,
		TreasuryMaterialID: req.TreasuryMaterialID,
	})
	if err != nil {
		if errors.Is(err, guild.ErrAlreadyInGuild) {
			c.JSON(http.StatusConflict, gin.H{"error": "already in a guild"})
		} else if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "guild name already taken"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusCreated, g)
}

// List handles GET /api/guilds.
func (h *GuildHandler) List(c *gin.Context) {
	guilds, err := h.guilds.ListGuilds(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guilds": guilds})
}

// Detail handles GET /api/guilds/:id.
func (h *GuildHandler) Detail(c *gin.Context) {
	guildID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	g, err := h.guilds.Guild(c.Request.Context(), guildID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	members, err := h.guilds.Members(c.Request.Context(), guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guild": g, "members": members})
}

// Join handles POST /api/guilds/:id/join.
func (h *GuildHandler) Join(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	guildID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	member, err := h.guilds.Join(c.Request.Context(), accountID, guildID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// Leave handles POST /api/guilds/leave.
func (h *GuildHandler) Leave(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	if err := h.guilds.Leave(c.Request.Context(), accountID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left"})
}

type contributeRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// Contribute handles POST /api/guilds/contribute.
func (h *GuildHandler) Contribute(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req contributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.guilds.Contribute(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

type promoteRequest struct {
	AccountID int64           `json:"account_id" binding:"required"`
	Role      model.GuildRole `json:"role" binding:"required"`
}

// Promote handles PUT /api/guilds/members/role.
func (h *GuildHandler) Promote(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.guilds.PromoteMember(c.Request.Context(), accountID, req.AccountID, req.Role)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// Leaderboard handles GET /api/guilds/:id/leaderboard.
func (h *GuildHandler) Leaderboard(c *gin.Context) {
	guildID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "10"), 10, 64)

	entries, err := h.guilds.Leaderboard(c.Request.Context(), guildID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	selfScore := h.guilds.Standing(c.Request.Context(), guildID, mw.GetAccountID(c))
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries, "self_score": selfScore})
}

// Activity handles GET /api/guilds/:id/activity.
func (h *GuildHandler) Activity(c *gin.Context) {
	guildID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)

	events, err := h.guilds.Activity(c.Request.Context(), guildID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": events})
}

type createQuestRequest struct {
	Title        string          `json:"title" binding:"required,min=2,max=64"`
	Description  string          `json:"description" binding:"max=500"`
	RewardAmount int64           `json:"reward_amount" binding:"required,gt=0"`
	RequiredRole model.GuildRole `json:"required_role"`
	RequiredRep  int64           `json:"required_rep" binding:"gte=0"`
	ExpiresInS   int64           `json:"expires_in_s" binding:"required,gt=0"`
}

// CreateQuest handles POST /api/guilds/quests.
func (h *GuildHandler) CreateQuest(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req createQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := req.RequiredRole
	if role == 0 {
		role = model.RoleMember
	}

	quest, err := h.guilds.CreateQuest(c.Request.Context(), accountID, guild.QuestParams{
		Title:        req.Title,
		Description:  req.Description,
		RewardAmount: req.RewardAmount,
		RequiredRole: role,
		RequiredRep:  req.RequiredRep,
		ExpiresAt:    time.Now().Add(time.Duration(req.ExpiresInS) * time.Second),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quest)
}

// ListQuests handles GET /api/guilds/:id/quests.
func (h *GuildHandler) ListQuests(c *gin.Context) {
	guildID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	quests, err := h.guilds.Quests(c.Request.Context(), guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quests": quests})
}

// AcceptQuest handles POST /api/quests/:id/accept.
func (h *GuildHandler) AcceptQuest(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	questID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	quest, err := h.guilds.AcceptQuest(c.Request.Context(), accountID, questID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quest)
}

// CompleteQuest handles POST /api/quests/:id/complete.
func (h *GuildHandler) CompleteQuest(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	questID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	quest, err := h.guilds.CompleteQuest(c.Request.Context(), accountID, questID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quest)
}

// writeError maps guild outcomes to HTTP statuses.
func (h *GuildHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, guild.ErrGuildNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "guild not found"})
	case errors.Is(err, guild.ErrQuestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not found"})
	case errors.Is(err, guild.ErrGuildNotPublic):
		c.JSON(http.StatusForbidden, gin.H{"error": "guild is not public"})
	case errors.Is(err, guild.ErrAlreadyInGuild):
		c.JSON(http.StatusConflict, gin.H{"error": "already in a guild"})
	case errors.Is(err, guild.ErrNotAMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a guild member"})
	case errors.Is(err, guild.ErrCannotLeaveAsSoleFounder):
		c.JSON(http.StatusConflict, gin.H{"error": "founder cannot leave"})
	case errors.Is(err, guild.ErrInsufficientPrivilege):
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient privilege"})
	case errors.Is(err, guild.ErrInsufficientTreasury):
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient treasury"})
	case errors.Is(err, guild.ErrQuestAlreadyAssigned):
		c.JSON(http.StatusConflict, gin.H{"error": "quest already assigned"})
	case errors.Is(err, guild.ErrQuestAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "quest already terminal"})
	case errors.Is(err, guild.ErrQuestExpired):
		c.JSON(http.StatusConflict, gin.H{"error": "quest expired"})
	case errors.Is(err, guild.ErrQuestNotExpired):
		c.JSON(http.StatusConflict, gin.H{"error": "quest not yet expired"})
	case errors.Is(err, guild.ErrRequirementNotMet):
		c.JSON(http.StatusForbidden, gin.H{"error": "requirement not met"})
	case errors.Is(err, guild.ErrNotAssignee):
		c.JSON(http.StatusForbidden, gin.H{"error": "not the assignee"})
	case errors.Is(err, guild.ErrInvalidQuest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quest"})
	case errors.Is(err, guild.ErrGuildBusy):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "guild busy, retry"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient balance"})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
