package rest_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ashvale/alchemyd/api/rest"
	"github.com/ashvale/alchemyd/engine/guild"
	"github.com/ashvale/alchemyd/engine/ledger"
	"github.com/ashvale/alchemyd/engine/registry"
	"github.com/ashvale/alchemyd/model"
	"github.com/ashvale/alchemyd/scheduler"
	"github.com/ashvale/alchemyd/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type adminSetup struct {
	r  *gin.Engine
	db *gorm.DB
}

func newAdminSetup(t *testing.T, adminKey string) *adminSetup {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	led := ledger.NewService(db, nil, logger)
	reg := registry.NewService(db, logger)
	guilds := guild.NewService(db, c, led, nil, logger)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	h := rest.NewAdminHandler(db, led, reg, guilds, sched, logger)

	r := gin.New()
	g := r.Group("/api/admin", rest.AdminAuth(adminKey))
	g.GET("/metrics", h.Metrics)
	g.POST("/materials", h.CreateMaterial)
	g.PUT("/materials/:id/enabled", h.SetMaterialEnabled)
	g.POST("/materials/:id/mint", h.Mint)
	g.POST("/recipes/:id/approve", h.ApproveRecipe)
	g.PUT("/recipes/:id/enabled", h.SetRecipeEnabled)
	g.POST("/accounts/:id/ban", h.BanAccount)
	g.POST("/quests/sweep", h.SweepQuests)
	g.GET("/scheduler", h.ListSchedulerTasks)
	return &adminSetup{r: r, db: db}
}

const testAdminKey = "test-admin-key"

func adminHeaders() []string { return []string{"X-Admin-Key", testAdminKey} }

func TestAdminAuth_EmptyKeyDisabled(t *testing.T) {
	s := newAdminSetup(t, "")
	w := getReq(s.r, "/api/admin/metrics", "X-Admin-Key", "anything")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminAuth_WrongKey(t *testing.T) {
	s := newAdminSetup(t, testAdminKey)
	w := getReq(s.r, "/api/admin/metrics", "X-Admin-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminCreateMaterialAndMint(t *testing.T) {
	s := newAdminSetup(t, testAdminKey)

	w := postJSON(s.r, "/api/admin/materials", map[string]interface{}{
		"name":     "Moonpetal",
		"category": "Reagent",
		"rarity":   "Rare",
	}, adminHeaders()...)
	require.Equal(t, http.StatusCreated, w.Code)
	var def model.MaterialDefinition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &def))
	assert.True(t, def.Enabled)
	assert.Equal(t, int64(9999), def.StackLimit)

	w = postJSON(s.r, fmt.Sprintf("/api/admin/materials/%d/mint", def.ID),
		map[string]int64{"account_id": 1, "amount": 42}, adminHeaders()...)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Balance)
}

func TestAdminMint_UnknownMaterial(t *testing.T) {
	s := newAdminSetup(t, testAdminKey)
	w := postJSON(s.r, "/api/admin/materials/999/mint",
		map[string]int64{"account_id": 1, "amount": 5}, adminHeaders()...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminSetMaterialEnabled(t *testing.T) {
	s := newAdminSetup(t, testAdminKey)
	def := model.MaterialDefinition{Name: "Herb", Enabled: true, StackLimit: 100}
	require.NoError(t, s.db.Create(&def).Error)

	w := putJSON(s.r, fmt.Sprintf("/api/admin/materials/%d/enabled", def.ID),
		map[string]bool{"enabled": false}, adminHeaders()...)
	require.Equal(t, http.StatusOK, w.Code)

	var got model.MaterialDefinition
	require.NoError(t, s.db.First(&got, def.ID).Error)
	assert.False(t, got.Enabled)

	w = putJSON(s.r, "/api/admin/materials/999/enabled",
		map[string]bool{"enabled": false}, adminHeaders()...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminApproveRecipe(t *testing.T) {
	s := newAdminSetup(t, testAdminKey)
	recipe := model.RecipeDefinition{
		Name:             "Draught",
		Ingredients:      datatypes.JSON(`[{"material_id":1,"quantity":1}]`),
		DurationSeconds:  60,
		SuccessRate:      50,
		ResultMaterialID: 2,
		ResultQuantity:   1,
		CreatorID:        1,
	}
	require.NoError(t, s.db.Create(&recipe).Error)

	w := postJSON(s.r, fmt.Sprintf("/api/admin/recipes/%d/approve", recipe.ID),
		nil, adminHeaders()...)
	require.Equal(t, http.StatusOK, w.Code)

	var got model.RecipeDefinition
	require.NoError(t, s.db.First(&got, recipe.ID).Error)
	assert.True(t, got.Approved)

	// Approval can be revoked.
	w = postJSON(s.r, fmt.Sprintf("/api/admin/recipes/%d/approve", recipe.ID),
		map[string]bool{"approved": false}, adminHeaders()...)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, s.db.First(&got, recipe.ID).Error)
	assert.False(t, got.Approved)
}

func TestAdminBanAccount(t *testing.T) {
	s := newAdminSetup(t, testAdminKey)
	acct := model.Account{Username: "target", PasswordHash: "x", Status: 1}
	require.NoError(t, s.db.Create(&acct).Error)

	w := postJSON(s.r, fmt.Sprintf("/api/admin/accounts/%d/ban", acct.ID),
		map[string]bool{"ban": true}, adminHeaders()...)
	require.Equal(t, http.StatusOK, w.Code)

	var got model.Account
	require.NoError(t, s.db.First(&got, acct.ID).Error)
	assert.Equal(t, 0, got.Status)

	w = postJSON(s.r, "/api/admin/accounts/999/ban",
		map[string]bool{"ban": true}, adminHeaders()...)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminSweepQuests(t *testing.T) {
	s := newAdminSetup(t, testAdminKey)

	gold := model.MaterialDefinition{Name: "Gold", Enabled: true, StackLimit: 1 << 40}
	require.NoError(t, s.db.Create(&gold).Error)
	g := model.Guild{Name: "Ashen Circle", FounderID: 1, TreasuryMaterialID: gold.ID}
	require.NoError(t, s.db.Create(&g).Error)
	quest := model.GuildQuest{
		GuildID:      g.ID,
		CreatorID:    1,
		Title:        "Stale errand",
		RewardAmount: 50,
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.db.Create(&quest).Error)

	w := postJSON(s.r, "/api/admin/quests/sweep", nil, adminHeaders()...)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Expired int `json:"expired"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Expired)

	var gotGuild model.Guild
	require.NoError(t, s.db.First(&gotGuild, g.ID).Error)
	assert.Equal(t, int64(50), gotGuild.TreasuryBalance)
}

func TestAdminMetrics(t *testing.T) {
	s := newAdminSetup(t, testAdminKey)
	require.NoError(t, s.db.Create(&model.MaterialDefinition{Name: "Herb"}).Error)

	w := getReq(s.r, "/api/admin/metrics", adminHeaders()...)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["materials"])
}
