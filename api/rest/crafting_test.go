package rest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ashvale/alchemyd/api/rest"
	"github.com/ashvale/alchemyd/config"
	"github.com/ashvale/alchemyd/engine/crafting"
	"github.com/ashvale/alchemyd/engine/ledger"
	"github.com/ashvale/alchemyd/engine/registry"
	mw "github.com/ashvale/alchemyd/middleware"
	"github.com/ashvale/alchemyd/model"
	"github.com/ashvale/alchemyd/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type craftSetup struct {
	r        *gin.Engine
	svc      *crafting.Service
	ledger   *ledger.Service
	registry *registry.Service

	herbID   int64
	potionID int64
	recipeID int64
}

// newCraftSetup wires auth, material and craft routes with an approved
// 60s / 100% recipe so HTTP-level outcomes are deterministic.
func newCraftSetup(t *testing.T) *craftSetup {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}
	logger := zap.NewNop()

	led := ledger.NewService(db, nil, logger)
	reg := registry.NewService(db, logger)
	svc := crafting.NewService(db, reg, led, nil, logger)

	authH := rest.NewAuthHandler(db, c, sec)
	craftH := rest.NewCraftingHandler(svc)
	materialH := rest.NewMaterialHandler(db, led)

	r := gin.New()
	r.POST("/api/auth/login", authH.Login)
	authed := r.Group("/api", mw.Auth(sec, c))
	craftG := authed.Group("/craft")
	{
		craftG.POST("", craftH.Start)
		craftG.GET("/history", craftH.History)
		craftG.GET("/:id", craftH.Status)
		craftG.POST("/:id/complete", craftH.Complete)
		craftG.POST("/:id/cancel", craftH.Cancel)
	}
	authed.POST("/materials/transfer", materialH.Transfer)
	authed.GET("/holdings", materialH.Holdings)
	authed.GET("/holdings/:materialID", materialH.Balance)

	ctx := context.Background()
	s := &craftSetup{r: r, svc: svc, ledger: led, registry: reg}

	mats := []*model.MaterialDefinition{
		{Name: "Herb", Enabled: true, StackLimit: 9999, Transferable: true},
		{Name: "Potion", Enabled: true, StackLimit: 9999},
	}
	for _, m := range mats {
		require.NoError(t, db.Create(m).Error)
	}
	s.herbID, s.potionID = mats[0].ID, mats[1].ID

	recipe, err := reg.Create(ctx, registry.CreateParams{
		Name:             "Minor Potion",
		Ingredients:      []model.Ingredient{{MaterialID: s.herbID, Quantity: 2}},
		DurationSeconds:  60,
		SuccessRate:      100,
		ResultMaterialID: s.potionID,
		ResultQuantity:   1,
		CreatorID:        1,
	})
	require.NoError(t, err)
	require.NoError(t, reg.Approve(ctx, recipe.ID, true))
	s.recipeID = recipe.ID
	return s
}

func (s *craftSetup) login(t *testing.T, username string) (token string, accountID int64) {
	t.Helper()
	w := postJSON(s.r, "/api/auth/login", map[string]string{"username": username, "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	var lr struct {
		Token     string `json:"token"`
		AccountID int64  `json:"account_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lr))

	_, err := s.ledger.Credit(context.Background(), lr.AccountID, s.herbID, 10)
	require.NoError(t, err)
	return lr.Token, lr.AccountID
}

func (s *craftSetup) startCraft(t *testing.T, token string) model.CraftingSession {
	t.Helper()
	w := postJSON(s.r, "/api/craft", map[string]int64{"recipe_id": s.recipeID},
		"Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, w.Code)
	var session model.CraftingSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	return session
}

func TestCraftStart(t *testing.T) {
	s := newCraftSetup(t)
	token, accountID := s.login(t, "alchemist")

	session := s.startCraft(t, token)
	assert.Equal(t, accountID, session.AccountID)
	assert.Equal(t, model.SessionMaterialsReserved, session.State)

	bal, _ := s.ledger.Balance(context.Background(), accountID, s.herbID)
	assert.Equal(t, int64(8), bal)
}

func TestCraftStart_InsufficientMaterials(t *testing.T) {
	s := newCraftSetup(t)
	token, accountID := s.login(t, "alchemist")
	_, err := s.ledger.Debit(context.Background(), accountID, s.herbID, 9)
	require.NoError(t, err)

	w := postJSON(s.r, "/api/craft", map[string]int64{"recipe_id": s.recipeID},
		"Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCraftStart_UnknownRecipe(t *testing.T) {
	s := newCraftSetup(t)
	token, _ := s.login(t, "alchemist")

	w := postJSON(s.r, "/api/craft", map[string]int64{"recipe_id": 999},
		"Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCraftComplete_TimeGate(t *testing.T) {
	s := newCraftSetup(t)
	token, accountID := s.login(t, "alchemist")
	session := s.startCraft(t, token)

	// The gate has not passed yet.
	w := postJSON(s.r, fmt.Sprintf("/api/craft/%d/complete", session.ID), nil,
		"Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusConflict, w.Code)

	s.svc.SetClock(func() time.Time { return session.CompletesAt })
	w = postJSON(s.r, fmt.Sprintf("/api/craft/%d/complete", session.ID), nil,
		"Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	var resolved model.CraftingSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resolved))
	assert.Equal(t, model.SessionSucceeded, resolved.State)

	bal, _ := s.ledger.Balance(context.Background(), accountID, s.potionID)
	assert.Equal(t, int64(1), bal)

	// Terminal sessions conflict on a second attempt.
	w = postJSON(s.r, fmt.Sprintf("/api/craft/%d/complete", session.ID), nil,
		"Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCraftCancel(t *testing.T) {
	s := newCraftSetup(t)
	token, accountID := s.login(t, "alchemist")
	session := s.startCraft(t, token)

	w := postJSON(s.r, fmt.Sprintf("/api/craft/%d/cancel", session.ID), nil,
		"Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)

	bal, _ := s.ledger.Balance(context.Background(), accountID, s.herbID)
	assert.Equal(t, int64(10), bal)
}

func TestCraftStatus_ForeignSessionHidden(t *testing.T) {
	s := newCraftSetup(t)
	ownerTok, _ := s.login(t, "owner")
	session := s.startCraft(t, ownerTok)

	otherTok, _ := s.login(t, "other")
	w := getReq(s.r, fmt.Sprintf("/api/craft/%d", session.ID),
		"Authorization", "Bearer "+otherTok)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Mutations are hidden the same way.
	w = postJSON(s.r, fmt.Sprintf("/api/craft/%d/cancel", session.ID), nil,
		"Authorization", "Bearer "+otherTok)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCraftStatus_Progress(t *testing.T) {
	s := newCraftSetup(t)
	token, _ := s.login(t, "alchemist")
	session := s.startCraft(t, token)

	s.svc.SetClock(func() time.Time { return session.StartedAt.Add(30 * time.Second) })
	w := getReq(s.r, fmt.Sprintf("/api/craft/%d", session.ID),
		"Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Progress int `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 50, resp.Progress)
}

func TestCraftHistory(t *testing.T) {
	s := newCraftSetup(t)
	token, _ := s.login(t, "alchemist")
	s.startCraft(t, token)
	s.startCraft(t, token)

	w := getReq(s.r, "/api/craft/history", "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Sessions []model.CraftingSession `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 2)
}

func TestMaterialTransferEndpoint(t *testing.T) {
	s := newCraftSetup(t)
	token, _ := s.login(t, "sender")
	_, recipientID := s.login(t, "recipient")

	w := postJSON(s.r, "/api/materials/transfer", map[string]int64{
		"to_account_id": recipientID,
		"material_id":   s.herbID,
		"amount":        4,
	}, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)

	bal, _ := s.ledger.Balance(context.Background(), recipientID, s.herbID)
	assert.Equal(t, int64(14), bal)
}

func TestMaterialTransfer_NotTransferable(t *testing.T) {
	s := newCraftSetup(t)
	token, accountID := s.login(t, "sender")
	_, recipientID := s.login(t, "recipient")

	_, err := s.ledger.Credit(context.Background(), accountID, s.potionID, 5)
	require.NoError(t, err)

	w := postJSON(s.r, "/api/materials/transfer", map[string]int64{
		"to_account_id": recipientID,
		"material_id":   s.potionID,
		"amount":        1,
	}, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHoldingsEndpoints(t *testing.T) {
	s := newCraftSetup(t)
	token, _ := s.login(t, "alchemist")

	w := getReq(s.r, "/api/holdings", "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Holdings []model.MaterialHolding `json:"holdings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Holdings, 1)
	assert.Equal(t, int64(10), resp.Holdings[0].Quantity)

	w = getReq(s.r, fmt.Sprintf("/api/holdings/%d", s.herbID), "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	assert.Equal(t, int64(10), bal.Balance)
}
