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
	"github.com/ashvale/alchemyd/engine/registry"
	mw "github.com/ashvale/alchemyd/middleware"
	"github.com/ashvale/alchemyd/model"
	"github.com/ashvale/alchemyd/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recipeSetup struct {
	r        *gin.Engine
	registry *registry.Service
}

func newRecipeSetup(t *testing.T) *recipeSetup {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}
	logger := zap.NewNop()

	reg := registry.NewService(db, logger)
	authH := rest.NewAuthHandler(db, c, sec)
	recipeH := rest.NewRecipeHandler(reg)

	r := gin.New()
	r.POST("/api/auth/login", authH.Login)
	r.GET("/api/recipes", recipeH.List)
	r.GET("/api/recipes/:id", recipeH.Detail)
	r.POST("/api/recipes", mw.Auth(sec, c), recipeH.Create)
	return &recipeSetup{r: r, registry: reg}
}

func (s *recipeSetup) login(t *testing.T, username string) string {
	t.Helper()
	w := postJSON(s.r, "/api/auth/login", map[string]string{"username": username, "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	var lr struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lr))
	return lr.Token
}

func validRecipeBody() map[string]interface{} {
	return map[string]interface{}{
		"name":               "Minor Healing Draught",
		"ingredients":        []map[string]int64{{"material_id": 1, "quantity": 2}},
		"duration_seconds":   60,
		"success_rate":       80,
		"result_material_id": 2,
		"result_quantity":    1,
		"result_rarity":      "Common",
	}
}

func TestRecipeCreate(t *testing.T) {
	s := newRecipeSetup(t)
	token := s.login(t, "brewer")

	w := postJSON(s.r, "/api/recipes", validRecipeBody(), "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, w.Code)
	var recipe model.RecipeDefinition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recipe))
	assert.False(t, recipe.Approved)
	assert.NotZero(t, recipe.CreatorID)
}

func TestRecipeCreate_InvalidRate(t *testing.T) {
	s := newRecipeSetup(t)
	token := s.login(t, "brewer")

	body := validRecipeBody()
	body["success_rate"] = 101
	w := postJSON(s.r, "/api/recipes", body, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecipeCreate_DuplicateIngredient(t *testing.T) {
	s := newRecipeSetup(t)
	token := s.login(t, "brewer")

	body := validRecipeBody()
	body["ingredients"] = []map[string]int64{
		{"material_id": 1, "quantity": 2},
		{"material_id": 1, "quantity": 3},
	}
	w := postJSON(s.r, "/api/recipes", body, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecipeCreate_Unauthorized(t *testing.T) {
	s := newRecipeSetup(t)
	w := postJSON(s.r, "/api/recipes", validRecipeBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRecipeList_ApprovedFilter(t *testing.T) {
	s := newRecipeSetup(t)
	token := s.login(t, "brewer")

	w := postJSON(s.r, "/api/recipes", validRecipeBody(), "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, w.Code)
	var pending model.RecipeDefinition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))

	// Pending recipes are hidden from the default listing.
	w = getReq(s.r, "/api/recipes")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Recipes []model.RecipeDefinition `json:"recipes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Recipes, 0)

	w = getReq(s.r, "/api/recipes?all=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Recipes, 1)

	require.NoError(t, s.registry.Approve(context.Background(), pending.ID, true))
	w = getReq(s.r, "/api/recipes")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Recipes, 1)
}

func TestRecipeDetail(t *testing.T) {
	s := newRecipeSetup(t)
	token := s.login(t, "brewer")

	w := postJSON(s.r, "/api/recipes", validRecipeBody(), "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, w.Code)
	var recipe model.RecipeDefinition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recipe))

	w = getReq(s.r, fmt.Sprintf("/api/recipes/%d", recipe.ID))
	require.Equal(t, http.StatusOK, w.Code)

	w = getReq(s.r, "/api/recipes/999")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
