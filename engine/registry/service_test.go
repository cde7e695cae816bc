package registry

import (
	"context"
	"testing"

	"github.com/ashvale/alchemyd/model"
	"github.com/ashvale/alchemyd/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewService(testutil.SetupTestDB(t), logger)
}

func validParams() CreateParams {
	return CreateParams{
		Name:             "Minor Healing Draught",
		Ingredients:      []model.Ingredient{{MaterialID: 1, Quantity: 2}, {MaterialID: 2, Quantity: 1}},
		DurationSeconds:  60,
		SuccessRate:      80,
		ResultMaterialID: 3,
		ResultQuantity:   1,
		ResultRarity:     "Common",
		CreatorID:        1,
	}
}

func TestCreate_StartsUnapproved(t *testing.T) {
	svc := newTestService(t)

	recipe, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)
	assert.False(t, recipe.Approved)
	assert.True(t, recipe.Enabled)
	assert.NotZero(t, recipe.ID)
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"empty name", func(p *CreateParams) { p.Name = "" }},
		{"no ingredients", func(p *CreateParams) { p.Ingredients = nil }},
		{"too many ingredients", func(p *CreateParams) {
			p.Ingredients = nil
			for i := int64(1); i <= 11; i++ {
				p.Ingredients = append(p.Ingredients, model.Ingredient{MaterialID: i, Quantity: 1})
			}
		}},
		{"duplicate ingredient", func(p *CreateParams) {
			p.Ingredients = []model.Ingredient{{MaterialID: 1, Quantity: 1}, {MaterialID: 1, Quantity: 2}}
		}},
		{"zero quantity", func(p *CreateParams) {
			p.Ingredients = []model.Ingredient{{MaterialID: 1, Quantity: 0}}
		}},
		{"zero duration", func(p *CreateParams) { p.DurationSeconds = 0 }},
		{"rate too low", func(p *CreateParams) { p.SuccessRate = 0 }},
		{"rate too high", func(p *CreateParams) { p.SuccessRate = 101 }},
		{"zero result quantity", func(p *CreateParams) { p.ResultQuantity = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := svc.Create(ctx, p)
			assert.ErrorIs(t, err, ErrInvalidRecipe)
		})
	}
}

func TestResolve_GateOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	recipe, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	// Unapproved blocks first, even though the recipe is enabled.
	_, err = svc.Resolve(ctx, recipe.ID)
	assert.ErrorIs(t, err, ErrRecipeNotApproved)

	// Approved but disabled reports the disabled state.
	require.NoError(t, svc.Approve(ctx, recipe.ID, true))
	require.NoError(t, svc.SetEnabled(ctx, recipe.ID, false))
	_, err = svc.Resolve(ctx, recipe.ID)
	assert.ErrorIs(t, err, ErrRecipeDisabled)

	require.NoError(t, svc.SetEnabled(ctx, recipe.ID, true))
	resolved, err := svc.Resolve(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, recipe.ID, resolved.ID)
}

func TestResolve_NotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Resolve(context.Background(), 999)
	assert.ErrorIs(t, err, ErrRecipeNotFound)
}

func TestGet_IgnoresApproval(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	recipe, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	got, err := svc.Get(ctx, recipe.ID)
	require.NoError(t, err)
	assert.False(t, got.Approved)
}

func TestList_ApprovedOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, validParams())
	require.NoError(t, err)
	p := validParams()
	p.Name = "Greater Healing Draught"
	second, err := svc.Create(ctx, p)
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, second.ID, true))

	approved, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, second.ID, approved[0].ID)

	all, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	_ = first
}

func TestApprove_Unknown(t *testing.T) {
	svc := newTestService(t)
	err := svc.Approve(context.Background(), 999, true)
	assert.ErrorIs(t, err, ErrRecipeNotFound)
}

func TestSetEnabled_Unknown(t *testing.T) {
	svc := newTestService(t)
	err := svc.SetEnabled(context.Background(), 999, false)
	assert.ErrorIs(t, err, ErrRecipeNotFound)
}
