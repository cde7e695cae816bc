package crafting

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ashvale/alchemyd/engine/ledger"
	"github.com/ashvale/alchemyd/engine/registry"
	"github.com/ashvale/alchemyd/hook"
	"github.com/ashvale/alchemyd/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionNotReady        = errors.New("session not ready")
	ErrSessionAlreadyTerminal = errors.New("session already terminal")
	ErrSessionNotCancellable  = errors.New("session past cancellation window")
)

// Service drives crafting sessions through their lifecycle:
// reservation at start, a time gate, then a single probabilistic
// resolution. Materials are consumed at start; a failed craft does not
// refund them. Cancel before the gate is the only refund path.
type Service struct {
	db       *gorm.DB
	registry *registry.Service
	ledger   *ledger.Service
	hooks    *hook.Center
	logger   *zap.Logger

	now  func() time.Time
	roll func() int // uniform in [1,100]
}

// NewService creates a crafting Service. hooks may be nil.
func NewService(db *gorm.DB, reg *registry.Service, led *ledger.Service, hooks *hook.Center, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		registry: reg,
		ledger:   led,
		hooks:    hooks,
		logger:   logger,
		now:      time.Now,
		roll:     func() int { return rand.Intn(100) + 1 },
	}
}

// SetClock overrides the time source. Test use.
func (svc *Service) SetClock(now func() time.Time) { svc.now = now }

// SetRoll overrides the random source. Test use.
func (svc *Service) SetRoll(roll func() int) { svc.roll = roll }

// Start resolves the recipe, reserves all its ingredients as one
// all-or-nothing debit, and creates the session. On any failure no
// session exists and no materials are consumed.
func (svc *Service) Start(ctx context.Context, accountID, recipeID int64) (*model.CraftingSession, error) {
	recipe, err := svc.registry.Resolve(ctx, recipeID)
	if err != nil {
		return nil, err
	}
	ingredients, err := ledger.DecodeIngredients(recipe.Ingredients)
	if err != nil {
		return nil, err
	}

	token, err := svc.ledger.TransferLock(ctx, accountID, ingredients)
	if err != nil {
		return nil, err
	}

	started := svc.now()
	session := &model.CraftingSession{
		AccountID:           accountID,
		RecipeID:            recipe.ID,
		ReservationToken:    token,
		IngredientsSnapshot: recipe.Ingredients,
		State:               model.SessionMaterialsReserved,
		StartedAt:           started,
		CompletesAt:         started.Add(time.Duration(recipe.DurationSeconds) * time.Second),
	}
	if err := svc.db.WithContext(ctx).Create(session).Error; err != nil {
		// The reservation already debited the account; hand the
		// materials back rather than leaving them in limbo.
		if rerr := svc.ledger.Refund(ctx, accountID, ingredients); rerr != nil {
			svc.logger.Error("refund after failed session create",
				zap.Int64("account_id", accountID), zap.Error(rerr))
		}
		return nil, err
	}

	svc.trigger(ctx, hook.OnCraftStarted, session)
	svc.logger.Info("crafting started",
		zap.Int64("session_id", session.ID),
		zap.Int64("account_id", accountID),
		zap.Int64("recipe_id", recipe.ID))
	return session, nil
}

// Complete resolves a session once its time gate has passed. The roll
// is drawn exactly once; repeated calls on a terminal session return
// ErrSessionAlreadyTerminal without a second roll or credit. The state
// change and the result credit commit together: if the result cannot
// be credited the session stays open and the error is returned.
func (svc *Service) Complete(ctx context.Context, sessionID int64) (*model.CraftingSession, error) {
	session, err := svc.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Terminal() {
		return session, ErrSessionAlreadyTerminal
	}
	now := svc.now()
	if now.Before(session.CompletesAt) {
		return session, ErrSessionNotReady
	}

	recipe, err := svc.registry.Get(ctx, session.RecipeID)
	if err != nil {
		return nil, err
	}

	roll := svc.roll()
	state := model.SessionFailed
	if roll <= recipe.SuccessRate {
		state = model.SessionSucceeded
	}

	// Compare-and-swap out of MaterialsReserved; a concurrent Complete
	// or Cancel wins at most once. The result credit rides in the same
	// transaction so a rejected credit rolls the resolution back.
	var swapped, bridged bool
	err = svc.ledger.WithAccountLock(session.AccountID, func() error {
		return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.CraftingSession{}).
				Where("id = ? AND state = ?", sessionID, model.SessionMaterialsReserved).
				Updates(map[string]interface{}{
					"state":       state,
					"roll":        roll,
					"resolved_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			swapped = true
			if err := tx.Model(&model.RecipeDefinition{}).
				Where("id = ?", recipe.ID).
				Update("times_crafted", gorm.Expr("times_crafted + 1")).Error; err != nil {
				return err
			}
			if state == model.SessionSucceeded {
				var err error
				_, bridged, err = svc.ledger.CreditTx(tx, session.AccountID, recipe.ResultMaterialID, recipe.ResultQuantity)
				return err
			}
			return nil
		})
	})
	if err != nil {
		return session, err
	}
	if !swapped {
		session, _ = svc.Get(ctx, sessionID)
		return session, ErrSessionAlreadyTerminal
	}

	session.State = state
	session.Roll = &roll
	session.ResolvedAt = &now

	if bridged {
		svc.ledger.MirrorMint(ctx, session.AccountID, recipe.ResultMaterialID, recipe.ResultQuantity)
	}

	svc.trigger(ctx, hook.OnCraftResolved, session)
	svc.logger.Info("crafting resolved",
		zap.Int64("session_id", sessionID),
		zap.Int("roll", roll),
		zap.Bool("succeeded", state == model.SessionSucceeded))
	return session, nil
}

// Cancel reverses the reservation before the time gate and marks the
// session Cancelled. Exactly one of Cancel and Complete wins.
func (svc *Service) Cancel(ctx context.Context, sessionID int64) (*model.CraftingSession, error) {
	session, err := svc.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Terminal() {
		return session, ErrSessionAlreadyTerminal
	}
	now := svc.now()
	if !now.Before(session.CompletesAt) {
		return session, ErrSessionNotCancellable
	}

	ingredients, err := ledger.DecodeIngredients(session.IngredientsSnapshot)
	if err != nil {
		return nil, err
	}

	// The refund rides in the CAS transaction: either the session is
	// Cancelled and every ingredient is back, or neither happened.
	var swapped bool
	var mints []model.Ingredient
	err = svc.ledger.WithAccountLock(session.AccountID, func() error {
		return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.CraftingSession{}).
				Where("id = ? AND state = ?", sessionID, model.SessionMaterialsReserved).
				Updates(map[string]interface{}{
					"state":       model.SessionCancelled,
					"resolved_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			swapped = true
			var err error
			mints, err = svc.ledger.RefundTx(tx, session.AccountID, ingredients)
			return err
		})
	})
	if err != nil {
		return session, err
	}
	if !swapped {
		session, _ = svc.Get(ctx, sessionID)
		return session, ErrSessionAlreadyTerminal
	}

	for _, ing := range mints {
		svc.ledger.MirrorMint(ctx, session.AccountID, ing.MaterialID, ing.Quantity)
	}

	session.State = model.SessionCancelled
	session.ResolvedAt = &now

	svc.trigger(ctx, hook.OnCraftCancelled, session)
	svc.logger.Info("crafting cancelled", zap.Int64("session_id", sessionID))
	return session, nil
}

// Get returns one session.
func (svc *Service) Get(ctx context.Context, sessionID int64) (*model.CraftingSession, error) {
	var session model.CraftingSession
	err := svc.db.WithContext(ctx).First(&session, sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// History returns an account's sessions, newest first.
func (svc *Service) History(ctx context.Context, accountID int64, limit int) ([]model.CraftingSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []model.CraftingSession
	err := svc.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// Progress reports completion percentage against the time gate, capped
// at 100 for sessions past it but not yet resolved.
func (svc *Service) Progress(session *model.CraftingSession) int {
	if session.Terminal() {
		return 100
	}
	total := session.CompletesAt.Sub(session.StartedAt)
	if total <= 0 {
		return 100
	}
	elapsed := svc.now().Sub(session.StartedAt)
	p := int(elapsed * 100 / total)
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}

// PruneTerminal deletes terminal sessions resolved before the cutoff.
// Called by the scheduler; returns the number of rows removed.
func (svc *Service) PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res := svc.db.WithContext(ctx).
		Where("state <> ? AND resolved_at < ?", model.SessionMaterialsReserved, cutoff).
		Delete(&model.CraftingSession{})
	return res.RowsAffected, res.Error
}

func (svc *Service) trigger(ctx context.Context, event string, session *model.CraftingSession) {
	if svc.hooks == nil {
		return
	}
	if _, err := svc.hooks.Trigger(ctx, event, session); err != nil && !errors.Is(err, hook.ErrInterrupt) {
		svc.logger.Warn("hook trigger failed", zap.String("event", event), zap.Error(err))
	}
}
