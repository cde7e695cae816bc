package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/ashvale/alchemyd/bridge"
	"github.com/ashvale/alchemyd/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Business-rule outcomes. These are expected rejections surfaced to
// the caller, never logged as system errors.
var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrStackLimitExceeded      = errors.New("stack limit exceeded")
	ErrMaterialDisabled        = errors.New("material disabled")
	ErrMaterialNotFound        = errors.New("material not found")
	ErrMaterialNotTransferable = errors.New("material not transferable")
	ErrInvalidAmount           = errors.New("amount must be positive")
)

// Service is the authoritative per-account material ledger.
// Holdings mutations for one account are serialized through a
// per-account mutex so a multi-ingredient reservation observes a
// consistent snapshot.
type Service struct {
	db     *gorm.DB
	bridge bridge.ExternalLedger
	logger *zap.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex // accountID → lock
}

// NewService creates a ledger Service. br may be nil when no external
// mirror is configured.
func NewService(db *gorm.DB, br bridge.ExternalLedger, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		bridge: br,
		logger: logger,
		locks:  make(map[int64]*sync.Mutex),
	}
}

func (svc *Service) accountLock(accountID int64) *sync.Mutex {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	l, ok := svc.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		svc.locks[accountID] = l
	}
	return l
}

// WithAccountLock serializes fn with every other holdings mutation for
// the account. Callers composing CreditTx or RefundTx with their own
// state changes run the whole transaction inside fn.
func (svc *Service) WithAccountLock(accountID int64, fn func() error) error {
	l := svc.accountLock(accountID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// Credit increases a holding and returns the new balance. The stack
// limit is a hard cap at credit time: excess is rejected, never
// truncated.
func (svc *Service) Credit(ctx context.Context, accountID, materialID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	l := svc.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	var newBal int64
	var bridged bool
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		newBal, bridged, err = creditTx(tx, accountID, materialID, amount)
		return err
	})
	if err != nil {
		return 0, err
	}

	if bridged {
		svc.MirrorMint(ctx, accountID, materialID, amount)
	}
	return newBal, nil
}

// Debit decreases a holding. Fails with ErrInsufficientBalance when
// the account holds less than amount.
func (svc *Service) Debit(ctx context.Context, accountID, materialID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	l := svc.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	var newBal int64
	var bridged bool
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var def model.MaterialDefinition
		if err := tx.First(&def, materialID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMaterialNotFound
			}
			return err
		}
		bridged = def.Bridged

		var holding model.MaterialHolding
		err := tx.Where("account_id = ? AND material_id = ?", accountID, materialID).
			First(&holding).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && holding.Quantity < amount) {
			return ErrInsufficientBalance
		}
		if err != nil {
			return err
		}
		newBal = holding.Quantity - amount
		return tx.Model(&holding).Update("quantity", newBal).Error
	})
	if err != nil {
		return 0, err
	}

	if bridged {
		svc.mirrorBurn(ctx, accountID, materialID, amount)
	}
	return newBal, nil
}

// Transfer moves a transferable material between two accounts as one
// atomic operation. Both account locks are taken in ID order so two
// opposite transfers cannot deadlock.
func (svc *Service) Transfer(ctx context.Context, fromID, toID, materialID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if fromID == toID {
		return ErrInvalidAmount
	}

	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}
	l1, l2 := svc.accountLock(first), svc.accountLock(second)
	l1.Lock()
	defer l1.Unlock()
	l2.Lock()
	defer l2.Unlock()

	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var def model.MaterialDefinition
		if err := tx.First(&def, materialID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMaterialNotFound
			}
			return err
		}
		if !def.Transferable {
			return ErrMaterialNotTransferable
		}

		res := tx.Model(&model.MaterialHolding{}).
			Where("account_id = ? AND material_id = ? AND quantity >= ?",
				fromID, materialID, amount).
			Update("quantity", gorm.Expr("quantity - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}

		_, _, err := creditTx(tx, toID, materialID, amount)
		return err
	})
}

// Balance returns the quantity held, 0 for unknown pairs.
func (svc *Service) Balance(ctx context.Context, accountID, materialID int64) (int64, error) {
	var holding model.MaterialHolding
	err := svc.db.WithContext(ctx).
		Where("account_id = ? AND material_id = ?", accountID, materialID).
		First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return holding.Quantity, nil
}

// Holdings returns all non-zero holdings of an account.
func (svc *Service) Holdings(ctx context.Context, accountID int64) ([]model.MaterialHolding, error) {
	var holdings []model.MaterialHolding
	err := svc.db.WithContext(ctx).
		Where("account_id = ? AND quantity > 0", accountID).
		Order("material_id").
		Find(&holdings).Error
	return holdings, err
}

// TransferLock atomically checks and debits every ingredient as a
// single all-or-nothing operation and returns a reservation token.
// A reservation that will not proceed is reversed with Refund.
func (svc *Service) TransferLock(ctx context.Context, accountID int64, ingredients []model.Ingredient) (string, error) {
	if len(ingredients) == 0 {
		return "", ErrInvalidAmount
	}
	// Fixed debit order keeps multi-row updates deterministic.
	sorted := make([]model.Ingredient, len(ingredients))
	copy(sorted, ingredients)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MaterialID < sorted[j].MaterialID })

	l := svc.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	var burns []model.Ingredient
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Check all before touching anything so no partial debit is
		// ever observable.
		for _, ing := range sorted {
			if ing.Quantity <= 0 {
				return ErrInvalidAmount
			}
			var holding model.MaterialHolding
			err := tx.Where("account_id = ? AND material_id = ?", accountID, ing.MaterialID).
				First(&holding).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && holding.Quantity < ing.Quantity) {
				return ErrInsufficientBalance
			}
			if err != nil {
				return err
			}
		}
		for _, ing := range sorted {
			res := tx.Model(&model.MaterialHolding{}).
				Where("account_id = ? AND material_id = ? AND quantity >= ?",
					accountID, ing.MaterialID, ing.Quantity).
				Update("quantity", gorm.Expr("quantity - ?", ing.Quantity))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrInsufficientBalance
			}
			var def model.MaterialDefinition
			if err := tx.First(&def, ing.MaterialID).Error; err == nil && def.Bridged {
				burns = append(burns, ing)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	for _, ing := range burns {
		svc.mirrorBurn(ctx, accountID, ing.MaterialID, ing.Quantity)
	}
	return uuid.New().String(), nil
}

// Refund restores every ingredient of a reservation that will not
// proceed, as one atomic batch. A refund reverses quantities the
// account already held, so the enabled flag and stack limit do not
// block it.
func (svc *Service) Refund(ctx context.Context, accountID int64, ingredients []model.Ingredient) error {
	var mints []model.Ingredient
	err := svc.WithAccountLock(accountID, func() error {
		return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			mints, err = svc.RefundTx(tx, accountID, ingredients)
			return err
		})
	})
	if err != nil {
		return err
	}

	for _, ing := range mints {
		svc.MirrorMint(ctx, accountID, ing.MaterialID, ing.Quantity)
	}
	return nil
}

// CreditTx applies one credit inside the caller's open transaction.
// The caller holds the account lock via WithAccountLock and, when the
// material is bridged, mirrors the mint after commit with MirrorMint.
func (svc *Service) CreditTx(tx *gorm.DB, accountID, materialID, amount int64) (int64, bool, error) {
	return creditTx(tx, accountID, materialID, amount)
}

// RefundTx applies a reservation reversal inside the caller's open
// transaction and returns the bridged ingredients to mirror after
// commit. Same locking contract as CreditTx.
func (svc *Service) RefundTx(tx *gorm.DB, accountID int64, ingredients []model.Ingredient) ([]model.Ingredient, error) {
	var mints []model.Ingredient
	for _, ing := range ingredients {
		bridged, err := refundTx(tx, accountID, ing.MaterialID, ing.Quantity)
		if err != nil {
			return nil, err
		}
		if bridged {
			mints = append(mints, ing)
		}
	}
	return mints, nil
}

// creditTx applies one credit inside an open transaction.
func creditTx(tx *gorm.DB, accountID, materialID, amount int64) (newBal int64, bridged bool, err error) {
	var def model.MaterialDefinition
	if err := tx.First(&def, materialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, ErrMaterialNotFound
		}
		return 0, false, err
	}
	if !def.Enabled {
		return 0, false, ErrMaterialDisabled
	}

	var holding model.MaterialHolding
	findErr := tx.Where("account_id = ? AND material_id = ?", accountID, materialID).
		First(&holding).Error
	if findErr != nil && !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return 0, false, findErr
	}

	newBal = holding.Quantity + amount
	if newBal > def.StackLimit {
		return 0, false, ErrStackLimitExceeded
	}

	if errors.Is(findErr, gorm.ErrRecordNotFound) {
		holding = model.MaterialHolding{AccountID: accountID, MaterialID: materialID, Quantity: amount}
		if err := tx.Create(&holding).Error; err != nil {
			return 0, false, err
		}
		return newBal, def.Bridged, nil
	}
	if err := tx.Model(&holding).Update("quantity", newBal).Error; err != nil {
		return 0, false, err
	}
	return newBal, def.Bridged, nil
}

// refundTx restores a previously debited quantity inside an open
// transaction. Unlike creditTx it skips the enabled and stack-limit
// gates: disabling a material never invalidates an open reservation.
func refundTx(tx *gorm.DB, accountID, materialID, amount int64) (bridged bool, err error) {
	var def model.MaterialDefinition
	if err := tx.First(&def, materialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrMaterialNotFound
		}
		return false, err
	}

	var holding model.MaterialHolding
	findErr := tx.Where("account_id = ? AND material_id = ?", accountID, materialID).
		First(&holding).Error
	if findErr != nil && !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return false, findErr
	}
	if errors.Is(findErr, gorm.ErrRecordNotFound) {
		holding = model.MaterialHolding{AccountID: accountID, MaterialID: materialID, Quantity: amount}
		return def.Bridged, tx.Create(&holding).Error
	}
	return def.Bridged, tx.Model(&holding).
		Update("quantity", gorm.Expr("quantity + ?", amount)).Error
}

// MirrorMint announces a committed credit of a bridged material to the
// external ledger. Best effort, never blocking.
func (svc *Service) MirrorMint(ctx context.Context, accountID, materialID, amount int64) {
	if svc.bridge == nil {
		return
	}
	if err := svc.bridge.Mint(ctx, accountID, materialID, amount); err != nil {
		svc.logger.Warn("bridge mint failed",
			zap.Int64("account_id", accountID),
			zap.Int64("material_id", materialID),
			zap.Error(err))
	}
}

func (svc *Service) mirrorBurn(ctx context.Context, accountID, materialID, amount int64) {
	if svc.bridge == nil {
		return
	}
	if err := svc.bridge.Burn(ctx, accountID, materialID, amount); err != nil {
		svc.logger.Warn("bridge burn failed",
			zap.Int64("account_id", accountID),
			zap.Int64("material_id", materialID),
			zap.Error(err))
	}
}

// DecodeIngredients parses an ingredient list stored as JSON.
func DecodeIngredients(raw []byte) ([]model.Ingredient, error) {
	var out []model.Ingredient
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
