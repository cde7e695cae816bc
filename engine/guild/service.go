package guild

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ashvale/alchemyd/cache"
	"github.com/ashvale/alchemyd/engine/ledger"
	"github.com/ashvale/alchemyd/hook"
	"github.com/ashvale/alchemyd/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrGuildNotFound            = errors.New("guild not found")
	ErrGuildNotPublic           = errors.New("guild is not public")
	ErrAlreadyInGuild           = errors.New("already in a guild")
	ErrNotAMember               = errors.New("not a guild member")
	ErrCannotLeaveAsSoleFounder = errors.New("founder cannot leave the guild")
	ErrInsufficientPrivilege    = errors.New("insufficient privilege")
	ErrInsufficientTreasury     = errors.New("insufficient treasury funds")
	ErrQuestNotFound            = errors.New("quest not found")
	ErrQuestAlreadyAssigned     = errors.New("quest already assigned")
	ErrQuestAlreadyTerminal     = errors.New("quest already terminal")
	ErrQuestExpired             = errors.New("quest expired")
	ErrQuestNotExpired          = errors.New("quest not yet expired")
	ErrRequirementNotMet        = errors.New("requirement not met")
	ErrNotAssignee              = errors.New("not the quest assignee")
	ErrInvalidQuest             = errors.New("invalid quest parameters")
	ErrGuildBusy                = errors.New("guild is busy, please retry")
)

// questRepDivisor sets the completion reputation bonus: reward/10,
// minimum 1.
const questRepDivisor = 10

// Service owns guild membership, reputation, treasury and quest
// bookkeeping. Treasury-affecting quest operations are serialized with
// a per-guild cache lock so concurrent quest creation cannot
// overcommit the earmarked balance.
type Service struct {
	db     *gorm.DB
	cache  cache.Cache
	ledger *ledger.Service
	hooks  *hook.Center
	logger *zap.Logger

	now func() time.Time
}

// NewService creates a guild Service. hooks may be nil.
func NewService(db *gorm.DB, c cache.Cache, led *ledger.Service, hooks *hook.Center, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		cache:  c,
		ledger: led,
		hooks:  hooks,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test use.
func (svc *Service) SetClock(now func() time.Time) { svc.now = now }

// lockGuild acquires the per-guild treasury lock with a short retry
// window. The returned func releases it.
func (svc *Service) lockGuild(ctx context.Context, guildID int64) (func(), error) {
	key := fmt.Sprintf("lock:guild:%d", guildID)
	for i := 0; i < 40; i++ {
		ok, err := svc.cache.SetNX(ctx, key, "1", 30*time.Second)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { _ = svc.cache.Del(context.Background(), key) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
	return nil, ErrGuildBusy
}

// CreateParams carries a new guild submission.
type CreateParams struct {
	Name               string
	Description        string
	IsPublic           bool
	MinContribution    int64
	TreasuryMaterialID int64
}

// CreateGuild creates a guild with the founder as its first member.
func (svc *Service) CreateGuild(ctx context.Context, founderID int64, p CreateParams) (*model.Guild, error) {
	var g model.Guild
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireNoActiveMembership(tx, founderID); err != nil {
			return err
		}
		g = model.Guild{
			Name:               p.Name,
			Description:        p.Description,
			FounderID:          founderID,
			IsPublic:           p.IsPublic,
			MinContribution:    p.MinContribution,
			MemberCount:        1,
			TreasuryMaterialID: p.TreasuryMaterialID,
		}
		if err := tx.Create(&g).Error; err != nil {
			return err
		}
		member := model.Membership{
			GuildID:   g.ID,
			AccountID: founderID,
			Role:      model.RoleFounder,
			Active:    true,
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		return nil, err
	}

	svc.trigger(ctx, hook.OnGuildCreated, &g)
	svc.logger.Info("guild created",
		zap.Int64("guild_id", g.ID), zap.Int64("founder_id", founderID))
	return &g, nil
}

func requireNoActiveMembership(tx *gorm.DB, accountID int64) error {
	var existing model.Membership
	err := tx.Where("account_id = ? AND active = ?", accountID, true).
		First(&existing).Error
	if err == nil {
		return ErrAlreadyInGuild
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return nil
}

// Join admits an account into a public guild with role Member.
// Private guilds require an invitation flow this engine does not own.
func (svc *Service) Join(ctx context.Context, accountID, guildID int64) (*model.Membership, error) {
	var member model.Membership
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g model.Guild
		if err := tx.First(&g, guildID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGuildNotFound
			}
			return err
		}
		if !g.IsPublic {
			return ErrGuildNotPublic
		}
		if err := requireNoActiveMembership(tx, accountID); err != nil {
			return err
		}

		// Rejoining after Leave reactivates the old row.
		err := tx.Where("guild_id = ? AND account_id = ?", guildID, accountID).
			First(&member).Error
		if err == nil {
			member.Active = true
			member.Role = model.RoleMember
			if err := tx.Save(&member).Error; err != nil {
				return err
			}
		} else if errors.Is(err, gorm.ErrRecordNotFound) {
			member = model.Membership{
				GuildID:   guildID,
				AccountID: accountID,
				Role:      model.RoleMember,
				Active:    true,
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
		} else {
			return err
		}
		return tx.Model(&g).Update("member_count", gorm.Expr("member_count + 1")).Error
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// Leave deactivates the account's membership. The founder cannot
// leave; founder transfer is a separate administrative action.
func (svc *Service) Leave(ctx context.Context, accountID int64) error {
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := activeMembership(tx, accountID)
		if err != nil {
			return err
		}
		if member.Role == model.RoleFounder {
			return ErrCannotLeaveAsSoleFounder
		}
		if err := tx.Model(member).Update("active", false).Error; err != nil {
			return err
		}
		return tx.Model(&model.Guild{}).Where("id = ?", member.GuildID).
			Update("member_count", gorm.Expr("member_count - 1")).Error
	})
}

func activeMembership(tx *gorm.DB, accountID int64) (*model.Membership, error) {
	var member model.Membership
	err := tx.Where("account_id = ? AND active = ?", accountID, true).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotAMember
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// Contribute debits the guild's treasury material from the member and
// credits the treasury, awarding contribution and reputation
// (coefficient fixed point, 100 = 1.0x). Members reaching the guild's
// contribution threshold are promoted to Contributor.
func (svc *Service) Contribute(ctx context.Context, accountID, amount int64) (*model.Membership, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	var member *model.Membership
	var g model.Guild
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		member, err = activeMembership(tx, accountID)
		if err != nil {
			return err
		}
		return tx.First(&g, member.GuildID).Error
	})
	if err != nil {
		return nil, err
	}

	unlock, err := svc.lockGuild(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := svc.ledger.Debit(ctx, accountID, g.TreasuryMaterialID, amount); err != nil {
		return nil, err
	}

	repGain := amount * g.ReputationCoefficient / 100
	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Guild{}).Where("id = ?", g.ID).
			Updates(map[string]interface{}{
				"treasury_balance": gorm.Expr("treasury_balance + ?", amount),
				"total_reputation": gorm.Expr("total_reputation + ?", repGain),
			}).Error; err != nil {
			return err
		}

		member.Contribution += amount
		member.Reputation += repGain
		if member.Role == model.RoleMember && member.Contribution >= g.MinContribution {
			member.Role = model.RoleContributor
		}
		return tx.Model(&model.Membership{}).Where("id = ?", member.ID).
			Updates(map[string]interface{}{
				"contribution": member.Contribution,
				"reputation":   member.Reputation,
				"role":         member.Role,
			}).Error
	})
	if err != nil {
		// The debit already went through; hand the material back.
		if _, cerr := svc.ledger.Credit(ctx, accountID, g.TreasuryMaterialID, amount); cerr != nil {
			svc.logger.Error("contribution rollback credit failed",
				zap.Int64("account_id", accountID), zap.Error(cerr))
		}
		return nil, err
	}

	svc.recordReputation(ctx, g.ID, accountID, member.Reputation)
	svc.recordActivity(ctx, g.ID, fmt.Sprintf("contribute:%d:%d", accountID, amount))

	svc.trigger(ctx, hook.OnContribution, member)
	svc.logger.Info("contribution made",
		zap.Int64("guild_id", g.ID),
		zap.Int64("account_id", accountID),
		zap.Int64("amount", amount))
	return member, nil
}

// PromoteMember changes a member's role. Only Officer and Founder may
// promote, never above their own role and never to Founder. Demotion
// is a Founder-only action.
func (svc *Service) PromoteMember(ctx context.Context, promoterID, targetID int64, newRole model.GuildRole) (*model.Membership, error) {
	if newRole >= model.RoleFounder || newRole < model.RoleMember {
		return nil, ErrInsufficientPrivilege
	}

	var target *model.Membership
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		promoter, err := activeMembership(tx, promoterID)
		if err != nil {
			return err
		}
		target, err = activeMembership(tx, targetID)
		if err != nil {
			return err
		}
		if promoter.GuildID != target.GuildID {
			return ErrNotAMember
		}
		if promoter.Role < model.RoleOfficer {
			return ErrInsufficientPrivilege
		}
		if newRole > promoter.Role {
			return ErrInsufficientPrivilege
		}
		if newRole < target.Role && promoter.Role != model.RoleFounder {
			return ErrInsufficientPrivilege
		}
		target.Role = newRole
		return tx.Model(target).Update("role", newRole).Error
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// QuestParams carries a new quest submission.
type QuestParams struct {
	Title        string
	Description  string
	RewardAmount int64
	RequiredRole model.GuildRole
	RequiredRep  int64
	ExpiresAt    time.Time
}

// CreateQuest earmarks the reward out of the treasury immediately so
// concurrent quest creation cannot overcommit it.
func (svc *Service) CreateQuest(ctx context.Context, creatorID int64, p QuestParams) (*model.GuildQuest, error) {
	if p.Title == "" || p.RewardAmount <= 0 || !p.ExpiresAt.After(svc.now()) {
		return nil, ErrInvalidQuest
	}

	creator, err := svc.Membership(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if creator.Role < model.RoleOfficer {
		return nil, ErrInsufficientPrivilege
	}

	unlock, err := svc.lockGuild(ctx, creator.GuildID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var quest model.GuildQuest
	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g model.Guild
		if err := tx.First(&g, creator.GuildID).Error; err != nil {
			return err
		}
		if g.TreasuryBalance < p.RewardAmount {
			return ErrInsufficientTreasury
		}
		if err := tx.Model(&g).
			Update("treasury_balance", gorm.Expr("treasury_balance - ?", p.RewardAmount)).Error; err != nil {
			return err
		}
		quest = model.GuildQuest{
			GuildID:      creator.GuildID,
			CreatorID:    creatorID,
			Title:        p.Title,
			Description:  p.Description,
			RewardAmount: p.RewardAmount,
			RequiredRole: p.RequiredRole,
			RequiredRep:  p.RequiredRep,
			ExpiresAt:    p.ExpiresAt,
			CreatedAt:    svc.now(),
		}
		return tx.Create(&quest).Error
	})
	if err != nil {
		return nil, err
	}

	svc.trigger(ctx, hook.OnQuestCreated, &quest)
	svc.logger.Info("quest created",
		zap.Int64("quest_id", quest.ID),
		zap.Int64("guild_id", quest.GuildID),
		zap.Int64("reward", quest.RewardAmount))
	return &quest, nil
}

// AcceptQuest assigns an open quest to a qualifying member. The
// assignee is set at most once (compare-and-swap on the null column).
func (svc *Service) AcceptQuest(ctx context.Context, accountID, questID int64) (*model.GuildQuest, error) {
	quest, err := svc.Quest(ctx, questID)
	if err != nil {
		return nil, err
	}
	if quest.Terminal() {
		return quest, ErrQuestAlreadyTerminal
	}
	if quest.AssigneeID != nil {
		return quest, ErrQuestAlreadyAssigned
	}
	if !svc.now().Before(quest.ExpiresAt) {
		return quest, ErrQuestExpired
	}

	member, err := svc.Membership(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if member.GuildID != quest.GuildID {
		return nil, ErrNotAMember
	}
	if member.Role < quest.RequiredRole || member.Reputation < quest.RequiredRep {
		return nil, ErrRequirementNotMet
	}

	res := svc.db.WithContext(ctx).Model(&model.GuildQuest{}).
		Where("id = ? AND assignee_id IS NULL AND completed = ? AND cancelled = ?",
			questID, false, false).
		Update("assignee_id", accountID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return quest, ErrQuestAlreadyAssigned
	}

	quest.AssigneeID = &accountID
	return quest, nil
}

// CompleteQuest pays the assignee out of the earmark and grants the
// completion reputation bonus.
func (svc *Service) CompleteQuest(ctx context.Context, accountID, questID int64) (*model.GuildQuest, error) {
	quest, err := svc.Quest(ctx, questID)
	if err != nil {
		return nil, err
	}
	if quest.Terminal() {
		return quest, ErrQuestAlreadyTerminal
	}
	if quest.AssigneeID == nil || *quest.AssigneeID != accountID {
		return quest, ErrNotAssignee
	}
	now := svc.now()
	if !now.Before(quest.ExpiresAt) {
		return quest, ErrQuestExpired
	}

	unlock, err := svc.lockGuild(ctx, quest.GuildID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var g model.Guild
	repGain := quest.RewardAmount / questRepDivisor
	if repGain < 1 {
		repGain = 1
	}
	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.GuildQuest{}).
			Where("id = ? AND completed = ? AND cancelled = ?", questID, false, false).
			Updates(map[string]interface{}{
				"completed":    true,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrQuestAlreadyTerminal
		}

		if err := tx.First(&g, quest.GuildID).Error; err != nil {
			return err
		}
		if err := tx.Model(&g).
			Update("total_reputation", gorm.Expr("total_reputation + ?", repGain)).Error; err != nil {
			return err
		}
		return tx.Model(&model.Membership{}).
			Where("guild_id = ? AND account_id = ?", quest.GuildID, accountID).
			Update("reputation", gorm.Expr("reputation + ?", repGain)).Error
	})
	if err != nil {
		return nil, err
	}

	// The reward was earmarked at creation; it now reaches the member's
	// holdings.
	if _, err := svc.ledger.Credit(ctx, accountID, g.TreasuryMaterialID, quest.RewardAmount); err != nil {
		svc.logger.Error("quest reward credit failed",
			zap.Int64("quest_id", questID), zap.Error(err))
	}

	quest.Completed = true
	quest.CompletedAt = &now

	var member model.Membership
	if err := svc.db.WithContext(ctx).
		Where("guild_id = ? AND account_id = ?", quest.GuildID, accountID).
		First(&member).Error; err == nil {
		svc.recordReputation(ctx, quest.GuildID, accountID, member.Reputation)
	}
	svc.recordActivity(ctx, quest.GuildID, fmt.Sprintf("quest_complete:%d:%d", quest.ID, accountID))

	svc.trigger(ctx, hook.OnQuestCompleted, quest)
	svc.logger.Info("quest completed",
		zap.Int64("quest_id", questID), zap.Int64("account_id", accountID))
	return quest, nil
}

// ExpireQuest returns the earmarked reward to the treasury for a quest
// whose deadline has passed without completion.
func (svc *Service) ExpireQuest(ctx context.Context, questID int64) (*model.GuildQuest, error) {
	quest, err := svc.Quest(ctx, questID)
	if err != nil {
		return nil, err
	}
	if quest.Terminal() {
		return quest, ErrQuestAlreadyTerminal
	}
	if svc.now().Before(quest.ExpiresAt) {
		return quest, ErrQuestNotExpired
	}

	unlock, err := svc.lockGuild(ctx, quest.GuildID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.GuildQuest{}).
			Where("id = ? AND completed = ? AND cancelled = ?", questID, false, false).
			Update("cancelled", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrQuestAlreadyTerminal
		}
		return tx.Model(&model.Guild{}).Where("id = ?", quest.GuildID).
			Update("treasury_balance", gorm.Expr("treasury_balance + ?", quest.RewardAmount)).Error
	})
	if err != nil {
		return nil, err
	}

	quest.Cancelled = true
	svc.trigger(ctx, hook.OnQuestExpired, quest)
	svc.logger.Info("quest expired", zap.Int64("quest_id", questID))
	return quest, nil
}

// ExpireDue sweeps all overdue open quests. Called by the scheduler;
// returns how many were cancelled.
func (svc *Service) ExpireDue(ctx context.Context) (int, error) {
	var due []model.GuildQuest
	err := svc.db.WithContext(ctx).
		Where("completed = ? AND cancelled = ? AND expires_at <= ?", false, false, svc.now()).
		Find(&due).Error
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range due {
		if _, err := svc.ExpireQuest(ctx, due[i].ID); err == nil {
			n++
		}
	}
	return n, nil
}

// Membership returns the account's active membership.
func (svc *Service) Membership(ctx context.Context, accountID int64) (*model.Membership, error) {
	return activeMembership(svc.db.WithContext(ctx), accountID)
}

// Guild returns one guild.
func (svc *Service) Guild(ctx context.Context, guildID int64) (*model.Guild, error) {
	var g model.Guild
	err := svc.db.WithContext(ctx).First(&g, guildID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGuildNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGuilds returns all guilds, newest first.
func (svc *Service) ListGuilds(ctx context.Context) ([]model.Guild, error) {
	var guilds []model.Guild
	err := svc.db.WithContext(ctx).Order("id DESC").Find(&guilds).Error
	return guilds, err
}

// Members returns a guild's active memberships.
func (svc *Service) Members(ctx context.Context, guildID int64) ([]model.Membership, error) {
	var members []model.Membership
	err := svc.db.WithContext(ctx).
		Where("guild_id = ? AND active = ?", guildID, true).
		Order("role DESC, joined_at").
		Find(&members).Error
	return members, err
}

// Quest returns one quest.
func (svc *Service) Quest(ctx context.Context, questID int64) (*model.GuildQuest, error) {
	var quest model.GuildQuest
	err := svc.db.WithContext(ctx).First(&quest, questID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quest, nil
}

// Quests returns a guild's quests, newest first.
func (svc *Service) Quests(ctx context.Context, guildID int64) ([]model.GuildQuest, error) {
	var quests []model.GuildQuest
	err := svc.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("id DESC").
		Find(&quests).Error
	return quests, err
}

const activityFeedLen = 100

func leaderboardKey(guildID int64) string { return fmt.Sprintf("guild:rep:%d", guildID) }
func activityKey(guildID int64) string    { return fmt.Sprintf("guild:activity:%d", guildID) }

// recordReputation keeps the cached leaderboard in step with the
// member's stored reputation. Best effort.
func (svc *Service) recordReputation(ctx context.Context, guildID, accountID, reputation int64) {
	err := svc.cache.ZAdd(ctx, leaderboardKey(guildID), float64(reputation), strconv.FormatInt(accountID, 10))
	if err != nil {
		svc.logger.Warn("leaderboard update failed", zap.Int64("guild_id", guildID), zap.Error(err))
	}
}

// recordActivity prepends an event to the guild's bounded activity feed.
func (svc *Service) recordActivity(ctx context.Context, guildID int64, event string) {
	key := activityKey(guildID)
	if err := svc.cache.LPush(ctx, key, event); err != nil {
		svc.logger.Warn("activity push failed", zap.Int64("guild_id", guildID), zap.Error(err))
		return
	}
	_ = svc.cache.LTrim(ctx, key, 0, activityFeedLen-1)
}

// Leaderboard returns account IDs ordered by reputation, highest first.
func (svc *Service) Leaderboard(ctx context.Context, guildID int64, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	return svc.cache.ZRevRange(ctx, leaderboardKey(guildID), 0, limit-1)
}

// Standing returns the account's cached reputation score within the guild.
// Missing members score zero.
func (svc *Service) Standing(ctx context.Context, guildID, accountID int64) int64 {
	score, err := svc.cache.ZScore(ctx, leaderboardKey(guildID), strconv.FormatInt(accountID, 10))
	if err != nil {
		return 0
	}
	return int64(score)
}

// Activity returns the guild's recent activity events, newest first.
func (svc *Service) Activity(ctx context.Context, guildID int64, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	return svc.cache.LRange(ctx, activityKey(guildID), 0, limit-1)
}

func (svc *Service) trigger(ctx context.Context, event string, data interface{}) {
	if svc.hooks == nil {
		return
	}
	if _, err := svc.hooks.Trigger(ctx, event, data); err != nil && !errors.Is(err, hook.ErrInterrupt) {
		svc.logger.Warn("hook trigger failed", zap.String("event", event), zap.Error(err))
	}
}
