package service

import (
	"context"
	"errors"
	"fmt"

	"chrono-battle/models"

	"go.uber.org/zap"
)

// Act выполняет боевое действие текущего игрока.
// Недопустимые действия молча отбрасываются.
func (s *BattleService) Act(ctx context.Context, accountID int64, action models.BattleActionMessage) {
	battle, ok := s.registry.ByID(action.BattleID)
	if !ok {
		s.logger.Debug("Action for unknown battle", zap.String("battle_id", action.BattleID), zap.Int64("account_id", accountID))
		return
	}

	battle.Lock()
	defer battle.Unlock()

	if !battle.IsPlayerTurn(accountID) {
		s.logger.Debug("Action out of turn",
			zap.String("battle_id", battle.ID),
			zap.Int64("account_id", accountID),
			zap.String("state", string(battle.State)),
		)
		return
	}

	actor := battle.Participant(accountID)
	target := battle.Opponent(accountID)

	var (
		entry models.BattleLog
		done  bool
	)
	switch action.Kind {
	case models.ActionSkill:
		entry, done = s.resolveSkill(actor, target, action.ParamID)
	case models.ActionDefend:
		entry, done = s.resolveDefend(actor)
	case models.ActionItem:
		entry, done = s.resolveItem(ctx, actor, action.ParamID)
	default:
		s.logger.Debug("Unknown action kind", zap.Int("kind", int(action.Kind)))
	}
	if !done {
		return
	}

	now := s.clock.Now()
	entry.Round = battle.Round
	entry.ActorID = actor.AccountID
	entry.ActorNickname = actor.Nickname
	entry.Timestamp = now
	battle.AddLog(entry)

	// Добивающий удар: следующим сообщением идет battle_end с этим эффектом
	if battle.Defeated() {
		winner := battle.Survivor()
		if winner == nil {
			winner = actor
		}
		if s.finishLocked(battle, winner.AccountID, models.EndNormal, &entry) {
			s.afterEnd(battle, models.EndNormal)
		}
		return
	}

	battle.AdvanceTurn(now)
	s.broadcast(battle, models.NewBattleUpdate(models.BattleUpdate{
		Round:     entry.Round,
		ActorID:   actor.AccountID,
		Effect:    entry,
		Board:     battle.Board(),
		NextActor: battle.CurrentActor,
	}))
	s.persist(battle.Clone(), battle.Snapshot(now))
}

func (s *BattleService) resolveSkill(actor, target *models.BattlePlayer, skillID int) (models.BattleLog, bool) {
	skill, ok := s.catalog.Skill(skillID)
	if !ok {
		s.logger.Warn("Unknown skill", zap.Int("skill_id", skillID))
		return models.BattleLog{}, false
	}
	if !actor.CanUseSkill(skillID) {
		s.logger.Debug("Skill unavailable",
			zap.Int64("account_id", actor.AccountID),
			zap.Int("skill_id", skillID),
			zap.Bool("owned", actor.HasSkill(skillID)),
		)
		return models.BattleLog{}, false
	}

	entry := models.BattleLog{
		Action:    models.LogActionSkill,
		SkillName: skill.Name,
	}

	if skill.IsHeal() {
		heal := actor.Heal(s.formulas.Heal(actor, skill))
		entry.Heal = heal
		entry.TargetID = actor.AccountID
		entry.TargetNickname = actor.Nickname
		entry.Description = fmt.Sprintf("%s uses %s and restores %d HP", actor.Nickname, skill.Name, heal)
	} else {
		damage := s.formulas.Damage(actor, target, skill)
		target.TakeDamage(damage)
		entry.Damage = damage
		entry.TargetID = target.AccountID
		entry.TargetNickname = target.Nickname
		entry.Description = fmt.Sprintf("%s hits %s with %s for %d damage", actor.Nickname, target.Nickname, skill.Name, damage)
		switch {
		case damage == 0:
			entry.Description += " (dodged!)"
		case target.Defending:
			entry.Description += " (defended)"
		}
	}

	actor.StartCooldown(skillID, skill.Cooldown)
	return entry, true
}

func (s *BattleService) resolveDefend(actor *models.BattlePlayer) (models.BattleLog, bool) {
	actor.Defending = true
	return models.BattleLog{
		Action:      models.LogActionDefend,
		Description: fmt.Sprintf("%s takes a defensive stance", actor.Nickname),
	}, true
}

func (s *BattleService) resolveItem(ctx context.Context, actor *models.BattlePlayer, itemID int) (models.BattleLog, bool) {
	item, ok := s.catalog.Item(itemID)
	if !ok || !item.Consumable() {
		s.logger.Debug("Item not usable in battle", zap.Int("item_id", itemID))
		return models.BattleLog{}, false
	}

	if err := s.inventory.ConsumeItem(ctx, actor.AccountID, itemID); err != nil {
		if errors.Is(err, models.ErrItemNotOwned) {
			s.logger.Debug("Item not owned", zap.Int64("account_id", actor.AccountID), zap.Int("item_id", itemID))
		} else {
			s.logger.Error("Failed to consume item", zap.Int64("account_id", actor.AccountID), zap.Error(err))
		}
		return models.BattleLog{}, false
	}

	heal := actor.Heal(item.EffectValue)
	return models.BattleLog{
		Action:         models.LogActionItem,
		SkillName:      item.Name,
		Heal:           heal,
		TargetID:       actor.AccountID,
		TargetNickname: actor.Nickname,
		Description:    fmt.Sprintf("%s uses %s and restores %d HP", actor.Nickname, item.Name, heal),
	}, true
}
