package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chrono-battle/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BattleConfig таймауты фазы готовности и хода
type BattleConfig struct {
	ReadyTimeout      time.Duration // Сколько ждать готовности обоих игроков
	TurnTimeout       time.Duration // Сколько ждать действия текущего игрока
	DisconnectGrace   time.Duration // Сколько ждать переподключения
	CacheWriteTimeout time.Duration // Таймаут фоновой записи в Redis
}

// DefaultBattleConfig возвращает конфигурацию по умолчанию
func DefaultBattleConfig() BattleConfig {
	return BattleConfig{
		ReadyTimeout:      30 * time.Second,
		TurnTimeout:       90 * time.Second,
		DisconnectGrace:   120 * time.Second,
		CacheWriteTimeout: 2 * time.Second,
	}
}

// Settler принимает завершенные бои на сохранение
type Settler interface {
	Enqueue(battle *models.Battle)
}

// Requeuer возвращает игрока в очередь
type Requeuer interface {
	Join(ctx context.Context, accountID int64) error
}

// BattleDeps зависимости сервиса боев
type BattleDeps struct {
	Registry  *Registry
	Notifier  Notifier
	Accounts  AccountStore
	Inventory InventoryStore
	Catalog   SkillCatalog
	Formulas  FormulaEvaluator
	Cache     BattleCache
	Settler   Settler
	Clock     Clock
	Logger    *zap.Logger
	Metrics   *Metrics
}

// BattleService ведет бои: готовность, ходы, завершение и переподключение
type BattleService struct {
	registry  *Registry
	notifier  Notifier
	accounts  AccountStore
	inventory InventoryStore
	catalog   SkillCatalog
	formulas  FormulaEvaluator
	cache     BattleCache
	settler   Settler
	requeuer  Requeuer
	clock     Clock
	logger    *zap.Logger
	metrics   *Metrics
	config    BattleConfig

	writes sync.WaitGroup
}

// NewBattleService создает сервис боев
func NewBattleService(deps BattleDeps, config BattleConfig) *BattleService {
	return &BattleService{
		registry:  deps.Registry,
		notifier:  deps.Notifier,
		accounts:  deps.Accounts,
		inventory: deps.Inventory,
		catalog:   deps.Catalog,
		formulas:  deps.Formulas,
		cache:     deps.Cache,
		settler:   deps.Settler,
		clock:     deps.Clock,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		config:    config,
	}
}

// AttachRequeuer подключает очередь для возврата игроков после таймаута готовности
func (s *BattleService) AttachRequeuer(r Requeuer) {
	s.requeuer = r
}

// Config возвращает текущую конфигурацию
func (s *BattleService) Config() BattleConfig {
	return s.config
}

// Wait ждет завершения фоновых записей в кэш
func (s *BattleService) Wait() {
	s.writes.Wait()
}

// CreateBattle создает бой для найденной пары и регистрирует его
func (s *BattleService) CreateBattle(ctx context.Context, a, b *models.MatchQueueItem) (*models.Battle, error) {
	p1, err := s.loadPlayer(ctx, a.AccountID)
	if err != nil {
		return nil, err
	}
	p2, err := s.loadPlayer(ctx, b.AccountID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	battle := models.NewBattle(newBattleID(now), p1, p2, now)
	s.registry.Add(battle)

	battle.Lock()
	cacheCopy := battle.Clone()
	battle.Unlock()
	s.persist(cacheCopy, nil)

	s.logger.Info("Battle created",
		zap.String("battle_id", battle.ID),
		zap.Int64("player1", p1.AccountID),
		zap.Int64("player2", p2.AccountID),
	)
	return battle, nil
}

func (s *BattleService) loadPlayer(ctx context.Context, accountID int64) (*models.BattlePlayer, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}
	character, err := s.accounts.ActiveCharacter(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load character for %d: %w", accountID, err)
	}
	skills, err := s.accounts.CharacterSkillIDs(ctx, character.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load skills for character %d: %w", character.ID, err)
	}
	return models.NewBattlePlayer(account, character, skills), nil
}

func newBattleID(now time.Time) string {
	return fmt.Sprintf("BATTLE_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Ready отмечает готовность игрока; когда готовы оба, бой начинается
func (s *BattleService) Ready(ctx context.Context, accountID int64, battleID string) {
	battle, ok := s.registry.ByID(battleID)
	if !ok {
		s.logger.Debug("Ready for unknown battle", zap.String("battle_id", battleID), zap.Int64("account_id", accountID))
		return
	}

	battle.Lock()
	defer battle.Unlock()

	player := battle.Participant(accountID)
	if battle.State != models.BattleWaiting || player == nil || player.Ready {
		s.logger.Debug("Ready ignored",
			zap.String("battle_id", battleID),
			zap.Int64("account_id", accountID),
			zap.String("state", string(battle.State)),
		)
		return
	}

	now := s.clock.Now()
	player.Ready = true
	entry := models.BattleLog{
		Round:         battle.Round,
		ActorID:       accountID,
		ActorNickname: player.Nickname,
		Action:        models.LogActionReady,
		Description:   fmt.Sprintf("%s is ready", player.Nickname),
		Timestamp:     now,
	}
	battle.AddLog(entry)
	s.broadcast(battle, models.NewBattleUpdate(models.BattleUpdate{
		Round:     battle.Round,
		ActorID:   accountID,
		Effect:    entry,
		Board:     battle.Board(),
		NextActor: battle.CurrentActor,
	}))

	if !battle.BothReady() {
		return
	}

	battle.Start(now)
	s.broadcast(battle, models.NewBattleStart(battle.Board()))
	s.persist(battle.Clone(), battle.Snapshot(now))

	s.logger.Info("Battle started", zap.String("battle_id", battle.ID))
}

// Surrender завершает бой победой соперника
func (s *BattleService) Surrender(ctx context.Context, accountID int64, battleID string) {
	battle, ok := s.registry.ByID(battleID)
	if !ok {
		s.logger.Debug("Surrender for unknown battle", zap.String("battle_id", battleID))
		return
	}

	battle.Lock()
	opponent := battle.Opponent(accountID)
	if battle.State != models.BattleFighting || opponent == nil {
		battle.Unlock()
		s.logger.Debug("Surrender ignored", zap.String("battle_id", battleID), zap.Int64("account_id", accountID))
		return
	}
	ended := s.finishLocked(battle, opponent.AccountID, models.EndSurrender, nil)
	battle.Unlock()

	if ended {
		s.afterEnd(battle, models.EndSurrender)
	}
}

// ExpireWaiting отменяет бой, если игроки не подтвердили готовность вовремя.
// Если готов только один, он возвращается в очередь.
func (s *BattleService) ExpireWaiting(ctx context.Context, battle *models.Battle) bool {
	now := s.clock.Now()

	battle.Lock()
	if battle.State != models.BattleWaiting || now.Sub(battle.CreatedAt) <= s.config.ReadyTimeout {
		battle.Unlock()
		return false
	}
	battle.Abort(now)
	p1, p2 := battle.Player1, battle.Player2
	p1Ready, p2Ready := p1.Ready, p2.Ready
	battle.Unlock()

	if !s.registry.Remove(battle.ID) {
		return false
	}
	s.metrics.BattlesEnded.WithLabelValues(string(models.BattleAborted)).Inc()

	s.logger.Info("Battle ready phase timed out",
		zap.String("battle_id", battle.ID),
		zap.Bool("player1_ready", p1Ready),
		zap.Bool("player2_ready", p2Ready),
	)

	if p1Ready == p2Ready {
		return true
	}

	ready, absent := p1.AccountID, p2.AccountID
	if p2Ready {
		ready, absent = absent, ready
	}

	s.notifier.Send(ready, models.NewBattleEnd(models.BattleEnd{
		BattleID: battle.ID,
		Reason:   models.EndMatchTimeoutOpponent,
	}))
	if s.requeuer != nil {
		if err := s.requeuer.Join(ctx, ready); err != nil {
			s.logger.Warn("Failed to requeue ready player", zap.Int64("account_id", ready), zap.Error(err))
		}
	}
	s.notifier.Send(absent, models.NewBattleEnd(models.BattleEnd{
		BattleID: battle.ID,
		Reason:   models.EndMatchTimeoutYou,
	}))
	return true
}

// ExpireTurn присуждает поражение игроку, не сделавшему ход вовремя
func (s *BattleService) ExpireTurn(ctx context.Context, battle *models.Battle) bool {
	now := s.clock.Now()

	battle.Lock()
	if battle.State != models.BattleFighting || now.Sub(battle.LastActionTime) < s.config.TurnTimeout {
		battle.Unlock()
		return false
	}
	loser := battle.CurrentActor
	winner := battle.Opponent(loser).AccountID
	ended := s.finishLocked(battle, winner, models.EndTimeout, nil)
	battle.Unlock()

	if ended {
		s.logger.Warn("Player timed out", zap.String("battle_id", battle.ID), zap.Int64("account_id", loser))
		s.afterEnd(battle, models.EndTimeout)
	}
	return ended
}

// ForfeitDisconnected присуждает поражение игроку, не вернувшемуся в бой.
// Если бой уже не идет, устаревшая отметка снимается.
func (s *BattleService) ForfeitDisconnected(ctx context.Context, accountID int64) bool {
	battle, ok := s.registry.ByParticipant(accountID)
	if !ok {
		s.registry.ClearDisconnected(accountID)
		return false
	}

	battle.Lock()
	if battle.State != models.BattleFighting {
		battle.Unlock()
		s.registry.ClearDisconnected(accountID)
		return false
	}
	winner := battle.Opponent(accountID).AccountID
	ended := s.finishLocked(battle, winner, models.EndDisconnect, nil)
	battle.Unlock()

	if ended {
		s.logger.Warn("Player lost by disconnect", zap.String("battle_id", battle.ID), zap.Int64("account_id", accountID))
		s.afterEnd(battle, models.EndDisconnect)
	}
	return ended
}

// MarkDisconnected отмечает отключение, только если игрок в активном бою
func (s *BattleService) MarkDisconnected(accountID int64) {
	battle, ok := s.registry.ByParticipant(accountID)
	if !ok {
		return
	}
	battle.Lock()
	fighting := battle.State == models.BattleFighting
	battle.Unlock()

	if fighting {
		s.registry.MarkDisconnected(accountID)
		s.logger.Info("Player disconnected mid-battle",
			zap.String("battle_id", battle.ID),
			zap.Int64("account_id", accountID),
		)
	}
}

// Rejoin отправляет игроку текущее состояние его боя
func (s *BattleService) Rejoin(ctx context.Context, accountID int64) {
	battle, ok := s.registry.ByParticipant(accountID)
	if !ok {
		s.notifier.Send(accountID, models.NewRejoinResult(models.RejoinResult{
			Success: false,
			Message: "no active battle",
		}))
		return
	}

	battle.Lock()
	state := battle.State
	board := battle.Board()
	lastAction := battle.LastActionTime
	battle.Unlock()

	if state.IsEnded() {
		s.notifier.Send(accountID, models.NewRejoinResult(models.RejoinResult{
			Success: false,
			Message: "battle has ended",
		}))
		return
	}

	result := models.RejoinResult{
		Success:      true,
		BattleID:     board.BattleID,
		Round:        board.Round,
		CurrentActor: board.CurrentActor,
		Player1:      &board.Player1,
		Player2:      &board.Player2,
	}

	snapshot, err := s.cache.LoadSnapshot(ctx, battle.ID)
	switch {
	case err == nil && !snapshot.SnapshotTime.Before(lastAction):
		p1, p2 := snapshot.Player1.View(), snapshot.Player2.View()
		result.Round = snapshot.Round
		result.CurrentActor = snapshot.CurrentActor
		result.Player1 = &p1
		result.Player2 = &p2
	case err != nil && !errors.Is(err, models.ErrNotFound):
		s.logger.Warn("Failed to load snapshot, using live battle", zap.String("battle_id", battle.ID), zap.Error(err))
	}

	s.notifier.Send(accountID, models.NewRejoinResult(result))

	s.logger.Info("Player rejoined",
		zap.String("battle_id", battle.ID),
		zap.Int64("account_id", accountID),
		zap.Int("round", result.Round),
	)
}

// finishLocked переводит бой в FINISHED и рассылает итог. Вызывается под battle.Lock.
// Возвращает false, если бой уже был завершен.
func (s *BattleService) finishLocked(battle *models.Battle, winnerID int64, reason models.EndReason, effect *models.BattleLog) bool {
	if !battle.Finish(winnerID, reason, s.clock.Now()) {
		return false
	}

	end := models.BattleEnd{
		BattleID: battle.ID,
		WinnerID: winnerID,
		Reason:   reason,
		Effect:   effect,
	}
	switch reason {
	case models.EndNormal, models.EndSurrender:
		board := battle.Board()
		end.Board = &board
		s.broadcast(battle, models.NewBattleEnd(end))
	default:
		s.notifier.Send(winnerID, models.NewBattleEnd(end))
	}

	s.settler.Enqueue(battle.Clone())
	return true
}

func (s *BattleService) afterEnd(battle *models.Battle, reason models.EndReason) {
	s.registry.Remove(battle.ID)
	s.metrics.BattlesEnded.WithLabelValues(string(reason)).Inc()

	s.logger.Info("Battle ended",
		zap.String("battle_id", battle.ID),
		zap.String("reason", string(reason)),
	)
}

func (s *BattleService) broadcast(battle *models.Battle, msg models.ServerMessage) {
	s.notifier.Send(battle.Player1.AccountID, msg)
	s.notifier.Send(battle.Player2.AccountID, msg)
}

// persist записывает состояние и снимок в Redis в фоне
func (s *BattleService) persist(battle *models.Battle, snapshot *models.TurnSnapshot) {
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.CacheWriteTimeout)
		defer cancel()

		if err := s.cache.CacheBattle(ctx, battle); err != nil {
			s.logger.Warn("Failed to cache battle", zap.String("battle_id", battle.ID), zap.Error(err))
		}
		if snapshot == nil {
			return
		}
		if err := s.cache.SaveSnapshot(ctx, snapshot); err != nil {
			s.logger.Warn("Failed to save snapshot", zap.String("battle_id", battle.ID), zap.Error(err))
		}
	}()
}
