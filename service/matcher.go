package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chrono-battle/models"
	"chrono-battle/storage"

	"go.uber.org/zap"
)

// BattleCreator создает бой для найденной пары
type BattleCreator interface {
	CreateBattle(ctx context.Context, a, b *models.MatchQueueItem) (*models.Battle, error)
}

// MatcherConfig конфигурация матчмейкера
type MatcherConfig struct {
	BaseRange      int           // Начальная допустимая разница рейтинга
	RangeStep      int           // Расширение диапазона за каждый шаг ожидания
	RangeStepEvery time.Duration // Длительность шага ожидания
	MaxRange       int           // Максимальная разница рейтинга
	BucketSize     int           // Ширина корзины рейтинга
	MatchTimeout   time.Duration // Максимальное время ожидания в очереди
}

// DefaultMatcherConfig возвращает конфигурацию по умолчанию
func DefaultMatcherConfig() *MatcherConfig {
	return &MatcherConfig{
		BaseRange:      100,              // ±100 сразу
		RangeStep:      50,               // +50 каждые 10 секунд
		RangeStepEvery: 10 * time.Second,
		MaxRange:       500,              // не больше ±500
		BucketSize:     100,              // корзины по 100 рейтинга
		MatchTimeout:   30 * time.Second, // затем игрок удаляется из очереди
	}
}

// MatcherService управляет очередью и поиском пар
type MatcherService struct {
	queue    QueueStore
	accounts AccountStore
	registry *Registry
	battles  BattleCreator
	notifier Notifier
	clock    Clock
	logger   *zap.Logger
	metrics  *Metrics
	config   *MatcherConfig

	// проверка "уже в очереди" и запись выполняются атомарно
	joinMu sync.Mutex
}

// NewMatcherService создает новый сервис матчмейкинга
func NewMatcherService(
	queue QueueStore,
	accounts AccountStore,
	registry *Registry,
	battles BattleCreator,
	notifier Notifier,
	clock Clock,
	logger *zap.Logger,
	metrics *Metrics,
	config *MatcherConfig,
) *MatcherService {
	if config == nil {
		config = DefaultMatcherConfig()
	}
	return &MatcherService{
		queue:    queue,
		accounts: accounts,
		registry: registry,
		battles:  battles,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		config:   config,
	}
}

// Join ставит игрока в очередь
func (s *MatcherService) Join(ctx context.Context, accountID int64) error {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account.Banned() {
		return models.ErrBanned
	}
	character, err := s.accounts.ActiveCharacter(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load character: %w", err)
	}
	if _, ok := s.registry.ByParticipant(accountID); ok {
		return models.ErrAlreadyInBattle
	}

	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	entries, err := s.queue.QueueEntries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Item != nil && e.Item.AccountID == accountID {
			return models.ErrAlreadyQueued
		}
	}

	item := models.NewMatchQueueItem(account.ID, account.Rating, account.Nickname, character.ID, s.clock.Now())
	return s.queue.Enqueue(ctx, item)
}

// Leave убирает игрока из очереди. Возвращает false, если его там не было.
func (s *MatcherService) Leave(ctx context.Context, accountID int64) (bool, error) {
	entries, err := s.queue.QueueEntries(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Item == nil || e.Item.AccountID != accountID {
			continue
		}
		removed, err := s.queue.RemoveQueueEntry(ctx, e.Raw)
		if err != nil {
			return false, err
		}
		if removed {
			s.logger.Info("Player left queue", zap.Int64("account_id", accountID))
		}
		return removed, nil
	}
	return false, nil
}

// QueueSize возвращает размер очереди
func (s *MatcherService) QueueSize(ctx context.Context) (int64, error) {
	return s.queue.QueueSize(ctx)
}

// ProcessQueue выполняет один проход поиска пар
func (s *MatcherService) ProcessQueue(ctx context.Context) error {
	entries, err := s.queue.QueueEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}

	now := s.clock.Now()
	timeout := int64(s.config.MatchTimeout / time.Second)

	// Удаляем просроченные и поврежденные записи
	waiting := make([]storage.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.Item != nil && e.Item.WaitingSeconds(now) <= timeout {
			waiting = append(waiting, e)
			continue
		}
		if _, err := s.queue.RemoveQueueEntry(ctx, e.Raw); err != nil {
			s.logger.Warn("Failed to evict queue entry", zap.Error(err))
			continue
		}
		if e.Item != nil {
			s.logger.Info("Queue wait timed out", zap.Int64("account_id", e.Item.AccountID))
		}
	}
	s.metrics.QueueLength.Set(float64(len(waiting)))

	if len(waiting) < 2 {
		return nil
	}

	// Корзины сохраняют порядок очереди
	buckets := make(map[int][]storage.QueueEntry)
	for _, e := range waiting {
		b := e.Item.Rating / s.config.BucketSize
		buckets[b] = append(buckets[b], e)
	}

	// Дольше всех ждущие выбирают первыми
	sort.SliceStable(waiting, func(i, j int) bool {
		return waiting[i].Item.WaitingSeconds(now) > waiting[j].Item.WaitingSeconds(now)
	})

	matched := make(map[int64]bool)
	for _, e := range waiting {
		player := e.Item
		if matched[player.AccountID] {
			continue
		}

		ratingRange := s.ratingRange(player.WaitingSeconds(now))
		home := player.Rating / s.config.BucketSize
		radius := ratingRange/s.config.BucketSize + 1

		opponent, found := s.findOpponent(player, buckets, home, radius, ratingRange, matched)
		if !found {
			continue
		}

		if err := s.pair(ctx, e, opponent); err != nil {
			s.logger.Error("Failed to create battle for pair",
				zap.Int64("player1", player.AccountID),
				zap.Int64("player2", opponent.Item.AccountID),
				zap.Error(err),
			)
			continue
		}
		matched[player.AccountID] = true
		matched[opponent.Item.AccountID] = true
	}

	return nil
}

func (s *MatcherService) findOpponent(
	player *models.MatchQueueItem,
	buckets map[int][]storage.QueueEntry,
	home, radius, ratingRange int,
	matched map[int64]bool,
) (storage.QueueEntry, bool) {
	for b := home - radius; b <= home+radius; b++ {
		for _, c := range buckets[b] {
			if matched[c.Item.AccountID] {
				continue
			}
			if player.CanMatchWith(c.Item, ratingRange) {
				return c, true
			}
		}
	}
	return storage.QueueEntry{}, false
}

func (s *MatcherService) pair(ctx context.Context, a, b storage.QueueEntry) error {
	battle, err := s.battles.CreateBattle(ctx, a.Item, b.Item)
	if err != nil {
		return err
	}

	s.notifier.Send(a.Item.AccountID, models.NewMatchSuccess(battle.ID, b.Item.Info()))
	s.notifier.Send(b.Item.AccountID, models.NewMatchSuccess(battle.ID, a.Item.Info()))

	for _, e := range []storage.QueueEntry{a, b} {
		if _, err := s.queue.RemoveQueueEntry(ctx, e.Raw); err != nil {
			s.logger.Warn("Failed to remove matched player from queue",
				zap.Int64("account_id", e.Item.AccountID),
				zap.Error(err),
			)
		}
	}

	s.metrics.MatchesMade.Inc()
	s.logger.Info("Match found",
		zap.String("battle_id", battle.ID),
		zap.Int64("player1", a.Item.AccountID),
		zap.Int64("player2", b.Item.AccountID),
		zap.Int("rating_diff", absInt(a.Item.Rating-b.Item.Rating)),
	)
	return nil
}

// ratingRange вычисляет допустимую разницу рейтинга по времени ожидания
func (s *MatcherService) ratingRange(waitSeconds int64) int {
	step := int64(s.config.RangeStepEvery / time.Second)
	if step <= 0 {
		step = 10
	}
	r := s.config.BaseRange + int(waitSeconds/step)*s.config.RangeStep
	if r > s.config.MaxRange {
		return s.config.MaxRange
	}
	return r
}

// IsQueued сообщает, стоит ли игрок в очереди
func (s *MatcherService) IsQueued(ctx context.Context, accountID int64) (bool, error) {
	entries, err := s.queue.QueueEntries(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Item != nil && e.Item.AccountID == accountID {
			return true, nil
		}
	}
	return false, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var _ Requeuer = (*MatcherService)(nil)
