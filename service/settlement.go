package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chrono-battle/models"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// SettlementConfig экономика и параметры воркеров
type SettlementConfig struct {
	Workers      int           // Количество воркеров
	QueueSize    int           // Емкость очереди завершенных боев
	KFactor      int           // Прибавка рейтинга победителю
	LoserPenalty int           // Потеря рейтинга проигравшим (не ниже 0)
	WinnerGold   int           // Награда победителю
	LoserGold    int           // Награда проигравшему
	Timeout      time.Duration // Таймаут сохранения одного боя
}

// DefaultSettlementConfig возвращает конфигурацию по умолчанию
func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		Workers:      2,
		QueueSize:    256,
		KFactor:      25,
		LoserPenalty: 15,
		WinnerGold:   100,
		LoserGold:    20,
		Timeout:      10 * time.Second,
	}
}

// SettlementWorker асинхронно сохраняет итоги боев
type SettlementWorker struct {
	store   SettlementStore
	reports ReportStore
	queue   chan *models.Battle
	clock   Clock
	logger  *zap.Logger
	metrics *Metrics
	config  SettlementConfig

	overflow sync.WaitGroup
}

// NewSettlementWorker создает воркер сохранения итогов
func NewSettlementWorker(store SettlementStore, reports ReportStore, clock Clock, logger *zap.Logger, metrics *Metrics, config SettlementConfig) *SettlementWorker {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	return &SettlementWorker{
		store:   store,
		reports: reports,
		queue:   make(chan *models.Battle, config.QueueSize),
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		config:  config,
	}
}

// Enqueue передает завершенный бой на сохранение, не дожидаясь результата
func (w *SettlementWorker) Enqueue(battle *models.Battle) {
	select {
	case w.queue <- battle:
	default:
		w.logger.Warn("Settlement queue full, settling inline", zap.String("battle_id", battle.ID))
		w.overflow.Add(1)
		go func() {
			defer w.overflow.Done()
			w.settleLogged(context.Background(), battle)
		}()
	}
}

// Run обрабатывает очередь пулом воркеров до отмены ctx, затем дочищает остаток
func (w *SettlementWorker) Run(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(w.config.Workers)
	for i := 0; i < w.config.Workers; i++ {
		p.Go(func() {
			for {
				select {
				case battle := <-w.queue:
					w.settleLogged(ctx, battle)
				case <-ctx.Done():
					return
				}
			}
		})
	}
	p.Wait()

	w.drain()
	w.overflow.Wait()
	return nil
}

func (w *SettlementWorker) drain() {
	for {
		select {
		case battle := <-w.queue:
			w.settleLogged(context.Background(), battle)
		default:
			return
		}
	}
}

func (w *SettlementWorker) settleLogged(ctx context.Context, battle *models.Battle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.Timeout)
	defer cancel()

	if err := w.Settle(ctx, battle); err != nil {
		w.metrics.SettlementFailures.Inc()
		w.logger.Error("Settlement failed", zap.String("battle_id", battle.ID), zap.Error(err))
	}
}

// Settle обновляет рейтинг, золото и статистику игроков и сохраняет журнал боя.
// Повторный вызов для того же боя ничего не меняет.
func (w *SettlementWorker) Settle(ctx context.Context, battle *models.Battle) error {
	if battle.State != models.BattleFinished {
		return nil
	}

	p1, err := w.store.GetAccount(ctx, battle.Player1.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load player1: %w", err)
	}
	p2, err := w.store.GetAccount(ctx, battle.Player2.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load player2: %w", err)
	}

	p1After := w.ratingAfter(p1.Rating, battle.WinnerID == p1.ID)
	p2After := w.ratingAfter(p2.Rating, battle.WinnerID == p2.ID)

	logJSON, err := json.Marshal(battle.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal battle log: %w", err)
	}

	duration := 0
	if !battle.StartTime.IsZero() {
		duration = int(battle.EndTime.Sub(battle.StartTime) / time.Second)
	}

	record := &models.BattleRecord{
		BattleID:         battle.ID,
		Player1ID:        p1.ID,
		Player1Nickname:  battle.Player1.Nickname,
		Player1CharID:    battle.Player1.CharacterID,
		Player1FinalHP:   battle.Player1.CurrentHP,
		Player1EloBefore: p1.Rating,
		Player1EloAfter:  p1After,
		Player2ID:        p2.ID,
		Player2Nickname:  battle.Player2.Nickname,
		Player2CharID:    battle.Player2.CharacterID,
		Player2FinalHP:   battle.Player2.CurrentHP,
		Player2EloBefore: p2.Rating,
		Player2EloAfter:  p2After,
		WinnerID:         battle.WinnerID,
		EndReason:        battle.EndReason,
		TotalRounds:      battle.Round,
		DurationSeconds:  duration,
		LogJSON:          string(logJSON),
		StartTime:        battle.StartTime,
		EndTime:          battle.EndTime,
		CreatedAt:        w.clock.Now(),
	}

	deltas := []models.AccountDelta{
		w.delta(p1.ID, p1After, battle.WinnerID == p1.ID),
		w.delta(p2.ID, p2After, battle.WinnerID == p2.ID),
	}

	if err := w.store.ApplySettlement(ctx, record, deltas); err != nil {
		if errors.Is(err, models.ErrDuplicateRecord) {
			w.logger.Info("Battle already settled", zap.String("battle_id", battle.ID))
			return nil
		}
		return fmt.Errorf("failed to apply settlement: %w", err)
	}

	if err := w.reports.SaveReport(ctx, battle.Report()); err != nil {
		w.logger.Warn("Failed to cache battle report", zap.String("battle_id", battle.ID), zap.Error(err))
	}
	if err := w.reports.DropBattle(ctx, battle.ID); err != nil {
		w.logger.Warn("Failed to drop battle cache", zap.String("battle_id", battle.ID), zap.Error(err))
	}

	w.logger.Info("Battle settled",
		zap.String("battle_id", battle.ID),
		zap.Int64("winner_id", battle.WinnerID),
		zap.String("reason", string(battle.EndReason)),
		zap.Int("player1_rating", p1After),
		zap.Int("player2_rating", p2After),
	)
	return nil
}

func (w *SettlementWorker) ratingAfter(before int, won bool) int {
	if won {
		return before + w.config.KFactor
	}
	after := before - w.config.LoserPenalty
	if after < 0 {
		return 0
	}
	return after
}

func (w *SettlementWorker) delta(accountID int64, ratingAfter int, won bool) models.AccountDelta {
	gold := w.config.LoserGold
	if won {
		gold = w.config.WinnerGold
	}
	return models.AccountDelta{
		AccountID:   accountID,
		RatingAfter: ratingAfter,
		GoldDelta:   gold,
		Won:         won,
	}
}
