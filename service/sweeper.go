package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper периодически проверяет таймауты готовности, хода и переподключения
type Sweeper struct {
	battles  *BattleService
	registry *Registry
	logger   *zap.Logger
}

// NewSweeper создает сборщик просроченных боев
func NewSweeper(battles *BattleService, registry *Registry, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		battles:  battles,
		registry: registry,
		logger:   logger,
	}
}

// Sweep выполняет один проход
func (s *Sweeper) Sweep(ctx context.Context) {
	var waiting, afk, dropped int

	for _, b := range s.registry.SnapshotAll() {
		if s.battles.ExpireWaiting(ctx, b) {
			waiting++
			continue
		}
		if s.battles.ExpireTurn(ctx, b) {
			afk++
		}
	}

	for _, accountID := range s.registry.ExpiredDisconnects(s.battles.Config().DisconnectGrace) {
		if s.battles.ForfeitDisconnected(ctx, accountID) {
			dropped++
		}
	}

	if waiting+afk+dropped > 0 {
		s.logger.Info("Sweep resolved battles",
			zap.Int("ready_timeouts", waiting),
			zap.Int("turn_timeouts", afk),
			zap.Int("disconnects", dropped),
		)
	}
}

// Run запускает проходы с интервалом до отмены ctx
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}
