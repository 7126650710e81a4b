package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chrono-battle/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	matchQueueKey = "game:match:queue"

	battleCacheTTL  = 30 * time.Minute
	snapshotTTL     = 30 * time.Minute
	battleReportTTL = 7 * 24 * time.Hour
	battleChatTTL   = time.Hour

	// ChatHistoryLimit количество последних реплик, возвращаемых ListChat
	ChatHistoryLimit = 50
)

// QueueEntry сырая запись очереди и ее разобранное значение.
// Item равен nil, если запись не удалось разобрать.
type QueueEntry struct {
	Raw  string
	Item *models.MatchQueueItem
}

// RedisStorage управляет очередью матчмейкинга и кэшем боев в Redis
type RedisStorage struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStorage создает новое хранилище Redis
func NewRedisStorage(addr string, password string, db int, logger *zap.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageFromClient(client, logger), nil
}

// NewRedisStorageFromClient оборачивает уже созданный клиент
func NewRedisStorageFromClient(client *redis.Client, logger *zap.Logger) *RedisStorage {
	return &RedisStorage{
		client: client,
		logger: logger,
	}
}

// Close закрывает соединение с Redis
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Ping проверяет доступность Redis
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Enqueue добавляет игрока в конец очереди
func (s *RedisStorage) Enqueue(ctx context.Context, item *models.MatchQueueItem) error {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}

	if err := s.client.RPush(ctx, matchQueueKey, itemJSON).Err(); err != nil {
		return fmt.Errorf("failed to add player to queue: %w", err)
	}

	s.logger.Info("Player added to queue",
		zap.Int64("account_id", item.AccountID),
		zap.Int("rating", item.Rating),
	)

	return nil
}

// QueueEntries возвращает все записи очереди в порядке добавления
func (s *RedisStorage) QueueEntries(ctx context.Context) ([]QueueEntry, error) {
	results, err := s.client.LRange(ctx, matchQueueKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	entries := make([]QueueEntry, 0, len(results))
	for _, raw := range results {
		entry := QueueEntry{Raw: raw}
		var item models.MatchQueueItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			s.logger.Warn("Failed to unmarshal queue item",
				zap.Error(err),
				zap.String("data", raw),
			)
		} else {
			entry.Item = &item
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// RemoveQueueEntry удаляет первое вхождение сырой записи.
// Возвращает false, если запись уже была удалена.
func (s *RedisStorage) RemoveQueueEntry(ctx context.Context, raw string) (bool, error) {
	n, err := s.client.LRem(ctx, matchQueueKey, 1, raw).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove queue entry: %w", err)
	}
	return n > 0, nil
}

// QueueSize возвращает размер очереди
func (s *RedisStorage) QueueSize(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, matchQueueKey).Result()
}

// CacheBattle сохраняет полное состояние боя
func (s *RedisStorage) CacheBattle(ctx context.Context, battle *models.Battle) error {
	data, err := json.Marshal(battle)
	if err != nil {
		return fmt.Errorf("failed to marshal battle: %w", err)
	}
	if err := s.client.Set(ctx, battleCacheKey(battle.ID), data, battleCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache battle: %w", err)
	}
	return nil
}

// SaveSnapshot сохраняет снимок хода
func (s *RedisStorage) SaveSnapshot(ctx context.Context, snapshot *models.TurnSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey(snapshot.BattleID), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot возвращает последний снимок боя или models.ErrNotFound
func (s *RedisStorage) LoadSnapshot(ctx context.Context, battleID string) (*models.TurnSnapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey(battleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snapshot models.TurnSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// SaveReport сохраняет отчет о бое на 7 дней
func (s *RedisStorage) SaveReport(ctx context.Context, report *models.BattleReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := s.client.Set(ctx, reportKey(report.BattleID), data, battleReportTTL).Err(); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// GetReport возвращает отчет о бое или models.ErrNotFound
func (s *RedisStorage) GetReport(ctx context.Context, battleID string) (*models.BattleReport, error) {
	data, err := s.client.Get(ctx, reportKey(battleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report models.BattleReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// ReportExists проверяет наличие отчета
func (s *RedisStorage) ReportExists(ctx context.Context, battleID string) (bool, error) {
	n, err := s.client.Exists(ctx, reportKey(battleID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check report: %w", err)
	}
	return n > 0, nil
}

// DropBattle удаляет кэш и снимок завершенного боя
func (s *RedisStorage) DropBattle(ctx context.Context, battleID string) error {
	if err := s.client.Del(ctx, battleCacheKey(battleID), snapshotKey(battleID)).Err(); err != nil {
		return fmt.Errorf("failed to drop battle cache: %w", err)
	}
	return nil
}

// AppendChat добавляет реплику в чат боя и продлевает срок жизни чата
func (s *RedisStorage) AppendChat(ctx context.Context, battleID, line string) error {
	key := chatKey(battleID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, line)
		pipe.Expire(ctx, key, battleChatTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append chat line: %w", err)
	}
	return nil
}

// ListChat возвращает последние реплики чата боя в порядке отправки
func (s *RedisStorage) ListChat(ctx context.Context, battleID string) ([]string, error) {
	lines, err := s.client.LRange(ctx, chatKey(battleID), -ChatHistoryLimit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list chat: %w", err)
	}
	return lines, nil
}

func battleCacheKey(battleID string) string {
	return fmt.Sprintf("battle:cache:%s", battleID)
}

func snapshotKey(battleID string) string {
	return fmt.Sprintf("battle:snapshot:%s", battleID)
}

func reportKey(battleID string) string {
	return fmt.Sprintf("battle:report:%s", battleID)
}

func chatKey(battleID string) string {
	return fmt.Sprintf("battle:chat:%s", battleID)
}
