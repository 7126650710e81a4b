package service

import (
	"context"

	"chrono-battle/models"
	"chrono-battle/storage"
)

// Notifier доставляет сообщения подключенным игрокам
type Notifier interface {
	Send(accountID int64, msg models.ServerMessage) bool
}

// AccountStore доступ к аккаунтам и персонажам
type AccountStore interface {
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	ActiveCharacter(ctx context.Context, accountID int64) (*models.Character, error)
	CharacterSkillIDs(ctx context.Context, characterID int64) ([]int, error)
}

// InventoryStore списывает расходуемые предметы
type InventoryStore interface {
	ConsumeItem(ctx context.Context, accountID int64, itemID int) error
}

// CatalogStore источник справочников навыков и предметов
type CatalogStore interface {
	ListSkills(ctx context.Context) ([]models.Skill, error)
	ListItems(ctx context.Context) ([]models.Item, error)
}

// QueueStore персистентная очередь матчмейкинга
type QueueStore interface {
	Enqueue(ctx context.Context, item *models.MatchQueueItem) error
	QueueEntries(ctx context.Context) ([]storage.QueueEntry, error)
	RemoveQueueEntry(ctx context.Context, raw string) (bool, error)
	QueueSize(ctx context.Context) (int64, error)
}

// BattleCache хранит состояние и снимки боев
type BattleCache interface {
	CacheBattle(ctx context.Context, battle *models.Battle) error
	SaveSnapshot(ctx context.Context, snapshot *models.TurnSnapshot) error
	LoadSnapshot(ctx context.Context, battleID string) (*models.TurnSnapshot, error)
}

// ReportStore хранит отчеты о завершенных боях
type ReportStore interface {
	SaveReport(ctx context.Context, report *models.BattleReport) error
	DropBattle(ctx context.Context, battleID string) error
}

// SettlementStore применяет итоги боя к аккаунтам
type SettlementStore interface {
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	ApplySettlement(ctx context.Context, record *models.BattleRecord, deltas []models.AccountDelta) error
}

// FormulaEvaluator считает урон и лечение
type FormulaEvaluator interface {
	Damage(attacker, defender *models.BattlePlayer, skill *models.Skill) int
	Heal(healer *models.BattlePlayer, skill *models.Skill) int
}

// SkillCatalog справочник навыков и предметов в памяти
type SkillCatalog interface {
	Skill(id int) (*models.Skill, bool)
	Item(id int) (*models.Item, bool)
}
