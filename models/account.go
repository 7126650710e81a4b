package models

import "time"

// Статусы аккаунта
const (
	AccountStatusBanned = 0
	AccountStatusActive = 1
)

// Account постоянные данные аккаунта, нужные ядру боя
type Account struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Nickname     string `json:"nickname"`
	Status       int    `json:"status"`
	Rating       int    `json:"rating"`
	Gold         int    `json:"gold"`
	WinCount     int    `json:"win_count"`
	TotalBattles int    `json:"total_battles"`
}

// Banned сообщает, заблокирован ли аккаунт
func (a *Account) Banned() bool {
	return a.Status == AccountStatusBanned
}

// Character боевые характеристики персонажа
type Character struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	Name      string `json:"name"`
	MaxHP     int    `json:"max_hp"`
	CurrentHP int    `json:"current_hp"`
	Attack    int    `json:"attack"`
	Defense   int    `json:"defense"`
	Speed     int    `json:"speed"`
	CritRate  int    `json:"crit_rate"`  // %
	DodgeRate int    `json:"dodge_rate"` // %
	Active    bool   `json:"active"`
}

const SkillTypeHeal = "heal"

// Skill статичная конфигурация навыка
type Skill struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	Type              string  `json:"type"` // attack, heal
	Cooldown          int     `json:"cooldown"`
	Multiplier        float64 `json:"multiplier"`
	DefenseMultiplier float64 `json:"defense_multiplier"`
	Description       string  `json:"description"`
}

// IsHeal сообщает, является ли навык лечащим
func (s *Skill) IsHeal() bool {
	return s.Type == SkillTypeHeal
}

// ItemTypePotion единственная категория предметов, допустимая в бою
const ItemTypePotion = "POTION"

// Item статичная конфигурация предмета
type Item struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	EffectValue int    `json:"effect_value"`
}

// Consumable сообщает, можно ли использовать предмет в бою
func (i *Item) Consumable() bool {
	return i.Type == ItemTypePotion
}

// BattleRecord итоговая запись о бое в реляционном хранилище
type BattleRecord struct {
	BattleID         string    `json:"battle_id"`
	Player1ID        int64     `json:"player1_id"`
	Player1Nickname  string    `json:"player1_nickname"`
	Player1CharID    int64     `json:"player1_char_id"`
	Player1FinalHP   int       `json:"player1_final_hp"`
	Player1EloBefore int       `json:"player1_elo_before"`
	Player1EloAfter  int       `json:"player1_elo_after"`
	Player2ID        int64     `json:"player2_id"`
	Player2Nickname  string    `json:"player2_nickname"`
	Player2CharID    int64     `json:"player2_char_id"`
	Player2FinalHP   int       `json:"player2_final_hp"`
	Player2EloBefore int       `json:"player2_elo_before"`
	Player2EloAfter  int       `json:"player2_elo_after"`
	WinnerID         int64     `json:"winner_id"`
	EndReason        EndReason `json:"end_reason"`
	TotalRounds      int       `json:"total_rounds"`
	DurationSeconds  int       `json:"duration_seconds"`
	LogJSON          string    `json:"log_json"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	CreatedAt        time.Time `json:"created_at"`
}

// AccountDelta изменения аккаунта по итогам боя
type AccountDelta struct {
	AccountID   int64
	RatingAfter int
	GoldDelta   int
	Won         bool
}

// BattleReport отчет о завершенном бое, кэшируемый для истории
type BattleReport struct {
	BattleID    string      `json:"battle_id"`
	Player1     PlayerView  `json:"player1"`
	Player2     PlayerView  `json:"player2"`
	WinnerID    int64       `json:"winner_id"`
	EndReason   EndReason   `json:"end_reason"`
	TotalRounds int         `json:"total_rounds"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     time.Time   `json:"end_time"`
	Logs        []BattleLog `json:"logs"`
}
