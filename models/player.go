package models

import (
	"time"
)

// MatchQueueItem представляет запись игрока в очереди матчмейкинга
type MatchQueueItem struct {
	AccountID   int64  `json:"account_id"`   // Идентификатор аккаунта
	Rating      int    `json:"rating"`       // Рейтинг игрока (ELO)
	Nickname    string `json:"nickname"`     // Отображаемое имя
	CharacterID int64  `json:"character_id"` // Активный персонаж
	JoinTime    int64  `json:"join_time"`    // Время входа в очередь (unix ms)
}

// NewMatchQueueItem создает новую запись очереди
func NewMatchQueueItem(accountID int64, rating int, nickname string, characterID int64, now time.Time) *MatchQueueItem {
	return &MatchQueueItem{
		AccountID:   accountID,
		Rating:      rating,
		Nickname:    nickname,
		CharacterID: characterID,
		JoinTime:    now.UnixMilli(),
	}
}

// WaitingSeconds возвращает время ожидания в секундах (с округлением вниз)
func (i *MatchQueueItem) WaitingSeconds(now time.Time) int64 {
	waited := now.UnixMilli() - i.JoinTime
	if waited < 0 {
		return 0
	}
	return waited / 1000
}

// CanMatchWith проверяет, укладывается ли разница рейтинга в допустимый диапазон
func (i *MatchQueueItem) CanMatchWith(other *MatchQueueItem, ratingRange int) bool {
	if other == nil || other.AccountID == i.AccountID {
		return false
	}
	diff := i.Rating - other.Rating
	if diff < 0 {
		diff = -diff
	}
	return diff <= ratingRange
}

// PlayerInfo публичная информация о сопернике, отправляемая при успешном матче
type PlayerInfo struct {
	AccountID int64  `json:"account_id"`
	Nickname  string `json:"nickname"`
	Rating    int    `json:"rating"`
}

// Info возвращает публичную информацию об игроке из очереди
func (i *MatchQueueItem) Info() PlayerInfo {
	return PlayerInfo{
		AccountID: i.AccountID,
		Nickname:  i.Nickname,
		Rating:    i.Rating,
	}
}
