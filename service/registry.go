package service

import (
	"sync"
	"time"

	"chrono-battle/models"
)

// Registry хранит живые бои и отметки об отключении игроков
type Registry struct {
	mu           sync.RWMutex
	battles      map[string]*models.Battle
	byAccount    map[int64]string
	disconnected map[int64]time.Time

	clock   Clock
	metrics *Metrics
}

// NewRegistry создает пустой реестр боев
func NewRegistry(clock Clock, metrics *Metrics) *Registry {
	return &Registry{
		battles:      make(map[string]*models.Battle),
		byAccount:    make(map[int64]string),
		disconnected: make(map[int64]time.Time),
		clock:        clock,
		metrics:      metrics,
	}
}

// Add регистрирует бой и обоих участников
func (r *Registry) Add(b *models.Battle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.battles[b.ID] = b
	r.byAccount[b.Player1.AccountID] = b.ID
	r.byAccount[b.Player2.AccountID] = b.ID
	r.metrics.LiveBattles.Set(float64(len(r.battles)))
}

// Remove удаляет бой. Возвращает false, если его уже не было.
func (r *Registry) Remove(battleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.battles[battleID]
	if !ok {
		return false
	}
	delete(r.battles, battleID)

	for _, id := range []int64{b.Player1.AccountID, b.Player2.AccountID} {
		if r.byAccount[id] == battleID {
			delete(r.byAccount, id)
		}
		delete(r.disconnected, id)
	}
	r.metrics.LiveBattles.Set(float64(len(r.battles)))
	return true
}

// ByID возвращает бой по идентификатору
func (r *Registry) ByID(battleID string) (*models.Battle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.battles[battleID]
	return b, ok
}

// ByParticipant возвращает бой, в котором участвует игрок
func (r *Registry) ByParticipant(accountID int64) (*models.Battle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAccount[accountID]
	if !ok {
		return nil, false
	}
	b, ok := r.battles[id]
	return b, ok
}

// MarkDisconnected отмечает отключение игрока; повторная отметка не сдвигает время
func (r *Registry) MarkDisconnected(accountID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.disconnected[accountID]; !ok {
		r.disconnected[accountID] = r.clock.Now()
	}
}

// ClearDisconnected снимает отметку об отключении
func (r *Registry) ClearDisconnected(accountID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disconnected, accountID)
}

// IsDisconnected сообщает, отмечен ли игрок как отключенный
func (r *Registry) IsDisconnected(accountID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.disconnected[accountID]
	return ok
}

// DisconnectedFor возвращает длительность отключения в секундах (0, если не отключен)
func (r *Registry) DisconnectedFor(accountID int64) int64 {
	r.mu.RLock()
	since, ok := r.disconnected[accountID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return int64(r.clock.Now().Sub(since) / time.Second)
}

// ExpiredDisconnects возвращает игроков, отключенных не меньше grace
func (r *Registry) ExpiredDisconnects(grace time.Duration) []int64 {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []int64
	for id, since := range r.disconnected {
		if now.Sub(since) >= grace {
			expired = append(expired, id)
		}
	}
	return expired
}

// SnapshotAll возвращает копию списка живых боев
func (r *Registry) SnapshotAll() []*models.Battle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Battle, 0, len(r.battles))
	for _, b := range r.battles {
		out = append(out, b)
	}
	return out
}

// Count возвращает число живых боев
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.battles)
}
