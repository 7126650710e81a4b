package service

import (
	"sync"

	"chrono-battle/models"

	"go.uber.org/zap"
)

// Conn представляет живое соединение клиента
type Conn interface {
	ID() string
	Send(msg models.ServerMessage) bool
	Close()
}

// Presence связывает аккаунты с соединениями: не более одного соединения на аккаунт
type Presence struct {
	mu        sync.RWMutex
	byAccount map[int64]Conn
	byConn    map[string]int64

	logger  *zap.Logger
	metrics *Metrics
}

// NewPresence создает реестр присутствия
func NewPresence(logger *zap.Logger, metrics *Metrics) *Presence {
	return &Presence{
		byAccount: make(map[int64]Conn),
		byConn:    make(map[string]int64),
		logger:    logger,
		metrics:   metrics,
	}
}

// Bind привязывает соединение к аккаунту.
// Предыдущее соединение аккаунта получает уведомление о вытеснении и закрывается.
func (p *Presence) Bind(accountID int64, conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.byAccount[accountID]; ok && prev.ID() != conn.ID() {
		delete(p.byConn, prev.ID())
		prev.Send(models.NewLoginResult(models.LoginResult{
			Success: false,
			Message: "logged in from another connection",
		}))
		prev.Close()

		p.logger.Info("Session displaced",
			zap.Int64("account_id", accountID),
			zap.String("old_conn", prev.ID()),
			zap.String("new_conn", conn.ID()),
		)
	}

	// соединение могло быть привязано к другому аккаунту
	if oldID, ok := p.byConn[conn.ID()]; ok && oldID != accountID {
		if cur, ok := p.byAccount[oldID]; ok && cur.ID() == conn.ID() {
			delete(p.byAccount, oldID)
		}
	}

	p.byAccount[accountID] = conn
	p.byConn[conn.ID()] = accountID
	p.metrics.OnlineSessions.Set(float64(len(p.byAccount)))
}

// Unbind снимает привязку соединения.
// Прямая запись удаляется, только если она указывает на это же соединение;
// true возвращается только в этом случае.
func (p *Presence) Unbind(conn Conn) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	accountID, ok := p.byConn[conn.ID()]
	if !ok {
		return 0, false
	}
	delete(p.byConn, conn.ID())

	cur, ok := p.byAccount[accountID]
	if !ok || cur.ID() != conn.ID() {
		return accountID, false
	}
	delete(p.byAccount, accountID)
	p.metrics.OnlineSessions.Set(float64(len(p.byAccount)))
	return accountID, true
}

// Send отправляет сообщение игроку. Возвращает false, если игрок не в сети.
func (p *Presence) Send(accountID int64, msg models.ServerMessage) bool {
	p.mu.RLock()
	conn, ok := p.byAccount[accountID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return conn.Send(msg)
}

// IsPresent сообщает, подключен ли игрок
func (p *Presence) IsPresent(accountID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byAccount[accountID]
	return ok
}

// IdentityOf возвращает аккаунт, привязанный к соединению
func (p *Presence) IdentityOf(conn Conn) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byConn[conn.ID()]
	return id, ok
}

// Count возвращает число подключенных игроков
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byAccount)
}

// OnlineIDs возвращает идентификаторы подключенных игроков
func (p *Presence) OnlineIDs() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]int64, 0, len(p.byAccount))
	for id := range p.byAccount {
		ids = append(ids, id)
	}
	return ids
}
