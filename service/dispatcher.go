package service

import (
	"context"
	"errors"
	"sync"

	"chrono-battle/models"

	"go.uber.org/zap"
)

// TokenVerifier проверяет токен входа и возвращает идентификатор аккаунта
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Dispatcher маршрутизирует клиентские сообщения по сервисам
type Dispatcher struct {
	presence *Presence
	registry *Registry
	battles  *BattleService
	matcher  *MatcherService
	accounts AccountStore
	verifier TokenVerifier
	clock    Clock
	logger   *zap.Logger

	// sessions упорядочивает вход и отключение: привязка и отметка об отключении меняются вместе
	sessions sync.Mutex
}

// NewDispatcher создает маршрутизатор сообщений
func NewDispatcher(
	presence *Presence,
	registry *Registry,
	battles *BattleService,
	matcher *MatcherService,
	accounts AccountStore,
	verifier TokenVerifier,
	clock Clock,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		presence: presence,
		registry: registry,
		battles:  battles,
		matcher:  matcher,
		accounts: accounts,
		verifier: verifier,
		clock:    clock,
		logger:   logger,
	}
}

// Handle обрабатывает одно сообщение соединения.
// До входа принимаются только login и heartbeat.
func (d *Dispatcher) Handle(ctx context.Context, conn Conn, msg models.ClientMessage) {
	switch m := msg.(type) {
	case models.LoginMessage:
		d.login(ctx, conn, m)
		return
	case models.HeartbeatMessage:
		conn.Send(models.NewHeartbeatReply(d.clock.Now().UnixMilli()))
		return
	}

	accountID, ok := d.presence.IdentityOf(conn)
	if !ok {
		d.logger.Debug("Message before login dropped", zap.String("conn_id", conn.ID()))
		return
	}

	switch m := msg.(type) {
	case models.MatchRequestMessage:
		d.matchRequest(ctx, accountID)
	case models.MatchCancelMessage:
		if _, err := d.matcher.Leave(ctx, accountID); err != nil {
			d.logger.Error("Failed to leave queue", zap.Int64("account_id", accountID), zap.Error(err))
		}
	case models.BattleReadyMessage:
		d.battles.Ready(ctx, accountID, m.BattleID)
	case models.BattleActionMessage:
		d.battles.Act(ctx, accountID, m)
	case models.BattleSurrenderMessage:
		d.battles.Surrender(ctx, accountID, m.BattleID)
	case models.BattleRejoinMessage:
		d.battles.Rejoin(ctx, accountID)
	default:
		d.logger.Debug("Unhandled message", zap.String("conn_id", conn.ID()))
	}
}

// Disconnected снимает привязку соединения и, если игрок в бою, запускает ожидание переподключения
func (d *Dispatcher) Disconnected(conn Conn) {
	d.sessions.Lock()
	defer d.sessions.Unlock()

	accountID, current := d.presence.Unbind(conn)
	if !current {
		return
	}
	d.battles.MarkDisconnected(accountID)
}

func (d *Dispatcher) login(ctx context.Context, conn Conn, m models.LoginMessage) {
	accountID, err := d.verifier.Verify(m.Token)
	if err != nil {
		d.logger.Info("Login rejected", zap.String("conn_id", conn.ID()), zap.Error(err))
		d.rejectLogin(conn, "invalid token")
		return
	}

	account, err := d.accounts.GetAccount(ctx, accountID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		d.rejectLogin(conn, "account not found")
		return
	case err != nil:
		d.logger.Error("Failed to load account on login", zap.Int64("account_id", accountID), zap.Error(err))
		d.rejectLogin(conn, "login unavailable")
		return
	case account.Banned():
		d.logger.Info("Banned account login", zap.Int64("account_id", accountID))
		d.rejectLogin(conn, "account is banned")
		return
	}

	d.sessions.Lock()
	d.presence.Bind(accountID, conn)
	d.registry.ClearDisconnected(accountID)
	d.sessions.Unlock()

	conn.Send(models.NewLoginResult(models.LoginResult{
		Success:   true,
		AccountID: account.ID,
		Nickname:  account.Nickname,
	}))

	d.logger.Info("Player logged in",
		zap.Int64("account_id", accountID),
		zap.String("conn_id", conn.ID()),
	)
}

func (d *Dispatcher) rejectLogin(conn Conn, message string) {
	conn.Send(models.NewLoginResult(models.LoginResult{Success: false, Message: message}))
	conn.Close()
}

func (d *Dispatcher) matchRequest(ctx context.Context, accountID int64) {
	err := d.matcher.Join(ctx, accountID)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrAlreadyQueued),
		errors.Is(err, models.ErrAlreadyInBattle),
		errors.Is(err, models.ErrBanned),
		errors.Is(err, models.ErrNoActiveCharacter),
		errors.Is(err, models.ErrNotFound):
		d.logger.Debug("Match request rejected", zap.Int64("account_id", accountID), zap.Error(err))
	default:
		d.logger.Error("Failed to join queue", zap.Int64("account_id", accountID), zap.Error(err))
	}
}
