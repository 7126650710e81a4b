package models

import (
	"encoding/json"
	"fmt"
)

// Типы клиентских сообщений
const (
	TypeLogin           = "login"
	TypeHeartbeat       = "heartbeat"
	TypeMatchRequest    = "match_request"
	TypeMatchCancel     = "match_cancel"
	TypeBattleReady     = "battle_ready"
	TypeBattleAction    = "battle_action"
	TypeBattleSurrender = "battle_surrender"
	TypeBattleRejoin    = "battle_rejoin"
)

// Типы серверных сообщений
const (
	TypeLoginResult   = "login_result"
	TypeMatchSuccess  = "match_success"
	TypeBattleStart   = "battle_start"
	TypeBattleUpdate  = "battle_update"
	TypeBattleEnd     = "battle_end"
	TypeRejoinResult  = "rejoin_result"
	TypeHeartbeatPong = TypeHeartbeat
)

// ActionKind вид боевого действия
type ActionKind int

const (
	ActionSkill  ActionKind = 1
	ActionDefend ActionKind = 2
	ActionItem   ActionKind = 3
)

// Envelope общий конверт сообщения {"type": ..., "data": {...}}
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientMessage закрытое множество сообщений от клиента
type ClientMessage interface {
	clientMessage()
}

// LoginMessage запрос входа с токеном
type LoginMessage struct {
	Token string `json:"token"`
}

// HeartbeatMessage проверка связи от клиента
type HeartbeatMessage struct{}

// MatchRequestMessage запрос на поиск соперника
type MatchRequestMessage struct{}

// MatchCancelMessage отмена поиска
type MatchCancelMessage struct{}

// BattleReadyMessage подтверждение готовности к бою
type BattleReadyMessage struct {
	BattleID string `json:"battle_id"`
}

// BattleActionMessage боевое действие игрока
type BattleActionMessage struct {
	BattleID string     `json:"battle_id"`
	Kind     ActionKind `json:"kind"`
	ParamID  int        `json:"param_id"` // skill id или item id
}

// BattleSurrenderMessage сдача в бою
type BattleSurrenderMessage struct {
	BattleID string `json:"battle_id"`
}

// BattleRejoinMessage запрос текущего состояния боя после переподключения
type BattleRejoinMessage struct{}

func (LoginMessage) clientMessage()           {}
func (HeartbeatMessage) clientMessage()       {}
func (MatchRequestMessage) clientMessage()    {}
func (MatchCancelMessage) clientMessage()     {}
func (BattleReadyMessage) clientMessage()     {}
func (BattleActionMessage) clientMessage()    {}
func (BattleSurrenderMessage) clientMessage() {}
func (BattleRejoinMessage) clientMessage()    {}

// DecodeClientMessage разбирает конверт и возвращает типизированное сообщение
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	var msg ClientMessage
	switch env.Type {
	case TypeLogin:
		msg = &LoginMessage{}
	case TypeHeartbeat:
		return HeartbeatMessage{}, nil
	case TypeMatchRequest:
		return MatchRequestMessage{}, nil
	case TypeMatchCancel:
		return MatchCancelMessage{}, nil
	case TypeBattleReady:
		msg = &BattleReadyMessage{}
	case TypeBattleAction:
		msg = &BattleActionMessage{}
	case TypeBattleSurrender:
		msg = &BattleSurrenderMessage{}
	case TypeBattleRejoin:
		return BattleRejoinMessage{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("message %q has no data", env.Type)
	}
	if err := json.Unmarshal(env.Data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %q: %w", env.Type, err)
	}

	switch m := msg.(type) {
	case *LoginMessage:
		return *m, nil
	case *BattleReadyMessage:
		return *m, nil
	case *BattleActionMessage:
		return *m, nil
	case *BattleSurrenderMessage:
		return *m, nil
	}
	return msg, nil
}

// ServerMessage исходящее сообщение
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// LoginResult результат входа или уведомление о вытеснении
type LoginResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	AccountID int64  `json:"account_id,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
}

// HeartbeatReply ответ на проверку связи с временем сервера
type HeartbeatReply struct {
	ServerTime int64 `json:"server_time"` // unix ms
}

// MatchSuccess уведомление о найденном сопернике
type MatchSuccess struct {
	BattleID string     `json:"battle_id"`
	Opponent PlayerInfo `json:"opponent"`
}

// BattleStart начало боя с исходным состоянием
type BattleStart struct {
	Board Board `json:"board"`
}

// BattleUpdate результат хода
type BattleUpdate struct {
	Round     int       `json:"round"`
	ActorID   int64     `json:"actor_id"`
	Effect    BattleLog `json:"effect"`
	Board     Board     `json:"board"`
	NextActor int64     `json:"next_actor"`
}

// BattleEnd итог боя
type BattleEnd struct {
	BattleID string     `json:"battle_id,omitempty"`
	WinnerID int64      `json:"winner_id,omitempty"`
	Reason   EndReason  `json:"reason"`
	Board    *Board     `json:"board,omitempty"`
	Effect   *BattleLog `json:"effect,omitempty"` // добивающее действие
}

// RejoinResult состояние боя для переподключившегося игрока
type RejoinResult struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message,omitempty"`
	BattleID     string      `json:"battle_id,omitempty"`
	Round        int         `json:"round,omitempty"`
	CurrentActor int64       `json:"current_actor,omitempty"`
	Player1      *PlayerView `json:"player1,omitempty"`
	Player2      *PlayerView `json:"player2,omitempty"`
}

// NewLoginResult создает сообщение login_result
func NewLoginResult(r LoginResult) ServerMessage {
	return ServerMessage{Type: TypeLoginResult, Data: r}
}

// NewHeartbeatReply создает ответ на heartbeat
func NewHeartbeatReply(serverTime int64) ServerMessage {
	return ServerMessage{Type: TypeHeartbeatPong, Data: HeartbeatReply{ServerTime: serverTime}}
}

// NewMatchSuccess создает сообщение match_success
func NewMatchSuccess(battleID string, opponent PlayerInfo) ServerMessage {
	return ServerMessage{Type: TypeMatchSuccess, Data: MatchSuccess{BattleID: battleID, Opponent: opponent}}
}

// NewBattleStart создает сообщение battle_start
func NewBattleStart(board Board) ServerMessage {
	return ServerMessage{Type: TypeBattleStart, Data: BattleStart{Board: board}}
}

// NewBattleUpdate создает сообщение battle_update
func NewBattleUpdate(u BattleUpdate) ServerMessage {
	return ServerMessage{Type: TypeBattleUpdate, Data: u}
}

// NewBattleEnd создает сообщение battle_end
func NewBattleEnd(e BattleEnd) ServerMessage {
	return ServerMessage{Type: TypeBattleEnd, Data: e}
}

// NewRejoinResult создает сообщение rejoin_result
func NewRejoinResult(r RejoinResult) ServerMessage {
	return ServerMessage{Type: TypeRejoinResult, Data: r}
}
