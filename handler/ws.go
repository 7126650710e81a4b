package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"chrono-battle/models"
	"chrono-battle/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// MessageHandler обрабатывает разобранные сообщения соединения
type MessageHandler interface {
	Handle(ctx context.Context, conn service.Conn, msg models.ClientMessage)
	Disconnected(conn service.Conn)
}

// WSHandler принимает websocket соединения клиентов
type WSHandler struct {
	ctx        context.Context
	dispatcher MessageHandler
	upgrader   websocket.Upgrader
	idle       time.Duration
	logger     *zap.Logger
}

// NewWSHandler создает обработчик websocket.
// ctx ограничивает время жизни обработки сообщений, idle задает максимальную паузу между кадрами клиента.
func NewWSHandler(ctx context.Context, dispatcher MessageHandler, idle time.Duration, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		ctx:        ctx,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		idle:   idle,
		logger: logger,
	}
}

// ServeHTTP выполняет upgrade и обслуживает соединение до его закрытия
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: h.logger,
	}
	h.logger.Debug("Connection opened", zap.String("conn_id", s.id), zap.String("remote", r.RemoteAddr))

	go s.writePump(h.pingPeriod())
	h.readPump(s)
}

func (h *WSHandler) pingPeriod() time.Duration {
	return h.idle * 9 / 10
}

func (h *WSHandler) readPump(s *session) {
	defer func() {
		s.Close()
		h.logger.Debug("Connection closed", zap.String("conn_id", s.id))
		h.dispatcher.Disconnected(s)
	}()

	s.ws.SetReadLimit(maxMessageSize)
	if err := s.ws.SetReadDeadline(time.Now().Add(h.idle)); err != nil {
		return
	}
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(h.idle))
	})

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				h.logger.Info("Connection idle timeout", zap.String("conn_id", s.id))
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				h.logger.Debug("Connection read error", zap.String("conn_id", s.id), zap.Error(err))
			}
			return
		}
		if err := s.ws.SetReadDeadline(time.Now().Add(h.idle)); err != nil {
			return
		}

		msg, err := models.DecodeClientMessage(raw)
		if err != nil {
			h.logger.Debug("Dropped malformed message", zap.String("conn_id", s.id), zap.Error(err))
			continue
		}
		h.dispatcher.Handle(h.ctx, s, msg)
	}
}

// session представляет websocket соединение одного клиента
type session struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

var _ service.Conn = (*session)(nil)

func (s *session) ID() string {
	return s.id
}

// Send ставит сообщение в очередь записи, не блокируясь.
// Переполненный буфер означает медленного клиента: соединение закрывается.
func (s *session) Send(msg models.ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to encode server message", zap.String("type", msg.Type), zap.Error(err))
		return false
	}

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- data:
		return true
	default:
		s.logger.Warn("Send buffer full, closing connection", zap.String("conn_id", s.id))
		s.Close()
		return false
	}
}

// Close закрывает соединение; повторные вызовы ничего не делают
func (s *session) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *session) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.ws.Close()
	}()

	for {
		select {
		case data := <-s.send:
			if err := s.write(data); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.flush()
			_ = s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush дописывает уже поставленные в очередь сообщения перед закрытием
func (s *session) flush() {
	for {
		select {
		case data := <-s.send:
			if err := s.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *session) write(data []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}
