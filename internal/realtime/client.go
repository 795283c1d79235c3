package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"artisan_chat/internal/config"
	"artisan_chat/internal/domain"
	apperrors "artisan_chat/pkg/errors"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const commandTimeout = 5 * time.Second

// Authorizer - то, что шлюзу нужно от сервиса чатов
type Authorizer interface {
	AuthorizeJoin(ctx context.Context, conversationID, userID uuid.UUID) error
	SetTyping(ctx context.Context, conversationID, userID uuid.UUID, isTyping bool) error
}

// NewUpgrader проверяет Origin по списку; пустой список разрешает все
func NewUpgrader(cfg config.RealtimeConfig) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		},
	}
}

// Client - один сокет пользователя. Одна горутина пишет, одна читает.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	authz  Authorizer
	log    logger.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// под hub.mu
	rooms map[uuid.UUID]struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, authz Authorizer) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		authz:  authz,
		log:    hub.log.With("user_id", userID.String()),
		send:   make(chan []byte, hub.cfg.SendBuffer),
		done:   make(chan struct{}),
		rooms:  make(map[uuid.UUID]struct{}),
	}
}

// Run обслуживает сокет до разрыва соединения или Shutdown хаба
func (c *Client) Run(ctx context.Context) {
	if err := c.hub.Register(c); err != nil {
		c.log.Warn("Rejected socket", "error", err)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
		return
	}
	defer c.hub.Unregister(c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump(ctx)
	c.Close()
	<-writerDone
}

// Close останавливает сокет; безопасен для повторных вызовов
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) reply(event string, conversationID uuid.UUID, payload interface{}) {
	frame, err := encodeFrame(event, conversationID, payload)
	if err != nil {
		c.log.Error("Failed to encode reply", "error", err, "event", event)
		return
	}
	if !c.enqueue(frame) {
		c.log.Warn("Dropped reply for slow socket", "event", event)
	}
}

func (c *Client) readPump(ctx context.Context) {
	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Socket closed unexpectedly", "error", err)
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.reply(domain.EventError, uuid.Nil, domain.ErrorPayload{Message: "Malformed frame"})
			continue
		}
		c.handle(ctx, env)
	}
}

func (c *Client) handle(ctx context.Context, env domain.Envelope) {
	if env.ConversationID == uuid.Nil {
		c.reply(domain.EventError, uuid.Nil, domain.ErrorPayload{Message: "conversation_id is required"})
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch env.Event {
	case domain.CommandJoinConversation:
		if err := c.authz.AuthorizeJoin(cmdCtx, env.ConversationID, c.userID); err != nil {
			c.log.Debug("Join refused", "conversation_id", env.ConversationID, "error", err)
			c.reply(domain.EventError, env.ConversationID, domain.ErrorPayload{Message: clientMessage(err)})
			return
		}
		c.hub.Join(env.ConversationID, c)
		// Evict между проверкой и Join сокет не видел, поэтому членство проверяется еще раз
		if err := c.authz.AuthorizeJoin(cmdCtx, env.ConversationID, c.userID); err != nil {
			c.hub.Leave(env.ConversationID, c)
			c.log.Debug("Join revoked", "conversation_id", env.ConversationID, "error", err)
			c.reply(domain.EventError, env.ConversationID, domain.ErrorPayload{Message: clientMessage(err)})
			return
		}
		c.reply(domain.EventJoined, env.ConversationID, struct{}{})

	case domain.CommandLeaveConversation:
		c.hub.Leave(env.ConversationID, c)

	case domain.CommandStartTyping, domain.CommandStopTyping:
		isTyping := env.Event == domain.CommandStartTyping
		if err := c.authz.SetTyping(cmdCtx, env.ConversationID, c.userID, isTyping); err != nil {
			c.reply(domain.EventError, env.ConversationID, domain.ErrorPayload{Message: clientMessage(err)})
		}

	default:
		c.reply(domain.EventError, env.ConversationID, domain.ErrorPayload{Message: "Unknown event"})
	}
}

func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn("Failed to write to socket", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				c.log.Debug("Ping failed", "error", err)
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteTimeout))
			return
		}
	}
}

// clientMessage скрывает детали внутренних ошибок
func clientMessage(err error) string {
	if errors.Is(err, apperrors.ErrInternalServer) {
		return "Server error"
	}
	return err.Error()
}
