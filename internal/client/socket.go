package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"artisan_chat/internal/domain"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const socketWriteTimeout = 5 * time.Second

// Signaler - исходящие команды realtime-канала
type Signaler interface {
	Join(conversationID uuid.UUID) error
	Leave(conversationID uuid.UUID) error
	StartTyping(conversationID uuid.UUID) error
	StopTyping(conversationID uuid.UUID) error
}

// Socket - клиентская сторона websocket. Команды пишутся под мьютексом,
// события читаются в Listen.
type Socket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	log     logger.Logger
}

// DialSocket подключается к /ws; токен передается и заголовком, и в ?token=
func DialSocket(ctx context.Context, wsURL, token string, log logger.Logger) (*Socket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("socket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial socket: %w", err)
	}

	return &Socket{conn: conn, log: log}, nil
}

// Listen передает входящие события в handler до закрытия соединения
func (s *Socket) Listen(handler func(domain.Envelope)) error {
	for {
		var env domain.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		handler(env)
	}
}

func (s *Socket) Join(conversationID uuid.UUID) error {
	return s.command(domain.CommandJoinConversation, conversationID)
}

func (s *Socket) Leave(conversationID uuid.UUID) error {
	return s.command(domain.CommandLeaveConversation, conversationID)
}

func (s *Socket) StartTyping(conversationID uuid.UUID) error {
	return s.command(domain.CommandStartTyping, conversationID)
}

func (s *Socket) StopTyping(conversationID uuid.UUID) error {
	return s.command(domain.CommandStopTyping, conversationID)
}

func (s *Socket) command(event string, conversationID uuid.UUID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	if err := s.conn.WriteJSON(domain.Envelope{Event: event, ConversationID: conversationID}); err != nil {
		s.log.Warn("Failed to send socket command", "event", event, "error", err)
		return err
	}
	return nil
}

func (s *Socket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
