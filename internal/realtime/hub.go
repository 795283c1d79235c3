package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"artisan_chat/internal/config"
	"artisan_chat/internal/domain"
	"artisan_chat/pkg/logger"

	"github.com/google/uuid"
)

var ErrHubClosed = errors.New("realtime hub is shut down")

type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// Hub - реестр сокетов и комнат. Создается в main и живет до Shutdown.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[uuid.UUID]map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup

	cfg config.RealtimeConfig
	log logger.Logger
}

func NewHub(cfg config.RealtimeConfig, log logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[uuid.UUID]map[*Client]struct{}),
		cfg:     cfg,
		log:     log,
	}
}

func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)

	h.log.Debug("Socket registered", "user_id", c.userID, "connections", len(h.clients))
	return nil
}

// Unregister убирает сокет из всех комнат; повторный вызов ничего не делает
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	for conversationID := range c.rooms {
		h.leaveLocked(conversationID, c)
	}
	delete(h.clients, c)
	h.wg.Done()

	h.log.Debug("Socket unregistered", "user_id", c.userID, "connections", len(h.clients))
}

func (h *Hub) Join(conversationID uuid.UUID, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
	c.rooms[conversationID] = struct{}{}
}

func (h *Hub) Leave(conversationID uuid.UUID, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conversationID, c)
}

func (h *Hub) leaveLocked(conversationID uuid.UUID, c *Client) {
	delete(c.rooms, conversationID)
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

// Broadcast ставит событие в очереди сокетов комнаты, кроме сокетов exceptUserID.
// Переполненная очередь теряет событие.
func (h *Hub) Broadcast(conversationID, exceptUserID uuid.UUID, event string, payload interface{}) {
	frame, err := encodeFrame(event, conversationID, payload)
	if err != nil {
		h.log.Error("Failed to encode event", "error", err, "event", event)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[conversationID] {
		if c.userID == exceptUserID {
			continue
		}
		if !c.enqueue(frame) {
			h.log.Warn("Dropped event for slow socket",
				"event", event, "conversation_id", conversationID, "user_id", c.userID)
		}
	}
}

// Evict убирает из комнаты все сокеты пользователя
func (h *Hub) Evict(conversationID, userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[conversationID] {
		if c.userID == userID {
			h.leaveLocked(conversationID, c)
		}
	}
}

func (h *Hub) CloseRoom(conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[conversationID] {
		delete(c.rooms, conversationID)
	}
	delete(h.rooms, conversationID)
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Connections: len(h.clients), Rooms: len(h.rooms)}
}

// Shutdown закрывает все сокеты и ждет выхода их горутин
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Realtime hub stopped", "closed_sockets", len(clients))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func encodeFrame(event string, conversationID uuid.UUID, payload interface{}) ([]byte, error) {
	env, err := domain.NewEnvelope(event, conversationID, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
