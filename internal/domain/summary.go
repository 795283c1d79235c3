package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConversationSummary - представление чата для списка, без истории сообщений
type ConversationSummary struct {
	ID           uuid.UUID        `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Name         string           `json:"name"`
	Description  *string          `json:"description,omitempty"`
	Participants []UserProfile    `json:"participants"`
	Admins       []uuid.UUID      `json:"admins,omitempty"`
	LastMessage  *LastMessage     `json:"last_message,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
	UnreadCount  int              `json:"unread_count"`
	IsPinned     bool             `json:"is_pinned"`
	IsMuted      bool             `json:"is_muted"`
	Avatar       *string          `json:"avatar"`
}

type Pagination struct {
	Current int  `json:"current"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// NewPagination считает страницы как ceil(total/limit)
func NewPagination(page, limit, totalItems int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (totalItems + limit - 1) / limit
	}
	return Pagination{
		Current: page,
		Total:   pages,
		HasMore: totalItems > page*limit,
	}
}
