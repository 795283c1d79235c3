package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID             int64                  `json:"id"`
	EventTime      time.Time              `json:"event_time"`
	ActorUserID    *uuid.UUID             `json:"actor_user_id,omitempty"`
	ActorRole      string                 `json:"actor_role"`
	ConversationID *uuid.UUID             `json:"conversation_id,omitempty"`
	EventType      string                 `json:"event_type"`
	Payload        map[string]interface{} `json:"payload"`
}

const (
	ActorRoleParticipant = "participant"
	ActorRoleAdmin       = "admin"
	ActorRoleSystem      = "system"
)

const (
	EventTypeConversationCreated = "CONVERSATION_CREATED"
	EventTypeConversationDeleted = "CONVERSATION_DELETED"
	EventTypeMessageDeleted      = "MESSAGE_DELETED"
	EventTypeParticipantsAdded   = "PARTICIPANTS_ADDED"
	EventTypeParticipantRemoved  = "PARTICIPANT_REMOVED"
	EventTypeGroupUpdated        = "GROUP_UPDATED"
	EventTypeUserProvisioned     = "USER_PROVISIONED"
)
