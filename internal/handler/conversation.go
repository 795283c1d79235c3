package handler

import (
	"net/http"
	"strconv"
	"time"

	"artisan_chat/internal/domain"
	"artisan_chat/internal/middleware"
	"artisan_chat/internal/service"
	apperrors "artisan_chat/pkg/errors"
	"artisan_chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ConversationHandler struct {
	conversationService service.ConversationService
	log                 logger.Logger
}

func NewConversationHandler(conversationService service.ConversationService, log logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		log:                 log,
	}
}

func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	page, limit := pageParams(c)

	conversations, pagination, err := h.conversationService.ListMyConversations(c.Request.Context(), userID, page, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"conversations": conversations,
		"pagination":    pagination,
	})
}

type CreateConversationRequest struct {
	Kind         domain.ConversationKind `json:"kind" binding:"required"`
	Participants []uuid.UUID             `json:"participants"`
	Name         *string                 `json:"name"`
	Description  *string                 `json:"description"`
	Avatar       *string                 `json:"avatar"`
}

func (h *ConversationHandler) Create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req CreateConversationRequest
	if !bindJSON(c, &req) {
		return
	}

	conv, created, err := h.conversationService.StartConversation(c.Request.Context(), userID, service.StartConversationInput{
		Kind:           req.Kind,
		ParticipantIDs: req.Participants,
		Name:           req.Name,
		Description:    req.Description,
		Avatar:         req.Avatar,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	summary, err := h.conversationService.GetConversation(c.Request.Context(), conv.ID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status, message := http.StatusOK, "Conversation already exists"
	if created {
		status, message = http.StatusCreated, "Conversation created"
	}
	c.JSON(status, gin.H{
		"success":      true,
		"message":      message,
		"conversation": summary,
	})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}

	summary, err := h.conversationService.GetConversation(c.Request.Context(), convID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": summary})
}

type UpdateConversationRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Avatar      *string `json:"avatar"`
}

func (h *ConversationHandler) Update(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}

	var req UpdateConversationRequest
	if !bindJSON(c, &req) {
		return
	}

	summary, err := h.conversationService.UpdateGroupInfo(c.Request.Context(), convID, userID, domain.GroupInfo{
		DisplayName: req.Name,
		Description: req.Description,
		AvatarRef:   req.Avatar,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": summary})
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}

	if err := h.conversationService.DeleteConversation(c.Request.Context(), convID, userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Conversation deleted"})
}

func (h *ConversationHandler) ListMessages(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}
	page, limit := pageParams(c)

	messages, pagination, err := h.conversationService.ListMessages(c.Request.Context(), convID, userID, page, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"messages":   messages,
		"pagination": pagination,
	})
}

type SendMessageRequest struct {
	Content     string              `json:"content"`
	Kind        domain.MessageKind  `json:"kind"`
	Attachments []domain.Attachment `json:"attachments"`
	ReplyToID   *uuid.UUID          `json:"reply_to_id"`
}

func (h *ConversationHandler) SendMessage(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.conversationService.SendMessage(c.Request.Context(), convID, userID, service.SendMessageInput{
		Content:     req.Content,
		Kind:        req.Kind,
		Attachments: req.Attachments,
		ReplyToID:   req.ReplyToID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Message sent",
		"data":    msg,
	})
}

func (h *ConversationHandler) GetMessage(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}
	messageID, ok := parseID(c, "messageId", "message ID")
	if !ok {
		return
	}

	msg, err := h.conversationService.GetMessage(c.Request.Context(), convID, messageID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": msg})
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *ConversationHandler) EditMessage(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}
	messageID, ok := parseID(c, "messageId", "message ID")
	if !ok {
		return
	}

	var req EditMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.conversationService.EditMessage(c.Request.Context(), convID, messageID, userID, req.Content)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Message updated",
		"data":    msg,
	})
}

func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}
	messageID, ok := parseID(c, "messageId", "message ID")
	if !ok {
		return
	}

	if err := h.conversationService.DeleteMessage(c.Request.Context(), convID, messageID, userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Message deleted"})
}

func (h *ConversationHandler) MarkSeen(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}
	messageID, ok := parseID(c, "messageId", "message ID")
	if !ok {
		return
	}

	if err := h.conversationService.MarkSeen(c.Request.Context(), convID, messageID, userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ConversationHandler) TypingUsers(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}

	users, err := h.conversationService.TypingUsers(c.Request.Context(), convID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "typing_users": users})
}

type SetTypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (h *ConversationHandler) SetTyping(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}

	var req SetTypingRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.conversationService.SetTyping(c.Request.Context(), convID, userID, req.IsTyping); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type AddParticipantsRequest struct {
	Participants []uuid.UUID `json:"participants" binding:"required,min=1"`
}

func (h *ConversationHandler) AddParticipants(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}

	var req AddParticipantsRequest
	if !bindJSON(c, &req) {
		return
	}

	summary, err := h.conversationService.AddParticipants(c.Request.Context(), convID, userID, req.Participants)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": summary})
}

func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}
	target, ok := parseID(c, "userId", "user ID")
	if !ok {
		return
	}

	if err := h.conversationService.RemoveParticipant(c.Request.Context(), convID, userID, target); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Participant removed"})
}

type PinRequest struct {
	Pinned bool `json:"pinned"`
}

func (h *ConversationHandler) SetPinned(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}

	var req PinRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.conversationService.SetPinned(c.Request.Context(), convID, userID, req.Pinned); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type MuteRequest struct {
	Muted bool       `json:"muted"`
	Until *time.Time `json:"until"`
}

func (h *ConversationHandler) SetMuted(c *gin.Context) {
	userID, convID, ok := userAndConversation(c)
	if !ok {
		return
	}

	var req MuteRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.conversationService.SetMuted(c.Request.Context(), convID, userID, req.Muted, req.Until); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(apperrors.Unauthorized("User not authenticated"))
		return uuid.Nil, false
	}
	return userID, true
}

func userAndConversation(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	convID, ok := parseID(c, "id", "conversation ID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, convID, true
}

func parseID(c *gin.Context, param, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		_ = c.Error(apperrors.Validation("Invalid "+name,
			apperrors.FieldError{Field: param, Message: "must be a UUID"}))
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(apperrors.Validation("Invalid request body",
			apperrors.FieldError{Field: "body", Message: err.Error()}))
		return false
	}
	return true
}

// pageParams: некорректные значения становятся 0, дефолты выставляет сервис
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return page, limit
}
