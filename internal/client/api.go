package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"artisan_chat/internal/domain"
	apperrors "artisan_chat/pkg/errors"

	"github.com/google/uuid"
)

// Draft - то, что пользователь набрал и отправляет
type Draft struct {
	Content     string              `json:"content"`
	Kind        domain.MessageKind  `json:"kind,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	ReplyToID   *uuid.UUID          `json:"reply_to_id,omitempty"`
}

// API - REST-вызовы, которые нужны контроллеру
type API interface {
	ListConversations(ctx context.Context, page, limit int) ([]domain.ConversationSummary, domain.Pagination, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, page, limit int) ([]*domain.Message, domain.Pagination, error)
	SendMessage(ctx context.Context, conversationID uuid.UUID, draft Draft) (*domain.Message, error)
	EditMessage(ctx context.Context, conversationID, messageID uuid.UUID, content string) (*domain.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID uuid.UUID) error
	MarkSeen(ctx context.Context, conversationID, messageID uuid.UUID) error
}

// HTTPAPI ходит в REST API чатов с bearer-токеном
type HTTPAPI struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPAPI(baseURL, token string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (a *HTTPAPI) ListConversations(ctx context.Context, page, limit int) ([]domain.ConversationSummary, domain.Pagination, error) {
	var resp struct {
		Conversations []domain.ConversationSummary `json:"conversations"`
		Pagination    domain.Pagination            `json:"pagination"`
	}
	path := "/api/v1/conversations?" + pageQuery(page, limit)
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, domain.Pagination{}, err
	}
	return resp.Conversations, resp.Pagination, nil
}

func (a *HTTPAPI) ListMessages(ctx context.Context, conversationID uuid.UUID, page, limit int) ([]*domain.Message, domain.Pagination, error) {
	var resp struct {
		Messages   []*domain.Message `json:"messages"`
		Pagination domain.Pagination `json:"pagination"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%s/messages?%s", conversationID, pageQuery(page, limit))
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, domain.Pagination{}, err
	}
	return resp.Messages, resp.Pagination, nil
}

func (a *HTTPAPI) SendMessage(ctx context.Context, conversationID uuid.UUID, draft Draft) (*domain.Message, error) {
	var resp struct {
		Data *domain.Message `json:"data"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%s/messages", conversationID)
	if err := a.do(ctx, http.MethodPost, path, draft, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (a *HTTPAPI) EditMessage(ctx context.Context, conversationID, messageID uuid.UUID, content string) (*domain.Message, error) {
	var resp struct {
		Data *domain.Message `json:"data"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%s/messages/%s", conversationID, messageID)
	body := map[string]string{"content": content}
	if err := a.do(ctx, http.MethodPut, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (a *HTTPAPI) DeleteMessage(ctx context.Context, conversationID, messageID uuid.UUID) error {
	path := fmt.Sprintf("/api/v1/conversations/%s/messages/%s", conversationID, messageID)
	return a.do(ctx, http.MethodDelete, path, nil, nil)
}

func (a *HTTPAPI) MarkSeen(ctx context.Context, conversationID, messageID uuid.UUID) error {
	path := fmt.Sprintf("/api/v1/conversations/%s/messages/%s/seen", conversationID, messageID)
	return a.do(ctx, http.MethodPut, path, nil, nil)
}

// do выполняет запрос; ответ не 2xx возвращается как *apperrors.APIError
func (a *HTTPAPI) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apperrors.APIError{Code: resp.StatusCode}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.Code = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func pageQuery(page, limit int) string {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q.Encode()
}
