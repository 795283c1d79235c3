package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")
	ErrInternalServer = errors.New("internal server error")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

// FieldError описывает ошибку валидации конкретного поля запроса
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError - ошибка валидации входных данных (400)
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// KindError связывает сообщение для клиента с категорией ошибки
type KindError struct {
	Kind    error
	Message string
}

func (e *KindError) Error() string {
	return e.Message
}

func (e *KindError) Unwrap() error {
	return e.Kind
}

func Validation(message string, fields ...FieldError) error {
	return &ValidationError{Message: message, Fields: fields}
}

func Forbidden(message string) error {
	return &KindError{Kind: ErrForbidden, Message: message}
}

func NotFound(message string) error {
	return &KindError{Kind: ErrNotFound, Message: message}
}

func Unauthorized(message string) error {
	return &KindError{Kind: ErrUnauthorized, Message: message}
}

func RateLimited(message string) error {
	return &KindError{Kind: ErrRateLimited, Message: message}
}

func Internal(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInternalServer}, args...)...)
}

type APIError struct {
	Message string       `json:"message"`
	Code    int          `json:"code"`
	Errors  []FieldError `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

func HTTPStatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ToAPIError собирает тело ответа; детали внутренних ошибок скрываются если exposeInternal=false
func ToAPIError(err error, exposeInternal bool) *APIError {
	status := HTTPStatusFromError(err)
	apiErr := NewAPIError(err.Error(), status)

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		apiErr.Errors = validationErr.Fields
	}

	if status == http.StatusInternalServerError && !exposeInternal {
		apiErr.Message = "Server error"
	}

	return apiErr
}
