package repository

import (
	"fmt"

	apperrors "artisan_chat/pkg/errors"
)

var (
	// ErrNotFound - запись отсутствует (errors.Is совпадает и с apperrors.ErrNotFound)
	ErrNotFound = fmt.Errorf("record %w", apperrors.ErrNotFound)

	// ErrDuplicate - личный чат для этой пары уже существует
	ErrDuplicate = fmt.Errorf("record already exists: %w", apperrors.ErrConflict)
)
