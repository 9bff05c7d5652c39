package service

import (
	"errors"
	"fmt"

	"chatserver/internal/store"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyMember      = errors.New("user is already a member of the room")
	ErrNotMember          = errors.New("user is not a member of the room")
	ErrValidation         = errors.New("validation failed")
	ErrStorage            = errors.New("storage failure")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// 错误种类，随响应一起返回给客户端。
const (
	KindNotFound      = "NotFound"
	KindAlreadyMember = "AlreadyMember"
	KindNotMember     = "NotMember"
	KindValidation    = "ValidationError"
	KindStorage       = "StorageError"
	KindUnauthorized  = "Unauthorized"
)

// KindOf 返回 err 对应的错误种类；无法归类的错误视为存储错误。
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyMember):
		return KindAlreadyMember
	case errors.Is(err, ErrNotMember):
		return KindNotMember
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return KindUnauthorized
	}
	return KindStorage
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// wrapStore 把存储层错误翻译成业务错误，其余一律包装为 ErrStorage 并保留原始错误。
func wrapStore(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, store.ErrMemberExists):
		return fmt.Errorf("%s: %w", op, ErrAlreadyMember)
	case errors.Is(err, store.ErrNotMember):
		return fmt.Errorf("%s: %w", op, ErrNotMember)
	case errors.Is(err, store.ErrMemberKeyTaken), errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%s: %w: %w", op, ErrValidation, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
