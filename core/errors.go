// Package core предоставляет систему ошибок движка.
package core

import (
	"fmt"
	"runtime"
	"strings"
)

// Коды ошибок движка
const (
	// ErrDiscarded событие не применимо к текущему состоянию и отброшено
	ErrDiscarded = "DISCARDED"
	// ErrTransient временный сбой хранилища или шины, подлежит redelivery
	ErrTransient = "TRANSIENT"
	// ErrFault постоянный сбой после исчерпания повторов
	ErrFault = "FAULT"
	// ErrInvalidConfig некорректная конфигурация компонента
	ErrInvalidConfig = "INVALID_CONFIG"
	// ErrNotFound сущность не найдена
	ErrNotFound = "NOT_FOUND"
	// ErrConflict конкурентное изменение экземпляра (optimistic concurrency)
	ErrConflict = "CONFLICT"
	// ErrUsage ошибка использования API (например, повторный Schedule без Cancel)
	ErrUsage = "USAGE"
)

// EngineError базовый тип ошибки движка
type EngineError struct {
	Code       string
	Message    string
	Cause      error
	StackTrace string
}

// Error реализует интерфейс error
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap возвращает причину ошибки
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is проверяет, соответствует ли ошибка коду
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext добавляет контекст к ошибке
func (e *EngineError) WithContext(context string) *EngineError {
	return &EngineError{
		Code:       e.Code,
		Message:    fmt.Sprintf("%s: %s", context, e.Message),
		Cause:      e.Cause,
		StackTrace: e.StackTrace,
	}
}

// NewError создает новую ошибку движка
func NewError(code, message string) *EngineError {
	return &EngineError{
		Code:       code,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// Wrap оборачивает существующую ошибку с кодом TRANSIENT.
// Подходит для сбоев хранилища и шины, подлежащих redelivery;
// для других кодов используется WrapWithCode.
func Wrap(err error, message string) *EngineError {
	return WrapWithCode(err, ErrTransient, message)
}

// WrapWithCode оборачивает ошибку с указанным кодом
func WrapWithCode(err error, code, message string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// IsCode проверяет, несет ли ошибка указанный код
func IsCode(err error, code string) bool {
	for err != nil {
		if e, ok := err.(*EngineError); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// captureStackTrace захватывает stack trace
func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// Убираем первые несколько строк (сама функция captureStackTrace)
	lines := strings.Split(stack, "\n")
	if len(lines) > 4 {
		lines = lines[4:]
	}
	return strings.Join(lines, "\n")
}
