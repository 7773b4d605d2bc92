// Package events предоставляет базовые интерфейсы для работы с событиями саг.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event представляет событие воркфлоу
type Event interface {
	// EventID возвращает уникальный идентификатор события
	EventID() string
	// EventType возвращает тип события
	EventType() string
	// OccurredAt возвращает время возникновения события
	OccurredAt() time.Time
	// CorrelationID возвращает идентификатор экземпляра саги / бизнес-сущности
	CorrelationID() string
	// Payload возвращает полезную нагрузку события
	Payload() Payload
}

// Payload полезная нагрузка события
type Payload map[string]interface{}

// Get получает значение по ключу
func (p Payload) Get(key string) (interface{}, bool) {
	val, ok := p[key]
	return val, ok
}

// GetString получает строковое значение
func (p Payload) GetString(key string) string {
	val, ok := p[key]
	if !ok {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

// GetInt получает целочисленное значение
func (p Payload) GetInt(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// GetBool получает булево значение
func (p Payload) GetBool(key string) bool {
	if b, ok := p[key].(bool); ok {
		return b
	}
	return false
}

// BaseEvent базовая реализация события
type BaseEvent struct {
	eventID       string
	eventType     string
	occurredAt    time.Time
	correlationID string
	payload       Payload
}

// NewBaseEvent создает новое базовое событие
func NewBaseEvent(eventType, correlationID string) *BaseEvent {
	return &BaseEvent{
		eventID:       uuid.New().String(),
		eventType:     eventType,
		occurredAt:    time.Now(),
		correlationID: correlationID,
		payload:       make(Payload),
	}
}

// WithPayload добавляет значение в полезную нагрузку
func (e *BaseEvent) WithPayload(key string, value interface{}) *BaseEvent {
	e.payload[key] = value
	return e
}

func (e *BaseEvent) EventID() string {
	return e.eventID
}

func (e *BaseEvent) EventType() string {
	return e.eventType
}

func (e *BaseEvent) OccurredAt() time.Time {
	return e.occurredAt
}

func (e *BaseEvent) CorrelationID() string {
	return e.correlationID
}

func (e *BaseEvent) Payload() Payload {
	return e.payload
}

// EventHandler обработчик событий
type EventHandler interface {
	// Handle обрабатывает событие
	Handle(ctx context.Context, event Event) error
	// EventType возвращает тип события, который обрабатывает этот handler
	EventType() string
}

// EventHandlerFunc функциональный обработчик события
type EventHandlerFunc struct {
	eventType string
	fn        func(ctx context.Context, event Event) error
}

// NewEventHandlerFunc создает обработчик из функции
func NewEventHandlerFunc(eventType string, fn func(ctx context.Context, event Event) error) *EventHandlerFunc {
	return &EventHandlerFunc{eventType: eventType, fn: fn}
}

func (h *EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return h.fn(ctx, event)
}

func (h *EventHandlerFunc) EventType() string {
	return h.eventType
}

// EventPublisher публикатор событий
type EventPublisher interface {
	// Publish публикует событие
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber подписчик на события
type EventSubscriber interface {
	// Subscribe подписывается на тип события
	Subscribe(eventType string, handler EventHandler) error
	// Unsubscribe отписывается от типа события
	Unsubscribe(eventType string, handler EventHandler) error
}

// EventBus объединяет Publisher и Subscriber
type EventBus interface {
	EventPublisher
	EventSubscriber
}
