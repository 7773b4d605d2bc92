// Package events предоставляет wire-формат конвертов событий.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wire-форма события для передачи через message bus.
// Каждый конверт несет correlation id, связывающий событие с экземпляром саги.
type Envelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	CorrelationID string            `json:"correlation_id"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Payload       Payload           `json:"payload,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// NewEnvelope создает конверт из события
func NewEnvelope(event Event) Envelope {
	return Envelope{
		EventID:       event.EventID(),
		EventType:     event.EventType(),
		CorrelationID: event.CorrelationID(),
		OccurredAt:    event.OccurredAt(),
		Payload:       event.Payload(),
		Headers:       make(map[string]string),
	}
}

// Validate проверяет обязательные поля конверта
func (e Envelope) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("envelope event type cannot be empty")
	}
	if e.CorrelationID == "" {
		return fmt.Errorf("envelope correlation id cannot be empty")
	}
	return nil
}

// WithHeader добавляет заголовок к конверту
func (e Envelope) WithHeader(key, value string) Envelope {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
	return e
}

// Header возвращает значение заголовка
func (e Envelope) Header(key string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[key]
}

// Encode сериализует конверт в JSON
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope %s: %w", e.EventType, err)
	}
	return data, nil
}

// DecodeEnvelope десериализует конверт из JSON
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Event восстанавливает событие из конверта
func (e Envelope) Event() Event {
	payload := e.Payload
	if payload == nil {
		payload = make(Payload)
	}
	return &BaseEvent{
		eventID:       e.EventID,
		eventType:     e.EventType,
		occurredAt:    e.OccurredAt,
		correlationID: e.CorrelationID,
		payload:       payload,
	}
}
