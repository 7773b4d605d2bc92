// Package transport предоставляет абстракции для работы с message bus.
package transport

import (
	"context"
	"time"
)

// Message представляет сообщение в очереди
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// MessageHandler обработчик сообщений
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscriber подписчик на сообщения
type Subscriber interface {
	// Subscribe подписывается на subject и вызывает handler при получении сообщения
	Subscribe(ctx context.Context, subject string, handler MessageHandler) error
	// Unsubscribe отписывается от subject
	Unsubscribe(subject string) error
}

// Publisher публикатор сообщений
type Publisher interface {
	// Publish публикует сообщение в subject
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// MessageBus объединяет возможности публикации и подписки
type MessageBus interface {
	Publisher
	Subscriber
}

// FaultPublisher публикует сообщения, чья доставка исчерпала повторы
type FaultPublisher interface {
	// PublishFault публикует сообщение в fault-канал с причиной сбоя
	PublishFault(ctx context.Context, msg *Message, reason string) error
}

// Заголовки сообщений, проставляемые транспортом при redelivery
const (
	// HeaderAttempt номер попытки доставки (с единицы)
	HeaderAttempt = "x-delivery-attempt"
	// HeaderFaultReason причина сбоя в fault-канале
	HeaderFaultReason = "x-fault-reason"
	// HeaderFaultSubject исходный subject сообщения в fault-канале
	HeaderFaultSubject = "x-fault-subject"
)

// FaultSubject subject, в который транспорт публикует сообщения после
// исчерпания повторов доставки
const FaultSubject = "conveyor.faults"

// RetryPolicy политика повторов для сообщений.
// Номер попытки везде 1-based: первая доставка имеет номер 1.
type RetryPolicy interface {
	// ShouldRetry определяет, нужно ли повторить после неудачной попытки attempt
	ShouldRetry(attempt int, err error) bool
	// GetDelay возвращает задержку перед попыткой, следующей за attempt
	GetDelay(attempt int) time.Duration
	// GetMaxAttempts возвращает максимальное количество попыток
	GetMaxAttempts() int
}

// IncrementalBackoffPolicy политика повторов с линейно нарастающей задержкой
// и завершающими отложенными раундами.
//
// Немедленные попытки идут с шагом Increment начиная с InitialDelay;
// после их исчерпания выполняются SweepRounds дополнительных попыток
// с задержкой SweepDelay. Только после этого сообщение уходит в fault-канал.
type IncrementalBackoffPolicy struct {
	InitialDelay time.Duration
	Increment    time.Duration
	MaxAttempts  int
	SweepRounds  int
	SweepDelay   time.Duration
}

// DefaultRetryPolicy возвращает политику повторов по умолчанию:
// 5 попыток с нарастающей задержкой 100-200ms, затем 2 отложенных раунда.
func DefaultRetryPolicy() *IncrementalBackoffPolicy {
	return &IncrementalBackoffPolicy{
		InitialDelay: 100 * time.Millisecond,
		Increment:    25 * time.Millisecond,
		MaxAttempts:  5,
		SweepRounds:  2,
		SweepDelay:   5 * time.Second,
	}
}

// ShouldRetry определяет, нужно ли повторить после неудачной попытки attempt
func (p *IncrementalBackoffPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	return attempt < p.MaxAttempts+p.SweepRounds
}

// GetDelay возвращает задержку перед попыткой, следующей за attempt
func (p *IncrementalBackoffPolicy) GetDelay(attempt int) time.Duration {
	if attempt >= p.MaxAttempts {
		return p.SweepDelay
	}
	return p.InitialDelay + time.Duration(attempt-1)*p.Increment
}

// GetMaxAttempts возвращает максимальное количество попыток, включая sweep
func (p *IncrementalBackoffPolicy) GetMaxAttempts() int {
	return p.MaxAttempts + p.SweepRounds
}

// NoRetryPolicy политика без повторов
type NoRetryPolicy struct{}

// ShouldRetry всегда возвращает false
func (p *NoRetryPolicy) ShouldRetry(attempt int, err error) bool {
	return false
}

// GetDelay возвращает нулевую задержку
func (p *NoRetryPolicy) GetDelay(attempt int) time.Duration {
	return 0
}

// GetMaxAttempts возвращает одну попытку
func (p *NoRetryPolicy) GetMaxAttempts() int {
	return 1
}
