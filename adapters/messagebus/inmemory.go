// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/transport"
)

// InMemoryConfig конфигурация для InMemory адаптера
type InMemoryConfig struct {
	EnableOrdering bool // синхронная доставка с FIFO гарантиями
	RetryPolicy    transport.RetryPolicy
}

// DefaultInMemoryConfig возвращает конфигурацию InMemory по умолчанию
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{
		EnableOrdering: true,
		RetryPolicy:    transport.DefaultRetryPolicy(),
	}
}

// InMemoryAdapter реализация MessageBus в памяти.
//
// Redelivery выполняется внутри процесса согласно RetryPolicy; после
// исчерпания попыток сообщение публикуется в transport.FaultSubject.
type InMemoryAdapter struct {
	config      InMemoryConfig
	subscribers map[string][]transport.MessageHandler
	mu          sync.RWMutex
	running     bool
	wg          sync.WaitGroup
}

// NewInMemoryAdapter создает новый InMemory адаптер
func NewInMemoryAdapter(config InMemoryConfig) *InMemoryAdapter {
	if config.RetryPolicy == nil {
		config.RetryPolicy = transport.DefaultRetryPolicy()
	}
	return &InMemoryAdapter{
		config:      config,
		subscribers: make(map[string][]transport.MessageHandler),
	}
}

// Start запускает адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.running = true
	return nil
}

// Stop останавливает адаптер и дожидается асинхронных доставок
func (i *InMemoryAdapter) Stop(ctx context.Context) error {
	i.mu.Lock()
	i.running = false
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли адаптер
func (i *InMemoryAdapter) IsRunning() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.running
}

// Name возвращает имя компонента (реализация core.Component)
func (i *InMemoryAdapter) Name() string {
	return "inmemory-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (i *InMemoryAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует сообщение в subject
func (i *InMemoryAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	i.mu.RLock()
	handlers := make([]transport.MessageHandler, len(i.subscribers[subject]))
	copy(handlers, i.subscribers[subject])
	i.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	msg := &transport.Message{
		Subject: subject,
		Data:    data,
		Headers: headers,
	}

	for _, handler := range handlers {
		if i.config.EnableOrdering {
			i.deliver(ctx, handler, msg)
		} else {
			i.wg.Add(1)
			go func(h transport.MessageHandler) {
				defer i.wg.Done()
				i.deliver(ctx, h, msg)
			}(handler)
		}
	}

	return nil
}

// deliver доставляет сообщение одному подписчику, применяя политику повторов.
// Исчерпание попыток маршрутизирует сообщение в fault-канал.
func (i *InMemoryAdapter) deliver(ctx context.Context, handler transport.MessageHandler, msg *transport.Message) {
	policy := i.config.RetryPolicy

	var lastErr error
	for attempt := 1; ; attempt++ {
		attemptMsg := withAttemptHeader(msg, attempt)
		lastErr = handler(ctx, attemptMsg)
		if lastErr == nil {
			return
		}
		if !policy.ShouldRetry(attempt, lastErr) {
			break
		}
		select {
		case <-time.After(policy.GetDelay(attempt)):
		case <-ctx.Done():
			return
		}
	}

	// Сообщения в fault-канале не имеют собственной политики повторов
	if msg.Subject != transport.FaultSubject {
		_ = i.PublishFault(ctx, msg, lastErr.Error())
	}
}

// PublishFault публикует сообщение в fault-канал (реализация transport.FaultPublisher)
func (i *InMemoryAdapter) PublishFault(ctx context.Context, msg *transport.Message, reason string) error {
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[transport.HeaderFaultReason] = reason
	headers[transport.HeaderFaultSubject] = msg.Subject

	return i.Publish(ctx, transport.FaultSubject, msg.Data, headers)
}

// Subscribe подписывается на subject
func (i *InMemoryAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.subscribers == nil {
		i.subscribers = make(map[string][]transport.MessageHandler)
	}

	i.subscribers[subject] = append(i.subscribers[subject], handler)
	return nil
}

// Unsubscribe отписывается от subject
func (i *InMemoryAdapter) Unsubscribe(subject string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.subscribers, subject)
	return nil
}

// GetSubscriberCount возвращает количество подписчиков для subject (для тестирования)
func (i *InMemoryAdapter) GetSubscriberCount(subject string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.subscribers[subject])
}

// withAttemptHeader возвращает копию сообщения с номером попытки доставки
func withAttemptHeader(msg *transport.Message, attempt int) *transport.Message {
	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[transport.HeaderAttempt] = strconv.Itoa(attempt)

	return &transport.Message{
		Subject: msg.Subject,
		Data:    msg.Data,
		Headers: headers,
	}
}
