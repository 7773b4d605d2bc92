// Package fault обрабатывает сообщения, чья доставка исчерпала повторы.
//
// Транспортные адаптеры после исчерпания политики повторов публикуют
// исходное сообщение в fault-канал с заголовками причины и исходного
// subject. Роутер подписывается на fault-канал, ведет структурный журнал
// и передает сбойные сообщения зарегистрированным обработчикам.
package fault

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/metrics"
	"github.com/akriventsev/conveyor/transport"
)

// Fault сбойное сообщение с контекстом отказа
type Fault struct {
	// Subject исходный subject сообщения
	Subject string
	// Reason текст последней ошибки доставки
	Reason string
	// Data исходное тело сообщения
	Data []byte
	// Headers заголовки сообщения на момент отказа
	Headers map[string]string
	// ReceivedAt время получения роутером
	ReceivedAt time.Time
}

// Handler обработчик сбойных сообщений
type Handler func(ctx context.Context, fault Fault)

// Router роутер fault-канала
type Router struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers []Handler
	recent   []Fault
	capacity int
}

// NewRouter создает роутер fault-канала.
// capacity задает размер журнала последних сбоев, хранимого в памяти.
func NewRouter(logger *zap.Logger, m *metrics.Metrics, capacity int) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = 100
	}
	return &Router{
		logger:   logger,
		metrics:  m,
		capacity: capacity,
	}
}

// OnFault регистрирует обработчик сбойных сообщений
func (r *Router) OnFault(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler)
}

// BindTo подписывает роутер на fault-канал
func (r *Router) BindTo(ctx context.Context, subscriber transport.Subscriber) error {
	if err := subscriber.Subscribe(ctx, transport.FaultSubject, r.handleMessage); err != nil {
		return core.Wrap(err, "failed to subscribe to fault subject")
	}
	return nil
}

// Recent возвращает последние сбойные сообщения
func (r *Router) Recent() []Fault {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Fault, len(r.recent))
	copy(out, r.recent)
	return out
}

func (r *Router) handleMessage(ctx context.Context, msg *transport.Message) error {
	fault := Fault{
		Subject:    msg.Headers[transport.HeaderFaultSubject],
		Reason:     msg.Headers[transport.HeaderFaultReason],
		Data:       msg.Data,
		Headers:    msg.Headers,
		ReceivedAt: time.Now(),
	}

	r.logger.Error("message routed to fault channel",
		zap.String("subject", fault.Subject),
		zap.String("reason", fault.Reason),
		zap.String("attempt", msg.Headers[transport.HeaderAttempt]),
		zap.Int("payload_bytes", len(fault.Data)))

	if r.metrics != nil {
		r.metrics.RecordFault(ctx, fault.Subject)
	}

	r.mu.Lock()
	r.recent = append(r.recent, fault)
	if len(r.recent) > r.capacity {
		r.recent = r.recent[len(r.recent)-r.capacity:]
	}
	handlers := make([]Handler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, fault)
	}
	return nil
}
