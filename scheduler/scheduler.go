// Package scheduler предоставляет планировщик таймаутов саг.
//
// Планировщик хранит по одному активному таймауту на correlation id.
// Каждый таймаут идентифицируется непрозрачным токеном: отмена по токену
// и срабатывание таймера толерантны к гонке - проигравшая сторона
// превращается в no-op, а устаревшее событие таймаута отбрасывается
// движком по несовпадению токена.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/transport"
)

// Token непрозрачный идентификатор запланированного таймаута
type Token string

// PayloadKeyToken ключ payload, в котором событие таймаута несет свой токен
const PayloadKeyToken = "timeout_token"

// Scheduler интерфейс планировщика таймаутов
type Scheduler interface {
	// Schedule планирует таймаут для correlation id.
	// Возвращает ошибку с кодом USAGE_ERROR, если для correlation id
	// уже есть активный таймаут.
	Schedule(ctx context.Context, correlationID string, delay time.Duration, eventType string) (Token, error)

	// Cancel отменяет таймаут по токену.
	// Возвращает false, если таймаут уже сработал или был отменен.
	Cancel(token Token) bool
}

type pendingTimeout struct {
	token         Token
	correlationID string
	eventType     string
	timer         *time.Timer
}

// TimerScheduler планировщик на основе time.Timer.
// Сработавший таймаут публикуется в шину сообщений как обычное событие
// и проходит тот же путь доставки, что и внешние события.
type TimerScheduler struct {
	publisher transport.Publisher
	logger    *zap.Logger

	mu            sync.Mutex
	byCorrelation map[string]*pendingTimeout
	byToken       map[Token]*pendingTimeout
	closed        bool
}

// NewTimerScheduler создает планировщик таймаутов
func NewTimerScheduler(publisher transport.Publisher, logger *zap.Logger) *TimerScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimerScheduler{
		publisher:     publisher,
		logger:        logger,
		byCorrelation: make(map[string]*pendingTimeout),
		byToken:       make(map[Token]*pendingTimeout),
	}
}

// Schedule планирует таймаут
func (s *TimerScheduler) Schedule(ctx context.Context, correlationID string, delay time.Duration, eventType string) (Token, error) {
	if correlationID == "" {
		return "", core.NewError(core.ErrUsage, "correlation id cannot be empty")
	}
	if eventType == "" {
		return "", core.NewError(core.ErrUsage, "timeout event type cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", core.NewError(core.ErrUsage, "scheduler is stopped")
	}
	if existing, ok := s.byCorrelation[correlationID]; ok {
		return "", core.NewError(core.ErrUsage,
			fmt.Sprintf("correlation id %s already has active timeout %s", correlationID, existing.token))
	}

	token := Token(uuid.New().String())
	pending := &pendingTimeout{
		token:         token,
		correlationID: correlationID,
		eventType:     eventType,
	}
	pending.timer = time.AfterFunc(delay, func() {
		s.fire(pending)
	})

	s.byCorrelation[correlationID] = pending
	s.byToken[token] = pending

	s.logger.Debug("timeout scheduled",
		zap.String("correlation_id", correlationID),
		zap.String("event_type", eventType),
		zap.Duration("delay", delay),
		zap.String("token", string(token)))

	return token, nil
}

// Cancel отменяет таймаут по токену
func (s *TimerScheduler) Cancel(token Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.byToken[token]
	if !ok {
		// таймаут уже сработал или был отменен
		return false
	}
	pending.timer.Stop()
	s.remove(pending)

	s.logger.Debug("timeout cancelled",
		zap.String("correlation_id", pending.correlationID),
		zap.String("token", string(token)))
	return true
}

// fire срабатывание таймера. Проверка записи под мьютексом разрешает
// гонку с Cancel: если запись уже удалена, срабатывание становится no-op.
func (s *TimerScheduler) fire(pending *pendingTimeout) {
	s.mu.Lock()
	current, ok := s.byToken[pending.token]
	if !ok || current != pending {
		s.mu.Unlock()
		return
	}
	s.remove(pending)
	s.mu.Unlock()

	event := events.NewBaseEvent(pending.eventType, pending.correlationID).
		WithPayload(PayloadKeyToken, string(pending.token))
	envelope := events.NewEnvelope(event)
	data, err := envelope.Encode()
	if err != nil {
		s.logger.Error("failed to encode timeout event",
			zap.String("correlation_id", pending.correlationID),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.publisher.Publish(ctx, pending.eventType, data, nil); err != nil {
		s.logger.Error("failed to publish timeout event",
			zap.String("correlation_id", pending.correlationID),
			zap.String("event_type", pending.eventType),
			zap.Error(err))
		return
	}

	s.logger.Debug("timeout fired",
		zap.String("correlation_id", pending.correlationID),
		zap.String("event_type", pending.eventType))
}

func (s *TimerScheduler) remove(pending *pendingTimeout) {
	delete(s.byCorrelation, pending.correlationID)
	delete(s.byToken, pending.token)
}

// Pending возвращает количество активных таймаутов
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byCorrelation)
}

// Name возвращает имя компонента
func (s *TimerScheduler) Name() string {
	return "timer-scheduler"
}

// Type возвращает тип компонента
func (s *TimerScheduler) Type() core.ComponentType {
	return core.ComponentTypeScheduler
}

// IsRunning проверяет, запущен ли планировщик
func (s *TimerScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Start запускает планировщик
func (s *TimerScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	return nil
}

// Stop останавливает планировщик и отменяет все активные таймауты
func (s *TimerScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pending := range s.byToken {
		pending.timer.Stop()
	}
	s.byCorrelation = make(map[string]*pendingTimeout)
	s.byToken = make(map[Token]*pendingTimeout)
	s.closed = true
	return nil
}
