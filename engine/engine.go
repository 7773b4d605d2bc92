package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/metrics"
	"github.com/akriventsev/conveyor/outbox"
	"github.com/akriventsev/conveyor/scheduler"
	"github.com/akriventsev/conveyor/transport"
)

// Disposition исход обработки события
type Disposition string

const (
	// DispositionApplied переход применен
	DispositionApplied Disposition = "applied"
	// DispositionDiscarded событие отброшено без побочных эффектов
	DispositionDiscarded Disposition = "discarded"
)

// HandleResult результат обработки события движком
type HandleResult struct {
	Disposition   Disposition
	Reason        string
	Saga          string
	CorrelationID string
	From          State
	To            State
	Created       bool
	Terminal      bool
}

// Config конфигурация движка
type Config struct {
	// RetainTerminal хранить терминальные экземпляры после завершения.
	// При false экземпляр удаляется, а последующие события для его
	// correlation id отбрасываются как события без экземпляра.
	RetainTerminal bool
}

// DefaultConfig возвращает конфигурацию движка по умолчанию
func DefaultConfig() Config {
	return Config{RetainTerminal: true}
}

// Engine табличный движок саг.
//
// Движок интерпретирует Definition: на каждое событие ищется переход
// для пары (текущее состояние, тип события). Неприменимые события
// отбрасываются идемпотентно - контракт доставки at-least-once делает
// дубликаты и устаревшие события нормой, а не ошибкой.
//
// Обработка событий одного correlation id строго последовательна,
// разные correlation id обрабатываются параллельно.
type Engine struct {
	definition *Definition
	store      InstanceStore
	publisher  transport.Publisher
	scheduler  scheduler.Scheduler
	logger     *zap.Logger
	metrics    *metrics.Metrics
	config     Config
	locks      *keyedMutex
}

// Builder builder движка саг
type Builder struct {
	engine *Engine
	errs   []error
}

// NewBuilder создает builder движка для определения саги
func NewBuilder(definition *Definition) *Builder {
	return &Builder{
		engine: &Engine{
			definition: definition,
			config:     DefaultConfig(),
			locks:      newKeyedMutex(),
		},
	}
}

// WithStore устанавливает хранилище экземпляров
func (b *Builder) WithStore(store InstanceStore) *Builder {
	b.engine.store = store
	return b
}

// WithPublisher устанавливает публикатор исходящих событий
func (b *Builder) WithPublisher(publisher transport.Publisher) *Builder {
	b.engine.publisher = publisher
	return b
}

// WithScheduler устанавливает планировщик таймаутов
func (b *Builder) WithScheduler(sched scheduler.Scheduler) *Builder {
	b.engine.scheduler = sched
	return b
}

// WithLogger устанавливает логгер
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.engine.logger = logger
	return b
}

// WithMetrics устанавливает сборщик метрик
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.engine.metrics = m
	return b
}

// WithConfig устанавливает конфигурацию движка
func (b *Builder) WithConfig(config Config) *Builder {
	b.engine.config = config
	return b
}

// Build собирает движок
func (b *Builder) Build() (*Engine, error) {
	if b.engine.definition == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "engine requires a saga definition")
	}
	if err := b.engine.definition.Validate(); err != nil {
		return nil, err
	}
	if b.engine.store == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "engine requires an instance store")
	}
	if b.engine.publisher == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "engine requires a publisher")
	}
	if b.engine.scheduler == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "engine requires a scheduler")
	}
	if b.engine.logger == nil {
		b.engine.logger = zap.NewNop()
	}
	return b.engine, nil
}

// Definition возвращает определение саги
func (e *Engine) Definition() *Definition {
	return e.definition
}

// Name возвращает имя компонента
func (e *Engine) Name() string {
	return "engine-" + e.definition.Name()
}

// Type возвращает тип компонента
func (e *Engine) Type() core.ComponentType {
	return core.ComponentTypeEngine
}

// Handle обрабатывает один конверт события.
//
// Возвращаемая ошибка означает временный сбой: состояние экземпляра
// не изменилось, сообщение подлежит повторной доставке. Отброшенное
// событие ошибкой не является - результат несет причину отбрасывания.
func (e *Engine) Handle(ctx context.Context, envelope events.Envelope) (*HandleResult, error) {
	start := time.Now()

	if err := envelope.Validate(); err != nil {
		return nil, core.WrapWithCode(err, core.ErrUsage, "invalid event envelope")
	}

	correlationID := envelope.CorrelationID
	e.locks.Lock(correlationID)
	defer e.locks.Unlock(correlationID)

	result, err := e.handleLocked(ctx, envelope)

	if e.metrics != nil {
		applied := err == nil && result != nil && result.Disposition == DispositionApplied
		e.metrics.RecordEvent(ctx, e.definition.Name(), envelope.EventType, time.Since(start), applied)
	}
	return result, err
}

func (e *Engine) handleLocked(ctx context.Context, envelope events.Envelope) (*HandleResult, error) {
	event := envelope.Event()
	correlationID := envelope.CorrelationID
	timeoutToken := event.Payload().GetString(scheduler.PayloadKeyToken)

	var (
		instance   *Instance
		transition *Transition
		created    bool
	)

	instance, err := e.store.Load(ctx, correlationID)
	switch {
	case err == nil:
		if instance.Terminal {
			// терминальный экземпляр заморожен
			return e.discard(ctx, envelope, "terminal_instance"), nil
		}
		if timeoutToken != "" && timeoutToken != instance.TimeoutToken {
			// устаревший таймаут: проиграл гонку с отменой
			return e.discard(ctx, envelope, "stale_timeout"), nil
		}
		t, ok := e.definition.TransitionFor(instance.State, envelope.EventType)
		if !ok {
			return e.discard(ctx, envelope, "no_transition"), nil
		}
		transition = t

	case core.IsCode(err, core.ErrNotFound):
		if timeoutToken != "" {
			// таймаут пережил свой экземпляр
			return e.discard(ctx, envelope, "stale_timeout"), nil
		}
		t, ok := e.definition.InitialTransition(envelope.EventType)
		if !ok {
			return e.discard(ctx, envelope, "no_instance"), nil
		}
		transition = t
		created = true
		instance = NewInstance(e.definition.Name(), correlationID, "")

	default:
		return nil, core.WrapWithCode(err, core.ErrTransient, "failed to load saga instance")
	}

	if transition.Guard != nil {
		ok, err := transition.Guard(ctx, instance, event)
		if err != nil {
			return nil, core.WrapWithCode(err, core.ErrTransient, "guard evaluation failed")
		}
		if !ok {
			return e.discard(ctx, envelope, "guard_rejected"), nil
		}
	}

	// действия выполняются над копией: при ошибке исходный экземпляр
	// и хранилище остаются нетронутыми
	staged := instance.Clone()
	tc := newTransitionContext(event, staged)

	for _, action := range transition.Actions {
		if err := action.Execute(ctx, tc); err != nil {
			e.logger.Warn("transition action failed",
				zap.String("saga", e.definition.Name()),
				zap.String("correlation_id", correlationID),
				zap.String("action", action.Name()),
				zap.Error(err))
			return nil, core.WrapWithCode(err, core.ErrTransient,
				fmt.Sprintf("action %s failed", action.Name()))
		}
	}

	from := instance.State
	if !transition.Remain {
		staged.State = transition.Next
	}
	if transition.Terminal {
		staged.Terminal = true
	}
	staged.UpdatedAt = time.Now()

	// сработавший таймаут потребляет свой токен
	if timeoutToken != "" && timeoutToken == staged.TimeoutToken {
		staged.TimeoutToken = ""
	}
	// терминальное завершение и явная отмена гасят активный таймаут
	if (tc.cancelRequested || transition.Terminal) && staged.TimeoutToken != "" {
		e.cancelTimeout(ctx, staged)
	}

	var scheduledToken scheduler.Token
	if tc.scheduleRequest != nil && !transition.Terminal {
		if staged.TimeoutToken != "" {
			e.cancelTimeout(ctx, staged)
		}
		token, err := e.scheduler.Schedule(ctx, correlationID,
			tc.scheduleRequest.delay, tc.scheduleRequest.eventType)
		if err != nil {
			return nil, core.WrapWithCode(err, core.ErrTransient, "failed to schedule timeout")
		}
		scheduledToken = token
		staged.TimeoutToken = string(token)
		if e.metrics != nil {
			e.metrics.IncrementScheduledTimeouts(ctx)
		}
	}

	if err := e.persist(ctx, staged, tc.outbox); err != nil {
		// компенсируем только что запланированный таймаут
		if scheduledToken != "" {
			e.scheduler.Cancel(scheduledToken)
			if e.metrics != nil {
				e.metrics.DecrementScheduledTimeouts(ctx)
			}
		}
		return nil, err
	}

	if transition.Terminal && !e.config.RetainTerminal {
		if err := e.store.Delete(ctx, correlationID); err != nil {
			e.logger.Warn("failed to delete terminal instance",
				zap.String("correlation_id", correlationID),
				zap.Error(err))
		}
	}

	if e.metrics != nil {
		e.metrics.RecordTransition(ctx, e.definition.Name(), string(from), string(staged.State))
		if created {
			e.metrics.IncrementActiveInstances(ctx, e.definition.Name())
		}
		if transition.Terminal {
			e.metrics.DecrementActiveInstances(ctx, e.definition.Name())
		}
	}

	e.logger.Info("transition applied",
		zap.String("saga", e.definition.Name()),
		zap.String("correlation_id", correlationID),
		zap.String("event_type", envelope.EventType),
		zap.String("from", string(from)),
		zap.String("to", string(staged.State)),
		zap.Bool("terminal", transition.Terminal))

	return &HandleResult{
		Disposition:   DispositionApplied,
		Saga:          e.definition.Name(),
		CorrelationID: correlationID,
		From:          from,
		To:            staged.State,
		Created:       created,
		Terminal:      transition.Terminal,
	}, nil
}

// persist сохраняет экземпляр и записи outbox.
// Хранилище с поддержкой транзакций фиксирует оба атомарно, доставку
// выполняет фоновый диспетчер. Для остальных хранилищ события публикуются
// сразу после сохранения.
func (e *Engine) persist(ctx context.Context, staged *Instance, buffer *outbox.Buffer) error {
	if txStore, ok := e.store.(TransactionalStore); ok {
		if err := txStore.SaveWithOutbox(ctx, staged, buffer.Records()); err != nil {
			return core.WrapWithCode(err, core.ErrTransient, "failed to save saga instance with outbox")
		}
		return nil
	}

	if err := e.store.Save(ctx, staged); err != nil {
		return core.WrapWithCode(err, core.ErrTransient, "failed to save saga instance")
	}

	if err := buffer.Flush(ctx, e.publisher); err != nil {
		// по этой ветке идет только хранилище в памяти: экземпляр и так
		// не переживает рестарт, долговечные хранилища идут через
		// SaveWithOutbox
		e.logger.Error("failed to flush outbox after save",
			zap.String("correlation_id", staged.CorrelationID),
			zap.Error(err))
	}
	return nil
}

func (e *Engine) cancelTimeout(ctx context.Context, staged *Instance) {
	if e.scheduler.Cancel(scheduler.Token(staged.TimeoutToken)) {
		if e.metrics != nil {
			e.metrics.DecrementScheduledTimeouts(ctx)
		}
	}
	staged.TimeoutToken = ""
}

func (e *Engine) discard(ctx context.Context, envelope events.Envelope, reason string) *HandleResult {
	if e.metrics != nil {
		e.metrics.RecordDiscarded(ctx, e.definition.Name(), envelope.EventType, reason)
	}
	e.logger.Debug("event discarded",
		zap.String("saga", e.definition.Name()),
		zap.String("correlation_id", envelope.CorrelationID),
		zap.String("event_type", envelope.EventType),
		zap.String("reason", reason))
	return &HandleResult{
		Disposition:   DispositionDiscarded,
		Reason:        reason,
		Saga:          e.definition.Name(),
		CorrelationID: envelope.CorrelationID,
	}
}

// MessageHandler возвращает обработчик сообщений транспорта.
// Отброшенные события подтверждаются без ошибки; временные сбои
// возвращают ошибку и запускают повторную доставку.
func (e *Engine) MessageHandler() transport.MessageHandler {
	return func(ctx context.Context, msg *transport.Message) error {
		envelope, err := events.DecodeEnvelope(msg.Data)
		if err != nil {
			// нечитаемое сообщение не станет читаемым при повторе
			e.logger.Error("failed to decode envelope",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return nil
		}
		_, err = e.Handle(ctx, envelope)
		return err
	}
}

// BindTo подписывает движок на все типы событий его определения
func (e *Engine) BindTo(ctx context.Context, subscriber transport.Subscriber) error {
	handler := e.MessageHandler()
	for _, eventType := range e.definition.EventTypes() {
		if err := subscriber.Subscribe(ctx, eventType, handler); err != nil {
			return core.Wrap(err, "failed to subscribe saga "+e.definition.Name())
		}
	}
	return nil
}
