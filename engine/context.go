package engine

import (
	"time"

	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/outbox"
)

// timeoutRequest отложенный запрос планирования таймаута.
// Применяется движком после успешного выполнения всех действий перехода.
type timeoutRequest struct {
	delay     time.Duration
	eventType string
}

// TransitionContext контекст одного перехода.
//
// Действия работают с копией экземпляра и накапливают побочные эффекты:
// исходящие события попадают в outbox-буфер, запросы таймаутов
// откладываются до фиксации перехода. При ошибке любого действия
// весь переход отбрасывается без следа.
type TransitionContext struct {
	event    events.Event
	instance *Instance
	outbox   *outbox.Buffer

	scheduleRequest *timeoutRequest
	cancelRequested bool
}

func newTransitionContext(event events.Event, staged *Instance) *TransitionContext {
	return &TransitionContext{
		event:    event,
		instance: staged,
		outbox:   outbox.NewBuffer(),
	}
}

// Event возвращает обрабатываемое событие
func (tc *TransitionContext) Event() events.Event {
	return tc.event
}

// Instance возвращает подготовленную копию экземпляра.
// Изменения данных применяются только при успешной фиксации перехода.
func (tc *TransitionContext) Instance() *Instance {
	return tc.instance
}

// Publish ставит событие в outbox-буфер перехода.
// Событие будет опубликовано после фиксации экземпляра.
func (tc *TransitionContext) Publish(event events.Event) {
	tc.outbox.Enqueue(events.NewEnvelope(event))
}

// ScheduleTimeout запрашивает планирование таймаута после фиксации перехода.
// Повторный вызов в рамках одного перехода заменяет предыдущий запрос.
func (tc *TransitionContext) ScheduleTimeout(delay time.Duration, eventType string) {
	tc.scheduleRequest = &timeoutRequest{delay: delay, eventType: eventType}
}

// CancelTimeout запрашивает отмену активного таймаута экземпляра
func (tc *TransitionContext) CancelTimeout() {
	tc.cancelRequested = true
}
