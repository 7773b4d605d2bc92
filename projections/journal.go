// Package projections строит read-модели по итоговым событиям саг.
package projections

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/conveyor/adapters/repository"
	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/transport"
)

// JournalEntry запись журнала заказа
type JournalEntry struct {
	EntryID       string    `bson:"_id" json:"entry_id"`
	CorrelationID string    `bson:"correlation_id" json:"correlation_id"`
	EventType     string    `bson:"event_type" json:"event_type"`
	OccurredAt    time.Time `bson:"occurred_at" json:"occurred_at"`
}

// ID возвращает идентификатор записи
func (e *JournalEntry) ID() string {
	return e.EntryID
}

// OrderJournal read-модель истории заказа.
// Подписывается на итоговые события саг через message bus, раскладывает их
// во внутреннюю шину событий и проецирует в репозиторий записей журнала.
// Ключ записи — event id, поэтому повторная доставка перезаписывает
// ту же запись.
type OrderJournal struct {
	entries    repository.Repository[*JournalEntry]
	bus        *events.InMemoryEventBus
	logger     *zap.Logger
	deadLetter bool
}

// NewOrderJournal создает журнал заказов
func NewOrderJournal(entries repository.Repository[*JournalEntry], logger *zap.Logger) *OrderJournal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderJournal{
		entries: entries,
		bus:     events.NewInMemoryEventBus().WithMiddleware(loggingMiddleware(logger)),
		logger:  logger,
	}
}

// WithDeadLetter направляет события, которые не удалось спроецировать,
// в fault-канал. С dead letter сообщение подтверждается сразу,
// без повторной доставки транспортом.
func (j *OrderJournal) WithDeadLetter(faults transport.FaultPublisher) *OrderJournal {
	j.bus.WithDeadLetterQueue(&faultDeadLetter{faults: faults})
	j.deadLetter = true
	return j
}

// Name возвращает имя компонента
func (j *OrderJournal) Name() string {
	return "order-journal"
}

// Type возвращает тип компонента
func (j *OrderJournal) Type() core.ComponentType {
	return core.ComponentTypeConsumer
}

// BindTo подписывает журнал на subjects итоговых событий
func (j *OrderJournal) BindTo(ctx context.Context, subscriber transport.Subscriber, subjects ...string) error {
	for _, subject := range subjects {
		if err := j.bus.Subscribe(subject, events.NewEventHandlerFunc(subject, j.record)); err != nil {
			return core.Wrap(err, "failed to register journal projection")
		}
		if err := subscriber.Subscribe(ctx, subject, j.handleMessage); err != nil {
			return core.Wrap(err, "failed to subscribe order journal")
		}
	}
	return nil
}

// EntriesFor возвращает записи журнала по correlation id в порядке возникновения
func (j *OrderJournal) EntriesFor(ctx context.Context, correlationID string) ([]*JournalEntry, error) {
	all, err := j.entries.FindAll(ctx)
	if err != nil {
		return nil, core.Wrap(err, "failed to load journal entries")
	}
	var matched []*JournalEntry
	for _, entry := range all {
		if entry.CorrelationID == correlationID {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].OccurredAt.Before(matched[k].OccurredAt)
	})
	return matched, nil
}

func (j *OrderJournal) handleMessage(ctx context.Context, msg *transport.Message) error {
	envelope, err := events.DecodeEnvelope(msg.Data)
	if err != nil {
		j.logger.Error("failed to decode journal event",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return nil
	}
	err = j.bus.Publish(ctx, envelope.Event())
	if err != nil && j.deadLetter {
		j.logger.Warn("journal event dead-lettered",
			zap.String("event_type", envelope.EventType),
			zap.String("correlation_id", envelope.CorrelationID),
			zap.Error(err))
		return nil
	}
	return err
}

func (j *OrderJournal) record(ctx context.Context, event events.Event) error {
	entry := &JournalEntry{
		EntryID:       event.EventID(),
		CorrelationID: event.CorrelationID(),
		EventType:     event.EventType(),
		OccurredAt:    event.OccurredAt(),
	}
	if err := j.entries.Save(ctx, entry); err != nil {
		return core.Wrap(err, "failed to save journal entry")
	}
	return nil
}

func loggingMiddleware(logger *zap.Logger) events.EventMiddleware {
	return func(ctx context.Context, event events.Event, next func(ctx context.Context, event events.Event) error) error {
		err := next(ctx, event)
		if err == nil {
			logger.Debug("journal event projected",
				zap.String("event_type", event.EventType()),
				zap.String("correlation_id", event.CorrelationID()))
		}
		return err
	}
}

// faultDeadLetter публикует события, не прошедшие проекцию, в fault-канал
type faultDeadLetter struct {
	faults transport.FaultPublisher
}

func (d *faultDeadLetter) Publish(ctx context.Context, event events.Event, reason string) error {
	data, err := events.NewEnvelope(event).Encode()
	if err != nil {
		return core.Wrap(err, "failed to encode dead letter event")
	}
	msg := &transport.Message{Subject: event.EventType(), Data: data}
	return d.faults.PublishFault(ctx, msg, reason)
}
