package projections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/conveyor/adapters/repository"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/transport"
)

type stubSubscriber struct {
	handlers map[string]transport.MessageHandler
}

func (s *stubSubscriber) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	if s.handlers == nil {
		s.handlers = make(map[string]transport.MessageHandler)
	}
	s.handlers[subject] = handler
	return nil
}

func (s *stubSubscriber) Unsubscribe(subject string) error {
	delete(s.handlers, subject)
	return nil
}

type stubFaultPublisher struct {
	faults []string
}

func (p *stubFaultPublisher) PublishFault(ctx context.Context, msg *transport.Message, reason string) error {
	p.faults = append(p.faults, msg.Subject+": "+reason)
	return nil
}

type failingRepository struct{}

func (r *failingRepository) Save(ctx context.Context, entity *JournalEntry) error {
	return errors.New("storage unavailable")
}

func (r *failingRepository) FindByID(ctx context.Context, id string) (*JournalEntry, error) {
	return nil, errors.New("storage unavailable")
}

func (r *failingRepository) FindAll(ctx context.Context) ([]*JournalEntry, error) {
	return nil, errors.New("storage unavailable")
}

func (r *failingRepository) Delete(ctx context.Context, id string) error {
	return errors.New("storage unavailable")
}

func outcomeMessage(t *testing.T, eventType, correlationID string, occurredAt time.Time) *transport.Message {
	t.Helper()
	event := events.NewBaseEvent(eventType, correlationID)
	envelope := events.NewEnvelope(event)
	envelope.OccurredAt = occurredAt
	data, err := envelope.Encode()
	require.NoError(t, err)
	return &transport.Message{Subject: eventType, Data: data}
}

func TestOrderJournal_RecordsOutcomeEvents(t *testing.T) {
	journal := NewOrderJournal(repository.NewInMemoryRepository[*JournalEntry](), nil)
	subscriber := &stubSubscriber{}
	require.NoError(t, journal.BindTo(context.Background(), subscriber, "order.confirmed", "invoice.paid"))

	base := time.Now()
	ctx := context.Background()
	require.NoError(t, subscriber.handlers["invoice.paid"](ctx, outcomeMessage(t, "invoice.paid", "order-1", base.Add(time.Minute))))
	require.NoError(t, subscriber.handlers["order.confirmed"](ctx, outcomeMessage(t, "order.confirmed", "order-1", base)))
	require.NoError(t, subscriber.handlers["order.confirmed"](ctx, outcomeMessage(t, "order.confirmed", "order-2", base)))

	entries, err := journal.EntriesFor(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "order.confirmed", entries[0].EventType)
	assert.Equal(t, "invoice.paid", entries[1].EventType)

	other, err := journal.EntriesFor(ctx, "order-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestOrderJournal_RedeliveryOverwritesSameEntry(t *testing.T) {
	journal := NewOrderJournal(repository.NewInMemoryRepository[*JournalEntry](), nil)
	subscriber := &stubSubscriber{}
	require.NoError(t, journal.BindTo(context.Background(), subscriber, "shipment.sent"))

	msg := outcomeMessage(t, "shipment.sent", "order-7", time.Now())
	ctx := context.Background()
	require.NoError(t, subscriber.handlers["shipment.sent"](ctx, msg))
	require.NoError(t, subscriber.handlers["shipment.sent"](ctx, msg))

	entries, err := journal.EntriesFor(ctx, "order-7")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOrderJournal_ProjectionFailureWithoutDeadLetterIsRedelivered(t *testing.T) {
	journal := NewOrderJournal(&failingRepository{}, nil)
	subscriber := &stubSubscriber{}
	require.NoError(t, journal.BindTo(context.Background(), subscriber, "order.rejected"))

	err := subscriber.handlers["order.rejected"](context.Background(),
		outcomeMessage(t, "order.rejected", "order-3", time.Now()))
	assert.Error(t, err, "without a dead letter the transport must redeliver")
}

func TestOrderJournal_ProjectionFailureGoesToDeadLetter(t *testing.T) {
	faults := &stubFaultPublisher{}
	journal := NewOrderJournal(&failingRepository{}, nil).WithDeadLetter(faults)
	subscriber := &stubSubscriber{}
	require.NoError(t, journal.BindTo(context.Background(), subscriber, "order.rejected"))

	err := subscriber.handlers["order.rejected"](context.Background(),
		outcomeMessage(t, "order.rejected", "order-3", time.Now()))
	require.NoError(t, err, "dead-lettered message must be acked")
	require.Len(t, faults.faults, 1)
	assert.Contains(t, faults.faults[0], "order.rejected")
}

func TestOrderJournal_UndecodableMessageIsAcked(t *testing.T) {
	journal := NewOrderJournal(repository.NewInMemoryRepository[*JournalEntry](), nil)
	subscriber := &stubSubscriber{}
	require.NoError(t, journal.BindTo(context.Background(), subscriber, "order.confirmed"))

	err := subscriber.handlers["order.confirmed"](context.Background(),
		&transport.Message{Subject: "order.confirmed", Data: []byte("not json")})
	assert.NoError(t, err)
}
