package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/conveyor/events"
)

type stubPublisher struct {
	subjects []string
	failOn   string
}

func (p *stubPublisher) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	if subject == p.failOn {
		return errors.New("broker unavailable")
	}
	p.subjects = append(p.subjects, subject)
	return nil
}

func envelopeOf(eventType string) events.Envelope {
	return events.NewEnvelope(events.NewBaseEvent(eventType, "order-1"))
}

func TestBuffer_FlushPublishesInOrder(t *testing.T) {
	buffer := NewBuffer()
	buffer.Enqueue(envelopeOf("invoice.paid"))
	buffer.Enqueue(envelopeOf("shipment.requested"))
	require.Equal(t, 2, buffer.Len())

	publisher := &stubPublisher{}
	err := buffer.Flush(context.Background(), publisher)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice.paid", "shipment.requested"}, publisher.subjects)
	assert.Equal(t, 0, buffer.Len())
}

func TestBuffer_DiscardDropsRecords(t *testing.T) {
	buffer := NewBuffer()
	buffer.Enqueue(envelopeOf("invoice.paid"))
	buffer.Discard()

	publisher := &stubPublisher{}
	err := buffer.Flush(context.Background(), publisher)
	require.NoError(t, err)
	assert.Empty(t, publisher.subjects)
}

func TestBuffer_FlushKeepsUndeliveredRecords(t *testing.T) {
	buffer := NewBuffer()
	buffer.Enqueue(envelopeOf("invoice.paid"))
	buffer.Enqueue(envelopeOf("shipment.requested"))
	buffer.Enqueue(envelopeOf("order.confirmed"))

	publisher := &stubPublisher{failOn: "shipment.requested"}
	err := buffer.Flush(context.Background(), publisher)
	require.Error(t, err)

	// доставленное ушло, недоставленное осталось для повтора
	assert.Equal(t, []string{"invoice.paid"}, publisher.subjects)
	assert.Equal(t, 2, buffer.Len())

	publisher.failOn = ""
	err = buffer.Flush(context.Background(), publisher)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice.paid", "shipment.requested", "order.confirmed"}, publisher.subjects)
	assert.Equal(t, 0, buffer.Len())
}

func TestDispatcherConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultDispatcherConfig().Validate())

	bad := DefaultDispatcherConfig()
	bad.BatchSize = 0
	assert.Error(t, bad.Validate())

	bad = DefaultDispatcherConfig()
	bad.PollInterval = 0
	assert.Error(t, bad.Validate())
}
