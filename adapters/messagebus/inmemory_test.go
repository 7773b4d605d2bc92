package messagebus

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/conveyor/transport"
)

func fastRetryPolicy() *transport.IncrementalBackoffPolicy {
	return &transport.IncrementalBackoffPolicy{
		InitialDelay: time.Millisecond,
		Increment:    time.Millisecond,
		MaxAttempts:  5,
		SweepRounds:  2,
		SweepDelay:   2 * time.Millisecond,
	}
}

func newTestAdapter() *InMemoryAdapter {
	return NewInMemoryAdapter(InMemoryConfig{
		EnableOrdering: true,
		RetryPolicy:    fastRetryPolicy(),
	})
}

func TestInMemoryAdapter_DeliversToSubscriber(t *testing.T) {
	adapter := newTestAdapter()
	ctx := context.Background()

	var received []string
	err := adapter.Subscribe(ctx, "invoice.requested", func(ctx context.Context, msg *transport.Message) error {
		received = append(received, string(msg.Data))
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, adapter.Publish(ctx, "invoice.requested", []byte("a"), nil))
	require.NoError(t, adapter.Publish(ctx, "invoice.requested", []byte("b"), nil))

	assert.Equal(t, []string{"a", "b"}, received)
}

func TestInMemoryAdapter_RetriesThenRoutesToFault(t *testing.T) {
	adapter := newTestAdapter()
	ctx := context.Background()

	var mu sync.Mutex
	var attempts []string
	err := adapter.Subscribe(ctx, "invoice.requested", func(ctx context.Context, msg *transport.Message) error {
		mu.Lock()
		attempts = append(attempts, msg.Headers[transport.HeaderAttempt])
		mu.Unlock()
		return errors.New("handler failed")
	})
	require.NoError(t, err)

	var faults []*transport.Message
	err = adapter.Subscribe(ctx, transport.FaultSubject, func(ctx context.Context, msg *transport.Message) error {
		faults = append(faults, msg)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, adapter.Publish(ctx, "invoice.requested", []byte("payload"), nil))

	// 5 немедленных попыток + 2 отложенных раунда
	require.Len(t, attempts, 7)
	for i, attempt := range attempts {
		assert.Equal(t, strconv.Itoa(i+1), attempt)
	}

	require.Len(t, faults, 1)
	assert.Equal(t, "invoice.requested", faults[0].Headers[transport.HeaderFaultSubject])
	assert.Equal(t, "handler failed", faults[0].Headers[transport.HeaderFaultReason])
	assert.Equal(t, []byte("payload"), faults[0].Data)
}

func TestInMemoryAdapter_SuccessfulRetryStopsEscalation(t *testing.T) {
	adapter := newTestAdapter()
	ctx := context.Background()

	calls := 0
	err := adapter.Subscribe(ctx, "invoice.requested", func(ctx context.Context, msg *transport.Message) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)

	var faults int
	err = adapter.Subscribe(ctx, transport.FaultSubject, func(ctx context.Context, msg *transport.Message) error {
		faults++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, adapter.Publish(ctx, "invoice.requested", []byte("payload"), nil))
	assert.Equal(t, 3, calls)
	assert.Zero(t, faults)
}

func TestInMemoryAdapter_FaultMessagesAreNotRetried(t *testing.T) {
	adapter := newTestAdapter()
	ctx := context.Background()

	calls := 0
	err := adapter.Subscribe(ctx, transport.FaultSubject, func(ctx context.Context, msg *transport.Message) error {
		calls++
		return errors.New("fault consumer failed")
	})
	require.NoError(t, err)

	msg := &transport.Message{Subject: "invoice.requested", Data: []byte("payload")}
	require.NoError(t, adapter.PublishFault(ctx, msg, "handler failed"))

	// сбой потребителя fault-канала не порождает каскад fault-сообщений
	assert.Equal(t, 7, calls)
}

func TestInMemoryAdapter_Unsubscribe(t *testing.T) {
	adapter := newTestAdapter()
	ctx := context.Background()

	received := 0
	require.NoError(t, adapter.Subscribe(ctx, "invoice.requested", func(ctx context.Context, msg *transport.Message) error {
		received++
		return nil
	}))
	require.Equal(t, 1, adapter.GetSubscriberCount("invoice.requested"))

	require.NoError(t, adapter.Unsubscribe("invoice.requested"))
	require.NoError(t, adapter.Publish(ctx, "invoice.requested", []byte("a"), nil))
	assert.Zero(t, received)
}
