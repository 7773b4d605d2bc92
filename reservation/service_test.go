package reservation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, available int) (*Service, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	err := store.PutInventory(context.Background(), &InventoryRecord{
		ItemID:    "book-42",
		Title:     "Practical Sagas",
		Available: available,
	})
	require.NoError(t, err)
	return NewService(store, nil), store
}

func available(t *testing.T, store *InMemoryStore, itemID string) int {
	t.Helper()
	record, err := store.GetInventory(context.Background(), itemID)
	require.NoError(t, err)
	return record.Available
}

func TestService_ReserveDecrementsStock(t *testing.T) {
	service, store := newTestService(t, 10)

	result, err := service.Reserve(context.Background(), "order-1", "book-42", "Practical Sagas", 3)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	require.NotNil(t, result.Reservation)
	assert.Equal(t, 3, result.Reservation.Quantity)
	assert.Equal(t, 7, available(t, store, "book-42"))
}

func TestService_ReserveRejections(t *testing.T) {
	tests := []struct {
		name     string
		itemID   string
		title    string
		quantity int
		reason   string
	}{
		{"unknown item", "missing", "Practical Sagas", 1, ReasonUnknownItem},
		{"metadata mismatch", "book-42", "Wrong Title", 1, ReasonMetadataMismatch},
		{"zero quantity", "book-42", "Practical Sagas", 0, ReasonInvalidQuantity},
		{"insufficient stock", "book-42", "Practical Sagas", 11, ReasonInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, store := newTestService(t, 10)

			result, err := service.Reserve(context.Background(), "order-1", tt.itemID, tt.title, tt.quantity)
			require.NoError(t, err)
			assert.False(t, result.Accepted)
			assert.Equal(t, tt.reason, result.Reason)
			assert.Equal(t, 10, available(t, store, "book-42"))
		})
	}
}

func TestService_ReserveIsIdempotentPerCorrelationID(t *testing.T) {
	service, store := newTestService(t, 10)
	ctx := context.Background()

	first, err := service.Reserve(ctx, "order-1", "book-42", "Practical Sagas", 4)
	require.NoError(t, err)
	require.True(t, first.Accepted)

	// повторная доставка того же запроса не списывает остаток второй раз
	second, err := service.Reserve(ctx, "order-1", "book-42", "Practical Sagas", 4)
	require.NoError(t, err)
	assert.True(t, second.Accepted)
	assert.Equal(t, first.Reservation.ReservationID, second.Reservation.ReservationID)
	assert.Equal(t, 6, available(t, store, "book-42"))
}

func TestService_RedeemConsumesReservation(t *testing.T) {
	service, store := newTestService(t, 10)
	ctx := context.Background()

	_, err := service.Reserve(ctx, "order-1", "book-42", "Practical Sagas", 4)
	require.NoError(t, err)

	result, err := service.Redeem(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.True(t, result.Reservation.Redeemed)

	// погашенный резерв нельзя ни погасить, ни вернуть
	result, err = service.Redeem(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonAlreadyRedeemed, result.Reason)

	result, err = service.Release(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonAlreadyRedeemed, result.Reason)
	assert.Equal(t, 6, available(t, store, "book-42"))
}

func TestService_RedeemUnknownReservation(t *testing.T) {
	service, _ := newTestService(t, 10)

	result, err := service.Redeem(context.Background(), "order-404")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonUnknownReservation, result.Reason)
}

func TestService_ReleaseRestoresStockExactlyOnce(t *testing.T) {
	service, store := newTestService(t, 10)
	ctx := context.Background()

	_, err := service.Reserve(ctx, "order-1", "book-42", "Practical Sagas", 4)
	require.NoError(t, err)
	require.Equal(t, 6, available(t, store, "book-42"))

	result, err := service.Release(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, 10, available(t, store, "book-42"))

	// повторное освобождение не возвращает остаток дважды
	result, err = service.Release(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, 10, available(t, store, "book-42"))
}

func TestService_ReleaseUnknownReservationIsNoop(t *testing.T) {
	service, store := newTestService(t, 10)

	result, err := service.Release(context.Background(), "order-404")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonUnknownReservation, result.Reason)
	assert.Equal(t, 10, available(t, store, "book-42"))
}

func TestService_ReleasedReservationCannotBeRedeemed(t *testing.T) {
	service, _ := newTestService(t, 10)
	ctx := context.Background()

	_, err := service.Reserve(ctx, "order-1", "book-42", "Practical Sagas", 4)
	require.NoError(t, err)
	_, err = service.Release(ctx, "order-1")
	require.NoError(t, err)

	result, err := service.Redeem(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonAlreadyReleased, result.Reason)
}

func TestService_ConcurrentReservesConserveStock(t *testing.T) {
	service, store := newTestService(t, 10)
	ctx := context.Background()

	const orders = 25
	var wg sync.WaitGroup
	accepted := make(chan struct{}, orders)

	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := service.Reserve(ctx,
				"order-"+string(rune('a'+n)), "book-42", "Practical Sagas", 1)
			if err != nil {
				t.Errorf("Reserve failed: %v", err)
				return
			}
			if result.Accepted {
				accepted <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(accepted)

	var granted int
	for range accepted {
		granted++
	}
	assert.Equal(t, 10, granted, "only the available quantity may be granted")
	assert.Equal(t, 0, available(t, store, "book-42"))
}

func TestService_ConcurrentReleasesRestoreStockOnce(t *testing.T) {
	service, store := newTestService(t, 10)
	ctx := context.Background()

	_, err := service.Reserve(ctx, "order-1", "book-42", "Practical Sagas", 4)
	require.NoError(t, err)
	require.Equal(t, 6, available(t, store, "book-42"))

	const deliveries = 16
	var wg sync.WaitGroup
	wg.Add(deliveries)
	for i := 0; i < deliveries; i++ {
		go func() {
			defer wg.Done()
			result, err := service.Release(ctx, "order-1")
			assert.NoError(t, err)
			assert.True(t, result.Accepted)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, available(t, store, "book-42"))
}

func TestService_ConcurrentRedeemAndReleaseAreExclusive(t *testing.T) {
	service, store := newTestService(t, 10)
	ctx := context.Background()

	_, err := service.Reserve(ctx, "order-1", "book-42", "Practical Sagas", 4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	var redeemResult, releaseResult Result
	go func() {
		defer wg.Done()
		var err error
		redeemResult, err = service.Redeem(ctx, "order-1")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		releaseResult, err = service.Release(ctx, "order-1")
		assert.NoError(t, err)
	}()
	wg.Wait()

	if redeemResult.Accepted {
		assert.False(t, releaseResult.Accepted, "redeemed reservation must not be released")
		assert.Equal(t, 6, available(t, store, "book-42"))
	} else {
		assert.True(t, releaseResult.Accepted, "exactly one of the two must win")
		assert.Equal(t, 10, available(t, store, "book-42"))
	}
}
