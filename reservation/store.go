package reservation

import (
	"context"
	"sync"

	"github.com/akriventsev/conveyor/core"
)

// Store хранилище складских позиций и резервов.
// ReserveStock и RestoreStock атомарны относительно остатка позиции:
// конкурентные списания не могут увести остаток в минус.
type Store interface {
	// GetInventory возвращает позицию по идентификатору.
	// Возвращает ошибку с кодом NOT_FOUND, если позиция отсутствует.
	GetInventory(ctx context.Context, itemID string) (*InventoryRecord, error)

	// PutInventory создает или обновляет позицию
	PutInventory(ctx context.Context, record *InventoryRecord) error

	// ReserveStock атомарно списывает количество при достаточном остатке.
	// Возвращает false без ошибки, если остатка не хватает.
	ReserveStock(ctx context.Context, itemID string, quantity int) (bool, error)

	// RestoreStock атомарно возвращает количество на остаток
	RestoreStock(ctx context.Context, itemID string, quantity int) error

	// GetReservation возвращает резерв по correlation id.
	// Возвращает ошибку с кодом NOT_FOUND, если резерв отсутствует.
	GetReservation(ctx context.Context, correlationID string) (*Reservation, error)

	// SaveReservation создает или обновляет резерв
	SaveReservation(ctx context.Context, reservation *Reservation) error

	// MarkRedeemed атомарно помечает резерв потребленным.
	// Возвращает false без ошибки, если резерв уже потреблен или возвращен.
	MarkRedeemed(ctx context.Context, correlationID string) (bool, error)

	// MarkCancelled атомарно помечает резерв возвращенным.
	// Возвращает false без ошибки, если резерв уже потреблен или возвращен.
	MarkCancelled(ctx context.Context, correlationID string) (bool, error)
}

// InMemoryStore хранилище резервов в памяти
type InMemoryStore struct {
	mu           sync.Mutex
	inventory    map[string]*InventoryRecord
	reservations map[string]*Reservation
}

// NewInMemoryStore создает хранилище в памяти
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		inventory:    make(map[string]*InventoryRecord),
		reservations: make(map[string]*Reservation),
	}
}

// GetInventory возвращает позицию по идентификатору
func (s *InMemoryStore) GetInventory(ctx context.Context, itemID string) (*InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.inventory[itemID]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "inventory item not found: "+itemID)
	}
	copied := *record
	return &copied, nil
}

// PutInventory создает или обновляет позицию
func (s *InMemoryStore) PutInventory(ctx context.Context, record *InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	s.inventory[record.ItemID] = &copied
	return nil
}

// ReserveStock атомарно списывает количество при достаточном остатке
func (s *InMemoryStore) ReserveStock(ctx context.Context, itemID string, quantity int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.inventory[itemID]
	if !ok {
		return false, core.NewError(core.ErrNotFound, "inventory item not found: "+itemID)
	}
	if record.Available < quantity {
		return false, nil
	}
	record.Available -= quantity
	return true, nil
}

// RestoreStock атомарно возвращает количество на остаток
func (s *InMemoryStore) RestoreStock(ctx context.Context, itemID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.inventory[itemID]
	if !ok {
		return core.NewError(core.ErrNotFound, "inventory item not found: "+itemID)
	}
	record.Available += quantity
	return nil
}

// GetReservation возвращает резерв по correlation id
func (s *InMemoryStore) GetReservation(ctx context.Context, correlationID string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, ok := s.reservations[correlationID]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "reservation not found: "+correlationID)
	}
	copied := *reservation
	return &copied, nil
}

// SaveReservation создает или обновляет резерв
func (s *InMemoryStore) SaveReservation(ctx context.Context, reservation *Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *reservation
	s.reservations[reservation.CorrelationID] = &copied
	return nil
}

// MarkRedeemed атомарно помечает резерв потребленным
func (s *InMemoryStore) MarkRedeemed(ctx context.Context, correlationID string) (bool, error) {
	return s.markFlag(correlationID, func(r *Reservation) { r.Redeemed = true })
}

// MarkCancelled атомарно помечает резерв возвращенным
func (s *InMemoryStore) MarkCancelled(ctx context.Context, correlationID string) (bool, error) {
	return s.markFlag(correlationID, func(r *Reservation) { r.Cancelled = true })
}

func (s *InMemoryStore) markFlag(correlationID string, set func(*Reservation)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, ok := s.reservations[correlationID]
	if !ok {
		return false, core.NewError(core.ErrNotFound, "reservation not found: "+correlationID)
	}
	if reservation.Redeemed || reservation.Cancelled {
		return false, nil
	}
	set(reservation)
	return true, nil
}
