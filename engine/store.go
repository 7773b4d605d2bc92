package engine

import (
	"context"
	"sync"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/events"
)

// InstanceStore хранилище экземпляров саг.
// Save использует оптимистичную блокировку по Version: конфликт версий
// возвращает ошибку с кодом CONFLICT.
type InstanceStore interface {
	// Load загружает экземпляр по correlation id.
	// Возвращает ошибку с кодом NOT_FOUND, если экземпляр отсутствует.
	Load(ctx context.Context, correlationID string) (*Instance, error)

	// Save сохраняет экземпляр, инкрементируя версию
	Save(ctx context.Context, instance *Instance) error

	// Delete удаляет экземпляр
	Delete(ctx context.Context, correlationID string) error
}

// TransactionalStore хранилище с поддержкой транзакционного outbox.
// Экземпляр и записи outbox фиксируются атомарно; доставку записей
// выполняет фоновый диспетчер.
type TransactionalStore interface {
	InstanceStore

	// SaveWithOutbox атомарно сохраняет экземпляр и записи outbox
	SaveWithOutbox(ctx context.Context, instance *Instance, records []events.Envelope) error
}

// InMemoryInstanceStore хранилище экземпляров в памяти
type InMemoryInstanceStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewInMemoryInstanceStore создает хранилище в памяти
func NewInMemoryInstanceStore() *InMemoryInstanceStore {
	return &InMemoryInstanceStore{
		instances: make(map[string]*Instance),
	}
}

// Load загружает экземпляр по correlation id
func (s *InMemoryInstanceStore) Load(ctx context.Context, correlationID string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.instances[correlationID]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "saga instance not found: "+correlationID)
	}
	return instance.Clone(), nil
}

// Save сохраняет экземпляр с проверкой версии
func (s *InMemoryInstanceStore) Save(ctx context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.instances[instance.CorrelationID]
	if ok && existing.Version != instance.Version {
		return core.NewError(core.ErrConflict, "saga instance version conflict: "+instance.CorrelationID)
	}
	if !ok && instance.Version != 0 {
		return core.NewError(core.ErrConflict, "saga instance was deleted concurrently: "+instance.CorrelationID)
	}

	saved := instance.Clone()
	saved.Version++
	s.instances[instance.CorrelationID] = saved
	instance.Version = saved.Version
	return nil
}

// Delete удаляет экземпляр
func (s *InMemoryInstanceStore) Delete(ctx context.Context, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, correlationID)
	return nil
}

// Count возвращает количество экземпляров
func (s *InMemoryInstanceStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}
