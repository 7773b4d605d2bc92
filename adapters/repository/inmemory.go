// Package repository предоставляет generic адаптеры для хранения доменных сущностей.
package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/akriventsev/conveyor/core"
)

// InMemoryRepository[T Entity] generic in-memory репозиторий
type InMemoryRepository[T Entity] struct {
	entities map[string]T
	mu       sync.RWMutex
}

// NewInMemoryRepository создает новый in-memory репозиторий
func NewInMemoryRepository[T Entity]() *InMemoryRepository[T] {
	return &InMemoryRepository[T]{
		entities: make(map[string]T),
	}
}

// Save сохраняет entity
func (r *InMemoryRepository[T]) Save(ctx context.Context, entity T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := entity.ID()
	if id == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	r.entities[id] = entity
	return nil
}

// FindByID находит entity по идентификатору
func (r *InMemoryRepository[T]) FindByID(ctx context.Context, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, exists := r.entities[id]
	if !exists {
		var zero T
		return zero, core.NewError(core.ErrNotFound, fmt.Sprintf("entity %s not found", id))
	}
	return entity, nil
}

// FindAll возвращает все entity
func (r *InMemoryRepository[T]) FindAll(ctx context.Context) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]T, 0, len(r.entities))
	for _, entity := range r.entities {
		result = append(result, entity)
	}
	return result, nil
}

// Delete удаляет entity по идентификатору
func (r *InMemoryRepository[T]) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[id]; !exists {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("entity %s not found", id))
	}
	delete(r.entities, id)
	return nil
}

// Count возвращает количество entity (для тестирования)
func (r *InMemoryRepository[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
