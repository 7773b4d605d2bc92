// Package core предоставляет базовые интерфейсы для всех компонентов движка.
package core

import "context"

// Component базовый интерфейс для всех компонентов движка
type Component interface {
	// Name возвращает имя компонента
	Name() string
	// Type возвращает тип компонента
	Type() ComponentType
}

// Lifecycle интерфейс для управления жизненным циклом компонентов
type Lifecycle interface {
	// Start запускает компонент
	Start(ctx context.Context) error
	// Stop останавливает компонент
	Stop(ctx context.Context) error
	// IsRunning проверяет, запущен ли компонент
	IsRunning() bool
}

// HealthCheckable интерфейс для проверки здоровья компонентов
type HealthCheckable interface {
	// HealthCheck проверяет здоровье компонента
	HealthCheck(ctx context.Context) error
}

// ComponentType enum для типов компонентов
type ComponentType string

const (
	ComponentTypeEngine    ComponentType = "engine"
	ComponentTypeAdapter   ComponentType = "adapter"
	ComponentTypeScheduler ComponentType = "scheduler"
	ComponentTypeConsumer  ComponentType = "consumer"
)
