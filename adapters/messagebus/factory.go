// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"fmt"
	"sync"

	"github.com/akriventsev/conveyor/transport"
)

// Bus объединяет MessageBus с публикацией сбоев и управлением жизненным циклом
type Bus interface {
	transport.MessageBus
	transport.FaultPublisher
}

// MessageBusFactory интерфейс фабрики для создания MessageBus адаптеров
type MessageBusFactory interface {
	Create(busType string, config interface{}) (Bus, error)
	Register(name string, creator func(config interface{}) (Bus, error)) error
}

// DefaultMessageBusFactory реализация фабрики MessageBus
type DefaultMessageBusFactory struct {
	creators map[string]func(config interface{}) (Bus, error)
	mu       sync.RWMutex
}

// NewMessageBusFactory создает новую фабрику MessageBus
func NewMessageBusFactory() *DefaultMessageBusFactory {
	factory := &DefaultMessageBusFactory{
		creators: make(map[string]func(config interface{}) (Bus, error)),
	}

	// Регистрируем built-in адаптеры
	_ = factory.Register("inmemory", func(config interface{}) (Bus, error) {
		cfg, ok := config.(InMemoryConfig)
		if !ok {
			cfg = DefaultInMemoryConfig()
		}
		return NewInMemoryAdapter(cfg), nil
	})

	_ = factory.Register("amqp", func(config interface{}) (Bus, error) {
		cfg, ok := config.(AMQPConfig)
		if !ok {
			if url, ok := config.(string); ok {
				cfg = DefaultAMQPConfig()
				cfg.URL = url
			} else {
				return nil, fmt.Errorf("invalid AMQP config type: %T", config)
			}
		}
		return NewAMQPAdapter(cfg)
	})

	_ = factory.Register("nats", func(config interface{}) (Bus, error) {
		cfg, ok := config.(NATSConfig)
		if !ok {
			if url, ok := config.(string); ok {
				return NewNATSAdapter(url)
			}
			return nil, fmt.Errorf("invalid NATS config type: %T", config)
		}
		builder := NewNATSAdapterBuilder().
			WithURL(cfg.URL).
			WithQueueGroup(cfg.QueueGroup).
			WithMaxReconnects(cfg.MaxReconnects).
			WithReconnectWait(cfg.ReconnectWait)
		if cfg.TLS != nil {
			builder.WithTLS(cfg.TLS)
		}
		if cfg.Username != "" && cfg.Password != "" {
			builder.WithCredentials(cfg.Username, cfg.Password)
		}
		if cfg.RetryPolicy != nil {
			builder.WithRetryPolicy(cfg.RetryPolicy)
		}
		return builder.Build()
	})

	return factory
}

// Create создает адаптер по типу
func (f *DefaultMessageBusFactory) Create(busType string, config interface{}) (Bus, error) {
	f.mu.RLock()
	creator, exists := f.creators[busType]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown message bus type: %s", busType)
	}

	return creator(config)
}

// Register регистрирует кастомный адаптер
func (f *DefaultMessageBusFactory) Register(name string, creator func(config interface{}) (Bus, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[name]; exists {
		return fmt.Errorf("message bus type already registered: %s", name)
	}

	f.creators[name] = creator
	return nil
}
