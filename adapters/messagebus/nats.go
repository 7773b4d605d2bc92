// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/transport"
)

// NATSConfig конфигурация для NATS адаптера
type NATSConfig struct {
	URL               string
	QueueGroup        string
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectionTimeout time.Duration
	TLS               *tls.Config
	Token             string
	Username          string
	Password          string
	RetryPolicy       transport.RetryPolicy
}

// Validate проверяет корректность конфигурации
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return fmt.Errorf("URL must start with nats:// or tls://")
	}
	return nil
}

// DefaultNATSConfig возвращает конфигурацию NATS по умолчанию
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               "nats://localhost:4222",
		QueueGroup:        "conveyor",
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		ConnectionTimeout: 5 * time.Second,
		RetryPolicy:       transport.DefaultRetryPolicy(),
	}
}

// NATSAdapter реализация MessageBus через NATS.
//
// Подписки используют общую queue group, чтобы доставки одного subject
// балансировались между репликами сервиса.
type NATSAdapter struct {
	config  NATSConfig
	conn    *nats.Conn
	subs    map[string]*nats.Subscription
	mu      sync.RWMutex
	running bool
}

// NATSAdapterBuilder построитель для NATS адаптера
type NATSAdapterBuilder struct {
	config NATSConfig
}

// NewNATSAdapterBuilder создает новый построитель NATS адаптера
func NewNATSAdapterBuilder() *NATSAdapterBuilder {
	return &NATSAdapterBuilder{
		config: DefaultNATSConfig(),
	}
}

// WithURL устанавливает URL NATS сервера
func (b *NATSAdapterBuilder) WithURL(url string) *NATSAdapterBuilder {
	b.config.URL = url
	return b
}

// WithQueueGroup устанавливает queue group подписок
func (b *NATSAdapterBuilder) WithQueueGroup(group string) *NATSAdapterBuilder {
	b.config.QueueGroup = group
	return b
}

// WithMaxReconnects устанавливает максимальное количество переподключений
func (b *NATSAdapterBuilder) WithMaxReconnects(maxReconnects int) *NATSAdapterBuilder {
	b.config.MaxReconnects = maxReconnects
	return b
}

// WithReconnectWait устанавливает задержку между переподключениями
func (b *NATSAdapterBuilder) WithReconnectWait(wait time.Duration) *NATSAdapterBuilder {
	b.config.ReconnectWait = wait
	return b
}

// WithTLS устанавливает TLS конфигурацию
func (b *NATSAdapterBuilder) WithTLS(tls *tls.Config) *NATSAdapterBuilder {
	b.config.TLS = tls
	return b
}

// WithCredentials устанавливает учетные данные
func (b *NATSAdapterBuilder) WithCredentials(username, password string) *NATSAdapterBuilder {
	b.config.Username = username
	b.config.Password = password
	return b
}

// WithRetryPolicy устанавливает политику повторов доставки
func (b *NATSAdapterBuilder) WithRetryPolicy(policy transport.RetryPolicy) *NATSAdapterBuilder {
	b.config.RetryPolicy = policy
	return b
}

// Build создает NATS адаптер
func (b *NATSAdapterBuilder) Build() (*NATSAdapter, error) {
	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}
	if b.config.RetryPolicy == nil {
		b.config.RetryPolicy = transport.DefaultRetryPolicy()
	}
	return &NATSAdapter{
		config: b.config,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// NewNATSAdapter создает новый NATS адаптер с конфигурацией по умолчанию
func NewNATSAdapter(url string) (*NATSAdapter, error) {
	return NewNATSAdapterBuilder().WithURL(url).Build()
}

// Start запускает адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(n.config.MaxReconnects),
		nats.ReconnectWait(n.config.ReconnectWait),
		nats.Timeout(n.config.ConnectionTimeout),
	}

	if n.config.TLS != nil {
		opts = append(opts, nats.Secure(n.config.TLS))
	}
	if n.config.Token != "" {
		opts = append(opts, nats.Token(n.config.Token))
	}
	if n.config.Username != "" && n.config.Password != "" {
		opts = append(opts, nats.UserInfo(n.config.Username, n.config.Password))
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		return core.Wrap(err, "failed to connect to NATS")
	}

	n.conn = conn
	n.running = true
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}

	for subject, sub := range n.subs {
		_ = sub.Unsubscribe()
		delete(n.subs, subject)
	}

	if n.conn != nil && n.conn.IsConnected() {
		_ = n.conn.Drain()
		n.conn.Close()
	}

	n.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Name возвращает имя компонента (реализация core.Component)
func (n *NATSAdapter) Name() string {
	return "nats-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (n *NATSAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует сообщение в subject
func (n *NATSAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	n.mu.RLock()
	conn := n.conn
	n.mu.RUnlock()

	if conn == nil {
		return core.NewError(core.ErrTransient, "nats adapter is not connected")
	}

	msg := nats.NewMsg(subject)
	msg.Data = data

	if len(headers) > 0 {
		msg.Header = make(nats.Header, len(headers))
		for k, v := range headers {
			msg.Header.Set(k, v)
		}
	}

	if err := conn.PublishMsg(msg); err != nil {
		return core.Wrap(err, fmt.Sprintf("failed to publish to %s", subject))
	}
	return nil
}

// PublishFault публикует сообщение в fault-канал (реализация transport.FaultPublisher)
func (n *NATSAdapter) PublishFault(ctx context.Context, msg *transport.Message, reason string) error {
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[transport.HeaderFaultReason] = reason
	headers[transport.HeaderFaultSubject] = msg.Subject

	return n.Publish(ctx, transport.FaultSubject, msg.Data, headers)
}

// Subscribe подписывается на subject
func (n *NATSAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return core.NewError(core.ErrTransient, "nats adapter is not connected")
	}

	policy := n.config.RetryPolicy
	cb := func(natsMsg *nats.Msg) {
		msg := &transport.Message{
			Subject: natsMsg.Subject,
			Data:    natsMsg.Data,
			Headers: make(map[string]string),
		}
		for k, vals := range natsMsg.Header {
			if len(vals) > 0 {
				msg.Headers[k] = vals[0]
			}
		}

		var lastErr error
		for attempt := 1; ; attempt++ {
			lastErr = handler(ctx, withAttemptHeader(msg, attempt))
			if lastErr == nil {
				return
			}
			if !policy.ShouldRetry(attempt, lastErr) {
				break
			}
			select {
			case <-time.After(policy.GetDelay(attempt)):
			case <-ctx.Done():
				return
			}
		}

		if msg.Subject != transport.FaultSubject {
			_ = n.PublishFault(ctx, msg, lastErr.Error())
		}
	}

	var sub *nats.Subscription
	var err error
	if n.config.QueueGroup != "" {
		sub, err = n.conn.QueueSubscribe(subject, n.config.QueueGroup, cb)
	} else {
		sub, err = n.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return core.Wrap(err, fmt.Sprintf("failed to subscribe to %s", subject))
	}

	n.subs[subject] = sub
	return nil
}

// Unsubscribe отписывается от subject
func (n *NATSAdapter) Unsubscribe(subject string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, exists := n.subs[subject]
	if !exists {
		return nil
	}
	delete(n.subs, subject)

	if err := sub.Unsubscribe(); err != nil {
		return core.Wrap(err, fmt.Sprintf("failed to unsubscribe from %s", subject))
	}
	return nil
}
