// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics сборщик метрик движка саг
type Metrics struct {
	meter             metric.Meter
	eventsTotal       metric.Int64Counter
	transitionsTotal  metric.Int64Counter
	discardedTotal    metric.Int64Counter
	faultsTotal       metric.Int64Counter
	redeliveriesTotal metric.Int64Counter
	handleDuration    metric.Float64Histogram
	activeInstances   metric.Int64UpDownCounter
	scheduledTimeouts metric.Int64UpDownCounter
}

// NewMetrics создает новый сборщик метрик
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("conveyor")

	eventsTotal, err := meter.Int64Counter(
		"saga_events_total",
		metric.WithDescription("Total number of saga events handled"),
	)
	if err != nil {
		return nil, err
	}

	transitionsTotal, err := meter.Int64Counter(
		"saga_transitions_total",
		metric.WithDescription("Total number of applied saga transitions"),
	)
	if err != nil {
		return nil, err
	}

	discardedTotal, err := meter.Int64Counter(
		"saga_events_discarded_total",
		metric.WithDescription("Total number of discarded saga events"),
	)
	if err != nil {
		return nil, err
	}

	faultsTotal, err := meter.Int64Counter(
		"saga_faults_total",
		metric.WithDescription("Total number of messages routed to the fault subject"),
	)
	if err != nil {
		return nil, err
	}

	redeliveriesTotal, err := meter.Int64Counter(
		"saga_redeliveries_total",
		metric.WithDescription("Total number of message redelivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	handleDuration, err := meter.Float64Histogram(
		"saga_handle_duration_seconds",
		metric.WithDescription("Saga event handling duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeInstances, err := meter.Int64UpDownCounter(
		"saga_active_instances",
		metric.WithDescription("Number of live saga instances"),
	)
	if err != nil {
		return nil, err
	}

	scheduledTimeouts, err := meter.Int64UpDownCounter(
		"saga_scheduled_timeouts",
		metric.WithDescription("Number of scheduled saga timeouts"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:             meter,
		eventsTotal:       eventsTotal,
		transitionsTotal:  transitionsTotal,
		discardedTotal:    discardedTotal,
		faultsTotal:       faultsTotal,
		redeliveriesTotal: redeliveriesTotal,
		handleDuration:    handleDuration,
		activeInstances:   activeInstances,
		scheduledTimeouts: scheduledTimeouts,
	}, nil
}

// RecordEvent записывает метрику обработанного события
func (m *Metrics) RecordEvent(ctx context.Context, saga, eventType string, duration time.Duration, applied bool) {
	attrs := []attribute.KeyValue{
		attribute.String("saga", saga),
		attribute.String("event", eventType),
		attribute.Bool("applied", applied),
	}

	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.handleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordTransition записывает метрику примененного перехода
func (m *Metrics) RecordTransition(ctx context.Context, saga string, from, to string) {
	m.transitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("saga", saga),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordDiscarded записывает метрику отброшенного события
func (m *Metrics) RecordDiscarded(ctx context.Context, saga, eventType, reason string) {
	m.discardedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("saga", saga),
		attribute.String("event", eventType),
		attribute.String("reason", reason),
	))
}

// RecordFault записывает метрику сообщения, отправленного в fault-канал
func (m *Metrics) RecordFault(ctx context.Context, subject string) {
	m.faultsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subject", subject),
	))
}

// RecordRedelivery записывает метрику повторной доставки
func (m *Metrics) RecordRedelivery(ctx context.Context, subject string, attempt int) {
	m.redeliveriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subject", subject),
		attribute.Int("attempt", attempt),
	))
}

// IncrementActiveInstances увеличивает счетчик живых экземпляров
func (m *Metrics) IncrementActiveInstances(ctx context.Context, saga string) {
	m.activeInstances.Add(ctx, 1, metric.WithAttributes(attribute.String("saga", saga)))
}

// DecrementActiveInstances уменьшает счетчик живых экземпляров
func (m *Metrics) DecrementActiveInstances(ctx context.Context, saga string) {
	m.activeInstances.Add(ctx, -1, metric.WithAttributes(attribute.String("saga", saga)))
}

// IncrementScheduledTimeouts увеличивает счетчик запланированных таймаутов
func (m *Metrics) IncrementScheduledTimeouts(ctx context.Context) {
	m.scheduledTimeouts.Add(ctx, 1)
}

// DecrementScheduledTimeouts уменьшает счетчик запланированных таймаутов
func (m *Metrics) DecrementScheduledTimeouts(ctx context.Context) {
	m.scheduledTimeouts.Add(ctx, -1)
}
