package invoicing

import (
	"context"
	"time"

	"github.com/akriventsev/conveyor/adapters/repository"
	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/engine"
	"github.com/akriventsev/conveyor/events"
)

// SagaName имя саги выставления счета
const SagaName = "invoicing"

// Состояния саги
const (
	StateAwaitingPublishing engine.State = "AwaitingPublishing"
	StateAwaitingPayment    engine.State = "AwaitingPayment"
	StatePaid               engine.State = "Paid"
	StateNotPaid            engine.State = "NotPaid"
	StateCancelled          engine.State = "Cancelled"
)

// Типы событий саги
const (
	EventRequested        = "invoice.requested"
	EventPublishRequested = "invoice.publish_requested"
	EventPublishCancelled = "invoice.publish_cancelled"
	EventPaymentReceived  = "invoice.payment_received"
	EventPaymentTimeout   = "invoice.payment_timeout"
	EventNotPaid          = "invoice.not_paid"
	EventPaid             = "invoice.paid"
)

// Ключи payload и данных экземпляра
const (
	PayloadKeyText = "text"
	dataKeyText    = "invoice_text"
)

// Config конфигурация саги выставления счета
type Config struct {
	// PaymentTimeout срок ожидания оплаты после публикации счета
	PaymentTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{PaymentTimeout: 24 * time.Hour}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.PaymentTimeout <= 0 {
		return core.NewError(core.ErrInvalidConfig, "payment timeout must be positive")
	}
	return nil
}

// NewDefinition строит определение саги выставления счета.
//
// Счет создается по запросу, публикуется по подтверждению и ждет оплату
// до таймаута. Оплата и таймаут соревнуются: применяется ровно один
// терминальный переход, проигравшее событие отбрасывается движком.
func NewDefinition(invoices repository.Repository[*Invoice], config Config) (*engine.Definition, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	createInvoice := engine.NewAction("create-invoice",
		func(ctx context.Context, tc *engine.TransitionContext) error {
			text := tc.Event().Payload().GetString(PayloadKeyText)
			invoice := NewInvoice(tc.Event().CorrelationID(), text)
			if err := invoices.Save(ctx, invoice); err != nil {
				return core.Wrap(err, "failed to create invoice")
			}
			tc.Instance().Set(dataKeyText, text)
			return nil
		})

	publishInvoice := engine.NewAction("publish-invoice",
		func(ctx context.Context, tc *engine.TransitionContext) error {
			invoice, err := invoices.FindByID(ctx, tc.Event().CorrelationID())
			if err != nil {
				return core.Wrap(err, "failed to load invoice")
			}
			invoice.Public = true
			invoice.UpdatedAt = time.Now()
			if err := invoices.Save(ctx, invoice); err != nil {
				return core.Wrap(err, "failed to publish invoice")
			}
			tc.ScheduleTimeout(config.PaymentTimeout, EventPaymentTimeout)
			return nil
		})

	cancelInvoice := engine.NewAction("cancel-invoice",
		func(ctx context.Context, tc *engine.TransitionContext) error {
			invoice, err := invoices.FindByID(ctx, tc.Event().CorrelationID())
			if err != nil {
				return core.Wrap(err, "failed to load invoice")
			}
			invoice.Cancelled = true
			invoice.UpdatedAt = time.Now()
			return invoices.Save(ctx, invoice)
		})

	markPaid := engine.NewAction("mark-paid",
		func(ctx context.Context, tc *engine.TransitionContext) error {
			invoice, err := invoices.FindByID(ctx, tc.Event().CorrelationID())
			if err != nil {
				return core.Wrap(err, "failed to load invoice")
			}
			invoice.Paid = true
			invoice.UpdatedAt = time.Now()
			if err := invoices.Save(ctx, invoice); err != nil {
				return core.Wrap(err, "failed to mark invoice paid")
			}
			tc.Publish(events.NewBaseEvent(EventPaid, tc.Event().CorrelationID()))
			return nil
		})

	emitNotPaid := engine.NewAction("emit-not-paid",
		func(ctx context.Context, tc *engine.TransitionContext) error {
			tc.Publish(events.NewBaseEvent(EventNotPaid, tc.Event().CorrelationID()))
			return nil
		})

	return engine.NewDefinitionBuilder(SagaName).
		Initially(EventRequested).
		WithActions(createInvoice).
		TransitionTo(StateAwaitingPublishing).
		From(StateAwaitingPublishing).On(EventPublishRequested).
		WithActions(publishInvoice).
		TransitionTo(StateAwaitingPayment).
		From(StateAwaitingPublishing).On(EventPublishCancelled).
		WithActions(cancelInvoice).
		Finalize(StateCancelled).
		From(StateAwaitingPayment).On(EventPaymentReceived).
		WithActions(markPaid).
		Finalize(StatePaid).
		From(StateAwaitingPayment).On(EventPaymentTimeout).
		WithActions(emitNotPaid).
		Finalize(StateNotPaid).
		Build()
}
