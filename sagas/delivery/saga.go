package delivery

import (
	"context"
	"time"

	"github.com/akriventsev/conveyor/adapters/repository"
	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/engine"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/reservation"
)

// SagaName имя саги отгрузки
const SagaName = "delivery"

// Состояния саги
const (
	StateRequestSend    engine.State = "RequestSend"
	StateReadyToDeliver engine.State = "ReadyToDeliver"
	StateWillNotDeliver engine.State = "WillNotDeliver"
)

// Типы событий саги
const (
	EventRequested           = "shipment.requested"
	EventWarehouseConfirmed  = "warehouse.confirmed"
	EventWarehouseRejected   = "warehouse.rejected"
	EventConfirmationTimeout = "shipment.confirmation_timeout"
	EventSent                = "shipment.sent"
	EventNotSent             = "shipment.not_sent"
)

// Ключи payload запроса отгрузки
const (
	PayloadKeyAddress  = "address"
	PayloadKeyItemID   = "item_id"
	PayloadKeyQuantity = "quantity"
	PayloadKeyReason   = "reason"
)

// Config конфигурация саги отгрузки
type Config struct {
	// ConfirmationTimeout срок ожидания подтверждения склада
	ConfirmationTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{ConfirmationTimeout: time.Hour}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.ConfirmationTimeout <= 0 {
		return core.NewError(core.ErrInvalidConfig, "confirmation timeout must be positive")
	}
	return nil
}

// NewDefinition строит определение саги отгрузки.
//
// Запрос отгрузки создает Shipment, запрашивает погашение резерва склада
// и ждет подтверждение до таймаута. Подтверждение и таймаут соревнуются:
// движок применяет ровно один терминальный переход.
func NewDefinition(shipments repository.Repository[*Shipment], config Config) (*engine.Definition, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	createShipment := engine.NewAction("create-shipment",
		func(ctx context.Context, tc *engine.TransitionContext) error {
			payload := tc.Event().Payload()
			correlationID := tc.Event().CorrelationID()

			shipment := NewShipment(correlationID,
				payload.GetString(PayloadKeyAddress),
				payload.GetString(PayloadKeyItemID),
				payload.GetInt(PayloadKeyQuantity))
			if err := shipments.Save(ctx, shipment); err != nil {
				return core.Wrap(err, "failed to create shipment")
			}

			tc.Publish(events.NewBaseEvent(reservation.SubjectRedeem, correlationID))
			tc.ScheduleTimeout(config.ConfirmationTimeout, EventConfirmationTimeout)
			return nil
		})

	markReady := engine.NewAction("mark-ready",
		func(ctx context.Context, tc *engine.TransitionContext) error {
			correlationID := tc.Event().CorrelationID()
			shipment, err := shipments.FindByID(ctx, correlationID)
			if err != nil {
				return core.Wrap(err, "failed to load shipment")
			}
			shipment.Status = ShipmentStatusReady
			shipment.UpdatedAt = time.Now()
			if err := shipments.Save(ctx, shipment); err != nil {
				return core.Wrap(err, "failed to save shipment")
			}
			tc.Publish(events.NewBaseEvent(EventSent, correlationID))
			return nil
		})

	refuse := func(reason string) engine.Action {
		return engine.NewAction("refuse-delivery",
			func(ctx context.Context, tc *engine.TransitionContext) error {
				correlationID := tc.Event().CorrelationID()
				shipment, err := shipments.FindByID(ctx, correlationID)
				if err != nil {
					return core.Wrap(err, "failed to load shipment")
				}
				shipment.Status = ShipmentStatusRefused
				shipment.UpdatedAt = time.Now()
				if err := shipments.Save(ctx, shipment); err != nil {
					return core.Wrap(err, "failed to save shipment")
				}

				tc.Publish(events.NewBaseEvent(EventNotSent, correlationID).
					WithPayload(PayloadKeyReason, reason))
				tc.Publish(events.NewBaseEvent(reservation.SubjectRelease, correlationID))
				return nil
			})
	}

	return engine.NewDefinitionBuilder(SagaName).
		Initially(EventRequested).
		WithActions(createShipment).
		TransitionTo(StateRequestSend).
		From(StateRequestSend).On(EventWarehouseConfirmed).
		WithActions(markReady).
		Finalize(StateReadyToDeliver).
		From(StateRequestSend).On(EventWarehouseRejected).
		WithActions(refuse("warehouse_rejected")).
		Finalize(StateWillNotDeliver).
		From(StateRequestSend).On(EventConfirmationTimeout).
		WithActions(refuse("confirmation_timeout")).
		Finalize(StateWillNotDeliver).
		Build()
}
