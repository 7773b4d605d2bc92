// Package confirmation реализует сагу подтверждения заказа.
//
// Заказ подтверждают четыре стороны: клиент, склад, отдел продаж
// и маркетинг. Сага собирает подтверждения в любом порядке и завершается,
// когда получены все четыре. Любой отказ немедленно завершает сагу
// с освобождением резерва склада.
package confirmation

import (
	"context"

	"github.com/akriventsev/conveyor/engine"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/reservation"
)

// SagaName имя саги подтверждения заказа
const SagaName = "confirmation"

// Состояния саги
const (
	StateAwaitingConfirmations engine.State = "AwaitingConfirmations"
	StateConfirmed             engine.State = "Confirmed"
	StateRejected              engine.State = "Rejected"
)

// Типы событий саги
const (
	EventOrderPlaced        = "order.placed"
	EventClientConfirmed    = "client.confirmed"
	EventWarehouseConfirmed = "warehouse.confirmed"
	EventSalesConfirmed     = "sales.confirmed"
	EventMarketingConfirmed = "marketing.confirmed"
	EventClientRejected     = "client.rejected"
	EventSalesRejected      = "sales.rejected"
	EventMarketingRejected  = "marketing.rejected"

	// eventAllConfirmed внутреннее событие: собраны все четыре подтверждения
	eventAllConfirmed = "order.all_confirmed"

	EventOrderConfirmed = "order.confirmed"
	EventOrderRejected  = "order.rejected"
)

// PayloadKeyRejectedBy ключ payload с источником отказа
const PayloadKeyRejectedBy = "rejected_by"

// Флаги подтверждений в данных экземпляра
var confirmationFlags = map[string]string{
	EventClientConfirmed:    "client_confirmed",
	EventWarehouseConfirmed: "warehouse_confirmed",
	EventSalesConfirmed:     "sales_confirmed",
	EventMarketingConfirmed: "marketing_confirmed",
}

// NewDefinition строит определение саги подтверждения заказа.
//
// Каждое подтверждение выставляет свой флаг в данных экземпляра;
// повторные подтверждения идемпотентны. Последнее из четырех публикует
// внутреннее событие, переводящее сагу в терминальное Confirmed.
func NewDefinition() (*engine.Definition, error) {
	builder := engine.NewDefinitionBuilder(SagaName).
		Initially(EventOrderPlaced).
		TransitionTo(StateAwaitingConfirmations)

	for eventType, flag := range confirmationFlags {
		flag := flag
		record := engine.NewAction("record-"+flag,
			func(ctx context.Context, tc *engine.TransitionContext) error {
				instance := tc.Instance()
				if instance.GetBool(flag) {
					// повторное подтверждение
					return nil
				}
				instance.Set(flag, true)
				for _, f := range confirmationFlags {
					if !instance.GetBool(f) {
						return nil
					}
				}
				tc.Publish(events.NewBaseEvent(eventAllConfirmed, tc.Event().CorrelationID()))
				return nil
			})
		builder = builder.
			From(StateAwaitingConfirmations).On(eventType).
			WithActions(record).
			Remain()
	}

	confirm := engine.NewAction("confirm-order",
		func(ctx context.Context, tc *engine.TransitionContext) error {
			tc.Publish(events.NewBaseEvent(EventOrderConfirmed, tc.Event().CorrelationID()))
			return nil
		})
	builder = builder.
		From(StateAwaitingConfirmations).On(eventAllConfirmed).
		WithActions(confirm).
		Finalize(StateConfirmed)

	for _, eventType := range []string{EventClientRejected, EventSalesRejected, EventMarketingRejected} {
		eventType := eventType
		reject := engine.NewAction("reject-order",
			func(ctx context.Context, tc *engine.TransitionContext) error {
				correlationID := tc.Event().CorrelationID()
				tc.Publish(events.NewBaseEvent(EventOrderRejected, correlationID).
					WithPayload(PayloadKeyRejectedBy, eventType))
				tc.Publish(events.NewBaseEvent(reservation.SubjectRelease, correlationID))
				return nil
			})
		builder = builder.
			From(StateAwaitingConfirmations).On(eventType).
			WithActions(reject).
			Finalize(StateRejected)
	}

	return builder.Build()
}
