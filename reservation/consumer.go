package reservation

import (
	"context"

	"go.uber.org/zap"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/transport"
)

// Subjects протокола резервирования
const (
	SubjectReserve = "reservation.requested"
	SubjectRedeem  = "reservation.redeem"
	SubjectRelease = "reservation.release"

	EventReserved       = "reservation.accepted"
	EventRejected       = "reservation.rejected"
	EventRedeemed       = "reservation.redeemed"
	EventRedeemRejected = "reservation.redeem_rejected"
	EventReleased       = "reservation.released"
)

// Ключи payload запросов резервирования
const (
	PayloadKeyItemID   = "item_id"
	PayloadKeyTitle    = "title"
	PayloadKeyQuantity = "quantity"
	PayloadKeyReason   = "reason"
)

// Consumer потребитель запросов протокола резервирования.
// Запросы приходят как обычные конверты событий; исходы публикуются
// ответными событиями с тем же correlation id.
type Consumer struct {
	service   *Service
	publisher transport.Publisher
	logger    *zap.Logger
}

// NewConsumer создает потребителя запросов резервирования
func NewConsumer(service *Service, publisher transport.Publisher, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{service: service, publisher: publisher, logger: logger}
}

// Name возвращает имя компонента
func (c *Consumer) Name() string {
	return "reservation-consumer"
}

// Type возвращает тип компонента
func (c *Consumer) Type() core.ComponentType {
	return core.ComponentTypeConsumer
}

// BindTo подписывает потребителя на subjects протокола
func (c *Consumer) BindTo(ctx context.Context, subscriber transport.Subscriber) error {
	bindings := map[string]transport.MessageHandler{
		SubjectReserve: c.handleReserve,
		SubjectRedeem:  c.handleRedeem,
		SubjectRelease: c.handleRelease,
	}
	for subject, handler := range bindings {
		if err := subscriber.Subscribe(ctx, subject, handler); err != nil {
			return core.Wrap(err, "failed to subscribe reservation consumer")
		}
	}
	return nil
}

func (c *Consumer) handleReserve(ctx context.Context, msg *transport.Message) error {
	envelope, err := events.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logger.Error("failed to decode reservation request", zap.Error(err))
		return nil
	}

	result, err := c.service.Reserve(ctx,
		envelope.CorrelationID,
		envelope.Payload.GetString(PayloadKeyItemID),
		envelope.Payload.GetString(PayloadKeyTitle),
		envelope.Payload.GetInt(PayloadKeyQuantity))
	if err != nil {
		return err
	}

	if result.Accepted {
		return c.reply(ctx, envelope.CorrelationID, EventReserved, result)
	}
	return c.reply(ctx, envelope.CorrelationID, EventRejected, result)
}

func (c *Consumer) handleRedeem(ctx context.Context, msg *transport.Message) error {
	envelope, err := events.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logger.Error("failed to decode redeem request", zap.Error(err))
		return nil
	}

	result, err := c.service.Redeem(ctx, envelope.CorrelationID)
	if err != nil {
		return err
	}

	if result.Accepted {
		return c.reply(ctx, envelope.CorrelationID, EventRedeemed, result)
	}
	return c.reply(ctx, envelope.CorrelationID, EventRedeemRejected, result)
}

func (c *Consumer) handleRelease(ctx context.Context, msg *transport.Message) error {
	envelope, err := events.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logger.Error("failed to decode release request", zap.Error(err))
		return nil
	}

	result, err := c.service.Release(ctx, envelope.CorrelationID)
	if err != nil {
		return err
	}

	// безрезультатное освобождение ответа не требует
	if !result.Accepted {
		return nil
	}
	return c.reply(ctx, envelope.CorrelationID, EventReleased, result)
}

func (c *Consumer) reply(ctx context.Context, correlationID, eventType string, result Result) error {
	event := events.NewBaseEvent(eventType, correlationID)
	if result.Reason != "" {
		event = event.WithPayload(PayloadKeyReason, result.Reason)
	}
	if result.Reservation != nil {
		event = event.
			WithPayload(PayloadKeyItemID, result.Reservation.ItemID).
			WithPayload(PayloadKeyQuantity, result.Reservation.Quantity)
	}

	envelope := events.NewEnvelope(event)
	data, err := envelope.Encode()
	if err != nil {
		return core.Wrap(err, "failed to encode reservation reply")
	}
	return c.publisher.Publish(ctx, eventType, data, nil)
}
