package reservation

import (
	"context"

	"go.uber.org/zap"

	"github.com/akriventsev/conveyor/core"
)

// Service сервис протокола резервирования.
//
// Операции идемпотентны в той мере, в какой этого требует доставка
// at-least-once: повторный Reserve для того же correlation id возвращает
// исход первой попытки, повторный Release не восстанавливает остаток
// дважды.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService создает сервис резервирования
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Reserve резервирует количество товара под correlation id заказа.
//
// Запрос отклоняется при неизвестной позиции, расхождении названия,
// некорректном количестве или нехватке остатка. Отказ - результат,
// а не ошибка.
func (s *Service) Reserve(ctx context.Context, correlationID, itemID, title string, quantity int) (Result, error) {
	if quantity <= 0 {
		return rejected(ReasonInvalidQuantity, nil), nil
	}

	// повтор доставки того же запроса возвращает прежний исход
	existing, err := s.store.GetReservation(ctx, correlationID)
	if err == nil {
		if existing.Cancelled {
			return rejected(ReasonAlreadyReleased, existing), nil
		}
		return accepted(existing), nil
	}
	if !core.IsCode(err, core.ErrNotFound) {
		return Result{}, core.Wrap(err, "failed to check existing reservation")
	}

	record, err := s.store.GetInventory(ctx, itemID)
	if err != nil {
		if core.IsCode(err, core.ErrNotFound) {
			return rejected(ReasonUnknownItem, nil), nil
		}
		return Result{}, core.Wrap(err, "failed to load inventory item")
	}
	if title != "" && record.Title != title {
		return rejected(ReasonMetadataMismatch, nil), nil
	}

	ok, err := s.store.ReserveStock(ctx, itemID, quantity)
	if err != nil {
		if core.IsCode(err, core.ErrNotFound) {
			return rejected(ReasonUnknownItem, nil), nil
		}
		return Result{}, core.Wrap(err, "failed to reserve stock")
	}
	if !ok {
		return rejected(ReasonInsufficientStock, nil), nil
	}

	reservation := newReservation(correlationID, itemID, quantity)
	if err := s.store.SaveReservation(ctx, reservation); err != nil {
		// компенсируем списание, резерв не состоялся
		if restoreErr := s.store.RestoreStock(ctx, itemID, quantity); restoreErr != nil {
			s.logger.Error("failed to compensate stock after save failure",
				zap.String("correlation_id", correlationID),
				zap.String("item_id", itemID),
				zap.Error(restoreErr))
		}
		return Result{}, core.Wrap(err, "failed to save reservation")
	}

	s.logger.Info("stock reserved",
		zap.String("correlation_id", correlationID),
		zap.String("item_id", itemID),
		zap.Int("quantity", quantity))
	return accepted(reservation), nil
}

// Redeem необратимо потребляет резерв.
// Отклоняется для отсутствующего, уже потребленного или уже
// возвращенного резерва.
func (s *Service) Redeem(ctx context.Context, correlationID string) (Result, error) {
	reservation, err := s.store.GetReservation(ctx, correlationID)
	if err != nil {
		if core.IsCode(err, core.ErrNotFound) {
			return rejected(ReasonUnknownReservation, nil), nil
		}
		return Result{}, core.Wrap(err, "failed to load reservation")
	}
	if reservation.Redeemed {
		return rejected(ReasonAlreadyRedeemed, reservation), nil
	}
	if reservation.Cancelled {
		return rejected(ReasonAlreadyReleased, reservation), nil
	}

	ok, err := s.store.MarkRedeemed(ctx, correlationID)
	if err != nil {
		return Result{}, core.Wrap(err, "failed to redeem reservation")
	}
	if !ok {
		// флаг переключила конкурентная доставка
		return s.rejectByCurrentFlags(ctx, correlationID)
	}
	reservation.Redeemed = true

	s.logger.Info("reservation redeemed",
		zap.String("correlation_id", correlationID),
		zap.String("item_id", reservation.ItemID))
	return accepted(reservation), nil
}

func (s *Service) rejectByCurrentFlags(ctx context.Context, correlationID string) (Result, error) {
	current, err := s.store.GetReservation(ctx, correlationID)
	if err != nil {
		return Result{}, core.Wrap(err, "failed to load reservation")
	}
	if current.Cancelled {
		return rejected(ReasonAlreadyReleased, current), nil
	}
	return rejected(ReasonAlreadyRedeemed, current), nil
}

// Release возвращает резерв на остаток.
//
// Отсутствующий резерв - no-op с диагностикой: освобождение может
// прийти раньше или позже самого резерва при доставке at-least-once.
// Повторный Release не восстанавливает остаток дважды.
func (s *Service) Release(ctx context.Context, correlationID string) (Result, error) {
	reservation, err := s.store.GetReservation(ctx, correlationID)
	if err != nil {
		if core.IsCode(err, core.ErrNotFound) {
			s.logger.Debug("release for unknown reservation ignored",
				zap.String("correlation_id", correlationID))
			return rejected(ReasonUnknownReservation, nil), nil
		}
		return Result{}, core.Wrap(err, "failed to load reservation")
	}
	if reservation.Redeemed {
		return rejected(ReasonAlreadyRedeemed, reservation), nil
	}
	if reservation.Cancelled {
		// остаток уже возвращен
		return accepted(reservation), nil
	}

	// остаток восстанавливает только та доставка, которая переключила флаг
	ok, err := s.store.MarkCancelled(ctx, correlationID)
	if err != nil {
		return Result{}, core.Wrap(err, "failed to release reservation")
	}
	if !ok {
		current, err := s.store.GetReservation(ctx, correlationID)
		if err != nil {
			return Result{}, core.Wrap(err, "failed to load reservation")
		}
		if current.Redeemed {
			return rejected(ReasonAlreadyRedeemed, current), nil
		}
		return accepted(current), nil
	}
	reservation.Cancelled = true
	if err := s.store.RestoreStock(ctx, reservation.ItemID, reservation.Quantity); err != nil {
		return Result{}, core.Wrap(err, "failed to restore stock")
	}

	s.logger.Info("reservation released",
		zap.String("correlation_id", correlationID),
		zap.String("item_id", reservation.ItemID),
		zap.Int("quantity", reservation.Quantity))
	return accepted(reservation), nil
}
