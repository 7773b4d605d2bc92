// Package reservation реализует протокол двухфазного резервирования склада.
//
// Резерв привязывает количество товара к correlation id заказа:
// Reserve атомарно списывает остаток, Redeem необратимо потребляет резерв,
// Release возвращает остаток ровно один раз. Отказы протокола являются
// результатами, а не ошибками: ошибка возвращается только при сбое
// хранилища.
package reservation

import (
	"time"

	"github.com/google/uuid"
)

// InventoryRecord складская позиция
type InventoryRecord struct {
	ItemID    string `bson:"_id" json:"item_id"`
	Title     string `bson:"title" json:"title"`
	Available int    `bson:"available" json:"available"`
}

// ID возвращает идентификатор позиции
func (r *InventoryRecord) ID() string {
	return r.ItemID
}

// Reservation резерв количества товара под заказ.
// Флаги Redeemed и Cancelled взаимоисключающие: потребленный резерв
// нельзя вернуть, возвращенный - потребить.
type Reservation struct {
	ReservationID string    `bson:"reservation_id" json:"reservation_id"`
	CorrelationID string    `bson:"_id" json:"correlation_id"`
	ItemID        string    `bson:"item_id" json:"item_id"`
	Quantity      int       `bson:"quantity" json:"quantity"`
	Redeemed      bool      `bson:"redeemed" json:"redeemed"`
	Cancelled     bool      `bson:"cancelled" json:"cancelled"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// ID возвращает correlation id резерва
func (r *Reservation) ID() string {
	return r.CorrelationID
}

func newReservation(correlationID, itemID string, quantity int) *Reservation {
	return &Reservation{
		ReservationID: uuid.New().String(),
		CorrelationID: correlationID,
		ItemID:        itemID,
		Quantity:      quantity,
		CreatedAt:     time.Now(),
	}
}

// Причины отказов протокола резервирования
const (
	ReasonUnknownItem        = "unknown_item"
	ReasonMetadataMismatch   = "metadata_mismatch"
	ReasonInvalidQuantity    = "invalid_quantity"
	ReasonInsufficientStock  = "insufficient_stock"
	ReasonUnknownReservation = "unknown_reservation"
	ReasonAlreadyRedeemed    = "already_redeemed"
	ReasonAlreadyReleased    = "already_released"
)

// Result исход операции протокола резервирования
type Result struct {
	// Accepted операция принята
	Accepted bool
	// Reason причина отказа (пусто при Accepted)
	Reason string
	// Reservation затронутый резерв, если он существует
	Reservation *Reservation
}

func accepted(r *Reservation) Result {
	return Result{Accepted: true, Reservation: r}
}

func rejected(reason string, r *Reservation) Result {
	return Result{Reason: reason, Reservation: r}
}
