// Package delivery реализует сагу отгрузки заказа.
package delivery

import (
	"time"
)

// Статусы отгрузки
const (
	ShipmentStatusPending = "pending"
	ShipmentStatusReady   = "ready"
	ShipmentStatusRefused = "refused"
)

// Shipment отгрузка заказа.
// Идентификатором служит correlation id заказа.
type Shipment struct {
	ShipmentID string    `bson:"_id" json:"shipment_id"`
	Address    string    `bson:"address" json:"address"`
	ItemID     string    `bson:"item_id" json:"item_id"`
	Quantity   int       `bson:"quantity" json:"quantity"`
	Status     string    `bson:"status" json:"status"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// ID возвращает идентификатор отгрузки
func (s *Shipment) ID() string {
	return s.ShipmentID
}

// NewShipment создает отгрузку
func NewShipment(correlationID, address, itemID string, quantity int) *Shipment {
	now := time.Now()
	return &Shipment{
		ShipmentID: correlationID,
		Address:    address,
		ItemID:     itemID,
		Quantity:   quantity,
		Status:     ShipmentStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
