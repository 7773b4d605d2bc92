// Package invoicing реализует сагу выставления счета заказа.
package invoicing

import (
	"time"
)

// Invoice счет заказа.
// Идентификатором служит correlation id заказа: на заказ выставляется
// ровно один счет.
type Invoice struct {
	InvoiceID string    `bson:"_id" json:"invoice_id"`
	Text      string    `bson:"text" json:"text"`
	Public    bool      `bson:"public" json:"public"`
	Paid      bool      `bson:"paid" json:"paid"`
	Cancelled bool      `bson:"cancelled" json:"cancelled"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ID возвращает идентификатор счета
func (i *Invoice) ID() string {
	return i.InvoiceID
}

// NewInvoice создает счет
func NewInvoice(correlationID, text string) *Invoice {
	now := time.Now()
	return &Invoice{
		InvoiceID: correlationID,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
