package reservation

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/conveyor/core"
)

// MongoStore хранилище резервов в MongoDB.
// Списание остатка выполняется одним FindOneAndUpdate с фильтром
// по достаточности остатка: конкурентные списания сериализуются сервером.
type MongoStore struct {
	inventory    *mongo.Collection
	reservations *mongo.Collection
}

// NewMongoStore создает хранилище резервов в MongoDB
func NewMongoStore(database *mongo.Database) *MongoStore {
	return &MongoStore{
		inventory:    database.Collection("inventory"),
		reservations: database.Collection("reservations"),
	}
}

// GetInventory возвращает позицию по идентификатору
func (s *MongoStore) GetInventory(ctx context.Context, itemID string) (*InventoryRecord, error) {
	var record InventoryRecord
	err := s.inventory.FindOne(ctx, bson.M{"_id": itemID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.NewError(core.ErrNotFound, "inventory item not found: "+itemID)
	}
	if err != nil {
		return nil, core.Wrap(err, "failed to load inventory item")
	}
	return &record, nil
}

// PutInventory создает или обновляет позицию
func (s *MongoStore) PutInventory(ctx context.Context, record *InventoryRecord) error {
	_, err := s.inventory.ReplaceOne(ctx,
		bson.M{"_id": record.ItemID},
		record,
		options.Replace().SetUpsert(true))
	if err != nil {
		return core.Wrap(err, "failed to save inventory item")
	}
	return nil
}

// ReserveStock атомарно списывает количество при достаточном остатке
func (s *MongoStore) ReserveStock(ctx context.Context, itemID string, quantity int) (bool, error) {
	err := s.inventory.FindOneAndUpdate(ctx,
		bson.M{"_id": itemID, "available": bson.M{"$gte": quantity}},
		bson.M{"$inc": bson.M{"available": -quantity}},
	).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		// позиция отсутствует либо остатка не хватает
		if _, getErr := s.GetInventory(ctx, itemID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	if err != nil {
		return false, core.Wrap(err, "failed to reserve stock")
	}
	return true, nil
}

// RestoreStock атомарно возвращает количество на остаток
func (s *MongoStore) RestoreStock(ctx context.Context, itemID string, quantity int) error {
	err := s.inventory.FindOneAndUpdate(ctx,
		bson.M{"_id": itemID},
		bson.M{"$inc": bson.M{"available": quantity}},
	).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.NewError(core.ErrNotFound, "inventory item not found: "+itemID)
	}
	if err != nil {
		return core.Wrap(err, "failed to restore stock")
	}
	return nil
}

// GetReservation возвращает резерв по correlation id
func (s *MongoStore) GetReservation(ctx context.Context, correlationID string) (*Reservation, error) {
	var reservation Reservation
	err := s.reservations.FindOne(ctx, bson.M{"_id": correlationID}).Decode(&reservation)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.NewError(core.ErrNotFound, "reservation not found: "+correlationID)
	}
	if err != nil {
		return nil, core.Wrap(err, "failed to load reservation")
	}
	return &reservation, nil
}

// MarkRedeemed атомарно помечает резерв потребленным
func (s *MongoStore) MarkRedeemed(ctx context.Context, correlationID string) (bool, error) {
	return s.markFlag(ctx, correlationID, "redeemed")
}

// MarkCancelled атомарно помечает резерв возвращенным
func (s *MongoStore) MarkCancelled(ctx context.Context, correlationID string) (bool, error) {
	return s.markFlag(ctx, correlationID, "cancelled")
}

// markFlag выполняет условный UpdateOne: флаг переходит из false в true
// только один раз, конкурентные доставки сериализуются сервером
func (s *MongoStore) markFlag(ctx context.Context, correlationID, field string) (bool, error) {
	result, err := s.reservations.UpdateOne(ctx,
		bson.M{"_id": correlationID, "redeemed": false, "cancelled": false},
		bson.M{"$set": bson.M{field: true}})
	if err != nil {
		return false, core.Wrap(err, "failed to update reservation")
	}
	if result.MatchedCount == 0 {
		// резерв отсутствует либо флаг уже переключен
		if _, getErr := s.GetReservation(ctx, correlationID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// SaveReservation создает или обновляет резерв
func (s *MongoStore) SaveReservation(ctx context.Context, reservation *Reservation) error {
	_, err := s.reservations.ReplaceOne(ctx,
		bson.M{"_id": reservation.CorrelationID},
		reservation,
		options.Replace().SetUpsert(true))
	if err != nil {
		return core.Wrap(err, "failed to save reservation")
	}
	return nil
}
