package engine

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/outbox"
)

// MongoInstanceStore хранилище экземпляров саг в MongoDB.
// Оптимистичная блокировка реализована через фильтр по версии документа.
// Реализует TransactionalStore: экземпляр и записи outbox фиксируются
// в одной сессионной транзакции.
type MongoInstanceStore struct {
	collection *mongo.Collection
}

// NewMongoInstanceStore создает хранилище экземпляров в MongoDB
func NewMongoInstanceStore(database *mongo.Database, collectionName string) *MongoInstanceStore {
	if collectionName == "" {
		collectionName = "saga_instances"
	}
	return &MongoInstanceStore{
		collection: database.Collection(collectionName),
	}
}

// Load загружает экземпляр по correlation id
func (s *MongoInstanceStore) Load(ctx context.Context, correlationID string) (*Instance, error) {
	var doc bson.M
	err := s.collection.FindOne(ctx, bson.M{"_id": correlationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.NewError(core.ErrNotFound, "saga instance not found: "+correlationID)
	}
	if err != nil {
		return nil, core.Wrap(err, "failed to load saga instance")
	}

	var instance Instance
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, core.Wrap(err, "failed to re-encode saga instance document")
	}
	if err := bson.Unmarshal(raw, &instance); err != nil {
		return nil, core.Wrap(err, "failed to decode saga instance")
	}
	if id, ok := doc["_id"].(string); ok {
		instance.CorrelationID = id
	}
	return &instance, nil
}

// Save сохраняет экземпляр с проверкой версии
func (s *MongoInstanceStore) Save(ctx context.Context, instance *Instance) error {
	doc, err := toDocument(instance)
	if err != nil {
		return err
	}

	if instance.Version == 0 {
		doc["version"] = int64(1)
		if _, err := s.collection.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return core.NewError(core.ErrConflict, "saga instance already exists: "+instance.CorrelationID)
			}
			return core.Wrap(err, "failed to insert saga instance")
		}
		instance.Version = 1
		return nil
	}

	doc["version"] = instance.Version + 1
	result, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": instance.CorrelationID, "version": instance.Version},
		doc,
		options.Replace())
	if err != nil {
		return core.Wrap(err, "failed to update saga instance")
	}
	if result.MatchedCount == 0 {
		return core.NewError(core.ErrConflict, "saga instance version conflict: "+instance.CorrelationID)
	}
	instance.Version++
	return nil
}

// SaveWithOutbox сохраняет экземпляр и записывает события в коллекцию
// outbox в одной сессионной транзакции. Требует replica set: standalone
// MongoDB транзакции не поддерживает.
func (s *MongoInstanceStore) SaveWithOutbox(ctx context.Context, instance *Instance, records []events.Envelope) error {
	client := s.collection.Database().Client()
	session, err := client.StartSession()
	if err != nil {
		return core.Wrap(err, "failed to start mongo session")
	}
	defer session.EndSession(ctx)

	// WithTransaction может повторить callback; версия восстанавливается
	// на каждой попытке, иначе повторный Save увидит ложный конфликт
	version := instance.Version
	outboxCollection := s.collection.Database().Collection(outbox.MongoCollection)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		instance.Version = version
		if err := s.Save(sc, instance); err != nil {
			return nil, err
		}
		if err := outbox.InsertDocs(sc, outboxCollection, records); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		var engineErr *core.EngineError
		if errors.As(err, &engineErr) {
			return err
		}
		return core.Wrap(err, "failed to save saga instance with outbox")
	}
	return nil
}

// Delete удаляет экземпляр
func (s *MongoInstanceStore) Delete(ctx context.Context, correlationID string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": correlationID}); err != nil {
		return core.Wrap(err, "failed to delete saga instance")
	}
	return nil
}

func toDocument(instance *Instance) (bson.M, error) {
	raw, err := bson.Marshal(instance)
	if err != nil {
		return nil, core.Wrap(err, "failed to encode saga instance")
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, core.Wrap(err, "failed to decode saga instance document")
	}
	doc["_id"] = instance.CorrelationID
	delete(doc, "correlation_id")
	return doc, nil
}
