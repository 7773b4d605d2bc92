// Package repository предоставляет generic адаптеры для хранения доменных сущностей.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/conveyor/core"
)

// MongoConfig конфигурация для MongoDB репозитория
type MongoConfig struct {
	URI         string
	Database    string
	Collection  string
	Timeout     time.Duration
	MaxPoolSize int
	MinPoolSize int
}

// Validate проверяет корректность конфигурации
func (c MongoConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("URI cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}
	if c.Collection == "" {
		return fmt.Errorf("collection cannot be empty")
	}
	if c.MaxPoolSize <= 0 {
		return fmt.Errorf("MaxPoolSize must be greater than 0")
	}
	return nil
}

// DefaultMongoConfig возвращает конфигурацию MongoDB по умолчанию
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:    "conveyor",
		Collection:  "entities",
		Timeout:     10 * time.Second,
		MaxPoolSize: 100,
		MinPoolSize: 10,
	}
}

// MongoRepository[T Entity] generic MongoDB репозиторий.
//
// Документы хранятся с ключом _id равным Entity.ID(); Save выполняет upsert.
type MongoRepository[T Entity] struct {
	config     MongoConfig
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoRepository создает новый MongoDB репозиторий
func NewMongoRepository[T Entity](config MongoConfig) (*MongoRepository[T], error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongodb config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(uint64(config.MaxPoolSize)).
		SetMinPoolSize(uint64(config.MinPoolSize))

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(config.Database).Collection(config.Collection)

	return &MongoRepository[T]{
		config:     config,
		client:     client,
		collection: collection,
	}, nil
}

// Save сохраняет entity (upsert по _id)
func (r *MongoRepository[T]) Save(ctx context.Context, entity T) error {
	id := entity.ID()
	if id == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	doc, err := bson.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity %s: %w", id, err)
	}

	var raw bson.M
	if err := bson.Unmarshal(doc, &raw); err != nil {
		return fmt.Errorf("failed to normalize entity %s: %w", id, err)
	}
	raw["_id"] = id

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": id}, raw, opts); err != nil {
		return core.Wrap(err, fmt.Sprintf("failed to save entity %s", id))
	}
	return nil
}

// FindByID находит entity по идентификатору
func (r *MongoRepository[T]) FindByID(ctx context.Context, id string) (T, error) {
	var entity T

	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&entity)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity, core.NewError(core.ErrNotFound, fmt.Sprintf("entity %s not found", id))
		}
		return entity, core.Wrap(err, fmt.Sprintf("failed to find entity %s", id))
	}
	return entity, nil
}

// FindAll возвращает все entity коллекции
func (r *MongoRepository[T]) FindAll(ctx context.Context) ([]T, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, core.Wrap(err, "failed to query entities")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var result []T
	if err := cursor.All(ctx, &result); err != nil {
		return nil, core.Wrap(err, "failed to decode entities")
	}
	return result, nil
}

// Delete удаляет entity по идентификатору
func (r *MongoRepository[T]) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return core.Wrap(err, fmt.Sprintf("failed to delete entity %s", id))
	}
	if res.DeletedCount == 0 {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("entity %s not found", id))
	}
	return nil
}

// Close закрывает подключение к MongoDB
func (r *MongoRepository[T]) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
