package outbox

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/transport"
)

// MongoCollection имя коллекции outbox
const MongoCollection = "conveyor_outbox"

// InsertDocs записывает события в коллекцию outbox.
// Вызывается хранилищем экземпляров внутри сессионной транзакции:
// запись outbox и сохранение экземпляра фиксируются атомарно.
func InsertDocs(ctx context.Context, collection *mongo.Collection, records []events.Envelope) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(records))
	for _, envelope := range records {
		data, err := envelope.Encode()
		if err != nil {
			return core.Wrap(err, "failed to encode outbox record")
		}
		docs = append(docs, bson.M{
			"subject":    envelope.EventType,
			"payload":    data,
			"created_at": time.Now(),
		})
	}
	if _, err := collection.InsertMany(ctx, docs); err != nil {
		return core.Wrap(err, "failed to insert outbox records")
	}
	return nil
}

// MongoDispatcher фоновый диспетчер outbox для MongoDB.
// Периодически вычитывает незавершенные записи в порядке вставки и
// доставляет их в шину сообщений. Запись удаляется только после успешной
// публикации, дубликаты допустимы по контракту at-least-once.
type MongoDispatcher struct {
	collection *mongo.Collection
	publisher  transport.Publisher
	config     DispatcherConfig
	logger     *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewMongoDispatcher создает диспетчер outbox
func NewMongoDispatcher(database *mongo.Database, publisher transport.Publisher, config DispatcherConfig, logger *zap.Logger) (*MongoDispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoDispatcher{
		collection: database.Collection(MongoCollection),
		publisher:  publisher,
		config:     config,
		logger:     logger,
	}, nil
}

// Name возвращает имя компонента
func (d *MongoDispatcher) Name() string {
	return "mongo-outbox-dispatcher"
}

// Type возвращает тип компонента
func (d *MongoDispatcher) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// IsRunning проверяет, запущен ли диспетчер
func (d *MongoDispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Start запускает цикл доставки
func (d *MongoDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.running = true
	go d.run()
	return nil
}

// Stop останавливает цикл доставки
func (d *MongoDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	close(d.stop)
	done := d.done
	d.running = false
	d.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *MongoDispatcher) run() {
	defer close(d.done)
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			if err := d.dispatchBatch(context.Background()); err != nil {
				d.logger.Error("outbox dispatch failed", zap.Error(err))
			}
		}
	}
}

func (d *MongoDispatcher) dispatchBatch(ctx context.Context) error {
	findOptions := options.Find().
		SetSort(bson.M{"_id": 1}).
		SetLimit(int64(d.config.BatchSize))
	cursor, err := d.collection.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return core.Wrap(err, "failed to query outbox")
	}

	var batch []struct {
		ID      primitive.ObjectID `bson:"_id"`
		Subject string             `bson:"subject"`
		Payload []byte             `bson:"payload"`
	}
	if err := cursor.All(ctx, &batch); err != nil {
		return core.Wrap(err, "failed to read outbox records")
	}
	if len(batch) == 0 {
		return nil
	}

	var delivered []primitive.ObjectID
	for _, record := range batch {
		if err := d.publisher.Publish(ctx, record.Subject, record.Payload, nil); err != nil {
			d.logger.Warn("outbox record publish failed",
				zap.String("record_id", record.ID.Hex()),
				zap.String("subject", record.Subject),
				zap.Error(err))
			break
		}
		delivered = append(delivered, record.ID)
	}
	if len(delivered) == 0 {
		return nil
	}

	if _, err := d.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": delivered}}); err != nil {
		return core.Wrap(err, "failed to delete delivered outbox records")
	}

	d.logger.Debug("outbox batch dispatched", zap.Int("count", len(delivered)))
	return nil
}
