// Command conveyor запускает оркестратор саг выполнения заказов.
//
// Конфигурация через переменные окружения:
//
//	CONVEYOR_BUS                  тип шины: inmemory | amqp | nats (по умолчанию inmemory)
//	CONVEYOR_AMQP_URL             адрес AMQP брокера
//	CONVEYOR_NATS_URL             адрес NATS сервера
//	CONVEYOR_STORE                хранилище экземпляров: memory | mongo | postgres
//	CONVEYOR_MONGO_URI            адрес MongoDB
//	CONVEYOR_MONGO_DATABASE       имя базы MongoDB (по умолчанию conveyor)
//	CONVEYOR_POSTGRES_DSN         строка подключения PostgreSQL
//	CONVEYOR_METRICS_PORT         порт endpoint /metrics (по умолчанию 9464)
//	CONVEYOR_PAYMENT_TIMEOUT      срок ожидания оплаты счета
//	CONVEYOR_CONFIRMATION_TIMEOUT срок ожидания подтверждения склада
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/akriventsev/conveyor/adapters/messagebus"
	"github.com/akriventsev/conveyor/adapters/repository"
	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/engine"
	"github.com/akriventsev/conveyor/fault"
	"github.com/akriventsev/conveyor/metrics"
	"github.com/akriventsev/conveyor/outbox"
	"github.com/akriventsev/conveyor/projections"
	"github.com/akriventsev/conveyor/reservation"
	"github.com/akriventsev/conveyor/sagas/confirmation"
	"github.com/akriventsev/conveyor/sagas/delivery"
	"github.com/akriventsev/conveyor/sagas/invoicing"
	"github.com/akriventsev/conveyor/scheduler"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("conveyor terminated", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// метрики
	metricsPort := envInt("CONVEYOR_METRICS_PORT", 9464)
	exporter, err := metrics.NewExporter(metrics.Config{Enabled: true, Port: metricsPort}, logger)
	if err != nil {
		return err
	}
	if err := exporter.Start(ctx); err != nil {
		return err
	}
	defer stopComponent(exporter, logger)

	m, err := metrics.NewMetrics()
	if err != nil {
		return err
	}

	// шина сообщений
	bus, err := buildBus()
	if err != nil {
		return err
	}
	if lifecycle, ok := bus.(core.Lifecycle); ok {
		if err := lifecycle.Start(ctx); err != nil {
			return err
		}
		defer stopComponent(lifecycle, logger)
	}

	// планировщик таймаутов
	sched := scheduler.NewTimerScheduler(bus, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer stopComponent(sched, logger)

	// хранилища экземпляров и репозитории
	wiring, err := buildStorage(ctx, bus, logger)
	if err != nil {
		return err
	}
	defer wiring.close(ctx, logger)

	// протокол резервирования
	reservationService := reservation.NewService(wiring.reservations, logger)
	reservationConsumer := reservation.NewConsumer(reservationService, bus, logger)
	if err := reservationConsumer.BindTo(ctx, bus); err != nil {
		return err
	}

	// fault-канал
	faultRouter := fault.NewRouter(logger, m, 1000)
	if err := faultRouter.BindTo(ctx, bus); err != nil {
		return err
	}

	// журнал заказов
	journal := projections.NewOrderJournal(wiring.journalEntries, logger).WithDeadLetter(bus)
	journalSubjects := []string{
		confirmation.EventOrderConfirmed,
		confirmation.EventOrderRejected,
		invoicing.EventPaid,
		invoicing.EventNotPaid,
		delivery.EventSent,
		delivery.EventNotSent,
	}
	if err := journal.BindTo(ctx, bus, journalSubjects...); err != nil {
		return err
	}

	// саги
	invoicingConfig := invoicing.DefaultConfig()
	invoicingConfig.PaymentTimeout = envDuration("CONVEYOR_PAYMENT_TIMEOUT", invoicingConfig.PaymentTimeout)
	invoicingDef, err := invoicing.NewDefinition(wiring.invoices, invoicingConfig)
	if err != nil {
		return err
	}

	deliveryConfig := delivery.DefaultConfig()
	deliveryConfig.ConfirmationTimeout = envDuration("CONVEYOR_CONFIRMATION_TIMEOUT", deliveryConfig.ConfirmationTimeout)
	deliveryDef, err := delivery.NewDefinition(wiring.shipments, deliveryConfig)
	if err != nil {
		return err
	}

	confirmationDef, err := confirmation.NewDefinition()
	if err != nil {
		return err
	}

	engines := []struct {
		def   *engine.Definition
		store engine.InstanceStore
	}{
		{invoicingDef, wiring.durableInstances},
		{deliveryDef, engine.NewInMemoryInstanceStore()},
		{confirmationDef, engine.NewInMemoryInstanceStore()},
	}
	for _, e := range engines {
		eng, err := engine.NewBuilder(e.def).
			WithStore(e.store).
			WithPublisher(bus).
			WithScheduler(sched).
			WithLogger(logger).
			WithMetrics(m).
			Build()
		if err != nil {
			return err
		}
		if err := eng.BindTo(ctx, bus); err != nil {
			return err
		}
		logger.Info("saga engine started", zap.String("saga", e.def.Name()))
	}

	logger.Info("conveyor started",
		zap.String("bus", envString("CONVEYOR_BUS", "inmemory")),
		zap.String("store", envString("CONVEYOR_STORE", "memory")),
		zap.Int("metrics_port", metricsPort))

	// graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	logger.Info("shutting down", zap.String("signal", sig.String()))
	return nil
}

// storageWiring собранные хранилища сервиса
type storageWiring struct {
	durableInstances engine.InstanceStore
	invoices         repository.Repository[*invoicing.Invoice]
	shipments        repository.Repository[*delivery.Shipment]
	journalEntries   repository.Repository[*projections.JournalEntry]
	reservations     reservation.Store

	mongoClient *mongo.Client
	pgPool      *pgxpool.Pool
	dispatcher  core.Lifecycle
}

func buildBus() (messagebus.Bus, error) {
	factory := messagebus.NewMessageBusFactory()
	busType := envString("CONVEYOR_BUS", "inmemory")

	switch busType {
	case "amqp":
		config := messagebus.DefaultAMQPConfig()
		if url := os.Getenv("CONVEYOR_AMQP_URL"); url != "" {
			config.URL = url
		}
		return factory.Create("amqp", config)
	case "nats":
		config := messagebus.DefaultNATSConfig()
		if url := os.Getenv("CONVEYOR_NATS_URL"); url != "" {
			config.URL = url
		}
		return factory.Create("nats", config)
	default:
		return factory.Create("inmemory", messagebus.DefaultInMemoryConfig())
	}
}

func buildStorage(ctx context.Context, bus messagebus.Bus, logger *zap.Logger) (*storageWiring, error) {
	wiring := &storageWiring{
		invoices:       repository.NewInMemoryRepository[*invoicing.Invoice](),
		shipments:      repository.NewInMemoryRepository[*delivery.Shipment](),
		journalEntries: repository.NewInMemoryRepository[*projections.JournalEntry](),
		reservations:   reservation.NewInMemoryStore(),
	}

	switch envString("CONVEYOR_STORE", "memory") {
	case "mongo":
		uri := envString("CONVEYOR_MONGO_URI", "mongodb://localhost:27017")
		databaseName := envString("CONVEYOR_MONGO_DATABASE", "conveyor")

		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, core.Wrap(err, "failed to connect to MongoDB")
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			return nil, core.Wrap(err, "failed to ping MongoDB")
		}
		database := client.Database(databaseName)

		invoicesConfig := repository.DefaultMongoConfig()
		invoicesConfig.URI = uri
		invoicesConfig.Database = databaseName
		invoicesConfig.Collection = "invoices"
		invoicesRepo, err := repository.NewMongoRepository[*invoicing.Invoice](invoicesConfig)
		if err != nil {
			return nil, err
		}

		journalConfig := repository.DefaultMongoConfig()
		journalConfig.URI = uri
		journalConfig.Database = databaseName
		journalConfig.Collection = "order_journal"
		journalRepo, err := repository.NewMongoRepository[*projections.JournalEntry](journalConfig)
		if err != nil {
			return nil, err
		}

		dispatcher, err := outbox.NewMongoDispatcher(database, bus, outbox.DefaultDispatcherConfig(), logger)
		if err != nil {
			return nil, err
		}
		if err := dispatcher.Start(ctx); err != nil {
			return nil, err
		}

		wiring.mongoClient = client
		wiring.durableInstances = engine.NewMongoInstanceStore(database, "saga_instances")
		wiring.invoices = invoicesRepo
		wiring.journalEntries = journalRepo
		wiring.reservations = reservation.NewMongoStore(database)
		wiring.dispatcher = dispatcher

	case "postgres":
		dsn := envString("CONVEYOR_POSTGRES_DSN", "postgres://localhost:5432/conveyor")
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, core.Wrap(err, "failed to connect to PostgreSQL")
		}

		store := engine.NewPostgresInstanceStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}

		dispatcher, err := outbox.NewPostgresDispatcher(pool, bus, outbox.DefaultDispatcherConfig(), logger)
		if err != nil {
			return nil, err
		}
		if err := dispatcher.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		if err := dispatcher.Start(ctx); err != nil {
			return nil, err
		}

		wiring.pgPool = pool
		wiring.durableInstances = store
		wiring.dispatcher = dispatcher

	default:
		wiring.durableInstances = engine.NewInMemoryInstanceStore()
	}

	return wiring, nil
}

func (w *storageWiring) close(ctx context.Context, logger *zap.Logger) {
	if w.dispatcher != nil {
		stopComponent(w.dispatcher, logger)
	}
	if w.pgPool != nil {
		w.pgPool.Close()
	}
	if w.mongoClient != nil {
		if err := w.mongoClient.Disconnect(ctx); err != nil {
			logger.Warn("failed to disconnect MongoDB", zap.Error(err))
		}
	}
}

func stopComponent(lifecycle core.Lifecycle, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := lifecycle.Stop(ctx); err != nil {
		logger.Warn("component stop failed", zap.Error(err))
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
