package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/transport"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS conveyor_outbox (
    id         BIGSERIAL PRIMARY KEY,
    subject    TEXT NOT NULL,
    payload    BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DispatcherConfig конфигурация диспетчера outbox
type DispatcherConfig struct {
	// PollInterval период опроса таблицы outbox
	PollInterval time.Duration
	// BatchSize максимальное количество записей за один проход
	BatchSize int
}

// DefaultDispatcherConfig возвращает конфигурацию по умолчанию
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval: 250 * time.Millisecond,
		BatchSize:    100,
	}
}

// Validate проверяет конфигурацию
func (c DispatcherConfig) Validate() error {
	if c.PollInterval <= 0 {
		return core.NewError(core.ErrInvalidConfig, "poll interval must be positive")
	}
	if c.BatchSize <= 0 {
		return core.NewError(core.ErrInvalidConfig, "batch size must be positive")
	}
	return nil
}

// InsertTx записывает события в таблицу outbox в рамках переданной транзакции.
// Вызывается хранилищем экземпляров: запись outbox и сохранение экземпляра
// фиксируются атомарно.
func InsertTx(ctx context.Context, tx pgx.Tx, records []events.Envelope) error {
	for _, envelope := range records {
		data, err := envelope.Encode()
		if err != nil {
			return core.Wrap(err, "failed to encode outbox record")
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO conveyor_outbox (subject, payload) VALUES ($1, $2)",
			envelope.EventType, data)
		if err != nil {
			return core.Wrap(err, "failed to insert outbox record")
		}
	}
	return nil
}

// PostgresDispatcher фоновый диспетчер outbox.
// Периодически вычитывает незавершенные записи и доставляет их в шину
// сообщений. Записи блокируются через FOR UPDATE SKIP LOCKED, поэтому
// несколько диспетчеров могут работать с одной таблицей.
type PostgresDispatcher struct {
	pool      *pgxpool.Pool
	publisher transport.Publisher
	config    DispatcherConfig
	logger    *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewPostgresDispatcher создает диспетчер outbox
func NewPostgresDispatcher(pool *pgxpool.Pool, publisher transport.Publisher, config DispatcherConfig, logger *zap.Logger) (*PostgresDispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresDispatcher{
		pool:      pool,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}, nil
}

// EnsureSchema создает таблицу outbox, если она отсутствует
func (d *PostgresDispatcher) EnsureSchema(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, createTableSQL); err != nil {
		return core.Wrap(err, "failed to create outbox table")
	}
	return nil
}

// Name возвращает имя компонента
func (d *PostgresDispatcher) Name() string {
	return "outbox-dispatcher"
}

// Type возвращает тип компонента
func (d *PostgresDispatcher) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// IsRunning проверяет, запущен ли диспетчер
func (d *PostgresDispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Start запускает цикл доставки
func (d *PostgresDispatcher) Start(ctx context.Context) error {
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
func (d *PostgresDispatcher) Stop(ctx context.Context) error {
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

func (d *PostgresDispatcher) run() {
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

// dispatchBatch доставляет одну партию записей.
// Запись удаляется только после успешной публикации: при сбое доставка
// повторится на следующем проходе, дубликаты допустимы по контракту
// at-least-once.
func (d *PostgresDispatcher) dispatchBatch(ctx context.Context) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return core.Wrap(err, "failed to begin outbox transaction")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		"SELECT id, subject, payload FROM conveyor_outbox ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED",
		d.config.BatchSize)
	if err != nil {
		return core.Wrap(err, "failed to query outbox")
	}

	type record struct {
		id      int64
		subject string
		payload []byte
	}
	var batch []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.id, &r.subject, &r.payload); err != nil {
			rows.Close()
			return core.Wrap(err, "failed to scan outbox record")
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return core.Wrap(err, "failed to read outbox records")
	}
	if len(batch) == 0 {
		return nil
	}

	var delivered []int64
	for _, r := range batch {
		if err := d.publisher.Publish(ctx, r.subject, r.payload, nil); err != nil {
			d.logger.Warn("outbox record publish failed",
				zap.Int64("record_id", r.id),
				zap.String("subject", r.subject),
				zap.Error(err))
			break
		}
		delivered = append(delivered, r.id)
	}
	if len(delivered) == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, "DELETE FROM conveyor_outbox WHERE id = ANY($1)", delivered); err != nil {
		return core.Wrap(err, "failed to delete delivered outbox records")
	}
	if err := tx.Commit(ctx); err != nil {
		return core.Wrap(err, "failed to commit outbox transaction")
	}

	d.logger.Debug("outbox batch dispatched", zap.Int("count", len(delivered)))
	return nil
}
