package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/outbox"
)

const createInstancesTableSQL = `
CREATE TABLE IF NOT EXISTS conveyor_instances (
    correlation_id TEXT PRIMARY KEY,
    saga           TEXT NOT NULL,
    state          TEXT NOT NULL,
    data           JSONB NOT NULL DEFAULT '{}',
    timeout_token  TEXT NOT NULL DEFAULT '',
    terminal       BOOLEAN NOT NULL DEFAULT FALSE,
    version        BIGINT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
)`

// PostgresInstanceStore хранилище экземпляров саг в PostgreSQL.
//
// Реализует TransactionalStore: экземпляр и записи outbox фиксируются
// в одной транзакции, закрывая окно между сохранением состояния
// и публикацией событий.
type PostgresInstanceStore struct {
	pool *pgxpool.Pool
}

// NewPostgresInstanceStore создает хранилище экземпляров в PostgreSQL
func NewPostgresInstanceStore(pool *pgxpool.Pool) *PostgresInstanceStore {
	return &PostgresInstanceStore{pool: pool}
}

// EnsureSchema создает таблицу экземпляров, если она отсутствует
func (s *PostgresInstanceStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createInstancesTableSQL); err != nil {
		return core.Wrap(err, "failed to create instances table")
	}
	return nil
}

// Load загружает экземпляр по correlation id
func (s *PostgresInstanceStore) Load(ctx context.Context, correlationID string) (*Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT correlation_id, saga, state, data, timeout_token, terminal, version, created_at, updated_at
		 FROM conveyor_instances WHERE correlation_id = $1`,
		correlationID)

	var (
		instance Instance
		rawData  []byte
		state    string
	)
	err := row.Scan(&instance.CorrelationID, &instance.Saga, &state, &rawData,
		&instance.TimeoutToken, &instance.Terminal, &instance.Version,
		&instance.CreatedAt, &instance.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewError(core.ErrNotFound, "saga instance not found: "+correlationID)
	}
	if err != nil {
		return nil, core.Wrap(err, "failed to load saga instance")
	}

	instance.State = State(state)
	if err := json.Unmarshal(rawData, &instance.Data); err != nil {
		return nil, core.Wrap(err, "failed to decode saga instance data")
	}
	return &instance, nil
}

// Save сохраняет экземпляр с проверкой версии
func (s *PostgresInstanceStore) Save(ctx context.Context, instance *Instance) error {
	return s.save(ctx, s.pool, instance)
}

// SaveWithOutbox атомарно сохраняет экземпляр и записи outbox
func (s *PostgresInstanceStore) SaveWithOutbox(ctx context.Context, instance *Instance, records []events.Envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := s.save(ctx, tx, instance); err != nil {
		return err
	}
	if err := outbox.InsertTx(ctx, tx, records); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return core.Wrap(err, "failed to commit transaction")
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresInstanceStore) save(ctx context.Context, db execer, instance *Instance) error {
	data, err := json.Marshal(instance.Data)
	if err != nil {
		return core.Wrap(err, "failed to encode saga instance data")
	}

	if instance.Version == 0 {
		tag, err := db.Exec(ctx,
			`INSERT INTO conveyor_instances
			 (correlation_id, saga, state, data, timeout_token, terminal, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
			 ON CONFLICT (correlation_id) DO NOTHING`,
			instance.CorrelationID, instance.Saga, string(instance.State), data,
			instance.TimeoutToken, instance.Terminal, instance.CreatedAt, instance.UpdatedAt)
		if err != nil {
			return core.Wrap(err, "failed to insert saga instance")
		}
		if tag.RowsAffected() == 0 {
			return core.NewError(core.ErrConflict, "saga instance already exists: "+instance.CorrelationID)
		}
		instance.Version = 1
		return nil
	}

	tag, err := db.Exec(ctx,
		`UPDATE conveyor_instances
		 SET state = $1, data = $2, timeout_token = $3, terminal = $4,
		     version = version + 1, updated_at = $5
		 WHERE correlation_id = $6 AND version = $7`,
		string(instance.State), data, instance.TimeoutToken, instance.Terminal,
		instance.UpdatedAt, instance.CorrelationID, instance.Version)
	if err != nil {
		return core.Wrap(err, "failed to update saga instance")
	}
	if tag.RowsAffected() == 0 {
		return core.NewError(core.ErrConflict, "saga instance version conflict: "+instance.CorrelationID)
	}
	instance.Version++
	return nil
}

// Delete удаляет экземпляр
func (s *PostgresInstanceStore) Delete(ctx context.Context, correlationID string) error {
	if _, err := s.pool.Exec(ctx,
		"DELETE FROM conveyor_instances WHERE correlation_id = $1", correlationID); err != nil {
		return core.Wrap(err, "failed to delete saga instance")
	}
	return nil
}
