// Package conveyor предоставляет движок оркестрации саг для
// асинхронного процесса выполнения заказов.
//
// Основные возможности:
//   - Табличный движок саг с guard-переходами и действиями
//   - Планировщик отложенных событий с отменой по токену
//   - Transactional outbox: состояние и исходящие события фиксируются вместе
//   - Протокол резервирования склада с компенсацией
//   - Маршрутизатор сбоев после исчерпания повторных доставок
//   - Адаптеры message bus (in-memory, AMQP, NATS)
//
// Пример использования:
//
//	eng, err := engine.NewBuilder(def).
//	    WithStore(store).
//	    WithPublisher(bus).
//	    WithScheduler(sched).
//	    WithLogger(logger).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	result, err := eng.Handle(ctx, envelope)
package conveyor

// Version представляет версию библиотеки
const (
	Version = "1.0.0"
	Major   = 1
	Minor   = 0
	Patch   = 0
)

// Metadata содержит метаданные о библиотеке
type Metadata struct {
	Name        string
	Version     string
	Description string
}

// GetMetadata возвращает метаданные библиотеки
func GetMetadata() Metadata {
	return Metadata{
		Name:        "conveyor",
		Version:     Version,
		Description: "Saga orchestration engine for order fulfillment workflows",
	}
}
