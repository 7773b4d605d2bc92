// Package outbox реализует транзакционный outbox для исходящих событий саг.
//
// Действия перехода не публикуют события напрямую: они накапливаются
// в буфере перехода и либо публикуются после успешной фиксации экземпляра,
// либо отбрасываются целиком при ошибке. Хранилища с поддержкой транзакций
// записывают буфер в таблицу outbox в той же транзакции, что и экземпляр,
// а фоновый диспетчер доставляет записи в шину сообщений.
package outbox

import (
	"context"

	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/transport"
)

// Buffer буфер исходящих событий одного перехода.
// Буфер не потокобезопасен: он живет в пределах одного перехода,
// который выполняется под блокировкой correlation id.
type Buffer struct {
	records []events.Envelope
}

// NewBuffer создает пустой буфер
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Enqueue добавляет событие в буфер
func (b *Buffer) Enqueue(envelope events.Envelope) {
	b.records = append(b.records, envelope)
}

// Records возвращает накопленные события
func (b *Buffer) Records() []events.Envelope {
	return b.records
}

// Len возвращает количество накопленных событий
func (b *Buffer) Len() int {
	return len(b.records)
}

// Discard отбрасывает накопленные события
func (b *Buffer) Discard() {
	b.records = nil
}

// Flush публикует накопленные события в порядке добавления.
// При ошибке публикации оставшиеся события сохраняются в буфере.
func (b *Buffer) Flush(ctx context.Context, publisher transport.Publisher) error {
	for len(b.records) > 0 {
		envelope := b.records[0]
		data, err := envelope.Encode()
		if err != nil {
			return err
		}
		if err := publisher.Publish(ctx, envelope.EventType, data, nil); err != nil {
			return err
		}
		b.records = b.records[1:]
	}
	return nil
}
