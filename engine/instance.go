// Package engine предоставляет табличный движок саг.
package engine

import (
	"time"
)

// State именованное состояние саги
type State string

// Instance экземпляр саги, привязанный к correlation id.
//
// Владельцем экземпляра является исключительно движок: создание происходит
// на первом событии, совпадающем с начальным переходом, завершение - при
// достижении терминального состояния. На один correlation id существует
// не более одного живого экземпляра и не более одного активного
// таймаут-токена.
type Instance struct {
	CorrelationID string                 `bson:"correlation_id" json:"correlation_id"`
	Saga          string                 `bson:"saga" json:"saga"`
	State         State                  `bson:"state" json:"state"`
	Data          map[string]interface{} `bson:"data" json:"data"`
	TimeoutToken  string                 `bson:"timeout_token,omitempty" json:"timeout_token,omitempty"`
	Terminal      bool                   `bson:"terminal" json:"terminal"`
	Version       int64                  `bson:"version" json:"version"`
	CreatedAt     time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `bson:"updated_at" json:"updated_at"`
}

// NewInstance создает новый экземпляр саги
func NewInstance(saga, correlationID string, state State) *Instance {
	now := time.Now()
	return &Instance{
		CorrelationID: correlationID,
		Saga:          saga,
		State:         state,
		Data:          make(map[string]interface{}),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ID возвращает correlation id (реализация repository.Entity)
func (i *Instance) ID() string {
	return i.CorrelationID
}

// Get получает значение из данных экземпляра
func (i *Instance) Get(key string) interface{} {
	if i.Data == nil {
		return nil
	}
	return i.Data[key]
}

// Set устанавливает значение в данные экземпляра
func (i *Instance) Set(key string, value interface{}) {
	if i.Data == nil {
		i.Data = make(map[string]interface{})
	}
	i.Data[key] = value
}

// GetString получает строковое значение
func (i *Instance) GetString(key string) string {
	if s, ok := i.Get(key).(string); ok {
		return s
	}
	return ""
}

// GetInt получает целочисленное значение
func (i *Instance) GetInt(key string) int {
	switch v := i.Get(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// GetBool получает булево значение
func (i *Instance) GetBool(key string) bool {
	if b, ok := i.Get(key).(bool); ok {
		return b
	}
	return false
}

// GetFloat64 получает значение float64
func (i *Instance) GetFloat64(key string) float64 {
	switch v := i.Get(key).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0.0
}

// Clone возвращает глубокую копию экземпляра.
// Действия перехода выполняются над копией: при ошибке действия
// исходный экземпляр остается нетронутым.
func (i *Instance) Clone() *Instance {
	clone := *i
	clone.Data = make(map[string]interface{}, len(i.Data))
	for k, v := range i.Data {
		clone.Data[k] = v
	}
	return &clone
}
