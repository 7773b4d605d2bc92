package engine

import (
	"context"
	"fmt"

	"github.com/akriventsev/conveyor/core"
	"github.com/akriventsev/conveyor/events"
)

// Guard предикат применимости перехода.
// Возвращает false, если переход не должен сработать для данного события;
// событие при этом отбрасывается без побочных эффектов.
type Guard func(ctx context.Context, instance *Instance, event events.Event) (bool, error)

// Action действие, выполняемое при переходе.
// Действия работают с подготовленной копией экземпляра через TransitionContext
// и накапливают исходящие события в outbox-буфере перехода.
type Action interface {
	// Name возвращает имя действия для логирования
	Name() string

	// Execute выполняет действие
	Execute(ctx context.Context, tc *TransitionContext) error
}

// ActionFunc функциональная реализация Action
type ActionFunc struct {
	name string
	fn   func(ctx context.Context, tc *TransitionContext) error
}

// NewAction создает действие из функции
func NewAction(name string, fn func(ctx context.Context, tc *TransitionContext) error) Action {
	return &ActionFunc{name: name, fn: fn}
}

// Name возвращает имя действия
func (a *ActionFunc) Name() string {
	return a.name
}

// Execute выполняет действие
func (a *ActionFunc) Execute(ctx context.Context, tc *TransitionContext) error {
	return a.fn(ctx, tc)
}

// Transition строка таблицы переходов: для пары (состояние, тип события)
// задает охранное условие, список действий и целевое состояние.
type Transition struct {
	From    State
	Event   string
	Guard   Guard
	Actions []Action
	Next    State
	// Remain переход без смены состояния
	Remain bool
	// Terminal целевое состояние является терминальным
	Terminal bool
}

// Definition табличное определение саги.
// Поведение задается исключительно таблицей переходов: движок не знает
// ничего о предметной области конкретной саги.
type Definition struct {
	name        string
	initial     map[string]*Transition
	transitions map[State]map[string]*Transition
	terminals   map[State]bool
}

// Name возвращает имя саги
func (d *Definition) Name() string {
	return d.name
}

// InitialTransition возвращает начальный переход для типа события.
// Начальные переходы создают новый экземпляр саги.
func (d *Definition) InitialTransition(eventType string) (*Transition, bool) {
	t, ok := d.initial[eventType]
	return t, ok
}

// TransitionFor возвращает переход для пары (состояние, тип события)
func (d *Definition) TransitionFor(state State, eventType string) (*Transition, bool) {
	byEvent, ok := d.transitions[state]
	if !ok {
		return nil, false
	}
	t, ok := byEvent[eventType]
	return t, ok
}

// IsTerminal проверяет, является ли состояние терминальным
func (d *Definition) IsTerminal(state State) bool {
	return d.terminals[state]
}

// EventTypes возвращает все типы событий, на которые подписана сага
func (d *Definition) EventTypes() []string {
	seen := make(map[string]bool)
	var types []string
	for eventType := range d.initial {
		if !seen[eventType] {
			seen[eventType] = true
			types = append(types, eventType)
		}
	}
	for _, byEvent := range d.transitions {
		for eventType := range byEvent {
			if !seen[eventType] {
				seen[eventType] = true
				types = append(types, eventType)
			}
		}
	}
	return types
}

// Validate проверяет корректность определения
func (d *Definition) Validate() error {
	if d.name == "" {
		return core.NewError(core.ErrInvalidConfig, "saga name cannot be empty")
	}
	if len(d.initial) == 0 {
		return core.NewError(core.ErrInvalidConfig, "saga must have at least one initial transition")
	}
	for state, byEvent := range d.transitions {
		if d.terminals[state] {
			return core.NewError(core.ErrInvalidConfig,
				fmt.Sprintf("terminal state %s cannot have outgoing transitions", state))
		}
		for eventType, t := range byEvent {
			if t.Next == "" && !t.Remain {
				return core.NewError(core.ErrInvalidConfig,
					fmt.Sprintf("transition (%s, %s) has no target state", state, eventType))
			}
		}
	}
	return nil
}

// DefinitionBuilder builder для определения саги
type DefinitionBuilder struct {
	def  *Definition
	errs []error
}

// NewDefinitionBuilder создает builder определения саги
func NewDefinitionBuilder(name string) *DefinitionBuilder {
	return &DefinitionBuilder{
		def: &Definition{
			name:        name,
			initial:     make(map[string]*Transition),
			transitions: make(map[State]map[string]*Transition),
			terminals:   make(map[State]bool),
		},
	}
}

// Initially объявляет начальный переход: событие данного типа
// создает новый экземпляр саги
func (b *DefinitionBuilder) Initially(eventType string) *TransitionBuilder {
	return &TransitionBuilder{
		parent:     b,
		transition: &Transition{Event: eventType},
		initial:    true,
	}
}

// From объявляет переход из указанного состояния
func (b *DefinitionBuilder) From(state State) *FromBuilder {
	return &FromBuilder{parent: b, from: state}
}

// Build собирает и валидирует определение
func (b *DefinitionBuilder) Build() (*Definition, error) {
	if len(b.errs) > 0 {
		return nil, core.Wrap(b.errs[0], "failed to build saga definition")
	}
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	return b.def, nil
}

func (b *DefinitionBuilder) register(t *Transition, initial bool) {
	if initial {
		if _, exists := b.def.initial[t.Event]; exists {
			b.errs = append(b.errs, fmt.Errorf("duplicate initial transition for event %s", t.Event))
			return
		}
		b.def.initial[t.Event] = t
		if t.Terminal {
			b.def.terminals[t.Next] = true
		}
		return
	}
	byEvent, ok := b.def.transitions[t.From]
	if !ok {
		byEvent = make(map[string]*Transition)
		b.def.transitions[t.From] = byEvent
	}
	if _, exists := byEvent[t.Event]; exists {
		b.errs = append(b.errs, fmt.Errorf("duplicate transition (%s, %s)", t.From, t.Event))
		return
	}
	byEvent[t.Event] = t
	if t.Terminal {
		b.def.terminals[t.Next] = true
	}
}

// FromBuilder builder переходов из одного состояния
type FromBuilder struct {
	parent *DefinitionBuilder
	from   State
}

// On объявляет переход по типу события
func (f *FromBuilder) On(eventType string) *TransitionBuilder {
	return &TransitionBuilder{
		parent:     f.parent,
		transition: &Transition{From: f.from, Event: eventType},
	}
}

// TransitionBuilder builder одного перехода
type TransitionBuilder struct {
	parent     *DefinitionBuilder
	transition *Transition
	initial    bool
}

// WithGuard устанавливает охранное условие перехода
func (t *TransitionBuilder) WithGuard(guard Guard) *TransitionBuilder {
	t.transition.Guard = guard
	return t
}

// WithActions добавляет действия перехода
func (t *TransitionBuilder) WithActions(actions ...Action) *TransitionBuilder {
	t.transition.Actions = append(t.transition.Actions, actions...)
	return t
}

// TransitionTo завершает переход с указанием целевого состояния
func (t *TransitionBuilder) TransitionTo(next State) *DefinitionBuilder {
	t.transition.Next = next
	t.parent.register(t.transition, t.initial)
	return t.parent
}

// Remain завершает переход без смены состояния
func (t *TransitionBuilder) Remain() *DefinitionBuilder {
	if t.initial {
		t.parent.errs = append(t.parent.errs,
			fmt.Errorf("initial transition for event %s must declare a target state", t.transition.Event))
		return t.parent
	}
	t.transition.Remain = true
	t.parent.register(t.transition, t.initial)
	return t.parent
}

// Finalize завершает переход в терминальное состояние.
// Терминальные экземпляры замораживаются: все последующие события
// отбрасываются, активный таймаут отменяется.
func (t *TransitionBuilder) Finalize(terminal State) *DefinitionBuilder {
	t.transition.Next = terminal
	t.transition.Terminal = true
	t.parent.register(t.transition, t.initial)
	return t.parent
}
