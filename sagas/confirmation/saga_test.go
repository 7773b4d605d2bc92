package confirmation

import (
	"context"
	"sync"
	"testing"

	"github.com/akriventsev/conveyor/engine"
	"github.com/akriventsev/conveyor/events"
	"github.com/akriventsev/conveyor/reservation"
	"github.com/akriventsev/conveyor/scheduler"
)

type capturePublisher struct {
	mu        sync.Mutex
	envelopes []events.Envelope
}

func (p *capturePublisher) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	envelope, err := events.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, envelope)
	return nil
}

func (p *capturePublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.envelopes {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	engine    *engine.Engine
	store     *engine.InMemoryInstanceStore
	publisher *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	def, err := NewDefinition()
	if err != nil {
		t.Fatalf("NewDefinition failed: %v", err)
	}

	store := engine.NewInMemoryInstanceStore()
	publisher := &capturePublisher{}

	eng, err := engine.NewBuilder(def).
		WithStore(store).
		WithPublisher(publisher).
		WithScheduler(scheduler.NewTimerScheduler(publisher, nil)).
		Build()
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return &fixture{engine: eng, store: store, publisher: publisher}
}

// handle доставляет событие и, как транспорт, прогоняет опубликованные
// внутренние события обратно через движок
func (f *fixture) handle(t *testing.T, eventType, correlationID string) *engine.HandleResult {
	t.Helper()
	event := events.NewBaseEvent(eventType, correlationID)
	result, err := f.engine.Handle(context.Background(), events.NewEnvelope(event))
	if err != nil {
		t.Fatalf("Handle(%s) failed: %v", eventType, err)
	}
	f.pump(t)
	return result
}

func (f *fixture) pump(t *testing.T) {
	t.Helper()
	for {
		f.publisher.mu.Lock()
		var pending *events.Envelope
		for i := range f.publisher.envelopes {
			if f.publisher.envelopes[i].EventType == eventAllConfirmed &&
				f.publisher.envelopes[i].Header("pumped") == "" {
				f.publisher.envelopes[i] = f.publisher.envelopes[i].WithHeader("pumped", "1")
				pending = &f.publisher.envelopes[i]
				break
			}
		}
		f.publisher.mu.Unlock()
		if pending == nil {
			return
		}
		if _, err := f.engine.Handle(context.Background(), *pending); err != nil {
			t.Fatalf("Handle(%s) failed: %v", pending.EventType, err)
		}
	}
}

func confirmations() []string {
	return []string{
		EventClientConfirmed,
		EventWarehouseConfirmed,
		EventSalesConfirmed,
		EventMarketingConfirmed,
	}
}

func TestConfirmationSaga_AllFourConfirm(t *testing.T) {
	f := newFixture(t)
	f.handle(t, EventOrderPlaced, "order-1")

	for i, eventType := range confirmations() {
		result := f.handle(t, eventType, "order-1")
		if i < len(confirmations())-1 && result.To != StateAwaitingConfirmations {
			t.Errorf("Expected to remain AwaitingConfirmations after %s, got %s", eventType, result.To)
		}
	}

	instance, err := f.store.Load(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if instance.State != StateConfirmed {
		t.Errorf("Expected state Confirmed, got %s", instance.State)
	}
	if f.publisher.count(EventOrderConfirmed) != 1 {
		t.Errorf("Expected exactly one %s, got %d", EventOrderConfirmed, f.publisher.count(EventOrderConfirmed))
	}
}

func TestConfirmationSaga_OrderIndependent(t *testing.T) {
	f := newFixture(t)
	f.handle(t, EventOrderPlaced, "order-1")

	// обратный порядок подтверждений
	order := confirmations()
	for i := len(order) - 1; i >= 0; i-- {
		f.handle(t, order[i], "order-1")
	}

	instance, _ := f.store.Load(context.Background(), "order-1")
	if instance.State != StateConfirmed {
		t.Errorf("Expected state Confirmed, got %s", instance.State)
	}
}

func TestConfirmationSaga_DuplicateConfirmationsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	f.handle(t, EventOrderPlaced, "order-1")

	f.handle(t, EventClientConfirmed, "order-1")
	f.handle(t, EventClientConfirmed, "order-1")
	f.handle(t, EventWarehouseConfirmed, "order-1")

	instance, _ := f.store.Load(context.Background(), "order-1")
	if instance.State != StateAwaitingConfirmations {
		t.Errorf("Expected to keep awaiting, got %s", instance.State)
	}
	if f.publisher.count(EventOrderConfirmed) != 0 {
		t.Error("Expected no confirmation before all four sign-offs")
	}

	f.handle(t, EventSalesConfirmed, "order-1")
	f.handle(t, EventMarketingConfirmed, "order-1")

	if f.publisher.count(EventOrderConfirmed) != 1 {
		t.Errorf("Expected exactly one %s, got %d", EventOrderConfirmed, f.publisher.count(EventOrderConfirmed))
	}
}

func TestConfirmationSaga_RejectionWinsImmediately(t *testing.T) {
	f := newFixture(t)
	f.handle(t, EventOrderPlaced, "order-1")

	f.handle(t, EventClientConfirmed, "order-1")
	result := f.handle(t, EventSalesRejected, "order-1")
	if !result.Terminal || result.To != StateRejected {
		t.Errorf("Expected terminal Rejected, got %s (terminal=%v)", result.To, result.Terminal)
	}

	if f.publisher.count(EventOrderRejected) != 1 {
		t.Errorf("Expected one %s, got %d", EventOrderRejected, f.publisher.count(EventOrderRejected))
	}
	if f.publisher.count(reservation.SubjectRelease) != 1 {
		t.Errorf("Expected one reservation release, got %d", f.publisher.count(reservation.SubjectRelease))
	}

	// подтверждения после отказа отбрасываются
	result = f.handle(t, EventWarehouseConfirmed, "order-1")
	if result.Disposition != engine.DispositionDiscarded {
		t.Errorf("Expected discard after rejection, got %s", result.Disposition)
	}
}
