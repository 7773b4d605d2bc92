package events

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestEnvelope_EncodeDecode(t *testing.T) {
	event := NewBaseEvent("invoice.requested", "order-1").
		WithPayload("text", "10x Practical Sagas").
		WithPayload("quantity", 10)
	envelope := NewEnvelope(event).WithHeader("x-source", "shop")

	data, err := envelope.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if decoded.EventID != event.EventID() {
		t.Errorf("Expected event id %s, got %s", event.EventID(), decoded.EventID)
	}
	if decoded.EventType != "invoice.requested" {
		t.Errorf("Expected event type invoice.requested, got %s", decoded.EventType)
	}
	if decoded.CorrelationID != "order-1" {
		t.Errorf("Expected correlation id order-1, got %s", decoded.CorrelationID)
	}
	if got := decoded.Payload.GetString("text"); got != "10x Practical Sagas" {
		t.Errorf("Expected payload text, got %q", got)
	}
	if got := decoded.Payload.GetInt("quantity"); got != 10 {
		t.Errorf("Expected quantity 10, got %d", got)
	}
	if got := decoded.Header("x-source"); got != "shop" {
		t.Errorf("Expected header x-source=shop, got %q", got)
	}
}

func TestEnvelope_Validate(t *testing.T) {
	envelope := NewEnvelope(NewBaseEvent("invoice.requested", "order-1"))
	if err := envelope.Validate(); err != nil {
		t.Errorf("Expected valid envelope, got %v", err)
	}

	missing := envelope
	missing.CorrelationID = ""
	if err := missing.Validate(); err == nil {
		t.Error("Expected error for missing correlation id")
	}

	missing = envelope
	missing.EventType = ""
	if err := missing.Validate(); err == nil {
		t.Error("Expected error for missing event type")
	}
}

func TestDecodeEnvelope_InvalidJSON(t *testing.T) {
	if _, err := DecodeEnvelope([]byte("{not json")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestEnvelope_EventRoundTrip(t *testing.T) {
	original := NewBaseEvent("invoice.requested", "order-1").WithPayload("text", "hello")
	envelope := NewEnvelope(original)

	event := envelope.Event()
	if event.EventType() != original.EventType() {
		t.Errorf("Expected event type %s, got %s", original.EventType(), event.EventType())
	}
	if event.CorrelationID() != original.CorrelationID() {
		t.Errorf("Expected correlation id %s, got %s", original.CorrelationID(), event.CorrelationID())
	}
	if got := event.Payload().GetString("text"); got != "hello" {
		t.Errorf("Expected payload text hello, got %q", got)
	}
}

func TestInMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus()

	var mu sync.Mutex
	var received []string
	handler := NewEventHandlerFunc("invoice.requested", func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event.CorrelationID())
		return nil
	})
	if err := bus.Subscribe("invoice.requested", handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), NewBaseEvent("invoice.requested", "order-1")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "order-1" {
		t.Errorf("Expected [order-1], got %v", received)
	}
}

func TestInMemoryEventBus_MiddlewareOrder(t *testing.T) {
	var mu sync.Mutex
	var trace []string

	bus := NewInMemoryEventBus().
		WithMiddleware(func(ctx context.Context, event Event, next func(ctx context.Context, event Event) error) error {
			mu.Lock()
			trace = append(trace, "outer")
			mu.Unlock()
			return next(ctx, event)
		}).
		WithMiddleware(func(ctx context.Context, event Event, next func(ctx context.Context, event Event) error) error {
			mu.Lock()
			trace = append(trace, "inner")
			mu.Unlock()
			return next(ctx, event)
		})

	handler := NewEventHandlerFunc("invoice.requested", func(ctx context.Context, event Event) error {
		mu.Lock()
		trace = append(trace, "handler")
		mu.Unlock()
		return nil
	})
	if err := bus.Subscribe("invoice.requested", handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := bus.Publish(context.Background(), NewBaseEvent("invoice.requested", "order-1")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(trace) != 3 || trace[0] != "outer" || trace[1] != "inner" || trace[2] != "handler" {
		t.Errorf("Expected [outer inner handler], got %v", trace)
	}
}

type captureDLQ struct {
	mu     sync.Mutex
	events []Event
}

func (d *captureDLQ) Publish(ctx context.Context, event Event, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func TestInMemoryEventBus_DeadLetterQueue(t *testing.T) {
	dlq := &captureDLQ{}
	bus := NewInMemoryEventBus().WithDeadLetterQueue(dlq)

	handler := NewEventHandlerFunc("invoice.requested", func(ctx context.Context, event Event) error {
		return errors.New("handler failed")
	})
	if err := bus.Subscribe("invoice.requested", handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := bus.Publish(context.Background(), NewBaseEvent("invoice.requested", "order-1")); err == nil {
		t.Fatal("Expected handler error to propagate")
	}
	if err := bus.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	if len(dlq.events) != 1 {
		t.Fatalf("Expected 1 dead-lettered event, got %d", len(dlq.events))
	}
	if dlq.events[0].CorrelationID() != "order-1" {
		t.Errorf("Expected order-1, got %s", dlq.events[0].CorrelationID())
	}
}
