package engine

import (
	"testing"
)

func TestDefinitionBuilder_Build(t *testing.T) {
	def, err := NewDefinitionBuilder("orders").
		Initially("order.placed").
		TransitionTo("Pending").
		From("Pending").On("order.paid").
		Finalize("Completed").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if def.Name() != "orders" {
		t.Errorf("Expected name 'orders', got '%s'", def.Name())
	}
	if _, ok := def.InitialTransition("order.placed"); !ok {
		t.Error("Expected initial transition for order.placed")
	}
	if _, ok := def.TransitionFor("Pending", "order.paid"); !ok {
		t.Error("Expected transition (Pending, order.paid)")
	}
	if !def.IsTerminal("Completed") {
		t.Error("Expected Completed to be terminal")
	}

	types := def.EventTypes()
	if len(types) != 2 {
		t.Errorf("Expected 2 event types, got %d: %v", len(types), types)
	}
}

func TestDefinitionBuilder_DuplicateTransition(t *testing.T) {
	_, err := NewDefinitionBuilder("orders").
		Initially("order.placed").
		TransitionTo("Pending").
		From("Pending").On("order.paid").
		TransitionTo("Paid").
		From("Pending").On("order.paid").
		Finalize("Completed").
		Build()
	if err == nil {
		t.Error("Expected error for duplicate transition")
	}
}

func TestDefinitionBuilder_NoInitialTransition(t *testing.T) {
	_, err := NewDefinitionBuilder("orders").
		From("Pending").On("order.paid").
		Finalize("Completed").
		Build()
	if err == nil {
		t.Error("Expected error for definition without initial transition")
	}
}

func TestDefinitionBuilder_InitialCannotRemain(t *testing.T) {
	_, err := NewDefinitionBuilder("orders").
		Initially("order.placed").
		Remain().
		Build()
	if err == nil {
		t.Error("Expected error for initial transition without target state")
	}
}

func TestDefinition_TerminalStateHasNoOutgoingTransitions(t *testing.T) {
	_, err := NewDefinitionBuilder("orders").
		Initially("order.placed").
		TransitionTo("Pending").
		From("Pending").On("order.paid").
		Finalize("Completed").
		From("Completed").On("order.reopened").
		TransitionTo("Pending").
		Build()
	if err == nil {
		t.Error("Expected error for transition out of terminal state")
	}
}
