package transport

import (
	"errors"
	"testing"
	"time"
)

func TestIncrementalBackoffPolicy_Delays(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		delay   time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 125 * time.Millisecond},
		{3, 150 * time.Millisecond},
		{4, 175 * time.Millisecond},
		{5, 5 * time.Second},
		{6, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := policy.GetDelay(tt.attempt); got != tt.delay {
			t.Errorf("GetDelay(%d): expected %v, got %v", tt.attempt, tt.delay, got)
		}
	}
}

func TestIncrementalBackoffPolicy_AttemptBudget(t *testing.T) {
	policy := DefaultRetryPolicy()
	failure := errors.New("handler failed")

	// 5 немедленных попыток и 2 отложенных раунда: повтор разрешен
	// после неудач 1-6, седьмая неудача уходит в fault-канал
	for attempt := 1; attempt <= 6; attempt++ {
		if !policy.ShouldRetry(attempt, failure) {
			t.Errorf("Expected retry after attempt %d", attempt)
		}
	}
	if policy.ShouldRetry(7, failure) {
		t.Error("Expected no retry after attempt 7")
	}
	if got := policy.GetMaxAttempts(); got != 7 {
		t.Errorf("Expected 7 total attempts, got %d", got)
	}
}

func TestIncrementalBackoffPolicy_NoRetryOnSuccess(t *testing.T) {
	policy := DefaultRetryPolicy()
	if policy.ShouldRetry(1, nil) {
		t.Error("Expected no retry without an error")
	}
}

func TestNoRetryPolicy(t *testing.T) {
	policy := &NoRetryPolicy{}
	if policy.ShouldRetry(1, errors.New("boom")) {
		t.Error("Expected no retry")
	}
	if got := policy.GetMaxAttempts(); got != 1 {
		t.Errorf("Expected 1 attempt, got %d", got)
	}
}
