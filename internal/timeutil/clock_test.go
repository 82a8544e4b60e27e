package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTimer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Error("timer did not fire")
	}
}

func TestWait_Elapses(t *testing.T) {
	if err := Wait(context.Background(), RealClock{}, time.Millisecond); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

func TestWait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := NewMockClock(time.Unix(0, 0))

	done := make(chan error, 1)
	go func() { done <- Wait(ctx, clock, time.Hour) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Wait() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestWait_NonPositiveDuration(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	if err := Wait(context.Background(), clock, 0); err != nil {
		t.Errorf("Wait(0) = %v", err)
	}
	if len(clock.Waits()) != 0 {
		t.Error("Wait(0) should not create a timer")
	}
}

func TestMockClock_AdvanceFiresTimer(t *testing.T) {
	start := time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	timer := clock.NewTimer(time.Second)
	if clock.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", clock.Pending())
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case got := <-timer.C():
		if !got.Equal(start.Add(time.Second)) {
			t.Errorf("fired at %v, want %v", got, start.Add(time.Second))
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}

	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d after fire, want 0", clock.Pending())
	}
	if clock.Since(start) != time.Second {
		t.Errorf("Since() = %v, want 1s", clock.Since(start))
	}
}

func TestMockClock_StoppedTimerDoesNotFire(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop() on active timer should return true")
	}
	clock.Advance(2 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
	if timer.Stop() {
		t.Error("second Stop() should return false")
	}
}

func TestMockClock_Waits(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	clock.NewTimer(time.Second)
	clock.NewTimer(2 * time.Second)

	waits := clock.Waits()
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Errorf("Waits() = %v", waits)
	}
}
