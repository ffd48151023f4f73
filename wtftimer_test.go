package timercore

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWTFTimerImminentFastPath(t *testing.T) {
	bridge := &recordingBridge{}
	vm := newTestSchedulerVM(t, bridge)

	var fired atomic.Int32
	w := NewWTFTimer(vm, func() { fired.Add(1) }, 0)

	w.Update(0)
	if vm.Scheduler().imminent.Load() != w {
		t.Fatal("zero-delay update did not publish the imminent pointer")
	}
	if sec, ok := w.SecondsUntilFire(); !ok || sec != 0 {
		t.Fatalf("SecondsUntilFire = (%v, %v), want (0, true) while imminent", sec, ok)
	}

	if !vm.FireImminent() {
		t.Fatal("FireImminent found nothing to fire")
	}
	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want 1", fired.Load())
	}
	if vm.Scheduler().imminent.Load() != nil {
		t.Fatal("imminent pointer not cleared after firing")
	}
	if vm.FireImminent() {
		t.Fatal("second FireImminent should be a no-op")
	}
}

func TestWTFTimerNonZeroUpdateClearsImminent(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)

	w := NewWTFTimer(vm, func() {}, 0)
	w.Update(0)
	w.Update(0.05)

	if vm.Scheduler().imminent.Load() != nil {
		t.Fatal("non-zero update left the imminent pointer set")
	}
	if w.timer.state != TimerActive {
		t.Fatalf("state = %v, want Active after scheduling", w.timer.state)
	}
	sec, ok := w.SecondsUntilFire()
	if !ok || sec <= 0 || sec > 0.05 {
		t.Fatalf("SecondsUntilFire = (%v, %v), want (0, 0.05]", sec, ok)
	}
	w.Cancel()
}

func TestWTFTimerRepeatRearms(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)

	var fired atomic.Int32
	w := NewWTFTimer(vm, func() { fired.Add(1) }, 0.001)
	w.Update(0.001)

	for i := 0; i < 3; i++ {
		time.Sleep(3 * time.Millisecond)
		vm.DrainTimers()
	}

	if n := fired.Load(); n < 2 {
		t.Fatalf("repeating runloop timer fired %d times, want >= 2", n)
	}
	if w.timer.state != TimerActive {
		t.Fatalf("state = %v, want Active (rearmed)", w.timer.state)
	}
	w.Cancel()
	if w.timer.state != TimerCancelled {
		t.Fatalf("state = %v after Cancel, want Cancelled", w.timer.state)
	}
}

func TestWTFTimerCancelIdempotentCrossThread(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)

	var fired atomic.Int32
	w := NewWTFTimer(vm, func() { fired.Add(1) }, 0)
	w.Update(0.005)

	done := make(chan struct{})
	go func() {
		w.Cancel()
		w.Cancel()
		close(done)
	}()
	<-done

	time.Sleep(10 * time.Millisecond)
	vm.DrainTimers()
	if fired.Load() != 0 {
		t.Fatalf("cancelled runloop timer fired %d times", fired.Load())
	}
	if _, ok := w.SecondsUntilFire(); ok {
		t.Fatal("cancelled timer still reports a fire time")
	}
}

func TestWTFTimerImminentWakesBridge(t *testing.T) {
	bridge := &recordingBridge{}
	vm := newTestSchedulerVM(t, bridge)

	w := NewWTFTimer(vm, func() {}, 0)
	w.Update(0)

	bridge.mu.Lock()
	wakes := bridge.wakes
	bridge.mu.Unlock()
	if wakes == 0 {
		t.Fatal("imminent publication must wake the native loop")
	}
	vm.FireImminent()
}
