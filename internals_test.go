package timercore

import (
	"testing"
	"time"

	"github.com/dop251/goja"
)

type recordingInspector struct {
	scheduled  []TimerID
	dispatched []TimerID
	cancelled  []TimerID
}

func (r *recordingInspector) DidScheduleAsyncCall(_ *VM, id TimerID) {
	r.scheduled = append(r.scheduled, id)
}
func (r *recordingInspector) WillDispatchAsyncCall(*VM, TimerID) {}
func (r *recordingInspector) DidDispatchAsyncCall(_ *VM, id TimerID) {
	r.dispatched = append(r.dispatched, id)
}
func (r *recordingInspector) DidCancelAsyncCall(_ *VM, id TimerID) {
	r.cancelled = append(r.cancelled, id)
}

func jsFunc(t *testing.T, vm *VM, fn func()) goja.Callable {
	t.Helper()
	cb, ok := goja.AssertFunction(vm.rt.ToValue(fn))
	if !ok {
		t.Fatal("failed to build test callback")
	}
	return cb
}

func newTestTimer(t *testing.T, vm *VM, kind Kind, ms int32, fn func()) *TimeoutObject {
	t.Helper()
	s := vm.Scheduler()
	o := newTimeoutObject(s, s.NextID(), kind, ms)
	o.internals.set(vm, vm.rt.NewObject(), jsFunc(t, vm, fn), nil)
	return o
}

func newTestImmediate(t *testing.T, vm *VM, fn func()) *ImmediateObject {
	t.Helper()
	s := vm.Scheduler()
	o := newImmediateObject(s, s.NextID())
	o.internals.set(vm, vm.rt.NewObject(), jsFunc(t, vm, fn), nil)
	return o
}

func drainAfter(vm *VM, d time.Duration) {
	time.Sleep(d)
	vm.DrainTimers()
}

func TestTimeoutFireLifecycle(t *testing.T) {
	insp := &recordingInspector{}
	vm := newTestSchedulerVM(t, nil, WithInspector(insp))

	fired := false
	o := newTestTimer(t, vm, KindTimeout, 1, func() { fired = true })
	ti := &o.internals

	if ti.destroyed() {
		t.Fatal("fresh timer reports destroyed")
	}
	if got := vm.Scheduler().ActiveTimerCount(); got != 1 {
		t.Fatalf("ActiveTimerCount() = %d, want 1 while armed", got)
	}
	if rc := ti.refCount.Load(); rc != 2 {
		t.Fatalf("refCount = %d, want 2 (wrapper + scheduler)", rc)
	}

	drainAfter(vm, 5*time.Millisecond)

	if !fired {
		t.Fatal("callback did not run")
	}
	if !ti.destroyed() {
		t.Fatal("fired timeout should report destroyed")
	}
	if got := vm.Scheduler().ActiveTimerCount(); got != 0 {
		t.Fatalf("ActiveTimerCount() = %d, want 0 after firing", got)
	}
	if rc := ti.refCount.Load(); rc != 1 {
		t.Fatalf("refCount = %d, want 1 (wrapper only)", rc)
	}
	if len(insp.scheduled) != 1 || len(insp.dispatched) != 1 {
		t.Fatalf("inspector saw %d scheduled / %d dispatched, want 1/1",
			len(insp.scheduled), len(insp.dispatched))
	}

	ti.finalize()
	if rc := ti.refCount.Load(); rc != 0 {
		t.Fatalf("refCount = %d after finalize, want 0", rc)
	}
	ti.finalize() // idempotent
}

func TestTimeoutDestroyedTransientlyFalseInCallback(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)

	var during bool
	var o *TimeoutObject
	o = newTestTimer(t, vm, KindTimeout, 1, func() {
		during = o.internals.destroyed()
	})

	drainAfter(vm, 5*time.Millisecond)
	if during {
		t.Fatal("_destroyed must be false while the callback is on the stack")
	}
	if !o.internals.destroyed() {
		t.Fatal("_destroyed must be true after the callback returns")
	}
}

func TestIntervalRearmsAndSelfClears(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)

	count := 0
	var o *TimeoutObject
	o = newTestTimer(t, vm, KindInterval, 1, func() {
		count++
		if count == 3 {
			o.internals.cancel(vm)
		}
	})

	for i := 0; i < 8; i++ {
		drainAfter(vm, 3*time.Millisecond)
	}

	if count != 3 {
		t.Fatalf("interval fired %d times, want exactly 3", count)
	}
	if got := vm.Scheduler().ActiveTimerCount(); got != 0 {
		t.Fatalf("ActiveTimerCount() = %d, want 0 after self-clear", got)
	}
	if rc := o.internals.refCount.Load(); rc != 1 {
		t.Fatalf("refCount = %d, want 1 after self-clear", rc)
	}
}

func TestIntervalSurvivesThrowingCallback(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)
	rt := vm.Runtime()

	throwing, err := rt.RunString(`(() => { throw new Error("boom"); })`)
	if err != nil {
		t.Fatalf("RunString failed: %v", err)
	}
	cb, _ := goja.AssertFunction(throwing)

	var caught int
	vm.onUncaught = func(error) { caught++ }

	s := vm.Scheduler()
	o := newTimeoutObject(s, s.NextID(), KindInterval, 1)
	o.internals.set(vm, rt.NewObject(), cb, nil)

	drainAfter(vm, 3*time.Millisecond)
	drainAfter(vm, 3*time.Millisecond)

	if caught < 2 {
		t.Fatalf("uncaught handler ran %d times, want >= 2 (errors do not stop an interval)", caught)
	}
	if o.timer.state != TimerActive {
		t.Fatalf("interval state = %v, want Active (still scheduled)", o.timer.state)
	}
	o.internals.cancel(vm)
}

func TestCancelIdempotent(t *testing.T) {
	bridge := &recordingBridge{}
	vm := newTestSchedulerVM(t, bridge)

	o := newTestTimer(t, vm, KindTimeout, 10_000, func() {})
	ti := &o.internals

	ti.cancel(vm)
	rcAfterFirst := ti.refCount.Load()
	ti.cancel(vm)

	if rc := ti.refCount.Load(); rc != rcAfterFirst {
		t.Fatalf("second cancel changed refCount %d -> %d", rcAfterFirst, rc)
	}
	if got := vm.Scheduler().ActiveTimerCount(); got != 0 {
		t.Fatalf("ActiveTimerCount() = %d, want 0", got)
	}
	if _, unrefs := bridge.counts(); unrefs != 1 {
		t.Fatalf("bridge saw %d unrefs, want exactly 1", unrefs)
	}
	if !ti.destroyed() {
		t.Fatal("cancelled timer should report destroyed")
	}

	// A timer cancelled before its deadline never fires.
	drainAfter(vm, 2*time.Millisecond)
	if ti.timer.state != TimerCancelled {
		t.Fatalf("state = %v, want Cancelled", ti.timer.state)
	}
}

func TestRefreshRefCountAggregate(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)

	o := newTestTimer(t, vm, KindTimeout, 10_000, func() {})
	ti := &o.internals
	before := ti.refCount.Load()

	// refresh of an armed timer moves it without touching the count, no
	// matter how many times it runs.
	for i := 0; i < 5; i++ {
		ti.reschedule(vm)
	}
	if rc := ti.refCount.Load(); rc != before {
		t.Fatalf("refCount = %d after refreshes, want %d", rc, before)
	}
	ti.cancel(vm)
}

func TestRefreshRestartsClearedTimer(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)

	fired := false
	o := newTestTimer(t, vm, KindTimeout, 1, func() { fired = true })
	ti := &o.internals

	ti.cancel(vm)
	ti.reschedule(vm) // refresh() after clearTimeout re-arms

	if ti.destroyed() {
		t.Fatal("refreshed timer should no longer report destroyed")
	}
	drainAfter(vm, 5*time.Millisecond)
	if !fired {
		t.Fatal("refreshed timer did not fire")
	}
}

func TestRefreshDuringIntervalCallback(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)

	count := 0
	var o *TimeoutObject
	o = newTestTimer(t, vm, KindInterval, 1, func() {
		count++
		o.internals.reschedule(vm) // refresh() from inside the callback
	})
	want := o.internals.refCount.Load()

	for i := 0; i < 3; i++ {
		drainAfter(vm, 3*time.Millisecond)
	}

	if count < 2 {
		t.Fatalf("interval fired %d times, want >= 2", count)
	}
	if rc := o.internals.refCount.Load(); rc != want {
		t.Fatalf("refCount = %d after refresh-in-callback ticks, want %d", rc, want)
	}
	o.internals.cancel(vm)
	if rc := o.internals.refCount.Load(); rc != 1 {
		t.Fatalf("refCount = %d after cancel, want 1", rc)
	}
}

func TestRefUnrefKeepAliveLatch(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)
	s := vm.Scheduler()

	o := newTestTimer(t, vm, KindTimeout, 10_000, func() {})
	ti := &o.internals

	if !ti.hasRef() || s.ActiveTimerCount() != 1 {
		t.Fatal("new timer should hold a keep-alive reference")
	}

	ti.setJSRef(false)
	ti.setJSRef(false) // double unref is idempotent
	if ti.hasRef() || s.ActiveTimerCount() != 0 {
		t.Fatalf("hasRef=%v count=%d after unref, want false/0", ti.hasRef(), s.ActiveTimerCount())
	}

	ti.setJSRef(true)
	ti.setJSRef(true)
	if !ti.hasRef() || s.ActiveTimerCount() != 1 {
		t.Fatalf("hasRef=%v count=%d after ref, want true/1", ti.hasRef(), s.ActiveTimerCount())
	}

	ti.cancel(vm)
	if s.ActiveTimerCount() != 0 {
		t.Fatal("cancel must disengage keep-alive")
	}
	// ref() on a cleared timer must not resurrect keep-alive.
	ti.setJSRef(false)
	ti.setJSRef(true)
	if s.ActiveTimerCount() != 0 {
		t.Fatal("ref() after clear resurrected keep-alive")
	}
}

func TestUnrefTimerStillFires(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)

	fired := false
	o := newTestTimer(t, vm, KindTimeout, 1, func() { fired = true })
	o.internals.setJSRef(false)

	drainAfter(vm, 5*time.Millisecond)
	if !fired {
		t.Fatal("unref'd timer must still fire when the loop waits anyway")
	}
}

func TestImmediateRunsOnceAndClears(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)
	s := vm.Scheduler()

	var order []string
	newTestImmediate(t, vm, func() { order = append(order, "a") })
	b := newTestImmediate(t, vm, func() { order = append(order, "b") })
	newTestImmediate(t, vm, func() { order = append(order, "c") })

	b.internals.cancel(vm)

	if !s.HasPendingImmediates() {
		t.Fatal("immediates should be queued")
	}
	vm.DrainImmediates()
	vm.DrainImmediates() // second drain is a no-op

	if len(order) != 2 || order[0] != "a" || order[1] != "c" {
		t.Fatalf("immediate order = %v, want [a c]", order)
	}
	if s.ActiveTimerCount() != 0 {
		t.Fatalf("ActiveTimerCount() = %d, want 0 after drain", s.ActiveTimerCount())
	}
	if rc := b.internals.refCount.Load(); rc != 1 {
		t.Fatalf("cleared immediate refCount = %d, want 1", rc)
	}
}

func TestImmediateQueuedDuringDrainDefers(t *testing.T) {
	vm := newTestSchedulerVM(t, nil)

	var ran []string
	newTestImmediate(t, vm, func() {
		ran = append(ran, "outer")
		newTestImmediate(t, vm, func() { ran = append(ran, "inner") })
	})

	vm.DrainImmediates()
	if len(ran) != 1 || ran[0] != "outer" {
		t.Fatalf("first drain ran %v, want [outer]", ran)
	}
	vm.DrainImmediates()
	if len(ran) != 2 || ran[1] != "inner" {
		t.Fatalf("second drain ran %v, want [outer inner]", ran)
	}
}

func TestNotRunnableCancelsAtDispatch(t *testing.T) {
	insp := &recordingInspector{}
	vm := newTestSchedulerVM(t, nil, WithInspector(insp))

	fired := false
	o := newTestTimer(t, vm, KindTimeout, 1, func() { fired = true })
	vm.SetRunnable(false)

	drainAfter(vm, 5*time.Millisecond)
	if fired {
		t.Fatal("callback ran while script execution was not runnable")
	}
	if len(insp.cancelled) != 1 {
		t.Fatalf("inspector saw %d cancellations, want 1", len(insp.cancelled))
	}
	if rc := o.internals.refCount.Load(); rc != 1 {
		t.Fatalf("refCount = %d, want 1 (scheduler reference released)", rc)
	}
}
