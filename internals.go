// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package timercore

import (
	"sync/atomic"

	"github.com/dop251/goja"
)

// TimerObjectInternals is the shared state behind the JS-visible timeout,
// interval, and immediate objects: id, kind, interval, reference-counted
// lifetime, the strong handle to the JS wrapper, callback invocation, and
// inspector notifications.
//
// Reference ownership: one reference belongs to the JS wrapper and is
// released by finalization; one belongs to the scheduler while the timer is
// armed (or queued, for immediates); callback dispatch holds a scoped
// reference for its duration. The last release runs deinit, which detaches
// the timer from every scheduler structure.
//
// Except for refCount and finalization, all fields are confined to the loop
// goroutine.
type TimerObjectInternals struct {
	sched *Scheduler
	timer *EventLoopTimer // the node embedded in the owning object

	id         int32
	kind       Kind
	intervalMs int32

	refCount atomic.Int32

	// hasClearedTimer latches once the timer is cleared; it is what makes
	// cancel idempotent and what runImmediateTask checks before dispatch.
	hasClearedTimer bool
	// isKeepingEventLoopAlive is a latch, not a refcount: each flip adjusts
	// the scheduler's keep-alive count by exactly one.
	isKeepingEventLoopAlive bool
	// hasAccessedPrimitive records that the id was handed to JS as a number
	// and therefore lives in the scheduler's id map.
	hasAccessedPrimitive bool
	hasJSRef             bool
	inCallback           bool
	finalized            atomic.Bool

	// strongThis keeps the JS wrapper reachable while native code may still
	// dispatch to it. Dropping it is what allows the wrapper (and through
	// its finalizer, this object) to be collected.
	strongThis *goja.Object
	callback   goja.Callable
	args       []goja.Value
}

// set initializes the internals for a freshly constructed timer object:
// stores the callback and arguments, takes the strong handle to the wrapper,
// and arms the timer. Immediates go on the immediate task queue instead of
// the time-ordered store.
func (ti *TimerObjectInternals) set(vm *VM, wrapper *goja.Object, cb goja.Callable, args []goja.Value) {
	ti.refCount.Store(1) // the wrapper's reference, released by finalize
	ti.strongThis = wrapper
	ti.callback = cb
	ti.args = args
	ti.hasJSRef = true

	vm.inspector.DidScheduleAsyncCall(vm, TimerID{ID: ti.id, Kind: ti.kind})
	ti.sched.metrics.timerScheduled(ti.kind)

	if ti.kind == KindImmediate {
		ti.ref() // the queue's reference, released by runImmediateTask
		ti.setEnableKeepingEventLoopAlive(true)
		ti.sched.enqueueImmediate(ti)
		return
	}
	ti.reschedule(vm)
}

// reschedule arms (or re-arms) the timer at now + interval. If the timer is
// already active it is moved without touching the reference count; otherwise
// the scheduler's reference is acquired here.
func (ti *TimerObjectInternals) reschedule(vm *VM) {
	ti.rescheduleAt(vm, msFromNow(int64(ti.intervalMs)), ti.timer.state != TimerActive)
}

func (ti *TimerObjectInternals) rescheduleAt(vm *VM, when Time, takeRef bool) {
	if takeRef {
		ti.ref()
	}
	ti.sched.Update(ti.timer, when)
	ti.hasClearedTimer = false
	if ti.hasJSRef {
		ti.setEnableKeepingEventLoopAlive(true)
	}
}

// fireTimer dispatches the timer callback. Invoked by the drain loop with
// the cycle's shared now and no scheduler lock held.
//
// Rescheduling of intervals and refreshed timers happens here directly via
// the scheduler, so the drain loop is always told to disarm.
func (ti *TimerObjectInternals) fireTimer(now Time, vm *VM) FireAction {
	// The instance may be destroyed during the callback; snapshot what the
	// inspector needs up front.
	asyncID := TimerID{ID: ti.id, Kind: ti.kind}
	kind := ti.kind

	if ti.timer.state == TimerCancelled || ti.hasClearedTimer || !vm.Runnable() {
		vm.inspector.DidCancelAsyncCall(vm, asyncID)
		ti.hasClearedTimer = true
		ti.dropStrongHandle()
		ti.deref()
		return Disarm()
	}

	ti.timer.state = TimerFired

	var timeBeforeCall Time
	if kind == KindInterval {
		// Sampled before the callback so drift is bounded by callback
		// duration instead of compounding across ticks.
		timeBeforeCall = msFromNow(int64(ti.intervalMs))
	} else {
		ti.dropStrongHandle()
	}

	ti.ref() // scoped: the callback may clear and release everything else
	ti.inCallback = true
	vm.inspector.WillDispatchAsyncCall(vm, asyncID)
	vm.invokeTimerCallback(ti)
	vm.inspector.DidDispatchAsyncCall(vm, asyncID)
	ti.inCallback = false
	ti.sched.metrics.timerFired(kind)

	done := false
	switch {
	case kind == KindInterval && ti.timer.state == TimerFired:
		ti.rescheduleAt(vm, timeBeforeCall, false)
	case kind == KindInterval && ti.timer.state == TimerActive:
		// refresh() ran inside the callback: it re-armed the timer and took
		// a reference for the new arming. Re-arm from the pre-callback
		// sample and release one reference to balance.
		ti.rescheduleAt(vm, timeBeforeCall, false)
		ti.deref()
	case kind != KindInterval && ti.timer.state == TimerActive:
		// refresh() ran inside a timeout callback; the new arming holds its
		// own reference, release the one from the arming that just fired.
		ti.deref()
	default:
		done = true
	}

	if done {
		if ti.isKeepingEventLoopAlive {
			ti.setEnableKeepingEventLoopAlive(false)
		}
		ti.deref() // the scheduler's reference
	}
	ti.deref() // scoped
	return Disarm()
}

// cancel implements clearTimeout/clearInterval/clearImmediate. Idempotent:
// clearing twice has the same observable effect as clearing once, and
// clearing a timer that already fired only disengages keep-alive.
func (ti *TimerObjectInternals) cancel(vm *VM) {
	if ti.hasClearedTimer {
		return
	}
	ti.setEnableKeepingEventLoopAlive(false)
	ti.hasClearedTimer = true
	vm.inspector.DidCancelAsyncCall(vm, TimerID{ID: ti.id, Kind: ti.kind})
	ti.sched.metrics.timerCancelled(ti.kind)

	if ti.kind == KindImmediate {
		// Immediates live on the task queue; runImmediateTask observes the
		// latch and releases the queue's reference.
		return
	}

	wasActive := ti.timer.state == TimerActive
	if wasActive {
		ti.sched.Remove(ti.timer)
	}
	ti.timer.state = TimerCancelled
	ti.dropStrongHandle()
	if wasActive {
		ti.deref() // the scheduler's reference
	}
}

// runImmediateTask dispatches a queued immediate. Invoked by the immediate
// queue drainer on the loop goroutine.
func (ti *TimerObjectInternals) runImmediateTask(vm *VM) {
	asyncID := TimerID{ID: ti.id, Kind: ti.kind}
	if ti.hasClearedTimer || !vm.Runnable() {
		ti.timer.state = TimerCancelled
		ti.dropStrongHandle()
		ti.deref() // the queue's reference
		return
	}

	ti.timer.state = TimerFired
	ti.dropStrongHandle()

	ti.ref() // scoped
	ti.inCallback = true
	vm.inspector.WillDispatchAsyncCall(vm, asyncID)
	vm.invokeTimerCallback(ti)
	vm.inspector.DidDispatchAsyncCall(vm, asyncID)
	ti.inCallback = false
	ti.sched.metrics.timerFired(ti.kind)

	if ti.isKeepingEventLoopAlive {
		ti.setEnableKeepingEventLoopAlive(false)
	}
	ti.deref() // scoped
	ti.deref() // the queue's reference
}

// setJSRef implements ref()/unref(). Only a transition touches keep-alive,
// and only while the timer can still fire.
func (ti *TimerObjectInternals) setJSRef(v bool) {
	if ti.hasJSRef == v {
		return
	}
	ti.hasJSRef = v
	if v && ti.destroyed() {
		// ref() on a cleared or finished timer must not resurrect keep-alive.
		return
	}
	ti.setEnableKeepingEventLoopAlive(v)
}

// hasRef implements hasRef().
func (ti *TimerObjectInternals) hasRef() bool { return ti.hasJSRef }

// setEnableKeepingEventLoopAlive flips the keep-alive latch. Idempotent:
// double flips in the same direction do not touch the scheduler count.
func (ti *TimerObjectInternals) setEnableKeepingEventLoopAlive(v bool) {
	if ti.isKeepingEventLoopAlive == v {
		return
	}
	ti.isKeepingEventLoopAlive = v
	if v {
		ti.sched.incrementTimerRef(1)
	} else {
		ti.sched.incrementTimerRef(-1)
	}
}

// destroyed implements the _destroyed property: true once the timer has been
// cleared or has finished firing. While the callback is on the stack the
// property is transiently false even though the internal state is
// TimerFired.
func (ti *TimerObjectInternals) destroyed() bool {
	if ti.hasClearedTimer {
		return true
	}
	if ti.inCallback {
		return false
	}
	s := ti.timer.state
	return s == TimerFired || s == TimerCancelled
}

// primitiveValue implements Symbol.toPrimitive: returns the numeric id and,
// on first coercion, binds it in the scheduler's id map so that string and
// numeric clear* calls can find the timer. Timers never coerced never pay
// for the map insertion.
func (ti *TimerObjectInternals) primitiveValue() int32 {
	if !ti.hasAccessedPrimitive {
		ti.hasAccessedPrimitive = true
		ti.sched.registerID(ti.kind, ti.id, ti)
	}
	return ti.id
}

// dropStrongHandle releases the wrapper handle. Idempotent.
func (ti *TimerObjectInternals) dropStrongHandle() {
	ti.strongThis = nil
}

// finalize is the wrapper's GC hook: once JS code can no longer reach the
// wrapper, the wrapper's reference is released. Idempotent; safe off the
// loop goroutine because it only drops handles and derefs.
func (ti *TimerObjectInternals) finalize() {
	if !ti.finalized.CompareAndSwap(false, true) {
		return
	}
	ti.dropStrongHandle()
	ti.deref()
}

func (ti *TimerObjectInternals) ref() {
	ti.refCount.Add(1)
}

func (ti *TimerObjectInternals) deref() {
	if n := ti.refCount.Add(-1); n == 0 {
		ti.deinit()
	} else if n < 0 {
		panic("timercore: timer reference count went negative")
	}
}

// deinit runs on the last deref: detach from the store if still armed,
// remove the id-map binding, disengage keep-alive, and let go of the JS
// values so the GC can take the rest.
func (ti *TimerObjectInternals) deinit() {
	if ti.timer.state == TimerActive {
		ti.sched.Remove(ti.timer)
	}
	if ti.hasAccessedPrimitive {
		ti.sched.unregisterID(ti.kind, ti.id)
	}
	ti.setEnableKeepingEventLoopAlive(false)
	ti.strongThis = nil
	ti.callback = nil
	ti.args = nil
}
