package timercore

import (
	"sync"
)

// WTFTimer is the lower-level timer used by the host runtime's internal
// runloop, e.g. the GC scheduler. It differs from the JS-visible timers in
// two ways: a zero-delay update publishes the timer through an atomic
// pointer that the loop's fast path fires inline without touching the store,
// and its state may be queried or cancelled from threads other than the
// loop.
//
// The internal mutex is a leaf at the same level as the scheduler mutex:
// neither is ever held while calling into the other's owner.
type WTFTimer struct {
	timer EventLoopTimer
	vm    *VM

	// f is the external firing function, owned by the host runloop.
	f func()

	// repeatSec > 0 rearms the timer after each fire.
	repeatSec float64

	mu        sync.Mutex
	cancelled bool
}

// NewWTFTimer creates a runloop timer firing f. A positive repeatSeconds
// makes the timer periodic.
func NewWTFTimer(vm *VM, f func(), repeatSeconds float64) *WTFTimer {
	w := &WTFTimer{vm: vm, f: f, repeatSec: repeatSeconds}
	w.timer.tag = TagWTF
	w.timer.owner = w
	return w
}

// Update schedules the timer to fire after the given number of seconds.
// A zero delay publishes the timer as imminent: the loop fires it inline on
// its fast path, skipping the store. Any non-zero update withdraws a pending
// imminent publication before scheduling.
func (w *WTFTimer) Update(seconds float64) {
	w.mu.Lock()
	w.cancelled = false
	w.mu.Unlock()
	sched := w.vm.sched
	if seconds == 0 {
		sched.imminent.Store(w)
		sched.bridge.Wakeup()
		return
	}
	sched.imminent.CompareAndSwap(w, nil)
	sched.Update(&w.timer, msFromNow(int64(seconds*1000)))
}

// Cancel unschedules the timer. Safe from any thread; idempotent.
func (w *WTFTimer) Cancel() {
	w.mu.Lock()
	if w.cancelled {
		w.mu.Unlock()
		return
	}
	w.cancelled = true
	w.mu.Unlock()
	sched := w.vm.sched
	sched.imminent.CompareAndSwap(w, nil)
	if w.timer.state == TimerActive {
		sched.Remove(&w.timer)
	}
}

// SecondsUntilFire reports the time until the next fire: zero when imminent,
// the remaining delay when scheduled, and false when the timer is not
// armed. Safe from any thread.
func (w *WTFTimer) SecondsUntilFire() (float64, bool) {
	if w.vm.sched.imminent.Load() == w {
		return 0, true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled || w.timer.state != TimerActive {
		return 0, false
	}
	d := w.timer.when.Sub(timeNow())
	if d < 0 {
		d = 0
	}
	return d.Seconds(), true
}

// fireTimer invokes the external firing function. Runs on the loop
// goroutine, via the drain loop, the pre-wait timeout query, or the imminent
// fast path.
func (w *WTFTimer) fireTimer(now Time, vm *VM) FireAction {
	w.mu.Lock()
	if w.cancelled {
		w.mu.Unlock()
		return Disarm()
	}
	w.timer.state = TimerFired
	f := w.f
	repeat := w.repeatSec
	w.mu.Unlock()

	vm.sched.imminent.CompareAndSwap(w, nil)
	if f != nil {
		f()
	}
	if repeat > 0 {
		return RearmAt(now.AddMillis(int64(repeat * 1000)))
	}
	return Disarm()
}
