package timercore

import (
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

// VM binds the timer core to a goja runtime: it owns the scheduler, the
// inspector, and the logger, and carries the script-runnability latch that
// gates callback dispatch during teardown.
//
// The goja runtime itself is single-threaded; every method that touches it
// must run on the loop goroutine. Scheduler methods reached through the VM
// are safe from any goroutine unless documented as loop goroutine only.
type VM struct {
	rt    *goja.Runtime
	sched *Scheduler

	inspector  Inspector
	log        *logiface.Logger[logiface.Event]
	onUncaught func(error)

	saturateTimeoutDelay bool

	// runnable gates dispatch: once cleared (e.g. the embedder is tearing
	// the script down), due timers are discarded instead of invoked.
	runnable atomic.Bool

	disposeSym *goja.Symbol
}

// NewVM creates a VM for the given runtime and native-loop bridge. With a nil
// bridge the keep-alive count is still maintained but its transitions reach
// no native loop, which is convenient for tests and for embedders that poll
// [Scheduler.GetTimeout] themselves.
func NewVM(rt *goja.Runtime, bridge LoopBridge, opts ...Option) (*VM, error) {
	cfg, err := resolveVMOptions(opts)
	if err != nil {
		return nil, err
	}
	vm := &VM{
		rt:                   rt,
		sched:                newScheduler(bridge, cfg.metrics),
		inspector:            cfg.inspector,
		log:                  cfg.logger,
		onUncaught:           cfg.onUncaughtException,
		saturateTimeoutDelay: cfg.saturateTimeoutDelay,
	}
	vm.runnable.Store(true)
	return vm, nil
}

// Runtime returns the underlying goja runtime.
func (vm *VM) Runtime() *goja.Runtime { return vm.rt }

// Scheduler returns the timer scheduler. Its exported methods are safe from
// any goroutine, except those documented as loop goroutine only (NextID,
// DrainTimers, DrainImmediates).
func (vm *VM) Scheduler() *Scheduler { return vm.sched }

// Runnable reports whether script execution is in a runnable state.
func (vm *VM) Runnable() bool { return vm.runnable.Load() }

// SetRunnable toggles the runnability latch. Clearing it makes every due
// timer cancel itself at dispatch instead of invoking its callback.
func (vm *VM) SetRunnable(v bool) { vm.runnable.Store(v) }

// DrainTimers fires every due timer. Loop goroutine only.
func (vm *VM) DrainTimers() { vm.sched.DrainTimers(vm) }

// DrainImmediates runs the queued immediate tasks. Loop goroutine only.
func (vm *VM) DrainImmediates() { vm.sched.DrainImmediates(vm) }

// FireImminent fires a published zero-delay runloop timer, if any. Loop fast
// path; loop goroutine only.
func (vm *VM) FireImminent() bool {
	w := vm.sched.takeImminent()
	if w == nil {
		return false
	}
	res := w.fireTimer(timeNow(), vm)
	if res.Rearm {
		vm.sched.Update(&w.timer, res.Next)
	}
	return true
}

// invokeTimerCallback runs a timer's JS callback, containing both thrown JS
// exceptions and Go panics. Uncaught exceptions are reported and swallowed:
// an interval whose callback throws still schedules its next tick.
func (vm *VM) invokeTimerCallback(ti *TimerObjectInternals) {
	cb := ti.callback
	if cb == nil {
		return
	}
	var this goja.Value = goja.Undefined()
	if ti.strongThis != nil {
		this = ti.strongThis
	}
	defer func() {
		if r := recover(); r != nil {
			vm.log.Err().
				Interface("panic", r).
				Int("timerId", int(ti.id)).
				Stringer("kind", ti.kind).
				Log("timer callback panicked")
		}
	}()
	if _, err := cb(this, ti.args...); err != nil {
		vm.log.Warning().
			Err(err).
			Int("timerId", int(ti.id)).
			Stringer("kind", ti.kind).
			Log("uncaught exception in timer callback")
		if vm.onUncaught != nil {
			vm.onUncaught(err)
		}
	}
}
