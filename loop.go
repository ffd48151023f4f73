package timercore

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// maxWaitMs bounds a single blocking wait. A loop kept alive with no armed
// timer re-checks its exit condition at this cadence.
const maxWaitMs = 10_000

// Loop is a minimal run-to-completion event loop for the timer core. Each
// iteration fires any imminent runloop timer, drains the immediate queue,
// drains due timers, and then sleeps until the earliest deadline reported by
// [Scheduler.GetTimeout] or until woken.
//
// Loop implements [LoopBridge]: timers that keep the event loop alive ref it,
// and Run returns once the reference count reaches zero with nothing queued.
// Embedders with their own native loop do not need Loop at all — they
// implement LoopBridge and drive the scheduler directly.
type Loop struct {
	// Prevent copying
	_ [0]func()

	state *fastState

	// refs counts keep-alive holders: the scheduler's zero-transitions and
	// any explicit Ref/Unref pairs from the embedder.
	refs atomic.Int32

	wakePending     atomic.Uint32
	loopGoroutineID atomic.Uint64

	waiter loopWaiter

	stopOnce sync.Once
	loopDone chan struct{}
}

// NewLoop creates a loop and its platform wake mechanism.
func NewLoop() (*Loop, error) {
	l := &Loop{
		state:    newFastState(),
		loopDone: make(chan struct{}),
	}
	if err := l.waiter.init(); err != nil {
		return nil, err
	}
	return l, nil
}

// RefLoop implements [LoopBridge].
func (l *Loop) RefLoop() { l.refs.Add(1) }

// UnrefLoop implements [LoopBridge]. The wake-up lets a sleeping loop notice
// that its exit condition may now hold.
func (l *Loop) UnrefLoop() {
	l.refs.Add(-1)
	l.Wakeup()
}

// Ref keeps the loop alive independent of timers, like an open handle.
func (l *Loop) Ref() { l.RefLoop() }

// Unref releases a Ref.
func (l *Loop) Unref() { l.UnrefLoop() }

// UpdateDeadline implements [LoopBridge]. The loop recomputes its wait
// timeout every iteration, so a deadline change only needs to interrupt the
// current sleep.
func (l *Loop) UpdateDeadline(Time) { l.Wakeup() }

// Wakeup implements [LoopBridge]: interrupts the current (or next) wait.
// Deduplicated; safe from any goroutine.
func (l *Loop) Wakeup() {
	if l.state.Load() == StateTerminated {
		return
	}
	if l.wakePending.CompareAndSwap(0, 1) {
		if err := l.waiter.wake(); err != nil {
			// Expected while the wake mechanism is being torn down.
			l.wakePending.Store(0)
		}
	}
}

// State returns the current loop state.
func (l *Loop) State() LoopState { return l.state.Load() }

// Run drives the vm's scheduler until the loop has nothing keeping it
// alive, the context is cancelled, or Shutdown is called. Blocking;
// callbacks execute on the calling goroutine, which becomes the loop
// goroutine for the scheduler's thread-affinity contracts.
func (l *Loop) Run(ctx context.Context, vm *VM) error {
	if l.isLoopGoroutine() {
		return ErrReentrantRun
	}
	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	l.loopGoroutineID.Store(goroutineID())
	defer l.loopGoroutineID.Store(0)

	defer func() {
		l.state.Store(StateTerminated)
		l.waiter.close()
		close(l.loopDone)
	}()

	// Wake the loop when the context is cancelled so it can unwind.
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.Wakeup()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.state.Load() == StateTerminating {
			return nil
		}

		for vm.FireImminent() {
		}
		vm.DrainImmediates()
		vm.DrainTimers()

		if l.refs.Load() <= 0 && !vm.sched.HasPendingImmediates() {
			// Nothing keeps the loop alive. Unref'd timers may still be
			// armed; they are abandoned, matching host semantics.
			return nil
		}

		l.sleep(vm)
	}
}

// sleep blocks until the next deadline or a wake-up.
func (l *Loop) sleep(vm *VM) {
	timeoutMs := maxWaitMs
	if d, ok := vm.sched.GetTimeout(vm); ok {
		timeoutMs = durationToMs(d)
	} else if when, ok := vm.sched.NextDeadline(); ok {
		// Nothing in the store keeps the loop alive, but something else
		// does (an explicit Ref, a queued immediate racing in): cap the wait
		// so unref'd and generic timers still fire on time.
		timeoutMs = durationToMs(when.Sub(timeNow()))
	}

	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}
	// Work may have arrived between the drain and the transition; the wake
	// write is already in the mechanism in that case, making the wait
	// return immediately.
	_ = l.waiter.wait(timeoutMs)
	l.wakePending.Store(0)
	l.state.TryTransition(StateSleeping, StateRunning)
}

// durationToMs converts a wait duration to whole milliseconds, rounding a
// fractional remainder up so the loop never wakes before the deadline.
func durationToMs(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	if ms > maxWaitMs {
		return maxWaitMs
	}
	return int(ms)
}

// Shutdown requests termination and waits for the run loop to unwind, or
// for ctx to expire.
func (l *Loop) Shutdown(ctx context.Context) error {
	var err error
	l.stopOnce.Do(func() {
		for {
			current := l.state.Load()
			if current == StateTerminated {
				return
			}
			if current == StateAwake {
				if l.state.TryTransition(StateAwake, StateTerminated) {
					l.waiter.close()
					close(l.loopDone)
					return
				}
				continue
			}
			if current == StateTerminating {
				break
			}
			if l.state.TryTransition(current, StateTerminating) {
				l.Wakeup()
				break
			}
		}
		select {
		case <-l.loopDone:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// Done is closed once the run loop has fully stopped.
func (l *Loop) Done() <-chan struct{} { return l.loopDone }

func (l *Loop) isLoopGoroutine() bool {
	id := l.loopGoroutineID.Load()
	return id != 0 && id == goroutineID()
}

// goroutineID parses the current goroutine's id from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
