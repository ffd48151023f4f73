package timercore

// TimerState tracks a timer through its lifecycle.
//
// State Machine:
//
//	TimerPending (0) → TimerActive        [first insert]
//	TimerActive → TimerActive             [update: remove + reinsert]
//	TimerActive → TimerCancelled          [clear before firing]
//	TimerActive → TimerFired              [drained]
//	TimerFired → TimerActive              [interval rearm, or refresh() from
//	                                       within the callback]
//	TimerFired → TimerCancelled           [clear from within the callback]
//
// A timer is present in exactly one store bucket iff its state is
// TimerActive; Cancelled and Fired are terminal with respect to bucket
// membership.
type TimerState uint8

const (
	// TimerPending indicates the timer has been created but never inserted.
	TimerPending TimerState = iota
	// TimerActive indicates the timer is in the store awaiting its deadline.
	TimerActive
	// TimerCancelled indicates the timer was removed without firing.
	TimerCancelled
	// TimerFired indicates the timer's callback has been (or is being) invoked.
	TimerFired
)

// String returns a human-readable representation of the state.
func (s TimerState) String() string {
	switch s {
	case TimerPending:
		return "Pending"
	case TimerActive:
		return "Active"
	case TimerCancelled:
		return "Cancelled"
	case TimerFired:
		return "Fired"
	default:
		return "Unknown"
	}
}

// TimerTag discriminates which subsystem owns an [EventLoopTimer]. Firing
// dispatches through a switch on the tag: the scheduler knows the complete
// set of timer-producing subsystems, so no virtual dispatch is needed. New
// subsystems extend the enumeration and add a dispatch arm in
// [EventLoopTimer.fire].
type TimerTag uint8

const (
	// TagTimeout marks timers owned by a [TimeoutObject] (setTimeout and
	// setInterval).
	TagTimeout TimerTag = iota
	// TagImmediate marks timers owned by an [ImmediateObject]. Immediates
	// live on the immediate queue, not the time-ordered store; the tag exists
	// so that shared internals can distinguish them.
	TagImmediate
	// TagWTF marks host-runloop timers ([WTFTimer]). The pre-wait timeout
	// query fires due TagWTF heads inline.
	TagWTF
	// TagGeneric marks timers owned by a [GenericTimer], the facility used by
	// non-JS subsystems.
	TagGeneric
)

// String returns a human-readable representation of the tag.
func (t TimerTag) String() string {
	switch t {
	case TagTimeout:
		return "Timeout"
	case TagImmediate:
		return "Immediate"
	case TagWTF:
		return "WTF"
	case TagGeneric:
		return "Generic"
	default:
		return "Unknown"
	}
}

// FireAction is the result of dispatching a timer: either disarm (the zero
// value) or rearm at a new instant.
type FireAction struct {
	Next  Time
	Rearm bool
}

// Disarm reports that the timer should not be rescheduled by the drain loop.
func Disarm() FireAction { return FireAction{} }

// RearmAt reports that the timer should be reinserted with the given
// deadline.
func RearmAt(next Time) FireAction { return FireAction{Next: next, Rearm: true} }

// EventLoopTimer is the generic scheduled-timer record: its deadline, state,
// and the tag identifying the owning subsystem. It is embedded by value in
// each concrete owner; the store links nodes intrusively and never owns them.
//
// An EventLoopTimer must never be in state TimerActive when its owner is
// destroyed.
type EventLoopTimer struct {
	when  Time
	state TimerState
	tag   TimerTag

	// Intrusive bucket list linkage. Guarded by the scheduler mutex.
	prev, next *EventLoopTimer

	// owner is the back-reference used by tag dispatch. For TagTimeout and
	// TagImmediate it is a *TimerObjectInternals, for TagWTF a *WTFTimer,
	// for TagGeneric a *GenericTimer.
	owner any
}

// State returns the timer's current lifecycle state.
func (t *EventLoopTimer) State() TimerState { return t.state }

// When returns the timer's deadline. Meaningful only while TimerActive.
func (t *EventLoopTimer) When() Time { return t.when }

// Tag returns the owning-subsystem discriminator.
func (t *EventLoopTimer) Tag() TimerTag { return t.tag }

// fire dispatches to the owner's type-specific handler. Runs on the loop
// goroutine with no scheduler lock held.
func (t *EventLoopTimer) fire(now Time, vm *VM) FireAction {
	switch t.tag {
	case TagTimeout, TagImmediate:
		return t.owner.(*TimerObjectInternals).fireTimer(now, vm)
	case TagWTF:
		return t.owner.(*WTFTimer).fireTimer(now, vm)
	case TagGeneric:
		return t.owner.(*GenericTimer).fireTimer(now, vm)
	default:
		return Disarm()
	}
}
