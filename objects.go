package timercore

// TimeoutObject owns a setTimeout or setInterval timer. It is a thin shell:
// the embedded node lives in the time-ordered store and the embedded
// internals carry all behavior.
type TimeoutObject struct {
	timer     EventLoopTimer
	internals TimerObjectInternals
}

// newTimeoutObject wires the intrusive node and the shared internals
// together. kind must be KindTimeout or KindInterval.
func newTimeoutObject(s *Scheduler, id int32, kind Kind, intervalMs int32) *TimeoutObject {
	o := &TimeoutObject{}
	o.timer.tag = TagTimeout
	o.timer.owner = &o.internals
	o.internals.sched = s
	o.internals.timer = &o.timer
	o.internals.id = id
	o.internals.kind = kind
	o.internals.intervalMs = intervalMs
	return o
}

// Internals exposes the shared timer state, for embedders that drive the
// core without the goja binding.
func (o *TimeoutObject) Internals() *TimerObjectInternals { return &o.internals }

// ImmediateObject owns a setImmediate task. Immediates are queued on the
// immediate task queue and never enter the time-ordered store; the embedded
// node exists so the shared internals see a uniform shape.
type ImmediateObject struct {
	timer     EventLoopTimer
	internals TimerObjectInternals
}

func newImmediateObject(s *Scheduler, id int32) *ImmediateObject {
	o := &ImmediateObject{}
	o.timer.tag = TagImmediate
	o.timer.owner = &o.internals
	o.internals.sched = s
	o.internals.timer = &o.timer
	o.internals.id = id
	o.internals.kind = KindImmediate
	return o
}

// Internals exposes the shared timer state.
func (o *ImmediateObject) Internals() *TimerObjectInternals { return &o.internals }
