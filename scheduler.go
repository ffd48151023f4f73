// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package timercore

import (
	"sync"
	"sync/atomic"
	"time"
)

// LoopBridge is the surface the scheduler needs from the native event loop.
//
// RefLoop and UnrefLoop adjust whether the loop is allowed to exit; the
// scheduler calls them exactly on keep-alive transitions through zero.
// UpdateDeadline is invoked after an insert or update with the timer's new
// deadline so a sleeping loop can shorten its wait; platforms that recompute
// the wait timeout every iteration only need to wake. Wakeup is invoked when
// work arrives that is not deadline-driven (immediates, imminent runloop
// timers).
//
// All methods must be safe to call from any goroutine.
type LoopBridge interface {
	RefLoop()
	UnrefLoop()
	UpdateDeadline(when Time)
	Wakeup()
}

type noopBridge struct{}

func (noopBridge) RefLoop()            {}
func (noopBridge) UnrefLoop()          {}
func (noopBridge) UpdateDeadline(Time) {}
func (noopBridge) Wakeup()             {}

// idMapShrinkSlack bounds the memory retained by an ID map after churn:
// once the gap between the high-water entry count and the live count exceeds
// this many bytes the map is rebuilt. Rebuilding on a slack threshold rather
// than per-remove keeps clear* cheap.
const idMapShrinkSlack = 256 << 10

// idMapEntrySize approximates the per-entry footprint of an id map for the
// shrink policy.
const idMapEntrySize = 48

// Scheduler is the thread-safe mediator between timer producers (on any
// goroutine) and the loop-goroutine-only dispatch. It owns the time-ordered
// store, the wrapping id counter, the keep-alive count, the kind-keyed
// id maps, and the immediate queue.
//
// Locking discipline: mu is a leaf lock guarding the store, the id maps, and
// the keep-alive count. No callback, finalizer, or bridge method runs while
// it is held.
type Scheduler struct {
	mu    sync.Mutex
	store timerStore

	// lastID is read and advanced on the loop goroutine only; NextID is not
	// part of the cross-thread surface. Documented contract rather than a
	// lock, mirroring the host runtime.
	lastID int32

	// activeTimerCount is the number of JS timers currently contributing to
	// keep-alive, not the size of the store: unref'd timers still fire but
	// do not keep the loop alive. Mutated under mu so that GC finalizers
	// (which run off the loop goroutine) can disengage keep-alive safely.
	activeTimerCount int32

	// Lazily populated id → internals bindings, one map per JS-visible kind.
	// An entry exists only for timers that were coerced to a primitive.
	byID          [numKinds]map[int32]*TimerObjectInternals
	byIDHighWater [numKinds]int

	immediatesMu sync.Mutex
	immediates   []*TimerObjectInternals

	// imminent publishes a zero-delay WTFTimer for lock-free inline firing
	// on the loop's fast path.
	imminent atomic.Pointer[WTFTimer]

	bridge  LoopBridge
	metrics *Collector
}

func newScheduler(bridge LoopBridge, metrics *Collector) *Scheduler {
	if bridge == nil {
		bridge = noopBridge{}
	}
	return &Scheduler{bridge: bridge, metrics: metrics}
}

// Insert schedules t at its current deadline and marks it active.
func (s *Scheduler) Insert(t *EventLoopTimer) {
	s.mu.Lock()
	s.store.insert(t)
	t.state = TimerActive
	s.mu.Unlock()
	s.bridge.UpdateDeadline(t.when)
}

// Remove unschedules t and marks it cancelled. Safe to call for a timer that
// is not in the store; the store treats a missing bucket as a no-op.
func (s *Scheduler) Remove(t *EventLoopTimer) {
	s.mu.Lock()
	s.store.remove(t)
	t.state = TimerCancelled
	s.mu.Unlock()
}

// Update reschedules t at when: if currently active it is removed first,
// then reinserted with the new deadline. The deadline is taken by value,
// which structurally rules out the aliasing hazard of updating a timer from
// a pointer into its own deadline field.
func (s *Scheduler) Update(t *EventLoopTimer, when Time) {
	s.mu.Lock()
	if t.state == TimerActive {
		s.store.remove(t)
	}
	t.when = when
	t.state = TimerActive
	s.store.insert(t)
	s.mu.Unlock()
	s.bridge.UpdateDeadline(when)
}

// NextID allocates the next timer id. Ids start at 1, increase
// monotonically, and wrap around the int32 range skipping values below 1.
// Loop goroutine only.
func (s *Scheduler) NextID() int32 {
	s.lastID++
	if s.lastID < 1 {
		s.lastID = 1
	}
	return s.lastID
}

// incrementTimerRef adjusts the keep-alive count. Transitions from zero ref
// the native loop; transitions to zero unref it. The count must never go
// negative: the keep-alive latch on each timer is idempotent precisely so
// that this invariant holds.
func (s *Scheduler) incrementTimerRef(delta int32) {
	s.mu.Lock()
	was := s.activeTimerCount
	s.activeTimerCount += delta
	now := s.activeTimerCount
	if now < 0 {
		s.mu.Unlock()
		panic("timercore: active timer count went negative")
	}
	s.mu.Unlock()
	s.metrics.setKeepAlive(now)
	if was == 0 && now > 0 {
		s.bridge.RefLoop()
	} else if was > 0 && now == 0 {
		s.bridge.UnrefLoop()
	}
}

// ActiveTimerCount returns the number of timers currently keeping the loop
// alive.
func (s *Scheduler) ActiveTimerCount() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTimerCount
}

// GetTimeout computes how long the native loop may wait before the earliest
// timer is due. It reports false when no blocking wait on timers is
// warranted: either nothing in the store keeps the loop alive
// (activeTimerCount is zero) or the store is empty.
//
// A due head with TagWTF is popped and fired in place before the query
// continues. Firing the runloop timer from the pre-wait query is a localized
// hack carried over from the host runtime: it keeps GC-driven runloop timers
// from starving when many near-due timers are queued.
//
// Time is sampled lazily, at most once, and only when a head exists.
func (s *Scheduler) GetTimeout(vm *VM) (time.Duration, bool) {
	var now Time
	sampled := false
	s.mu.Lock()
	for {
		if s.activeTimerCount == 0 {
			s.mu.Unlock()
			return 0, false
		}
		t := s.store.peek()
		if t == nil {
			s.mu.Unlock()
			return 0, false
		}
		if !sampled {
			now = timeNow()
			sampled = true
		}
		if t.when.After(now) {
			d := t.when.Sub(now)
			s.mu.Unlock()
			return d, true
		}
		if t.tag == TagWTF {
			s.store.popMin()
			s.mu.Unlock()
			res := t.fire(now, vm)
			if res.Rearm {
				s.Update(t, res.Next)
			}
			s.mu.Lock()
			continue
		}
		s.mu.Unlock()
		return 0, true
	}
}

// NextDeadline reports the earliest deadline in the store, regardless of
// keep-alive. Loops that are held open by other handles use it to avoid
// oversleeping unref'd and generic timers after GetTimeout declines a
// timer-driven wait.
func (s *Scheduler) NextDeadline() (Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.store.peek()
	if t == nil {
		return Time{}, false
	}
	return t.when, true
}

// DrainTimers pops and fires every due timer. Loop goroutine only.
//
// Wall time is sampled at most once per drain cycle: every timer popped in
// the same cycle observes the same now, including a rearm deadline returned
// by its fire handler. Callbacks run with no lock held and may freely
// schedule or cancel timers.
func (s *Scheduler) DrainTimers(vm *VM) {
	var now Time
	sampled := false
	start := time.Now()
	fired := 0
	for {
		s.mu.Lock()
		t := s.store.peek()
		if t == nil {
			s.mu.Unlock()
			break
		}
		if !sampled {
			now = timeNow()
			sampled = true
		}
		if t.when.After(now) {
			s.mu.Unlock()
			break
		}
		s.store.popMin()
		s.mu.Unlock()

		res := t.fire(now, vm)
		fired++
		if res.Rearm {
			s.Update(t, res.Next)
		}
	}
	if fired > 0 {
		s.metrics.observeDrain(time.Since(start), fired)
	}
}

// enqueueImmediate appends ti to the immediate task queue.
func (s *Scheduler) enqueueImmediate(ti *TimerObjectInternals) {
	s.immediatesMu.Lock()
	s.immediates = append(s.immediates, ti)
	s.immediatesMu.Unlock()
	s.bridge.Wakeup()
}

// DrainImmediates runs the immediate tasks queued before this call.
// Immediates enqueued by an immediate callback run on the next iteration.
// Loop goroutine only.
func (s *Scheduler) DrainImmediates(vm *VM) {
	s.immediatesMu.Lock()
	batch := s.immediates
	s.immediates = nil
	s.immediatesMu.Unlock()
	for _, ti := range batch {
		ti.runImmediateTask(vm)
	}
}

// HasPendingImmediates reports whether immediate tasks are queued.
func (s *Scheduler) HasPendingImmediates() bool {
	s.immediatesMu.Lock()
	defer s.immediatesMu.Unlock()
	return len(s.immediates) > 0
}

// takeImminent atomically claims the published imminent runloop timer, if
// any. Loop fast path.
func (s *Scheduler) takeImminent() *WTFTimer {
	return s.imminent.Swap(nil)
}

// registerID binds id → ti in the kind's map. Called on first primitive
// coercion; timers that are never coerced never pay for a map insertion.
func (s *Scheduler) registerID(k Kind, id int32, ti *TimerObjectInternals) {
	s.mu.Lock()
	if s.byID[k] == nil {
		s.byID[k] = make(map[int32]*TimerObjectInternals)
	}
	s.byID[k][id] = ti
	if n := len(s.byID[k]); n > s.byIDHighWater[k] {
		s.byIDHighWater[k] = n
	}
	s.mu.Unlock()
}

// unregisterID removes the binding and rebuilds the map once the retained
// slack exceeds idMapShrinkSlack, bounding amortized memory without a rehash
// per remove.
func (s *Scheduler) unregisterID(k Kind, id int32) {
	s.mu.Lock()
	m := s.byID[k]
	if m == nil {
		s.mu.Unlock()
		return
	}
	delete(m, id)
	if (s.byIDHighWater[k]-len(m))*idMapEntrySize > idMapShrinkSlack {
		fresh := make(map[int32]*TimerObjectInternals, len(m))
		for id, ti := range m {
			fresh[id] = ti
		}
		s.byID[k] = fresh
		s.byIDHighWater[k] = len(fresh)
	}
	s.mu.Unlock()
}

// lookupJS resolves a numeric id for clearTimeout/clearInterval: the timeout
// map first, then the interval map. Either API clears either kind, matching
// the host.
func (s *Scheduler) lookupJS(id int32) *TimerObjectInternals {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ti := s.byID[KindTimeout][id]; ti != nil {
		return ti
	}
	return s.byID[KindInterval][id]
}

// lookupImmediate resolves a numeric id for clearImmediate. Only the
// immediate map is consulted: a timeout or interval id is never cleared by
// clearImmediate, nor the reverse.
func (s *Scheduler) lookupImmediate(id int32) *TimerObjectInternals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[KindImmediate][id]
}
