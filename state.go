package timercore

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
// State Machine:
//
//	StateAwake → StateRunning          [Run()]
//	StateRunning → StateSleeping       [wait via CAS]
//	StateSleeping → StateRunning       [wake via CAS]
//	StateRunning → StateTerminating    [Shutdown()]
//	StateSleeping → StateTerminating   [Shutdown()]
//	StateTerminating → StateTerminated [run exit]
//
// Temporary states (Running, Sleeping) transition only by CAS; Terminated is
// stored unconditionally once the run loop has unwound.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = iota
	// StateRunning indicates the loop is draining timers and immediates.
	StateRunning
	// StateSleeping indicates the loop is blocked waiting for a deadline or
	// a wake-up.
	StateSleeping
	// StateTerminating indicates shutdown has been requested but the run
	// loop has not unwound yet.
	StateTerminating
	// StateTerminated indicates the loop has fully stopped.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state cell with cache-line padding to keep the
// hot CAS word off shared lines.
type fastState struct {
	_ [64]byte
	v atomic.Uint64
	_ [56]byte
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

func (s *fastState) Load() LoopState { return LoopState(s.v.Load()) }

func (s *fastState) Store(state LoopState) { s.v.Store(uint64(state)) }

func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}
