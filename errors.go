package timercore

import "errors"

// Standard errors.
var (
	// ErrTimerNotFound is returned by the generic timer facility when an
	// operation references a timer that is not scheduled.
	ErrTimerNotFound = errors.New("timercore: timer not found")

	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that
	// is already running.
	ErrLoopAlreadyRunning = errors.New("timercore: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a
	// terminated loop.
	ErrLoopTerminated = errors.New("timercore: loop has been terminated")

	// ErrReentrantRun is returned when Run() is called from within the loop
	// itself.
	ErrReentrantRun = errors.New("timercore: cannot call Run() from within the loop")
)
