// Package timercore implements the timer scheduling core of a JavaScript
// runtime's event loop: setTimeout, setInterval, setImmediate, their clear/ref/
// unref/refresh companions, and a generic internal timer facility for non-JS
// subsystems (resolver timeouts, connection pools, watcher debounce, runloop
// timers).
//
// # Architecture
//
// The core is a [Scheduler] that owns a millisecond-bucketed, time-ordered
// store of [EventLoopTimer] nodes. Each node carries a closed-world tag that
// identifies its owning subsystem; firing dispatches through a switch on the
// tag rather than through a virtual call. JS-visible timers are thin owner
// objects ([TimeoutObject], [ImmediateObject]) sharing a [TimerObjectInternals]
// that manages reference-counted lifetime, the strong handle to the JS wrapper,
// keep-alive accounting, and inspector notifications.
//
// A [VM] binds the scheduler to a goja runtime, installing the timer globals
// and the per-timer wrapper methods (ref, unref, refresh, hasRef, _destroyed,
// Symbol.toPrimitive, Symbol.dispose).
//
// [WTFTimer] is a lower-level host-runloop timer with an atomic "imminent"
// pointer: a zero-delay update publishes the timer for lock-free inline firing
// on the loop's fast path, bypassing the store entirely.
//
// # Execution Model
//
// A single loop goroutine drains timers; all callbacks execute there. Other
// goroutines may insert, update, or remove timers; the scheduler mutex is a
// leaf lock and is never held across a callback. Within one drain cycle wall
// time is sampled at most once, so timers due at the same sampled instant fire
// back to back in insertion order.
//
// Immediates live on a separate FIFO drained before the time-ordered store
// each iteration. setTimeout with a zero delay and no extra arguments is
// rewritten to an immediate.
//
// # Keep-Alive
//
// Each JS timer may or may not prevent the loop from exiting, toggled via
// ref/unref. The scheduler counts keep-alive contributors; transitions through
// zero ref/unref the native loop through a [LoopBridge]. An unref'd timer
// still fires if the loop is kept waiting by something else.
//
// # Platform Support
//
// The bundled [Loop] wakes via eventfd on Linux, a self-pipe on macOS, and a
// channel on Windows. Embedders with their own native loop implement
// [LoopBridge] and drive [Scheduler.GetTimeout] / [Scheduler.DrainTimers]
// themselves.
package timercore
