// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package timercore

import (
	"math"
	"runtime"

	"github.com/dop251/goja"
)

// internalSym is the hidden wrapper property carrying the back-reference
// from a JS timer object to its native internals.
var internalSym = goja.NewSymbol("timercore.internals")

// Bind installs the timer globals in the runtime's global scope:
//
//   - setTimeout(callback, delay?, ...args) → Timeout
//   - setInterval(callback, delay?, ...args) → Timeout
//   - setImmediate(callback, ...args) → Immediate
//   - clearTimeout(timer | id | canonical string id)
//   - clearInterval(timer | id | canonical string id)
//   - clearImmediate(immediate | id | canonical string id)
//
// Timer objects expose ref(), unref(), refresh() (timeouts and intervals
// only), hasRef(), _destroyed, Symbol.toPrimitive (the numeric id), and
// Symbol.dispose (equivalent to the matching clear call). If the engine does
// not provide Symbol.dispose it is polyfilled onto the Symbol constructor.
//
// Must be called on the loop goroutine before any script uses the timer
// APIs.
func (vm *VM) Bind() error {
	vm.resolveDisposeSymbol()
	if err := vm.rt.Set("setTimeout", vm.jsSetTimeout); err != nil {
		return err
	}
	if err := vm.rt.Set("setInterval", vm.jsSetInterval); err != nil {
		return err
	}
	if err := vm.rt.Set("setImmediate", vm.jsSetImmediate); err != nil {
		return err
	}
	if err := vm.rt.Set("clearTimeout", vm.jsClearTimeout); err != nil {
		return err
	}
	if err := vm.rt.Set("clearInterval", vm.jsClearInterval); err != nil {
		return err
	}
	return vm.rt.Set("clearImmediate", vm.jsClearImmediate)
}

// resolveDisposeSymbol finds Symbol.dispose, polyfilling it when the engine
// predates explicit resource management.
func (vm *VM) resolveDisposeSymbol() {
	symCtor, _ := vm.rt.Get("Symbol").(*goja.Object)
	if symCtor != nil {
		if s, ok := symCtor.Get("dispose").(*goja.Symbol); ok {
			vm.disposeSym = s
			return
		}
	}
	vm.disposeSym = goja.NewSymbol("Symbol.dispose")
	if symCtor != nil {
		_ = symCtor.Set("dispose", vm.disposeSym)
	}
}

// coerceDelay applies the host's delay coercion: ToNumber, then non-finite
// or int32-overflowing values collapse to 1 ms (or saturate to INT32_MAX for
// positive overflow when the saturating option is on — never for
// intervals), then values below 1 clamp to 1. The zero result is reported
// separately so setTimeout can reroute the bare zero-delay form to an
// immediate before clamping.
func (vm *VM) coerceDelay(v goja.Value, interval bool) (ms int32, zero bool) {
	d := float64(0)
	if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		d = v.ToFloat()
	}
	if d != d || math.IsInf(d, 0) || d > float64(maxInt32) || d < float64(math.MinInt32) {
		if !interval && vm.saturateTimeoutDelay && d > 0 {
			return maxInt32, false
		}
		return 1, false
	}
	n := int32(d)
	if n == 0 && !interval {
		return 0, true
	}
	if n < 1 {
		n = 1
	}
	return n, false
}

// callbackArgs snapshots the extra arguments passed after the delay. The
// FunctionCall arguments slice belongs to goja's stack and must not be
// retained past the call.
func callbackArgs(call goja.FunctionCall, from int) []goja.Value {
	if len(call.Arguments) <= from {
		return nil
	}
	args := make([]goja.Value, len(call.Arguments)-from)
	copy(args, call.Arguments[from:])
	return args
}

func (vm *VM) jsSetTimeout(call goja.FunctionCall) goja.Value {
	cb, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(vm.rt.NewTypeError("setTimeout requires a function as first argument"))
	}
	ms, zero := vm.coerceDelay(call.Argument(1), false)
	if zero && len(call.Arguments) <= 2 {
		// The bare zero-delay form runs on the immediate queue instead of
		// paying for a store insertion that would be due at once anyway.
		return vm.newImmediate(cb, nil)
	}
	if ms < 1 {
		ms = 1
	}
	return vm.newTimeout(KindTimeout, ms, cb, callbackArgs(call, 2))
}

func (vm *VM) jsSetInterval(call goja.FunctionCall) goja.Value {
	cb, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(vm.rt.NewTypeError("setInterval requires a function as first argument"))
	}
	ms, _ := vm.coerceDelay(call.Argument(1), true)
	return vm.newTimeout(KindInterval, ms, cb, callbackArgs(call, 2))
}

func (vm *VM) jsSetImmediate(call goja.FunctionCall) goja.Value {
	cb, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(vm.rt.NewTypeError("setImmediate requires a function as first argument"))
	}
	return vm.newImmediate(cb, callbackArgs(call, 1))
}

// newTimeout constructs the owner object and its JS wrapper and arms the
// timer.
func (vm *VM) newTimeout(kind Kind, ms int32, cb goja.Callable, args []goja.Value) goja.Value {
	o := newTimeoutObject(vm.sched, vm.sched.NextID(), kind, ms)
	wrapper := vm.newTimerWrapper(&o.internals, true)
	o.internals.set(vm, wrapper, cb, args)
	return wrapper
}

func (vm *VM) newImmediate(cb goja.Callable, args []goja.Value) goja.Value {
	o := newImmediateObject(vm.sched, vm.sched.NextID())
	wrapper := vm.newTimerWrapper(&o.internals, false)
	o.internals.set(vm, wrapper, cb, args)
	return wrapper
}

// newTimerWrapper builds the JS-visible object for a timer. The wrapper's
// finalizer releases the reference owned by the JS side, so a timer whose
// wrapper is collected (and whose strong handle was already dropped) frees
// its native state without any explicit clear.
func (vm *VM) newTimerWrapper(ti *TimerObjectInternals, refreshable bool) *goja.Object {
	rt := vm.rt
	wrapper := rt.NewObject()

	self := func(call goja.FunctionCall) goja.Value {
		if this, ok := call.This.(*goja.Object); ok {
			return this
		}
		return goja.Undefined()
	}

	_ = wrapper.Set("ref", func(call goja.FunctionCall) goja.Value {
		ti.setJSRef(true)
		return self(call)
	})
	_ = wrapper.Set("unref", func(call goja.FunctionCall) goja.Value {
		ti.setJSRef(false)
		return self(call)
	})
	_ = wrapper.Set("hasRef", func(goja.FunctionCall) goja.Value {
		return rt.ToValue(ti.hasRef())
	})
	if refreshable {
		_ = wrapper.Set("refresh", func(call goja.FunctionCall) goja.Value {
			ti.reschedule(vm)
			return self(call)
		})
	}

	_ = wrapper.DefineAccessorProperty("_destroyed",
		rt.ToValue(func(goja.FunctionCall) goja.Value {
			return rt.ToValue(ti.destroyed())
		}),
		goja.Undefined(), goja.FLAG_FALSE, goja.FLAG_FALSE)

	_ = wrapper.SetSymbol(goja.SymToPrimitive, func(goja.FunctionCall) goja.Value {
		return rt.ToValue(int64(ti.primitiveValue()))
	})
	_ = wrapper.SetSymbol(vm.disposeSym, func(goja.FunctionCall) goja.Value {
		ti.cancel(vm)
		return goja.Undefined()
	})
	_ = wrapper.SetSymbol(internalSym, rt.ToValue(ti))

	runtime.SetFinalizer(wrapper, func(*goja.Object) { ti.finalize() })
	return wrapper
}

func (vm *VM) jsClearTimeout(call goja.FunctionCall) goja.Value {
	vm.clearJSTimer(call.Argument(0))
	return goja.Undefined()
}

func (vm *VM) jsClearInterval(call goja.FunctionCall) goja.Value {
	vm.clearJSTimer(call.Argument(0))
	return goja.Undefined()
}

func (vm *VM) jsClearImmediate(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if ti := vm.timerFromWrapper(arg); ti != nil {
		if ti.kind == KindImmediate {
			ti.cancel(vm)
		}
		return goja.Undefined()
	}
	if id, ok := vm.timerIDFromValue(arg); ok {
		if ti := vm.sched.lookupImmediate(id); ti != nil {
			ti.cancel(vm)
		}
	}
	return goja.Undefined()
}

// clearJSTimer implements clearTimeout and clearInterval, which share
// lookup semantics: either clears either kind, and neither clears an
// immediate. Unknown ids, double clears, and malformed string ids are
// silent no-ops.
func (vm *VM) clearJSTimer(arg goja.Value) {
	if ti := vm.timerFromWrapper(arg); ti != nil {
		if ti.kind != KindImmediate {
			ti.cancel(vm)
		}
		return
	}
	if id, ok := vm.timerIDFromValue(arg); ok {
		if ti := vm.sched.lookupJS(id); ti != nil {
			ti.cancel(vm)
		}
	}
}

// timerFromWrapper recovers the internals from a wrapper object argument.
func (vm *VM) timerFromWrapper(arg goja.Value) *TimerObjectInternals {
	obj, ok := arg.(*goja.Object)
	if !ok {
		return nil
	}
	v := obj.GetSymbol(internalSym)
	if v == nil {
		return nil
	}
	ti, _ := v.Export().(*TimerObjectInternals)
	return ti
}

// timerIDFromValue resolves a numeric or canonical-decimal-string id.
func (vm *VM) timerIDFromValue(arg goja.Value) (int32, bool) {
	switch v := arg.Export().(type) {
	case string:
		return parseCanonicalTimerID(v)
	case int64:
		if v >= 1 && v <= int64(maxInt32) {
			return int32(v), true
		}
	case float64:
		if v == math.Trunc(v) && v >= 1 && v <= float64(maxInt32) {
			return int32(v), true
		}
	}
	return 0, false
}
