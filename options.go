// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package timercore

import (
	"github.com/joeycumines/logiface"
)

// vmOptions holds configuration options for VM creation.
type vmOptions struct {
	logger               *logiface.Logger[logiface.Event]
	inspector            Inspector
	metrics              *Collector
	onUncaughtException  func(error)
	saturateTimeoutDelay bool
}

// Option configures a [VM] instance.
type Option interface {
	applyVM(*vmOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyVMFunc func(*vmOptions) error
}

func (o *optionImpl) applyVM(opts *vmOptions) error {
	return o.applyVMFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger disables logging;
// logiface treats a nil *Logger as a no-op, so the field is used without
// guards.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *vmOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithInspector attaches an async-call inspector. The default discards all
// notifications.
func WithInspector(inspector Inspector) Option {
	return &optionImpl{func(opts *vmOptions) error {
		opts.inspector = inspector
		return nil
	}}
}

// WithMetrics attaches a Prometheus collector created by [NewCollector].
func WithMetrics(c *Collector) Option {
	return &optionImpl{func(opts *vmOptions) error {
		opts.metrics = c
		return nil
	}}
}

// WithUncaughtExceptionHandler configures a handler invoked when a timer
// callback throws and nothing in JS caught it. Without a handler the
// exception is logged and swallowed; for intervals the next tick is still
// scheduled either way.
func WithUncaughtExceptionHandler(fn func(error)) Option {
	return &optionImpl{func(opts *vmOptions) error {
		opts.onUncaughtException = fn
		return nil
	}}
}

// WithSaturatingTimeoutDelay controls how setTimeout treats delays that are
// non-finite or overflow int32. By default such delays collapse to 1 ms;
// when saturating, positive overflow clamps to the maximum int32
// milliseconds instead. setInterval always uses the 1 ms fallback.
func WithSaturatingTimeoutDelay(enabled bool) Option {
	return &optionImpl{func(opts *vmOptions) error {
		opts.saturateTimeoutDelay = enabled
		return nil
	}}
}

// resolveVMOptions applies Option instances to vmOptions.
func resolveVMOptions(opts []Option) (*vmOptions, error) {
	cfg := &vmOptions{
		inspector: noopInspector{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyVM(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
