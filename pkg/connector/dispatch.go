// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// dispatcher runs event handlers in their own goroutines. A panic in one
// handler is recovered and logged without affecting any other handler or the
// loop that dispatched it. Errors returned by handlers are storage failures
// and are passed to onFatal.
type dispatcher struct {
	log     zerolog.Logger
	onFatal func(error)
	wg      sync.WaitGroup
}

func newDispatcher(log zerolog.Logger, onFatal func(error)) *dispatcher {
	return &dispatcher{log: log, onFatal: onFatal}
}

// Go starts fn in a new goroutine and returns immediately.
func (d *dispatcher) Go(name string, fn func() error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(name, fn)
	}()
}

func (d *dispatcher) run(name string, fn func() error) {
	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = fn()
	})
	if recovered := pc.Recovered(); recovered != nil {
		d.log.Error().
			Str("handler", name).
			Any("panic", recovered.Value).
			Bytes("stack", recovered.Stack).
			Msg("Event handler panicked")
		return
	}
	if err != nil {
		d.log.Err(err).Str("handler", name).Msg("Event handler failed")
		if d.onFatal != nil {
			d.onFatal(err)
		}
	}
}

// Wait blocks until all started handlers have returned.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}
