package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/teslashibe/go-weedbot/pkg/actuation"
)

// actuationLoop runs perceive, publish frame, tick until ctx is done. A failed
// or panicking cycle is logged and followed by the error backoff.
func (a *App) actuationLoop(ctx context.Context) {
	a.logger.Info("actuation loop started")
	defer a.logger.Info("actuation loop stopped")

	for ctx.Err() == nil {
		delay := a.settings.CycleSleep
		if err := a.safeCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			a.logger.Warn("detection cycle failed, backing off", "error", err, "backoff", a.settings.ErrorBackoff)
			delay = a.settings.ErrorBackoff
		}
		if !sleep(ctx, delay) {
			return
		}
	}
}

func (a *App) safeCycle(ctx context.Context) error {
	return a.guard("detection cycle", func() error { return a.cycle(ctx) })
}

// guard runs fn and turns a panic into an error, so a bad driver or
// persister call cannot kill the process before Shutdown halts the actuators.
func (a *App) guard(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic in "+what, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in %s: %v", what, r)
		}
	}()
	return fn()
}

// cycle runs one detection cycle.
func (a *App) cycle(ctx context.Context) error {
	start := time.Now()
	p, err := a.perceiver.Perceive(ctx)
	if err != nil {
		a.metrics.ObserveCycle(time.Since(start), false, err)
		return fmt.Errorf("%w: %w", actuation.ErrTransientIO, err)
	}

	if len(p.JPEG) > 0 {
		at := p.At
		if at.IsZero() {
			at = a.now()
		}
		a.store.SetFrame(p.JPEG, at)
		a.web.BroadcastFrame(p.JPEG)
	}

	res := a.coord.Step(p.Detected)
	a.metrics.ObserveCycle(time.Since(start), p.Detected, nil)
	if res.Sprayed {
		a.logger.Info("weed sprayed", "count", p.Count)
	}
	return nil
}

// maintenanceLoop stops the pump and resumes the motor on time even while the
// detection cycle is blocked on the camera.
func (a *App) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(a.settings.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.maintain(); err != nil {
				a.logger.Warn("maintenance check failed", "error", err)
			}
		}
	}
}

func (a *App) maintain() error {
	return a.guard("maintenance check", func() error {
		a.coord.Service()
		return nil
	})
}

// sleep waits d or until ctx is done. It reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
