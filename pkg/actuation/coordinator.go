package actuation

import "time"

// TickResult reports what one control cycle did.
type TickResult struct {
	Sprayed      bool
	Refusal      RefusalReason // set when a detection did not spray
	PumpStopped  bool
	MotorResumed bool
}

// Coordinator drives the Store once per control cycle.
type Coordinator struct {
	store *Store
}

// NewCoordinator returns a coordinator over s.
func NewCoordinator(s *Store) *Coordinator {
	return &Coordinator{store: s}
}

// Tick runs one control cycle at now. A detection goes through the auto spray
// path; the stop and resume checks run every cycle regardless.
func (c *Coordinator) Tick(now time.Time, detected bool) TickResult {
	return c.tick(func() time.Time { return now }, detected)
}

// Step is Tick with the time read from the store's clock once the lock is
// held, so waiting for the lock does not eat into a new spray's duration.
func (c *Coordinator) Step(detected bool) TickResult {
	return c.tick(c.store.clock, detected)
}

// Maintain runs only the time-based checks. It is called on its own cadence
// so a stalled detection loop cannot leave the pump on or the motor paused.
func (c *Coordinator) Maintain(now time.Time) TickResult {
	return c.Tick(now, false)
}

// Service is Maintain on the store's clock.
func (c *Coordinator) Service() TickResult {
	return c.Step(false)
}

func (c *Coordinator) tick(clock func() time.Time, detected bool) TickResult {
	var res TickResult
	s := c.store
	_ = s.do(func(fx *effects) error {
		now := clock()
		if detected {
			res.Sprayed = s.autoSprayLocked(now, fx)
			if !res.Sprayed && len(fx.refusals) > 0 {
				res.Refusal = fx.refusals[len(fx.refusals)-1]
			}
		}
		res.PumpStopped = s.stopPumpIfDueLocked(now)
		res.MotorResumed = s.maybeResumeLocked(now)
		return nil
	})
	return res
}
