package actuation

import (
	"fmt"
	"time"
)

func (s *Store) commandMotorLocked(speed float64) {
	if err := s.driver.SetMotorDuty(speed); err != nil {
		s.logger.Warn("motor command failed", "speed", speed, "error", fmt.Errorf("%w: %v", ErrTransientIO, err))
	}
}

// pauseForLocked stops the motor for at least d from now. The speed to restore
// is captured only when no pause is already active; overlapping pauses extend
// the deadline and never shorten it.
func (s *Store) pauseForLocked(now time.Time, d time.Duration) {
	st := &s.st
	if st.pause == nil {
		st.pause = &motorPause{prevSpeed: st.motorSpeed}
	}
	st.motorSpeed = 0
	s.commandMotorLocked(0)
	if until := now.Add(d); until.After(st.pause.until) {
		st.pause.until = until
	}
}

// maybeResumeLocked ends an expired pause. The saved speed is restored only if
// nobody changed the speed meanwhile (it is still 0).
func (s *Store) maybeResumeLocked(now time.Time) bool {
	st := &s.st
	if st.pause == nil || !now.After(st.pause.until) {
		return false
	}
	prev := st.pause.prevSpeed
	st.pause = nil
	if st.motorSpeed != 0 {
		return false
	}
	st.motorSpeed = prev
	s.commandMotorLocked(prev)
	s.logger.Debug("motor resumed", "speed", prev)
	return true
}

// PauseFor stops the motor for durationS seconds from now.
func (s *Store) PauseFor(now time.Time, durationS float64) error {
	if !finite(durationS) || durationS < 0 {
		return &InputError{Field: "pause", Value: durationS}
	}
	return s.do(func(*effects) error {
		s.pauseForLocked(now, seconds(durationS))
		return nil
	})
}

// MaybeResume ends the pause if it expired before now. It reports whether the
// saved speed was restored.
func (s *Store) MaybeResume(now time.Time) bool {
	var resumed bool
	_ = s.do(func(*effects) error {
		resumed = s.maybeResumeLocked(now)
		return nil
	})
	return resumed
}

// SetSpeed sets the motor speed, clamped to [0, 1], and cancels any pause.
// It returns the applied speed.
func (s *Store) SetSpeed(v float64) (float64, error) {
	if !finite(v) {
		return 0, &InputError{Field: "speed", Value: v}
	}
	v = clamp(v, MinSpeed, MaxSpeed)
	err := s.do(func(fx *effects) error {
		s.st.motorSpeed = v
		s.st.pause = nil
		s.commandMotorLocked(v)
		fx.persist = true
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("motor speed set", "speed", v)
	return v, nil
}

// StartMotor sets the speed to StartSpeed.
func (s *Store) StartMotor() (float64, error) {
	return s.SetSpeed(StartSpeed)
}

// StopMotor sets the speed to 0.
func (s *Store) StopMotor() (float64, error) {
	return s.SetSpeed(0)
}
