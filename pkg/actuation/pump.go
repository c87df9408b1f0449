package actuation

import (
	"fmt"
	"time"
)

// startPumpLocked switches the pump on until now+durationS. A shorter duration
// replaces a longer pending one.
func (s *Store) startPumpLocked(now time.Time, durationS float64) {
	if err := s.driver.SetPump(true); err != nil {
		s.logger.Warn("pump on failed", "error", fmt.Errorf("%w: %v", ErrTransientIO, err))
	}
	s.st.pump = PumpSpraying
	s.st.pumpOffAt = now.Add(seconds(durationS))
}

// stopPumpIfDueLocked switches the pump off once its deadline has passed. If
// the driver refuses, the pump stays marked spraying and the next call retries.
func (s *Store) stopPumpIfDueLocked(now time.Time) bool {
	st := &s.st
	if st.pump != PumpSpraying || !now.After(st.pumpOffAt) {
		return false
	}
	if err := s.driver.SetPump(false); err != nil {
		s.logger.Warn("pump off failed", "error", fmt.Errorf("%w: %v", ErrTransientIO, err))
		return false
	}
	st.pump = PumpIdle
	st.pumpOffAt = time.Time{}
	return true
}

// autoSprayLocked runs the detection-triggered spray decision: cooldown, then
// busy, then water. On success it logs, starts the pump, stamps the detection
// and pauses the motor.
func (s *Store) autoSprayLocked(now time.Time, fx *effects) bool {
	st := &s.st
	if !CooldownAllowed(now, st.lastDetection, seconds(st.cooldownS)) {
		fx.refuse(RefusalCooldown)
		return false
	}
	if st.pump == PumpSpraying && !now.After(st.pumpOffAt) {
		fx.refuse(RefusalBusy)
		return false
	}
	if !s.tryConsumeLocked(st.sprayMl) {
		fx.refuse(RefusalTankEmpty)
		return false
	}

	fx.spray(s.logSprayLocked(now, SprayAuto, st.detectionDurationS, st.sprayMl))
	s.startPumpLocked(now, st.detectionDurationS)
	st.lastDetection = now
	if st.pauseOnDetectionS > 0 {
		s.pauseForLocked(now, seconds(st.pauseOnDetectionS))
	}
	s.logger.Debug("auto spray",
		"duration_s", st.detectionDurationS,
		"amount_ml", st.sprayMl,
		"level_ml", st.levelMl)
	return true
}

// TestPump runs the pump for durationS seconds, clamped to [0.1, 10], and
// returns the clamped duration. It is operator initiated: it ignores cooldown
// and a running spray, and does not pause the motor. Returns ErrTankEmpty if
// the tank cannot cover one spray amount.
func (s *Store) TestPump(durationS float64) (float64, error) {
	if !finite(durationS) {
		return 0, &InputError{Field: "duration", Value: durationS}
	}
	durationS = clamp(durationS, MinTestDurationS, MaxTestDurationS)
	err := s.do(func(fx *effects) error {
		st := &s.st
		now := s.clock()
		if !s.tryConsumeLocked(st.sprayMl) {
			fx.refuse(RefusalTankEmpty)
			return ErrTankEmpty
		}
		fx.spray(s.logSprayLocked(now, SprayTest, durationS, st.sprayMl))
		s.startPumpLocked(now, durationS)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("test spray", "duration_s", durationS)
	return durationS, nil
}
