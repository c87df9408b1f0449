package actuation

import "time"

// tryConsumeLocked subtracts amount if the tank holds at least that much.
// The level is never driven negative.
func (s *Store) tryConsumeLocked(amount float64) bool {
	st := &s.st
	if st.levelMl < amount {
		if !st.emptyNoted {
			st.emptyNoted = true
			s.logger.Warn("tank empty", "level_ml", st.levelMl, "needed_ml", amount)
		}
		return false
	}
	st.levelMl -= amount
	return true
}

// logSprayLocked appends a spray to the log and returns the event for observers.
func (s *Store) logSprayLocked(now time.Time, kind SprayKind, durationS, amount float64) SprayEvent {
	e := LogEntry{
		ID:        s.newID(),
		Time:      now,
		DurationS: durationS,
		AmountMl:  amount,
		Kind:      kind,
	}
	s.st.log.append(e)
	return SprayEvent{Entry: e, LevelMl: s.st.levelMl, CapacityMl: s.st.capacityMl}
}

// TryConsume atomically removes amount from the tank. It returns false and
// changes nothing if the tank holds less than amount.
func (s *Store) TryConsume(amount float64) (bool, error) {
	if !finite(amount) || amount < 0 {
		return false, &InputError{Field: "amount", Value: amount}
	}
	var ok bool
	err := s.do(func(fx *effects) error {
		ok = s.tryConsumeLocked(amount)
		fx.persist = ok
		return nil
	})
	return ok, err
}

// ResetWaterLevel refills the tank to capacity and clears the spray log.
func (s *Store) ResetWaterLevel() float64 {
	var level float64
	_ = s.do(func(fx *effects) error {
		s.st.levelMl = s.st.capacityMl
		s.st.log.clear()
		s.st.emptyNoted = false
		level = s.st.levelMl
		fx.persist = true
		return nil
	})
	s.logger.Info("water level reset", "level_ml", level)
	return level
}

// WaterConfig is the result of SetWaterConfig.
type WaterConfig struct {
	SprayMl    float64
	CapacityMl float64
	LevelMl    float64
}

// SetWaterConfig updates the per-spray amount and/or the tank capacity. Nil
// fields are left unchanged. Spray is clamped to at least 0.1 ml and capacity
// to at least 100 ml; a smaller capacity clamps the current level down to it.
// A capacity change re-arms the tank-empty warning.
func (s *Store) SetWaterConfig(sprayMl, capacityMl *float64) (WaterConfig, error) {
	if sprayMl != nil && !finite(*sprayMl) {
		return WaterConfig{}, &InputError{Field: "water_per_spray", Value: *sprayMl}
	}
	if capacityMl != nil && !finite(*capacityMl) {
		return WaterConfig{}, &InputError{Field: "tank_capacity", Value: *capacityMl}
	}
	var out WaterConfig
	err := s.do(func(fx *effects) error {
		st := &s.st
		if sprayMl != nil {
			st.sprayMl = max(*sprayMl, MinSprayMl)
		}
		if capacityMl != nil {
			st.capacityMl = max(*capacityMl, MinCapacityMl)
			if st.levelMl > st.capacityMl {
				st.levelMl = st.capacityMl
			}
			st.emptyNoted = false
		}
		out = WaterConfig{SprayMl: st.sprayMl, CapacityMl: st.capacityMl, LevelMl: st.levelMl}
		fx.persist = true
		return nil
	})
	return out, err
}
