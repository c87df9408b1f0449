package actuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-weedbot/internal/log"
	"github.com/teslashibe/go-weedbot/pkg/actuator"
	"github.com/teslashibe/go-weedbot/pkg/persist"
)

// persistTimeout bounds a single Save.
const persistTimeout = 2 * time.Second

// Store is the shared robot state. All reads and read-modify-write sequences
// go through its mutex. Saves and observer notifications happen after it is
// released, so a slow persister never delays the pump stop check.
type Store struct {
	mu  sync.Mutex
	st  robotState
	seq uint64 // snapshots taken for saving, guarded by mu

	saveMu sync.Mutex
	saved  uint64 // newest snapshot handed to the persister, guarded by saveMu

	driver    actuator.Driver
	persister persist.Store
	logger    *slog.Logger
	clock     func() time.Time
	newID     func() string

	obsMu     sync.RWMutex
	observers []Observer
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used by control operations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithObserver registers an observer at construction time.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

// WithIDGenerator overrides the spray log entry ID source.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// Open loads the persisted record and brings the actuators to a safe state.
//
// A missing record starts from defaults; an unreadable one is logged and
// replaced by defaults. Loaded values are clamped into range. The motor always
// starts stopped and the pump off, and the resulting record is persisted.
// Open fails only if the actuators refuse the initial safe-state commands.
func Open(ctx context.Context, p persist.Store, d actuator.Driver, opts ...Option) (*Store, error) {
	s := &Store{
		driver:    d,
		persister: p,
		logger:    log.Component("actuation"),
		clock:     time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	rec, err := p.Load(ctx)
	switch {
	case errors.Is(err, persist.ErrNotFound):
		s.logger.Info("no saved configuration, using defaults")
		rec = persist.Defaults()
	case err != nil:
		s.logger.Warn("configuration unreadable, resetting to defaults", "error", err)
		rec = persist.Defaults()
	}

	s.st = stateFromRecord(rec)
	s.st.motorSpeed = 0

	if err := d.SetMotorDuty(0); err != nil {
		return nil, fmt.Errorf("%w: stop motor: %v", ErrFatalInit, err)
	}
	if err := d.SetPump(false); err != nil {
		return nil, fmt.Errorf("%w: stop pump: %v", ErrFatalInit, err)
	}

	s.mu.Lock()
	snap, seq := s.snapshotLocked()
	s.mu.Unlock()
	s.save(snap, seq)

	s.logger.Info("actuation state ready",
		"level_ml", s.st.levelMl,
		"capacity_ml", s.st.capacityMl,
		"spray_ml", s.st.sprayMl,
		"cooldown_s", s.st.cooldownS)
	return s, nil
}

// AddObserver registers an observer for spray outcomes.
func (s *Store) AddObserver(o Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

// do runs fn inside the critical section. If fn asked for it, the record is
// snapshotted under the lock and saved after the lock is released; the
// collected events are dispatched last.
func (s *Store) do(fn func(fx *effects) error) error {
	var (
		fx   effects
		snap persist.Record
		seq  uint64
	)
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		err := fn(&fx)
		if fx.persist {
			snap, seq = s.snapshotLocked()
		}
		return err
	}()
	if seq != 0 {
		s.save(snap, seq)
	}
	s.dispatch(&fx)
	return err
}

func (s *Store) dispatch(fx *effects) {
	if len(fx.sprays) == 0 && len(fx.refusals) == 0 {
		return
	}
	s.obsMu.RLock()
	obs := s.observers
	s.obsMu.RUnlock()
	for _, o := range obs {
		for _, ev := range fx.sprays {
			o.OnSpray(ev)
		}
		for _, r := range fx.refusals {
			o.OnRefusal(r)
		}
	}
}

func (s *Store) snapshotLocked() (persist.Record, uint64) {
	s.seq++
	return s.st.record(), s.seq
}

// save writes the snapshot numbered seq unless a newer one already went out.
// Saves are serialized. Failures are logged, never fatal.
func (s *Store) save(rec persist.Record, seq uint64) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if seq <= s.saved {
		return
	}
	s.saved = seq
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persister.Save(ctx, rec); err != nil {
		s.logger.Warn("persist failed", "error", fmt.Errorf("%w: %v", ErrTransientIO, err))
	}
}

// Record returns the record as it would be persisted now.
func (s *Store) Record() persist.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.record()
}

// Status is a consistent snapshot of the robot state.
type Status struct {
	MotorSpeed             float64    `json:"motor_speed"`
	PumpDetectionDuration  float64    `json:"pump_detection_duration"`
	WaterPerSprayMl        float64    `json:"water_per_spray_ml"`
	WaterTankCapacityMl    float64    `json:"water_tank_capacity_ml"`
	CurrentWaterLevelMl    float64    `json:"current_water_level_ml"`
	DetectionCooldownS     float64    `json:"detection_cooldown_s"`
	WaterLog               []LogEntry `json:"water_log"`
	MotorPauseOnDetectionS float64    `json:"motor_pause_on_detection_s"`
	PumpActive             bool       `json:"pump_active"`
	MotorPaused            bool       `json:"motor_paused"`
	WaterStatus            string     `json:"water_status"`

	Pump             PumpState `json:"-"`
	PumpOffAt        time.Time `json:"-"`
	MotorPausedUntil time.Time `json:"-"`
	MotorPrevSpeed   float64   `json:"-"` // meaningful only while MotorPaused
	LastDetection    time.Time `json:"-"`
}

// Water status labels.
const (
	WaterOK    = "OK"
	WaterLow   = "LOW"
	WaterEmpty = "EMPTY"
)

// Status returns a snapshot taken under the lock.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.st
	out := Status{
		MotorSpeed:             st.motorSpeed,
		PumpDetectionDuration:  st.detectionDurationS,
		WaterPerSprayMl:        st.sprayMl,
		WaterTankCapacityMl:    st.capacityMl,
		CurrentWaterLevelMl:    st.levelMl,
		DetectionCooldownS:     st.cooldownS,
		WaterLog:               st.log.entries(),
		MotorPauseOnDetectionS: st.pauseOnDetectionS,
		PumpActive:             st.pump == PumpSpraying,
		MotorPaused:            st.pause != nil,
		WaterStatus:            waterStatus(st.levelMl, st.capacityMl),
		Pump:                   st.pump,
		PumpOffAt:              st.pumpOffAt,
		LastDetection:          st.lastDetection,
	}
	if st.pause != nil {
		out.MotorPausedUntil = st.pause.until
		out.MotorPrevSpeed = st.pause.prevSpeed
	}
	return out
}

func waterStatus(level, capacity float64) string {
	if capacity <= 0 {
		return WaterEmpty
	}
	pct := level / capacity * 100
	switch {
	case pct > 20:
		return WaterOK
	case pct > 0:
		return WaterLow
	default:
		return WaterEmpty
	}
}

// SetFrame publishes the latest encoded camera frame.
func (s *Store) SetFrame(jpeg []byte, at time.Time) {
	s.mu.Lock()
	s.st.frame = jpeg
	s.st.frameAt = at
	s.mu.Unlock()
}

// LatestFrame returns the most recent frame, or nil before the first one.
// The returned slice must not be modified.
func (s *Store) LatestFrame() ([]byte, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.frame, s.st.frameAt
}

// SetDetectionDuration sets the auto-spray pump duration, clamped to [0.1, 5] s.
func (s *Store) SetDetectionDuration(v float64) (float64, error) {
	if !finite(v) {
		return 0, &InputError{Field: "duration", Value: v}
	}
	v = clamp(v, MinDetectionDurationS, MaxDetectionDurationS)
	return v, s.do(func(fx *effects) error {
		s.st.detectionDurationS = v
		fx.persist = true
		return nil
	})
}

// SetCooldown sets the minimum spacing of auto sprays, clamped to [0.5, 30] s.
func (s *Store) SetCooldown(v float64) (float64, error) {
	if !finite(v) {
		return 0, &InputError{Field: "cooldown", Value: v}
	}
	v = clamp(v, MinCooldownS, MaxCooldownS)
	return v, s.do(func(fx *effects) error {
		s.st.cooldownS = v
		fx.persist = true
		return nil
	})
}

// SetPauseOnDetection sets how long the motor stops after an auto spray,
// clamped to [0, 30] s. Zero disables the pause.
func (s *Store) SetPauseOnDetection(v float64) (float64, error) {
	if !finite(v) {
		return 0, &InputError{Field: "pause", Value: v}
	}
	v = clamp(v, MinPauseOnDetectionS, MaxPauseOnDetectionS)
	return v, s.do(func(fx *effects) error {
		s.st.pauseOnDetectionS = v
		fx.persist = true
		return nil
	})
}

// ApplyExternal merges a record edited outside the process. Motor speed is
// ignored since the motor always starts stopped. It persists and returns true
// only when something changed.
func (s *Store) ApplyExternal(rec persist.Record) bool {
	rec = sanitize(rec)
	var changed bool
	_ = s.do(func(fx *effects) error {
		st := &s.st
		if rec.PumpDetectionDuration != st.detectionDurationS ||
			rec.WaterPerSprayMl != st.sprayMl ||
			rec.WaterTankCapacityMl != st.capacityMl ||
			rec.CurrentWaterLevelMl != st.levelMl ||
			rec.DetectionCooldownS != st.cooldownS ||
			rec.MotorPauseOnDetectionS != st.pauseOnDetectionS {
			changed = true
		}
		if !changed {
			return nil
		}
		st.detectionDurationS = rec.PumpDetectionDuration
		st.sprayMl = rec.WaterPerSprayMl
		st.capacityMl = rec.WaterTankCapacityMl
		st.levelMl = rec.CurrentWaterLevelMl
		st.cooldownS = rec.DetectionCooldownS
		st.pauseOnDetectionS = rec.MotorPauseOnDetectionS
		if st.levelMl > 0 {
			st.emptyNoted = false
		}
		fx.persist = true
		return nil
	})
	if changed {
		s.logger.Info("applied external configuration change",
			"level_ml", rec.CurrentWaterLevelMl,
			"capacity_ml", rec.WaterTankCapacityMl)
	}
	return changed
}
