// Package actuation is the real-time actuation coordinator of the weeding robot.
//
// A single Store owns the robot state behind one mutex. The detection loop
// drives it through a Coordinator; the control surface (HTTP, MQTT) calls the
// Store's control operations. Every decision that reads and then writes state
// happens inside one critical section.
//
// Components:
//   - ResourceLedger (ledger.go): tank water accounting and the spray log
//   - CooldownGate (cooldown.go): auto-trigger spacing
//   - PumpController (pump.go): idle/spraying state machine
//   - MotorPauseController (motor.go): pause-for-spray with auto resume
//   - ActuationCoordinator (coordinator.go): per-cycle orchestration
package actuation

import (
	"encoding/json"
	"math"
	"time"

	"github.com/teslashibe/go-weedbot/pkg/persist"
)

// Clamp ranges for control values.
const (
	MinSpeed   = 0.0
	MaxSpeed   = 1.0
	StartSpeed = 0.2 // speed used by StartMotor

	MinDetectionDurationS = 0.1
	MaxDetectionDurationS = 5.0

	MinTestDurationS = 0.1
	MaxTestDurationS = 10.0

	MinCooldownS = 0.5
	MaxCooldownS = 30.0

	MinPauseOnDetectionS = 0.0
	MaxPauseOnDetectionS = 30.0

	MinSprayMl    = 0.1
	MinCapacityMl = 100.0

	// WaterLogCapacity bounds the in-memory spray log.
	WaterLogCapacity = 50
)

// logTimeLayout is the timestamp format of spray log entries.
const logTimeLayout = "2006-01-02 15:04:05"

// SprayKind distinguishes automatic sprays from operator test sprays.
type SprayKind string

const (
	SprayAuto SprayKind = "Auto"
	SprayTest SprayKind = "Test"
)

// PumpState is the pump controller state.
type PumpState int

const (
	PumpIdle PumpState = iota
	PumpSpraying
)

// String returns the state name.
func (p PumpState) String() string {
	switch p {
	case PumpIdle:
		return "idle"
	case PumpSpraying:
		return "spraying"
	default:
		return "unknown"
	}
}

// LogEntry is one pump activation in the spray log.
type LogEntry struct {
	ID        string
	Time      time.Time
	DurationS float64
	AmountMl  float64
	Kind      SprayKind
}

// MarshalJSON renders the entry in the control surface's wire shape.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string    `json:"id"`
		Time     string    `json:"time"`
		Duration float64   `json:"duration"`
		Amount   float64   `json:"amount"`
		Type     SprayKind `json:"type"`
	}{e.ID, e.Time.Format(logTimeLayout), e.DurationS, e.AmountMl, e.Kind})
}

// waterLog is a fixed-capacity FIFO ring; the oldest entry is evicted first.
type waterLog struct {
	buf   [WaterLogCapacity]LogEntry
	start int
	n     int
}

func (l *waterLog) append(e LogEntry) {
	if l.n < len(l.buf) {
		l.buf[(l.start+l.n)%len(l.buf)] = e
		l.n++
		return
	}
	l.buf[l.start] = e
	l.start = (l.start + 1) % len(l.buf)
}

// entries returns the log oldest first.
func (l *waterLog) entries() []LogEntry {
	out := make([]LogEntry, l.n)
	for i := 0; i < l.n; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

func (l *waterLog) clear() {
	*l = waterLog{}
}

// motorPause is present iff a pause is in effect. Keeping the saved speed and
// the deadline in one value means clearing one always clears the other.
type motorPause struct {
	prevSpeed float64
	until     time.Time
}

// robotState is the shared aggregate. Only Store methods touch it, under Store.mu.
type robotState struct {
	motorSpeed float64
	pause      *motorPause

	pump      PumpState
	pumpOffAt time.Time // zero iff pump is idle

	detectionDurationS float64
	lastDetection      time.Time
	cooldownS          float64
	pauseOnDetectionS  float64

	sprayMl    float64
	capacityMl float64
	levelMl    float64
	log        waterLog
	emptyNoted bool

	frame   []byte
	frameAt time.Time
}

func stateFromRecord(rec persist.Record) robotState {
	rec = sanitize(rec)
	return robotState{
		motorSpeed:         rec.MotorSpeed,
		detectionDurationS: rec.PumpDetectionDuration,
		cooldownS:          rec.DetectionCooldownS,
		pauseOnDetectionS:  rec.MotorPauseOnDetectionS,
		sprayMl:            rec.WaterPerSprayMl,
		capacityMl:         rec.WaterTankCapacityMl,
		levelMl:            rec.CurrentWaterLevelMl,
	}
}

// record returns the persisted view. Pause bookkeeping is transient: while a
// pause is active the operator's pre-pause speed is what gets stored.
func (st *robotState) record() persist.Record {
	speed := st.motorSpeed
	if st.pause != nil {
		speed = st.pause.prevSpeed
	}
	return persist.Record{
		MotorSpeed:             speed,
		PumpDetectionDuration:  st.detectionDurationS,
		WaterPerSprayMl:        st.sprayMl,
		WaterTankCapacityMl:    st.capacityMl,
		CurrentWaterLevelMl:    st.levelMl,
		DetectionCooldownS:     st.cooldownS,
		MotorPauseOnDetectionS: st.pauseOnDetectionS,
	}
}

// sanitize clamps every field into its range. Non-finite values fall back to
// the default for that field.
func sanitize(rec persist.Record) persist.Record {
	def := persist.Defaults()
	fix := func(v, fallback, lo, hi float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = fallback
		}
		return clamp(v, lo, hi)
	}
	rec.MotorSpeed = fix(rec.MotorSpeed, def.MotorSpeed, MinSpeed, MaxSpeed)
	rec.PumpDetectionDuration = fix(rec.PumpDetectionDuration, def.PumpDetectionDuration, MinDetectionDurationS, MaxDetectionDurationS)
	rec.DetectionCooldownS = fix(rec.DetectionCooldownS, def.DetectionCooldownS, MinCooldownS, MaxCooldownS)
	rec.MotorPauseOnDetectionS = fix(rec.MotorPauseOnDetectionS, def.MotorPauseOnDetectionS, MinPauseOnDetectionS, MaxPauseOnDetectionS)
	rec.WaterPerSprayMl = fix(rec.WaterPerSprayMl, def.WaterPerSprayMl, MinSprayMl, math.MaxFloat64)
	rec.WaterTankCapacityMl = fix(rec.WaterTankCapacityMl, def.WaterTankCapacityMl, MinCapacityMl, math.MaxFloat64)
	rec.CurrentWaterLevelMl = fix(rec.CurrentWaterLevelMl, rec.WaterTankCapacityMl, 0, rec.WaterTankCapacityMl)
	return rec
}

// clamp restricts v to the range [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// seconds converts a float number of seconds to a Duration.
func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
