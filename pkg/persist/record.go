// Package persist stores the actuation configuration record.
//
// The record is a flat set of key/value pairs. Backends: a JSON file on the
// robot's SD card (FileStore) or a Redis hash (RedisStore). A Watcher picks up
// hand edits of the JSON file while the process runs.
package persist

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Load when no record has been persisted yet.
var ErrNotFound = errors.New("persist: record not found")

// Record is the persisted configuration. JSON keys are the on-disk format.
type Record struct {
	MotorSpeed             float64 `json:"motor_speed"`
	PumpDetectionDuration  float64 `json:"pump_detection_duration"`
	WaterPerSprayMl        float64 `json:"water_per_spray_ml"`
	WaterTankCapacityMl    float64 `json:"water_tank_capacity_ml"`
	CurrentWaterLevelMl    float64 `json:"current_water_level_ml"`
	DetectionCooldownS     float64 `json:"detection_cooldown_s"`
	MotorPauseOnDetectionS float64 `json:"motor_pause_on_detection_s"`
}

// Defaults returns the factory configuration.
func Defaults() Record {
	return Record{
		MotorSpeed:             0.2,
		PumpDetectionDuration:  0.2,
		WaterPerSprayMl:        10.0,
		WaterTankCapacityMl:    200.0,
		CurrentWaterLevelMl:    200.0,
		DetectionCooldownS:     1.0,
		MotorPauseOnDetectionS: 1.0,
	}
}

// Store loads and saves the record.
type Store interface {
	// Load returns the persisted record. Keys missing from storage keep
	// their Defaults value. Returns ErrNotFound when nothing is stored.
	Load(ctx context.Context) (Record, error)

	// Save replaces the persisted record.
	Save(ctx context.Context, rec Record) error
}

// Memory is an in-process Store, used by tests and --sim runs without disk.
type Memory struct {
	mu    sync.Mutex
	rec   *Record
	saves int
	err   error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load implements Store.
func (m *Memory) Load(_ context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Record{}, m.err
	}
	if m.rec == nil {
		return Record{}, ErrNotFound
	}
	return *m.rec, nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &rec
	m.saves++
	return nil
}

// SetLoadError makes subsequent Load calls fail with err.
func (m *Memory) SetLoadError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Saves returns how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Last returns the last saved record and whether there is one.
func (m *Memory) Last() (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return Record{}, false
	}
	return *m.rec, true
}
