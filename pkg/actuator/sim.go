package actuator

import (
	"sync"
	"time"
)

// Command is one recorded actuator command.
type Command struct {
	At    time.Time
	Motor *float64 // set for motor commands
	Pump  *bool    // set for pump commands
}

// Sim is a simulated driver that records every command.
// It backs --sim runs and tests.
type Sim struct {
	mu       sync.Mutex
	motor    float64
	pump     bool
	commands []Command
	closed   bool

	// FailMotor / FailPump make the next commands return the given error.
	FailMotor error
	FailPump  error
}

// NewSim returns a simulated driver with both outputs off.
func NewSim() *Sim {
	return &Sim{}
}

// SetMotorDuty implements MotorDriver.
func (s *Sim) SetMotorDuty(duty float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.FailMotor != nil {
		return s.FailMotor
	}
	duty = clampDuty(duty)
	s.motor = duty
	s.commands = append(s.commands, Command{At: time.Now(), Motor: &duty})
	return nil
}

// SetPump implements PumpDriver.
func (s *Sim) SetPump(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.FailPump != nil {
		return s.FailPump
	}
	s.pump = on
	s.commands = append(s.commands, Command{At: time.Now(), Pump: &on})
	return nil
}

// Close halts the outputs and rejects further commands.
func (s *Sim) Close() error {
	err := Halt(s)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

// MotorDuty returns the last commanded motor duty.
func (s *Sim) MotorDuty() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motor
}

// PumpOn returns the last commanded pump state.
func (s *Sim) PumpOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pump
}

// PumpOnCount returns how many times the pump was switched on.
func (s *Sim) PumpOnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if c.Pump != nil && *c.Pump {
			n++
		}
	}
	return n
}

// Commands returns a copy of the recorded commands.
func (s *Sim) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}
