package actuator

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// GPIOConfig names the BCM pins of the motor and pump H-bridge channels.
type GPIOConfig struct {
	MotorPWMPin string
	MotorDirPin string
	PumpPWMPin  string
	PumpDirPin  string

	// PumpDuty is the constant power applied to the pump while spraying.
	PumpDuty float64

	// FrequencyHz is the PWM carrier frequency.
	FrequencyHz int
}

// DefaultGPIOConfig matches the reference wiring on a Raspberry Pi.
func DefaultGPIOConfig() GPIOConfig {
	return GPIOConfig{
		MotorPWMPin: "GPIO13",
		MotorDirPin: "GPIO27",
		PumpPWMPin:  "GPIO12",
		PumpDirPin:  "GPIO24",
		PumpDuty:    0.5,
		FrequencyHz: 1000,
	}
}

// GPIO drives the actuators through periph.io.
type GPIO struct {
	mu       sync.Mutex
	motorPWM gpio.PinIO
	motorDir gpio.PinIO
	pumpPWM  gpio.PinIO
	pumpDir  gpio.PinIO
	pumpDuty float64
	freq     physic.Frequency
	closed   bool
}

// NewGPIO initializes the host drivers, resolves the pins and puts both
// outputs in a safe state (motor forward at 0 duty, pump off).
func NewGPIO(cfg GPIOConfig) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	pin := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio pin %q not found", name)
		}
		return p, nil
	}

	g := &GPIO{
		pumpDuty: clampDuty(cfg.PumpDuty),
		freq:     physic.Frequency(cfg.FrequencyHz) * physic.Hertz,
	}
	var err error
	if g.motorPWM, err = pin(cfg.MotorPWMPin); err != nil {
		return nil, err
	}
	if g.motorDir, err = pin(cfg.MotorDirPin); err != nil {
		return nil, err
	}
	if g.pumpPWM, err = pin(cfg.PumpPWMPin); err != nil {
		return nil, err
	}
	if g.pumpDir, err = pin(cfg.PumpDirPin); err != nil {
		return nil, err
	}

	if err := g.motorDir.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("motor direction: %w", err)
	}
	if err := g.SetMotorDuty(0); err != nil {
		return nil, err
	}
	if err := g.SetPump(false); err != nil {
		return nil, err
	}
	return g, nil
}

// SetMotorDuty implements MotorDriver.
func (g *GPIO) SetMotorDuty(duty float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	return g.pwm(g.motorPWM, clampDuty(duty))
}

// SetPump implements PumpDriver.
func (g *GPIO) SetPump(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if on {
		if err := g.pumpDir.Out(gpio.High); err != nil {
			return fmt.Errorf("pump direction: %w", err)
		}
		return g.pwm(g.pumpPWM, g.pumpDuty)
	}
	if err := g.pwm(g.pumpPWM, 0); err != nil {
		return err
	}
	return g.pumpDir.Out(gpio.Low)
}

// pwm writes a duty cycle; 0 drives the pin low instead of a 0% waveform.
func (g *GPIO) pwm(p gpio.PinIO, duty float64) error {
	if duty <= 0 {
		if err := p.Out(gpio.Low); err != nil {
			return fmt.Errorf("%s low: %w", p.Name(), err)
		}
		return nil
	}
	d := gpio.Duty(duty * float64(gpio.DutyMax))
	if err := p.PWM(d, g.freq); err != nil {
		return fmt.Errorf("%s pwm: %w", p.Name(), err)
	}
	return nil
}

// Close halts both outputs and releases the driver.
func (g *GPIO) Close() error {
	err := Halt(g)
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return err
}
