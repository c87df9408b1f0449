// Package control maps operator commands onto actuation operations. The MQTT
// and websocket surfaces share it so both answer commands identically.
package control

import (
	"errors"

	"github.com/teslashibe/go-weedbot/pkg/actuation"
	"github.com/teslashibe/go-weedbot/pkg/protocol"
)

// Controller is the set of control operations a remote operator may invoke.
// *actuation.Store implements it.
type Controller interface {
	Status() actuation.Status
	SetSpeed(v float64) (float64, error)
	StartMotor() (float64, error)
	StopMotor() (float64, error)
	TestPump(durationS float64) (float64, error)
	SetDetectionDuration(v float64) (float64, error)
	SetCooldown(v float64) (float64, error)
	SetPauseOnDetection(v float64) (float64, error)
	SetWaterConfig(sprayMl, capacityMl *float64) (actuation.WaterConfig, error)
	ResetWaterLevel() float64
}

var _ Controller = (*actuation.Store)(nil)

// Error codes carried in acks and HTTP error bodies.
const (
	CodeInvalidInput   = "invalid_input"
	CodeTankEmpty      = "tank_empty"
	CodeUnknownCommand = "unknown_command"
	CodeInternal       = "internal"
)

// ErrUnknownCommand is returned for a command name Dispatch does not know.
var ErrUnknownCommand = errors.New("control: unknown command")

// ErrorCode classifies an error returned by a control operation.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, actuation.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, actuation.ErrTankEmpty):
		return CodeTankEmpty
	case errors.Is(err, ErrUnknownCommand):
		return CodeUnknownCommand
	default:
		return CodeInternal
	}
}

// Dispatch runs cmd against ctl and returns the ack to send back.
func Dispatch(ctl Controller, cmd protocol.CommandData) protocol.AckData {
	result, err := run(ctl, cmd)
	ack := protocol.AckData{ID: cmd.ID, Name: cmd.Name, OK: err == nil, Result: result}
	if err != nil {
		ack.Code = ErrorCode(err)
		ack.Error = err.Error()
		ack.Result = nil
	}
	return ack
}

func run(ctl Controller, cmd protocol.CommandData) (map[string]float64, error) {
	value := func(field string, set func(float64) (float64, error)) (map[string]float64, error) {
		if cmd.Value == nil {
			return nil, actuation.MissingField(field)
		}
		v, err := set(*cmd.Value)
		if err != nil {
			return nil, err
		}
		return map[string]float64{field: v}, nil
	}

	switch cmd.Name {
	case protocol.CmdSetSpeed:
		return value("speed", ctl.SetSpeed)
	case protocol.CmdStartMotor:
		v, err := ctl.StartMotor()
		return map[string]float64{"speed": v}, err
	case protocol.CmdStopMotor:
		v, err := ctl.StopMotor()
		return map[string]float64{"speed": v}, err
	case protocol.CmdTestPump:
		return value("duration", ctl.TestPump)
	case protocol.CmdSetDetectionDuration:
		return value("duration", ctl.SetDetectionDuration)
	case protocol.CmdSetCooldown:
		return value("cooldown", ctl.SetCooldown)
	case protocol.CmdSetPauseOnDetection:
		return value("seconds", ctl.SetPauseOnDetection)
	case protocol.CmdSetWaterConfig:
		wc, err := ctl.SetWaterConfig(cmd.SprayMl, cmd.CapacityMl)
		if err != nil {
			return nil, err
		}
		return map[string]float64{
			"water_per_spray_ml":     wc.SprayMl,
			"water_tank_capacity_ml": wc.CapacityMl,
			"current_water_level_ml": wc.LevelMl,
		}, nil
	case protocol.CmdResetWaterLevel:
		return map[string]float64{"current_water_level_ml": ctl.ResetWaterLevel()}, nil
	default:
		return nil, ErrUnknownCommand
	}
}
