// Package protocol defines the JSON envelopes the robot exchanges with
// operator clients over WebSocket and MQTT.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Robot → operator messages
	TypeStatus MessageType = "status" // Status snapshot
	TypeSpray  MessageType = "spray"  // Committed spray
	TypeFrame  MessageType = "frame"  // Annotated camera frame
	TypeAck    MessageType = "ack"    // Command result

	// Operator → robot messages
	TypeCommand MessageType = "command" // Control operation

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Robot → Operator Message Types
// =============================================================================

// StatusData is the control surface's status shape.
type StatusData struct {
	MotorSpeed             float64        `json:"motor_speed"`
	PumpDetectionDuration  float64        `json:"pump_detection_duration"`
	WaterPerSprayMl        float64        `json:"water_per_spray_ml"`
	WaterTankCapacityMl    float64        `json:"water_tank_capacity_ml"`
	CurrentWaterLevelMl    float64        `json:"current_water_level_ml"`
	DetectionCooldownS     float64        `json:"detection_cooldown_s"`
	WaterLog               []LogEntryData `json:"water_log"`
	MotorPauseOnDetectionS float64        `json:"motor_pause_on_detection_s"`
	PumpActive             bool           `json:"pump_active"`
	MotorPaused            bool           `json:"motor_paused"`
	WaterStatus            string         `json:"water_status"` // "OK", "LOW", "EMPTY"
}

// LogEntryData is one spray log row.
type LogEntryData struct {
	ID       string  `json:"id,omitempty"`
	Time     string  `json:"time"` // "2006-01-02 15:04:05", local time
	Duration float64 `json:"duration"`
	Amount   float64 `json:"amount"`
	Type     string  `json:"type"` // "Auto" or "Test"
}

// SprayData announces a committed spray.
type SprayData struct {
	ID         string  `json:"id"`
	At         int64   `json:"at"` // Unix milliseconds
	Kind       string  `json:"kind"`
	DurationS  float64 `json:"duration_s"`
	AmountMl   float64 `json:"amount_ml"`
	LevelMl    float64 `json:"level_ml"`
	CapacityMl float64 `json:"capacity_ml"`
}

// FrameData contains an encoded camera frame
type FrameData struct {
	Format  string `json:"format"` // "jpeg"
	Data    string `json:"data"`   // base64 encoded
	FrameID uint64 `json:"frame_id,omitempty"`
}

// AckData answers a CommandData.
type AckData struct {
	ID     string             `json:"id,omitempty"`
	Name   string             `json:"name"`
	OK     bool               `json:"ok"`
	Code   string             `json:"code,omitempty"` // "invalid_input", "tank_empty", "unknown_command"
	Error  string             `json:"error,omitempty"`
	Result map[string]float64 `json:"result,omitempty"`
}

// =============================================================================
// Operator → Robot Message Types
// =============================================================================

// Command names accepted in CommandData.Name.
const (
	CmdSetSpeed             = "set_speed"
	CmdStartMotor           = "start_motor"
	CmdStopMotor            = "stop_motor"
	CmdTestPump             = "test_pump"
	CmdSetDetectionDuration = "set_detection_duration"
	CmdSetCooldown          = "set_cooldown"
	CmdSetWaterConfig       = "set_water_config"
	CmdResetWaterLevel      = "reset_water_level"
	CmdSetPauseOnDetection  = "set_pause_on_detection"
)

// CommandData invokes one control operation.
type CommandData struct {
	ID         string   `json:"id,omitempty"` // echoed in the ack
	Name       string   `json:"name"`
	Value      *float64 `json:"value,omitempty"`
	SprayMl    *float64 `json:"water_per_spray_ml,omitempty"`    // set_water_config only
	CapacityMl *float64 `json:"water_tank_capacity_ml,omitempty"` // set_water_config only
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
