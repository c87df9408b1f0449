package protocol

import (
	"encoding/base64"

	"github.com/teslashibe/go-weedbot/pkg/actuation"
)

const logTimeLayout = "2006-01-02 15:04:05"

// =============================================================================
// Conversions from actuation state
// =============================================================================

// StatusFromActuation converts a state snapshot to its wire shape.
func StatusFromActuation(st actuation.Status) StatusData {
	log := make([]LogEntryData, len(st.WaterLog))
	for i, e := range st.WaterLog {
		log[i] = LogEntryFromActuation(e)
	}
	return StatusData{
		MotorSpeed:             st.MotorSpeed,
		PumpDetectionDuration:  st.PumpDetectionDuration,
		WaterPerSprayMl:        st.WaterPerSprayMl,
		WaterTankCapacityMl:    st.WaterTankCapacityMl,
		CurrentWaterLevelMl:    st.CurrentWaterLevelMl,
		DetectionCooldownS:     st.DetectionCooldownS,
		WaterLog:               log,
		MotorPauseOnDetectionS: st.MotorPauseOnDetectionS,
		PumpActive:             st.PumpActive,
		MotorPaused:            st.MotorPaused,
		WaterStatus:            st.WaterStatus,
	}
}

// LogEntryFromActuation converts one spray log entry.
func LogEntryFromActuation(e actuation.LogEntry) LogEntryData {
	return LogEntryData{
		ID:       e.ID,
		Time:     e.Time.Format(logTimeLayout),
		Duration: e.DurationS,
		Amount:   e.AmountMl,
		Type:     string(e.Kind),
	}
}

// SprayFromEvent converts a spray event.
func SprayFromEvent(ev actuation.SprayEvent) SprayData {
	return SprayData{
		ID:         ev.Entry.ID,
		At:         ev.Entry.Time.UnixMilli(),
		Kind:       string(ev.Entry.Kind),
		DurationS:  ev.Entry.DurationS,
		AmountMl:   ev.Entry.AmountMl,
		LevelMl:    ev.LevelMl,
		CapacityMl: ev.CapacityMl,
	}
}

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewStatusMessage creates a status message
func NewStatusMessage(st actuation.Status) (*Message, error) {
	return NewMessage(TypeStatus, StatusFromActuation(st))
}

// NewSprayMessage creates a spray event message
func NewSprayMessage(ev actuation.SprayEvent) (*Message, error) {
	return NewMessage(TypeSpray, SprayFromEvent(ev))
}

// NewFrameMessage creates a frame message from raw JPEG data
func NewFrameMessage(jpegData []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Format:  "jpeg",
		Data:    base64.StdEncoding.EncodeToString(jpegData),
		FrameID: frameID,
	})
}

// NewCommandMessage creates a command message
func NewCommandMessage(cmd CommandData) (*Message, error) {
	return NewMessage(TypeCommand, cmd)
}

// NewAckMessage creates a command acknowledgement
func NewAckMessage(ack AckData) (*Message, error) {
	return NewMessage(TypeAck, ack)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: 0, // Will be set by NewMessage
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetStatusData extracts status data from a message
func (m *Message) GetStatusData() (*StatusData, error) {
	var data StatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSprayData extracts spray data from a message
func (m *Message) GetSprayData() (*SprayData, error) {
	var data SprayData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// GetCommandData extracts a command from a message
func (m *Message) GetCommandData() (*CommandData, error) {
	var data CommandData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAckData extracts an acknowledgement from a message
func (m *Message) GetAckData() (*AckData, error) {
	var data AckData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
