package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/teslashibe/go-weedbot/pkg/actuation"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "frame message",
			msgType: TypeFrame,
			data:    FrameData{Format: "jpeg"},
			wantErr: false,
		},
		{
			name:    "command message",
			msgType: TypeCommand,
			data:    CommandData{Name: CmdStopMotor},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
			wantErr: false,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeStatus,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestStatusMessage(t *testing.T) {
	at := time.Date(2024, 6, 2, 9, 15, 0, 0, time.Local)
	st := actuation.Status{
		MotorSpeed:          0.2,
		CurrentWaterLevelMl: 190,
		WaterTankCapacityMl: 200,
		WaterStatus:         actuation.WaterOK,
		PumpActive:          true,
		WaterLog: []actuation.LogEntry{
			{ID: "a", Time: at, DurationS: 0.2, AmountMl: 10, Kind: actuation.SprayAuto},
		},
	}

	msg, err := NewStatusMessage(st)
	if err != nil {
		t.Fatalf("NewStatusMessage() error = %v", err)
	}
	data, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	parsed, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	status, err := parsed.GetStatusData()
	if err != nil {
		t.Fatalf("GetStatusData() error = %v", err)
	}

	if status.CurrentWaterLevelMl != 190 {
		t.Errorf("CurrentWaterLevelMl = %v, want 190", status.CurrentWaterLevelMl)
	}
	if !status.PumpActive {
		t.Error("PumpActive should be true")
	}
	if len(status.WaterLog) != 1 {
		t.Fatalf("WaterLog length = %d, want 1", len(status.WaterLog))
	}
	if status.WaterLog[0].Time != "2024-06-02 09:15:00" {
		t.Errorf("Time = %q", status.WaterLog[0].Time)
	}
	if status.WaterLog[0].Type != "Auto" {
		t.Errorf("Type = %q, want Auto", status.WaterLog[0].Type)
	}
}

func TestStatusMessage_EmptyLogIsArray(t *testing.T) {
	msg, err := NewStatusMessage(actuation.Status{})
	if err != nil {
		t.Fatalf("NewStatusMessage() error = %v", err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := data["water_log"].([]interface{}); !ok {
		t.Errorf("water_log = %#v, want empty array", data["water_log"])
	}
}

func TestSprayMessage(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	ev := actuation.SprayEvent{
		Entry:      actuation.LogEntry{ID: "x1", Time: at, DurationS: 0.2, AmountMl: 10, Kind: actuation.SprayTest},
		LevelMl:    180,
		CapacityMl: 200,
	}

	msg, err := NewSprayMessage(ev)
	if err != nil {
		t.Fatalf("NewSprayMessage() error = %v", err)
	}
	spray, err := msg.GetSprayData()
	if err != nil {
		t.Fatalf("GetSprayData() error = %v", err)
	}

	if spray.At != 1_700_000_000_000 {
		t.Errorf("At = %v", spray.At)
	}
	if spray.Kind != "Test" {
		t.Errorf("Kind = %v, want Test", spray.Kind)
	}
	if spray.LevelMl != 180 {
		t.Errorf("LevelMl = %v, want 180", spray.LevelMl)
	}
}

func TestFrameMessage(t *testing.T) {
	jpegData := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10} // Fake JPEG header

	msg, err := NewFrameMessage(jpegData, 1)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}

	if msg.Type != TypeFrame {
		t.Errorf("Type = %v, want %v", msg.Type, TypeFrame)
	}

	frameData, err := msg.GetFrameData()
	if err != nil {
		t.Fatalf("GetFrameData() error = %v", err)
	}
	if frameData.Format != "jpeg" {
		t.Errorf("Format = %v, want jpeg", frameData.Format)
	}

	decoded, err := frameData.DecodeFrameData()
	if err != nil {
		t.Fatalf("DecodeFrameData() error = %v", err)
	}
	if len(decoded) != len(jpegData) {
		t.Errorf("Decoded length = %v, want %v", len(decoded), len(jpegData))
	}
}

func TestCommandMessage(t *testing.T) {
	v := 0.35
	msg, err := NewCommandMessage(CommandData{ID: "c1", Name: CmdSetSpeed, Value: &v})
	if err != nil {
		t.Fatalf("NewCommandMessage() error = %v", err)
	}

	cmd, err := msg.GetCommandData()
	if err != nil {
		t.Fatalf("GetCommandData() error = %v", err)
	}
	if cmd.Name != CmdSetSpeed {
		t.Errorf("Name = %v, want %v", cmd.Name, CmdSetSpeed)
	}
	if cmd.Value == nil || *cmd.Value != 0.35 {
		t.Errorf("Value = %v, want 0.35", cmd.Value)
	}
	if cmd.SprayMl != nil || cmd.CapacityMl != nil {
		t.Error("water config fields should be absent")
	}
}

func TestCommandData_WaterConfigKeys(t *testing.T) {
	raw := `{"type":"command","data":{"name":"set_water_config","water_tank_capacity_ml":150}}`

	msg, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	cmd, err := msg.GetCommandData()
	if err != nil {
		t.Fatalf("GetCommandData() error = %v", err)
	}
	if cmd.CapacityMl == nil || *cmd.CapacityMl != 150 {
		t.Errorf("CapacityMl = %v, want 150", cmd.CapacityMl)
	}
	if cmd.SprayMl != nil {
		t.Error("SprayMl should be nil")
	}
}

func TestAckMessage(t *testing.T) {
	msg, err := NewAckMessage(AckData{ID: "c1", Name: CmdTestPump, Code: "tank_empty", Error: "tank empty"})
	if err != nil {
		t.Fatalf("NewAckMessage() error = %v", err)
	}

	ack, err := msg.GetAckData()
	if err != nil {
		t.Fatalf("GetAckData() error = %v", err)
	}
	if ack.OK {
		t.Error("OK should be false")
	}
	if ack.Code != "tank_empty" {
		t.Errorf("Code = %v, want tank_empty", ack.Code)
	}
}

func TestPingPongMessage(t *testing.T) {
	pingMsg, err := NewPingMessage("test-123")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}

	if pingMsg.Type != TypePing {
		t.Errorf("Type = %v, want %v", pingMsg.Type, TypePing)
	}

	pingData, err := pingMsg.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}

	if pingData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pingData.ID)
	}

	// Create pong response
	now := time.Now().UnixMilli()
	pongMsg, err := NewPongMessage("test-123", pingMsg.Timestamp, now)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}

	pongData, err := pongMsg.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}

	if pongData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pongData.ID)
	}
	if pongData.LatencyMs < 0 {
		t.Errorf("LatencyMs = %v, should be >= 0", pongData.LatencyMs)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "invalid json",
			input:   "not json",
			wantErr: true,
		},
		{
			name:    "empty json",
			input:   "{}",
			wantErr: false, // Empty is valid, just no type
		},
		{
			name:    "valid message",
			input:   `{"type":"ping","ts":1234567890}`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func BenchmarkNewFrameMessage(b *testing.B) {
	jpegData := make([]byte, 100*1024) // 100KB fake JPEG

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewFrameMessage(jpegData, uint64(i))
	}
}
