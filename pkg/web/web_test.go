package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-weedbot/pkg/actuation"
	"github.com/teslashibe/go-weedbot/pkg/actuator"
	"github.com/teslashibe/go-weedbot/pkg/history"
	"github.com/teslashibe/go-weedbot/pkg/metrics"
	"github.com/teslashibe/go-weedbot/pkg/persist"
	"github.com/teslashibe/go-weedbot/pkg/protocol"
)

type fakeHistory struct {
	sprays []history.Spray
	err    error
	limit  int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Spray, error) {
	f.limit = limit
	return f.sprays, f.err
}

func (f *fakeHistory) Summary(context.Context) (history.Summary, error) {
	return history.Summary{Count: len(f.sprays), TotalMl: 10 * float64(len(f.sprays))}, f.err
}

func newTestServer(t *testing.T, rec *persist.Record, opts Options) (*Server, *actuation.Store, *actuator.Sim) {
	t.Helper()
	mem := persist.NewMemory()
	if rec != nil {
		require.NoError(t, mem.Save(context.Background(), *rec))
	}
	sim := actuator.NewSim()
	store, err := actuation.Open(context.Background(), mem, sim)
	require.NoError(t, err)
	return NewServer(store, opts), store, sim
}

func do(t *testing.T, s *Server, method, path, payload string) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if payload != "" {
		body = strings.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestGetStatus(t *testing.T) {
	s, _, _ := newTestServer(t, nil, Options{})

	code, out := do(t, s, "GET", "/get_status", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, 0.0, out["motor_speed"])
	assert.Equal(t, 0.2, out["pump_detection_duration"])
	assert.Equal(t, 10.0, out["water_per_spray_ml"])
	assert.Equal(t, 200.0, out["water_tank_capacity_ml"])
	assert.Equal(t, 200.0, out["current_water_level_ml"])
	assert.Equal(t, 1.0, out["detection_cooldown_s"])
	assert.Equal(t, []any{}, out["water_log"])
}

func TestSetSpeed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		code    int
		speed   float64
	}{
		{"number", `{"speed":0.5}`, 200, 0.5},
		{"numeric string", `{"speed":"0.25"}`, 200, 0.25},
		{"clamped", `{"speed":4}`, 200, 1},
		{"missing", `{}`, 400, 0},
		{"null", `{"speed":null}`, 400, 0},
		{"not a number", `{"speed":"fast"}`, 400, 0},
		{"bool", `{"speed":true}`, 400, 0},
		{"not json", `speed=1`, 400, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, sim := newTestServer(t, nil, Options{})

			code, out := do(t, s, "POST", "/set_speed", tt.payload)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.speed, store.Status().MotorSpeed)
			if tt.code == 200 {
				assert.Equal(t, "success", out["status"])
				assert.Equal(t, tt.speed, out["new_speed"])
				assert.Equal(t, tt.speed, sim.MotorDuty())
			} else {
				assert.Equal(t, "error", out["status"])
				assert.NotEmpty(t, out["message"])
			}
		})
	}
}

func TestStartStopMotor(t *testing.T) {
	s, store, _ := newTestServer(t, nil, Options{})

	code, out := do(t, s, "POST", "/start_motor", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, actuation.StartSpeed, out["new_speed"])
	assert.Equal(t, "Motor started at 20% (Saved).", out["message"])
	assert.Equal(t, actuation.StartSpeed, store.Status().MotorSpeed)

	code, out = do(t, s, "POST", "/stop_motor", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, 0.0, out["new_speed"])
	assert.Equal(t, 0.0, store.Status().MotorSpeed)
}

func TestTestPump(t *testing.T) {
	s, store, sim := newTestServer(t, nil, Options{})

	code, out := do(t, s, "POST", "/test_pump", `{"duration":20}`)
	assert.Equal(t, 200, code)
	assert.Equal(t, 10.0, out["duration"])
	assert.True(t, sim.PumpOn())

	st := store.Status()
	assert.Equal(t, 190.0, st.CurrentWaterLevelMl)
	require.Len(t, st.WaterLog, 1)
	assert.Equal(t, actuation.SprayTest, st.WaterLog[0].Kind)

	code, _ = do(t, s, "POST", "/test_pump", `{}`)
	assert.Equal(t, 400, code)
}

func TestTestPump_TankEmpty(t *testing.T) {
	rec := persist.Defaults()
	rec.CurrentWaterLevelMl = 5
	s, store, sim := newTestServer(t, &rec, Options{})

	code, out := do(t, s, "POST", "/test_pump", `{"duration":1}`)
	assert.Equal(t, 400, code)
	assert.Equal(t, "Tank is empty. Cannot run pump test.", out["message"])
	assert.Equal(t, "tank_empty", out["code"])
	assert.False(t, sim.PumpOn())
	assert.Equal(t, 5.0, store.Status().CurrentWaterLevelMl)
}

func TestSetters(t *testing.T) {
	tests := []struct {
		path    string
		payload string
		key     string
		want    float64
	}{
		{"/set_detection_duration", `{"duration":0.01}`, "new_duration", 0.1},
		{"/set_detection_duration", `{"duration":2.5}`, "new_duration", 2.5},
		{"/set_cooldown", `{"cooldown":100}`, "new_cooldown", 30},
		{"/set_cooldown", `{"cooldown":"3"}`, "new_cooldown", 3},
		{"/set_pause_on_detection", `{"seconds":-1}`, "motor_pause_on_detection_s", 0},
		{"/set_pause_on_detection", `{"seconds":4}`, "motor_pause_on_detection_s", 4},
	}
	for _, tt := range tests {
		t.Run(tt.path+" "+tt.payload, func(t *testing.T) {
			s, _, _ := newTestServer(t, nil, Options{})
			code, out := do(t, s, "POST", tt.path, tt.payload)
			assert.Equal(t, 200, code)
			assert.Equal(t, tt.want, out[tt.key])
		})
	}
}

func TestSetters_RejectGarbage(t *testing.T) {
	s, store, _ := newTestServer(t, nil, Options{})
	before := store.Status()

	for _, path := range []string{"/set_detection_duration", "/set_cooldown", "/set_pause_on_detection"} {
		code, out := do(t, s, "POST", path, `{"duration":"x","cooldown":"x","seconds":"x"}`)
		assert.Equal(t, 400, code, path)
		assert.Equal(t, "invalid_input", out["code"], path)
	}
	assert.Equal(t, before, store.Status())
}

func TestSetWaterConfig(t *testing.T) {
	s, store, _ := newTestServer(t, nil, Options{})

	code, out := do(t, s, "POST", "/set_water_config", `{"water_per_spray_ml":0.01}`)
	assert.Equal(t, 200, code)
	assert.Equal(t, 0.1, out["water_per_spray_ml"])
	assert.Equal(t, 200.0, out["water_tank_capacity_ml"])

	code, out = do(t, s, "POST", "/set_water_config", `{"water_tank_capacity_ml":"150"}`)
	assert.Equal(t, 200, code)
	assert.Equal(t, 150.0, out["water_tank_capacity_ml"])
	assert.Equal(t, 150.0, out["current_water_level_ml"])

	code, _ = do(t, s, "POST", "/set_water_config", `{"water_tank_capacity_ml":"big"}`)
	assert.Equal(t, 400, code)
	assert.Equal(t, 150.0, store.Status().WaterTankCapacityMl)

	code, _ = do(t, s, "POST", "/set_water_config", `{}`)
	assert.Equal(t, 200, code)
}

func TestResetWaterLevel(t *testing.T) {
	rec := persist.Defaults()
	rec.CurrentWaterLevelMl = 30
	s, store, _ := newTestServer(t, &rec, Options{})
	_, err := store.TestPump(1)
	require.NoError(t, err)

	code, out := do(t, s, "POST", "/reset_water_level", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, 200.0, out["current_water_level_ml"])
	assert.Empty(t, store.Status().WaterLog)
}

func TestHistoryRoutes(t *testing.T) {
	hist := &fakeHistory{sprays: []history.Spray{{ID: "a", Kind: "Auto", AmountMl: 10}}}
	s, _, _ := newTestServer(t, nil, Options{History: hist})

	code, out := do(t, s, "GET", "/api/history?limit=9999", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, 1.0, out["count"])
	assert.Equal(t, maxHistoryLimit, hist.limit)

	code, _ = do(t, s, "GET", "/api/history?limit=0", "")
	assert.Equal(t, 400, code)

	code, out = do(t, s, "GET", "/api/history/summary", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, 10.0, out["total_ml"])

	hist.err = errors.New("disk gone")
	code, out = do(t, s, "GET", "/api/history", "")
	assert.Equal(t, 500, code)
	assert.Equal(t, "error", out["status"])
}

func TestHistoryDisabled(t *testing.T) {
	s, _, _ := newTestServer(t, nil, Options{})
	code, _ := do(t, s, "GET", "/api/history", "")
	assert.Equal(t, 404, code)
}

func TestHealthAndMetrics(t *testing.T) {
	rec := metrics.New(prometheus.NewRegistry())
	s, store, _ := newTestServer(t, nil, Options{Metrics: rec})

	code, out := do(t, s, "GET", "/healthz", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "idle", out["pump"])

	rec.SetStatus(store.Status())
	resp, err := s.App().Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(raw), "weedbot_water_level_ml 200")
}

func TestWebsocketRouteRequiresUpgrade(t *testing.T) {
	s, _, _ := newTestServer(t, nil, Options{})
	resp, err := s.App().Test(httptest.NewRequest("GET", "/ws/status", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 426, resp.StatusCode)
}

func TestWritePart(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, writePart(w, []byte{0xff, 0xd8, 0xff}))

	assert.Equal(t, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 3\r\n\r\n\xff\xd8\xff\r\n", buf.String())
}

func serve(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.StartHubs(ctx)
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() {
		cancel()
		_ = s.Shutdown(time.Second)
	})
	return ln.Addr().String()
}

func readMessage(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.ParseMessage(data)
	require.NoError(t, err)
	return msg
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg *protocol.Message) {
	t.Helper()
	data, err := msg.Bytes()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestStatusWebsocket(t *testing.T) {
	s, store, _ := newTestServer(t, nil, Options{})
	addr := serve(t, s)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/status", nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	require.Equal(t, protocol.TypeStatus, first.Type)
	st, err := first.GetStatusData()
	require.NoError(t, err)
	assert.Equal(t, 200.0, st.CurrentWaterLevelMl)

	ping, err := protocol.NewPingMessage("p1")
	require.NoError(t, err)
	writeMessage(t, conn, ping)
	pong := readMessage(t, conn)
	require.Equal(t, protocol.TypePong, pong.Type)

	v := 0.6
	cmd, err := protocol.NewCommandMessage(protocol.CommandData{ID: "c1", Name: protocol.CmdSetSpeed, Value: &v})
	require.NoError(t, err)
	writeMessage(t, conn, cmd)

	ackMsg := readMessage(t, conn)
	require.Equal(t, protocol.TypeAck, ackMsg.Type)
	ack, err := ackMsg.GetAckData()
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, "c1", ack.ID)
	assert.Equal(t, 0.6, store.Status().MotorSpeed)
}

func TestStatusWebsocket_SprayEvents(t *testing.T) {
	s, store, _ := newTestServer(t, nil, Options{})
	store.AddObserver(s)
	addr := serve(t, s)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/status", nil)
	require.NoError(t, err)
	defer conn.Close()
	readMessage(t, conn) // initial status

	require.Eventually(t, func() bool { return s.StatusClients() == 1 }, time.Second, 5*time.Millisecond)
	_, err = store.TestPump(0.5)
	require.NoError(t, err)

	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypeSpray, msg.Type)
	spray, err := msg.GetSprayData()
	require.NoError(t, err)
	assert.Equal(t, "Test", spray.Kind)
	assert.Equal(t, 190.0, spray.LevelMl)
}
