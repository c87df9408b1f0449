package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-weedbot/pkg/actuation"
)

func TestRecorder_SpraysAndRefusals(t *testing.T) {
	r := New(prom.NewRegistry())

	r.OnSpray(actuation.SprayEvent{
		Entry:   actuation.LogEntry{Kind: actuation.SprayAuto, AmountMl: 10},
		LevelMl: 190,
	})
	r.OnSpray(actuation.SprayEvent{
		Entry:   actuation.LogEntry{Kind: actuation.SprayTest, AmountMl: 10},
		LevelMl: 180,
	})
	r.OnRefusal(actuation.RefusalCooldown)
	r.OnRefusal(actuation.RefusalCooldown)
	r.OnRefusal(actuation.RefusalTankEmpty)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.sprays.WithLabelValues("Auto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sprays.WithLabelValues("Test")))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.dispensed))
	assert.Equal(t, 180.0, testutil.ToFloat64(r.waterLevel))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.refusals.WithLabelValues("cooldown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.refusals.WithLabelValues("tank_empty")))
}

func TestRecorder_Cycles(t *testing.T) {
	r := New(nil)

	r.ObserveCycle(10*time.Millisecond, true, nil)
	r.ObserveCycle(10*time.Millisecond, false, nil)
	r.ObserveCycle(time.Millisecond, true, errors.New("camera read failed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.detections))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycleErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(r.cycleDuration))
}

func TestRecorder_SetStatus(t *testing.T) {
	r := New(nil)
	r.SetStatus(actuation.Status{
		MotorSpeed:          0.4,
		CurrentWaterLevelMl: 120,
		WaterTankCapacityMl: 200,
		PumpActive:          true,
	})

	assert.Equal(t, 0.4, testutil.ToFloat64(r.motorSpeed))
	assert.Equal(t, 200.0, testutil.ToFloat64(r.waterCapacity))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pumpActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.motorPaused))
}

func TestRecorder_Handler(t *testing.T) {
	r := New(nil)
	r.OnRefusal(actuation.RefusalBusy)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `weedbot_spray_refusals_total{reason="busy"} 1`))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.OnSpray(actuation.SprayEvent{})
	r.OnRefusal(actuation.RefusalBusy)
	r.ObserveCycle(time.Second, true, nil)
	r.SetStatus(actuation.Status{})
	r.SetWebsocketClients(3)
	assert.Nil(t, r.Registry())
}
