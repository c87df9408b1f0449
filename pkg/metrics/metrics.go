// Package metrics exposes actuation counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-weedbot/pkg/actuation"
)

const namespace = "weedbot"

// Recorder holds the robot's metrics. A nil *Recorder is a valid no-op.
type Recorder struct {
	reg *prom.Registry

	sprays        *prom.CounterVec
	refusals      *prom.CounterVec
	dispensed     prom.Counter
	detections    prom.Counter
	cycleErrors   prom.Counter
	cycleDuration prom.Histogram
	waterLevel    prom.Gauge
	waterCapacity prom.Gauge
	motorSpeed    prom.Gauge
	pumpActive    prom.Gauge
	motorPaused   prom.Gauge
	wsClients     prom.Gauge
}

// New constructs the metrics and registers them, plus the Go runtime and
// process collectors, on reg. A nil reg gets a fresh registry.
func New(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		sprays: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "sprays_total",
			Help:      "Committed sprays by kind",
		}, []string{"kind"}),
		refusals: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "spray_refusals_total",
			Help:      "Spray attempts refused, by reason",
		}, []string{"reason"}),
		dispensed: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "water_dispensed_ml_total",
			Help:      "Water consumed by sprays in ml",
		}),
		detections: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Control cycles with a positive detection",
		}),
		cycleErrors: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Control cycles that failed and backed off",
		}),
		cycleDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one perceive-and-actuate cycle",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
		waterLevel: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "water_level_ml",
			Help:      "Current tank level in ml",
		}),
		waterCapacity: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "water_capacity_ml",
			Help:      "Configured tank capacity in ml",
		}),
		motorSpeed: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "motor_speed",
			Help:      "Current motor duty cycle",
		}),
		pumpActive: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_active",
			Help:      "1 while the pump is spraying",
		}),
		motorPaused: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "motor_paused",
			Help:      "1 while the motor is paused for a spray",
		}),
		wsClients: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected status websocket clients",
		}),
	}
	reg.MustRegister(
		r.sprays, r.refusals, r.dispensed, r.detections, r.cycleErrors, r.cycleDuration,
		r.waterLevel, r.waterCapacity, r.motorSpeed, r.pumpActive, r.motorPaused, r.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the registry the metrics live in.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// OnSpray implements actuation.Observer.
func (r *Recorder) OnSpray(ev actuation.SprayEvent) {
	if r == nil {
		return
	}
	r.sprays.WithLabelValues(string(ev.Entry.Kind)).Inc()
	r.dispensed.Add(ev.Entry.AmountMl)
	r.waterLevel.Set(ev.LevelMl)
}

// OnRefusal implements actuation.Observer.
func (r *Recorder) OnRefusal(reason actuation.RefusalReason) {
	if r == nil {
		return
	}
	r.refusals.WithLabelValues(string(reason)).Inc()
}

// ObserveCycle records one control cycle.
func (r *Recorder) ObserveCycle(d time.Duration, detected bool, err error) {
	if r == nil {
		return
	}
	r.cycleDuration.Observe(d.Seconds())
	if err != nil {
		r.cycleErrors.Inc()
		return
	}
	if detected {
		r.detections.Inc()
	}
}

// SetStatus refreshes the state gauges from a snapshot.
func (r *Recorder) SetStatus(st actuation.Status) {
	if r == nil {
		return
	}
	r.waterLevel.Set(st.CurrentWaterLevelMl)
	r.waterCapacity.Set(st.WaterTankCapacityMl)
	r.motorSpeed.Set(st.MotorSpeed)
	r.pumpActive.Set(boolGauge(st.PumpActive))
	r.motorPaused.Set(boolGauge(st.MotorPaused))
}

// SetWebsocketClients records the number of status websocket clients.
func (r *Recorder) SetWebsocketClients(n int) {
	if r == nil {
		return
	}
	r.wsClients.Set(float64(n))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ actuation.Observer = (*Recorder)(nil)
