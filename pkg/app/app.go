// Package app wires the weeding robot together: persisted state, actuators,
// vision, the actuation loops, and the operator surfaces (HTTP, websocket,
// MQTT, history, metrics).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-weedbot/internal/config"
	"github.com/teslashibe/go-weedbot/internal/log"
	"github.com/teslashibe/go-weedbot/pkg/actuation"
	"github.com/teslashibe/go-weedbot/pkg/actuator"
	"github.com/teslashibe/go-weedbot/pkg/history"
	"github.com/teslashibe/go-weedbot/pkg/metrics"
	"github.com/teslashibe/go-weedbot/pkg/persist"
	"github.com/teslashibe/go-weedbot/pkg/telemetry"
	"github.com/teslashibe/go-weedbot/pkg/vision"
	"github.com/teslashibe/go-weedbot/pkg/web"
)

// Perceiver produces one detection result per call.
type Perceiver interface {
	Perceive(ctx context.Context) (vision.Perception, error)
	Close() error
}

// Option overrides a component, mostly for tests and simulation.
type Option func(*App)

// WithDriver uses d instead of opening GPIO or the simulator.
func WithDriver(d actuator.Driver) Option {
	return func(a *App) { a.driver = d }
}

// WithPerceiver uses p instead of opening the camera and model.
func WithPerceiver(p Perceiver) Option {
	return func(a *App) { a.perceiver = p }
}

// WithPersister uses p instead of the configured backend.
func WithPersister(p persist.Store) Option {
	return func(a *App) { a.persister = p }
}

// WithClock overrides time.Now for the actuation loops.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// App is the robot process.
type App struct {
	settings config.Settings
	logger   *slog.Logger
	now      func() time.Time

	persister persist.Store
	watcher   *persist.Watcher
	driver    actuator.Driver
	perceiver Perceiver

	store   *actuation.Store
	coord   *actuation.Coordinator
	metrics *metrics.Recorder
	archive *history.Archive
	mqtt    *telemetry.Client
	web     *web.Server
	sched   gocron.Scheduler

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New validates settings and returns an uninitialized App.
func New(settings config.Settings, opts ...Option) (*App, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	a := &App{
		settings: settings,
		logger:   log.Component("app"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Init opens every component. Actuator or camera failures are fatal and
// wrap actuation.ErrFatalInit; the caller should still call Shutdown.
func (a *App) Init(ctx context.Context) error {
	a.logger.Info("starting weedbot", "robot_id", a.settings.RobotID, "sim", a.settings.Sim)

	if err := a.initPersister(ctx); err != nil {
		return err
	}
	if err := a.initDriver(); err != nil {
		return err
	}

	a.metrics = metrics.New(prometheus.NewRegistry())

	store, err := actuation.Open(ctx, a.persister, a.driver,
		actuation.WithClock(a.now),
		actuation.WithObserver(a.metrics),
	)
	if err != nil {
		return err
	}
	a.store = store
	a.coord = actuation.NewCoordinator(store)

	if err := a.initVision(); err != nil {
		return err
	}

	if a.settings.HistoryPath != "" {
		archive, err := history.Open(a.settings.HistoryPath)
		if err != nil {
			// Spraying continues without an archive.
			a.logger.Warn("spray history disabled", "path", a.settings.HistoryPath, "error", err)
		} else {
			a.archive = archive
			store.AddObserver(archive)
		}
	}

	webOpts := web.Options{Addr: a.settings.ListenAddr, Metrics: a.metrics}
	if a.archive != nil {
		webOpts.History = a.archive
	}
	a.web = web.NewServer(store, webOpts)
	store.AddObserver(a.web)

	if a.settings.MQTTEnabled() {
		a.mqtt = telemetry.New(telemetry.Options{
			Broker:      a.settings.MQTTBroker,
			Username:    a.settings.MQTTUsername,
			Password:    a.settings.MQTTPassword,
			TopicPrefix: a.settings.MQTTTopicPrefix,
			RobotID:     a.settings.RobotID,
		}, store)
		store.AddObserver(a.mqtt)
	}

	if fs, ok := a.persister.(*persist.FileStore); ok && a.settings.WatchConfig {
		w, err := persist.NewWatcher(fs, a.applyExternal, log.Component("config-watcher"))
		if err != nil {
			a.logger.Warn("config file watching disabled", "error", err)
		} else {
			a.watcher = w
		}
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	a.sched = sched
	return a.scheduleJobs()
}

func (a *App) initPersister(ctx context.Context) error {
	if a.persister != nil {
		return nil
	}
	switch a.settings.ConfigBackend {
	case config.BackendRedis:
		rs, err := persist.NewRedisStore(ctx, persist.RedisOptions{
			Addr:     a.settings.RedisAddr,
			Password: a.settings.RedisPassword,
			DB:       a.settings.RedisDB,
			RobotID:  a.settings.RobotID,
		})
		if err != nil {
			return err
		}
		a.persister = rs
	default:
		fs, err := persist.NewFileStore(a.settings.ConfigPath)
		if err != nil {
			return err
		}
		a.persister = fs
	}
	return nil
}

func (a *App) initDriver() error {
	if a.driver != nil {
		return nil
	}
	if a.settings.Sim {
		a.driver = actuator.NewSim()
		return nil
	}
	d, err := actuator.NewGPIO(actuator.GPIOConfig{
		MotorPWMPin: a.settings.MotorPWMPin,
		MotorDirPin: a.settings.MotorDirPin,
		PumpPWMPin:  a.settings.PumpPWMPin,
		PumpDirPin:  a.settings.PumpDirPin,
		PumpDuty:    a.settings.PumpDuty,
		FrequencyHz: a.settings.PWMFrequency,
	})
	if err != nil {
		return fmt.Errorf("%w: actuators: %w", actuation.ErrFatalInit, err)
	}
	a.driver = d
	return nil
}

func (a *App) initVision() error {
	if a.perceiver != nil {
		return nil
	}
	detector, err := vision.NewYOLO(vision.YOLOConfig{
		ModelPath:        a.settings.ModelPath,
		ConfidenceThresh: float32(a.settings.Confidence),
		NMSThresh:        float32(a.settings.NMSThreshold),
		InputWidth:       640,
		InputHeight:      640,
	})
	if err != nil {
		return fmt.Errorf("%w: detection model: %w", actuation.ErrFatalInit, err)
	}
	camera, err := vision.OpenCamera(vision.CameraConfig{
		Device:         a.settings.VideoDevice(),
		ReconnectDelay: a.settings.ReconnectWait,
	})
	if err != nil {
		detector.Close()
		return fmt.Errorf("%w: camera: %w", actuation.ErrFatalInit, err)
	}
	a.perceiver = vision.NewPipeline(camera, detector, 80)
	return nil
}

func (a *App) applyExternal(rec persist.Record) {
	if a.store.ApplyExternal(rec) {
		a.logger.Info("applied external config edit")
	}
}

type job struct {
	name  string
	every time.Duration
	run   func()
}

func (a *App) scheduleJobs() error {
	jobs := []job{
		{"status-broadcast", time.Second, a.web.BroadcastStatus},
		{"gauges", time.Second, a.refreshGauges},
	}
	if a.mqtt != nil {
		jobs = append(jobs, job{"mqtt-status", 5 * time.Second, a.publishStatus})
	}

	for _, j := range jobs {
		_, err := a.sched.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(j.run),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
	}
	return nil
}

func (a *App) refreshGauges() {
	a.metrics.SetStatus(a.store.Status())
	a.metrics.SetWebsocketClients(a.web.StatusClients())
}

func (a *App) publishStatus() {
	if err := a.mqtt.PublishStatus(a.store.Status()); err != nil && !errors.Is(err, telemetry.ErrNotConnected) {
		a.logger.Warn("mqtt status publish failed", "error", err)
	}
}

// Store returns the actuation state.
func (a *App) Store() *actuation.Store {
	return a.store
}

// Run starts the loops and surfaces and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.store == nil {
		return errors.New("app: Run called before Init")
	}
	ctx, a.cancel = context.WithCancel(ctx)

	if a.archive != nil {
		a.goRun(func() { a.archive.Run(ctx) })
	}
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			a.logger.Warn("config file watching disabled", "error", err)
		}
	}
	if a.mqtt != nil {
		if err := a.mqtt.Start(ctx); err != nil {
			a.logger.Warn("mqtt unavailable", "error", err)
		}
	}

	a.web.StartHubs(ctx)
	serveErr := make(chan error, 1)
	go func() {
		if err := a.web.ListenAndServe(); err != nil {
			serveErr <- err
		}
	}()

	a.sched.Start()
	a.goRun(func() { a.actuationLoop(ctx) })
	a.goRun(func() { a.maintenanceLoop(ctx) })

	a.logger.Info("weedbot running", "listen", a.settings.ListenAddr)

	select {
	case <-ctx.Done():
		a.wg.Wait()
		return nil
	case err := <-serveErr:
		return fmt.Errorf("control surface: %w", err)
	}
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Shutdown stops the robot. The actuators are halted first, whatever state
// the rest of the process is in.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	if a.cancel != nil {
		a.cancel()
	}
	a.halt()

	if a.sched != nil {
		if err := a.sched.Shutdown(); err != nil {
			a.logger.Warn("scheduler shutdown", "error", err)
		}
	}
	if a.web != nil {
		if err := a.web.Shutdown(5 * time.Second); err != nil {
			a.logger.Warn("control surface shutdown", "error", err)
		}
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.wg.Wait()
	// A loop may have commanded the motor before it saw cancellation.
	a.halt()

	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("history close", "error", err)
		}
	}
	if a.perceiver != nil {
		if err := a.perceiver.Close(); err != nil {
			a.logger.Warn("vision close", "error", err)
		}
	}
	if a.driver != nil {
		if err := a.driver.Close(); err != nil {
			a.logger.Warn("actuator close", "error", err)
		}
	}
	if c, ok := a.persister.(interface{ Close() error }); ok {
		c.Close()
	}
	a.logger.Info("weedbot stopped")
}

func (a *App) halt() {
	err := a.guard("actuator halt", func() error { return actuator.Halt(a.driver) })
	if err != nil {
		a.logger.Error("failed to halt actuators", "error", err)
	}
}
