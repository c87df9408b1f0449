// Package web is the robot's HTTP control surface: status, manual overrides,
// the MJPEG camera stream, spray history, metrics and live websocket feeds.
package web

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-weedbot/internal/log"
	"github.com/teslashibe/go-weedbot/pkg/actuation"
	"github.com/teslashibe/go-weedbot/pkg/control"
	"github.com/teslashibe/go-weedbot/pkg/history"
	"github.com/teslashibe/go-weedbot/pkg/hub"
	"github.com/teslashibe/go-weedbot/pkg/metrics"
	"github.com/teslashibe/go-weedbot/pkg/protocol"
)

// Backend is what the server needs from the actuation state.
type Backend interface {
	control.Controller
	LatestFrame() ([]byte, time.Time)
}

// History serves archived sprays. A nil History disables /api/history.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Spray, error)
	Summary(ctx context.Context) (history.Summary, error)
}

// Options configures the server.
type Options struct {
	Addr    string
	History History
	Metrics *metrics.Recorder

	// FrameInterval is the MJPEG stream cadence.
	FrameInterval time.Duration
}

// Server is the HTTP control surface.
type Server struct {
	app     *fiber.App
	addr    string
	backend Backend
	history History
	metrics *metrics.Recorder
	logger  *slog.Logger
	started time.Time

	frameInterval time.Duration
	frameID       atomic.Uint64

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	cameraHub *hub.Hub

	closeOnce sync.Once
	done      chan struct{}
}

// NewServer creates the server and its routes.
func NewServer(backend Backend, opts Options) *Server {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 30 * time.Millisecond
	}
	s := &Server{
		addr:          opts.Addr,
		backend:       backend,
		history:       opts.History,
		metrics:       opts.Metrics,
		logger:        log.Component("web"),
		started:       time.Now(),
		frameInterval: opts.FrameInterval,
		statusHub:     hub.New("status"),
		cameraHub:     hub.New("camera"),
		done:          make(chan struct{}),
	}
	s.statusHub.OnMessage(s.handleStatusMessage)

	app := fiber.New(fiber.Config{
		AppName:               "weedbot",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(s.logger),
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(s.requestLogger)

	// Control routes, paths kept compatible with existing operator UIs
	app.Get("/get_status", s.handleGetStatus)
	app.Post("/set_speed", s.handleSetSpeed)
	app.Post("/start_motor", s.handleStartMotor)
	app.Post("/stop_motor", s.handleStopMotor)
	app.Post("/test_pump", s.handleTestPump)
	app.Post("/set_detection_duration", s.handleSetDetectionDuration)
	app.Post("/set_cooldown", s.handleSetCooldown)
	app.Post("/set_water_config", s.handleSetWaterConfig)
	app.Post("/reset_water_level", s.handleResetWaterLevel)
	app.Post("/set_pause_on_detection", s.handleSetPauseOnDetection)
	app.Get("/video_feed", s.handleVideoFeed)

	api := app.Group("/api")
	api.Get("/history", s.handleHistory)
	api.Get("/history/summary", s.handleHistorySummary)

	app.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// StartHubs runs the websocket hubs until ctx is done.
func (s *Server) StartHubs(ctx context.Context) {
	go s.statusHub.Run(ctx)
	go s.cameraHub.Run(ctx)
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("control surface listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("control surface listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown ends open streams and stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.app.ShutdownWithTimeout(timeout)
}

// BroadcastStatus pushes the current status to status websocket clients.
func (s *Server) BroadcastStatus() {
	if s.statusHub.ClientCount() == 0 {
		return
	}
	msg, err := protocol.NewStatusMessage(s.backend.Status())
	if err != nil {
		s.logger.Error("encode status", "error", err)
		return
	}
	s.broadcast(s.statusHub, msg)
}

// BroadcastFrame pushes an annotated frame to camera websocket clients.
func (s *Server) BroadcastFrame(jpeg []byte) {
	if s.cameraHub.ClientCount() == 0 || len(jpeg) == 0 {
		return
	}
	msg, err := protocol.NewFrameMessage(jpeg, s.frameID.Add(1))
	if err != nil {
		s.logger.Error("encode frame", "error", err)
		return
	}
	s.broadcast(s.cameraHub, msg)
}

// StatusClients returns the number of status websocket clients.
func (s *Server) StatusClients() int {
	return s.statusHub.ClientCount()
}

// OnSpray implements actuation.Observer: spray events go to status clients.
func (s *Server) OnSpray(ev actuation.SprayEvent) {
	if s.statusHub.ClientCount() == 0 {
		return
	}
	msg, err := protocol.NewSprayMessage(ev)
	if err != nil {
		s.logger.Error("encode spray event", "error", err)
		return
	}
	s.broadcast(s.statusHub, msg)
}

// OnRefusal implements actuation.Observer.
func (s *Server) OnRefusal(actuation.RefusalReason) {}

func (s *Server) broadcast(h *hub.Hub, msg *protocol.Message) {
	if err := h.Broadcast(msg); err != nil {
		s.logger.Error("encode message", "type", msg.Type, "error", err)
	}
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if c.Method() != fiber.MethodGet {
		s.logger.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds())
	}
	return err
}

var _ actuation.Observer = (*Server)(nil)
