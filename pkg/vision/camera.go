package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-weedbot/internal/log"
)

// ErrNoFrame is returned when a read fails. The camera has already been
// reopened (or will be on the next read); the caller just skips the cycle.
var ErrNoFrame = errors.New("vision: no frame from camera")

// CameraConfig configures the capture device.
type CameraConfig struct {
	// Device is a device index (int) or a stream URL/file path (string).
	Device any
	Width  int
	Height int

	// ReconnectDelay is the wait between closing a failed device and
	// reopening it.
	ReconnectDelay time.Duration
}

// Camera wraps a gocv capture and reopens it after read failures.
type Camera struct {
	cfg    CameraConfig
	cap    *gocv.VideoCapture
	logger *slog.Logger
}

// OpenCamera opens the device. An error here is fatal for the robot.
func OpenCamera(cfg CameraConfig) (*Camera, error) {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	c := &Camera{cfg: cfg, logger: log.Component("camera").With("source", fmt.Sprint(cfg.Device))}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Camera) open() error {
	vc, err := gocv.OpenVideoCapture(c.cfg.Device)
	if err != nil {
		return fmt.Errorf("open video source %v: %w", c.cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("open video source %v: not opened", c.cfg.Device)
	}
	if c.cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	}
	if c.cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	}
	c.cap = vc
	return nil
}

// Read grabs the next frame into m. On failure it releases the device,
// waits ReconnectDelay, reopens it and returns ErrNoFrame.
func (c *Camera) Read(ctx context.Context, m *gocv.Mat) error {
	if c.cap != nil && c.cap.Read(m) && !m.Empty() {
		return nil
	}

	c.logger.Warn("camera read failed, reopening", "delay", c.cfg.ReconnectDelay)
	c.release()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.ReconnectDelay):
	}

	if err := c.open(); err != nil {
		c.logger.Error("camera reopen failed", "error", err)
	}
	return ErrNoFrame
}

func (c *Camera) release() {
	if c.cap != nil {
		c.cap.Close()
		c.cap = nil
	}
}

// Close releases the device.
func (c *Camera) Close() error {
	c.release()
	return nil
}
