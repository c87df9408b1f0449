package web

import (
	"bufio"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-weedbot/pkg/control"
	"github.com/teslashibe/go-weedbot/pkg/hub"
	"github.com/teslashibe/go-weedbot/pkg/protocol"
)

const mjpegBoundary = "frame"

// handleVideoFeed streams the latest annotated frame as multipart MJPEG
// until the client disconnects or the server shuts down.
func (s *Server) handleVideoFeed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "close")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(s.frameInterval)
		defer ticker.Stop()

		var sent time.Time
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}

			jpeg, at := s.backend.LatestFrame()
			if len(jpeg) == 0 || !at.After(sent) {
				continue
			}
			if err := writePart(w, jpeg); err != nil {
				s.logger.Debug("video feed client gone", "error", err)
				return
			}
			sent = at
		}
	})
	return nil
}

func writePart(w *bufio.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// handleStatusWS streams status snapshots and spray events, and accepts
// commands and pings.
func (s *Server) handleStatusWS(conn *websocket.Conn) {
	client := hub.NewClient(s.statusHub, conn)
	if msg, err := protocol.NewStatusMessage(s.backend.Status()); err == nil {
		s.send(client, msg)
	}
	client.Run()
}

// handleCameraWS streams annotated frames.
func (s *Server) handleCameraWS(conn *websocket.Conn) {
	client := hub.NewClient(s.cameraHub, conn)
	client.Run()
}

// handleStatusMessage answers a message sent by a status client.
func (s *Server) handleStatusMessage(client *hub.Client, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.logger.Debug("discarding malformed websocket message", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			return
		}
		pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
		if err == nil {
			s.send(client, pong)
		}

	case protocol.TypeCommand:
		cmd, err := msg.GetCommandData()
		if err != nil {
			s.logger.Debug("discarding malformed command", "error", err)
			return
		}
		ack := control.Dispatch(s.backend, *cmd)
		s.logger.Info("websocket command", "name", cmd.Name, "ok", ack.OK, "code", ack.Code)
		out, err := protocol.NewAckMessage(ack)
		if err == nil {
			s.send(client, out)
		}
		// Everyone sees the effect of a successful command right away.
		if ack.OK {
			s.BroadcastStatus()
		}

	default:
		s.logger.Debug("ignoring websocket message", "type", msg.Type)
	}
}

func (s *Server) send(client *hub.Client, msg *protocol.Message) {
	if !client.Send(msg) {
		s.logger.Debug("websocket reply dropped", "type", msg.Type)
	}
}
