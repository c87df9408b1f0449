package web

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-weedbot/pkg/actuation"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// body is a decoded JSON request body.
type body map[string]any

func parseBody(c *fiber.Ctx) (body, error) {
	b := body{}
	raw := c.Body()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return b, nil
	}
	if err := c.App().Config().JSONDecoder(raw, &b); err != nil {
		return nil, badRequest("Request body must be a JSON object.", err)
	}
	return b, nil
}

// number reads a numeric field. Numbers and numeric strings are accepted;
// present reports whether the key was set to a non-null value.
func (b body) number(key string) (v float64, present bool, err error) {
	raw, ok := b[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch x := raw.(type) {
	case float64:
		return x, true, nil
	case string:
		f, perr := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if perr != nil {
			return 0, true, &actuation.InputError{Field: key}
		}
		return f, true, nil
	default:
		return 0, true, &actuation.InputError{Field: key}
	}
}

// required reads a numeric field that must be present.
func (b body) required(key string) (float64, error) {
	v, present, err := b.number(key)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, actuation.MissingField(key)
	}
	return v, nil
}

// optional reads a numeric field that may be absent.
func (b body) optional(key string) (*float64, error) {
	v, present, err := b.number(key)
	if err != nil || !present {
		return nil, err
	}
	return &v, nil
}

func success(c *fiber.Ctx, message string, fields fiber.Map) error {
	out := fiber.Map{"status": "success", "message": message}
	for k, v := range fields {
		out[k] = v
	}
	return c.JSON(out)
}

func (s *Server) handleGetStatus(c *fiber.Ctx) error {
	return c.JSON(s.backend.Status())
}

// setValue handles the single-field setters: decode, apply, answer.
func (s *Server) setValue(c *fiber.Ctx, field, invalid string, set func(float64) (float64, error), answer func(float64) (string, fiber.Map)) error {
	b, err := parseBody(c)
	if err != nil {
		return err
	}
	v, err := b.required(field)
	if err != nil {
		return badRequest(invalid, err)
	}
	got, err := set(v)
	if err != nil {
		return fromControl(err, invalid)
	}
	msg, fields := answer(got)
	return success(c, msg, fields)
}

func (s *Server) handleSetSpeed(c *fiber.Ctx) error {
	return s.setValue(c, "speed", "Invalid speed value (must be 0.0 to 1.0)", s.backend.SetSpeed,
		func(v float64) (string, fiber.Map) {
			return fmt.Sprintf("Speed set to %.0f%% (Saved)", v*100), fiber.Map{"new_speed": v}
		})
}

func (s *Server) handleStartMotor(c *fiber.Ctx) error {
	v, err := s.backend.StartMotor()
	if err != nil {
		return &AppError{Code: fiber.StatusInternalServerError, Message: "Failed to start motor.", Err: err}
	}
	return success(c, fmt.Sprintf("Motor started at %.0f%% (Saved).", v*100), fiber.Map{"new_speed": v})
}

func (s *Server) handleStopMotor(c *fiber.Ctx) error {
	v, err := s.backend.StopMotor()
	if err != nil {
		return &AppError{Code: fiber.StatusInternalServerError, Message: "Failed to stop motor.", Err: err}
	}
	return success(c, "Motor stopped (Saved).", fiber.Map{"new_speed": v})
}

func (s *Server) handleTestPump(c *fiber.Ctx) error {
	return s.setValue(c, "duration", "Invalid duration value (must be a number between 0.1 and 10.0)", s.backend.TestPump,
		func(v float64) (string, fiber.Map) {
			return fmt.Sprintf("Pump test running for %.1fs.", v), fiber.Map{"duration": v}
		})
}

func (s *Server) handleSetDetectionDuration(c *fiber.Ctx) error {
	return s.setValue(c, "duration", "Invalid duration value (must be a number between 0.1 and 5.0)", s.backend.SetDetectionDuration,
		func(v float64) (string, fiber.Map) {
			return fmt.Sprintf("Detection duration set to %.1fs (Saved).", v), fiber.Map{"new_duration": v}
		})
}

func (s *Server) handleSetCooldown(c *fiber.Ctx) error {
	return s.setValue(c, "cooldown", "Invalid cooldown value (must be a number between 0.5 and 30.0)", s.backend.SetCooldown,
		func(v float64) (string, fiber.Map) {
			return fmt.Sprintf("Cooldown set to %.1fs (Saved).", v), fiber.Map{"new_cooldown": v}
		})
}

func (s *Server) handleSetPauseOnDetection(c *fiber.Ctx) error {
	return s.setValue(c, "seconds", "Invalid pause value (must be a number between 0.0 and 30.0)", s.backend.SetPauseOnDetection,
		func(v float64) (string, fiber.Map) {
			return fmt.Sprintf("Motor pause on detection set to %.1fs (Saved).", v), fiber.Map{"motor_pause_on_detection_s": v}
		})
}

func (s *Server) handleSetWaterConfig(c *fiber.Ctx) error {
	const invalid = "Invalid number provided for water configuration."
	b, err := parseBody(c)
	if err != nil {
		return err
	}
	sprayMl, err := b.optional("water_per_spray_ml")
	if err != nil {
		return badRequest(invalid, err)
	}
	capacityMl, err := b.optional("water_tank_capacity_ml")
	if err != nil {
		return badRequest(invalid, err)
	}

	wc, err := s.backend.SetWaterConfig(sprayMl, capacityMl)
	if err != nil {
		return fromControl(err, invalid)
	}
	return success(c, "Water configuration updated and saved.", fiber.Map{
		"water_per_spray_ml":     wc.SprayMl,
		"water_tank_capacity_ml": wc.CapacityMl,
		"current_water_level_ml": wc.LevelMl,
	})
}

func (s *Server) handleResetWaterLevel(c *fiber.Ctx) error {
	level := s.backend.ResetWaterLevel()
	return success(c, "Water tank level reset to full capacity.", fiber.Map{"current_water_level_ml": level})
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return fiber.NewError(fiber.StatusNotFound, "spray history is disabled")
	}
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		return badRequest("limit must be a positive integer", nil)
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	sprays, err := s.history.Recent(c.UserContext(), limit)
	if err != nil {
		return &AppError{Code: fiber.StatusInternalServerError, Message: "Failed to read spray history.", Kind: "internal", Err: err}
	}
	return c.JSON(fiber.Map{"sprays": sprays, "count": len(sprays)})
}

func (s *Server) handleHistorySummary(c *fiber.Ctx) error {
	if s.history == nil {
		return fiber.NewError(fiber.StatusNotFound, "spray history is disabled")
	}
	sum, err := s.history.Summary(c.UserContext())
	if err != nil {
		return &AppError{Code: fiber.StatusInternalServerError, Message: "Failed to summarize spray history.", Kind: "internal", Err: err}
	}
	return c.JSON(sum)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	st := s.backend.Status()
	_, frameAt := s.backend.LatestFrame()
	out := fiber.Map{
		"status":       "ok",
		"uptime_s":     time.Since(s.started).Seconds(),
		"pump":         st.Pump.String(),
		"motor_speed":  st.MotorSpeed,
		"water_status": st.WaterStatus,
	}
	if !frameAt.IsZero() {
		out["last_frame_age_s"] = time.Since(frameAt).Seconds()
	}
	return c.JSON(out)
}
