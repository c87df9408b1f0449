// weedbot runs the weeding robot: camera detection drives the spray pump and
// the drive motor, with an HTTP control surface for the operator.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/teslashibe/go-weedbot/internal/config"
	"github.com/teslashibe/go-weedbot/internal/httpc"
	"github.com/teslashibe/go-weedbot/internal/log"
	"github.com/teslashibe/go-weedbot/pkg/actuation"
	"github.com/teslashibe/go-weedbot/pkg/app"
	"github.com/teslashibe/go-weedbot/pkg/persist"
	"github.com/teslashibe/go-weedbot/pkg/protocol"
)

var version = "dev"

// CLI is the command tree.
type CLI struct {
	Version kong.VersionFlag `name:"version" help:"Show version and exit."`

	Run    RunCmd    `cmd:"" default:"withargs" help:"Run the robot (default)."`
	Config ConfigCmd `cmd:"" help:"Print the resolved settings and the persisted actuation record."`
	Status StatusCmd `cmd:"" help:"Print the status of a running robot."`
	Stop   StopCmd   `cmd:"" help:"Stop the drive motor of a running robot."`
}

// RunCmd starts the robot.
type RunCmd struct {
	config.Settings `embed:""`
}

func (c *RunCmd) Run() error {
	log.Init(c.LogLevel, c.LogFormat)
	logger := log.Component("main")

	a, err := app.New(c.Settings)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shutdown halts the actuators on every path out of here.
	defer a.Shutdown()

	if err := a.Init(ctx); err != nil {
		if errors.Is(err, actuation.ErrFatalInit) {
			logger.Error("fatal initialization error", "error", err)
		}
		return err
	}
	return a.Run(ctx)
}

// ConfigCmd prints the settings and the persisted record.
type ConfigCmd struct {
	config.Settings `embed:""`
}

func (c *ConfigCmd) Run() error {
	out := struct {
		Settings config.Settings `json:"settings"`
		Record   *persist.Record `json:"record,omitempty"`
		Error    string          `json:"record_error,omitempty"`
	}{Settings: c.Settings}
	out.Settings.RedisPassword = redact(out.Settings.RedisPassword)
	out.Settings.MQTTPassword = redact(out.Settings.MQTTPassword)

	if c.ConfigBackend == config.BackendFile {
		fs, err := persist.NewFileStore(c.ConfigPath)
		if err != nil {
			return err
		}
		rec, err := fs.Load(context.Background())
		switch {
		case err == nil:
			out.Record = &rec
		case errors.Is(err, persist.ErrNotFound):
			out.Error = "no record yet; defaults apply"
		default:
			out.Error = err.Error()
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// StatusCmd queries a running robot.
type StatusCmd struct {
	Addr    string        `name:"addr" env:"WEEDBOT_ADDR" default:"localhost:5000" help:"Robot control surface address."`
	Timeout time.Duration `name:"timeout" default:"5s" help:"Request timeout."`
}

func (c *StatusCmd) Run() error {
	var st protocol.StatusData
	if err := httpc.New(c.Addr, c.Timeout).GetJSON(context.Background(), "/get_status", &st); err != nil {
		return err
	}
	fmt.Printf("motor speed       %.0f%%", st.MotorSpeed*100)
	if st.MotorPaused {
		fmt.Print(" (paused)")
	}
	fmt.Println()
	fmt.Printf("pump              %s\n", onOff(st.PumpActive))
	fmt.Printf("water             %.1f / %.1f ml (%s)\n", st.CurrentWaterLevelMl, st.WaterTankCapacityMl, st.WaterStatus)
	fmt.Printf("per spray         %.1f ml, %.1fs\n", st.WaterPerSprayMl, st.PumpDetectionDuration)
	fmt.Printf("cooldown          %.1fs\n", st.DetectionCooldownS)
	fmt.Printf("pause on detect   %.1fs\n", st.MotorPauseOnDetectionS)
	fmt.Printf("sprays logged     %d\n", len(st.WaterLog))
	for _, e := range st.WaterLog {
		fmt.Printf("  %s  %-4s  %.1fs  %.1f ml\n", e.Time, e.Type, e.Duration, e.Amount)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// StopCmd stops the motor of a running robot.
type StopCmd struct {
	Addr    string        `name:"addr" env:"WEEDBOT_ADDR" default:"localhost:5000" help:"Robot control surface address."`
	Timeout time.Duration `name:"timeout" default:"5s" help:"Request timeout."`
}

func (c *StopCmd) Run() error {
	var out struct {
		Message string `json:"message"`
	}
	if err := httpc.New(c.Addr, c.Timeout).PostJSON(context.Background(), "/stop_motor", nil, &out); err != nil {
		return err
	}
	fmt.Println(out.Message)
	return nil
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "weedbot: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("weedbot"),
		kong.Description("Autonomous weeding robot controller."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	ctx.FatalIfErrorf(ctx.Run())
}
