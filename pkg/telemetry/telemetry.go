// Package telemetry connects the robot to an MQTT broker: it publishes the
// status snapshot and spray events and accepts remote commands.
//
// Topics, under <prefix>/<robot-id>/:
//
//	status        retained status snapshot, published periodically
//	events/spray  one message per committed spray
//	cmd           inbound commands (protocol.TypeCommand)
//	ack           one ack per command
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-weedbot/internal/log"
	"github.com/teslashibe/go-weedbot/pkg/actuation"
	"github.com/teslashibe/go-weedbot/pkg/control"
	"github.com/teslashibe/go-weedbot/pkg/protocol"
)

// ErrNotConnected is returned by publishes while the broker is unreachable.
var ErrNotConnected = errors.New("telemetry: mqtt client not connected")

// Options configures the MQTT connection.
type Options struct {
	Broker      string // e.g. tcp://localhost:1883
	Username    string
	Password    string
	TopicPrefix string
	RobotID     string

	// ConnectTimeout bounds the initial connect; the client keeps retrying
	// in the background after it expires.
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Topics holds the resolved topic names.
type Topics struct {
	Status string
	Spray  string
	Cmd    string
	Ack    string
}

// TopicsFor builds the topic names for a robot.
func TopicsFor(prefix, robotID string) Topics {
	base := fmt.Sprintf("%s/%s", prefix, robotID)
	return Topics{
		Status: base + "/status",
		Spray:  base + "/events/spray",
		Cmd:    base + "/cmd",
		Ack:    base + "/ack",
	}
}

// Client is the robot's MQTT link. It implements actuation.Observer.
type Client struct {
	client  mqtt.Client
	ctl     control.Controller
	topics  Topics
	qos     byte
	timeout time.Duration
	connect time.Duration
	logger  *slog.Logger
}

// New builds a client for opts. Call Start to connect.
func New(opts Options, ctl control.Controller) *Client {
	c := newClient(nil, opts, ctl)

	mo := mqtt.NewClientOptions()
	mo.AddBroker(opts.Broker)
	mo.SetClientID("weedbot-" + opts.RobotID)
	mo.SetUsername(opts.Username)
	mo.SetPassword(opts.Password)
	mo.SetAutoReconnect(true)
	mo.SetConnectRetry(true)
	mo.SetConnectRetryInterval(5 * time.Second)
	mo.SetOrderMatters(false)

	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err)
	})
	// Subscriptions are renewed on every (re)connect.
	mo.SetOnConnectHandler(func(client mqtt.Client) {
		c.logger.Info("mqtt connected", "broker", opts.Broker)
		c.subscribe(client)
	})

	c.client = mqtt.NewClient(mo)
	return c
}

func newClient(client mqtt.Client, opts Options, ctl control.Controller) *Client {
	timeout := opts.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	connect := opts.ConnectTimeout
	if connect <= 0 {
		connect = 5 * time.Second
	}
	return &Client{
		client:  client,
		ctl:     ctl,
		topics:  TopicsFor(opts.TopicPrefix, opts.RobotID),
		qos:     1,
		timeout: timeout,
		connect: connect,
		logger:  log.Component("telemetry").With("robot_id", opts.RobotID),
	}
}

// Topics returns the topic names in use.
func (c *Client) Topics() Topics {
	return c.topics
}

// Start connects to the broker. If the broker does not answer within the
// connect timeout Start returns nil and the client keeps retrying.
func (c *Client) Start(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect to mqtt broker: %w", err)
		}
	case <-time.After(c.connect):
		c.logger.Warn("mqtt broker not reachable yet, retrying in background")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Client) subscribe(client mqtt.Client) {
	token := client.Subscribe(c.topics.Cmd, c.qos, c.handleCommand)
	if token.WaitTimeout(c.timeout) && token.Error() != nil {
		c.logger.Error("subscribe failed", "topic", c.topics.Cmd, "error", token.Error())
		return
	}
	c.logger.Info("subscribed", "topic", c.topics.Cmd)
}

// handleCommand decodes a command, runs it and publishes the ack.
func (c *Client) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	logger := c.logger.With("topic", msg.Topic())
	defer func() {
		// paho runs this on its router goroutine
		if r := recover(); r != nil {
			logger.Error("command handler panicked", "panic", r)
		}
	}()

	m, err := protocol.ParseMessage(msg.Payload())
	if err != nil {
		logger.Warn("discarding malformed command", "error", err)
		return
	}
	if m.Type != protocol.TypeCommand {
		logger.Warn("discarding non-command message", "type", m.Type)
		return
	}
	cmd, err := m.GetCommandData()
	if err != nil {
		logger.Warn("discarding malformed command", "error", err)
		return
	}

	ack := control.Dispatch(c.ctl, *cmd)
	logger.Info("remote command", "name", cmd.Name, "ok", ack.OK, "code", ack.Code)

	out, err := protocol.NewAckMessage(ack)
	if err != nil {
		logger.Error("encode ack", "error", err)
		return
	}
	if err := c.publish(c.topics.Ack, false, out, true); err != nil {
		logger.Warn("publish ack failed", "error", err)
	}
}

// PublishStatus publishes a retained status snapshot and waits for the broker.
func (c *Client) PublishStatus(st actuation.Status) error {
	msg, err := protocol.NewStatusMessage(st)
	if err != nil {
		return err
	}
	return c.publish(c.topics.Status, true, msg, true)
}

// OnSpray implements actuation.Observer. It does not wait for the broker.
func (c *Client) OnSpray(ev actuation.SprayEvent) {
	msg, err := protocol.NewSprayMessage(ev)
	if err != nil {
		c.logger.Error("encode spray event", "error", err)
		return
	}
	if err := c.publish(c.topics.Spray, false, msg, false); err != nil && !errors.Is(err, ErrNotConnected) {
		c.logger.Warn("publish spray event failed", "error", err)
	}
}

// OnRefusal implements actuation.Observer.
func (c *Client) OnRefusal(actuation.RefusalReason) {}

func (c *Client) publish(topic string, retained bool, msg *protocol.Message, wait bool) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := msg.Bytes()
	if err != nil {
		return err
	}
	token := c.client.Publish(topic, c.qos, retained, payload)
	if !wait {
		return nil
	}
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("mqtt publish to %s timed out after %v", topic, c.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	if c.client.IsConnectionOpen() {
		c.client.Unsubscribe(c.topics.Cmd).WaitTimeout(c.timeout)
	}
	c.client.Disconnect(250)
}

var _ actuation.Observer = (*Client)(nil)
