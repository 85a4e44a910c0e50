// Package mqtt publishes device status to a Home Assistant broker, announces
// the device's entities through MQTT discovery and listens for the alert
// switch and reboot button commands.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/devicewatch/internal/domain"
)

const (
	DefaultPrefix  = "homeassistant"
	publishTimeout = 5 * time.Second

	manufacturer = "devicewatch"
	model        = "devicewatch agent"
)

var errPublishTimeout = errors.New("mqtt publish timed out")

// AlertSwitch is what the alerts command topic drives.
type AlertSwitch interface {
	PauseAlerts(ctx context.Context, d time.Duration)
	ResumeAlerts(ctx context.Context)
}

// Rebooter restarts the device when the reboot button is pressed.
type Rebooter interface {
	Reboot() error
}

type Config struct {
	Broker   string // tcp://host:1883
	ClientID string
	Username string
	Password string
	Device   string
	Firmware string // sw_version in discovery
	Prefix   string
}

// Topics follows the Home Assistant layout used by the device.
type Topics struct {
	Status       string
	Availability string
	DNSStatus    string
	Alerts       string
	Firmware     string
	Uptime       string
	AlertCommand string
	RebootCmd    string

	prefix string
	dev    string
}

func NewTopics(prefix, device string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	dev := slug(device)
	base := prefix + "/sensor/" + dev
	return Topics{
		Status:       base + "/status",
		Availability: base + "/availability",
		DNSStatus:    base + "/dns_status",
		Alerts:       base + "/alerts",
		Firmware:     base + "/firmware",
		Uptime:       base + "/uptime",
		AlertCommand: prefix + "/" + dev + "/command/alerts",
		RebootCmd:    prefix + "/" + dev + "/command/reboot",
		prefix:       prefix,
		dev:          dev,
	}
}

// Discovery is the retained config topic for one entity.
func (t Topics) Discovery(component, objectID string) string {
	return t.prefix + "/" + component + "/" + t.dev + "/" + objectID + "/config"
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "device"
	}
	return s
}

// publisher is the subset of paho.Client the status path needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type Client struct {
	log      *zap.Logger
	topics   Topics
	device   string
	firmware string
	sw       AlertSwitch
	reboot   Rebooter
	pub      publisher
	conn     paho.Client
}

// Connect dials the broker. The will marks the device offline if the
// connection drops; on every (re)connect the device announces itself
// online, republishes discovery and resubscribes to the command topics.
func Connect(cfg Config, sw AlertSwitch, reboot Rebooter, log *zap.Logger) (*Client, error) {
	c := &Client{
		log:      log,
		topics:   NewTopics(cfg.Prefix, cfg.Device),
		device:   cfg.Device,
		firmware: cfg.Firmware,
		sw:       sw,
		reboot:   reboot,
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "devicewatch-" + slug(cfg.Device)
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetWill(c.topics.Availability, "offline", 1, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("mqtt_connection_lost", zap.Error(err))
	})

	conn := paho.NewClient(opts)
	c.conn = conn
	c.pub = conn
	tok := conn.Connect()
	if !tok.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return c, nil
}

func (c *Client) onConnect(conn paho.Client) {
	c.log.Info("mqtt_connected", zap.String("availability", c.topics.Availability))
	conn.Publish(c.topics.Availability, 1, true, "online")
	conn.Subscribe(c.topics.AlertCommand, 1, func(_ paho.Client, m paho.Message) {
		c.HandleAlertCommand(context.Background(), m.Payload())
	})
	conn.Subscribe(c.topics.RebootCmd, 1, func(_ paho.Client, m paho.Message) {
		c.HandleRebootCommand(m.Payload())
	})
	if err := c.PublishDiscovery(); err != nil {
		c.log.Warn("mqtt_discovery_error", zap.Error(err))
	}
}

func (c *Client) Topics() Topics { return c.topics }

// HandleAlertCommand maps ON to resume and OFF to an indefinite pause.
// Anything else is ignored.
func (c *Client) HandleAlertCommand(ctx context.Context, payload []byte) {
	cmd := strings.ToUpper(strings.TrimSpace(string(payload)))
	switch cmd {
	case "ON":
		c.sw.ResumeAlerts(ctx)
	case "OFF":
		c.sw.PauseAlerts(ctx, 0)
	default:
		c.log.Warn("mqtt_unknown_command", zap.String("topic", c.topics.AlertCommand), zap.String("payload", cmd))
		return
	}
	c.log.Info("mqtt_alert_command", zap.String("payload", cmd))
}

// HandleRebootCommand marks the device offline and reboots it. The payload
// is ignored; the button sends PRESS.
func (c *Client) HandleRebootCommand(payload []byte) {
	c.log.Warn("mqtt_reboot_command", zap.String("payload", strings.TrimSpace(string(payload))))
	if c.reboot == nil {
		c.log.Error("mqtt_reboot_unavailable")
		return
	}
	if err := c.publish(c.topics.Availability, true, "offline"); err != nil {
		c.log.Warn("mqtt_offline_publish_error", zap.Error(err))
	}
	if err := c.reboot.Reboot(); err != nil {
		c.log.Error("mqtt_reboot_failed", zap.Error(err))
	}
}

// PublishStatus sends the JSON document and the individual state topics.
func (c *Client) PublishStatus(ctx context.Context, st domain.Status) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	var errs error
	errs = multierr.Append(errs, c.publish(c.topics.Status, false, doc))
	errs = multierr.Append(errs, c.publish(c.topics.DNSStatus, false, onOff(st.DNSWorking())))
	errs = multierr.Append(errs, c.publish(c.topics.Alerts, false, onOff(!st.Alerts.Paused)))
	errs = multierr.Append(errs, c.publish(c.topics.Firmware, true, st.Firmware))
	errs = multierr.Append(errs, c.publish(c.topics.Uptime, false, strconv.FormatInt(st.UptimeSeconds, 10)))
	return errs
}

func (c *Client) publish(topic string, retained bool, payload interface{}) error {
	tok := c.pub.Publish(topic, 0, retained, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%s: %w", topic, errPublishTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%s: %w", topic, err)
	}
	return nil
}

// Close marks the device offline and disconnects.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.publish(c.topics.Availability, true, "offline"); err != nil {
		c.log.Warn("mqtt_offline_publish_error", zap.Error(err))
	}
	c.conn.Disconnect(250)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
