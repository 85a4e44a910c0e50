package mqtt

import (
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"
)

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// discoveryConfig is a Home Assistant MQTT discovery document.
type discoveryConfig struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	StateTopic          string          `json:"state_topic,omitempty"`
	CommandTopic        string          `json:"command_topic,omitempty"`
	AvailabilityTopic   string          `json:"availability_topic"`
	ValueTemplate       string          `json:"value_template,omitempty"`
	JSONAttributesTopic string          `json:"json_attributes_topic,omitempty"`
	PayloadOn           string          `json:"payload_on,omitempty"`
	PayloadOff          string          `json:"payload_off,omitempty"`
	PayloadPress        string          `json:"payload_press,omitempty"`
	Unit                string          `json:"unit_of_measurement,omitempty"`
	DeviceClass         string          `json:"device_class,omitempty"`
	Icon                string          `json:"icon,omitempty"`
	Device              discoveryDevice `json:"device"`
}

type entity struct {
	component string
	objectID  string
	cfg       discoveryConfig
}

func (c *Client) entities() []entity {
	t := c.topics
	name := c.device
	if name == "" {
		name = t.dev
	}
	dev := discoveryDevice{
		Identifiers:  []string{t.dev},
		Name:         name,
		Manufacturer: manufacturer,
		Model:        model,
		SWVersion:    c.firmware,
	}
	mk := func(component, objectID, label string, cfg discoveryConfig) entity {
		cfg.Name = label
		cfg.UniqueID = t.dev + "_" + objectID
		cfg.AvailabilityTopic = t.Availability
		cfg.Device = dev
		return entity{component: component, objectID: objectID, cfg: cfg}
	}
	return []entity{
		mk("sensor", "status", "Status", discoveryConfig{
			StateTopic:          t.Status,
			JSONAttributesTopic: t.Status,
			ValueTemplate:       "{{ value_json.dns.tier | default('unknown') }}",
			Icon:                "mdi:monitor",
		}),
		mk("binary_sensor", "dns", "DNS", discoveryConfig{
			StateTopic:  t.DNSStatus,
			PayloadOn:   "ON",
			PayloadOff:  "OFF",
			DeviceClass: "connectivity",
			Icon:        "mdi:dns",
		}),
		mk("binary_sensor", "alerts", "Alerts Enabled", discoveryConfig{
			StateTopic: t.Alerts,
			PayloadOn:  "ON",
			PayloadOff: "OFF",
			Icon:       "mdi:bell",
		}),
		mk("sensor", "firmware", "Firmware", discoveryConfig{
			StateTopic: t.Firmware,
			Icon:       "mdi:chip",
		}),
		mk("sensor", "uptime", "Uptime", discoveryConfig{
			StateTopic:  t.Uptime,
			Unit:        "s",
			DeviceClass: "duration",
			Icon:        "mdi:clock",
		}),
		mk("switch", "alert_switch", "Alert Control", discoveryConfig{
			StateTopic:   t.Alerts,
			CommandTopic: t.AlertCommand,
			PayloadOn:    "ON",
			PayloadOff:   "OFF",
			Icon:         "mdi:bell",
		}),
		mk("button", "reboot", "Reboot", discoveryConfig{
			CommandTopic: t.RebootCmd,
			PayloadPress: "PRESS",
			DeviceClass:  "restart",
			Icon:         "mdi:restart",
		}),
	}
}

// PublishDiscovery announces every entity with a retained config document.
func (c *Client) PublishDiscovery() error {
	var errs error
	for _, e := range c.entities() {
		doc, err := json.Marshal(e.cfg)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("encode %s: %w", e.objectID, err))
			continue
		}
		errs = multierr.Append(errs, c.publish(c.topics.Discovery(e.component, e.objectID), true, doc))
	}
	return errs
}
