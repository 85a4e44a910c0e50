package domain

import "time"

// Status is the device snapshot served by the local API and published
// over MQTT.
type Status struct {
	Device        string          `json:"device"`
	Firmware      string          `json:"firmware"`
	UptimeSeconds int64           `json:"uptime_s"`
	Heartbeat     HeartbeatStatus `json:"heartbeat"`
	DNS           DNSStatus       `json:"dns"`
	Alerts        AlertStatus     `json:"alerts"`
	Boot          BootStatus      `json:"boot"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

type HeartbeatStatus struct {
	URL        string     `json:"url,omitempty"`
	Up         bool       `json:"up"`
	HTTPStatus int        `json:"http_status,omitempty"`
	LatencyMS  float64    `json:"latency_ms"`
	Reason     string     `json:"reason,omitempty"`
	CheckedAt  *time.Time `json:"checked_at,omitempty"`
}

type DNSStatus struct {
	Primary     string `json:"primary"`
	Secondary   string `json:"secondary,omitempty"`
	Tier        string `json:"tier"`
	Policy      string `json:"policy"`
	PrimaryUp   bool   `json:"primary_up"`
	SecondaryUp *bool  `json:"secondary_up,omitempty"` // nil when the fallback was not probed
	// seconds since process start
	LastFailureS  *int64 `json:"last_failure_s,omitempty"`
	LastRecoveryS *int64 `json:"last_recovery_s,omitempty"`
}

type AlertStatus struct {
	Paused     bool   `json:"paused"`
	Mode       string `json:"mode"` // active, until, indefinite
	RemainingS int64  `json:"remaining_s,omitempty"`
	Reported   bool   `json:"reported"`
	Suppressed uint64 `json:"suppressed"`
}

type BootStatus struct {
	FailCount      uint32 `json:"fail_count"`
	Threshold      uint32 `json:"threshold"`
	RolledBackFrom string `json:"rolled_back_from,omitempty"`
	UpdatedFrom    string `json:"updated_from,omitempty"`
}

// DNSWorking is true while some resolver answers, fallback included.
func (s Status) DNSWorking() bool {
	return s.DNS.Tier == "healthy" || s.DNS.Tier == "degraded"
}
