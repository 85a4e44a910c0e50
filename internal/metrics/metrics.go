// Package metrics exposes the agent's state as Prometheus series.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hamed0406/devicewatch/internal/notify"
)

type Metrics struct {
	Registry *prometheus.Registry

	DNSTier       prometheus.Gauge
	HeartbeatUp   prometheus.Gauge
	AlertsPaused  prometheus.Gauge
	BootFailCount prometheus.Gauge
	Notifications *prometheus.CounterVec
}

// New registers every series on a fresh registry, so tests and multiple
// agents in one process never collide on the default one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		DNSTier: f.NewGauge(prometheus.GaugeOpts{
			Name: "devicewatch_dns_tier",
			Help: "DNS health tier: 0 unknown, 1 healthy, 2 degraded, 3 failed",
		}),
		HeartbeatUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "devicewatch_heartbeat_up",
			Help: "1 when the last heartbeat ping succeeded",
		}),
		AlertsPaused: f.NewGauge(prometheus.GaugeOpts{
			Name: "devicewatch_alerts_paused",
			Help: "1 while DNS alerts are paused",
		}),
		BootFailCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "devicewatch_boot_fail_count",
			Help: "Consecutive boots that did not reach a valid state",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devicewatch_notifications_total",
			Help: "Notifications handed to the delivery channels",
		}, []string{"severity"}),
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *Metrics) SetHeartbeat(up bool) { m.HeartbeatUp.Set(boolGauge(up)) }
func (m *Metrics) SetAlertsPaused(p bool) { m.AlertsPaused.Set(boolGauge(p)) }
func (m *Metrics) SetDNSTier(tier int) { m.DNSTier.Set(float64(tier)) }
func (m *Metrics) SetBootFailCount(n uint32) { m.BootFailCount.Set(float64(n)) }

// Counting wraps a notifier and counts every message by severity,
// whether or not delivery succeeds.
func (m *Metrics) Counting(n notify.Notifier) notify.Notifier {
	return countingNotifier{next: n, vec: m.Notifications}
}

type countingNotifier struct {
	next notify.Notifier
	vec  *prometheus.CounterVec
}

func (c countingNotifier) Send(ctx context.Context, title, text string, sev notify.Severity) error {
	c.vec.WithLabelValues(sev.String()).Inc()
	if c.next == nil {
		return nil
	}
	return c.next.Send(ctx, title, text, sev)
}
