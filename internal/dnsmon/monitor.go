// Package dnsmon classifies DNS reachability into Healthy, Degraded and
// Failed tiers each cycle and feeds the result into a debounce alerter.
//
// Degraded (primary down, distinct fallback up) alerts by default: the
// primary resolver is a deliberate choice and losing it is actionable even
// while the fallback masks the outage. PolicyLenient treats it as healthy.
package dnsmon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/devicewatch/internal/alert"
	"github.com/hamed0406/devicewatch/internal/clock"
	"github.com/hamed0406/devicewatch/internal/notify"
	"github.com/hamed0406/devicewatch/internal/probe"
)

type Tier int

const (
	TierUnknown Tier = iota
	TierHealthy
	TierDegraded
	TierFailed
)

func (t Tier) String() string {
	switch t {
	case TierHealthy:
		return "healthy"
	case TierDegraded:
		return "degraded"
	case TierFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Policy int

const (
	PolicyConservative Policy = iota
	PolicyLenient
)

func (p Policy) String() string {
	if p == PolicyLenient {
		return "lenient"
	}
	return "conservative"
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "conservative":
		return PolicyConservative, nil
	case "lenient":
		return PolicyLenient, nil
	default:
		return PolicyConservative, fmt.Errorf("unknown degraded policy %q", s)
	}
}

type Config struct {
	Primary       string // DNS server probed first
	Secondary     string // optional fallback server
	ProbeTimeout  time.Duration
	NotifyTimeout time.Duration
	Policy        Policy
	DeviceName    string
	Alert         alert.Config
}

// Result is the outcome of one cycle.
type Result struct {
	At              time.Duration
	Tier            Tier
	Primary         probe.CheckResult
	Secondary       probe.CheckResult
	SecondaryProbed bool
}

// Notification is a rendered alert waiting for delivery.
type Notification struct {
	Kind     alert.Kind
	Elapsed  time.Duration
	Title    string
	Text     string
	Severity notify.Severity
}

type Monitor struct {
	cfg      Config
	checker  probe.Checker
	notifier notify.Notifier
	clk      clock.Clock
	log      *zap.Logger
	alerts   *alert.Alerter

	tier           Tier
	lastFailureAt  *time.Duration
	lastRecoveryAt *time.Duration
	last           Result
	pending        []Notification
}

func New(cfg Config, checker probe.Checker, n notify.Notifier, clk clock.Clock, log *zap.Logger) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{cfg: cfg, checker: checker, notifier: n, clk: clk, log: log}
	m.alerts = alert.New(cfg.Alert, alert.EmitterFunc(m.enqueue))
	return m
}

// Alerts exposes the alerter for pause controls and status.
func (m *Monitor) Alerts() *alert.Alerter { return m.alerts }

func (m *Monitor) Config() Config { return m.cfg }

func (m *Monitor) Tier() Tier { return m.tier }

func (m *Monitor) Last() Result { return m.last }

func (m *Monitor) LastFailureAt() (time.Duration, bool)  { return deref(m.lastFailureAt) }
func (m *Monitor) LastRecoveryAt() (time.Duration, bool) { return deref(m.lastRecoveryAt) }

// DistinctSecondary reports whether a fallback probe adds information.
// Identical targets are compared literally; no address normalization.
func (m *Monitor) DistinctSecondary() bool {
	sec := strings.TrimSpace(m.cfg.Secondary)
	return sec != "" && !strings.EqualFold(sec, strings.TrimSpace(m.cfg.Primary))
}

// Cycle runs one probe pass and delivers the resulting alerts. It never
// retries; the polling interval is the retry cadence.
func (m *Monitor) Cycle(ctx context.Context) Result {
	res := m.Probe(ctx)
	m.Deliver(ctx, m.Apply(res))
	return res
}

// Probe classifies reachability without touching monitor state, so it may
// run outside whatever lock guards Apply.
func (m *Monitor) Probe(ctx context.Context) Result {
	res := Result{At: m.clk.Now()}

	res.Primary = m.probe(ctx, m.cfg.Primary)
	if res.Primary.Success {
		res.Tier = TierHealthy
		return res
	}
	if !m.DistinctSecondary() {
		if m.cfg.Secondary != "" {
			m.log.Info("dns_fallback_skipped", zap.String("server", m.cfg.Primary),
				zap.String("reason", "primary and fallback are identical"))
		}
		res.Tier = TierFailed
		return res
	}

	res.SecondaryProbed = true
	res.Secondary = m.probe(ctx, m.cfg.Secondary)
	if res.Secondary.Success {
		res.Tier = TierDegraded
	} else {
		res.Tier = TierFailed
	}
	return res
}

// Apply feeds a probe result into the tier state and the alerter and
// returns the notifications it produced. Nothing is sent here.
func (m *Monitor) Apply(res Result) []Notification {
	now := res.At
	m.setTier(res, now)

	switch {
	case res.Tier == TierHealthy:
		m.alerts.ReportHealthy(now)
	case res.Tier == TierDegraded && m.cfg.Policy == PolicyLenient:
		m.alerts.ReportHealthy(now)
	case res.Tier == TierFailed && res.SecondaryProbed:
		m.alerts.ReportUnhealthy(now)
		m.alerts.Escalate(now)
	default:
		m.alerts.ReportUnhealthy(now)
	}

	out := m.pending
	m.pending = nil
	return out
}

func (m *Monitor) probe(ctx context.Context, target string) probe.CheckResult {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	out := m.checker.Check(pctx, target)
	if out.Success && pctx.Err() != nil {
		// a result that arrived after the deadline counts as a timeout
		out.Success = false
		out.Message = "timeout"
	}
	return out
}

func (m *Monitor) setTier(res Result, now time.Duration) {
	prev := m.tier
	m.tier = res.Tier
	m.last = res

	switch {
	case res.Tier == TierHealthy && prev != TierHealthy && prev != TierUnknown:
		m.lastRecoveryAt = &now
	case res.Tier != TierHealthy && (prev == TierHealthy || prev == TierUnknown):
		m.lastFailureAt = &now
	}

	fields := []zap.Field{
		zap.Stringer("tier", res.Tier),
		zap.String("primary", m.cfg.Primary),
		zap.Bool("primary_ok", res.Primary.Success),
		zap.String("primary_msg", res.Primary.Message),
	}
	if res.SecondaryProbed {
		fields = append(fields,
			zap.String("secondary", m.cfg.Secondary),
			zap.Bool("secondary_ok", res.Secondary.Success))
	}
	if prev != res.Tier {
		m.log.Info("dns_tier_changed", append(fields, zap.Stringer("from", prev))...)
		return
	}
	m.log.Debug("dns_cycle", fields...)
}

func (m *Monitor) enqueue(ev alert.Event) {
	title, text, sev := m.render(ev)
	m.pending = append(m.pending, Notification{Kind: ev.Kind, Elapsed: ev.Elapsed, Title: title, Text: text, Severity: sev})
}

// Deliver sends notifications one by one, each bounded by NotifyTimeout.
// Failures are logged and dropped; shutdown does not cut a send short.
func (m *Monitor) Deliver(ctx context.Context, notes []Notification) {
	if m.notifier == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, n := range notes {
		sctx, cancel := context.WithTimeout(base, m.cfg.NotifyTimeout)
		err := m.notifier.Send(sctx, n.Title, n.Text, n.Severity)
		cancel()
		if err != nil {
			m.log.Warn("dns_notify_failed", zap.String("title", n.Title), zap.Error(err))
			continue
		}
		m.log.Info("dns_alert_sent", zap.Stringer("kind", n.Kind), zap.Duration("elapsed", n.Elapsed))
	}
}

func (m *Monitor) render(ev alert.Event) (string, string, notify.Severity) {
	minutes := int64(ev.Elapsed / time.Minute)
	switch ev.Kind {
	case alert.KindRecovered:
		return "DNS Recovered",
			fmt.Sprintf("DNS server %s is working again on %s (down %s).",
				m.cfg.Primary, m.cfg.DeviceName, ev.Elapsed.Round(time.Second)),
			notify.SeverityInfo
	case alert.KindCritical:
		return "Critical: All DNS Down",
			fmt.Sprintf("Both primary (%s) and fallback (%s) DNS failed on %s",
				m.cfg.Primary, m.cfg.Secondary, m.cfg.DeviceName),
			notify.SeverityCritical
	default:
		var tail string
		switch m.tier {
		case TierDegraded:
			tail = "Using fallback DNS."
		case TierFailed:
			if m.DistinctSecondary() {
				tail = "Fallback DNS is down too."
			} else {
				tail = "No fallback DNS configured."
			}
		}
		return "DNS Server Down",
			strings.TrimSpace(fmt.Sprintf("Primary DNS %s has been down for %d minutes on %s. %s",
				m.cfg.Primary, minutes, m.cfg.DeviceName, tail)),
			notify.SeverityWarning
	}
}

func deref(p *time.Duration) (time.Duration, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}
