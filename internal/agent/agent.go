// Package agent drives the heartbeat and DNS checks on a ticker and owns
// the lock that serializes access to the DNS monitor's state.
package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/devicewatch/internal/alert"
	"github.com/hamed0406/devicewatch/internal/clock"
	"github.com/hamed0406/devicewatch/internal/dnsmon"
	"github.com/hamed0406/devicewatch/internal/domain"
	"github.com/hamed0406/devicewatch/internal/metrics"
	"github.com/hamed0406/devicewatch/internal/probe"
)

// Publisher receives a fresh status after every pass and every alert
// control change.
type Publisher interface {
	PublishStatus(ctx context.Context, s domain.Status) error
}

type Options struct {
	Device        string
	Firmware      string
	HeartbeatURL  string // empty disables the heartbeat ping
	Interval      time.Duration
	Timeout       time.Duration // heartbeat ping timeout
	DNSCheckEvery int           // run a DNS cycle every N passes
}

type Agent struct {
	Logger    *zap.Logger
	Heartbeat probe.Checker
	Monitor   *dnsmon.Monitor
	Metrics   *metrics.Metrics // optional
	Publisher Publisher        // optional
	Clock     clock.Clock
	Opts      Options

	mu     sync.Mutex
	passes int
	hb     domain.HeartbeatStatus
	boot   domain.BootStatus
}

func New(
	logger *zap.Logger,
	heartbeat probe.Checker,
	monitor *dnsmon.Monitor,
	clk clock.Clock,
	opts Options,
) *Agent {
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.DNSCheckEvery < 1 {
		opts.DNSCheckEvery = 1
	}
	return &Agent{
		Logger:    logger,
		Heartbeat: heartbeat,
		Monitor:   monitor,
		Clock:     clk,
		Opts:      opts,
		hb:        domain.HeartbeatStatus{URL: opts.HeartbeatURL},
	}
}

// Run starts the loop. It does an immediate pass, then runs each tick.
// Stops when ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	if a.Opts.Interval == 0 {
		a.Logger.Info("agent_disabled")
		return
	}
	t := time.NewTicker(a.Opts.Interval)
	defer t.Stop()

	a.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			a.Logger.Info("agent_stopped")
			return
		case <-t.C:
			a.RunOnce(ctx)
		}
	}
}

// RunOnce pings the heartbeat and runs one DNS monitor cycle on the first
// pass, every DNSCheckEvery passes after that, and after a failed heartbeat.
// Only the state update holds the lock; probes and alert delivery do not.
func (a *Agent) RunOnce(ctx context.Context) {
	hbOK := a.heartbeat(ctx)

	a.mu.Lock()
	dnsDue := a.passes%a.Opts.DNSCheckEvery == 0 || !hbOK
	a.passes++
	a.mu.Unlock()

	var res dnsmon.Result
	if dnsDue && a.Monitor != nil {
		res = a.Monitor.Probe(ctx)
		a.mu.Lock()
		notes := a.Monitor.Apply(res)
		a.mu.Unlock()
		a.Monitor.Deliver(ctx, notes)
	}

	if dnsDue && a.Metrics != nil {
		a.Metrics.SetDNSTier(int(res.Tier))
	}
	a.publish(ctx)
}

func (a *Agent) heartbeat(ctx context.Context) bool {
	if a.Opts.HeartbeatURL == "" || a.Heartbeat == nil {
		return true
	}
	cctx, cancel := context.WithTimeout(ctx, a.Opts.Timeout)
	defer cancel()

	out := a.Heartbeat.Check(cctx, a.Opts.HeartbeatURL)
	at := time.Now().UTC()

	a.mu.Lock()
	a.hb = domain.HeartbeatStatus{
		URL:        a.Opts.HeartbeatURL,
		Up:         out.Success,
		HTTPStatus: out.StatusCode,
		LatencyMS:  out.LatencyMS,
		Reason:     out.Message,
		CheckedAt:  &at,
	}
	a.mu.Unlock()

	if a.Metrics != nil {
		a.Metrics.SetHeartbeat(out.Success)
	}
	if out.Success {
		a.Logger.Debug("heartbeat_ok",
			zap.String("url", a.Opts.HeartbeatURL),
			zap.Int("status", out.StatusCode),
			zap.Float64("latency_ms", out.LatencyMS),
		)
	} else {
		a.Logger.Warn("heartbeat_failed",
			zap.String("url", a.Opts.HeartbeatURL),
			zap.Int("status", out.StatusCode),
			zap.String("reason", out.Message),
		)
	}
	return out.Success
}

// SetBoot records the watchdog outcome for status reports.
func (a *Agent) SetBoot(b domain.BootStatus) {
	a.mu.Lock()
	a.boot = b
	a.mu.Unlock()
	if a.Metrics != nil {
		a.Metrics.SetBootFailCount(b.FailCount)
	}
}

// PauseAlerts silences DNS alerts for d; d <= 0 pauses indefinitely.
func (a *Agent) PauseAlerts(ctx context.Context, d time.Duration) {
	a.mu.Lock()
	now := a.Clock.Now()
	if d <= 0 {
		a.Monitor.Alerts().PauseIndefinitely(now)
	} else {
		a.Monitor.Alerts().PauseFor(now, d)
	}
	a.mu.Unlock()

	a.Logger.Info("alerts_paused", zap.Duration("for", d), zap.Bool("indefinite", d <= 0))
	a.publish(ctx)
}

func (a *Agent) ResumeAlerts(ctx context.Context) {
	a.mu.Lock()
	a.Monitor.Alerts().Resume(a.Clock.Now())
	a.mu.Unlock()

	a.Logger.Info("alerts_resumed")
	a.publish(ctx)
}

func (a *Agent) Status() domain.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

func (a *Agent) statusLocked() domain.Status {
	now := a.Clock.Now()
	st := domain.Status{
		Device:        a.Opts.Device,
		Firmware:      a.Opts.Firmware,
		UptimeSeconds: int64(now / time.Second),
		Heartbeat:     a.hb,
		Boot:          a.boot,
		GeneratedAt:   time.Now().UTC(),
	}
	if a.Monitor == nil {
		st.DNS.Tier = dnsmon.TierUnknown.String()
		st.Alerts.Mode = "active"
		return st
	}

	m := a.Monitor
	cfg := m.Config()
	last := m.Last()
	st.DNS = domain.DNSStatus{
		Primary:   cfg.Primary,
		Secondary: cfg.Secondary,
		Tier:      m.Tier().String(),
		Policy:    cfg.Policy.String(),
		PrimaryUp: last.Primary.Success,
	}
	if last.SecondaryProbed {
		up := last.Secondary.Success
		st.DNS.SecondaryUp = &up
	}
	if at, ok := m.LastFailureAt(); ok {
		s := int64(at / time.Second)
		st.DNS.LastFailureS = &s
	}
	if at, ok := m.LastRecoveryAt(); ok {
		s := int64(at / time.Second)
		st.DNS.LastRecoveryS = &s
	}

	al := m.Alerts()
	paused := al.IsPaused(now) // expires a lapsed timed pause first
	snap := al.Snapshot()
	st.Alerts = domain.AlertStatus{
		Paused:     paused,
		Mode:       pauseMode(snap.Pause.Mode),
		RemainingS: int64(al.PauseRemaining(now) / time.Second),
		Reported:   snap.Reported,
		Suppressed: snap.Suppressed,
	}
	return st
}

func pauseMode(m alert.PauseMode) string {
	switch m {
	case alert.PausedUntil:
		return "until"
	case alert.PausedIndefinitely:
		return "indefinite"
	default:
		return "active"
	}
}

func (a *Agent) publish(ctx context.Context) {
	st := a.Status()
	if a.Metrics != nil {
		a.Metrics.SetAlertsPaused(st.Alerts.Paused)
	}
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.PublishStatus(ctx, st); err != nil {
		a.Logger.Warn("status_publish_error", zap.Error(err))
	}
}
