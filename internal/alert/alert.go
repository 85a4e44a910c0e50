// Package alert turns a flapping boolean health signal into a small number of
// rate-limited notifications: a debounced "down", spaced "still down" repeats,
// a debounced "recovered", and a once-per-episode critical escalation.
//
// An Alerter is a single-threaded state machine. It performs no I/O; delivery
// happens through the Emitter it was built with.
package alert

import "time"

type Kind int

const (
	KindDown Kind = iota
	KindRecovered
	KindCritical
)

func (k Kind) String() string {
	switch k {
	case KindDown:
		return "down"
	case KindRecovered:
		return "recovered"
	case KindCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Event is one notification decision.
// Elapsed is the time since the episode's first failure.
type Event struct {
	Kind    Kind
	At      time.Duration
	Elapsed time.Duration
}

// Emitter delivers events. Delivery errors are the emitter's business.
type Emitter interface {
	Emit(Event)
}

type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

type Config struct {
	DownConfirm     time.Duration // unhealthy this long before the first alert
	RepeatInterval  time.Duration // minimum spacing between "still down" alerts
	RecoveryConfirm time.Duration // healthy this long before "recovered"

	// AutoResumeOnRecovery lifts a manual pause once recovery is confirmed.
	AutoResumeOnRecovery bool
}

func DefaultConfig() Config {
	return Config{
		DownConfirm:     5 * time.Minute,
		RepeatInterval:  30 * time.Minute,
		RecoveryConfirm: time.Minute,
	}
}

type PauseMode int

const (
	Active PauseMode = iota
	PausedUntil
	PausedIndefinitely
)

type Pause struct {
	Mode  PauseMode
	Until time.Duration // only meaningful for PausedUntil
}

// State is a copy of an Alerter's channel state.
type State struct {
	Reported          bool
	FirstFailureAt    *time.Duration
	LastAlertAt       *time.Duration
	RecoveryStartedAt *time.Duration
	Escalated         bool
	Pause             Pause
	Suppressed        uint64 // events swallowed by a pause
}

type Alerter struct {
	cfg  Config
	emit Emitter

	reported          bool
	firstFailureAt    *time.Duration
	lastAlertAt       *time.Duration
	recoveryStartedAt *time.Duration
	escalated         bool
	pause             Pause
	suppressed        uint64
}

func New(cfg Config, emit Emitter) *Alerter {
	if cfg.DownConfirm < 0 {
		cfg.DownConfirm = 0
	}
	if cfg.RepeatInterval < 0 {
		cfg.RepeatInterval = 0
	}
	if cfg.RecoveryConfirm < 0 {
		cfg.RecoveryConfirm = 0
	}
	if emit == nil {
		emit = EmitterFunc(func(Event) {})
	}
	return &Alerter{cfg: cfg, emit: emit}
}

func (a *Alerter) Config() Config { return a.cfg }

// ReportHealthy records a good sample.
func (a *Alerter) ReportHealthy(now time.Duration) {
	if !a.reported {
		a.firstFailureAt = nil
		a.lastAlertAt = nil
		a.recoveryStartedAt = nil
		a.escalated = false
		return
	}

	if a.recoveryStartedAt == nil {
		a.recoveryStartedAt = stamp(now)
	}
	if now-*a.recoveryStartedAt < a.cfg.RecoveryConfirm {
		return
	}

	ev := Event{Kind: KindRecovered, At: now, Elapsed: now - *a.firstFailureAt}
	a.fire(now, ev)

	a.reported = false
	a.firstFailureAt = nil
	a.lastAlertAt = nil
	a.recoveryStartedAt = nil
	a.escalated = false

	if a.cfg.AutoResumeOnRecovery {
		a.pause = Pause{Mode: Active}
	}
}

// ReportUnhealthy records a bad sample. A relapse during recovery
// confirmation restarts the confirmation from scratch.
func (a *Alerter) ReportUnhealthy(now time.Duration) {
	if a.firstFailureAt == nil {
		a.firstFailureAt = stamp(now)
	}
	a.recoveryStartedAt = nil

	elapsed := now - *a.firstFailureAt
	if elapsed < a.cfg.DownConfirm {
		return
	}
	if a.lastAlertAt != nil && now-*a.lastAlertAt < a.cfg.RepeatInterval {
		return
	}

	a.fire(now, Event{Kind: KindDown, At: now, Elapsed: elapsed})
	a.lastAlertAt = stamp(now)
	a.reported = true
}

// Escalate raises the critical notification class. It fires at most once
// per episode and only while the episode has not been reported yet; callers
// report the failure first so the episode has a start time.
func (a *Alerter) Escalate(now time.Duration) bool {
	if a.reported || a.escalated {
		return false
	}
	if a.firstFailureAt == nil {
		a.firstFailureAt = stamp(now)
	}
	a.recoveryStartedAt = nil

	a.fire(now, Event{Kind: KindCritical, At: now, Elapsed: now - *a.firstFailureAt})
	a.escalated = true
	a.reported = true
	return true
}

func (a *Alerter) PauseFor(now, d time.Duration) {
	if d <= 0 {
		a.pause = Pause{Mode: Active}
		return
	}
	a.pause = Pause{Mode: PausedUntil, Until: now + d}
}

func (a *Alerter) PauseIndefinitely(now time.Duration) {
	a.pause = Pause{Mode: PausedIndefinitely}
}

func (a *Alerter) Resume(now time.Duration) {
	a.pause = Pause{Mode: Active}
}

// IsPaused reports whether emission is suppressed at now. A timed pause
// expires exactly at its deadline and flips back to Active.
func (a *Alerter) IsPaused(now time.Duration) bool {
	switch a.pause.Mode {
	case PausedIndefinitely:
		return true
	case PausedUntil:
		if now >= a.pause.Until {
			a.pause = Pause{Mode: Active}
			return false
		}
		return true
	default:
		return false
	}
}

// PauseRemaining is zero when not paused or paused indefinitely.
func (a *Alerter) PauseRemaining(now time.Duration) time.Duration {
	if !a.IsPaused(now) || a.pause.Mode != PausedUntil {
		return 0
	}
	return a.pause.Until - now
}

func (a *Alerter) Reported() bool { return a.reported }

func (a *Alerter) Snapshot() State {
	return State{
		Reported:          a.reported,
		FirstFailureAt:    clone(a.firstFailureAt),
		LastAlertAt:       clone(a.lastAlertAt),
		RecoveryStartedAt: clone(a.recoveryStartedAt),
		Escalated:         a.escalated,
		Pause:             a.pause,
		Suppressed:        a.suppressed,
	}
}

// fire delivers ev unless paused. Callers advance state either way.
func (a *Alerter) fire(now time.Duration, ev Event) {
	if a.IsPaused(now) {
		a.suppressed++
		return
	}
	a.emit.Emit(ev)
}

func stamp(t time.Duration) *time.Duration { return &t }

func clone(p *time.Duration) *time.Duration {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
