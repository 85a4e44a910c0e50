// Package watchdog detects crash loops across reboots and rolls the device
// back to the previous firmware once too many boots in a row never reach
// MarkValid.
//
// Every boot counts as a failure until proven otherwise: Boot increments the
// persisted counter before anything else runs, and only MarkValid (or the
// rollback itself) clears it.
package watchdog

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/devicewatch/internal/clock"
	"github.com/hamed0406/devicewatch/internal/notify"
	"github.com/hamed0406/devicewatch/internal/store"
)

const (
	Namespace = "ota_rollback"

	KeyBootFailCount    = "boot_fail_count"
	KeyLastRollbackFrom = "last_rollback_from"
	KeyRollbackTime     = "rollback_time"

	DefaultThreshold uint32 = 10
	// MinThreshold keeps the boot right after MarkValid from rolling back.
	MinThreshold uint32 = 2
)

// Controller is the update system's self-test hook.
type Controller interface {
	// RollbackAndReboot does not return on success.
	RollbackAndReboot() error
	MarkAppValid() error
}

// Rebooter is the plain-reboot fallback used when a rollback cannot start.
type Rebooter interface {
	Reboot() error
}

type Config struct {
	DeviceName string
	Version    string
	Threshold  uint32
}

type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeRollback
)

func (o Outcome) String() string {
	if o == OutcomeRollback {
		return "rollback"
	}
	return "continue"
}

// Provenance describes the rollback that led to this boot.
type Provenance struct {
	From string
	At   time.Duration // monotonic time of the rollback, in the previous boot
}

type Decision struct {
	Outcome       Outcome
	BootFailCount uint32
	Previous      *Provenance
	Err           error // rollback and fallback reboot errors, if they returned
}

type Watchdog struct {
	kv       store.KV
	ctl      Controller
	reboot   Rebooter
	notifier notify.Notifier
	clk      clock.Clock
	log      *zap.Logger
	cfg      Config
}

func New(kv store.KV, ctl Controller, reboot Rebooter, n notify.Notifier, clk clock.Clock, log *zap.Logger, cfg Config) *Watchdog {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < MinThreshold {
		cfg.Threshold = MinThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watchdog{kv: kv, ctl: ctl, reboot: reboot, notifier: n, clk: clk, log: log, cfg: cfg}
}

func (w *Watchdog) Threshold() uint32 { return w.cfg.Threshold }

// Boot must run before any other subsystem initializes. It reports the
// rollback that preceded this boot (once), then either counts this boot as
// a failure or, when the count reaches the threshold, rolls back.
func (w *Watchdog) Boot(ctx context.Context) Decision {
	d := Decision{Previous: w.consumeProvenance(ctx)}

	count := saturatingInc(w.readCount(ctx))
	w.log.Info("watchdog_boot",
		zap.Uint32("boot_fail_count", count),
		zap.Uint32("threshold", w.cfg.Threshold),
		zap.String("version", w.cfg.Version),
	)

	if count >= w.cfg.Threshold {
		d.Outcome = OutcomeRollback
		d.Err = w.rollback(ctx, count)
		return d
	}

	if err := w.kv.PutUint(ctx, KeyBootFailCount, uint64(count)); err != nil {
		w.warn(ctx, "Boot counter write failed", fmt.Sprintf("Could not persist boot failure count %d: %v", count, err))
	}
	d.BootFailCount = count
	return d
}

// MarkValid confirms that initialization completed. The counter is reset even
// when the controller fails, since the boot itself was healthy.
func (w *Watchdog) MarkValid(ctx context.Context) error {
	var errs error
	if err := w.ctl.MarkAppValid(); err != nil {
		w.log.Error("watchdog_mark_valid_failed", zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("mark app valid: %w", err))
	} else {
		w.log.Info("watchdog_firmware_valid", zap.String("version", w.cfg.Version))
	}
	if err := w.kv.PutUint(ctx, KeyBootFailCount, 0); err != nil {
		w.log.Error("watchdog_reset_failed", zap.Error(err))
		errs = multierr.Append(errs, err)
	} else {
		w.log.Info("watchdog_counter_reset")
	}
	return errs
}

// BootFailCount reads the persisted counter; read failures yield 0.
func (w *Watchdog) BootFailCount(ctx context.Context) uint32 {
	v, err := w.kv.GetUint(ctx, KeyBootFailCount, 0)
	if err != nil {
		return 0
	}
	return clamp(v)
}

func (w *Watchdog) readCount(ctx context.Context) uint32 {
	v, err := w.kv.GetUint(ctx, KeyBootFailCount, 0)
	if err != nil {
		w.warn(ctx, "Boot counter unreadable",
			fmt.Sprintf("Boot failure counter could not be read on %s (%v); assuming 0.", w.cfg.DeviceName, err))
		return 0
	}
	return clamp(v)
}

func (w *Watchdog) rollback(ctx context.Context, count uint32) error {
	w.log.Error("watchdog_rollback_triggered",
		zap.Uint32("boot_fail_count", count),
		zap.Uint32("threshold", w.cfg.Threshold),
		zap.String("from_version", w.cfg.Version),
	)
	w.send(ctx,
		fmt.Sprintf("OTA Rollback - %s", w.cfg.DeviceName),
		fmt.Sprintf("Device experienced %d boot failures (threshold %d). Rolling back from firmware v%s to previous version. Device will restart.",
			count, w.cfg.Threshold, w.cfg.Version),
		notify.SeverityWarning)

	// rollback_time first: last_rollback_from marks the pair as complete
	now := w.clk.Now()
	if err := w.kv.PutUint(ctx, KeyRollbackTime, uint64(now.Milliseconds())); err != nil {
		w.log.Warn("watchdog_provenance_write_failed", zap.String("key", KeyRollbackTime), zap.Error(err))
	} else if err := w.kv.PutString(ctx, KeyLastRollbackFrom, w.cfg.Version); err != nil {
		w.log.Warn("watchdog_provenance_write_failed", zap.String("key", KeyLastRollbackFrom), zap.Error(err))
	}
	if err := w.kv.PutUint(ctx, KeyBootFailCount, 0); err != nil {
		w.log.Warn("watchdog_reset_failed", zap.Error(err))
	}

	var errs error
	if err := w.ctl.RollbackAndReboot(); err != nil {
		w.log.Error("watchdog_rollback_failed", zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("rollback: %w", err))
	} else {
		w.log.Error("watchdog_rollback_returned")
	}

	// still here: never retry the rollback in this boot, just restart
	w.log.Warn("watchdog_fallback_reboot")
	if w.reboot == nil {
		return multierr.Append(errs, fmt.Errorf("fallback reboot: no rebooter"))
	}
	if err := w.reboot.Reboot(); err != nil {
		w.log.Error("watchdog_reboot_failed", zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("fallback reboot: %w", err))
	}
	return errs
}

// consumeProvenance reports a completed rollback exactly once.
func (w *Watchdog) consumeProvenance(ctx context.Context) *Provenance {
	from, err := w.kv.GetString(ctx, KeyLastRollbackFrom, "")
	if err != nil {
		w.log.Warn("watchdog_provenance_read_failed", zap.Error(err))
		return nil
	}
	if from == "" {
		// a rollback_time without its marker is a torn write; drop it
		ok, err := w.kv.Has(ctx, KeyRollbackTime)
		if err != nil {
			w.log.Warn("watchdog_provenance_read_failed", zap.String("key", KeyRollbackTime), zap.Error(err))
			return nil
		}
		if ok {
			if err := w.kv.Remove(ctx, KeyRollbackTime); err != nil {
				w.log.Warn("watchdog_provenance_clear_failed", zap.String("key", KeyRollbackTime), zap.Error(err))
			}
		}
		return nil
	}

	ms, err := w.kv.GetUint(ctx, KeyRollbackTime, 0)
	if err != nil {
		w.log.Warn("watchdog_provenance_read_failed", zap.Error(err))
	}
	p := &Provenance{From: from, At: time.Duration(ms) * time.Millisecond}

	w.log.Warn("watchdog_rolled_back",
		zap.String("from_version", p.From),
		zap.String("running_version", w.cfg.Version),
		zap.Duration("rollback_at", p.At),
	)
	w.send(ctx,
		fmt.Sprintf("OTA Rollback Completed - %s", w.cfg.DeviceName),
		fmt.Sprintf("Rolled back from firmware v%s (initiated %d ms after boot). Now running v%s.",
			p.From, ms, w.cfg.Version),
		notify.SeverityInfo)

	if err := w.kv.Remove(ctx, KeyLastRollbackFrom); err != nil {
		w.log.Warn("watchdog_provenance_clear_failed", zap.Error(err))
		return p
	}
	if err := w.kv.Remove(ctx, KeyRollbackTime); err != nil {
		w.log.Warn("watchdog_provenance_clear_failed", zap.Error(err))
	}
	return p
}

func (w *Watchdog) warn(ctx context.Context, title, text string) {
	w.log.Warn("watchdog_store_anomaly", zap.String("detail", text))
	w.send(ctx, title, text, notify.SeverityWarning)
}

func (w *Watchdog) send(ctx context.Context, title, text string, sev notify.Severity) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Send(ctx, title, text, sev); err != nil {
		w.log.Warn("watchdog_notify_failed", zap.String("title", title), zap.Error(err))
	}
}

func saturatingInc(v uint32) uint32 {
	if v == math.MaxUint32 {
		return v
	}
	return v + 1
}

func clamp(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
