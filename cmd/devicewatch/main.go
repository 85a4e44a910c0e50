package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/devicewatch/internal/agent"
	"github.com/hamed0406/devicewatch/internal/alert"
	"github.com/hamed0406/devicewatch/internal/clock"
	"github.com/hamed0406/devicewatch/internal/config"
	"github.com/hamed0406/devicewatch/internal/dnsmon"
	"github.com/hamed0406/devicewatch/internal/domain"
	"github.com/hamed0406/devicewatch/internal/httpapi"
	apimw "github.com/hamed0406/devicewatch/internal/httpapi/middleware"
	"github.com/hamed0406/devicewatch/internal/logging"
	"github.com/hamed0406/devicewatch/internal/metrics"
	"github.com/hamed0406/devicewatch/internal/mqtt"
	"github.com/hamed0406/devicewatch/internal/notify"
	"github.com/hamed0406/devicewatch/internal/probe"
	"github.com/hamed0406/devicewatch/internal/rollback"
	"github.com/hamed0406/devicewatch/internal/store"
	"github.com/hamed0406/devicewatch/internal/watchdog"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	cfg := config.FromEnv()
	if version != "" {
		cfg.Version = version
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	clk := clock.NewMonotonic()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// never fails: falls back to SQLite, then memory
	backend, closeStore, storeErr := openStore(ctx, cfg, logger)
	defer closeStore()

	m := metrics.New()
	notifier := m.Counting(buildNotifier(cfg, logger))
	if storeErr != nil {
		warnStoreDegraded(ctx, notifier, cfg, storeErr, logger)
	}

	// The watchdog runs before anything that could crash the boot.
	reboot := rollback.ExitRebooter{Code: rollback.ExitCodeReboot, Before: func() { _ = logger.Sync() }}
	var ctl watchdog.Controller = rollback.Unmanaged{}
	if cfg.RollbackDir != "" {
		slots, err := rollback.NewSlots(cfg.RollbackDir, reboot)
		if err != nil {
			logger.Error("rollback_slots_unavailable", zap.Error(err))
		} else {
			ctl = slots
		}
	}
	wd := watchdog.New(store.Namespace(backend, watchdog.Namespace), ctl, reboot, notifier, clk, logger,
		watchdog.Config{DeviceName: cfg.DeviceName, Version: cfg.Version, Threshold: cfg.BootFailThreshold})
	dec := wd.Boot(ctx)
	if dec.Outcome == watchdog.OutcomeRollback {
		// rollback and reboot both returned; keep serving on this image
		logger.Error("watchdog_rollback_incomplete", zap.Error(dec.Err))
	}
	vc := watchdog.TrackVersion(ctx, store.Namespace(backend, watchdog.VersionNamespace), cfg.Version, clk.Now(), logger)

	policy, err := dnsmon.ParsePolicy(cfg.DegradedPolicy)
	if err != nil {
		logger.Warn("dns_policy_invalid", zap.Error(err), zap.Stringer("using", policy))
	}
	monitor := dnsmon.New(dnsmon.Config{
		Primary:       cfg.PrimaryDNS,
		Secondary:     cfg.SecondaryDNS,
		ProbeTimeout:  cfg.DNSTimeout,
		NotifyTimeout: cfg.NotifyTimeout,
		Policy:        policy,
		DeviceName:    cfg.DeviceName,
		Alert: alert.Config{
			DownConfirm:          cfg.DownConfirm,
			RepeatInterval:       cfg.RepeatInterval,
			RecoveryConfirm:      cfg.RecoveryConfirm,
			AutoResumeOnRecovery: cfg.AutoResume,
		},
	}, probe.NewDNSServerChecker(cfg.DNSTestHost, cfg.DNSTimeout), notifier, clk, logger)

	heartbeat := &probe.RetryChecker{
		Inner:    probe.NewHTTPChecker(cfg.HTTPTimeout),
		Attempts: cfg.RetryAttempts,
		Backoff:  cfg.RetryBackoff,
	}
	ag := agent.New(logger, heartbeat, monitor, clk, agent.Options{
		Device:        cfg.DeviceName,
		Firmware:      cfg.Version,
		HeartbeatURL:  cfg.HeartbeatURL,
		Interval:      cfg.HeartbeatInterval,
		Timeout:       cfg.HTTPTimeout,
		DNSCheckEvery: cfg.DNSCheckEvery,
	})
	ag.Metrics = m

	if cfg.MQTTBroker != "" {
		mc, err := mqtt.Connect(mqtt.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Device:   cfg.DeviceName,
			Firmware: cfg.Version,
			Prefix:   cfg.MQTTPrefix,
		}, ag, reboot, logger)
		if err != nil {
			logger.Warn("mqtt_unavailable", zap.Error(err))
		} else {
			ag.Publisher = mc
			defer mc.Close()
		}
	}

	api := httpapi.NewServer(logger, ag, m.Registry)
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.Router(
			apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys},
			cfg.CORSOrigins,
			httpapi.Limits{PublicRPM: cfg.PublicRPM, PublicBurst: cfg.PublicBurst, AdminRPM: cfg.AdminRPM, AdminBurst: cfg.AdminBurst},
		),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		// boot is not valid: the next start counts another failure
		logger.Fatal("api_listen_failed", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_serve_error", zap.Error(err))
		}
	}()

	// everything is up: this image is good
	if err := wd.MarkValid(ctx); err != nil {
		logger.Warn("watchdog_mark_valid_incomplete", zap.Error(err))
	}
	boot := domain.BootStatus{FailCount: wd.BootFailCount(ctx), Threshold: wd.Threshold()}
	if dec.Previous != nil {
		boot.RolledBackFrom = dec.Previous.From
	}
	if vc.Updated {
		boot.UpdatedFrom = vc.Previous
	}
	ag.SetBoot(boot)

	ag.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_error", zap.Error(err))
	}
	logger.Info("devicewatch_stopped")
}

// buildNotifier fans out to every configured channel; the log channel is
// always on.
func buildNotifier(cfg config.Config, logger *zap.Logger) notify.Notifier {
	channels := notify.Multi{notify.Log{Logger: logger}}
	if s := notify.NewSlack(cfg.SlackWebhook); s != nil {
		channels = append(channels, s)
	}
	if p := notify.NewPushover(cfg.PushoverToken, cfg.PushoverUser, cfg.DeviceName); p != nil {
		channels = append(channels, p)
	}
	tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	switch {
	case err != nil:
		logger.Warn("telegram_unavailable", zap.Error(err))
	case tg != nil:
		channels = append(channels, tg)
	}
	logger.Info("notifiers_configured", zap.Int("channels", len(channels)))
	return channels
}
