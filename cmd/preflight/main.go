// cmd/preflight/main.go
package main

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/hamed0406/devicewatch/internal/config"
	"github.com/hamed0406/devicewatch/internal/dnsmon"
)

func main() {
	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg := config.FromEnv()

	if net.ParseIP(cfg.PrimaryDNS) == nil && !strings.Contains(cfg.PrimaryDNS, ":") {
		warn("PRIMARY_DNS=" + cfg.PrimaryDNS + " is not an IP address; it will be resolved first.")
	} else {
		ok("PRIMARY_DNS=" + cfg.PrimaryDNS)
	}
	switch {
	case cfg.SecondaryDNS == "":
		warn("SECONDARY_DNS empty: a primary outage is always reported as failed.")
	case strings.EqualFold(strings.TrimSpace(cfg.SecondaryDNS), strings.TrimSpace(cfg.PrimaryDNS)):
		warn("SECONDARY_DNS equals PRIMARY_DNS: the fallback adds nothing and is skipped.")
	default:
		ok("SECONDARY_DNS=" + cfg.SecondaryDNS)
	}
	if _, err := dnsmon.ParsePolicy(cfg.DegradedPolicy); err != nil {
		fail("DNS_DEGRADED_POLICY: " + err.Error())
	}

	if cfg.HeartbeatURL == "" {
		warn("HEARTBEAT_URL empty: only DNS is monitored.")
	} else {
		ok("HEARTBEAT_URL present")
	}

	channels := 0
	for name, set := range map[string]bool{
		"Slack":    cfg.SlackWebhook != "",
		"Pushover": cfg.PushoverToken != "" && cfg.PushoverUser != "",
		"Telegram": cfg.TelegramToken != "" && cfg.TelegramChatID != "",
	} {
		if set {
			ok(name + " notifications configured")
			channels++
		}
	}
	if channels == 0 {
		warn("no notification channel configured: alerts only reach the log.")
	}

	if len(cfg.AdminAPIKeys) == 0 {
		if strings.HasPrefix(cfg.Addr, "127.0.0.1") || strings.HasPrefix(cfg.Addr, "localhost") {
			warn("ADMIN_API_KEYS empty: anyone on this host can pause alerts.")
		} else {
			fail("ADMIN_API_KEYS empty while API_ADDR=" + cfg.Addr + " is reachable from the network.")
		}
	}
	for name, keys := range map[string][]string{"ADMIN_API_KEYS": cfg.AdminAPIKeys, "PUBLIC_API_KEYS": cfg.PublicAPIKeys} {
		for _, k := range keys {
			if len(k) < 16 {
				warn(name + " contains a key shorter than 16 characters.")
				break
			}
		}
	}

	switch {
	case cfg.DatabaseURL != "":
		ok("DATABASE_URL present (boot counter stored in Postgres)")
	case cfg.MemoryStore:
		fail("MEMORY_STORE=true: the boot counter would not survive a restart.")
	default:
		ok("boot counter stored in " + cfg.DataDir)
	}
	if cfg.RollbackDir == "" {
		warn("ROLLBACK_DIR empty: crash loops restart the agent but cannot roll back.")
	} else if _, err := os.Stat(cfg.RollbackDir); err != nil {
		warn("ROLLBACK_DIR " + cfg.RollbackDir + " not found yet; it is created on first start.")
	} else {
		ok("ROLLBACK_DIR=" + cfg.RollbackDir)
	}

	if cfg.MQTTBroker != "" && !strings.Contains(cfg.MQTTBroker, "://") {
		fail("MQTT_BROKER must include a scheme, e.g. tcp://host:1883")
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}
