package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DeviceName string
	Version    string // firmware version reported in alerts and status

	Addr     string // API bind address, e.g. "127.0.0.1:8080" or ":8080" in a container
	LogDir   string
	LogLevel string

	// Persistence. DatabaseURL wins over DataDir; MemoryStore is for dev only.
	DataDir     string // sqlite file lives here
	DatabaseURL string
	MemoryStore bool

	PublicAPIKeys []string
	AdminAPIKeys  []string
	CORSOrigins   []string
	PublicRPM     int
	PublicBurst   int
	AdminRPM      int
	AdminBurst    int

	HeartbeatURL      string
	HeartbeatInterval time.Duration
	HTTPTimeout       time.Duration
	RetryAttempts     int
	RetryBackoff      time.Duration
	DNSCheckEvery     int

	PrimaryDNS      string
	SecondaryDNS    string
	DNSTestHost     string
	DNSTimeout      time.Duration
	DegradedPolicy  string
	DownConfirm     time.Duration
	RepeatInterval  time.Duration
	RecoveryConfirm time.Duration
	AutoResume      bool

	BootFailThreshold uint32
	RollbackDir       string // A/B slot directory; empty disables rollback

	SlackWebhook   string
	PushoverToken  string
	PushoverUser   string
	TelegramToken  string
	TelegramChatID string
	NotifyTimeout  time.Duration

	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string
	MQTTPrefix   string
}

// FromEnv reads the environment after loading an optional .env file.
// Values already set in the environment take precedence over .env.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		DeviceName: str("DEVICE_NAME", hostname()),
		Version:    str("FIRMWARE_VERSION", "dev"),

		Addr:     str("API_ADDR", "127.0.0.1:8080"),
		LogDir:   str("LOG_DIR", "logs"),
		LogLevel: str("LOG_LEVEL", "info"),

		DataDir:     str("DATA_DIR", "data"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		MemoryStore: boolean("MEMORY_STORE", false),

		PublicAPIKeys: list("PUBLIC_API_KEYS"),
		AdminAPIKeys:  list("ADMIN_API_KEYS"),
		CORSOrigins:   list("CORS_ORIGINS"),
		PublicRPM:     integer("PUBLIC_RPM", 120, 0),
		PublicBurst:   integer("PUBLIC_BURST", 30, 1),
		AdminRPM:      integer("ADMIN_RPM", 30, 0),
		AdminBurst:    integer("ADMIN_BURST", 5, 1),

		HeartbeatURL:      os.Getenv("HEARTBEAT_URL"),
		HeartbeatInterval: millis("HEARTBEAT_INTERVAL_MS", 5*time.Second),
		HTTPTimeout:       millis("HTTP_TIMEOUT_MS", 10*time.Second),
		RetryAttempts:     integer("RETRY_ATTEMPTS", 2, 1),
		RetryBackoff:      millis("RETRY_BACKOFF_MS", 300*time.Millisecond),
		DNSCheckEvery:     integer("DNS_CHECK_EVERY", 10, 1),

		PrimaryDNS:      str("PRIMARY_DNS", "192.168.1.1"),
		SecondaryDNS:    os.Getenv("SECONDARY_DNS"),
		DNSTestHost:     str("DNS_TEST_HOST", "httpbin.org"),
		DNSTimeout:      millis("DNS_TIMEOUT_MS", 5*time.Second),
		DegradedPolicy:  str("DNS_DEGRADED_POLICY", "conservative"),
		DownConfirm:     millis("ALERT_DOWN_CONFIRM_MS", 5*time.Minute),
		RepeatInterval:  millis("ALERT_REPEAT_MS", 30*time.Minute),
		RecoveryConfirm: millis("ALERT_RECOVERY_CONFIRM_MS", time.Minute),
		AutoResume:      boolean("ALERT_AUTO_RESUME", false),

		BootFailThreshold: uint32(integer("BOOT_FAIL_THRESHOLD", 10, 2)),
		RollbackDir:       os.Getenv("ROLLBACK_DIR"),

		SlackWebhook:   os.Getenv("SLACK_WEBHOOK_URL"),
		PushoverToken:  os.Getenv("PUSHOVER_TOKEN"),
		PushoverUser:   os.Getenv("PUSHOVER_USER"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),
		NotifyTimeout:  millis("NOTIFY_TIMEOUT_MS", 10*time.Second),

		MQTTBroker:   os.Getenv("MQTT_BROKER"),
		MQTTUsername: os.Getenv("MQTT_USERNAME"),
		MQTTPassword: os.Getenv("MQTT_PASSWORD"),
		MQTTClientID: os.Getenv("MQTT_CLIENT_ID"),
		MQTTPrefix:   str("MQTT_PREFIX", "homeassistant"),
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "devicewatch"
	}
	return h
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// integer falls back to def when unset, malformed or below min.
func integer(key string, def, min int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= min {
			return n
		}
	}
	return def
}

// millis reads a duration given in milliseconds; negatives fall back to def.
func millis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func boolean(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// list splits a comma separated value, dropping blanks.
func list(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
