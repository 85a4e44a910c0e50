package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hamed0406/devicewatch/internal/domain"
	"github.com/hamed0406/devicewatch/internal/rollback"
)

func usage() {
	fmt.Fprint(os.Stderr, `devicewatchctl - control a running devicewatch agent

Usage:
  devicewatchctl [-api URL] [-key KEY] status
  devicewatchctl [-api URL] [-key KEY] pause [minutes]   (no minutes = until resumed)
  devicewatchctl [-api URL] [-key KEY] resume
  devicewatchctl [-dir DIR] install IMAGE                (stage a new binary in the A/B slots)

Environment: API_BASE, API_KEY, ROLLBACK_DIR
`)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devicewatchctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage
	api := fs.String("api", envOr("API_BASE", "http://127.0.0.1:8080"), "agent API base URL")
	key := fs.String("key", os.Getenv("API_KEY"), "API key")
	dir := fs.String("dir", os.Getenv("ROLLBACK_DIR"), "A/B slot directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage()
		return 2
	}

	c := &client{base: strings.TrimRight(*api, "/"), key: *key, http: &http.Client{Timeout: 10 * time.Second}}
	var (
		st  domain.Status
		err error
	)
	switch cmd := fs.Arg(0); cmd {
	case "status":
		st, err = c.do(http.MethodGet, "/api/status", nil)
	case "pause":
		body := map[string]int{}
		if fs.NArg() > 1 {
			n, perr := strconv.Atoi(fs.Arg(1))
			if perr != nil || n < 0 {
				fmt.Fprintln(stderr, "minutes must be a non-negative number")
				return 2
			}
			body["minutes"] = n
		}
		st, err = c.do(http.MethodPost, "/api/alerts/pause", body)
	case "resume":
		st, err = c.do(http.MethodPost, "/api/alerts/resume", nil)
	case "install":
		return install(*dir, fs.Arg(1), stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage()
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	fmt.Fprintln(stdout, render(st))
	return 0
}

func install(dir, image string, stdout, stderr io.Writer) int {
	if dir == "" || image == "" {
		fmt.Fprintln(stderr, "install needs -dir (or ROLLBACK_DIR) and an image path")
		return 2
	}
	f, err := os.Open(image)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer f.Close()

	slots, err := rollback.NewSlots(dir, nil)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	slot, err := slots.Install(f)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	fmt.Fprintf(stdout, "installed into slot %s; restart the agent to boot it\n", slot)
	return 0
}

type client struct {
	base string
	key  string
	http *http.Client
}

func (c *client) do(method, path string, body any) (domain.Status, error) {
	var st domain.Status
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return st, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		return st, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return st, fmt.Errorf("contacting agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return st, fmt.Errorf("agent returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(12)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func tierStyle(tier string) lipgloss.Style {
	switch tier {
	case "healthy":
		return goodStyle
	case "degraded":
		return warnStyle
	default:
		return badStyle
	}
}

func render(st domain.Status) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}

	dns := tierStyle(st.DNS.Tier).Render(st.DNS.Tier) + "  primary " + st.DNS.Primary
	if st.DNS.Secondary != "" {
		dns += ", fallback " + st.DNS.Secondary
	}

	hb := goodStyle.Render("up")
	if !st.Heartbeat.Up {
		hb = badStyle.Render("down")
	}
	if st.Heartbeat.Reason != "" {
		hb += "  " + st.Heartbeat.Reason
	}

	alerts := goodStyle.Render("active")
	switch st.Alerts.Mode {
	case "until":
		alerts = warnStyle.Render(fmt.Sprintf("paused, %s left", time.Duration(st.Alerts.RemainingS)*time.Second))
	case "indefinite":
		alerts = warnStyle.Render("paused until resumed")
	}

	boot := fmt.Sprintf("%d/%d failed boots", st.Boot.FailCount, st.Boot.Threshold)
	if st.Boot.RolledBackFrom != "" {
		boot += "  " + badStyle.Render("rolled back from v"+st.Boot.RolledBackFrom)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		row("device", fmt.Sprintf("%s  v%s  up %s", st.Device, st.Firmware, time.Duration(st.UptimeSeconds)*time.Second)),
		row("dns", dns),
		row("heartbeat", hb),
		row("alerts", alerts),
		row("boot", boot),
	)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
