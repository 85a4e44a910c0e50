package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hamed0406/devicewatch/internal/domain"
)

func fakeAgent(t *testing.T, seen *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "adm" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		b, _ := io.ReadAll(r.Body)
		*seen = append(*seen, r.Method+" "+r.URL.Path+" "+string(b))
		_ = json.NewEncoder(w).Encode(domain.Status{
			Device:   "dev1",
			Firmware: "1.0.0",
			DNS:      domain.DNSStatus{Primary: "192.168.1.1", Tier: "degraded"},
			Alerts:   domain.AlertStatus{Paused: true, Mode: "indefinite"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_StatusPauseResume(t *testing.T) {
	var seen []string
	srv := fakeAgent(t, &seen)

	var out, errb bytes.Buffer
	if code := run([]string{"-api", srv.URL, "-key", "adm", "status"}, &out, &errb); code != 0 {
		t.Fatalf("status exit %d: %s", code, errb.String())
	}
	if !strings.Contains(out.String(), "degraded") || !strings.Contains(out.String(), "paused until resumed") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}

	if code := run([]string{"-api", srv.URL, "-key", "adm", "pause", "45"}, &out, &errb); code != 0 {
		t.Fatalf("pause exit %d: %s", code, errb.String())
	}
	if code := run([]string{"-api", srv.URL, "-key", "adm", "resume"}, &out, &errb); code != 0 {
		t.Fatalf("resume exit %d: %s", code, errb.String())
	}

	want := []string{
		"GET /api/status ",
		`POST /api/alerts/pause {"minutes":45}`,
		"POST /api/alerts/resume ",
	}
	if len(seen) != len(want) {
		t.Fatalf("requests = %q", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("request %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestRun_Errors(t *testing.T) {
	var seen []string
	srv := fakeAgent(t, &seen)
	var out, errb bytes.Buffer

	if code := run([]string{"-api", srv.URL, "status"}, &out, &errb); code != 1 {
		t.Fatalf("missing key should fail with 1, got %d", code)
	}
	if !strings.Contains(errb.String(), "401") {
		t.Fatalf("error should carry the status: %s", errb.String())
	}
	if code := run([]string{"-api", srv.URL, "pause", "-3"}, &out, &errb); code != 2 {
		t.Fatalf("negative minutes should be a usage error, got %d", code)
	}
	if code := run([]string{"bogus"}, &out, &errb); code != 2 {
		t.Fatalf("unknown command should be a usage error, got %d", code)
	}
}

func TestRun_Install(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(t.TempDir(), "devicewatch")
	if err := os.WriteFile(img, []byte("binary"), 0o755); err != nil {
		t.Fatal(err)
	}

	var out, errb bytes.Buffer
	if code := run([]string{"-dir", dir, "install", img}, &out, &errb); code != 0 {
		t.Fatalf("install exit %d: %s", code, errb.String())
	}
	b, err := os.ReadFile(filepath.Join(dir, "current"))
	if err != nil || string(b) != "binary" {
		t.Fatalf("current slot content = %q, %v", b, err)
	}
}
