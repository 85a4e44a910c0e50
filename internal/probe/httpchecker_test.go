package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestHTTPChecker_StatusClasses(t *testing.T) {
	cases := []struct {
		code int
		up   bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusFound, true},
		{http.StatusNotFound, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, c := range cases {
		t.Run(strconv.Itoa(c.code), func(t *testing.T) {
			s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if c.code == http.StatusFound {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(c.code)
			}))
			defer s.Close()

			out := NewHTTPChecker(2*time.Second).Check(context.Background(), s.URL)
			if out.Success != c.up || out.StatusCode != c.code {
				t.Fatalf("code %d: got %+v", c.code, out)
			}
			if !strings.HasPrefix(out.Message, strconv.Itoa(c.code)) || out.Name != "HTTP" {
				t.Fatalf("unexpected message %q", out.Message)
			}
			if out.LatencyMS < 0 {
				t.Fatalf("latency should be >= 0, got %f", out.LatencyMS)
			}
		})
	}
}

func TestHTTPChecker_SendsUserAgent(t *testing.T) {
	var ua string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.UserAgent()
	}))
	defer s.Close()

	NewHTTPChecker(2*time.Second).Check(context.Background(), s.URL)
	if ua != userAgent {
		t.Fatalf("user agent = %q", ua)
	}
}

func TestHTTPChecker_TimeoutIsDown(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer s.Close()

	out := NewHTTPChecker(50*time.Millisecond).Check(context.Background(), s.URL)
	if out.Success || out.StatusCode != 0 || out.Message == "" {
		t.Fatalf("want transport failure with status 0, got %+v", out)
	}
}

func TestHTTPChecker_BadURL(t *testing.T) {
	out := NewHTTPChecker(time.Second).Check(context.Background(), "://nope")
	if out.Success || out.Message == "" {
		t.Fatalf("want failure for malformed URL, got %+v", out)
	}
}
