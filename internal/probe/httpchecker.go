package probe

import (
	"context"
	"io"
	"net/http"
	"time"
)

const userAgent = "devicewatch-heartbeat/1"

// HTTPChecker pings a heartbeat URL with GET. Any 2xx or 3xx answer counts
// as up; redirects are not followed.
type HTTPChecker struct {
	Client *http.Client
}

func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (h *HTTPChecker) Check(ctx context.Context, target string) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return CheckResult{Name: "HTTP", Message: err.Error()}
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := h.Client.Do(req)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return CheckResult{Name: "HTTP", Message: err.Error(), LatencyMS: latency}
	}
	defer resp.Body.Close()
	// drain so the connection can be reused by the next ping
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return CheckResult{
		Name:       "HTTP",
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 400,
		Message:    resp.Status,
		StatusCode: resp.StatusCode,
		LatencyMS:  latency,
	}
}
