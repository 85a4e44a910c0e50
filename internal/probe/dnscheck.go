package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// DefaultTestHost is resolved through each DNS server under test.
const DefaultTestHost = "httpbin.org"

// DNSServerChecker checks a DNS server by resolving Host through it.
// The target passed to Check is the server address ("1.1.1.1" or
// "1.1.1.1:53"); an empty target uses the system resolver.
type DNSServerChecker struct {
	Host    string
	Timeout time.Duration
}

func NewDNSServerChecker(host string, timeout time.Duration) *DNSServerChecker {
	if host == "" {
		host = DefaultTestHost
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSServerChecker{Host: host, Timeout: timeout}
}

func (d *DNSServerChecker) Check(ctx context.Context, target string) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	r := resolverFor(target, d.Timeout)
	ips, err := r.LookupIP(ctx, "ip", d.Host)
	latency := time.Since(start).Seconds() * 1000

	class := classifyDNS(ips, err)
	return CheckResult{
		Name:      "DNS",
		Success:   class == "RESOLVES",
		Message:   class,
		LatencyMS: latency,
	}
}

// ServerAddr normalizes a DNS server target to host:port.
func ServerAddr(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	return net.JoinHostPort(target, "53")
}

func resolverFor(target string, timeout time.Duration) *net.Resolver {
	addr := ServerAddr(target)
	if addr == "" {
		return &net.Resolver{} // OS resolver
	}
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			dialer := net.Dialer{Timeout: timeout}
			return dialer.DialContext(ctx, network, addr)
		},
	}
}

// classifyDNS returns "NXDOMAIN" | "NO_A_RECORD" | "RESOLVES" | "SERVFAIL_or_TIMEOUT".
func classifyDNS(ips []net.IP, err error) string {
	if err == nil {
		if len(ips) > 0 {
			return "RESOLVES"
		}
		return "NO_A_RECORD"
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		if de.IsNotFound {
			return "NXDOMAIN"
		}
	}
	return "SERVFAIL_or_TIMEOUT"
}
