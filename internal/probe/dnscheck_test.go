package probe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestServerAddr(t *testing.T) {
	cases := []struct{ in, want string }{
		{"1.1.1.1", "1.1.1.1:53"},
		{" 8.8.8.8 ", "8.8.8.8:53"},
		{"9.9.9.9:5353", "9.9.9.9:5353"},
		{"2606:4700:4700::1111", "[2606:4700:4700::1111]:53"},
		{"", ""},
	}
	for _, c := range cases {
		if got := ServerAddr(c.in); got != c.want {
			t.Fatalf("ServerAddr(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestClassifyDNS(t *testing.T) {
	cases := []struct {
		name string
		ips  []net.IP
		err  error
		want string
	}{
		{"resolves", []net.IP{net.IPv4(1, 2, 3, 4)}, nil, "RESOLVES"},
		{"empty", nil, nil, "NO_A_RECORD"},
		{"nxdomain", nil, &net.DNSError{IsNotFound: true}, "NXDOMAIN"},
		{"timeout", nil, &net.DNSError{IsTimeout: true}, "SERVFAIL_or_TIMEOUT"},
		{"other", nil, errors.New("boom"), "SERVFAIL_or_TIMEOUT"},
	}
	for _, c := range cases {
		if got := classifyDNS(c.ips, c.err); got != c.want {
			t.Fatalf("%s: got %q want %q", c.name, got, c.want)
		}
	}
}

func TestDNSServerChecker_UnreachableServerFails(t *testing.T) {
	chk := NewDNSServerChecker("example.invalid", 200*time.Millisecond)
	out := chk.Check(context.Background(), "127.0.0.1:1")
	if out.Success {
		t.Fatalf("want failure against a dead server, got %+v", out)
	}
	if out.Name != "DNS" || out.Message == "" {
		t.Fatalf("unexpected result %+v", out)
	}
}
