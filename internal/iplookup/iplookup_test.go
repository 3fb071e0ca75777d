package iplookup

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// startDNSServer runs a UDP DNS server on a loopback port and returns
// its address.
func startDNSServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func answerA(ip string) dns.HandlerFunc {
	return func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		rr, err := dns.NewRR(myIPName + " 60 IN A " + ip)
		if err == nil {
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	}
}

func answerServfail() dns.HandlerFunc {
	return func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeServerFailure)
		_ = w.WriteMsg(m)
	}
}

func TestPublicIPv4ViaDNS(t *testing.T) {
	addr := startDNSServer(t, answerA("203.0.113.7"))

	r := New(
		WithEndpoints(addr, "", "", ""),
		WithLogger(discard()),
	)

	ip, err := r.PublicIPv4(context.Background())
	if err != nil {
		t.Fatalf("PublicIPv4 failed: %v", err)
	}
	if ip != "203.0.113.7" {
		t.Errorf("ip = %q, want 203.0.113.7", ip)
	}
	if r.CachedIPv4() != "203.0.113.7" {
		t.Errorf("CachedIPv4 = %q, want 203.0.113.7", r.CachedIPv4())
	}
}

func TestPublicIPv4FallsBackToHTTPS(t *testing.T) {
	addr := startDNSServer(t, answerServfail())

	var httpCalls atomic.Int32
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpCalls.Add(1)
		_, _ = w.Write([]byte("198.51.100.4\n"))
	}))
	t.Cleanup(echo.Close)

	r := New(
		WithEndpoints(addr, "", echo.URL, ""),
		WithLogger(discard()),
	)

	ip, err := r.PublicIPv4(context.Background())
	if err != nil {
		t.Fatalf("PublicIPv4 failed: %v", err)
	}
	if ip != "198.51.100.4" {
		t.Errorf("ip = %q, want 198.51.100.4", ip)
	}
	if got := httpCalls.Load(); got != 1 {
		t.Errorf("echo service called %d times, want 1", got)
	}
}

func TestPublicIPv4UsesFreshCache(t *testing.T) {
	var dnsCalls atomic.Int32
	addr := startDNSServer(t, func(w dns.ResponseWriter, req *dns.Msg) {
		dnsCalls.Add(1)
		answerA("203.0.113.7")(w, req)
	})

	r := New(
		WithEndpoints(addr, "", "", ""),
		WithCacheTTL(time.Hour),
		WithLogger(discard()),
	)

	for i := 0; i < 3; i++ {
		if _, err := r.PublicIPv4(context.Background()); err != nil {
			t.Fatalf("PublicIPv4 call %d failed: %v", i, err)
		}
	}
	if got := dnsCalls.Load(); got != 1 {
		t.Errorf("dns server queried %d times, want 1", got)
	}
}

func TestPublicIPv4ReturnsStaleCacheOnFailure(t *testing.T) {
	addr := startDNSServer(t, answerServfail())

	var fail atomic.Bool
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("198.51.100.4"))
	}))
	t.Cleanup(echo.Close)

	r := New(
		WithEndpoints(addr, "", echo.URL, ""),
		WithCacheTTL(time.Nanosecond),
		WithLogger(discard()),
	)

	if _, err := r.PublicIPv4(context.Background()); err != nil {
		t.Fatalf("initial resolve failed: %v", err)
	}

	fail.Store(true)
	time.Sleep(time.Millisecond)

	ip, err := r.PublicIPv4(context.Background())
	if err != nil {
		t.Fatalf("expected stale cache, got error: %v", err)
	}
	if ip != "198.51.100.4" {
		t.Errorf("ip = %q, want stale 198.51.100.4", ip)
	}
}

func TestPublicIPv4FailsWithoutCache(t *testing.T) {
	addr := startDNSServer(t, answerServfail())

	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(echo.Close)

	r := New(
		WithEndpoints(addr, "", echo.URL, ""),
		WithLogger(discard()),
	)

	if _, err := r.PublicIPv4(context.Background()); err == nil {
		t.Fatal("expected error when dns and https both fail")
	}
	if r.CachedIPv4() != "" {
		t.Errorf("CachedIPv4 = %q, want empty", r.CachedIPv4())
	}
}

func TestEchoServiceGarbageRejected(t *testing.T) {
	addr := startDNSServer(t, answerServfail())

	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not an ip</html>"))
	}))
	t.Cleanup(echo.Close)

	r := New(
		WithEndpoints(addr, "", echo.URL, ""),
		WithLogger(discard()),
	)

	if _, err := r.PublicIPv4(context.Background()); err == nil {
		t.Fatal("expected error for non-IP echo response")
	}
}

func TestPublicIPv6RejectsIPv4Answer(t *testing.T) {
	addr := startDNSServer(t, answerServfail())

	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("198.51.100.4"))
	}))
	t.Cleanup(echo.Close)

	r := New(
		WithEndpoints("", addr, "", echo.URL),
		WithLogger(discard()),
	)

	if _, err := r.PublicIPv6(context.Background()); err == nil {
		t.Fatal("expected error when IPv6 lookup yields an IPv4 address")
	}
}
