package ratelimit_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/coedit/internal/app/system/ratelimit"
)

func TestAllow_LimitsPerKey(t *testing.T) {
	l := ratelimit.New(3, time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		if !l.Allow("conn-a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("conn-a") {
		t.Error("fourth request should be limited")
	}
	if !l.Allow("conn-b") {
		t.Error("other keys are independent")
	}
	if got := l.Remaining("conn-b"); got != 2 {
		t.Errorf("Remaining = %d, want 2", got)
	}

	l.Reset("conn-a")
	if !l.Allow("conn-a") {
		t.Error("Reset should clear the window")
	}
}

func TestAllow_WindowExpires(t *testing.T) {
	l := ratelimit.New(1, 20*time.Millisecond)
	defer l.Close()

	if !l.Allow("k") || l.Allow("k") {
		t.Fatal("expected one request per window")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("k") {
		t.Error("new window should allow again")
	}
}

func TestAllow_ZeroLimitDisables(t *testing.T) {
	l := ratelimit.New(0, time.Second)
	defer l.Close()
	for i := 0; i < 100; i++ {
		if !l.Allow("k") {
			t.Fatal("zero limit should allow everything")
		}
	}
	l.Close()
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := ratelimit.ClientIP(r); got != "10.0.0.1" {
		t.Errorf("ClientIP = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ratelimit.ClientIP(r); got != "203.0.113.7" {
		t.Errorf("ClientIP with XFF = %q", got)
	}
}
