package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestRealIPPrefersFlyHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Fly-Client-IP", "203.0.113.1")
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	req.RemoteAddr = "10.0.0.1:1234"

	if got := RealIP(req); got != "203.0.113.1" {
		t.Fatalf("expected Fly-Client-IP to take precedence, got %s", got)
	}
}

func TestRealIPFallsBackToForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.2")
	req.RemoteAddr = "10.0.0.1:1234"

	if got := RealIP(req); got != "198.51.100.1" {
		t.Fatalf("expected first X-Forwarded-For entry, got %s", got)
	}
}

func TestRealIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	if got := RealIP(req); got != "10.0.0.1" {
		t.Fatalf("expected host portion of RemoteAddr, got %s", got)
	}
}

func TestIsWhitelistedExactIP(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"203.0.113.5"}})
	if !rl.isWhitelisted("203.0.113.5") {
		t.Fatal("expected exact IP match to be whitelisted")
	}
	if rl.isWhitelisted("203.0.113.6") {
		t.Fatal("expected non-matching IP to not be whitelisted")
	}
}

func TestIsWhitelistedCIDR(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"10.0.0.0/8"}})
	if !rl.isWhitelisted("10.1.2.3") {
		t.Fatal("expected IP within CIDR to be whitelisted")
	}
	if rl.isWhitelisted("192.168.1.1") {
		t.Fatal("expected IP outside CIDR to not be whitelisted")
	}
}

func TestIsWhitelistedInvalidCIDRIsSkipped(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"not-a-cidr/99"}})
	if rl.isWhitelisted("10.1.2.3") {
		t.Fatal("expected invalid CIDR entry to be skipped rather than match everything")
	}
}

func TestFindLimitMatchesKnownEndpoint(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	req := httptest.NewRequest(http.MethodPost, "/rpc/migrate-agent", nil)

	limit := rl.findLimit(req)
	if limit == nil {
		t.Fatal("expected a matching limit for /rpc/migrate-agent")
	}
	if limit.Requests != 30 {
		t.Fatalf("expected migrate-agent limit of 30, got %d", limit.Requests)
	}
}

func TestFindLimitUnknownEndpointReturnsNil(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/unknown/path", nil)

	if limit := rl.findLimit(req); limit != nil {
		t.Fatalf("expected no matching limit for unknown path, got %+v", limit)
	}
}

func TestNodeKeyPrefersAuthenticatedNode(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/rpc/send-message", nil)
	req.Header.Set("X-Agentd-Node", "node-a")
	if got := nodeKey(req); got != "ratelimit:node:node-a" {
		t.Fatalf("expected node-scoped key, got %s", got)
	}
}

func TestNodeKeyFallsBackToIPWhenUnauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/rpc/send-message", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := nodeKey(req); got != "ratelimit:ip:10.0.0.1" {
		t.Fatalf("expected IP-scoped fallback key, got %s", got)
	}
}

func TestNodeOrIPKeySameBehavior(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/rpc/find-agent", nil)
	req.Header.Set("X-Agentd-Node", "node-a")
	if got := nodeOrIPKey(req); got != "ratelimit:node:node-a" {
		t.Fatalf("expected node-scoped key, got %s", got)
	}
}
