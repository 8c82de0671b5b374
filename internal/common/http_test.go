package common

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIPPrefersFirstValidForwardedHop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "unknown, 203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", ClientIP(req))
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5123"
	require.Equal(t, "198.51.100.4", ClientIP(req))

	req.Header.Set("X-Real-IP", "::ffff:192.0.2.7")
	require.Equal(t, "192.0.2.7", ClientIP(req))
}

func TestParsePageCapsLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders?page=3&limit=500", nil)
	p := ParsePage(req, 20, 100)
	require.Equal(t, 3, p.Page)
	require.Equal(t, 100, p.PerPage)
	require.Equal(t, 200, p.Offset())

	env := p.Envelope(250)
	require.Equal(t, 3, env.TotalPages)
	require.Equal(t, 250, env.TotalItems)
}

func TestParsePageDefaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders?page=-1&limit=abc", nil)
	p := ParsePage(req, 20, 100)
	require.Equal(t, PageRequest{Page: 1, PerPage: 20}, p)
	require.Equal(t, 0, p.Envelope(0).TotalPages)
}

func TestScopedKeyIsStable(t *testing.T) {
	a := ScopedKey("payment:callback", "sandbox", "A1")
	require.Equal(t, a, ScopedKey("payment:callback", "sandbox", "A1"))
	require.NotEqual(t, a, ScopedKey("payment:callback", "sandbox", "A2"))
	require.Len(t, a, len("payment:callback:")+64)
}
