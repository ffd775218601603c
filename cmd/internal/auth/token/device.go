package token

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

const deviceIDLen = 32

// DeviceContext captures the connection attributes a device fingerprint is
// derived from.
type DeviceContext struct {
	UserAgent string
	IP        net.IP
}

// DeviceID derives a deterministic device fingerprint from the connection
// context. The same user agent and network origin always map to the same
// fingerprint, which scopes the refresh-token lineage for that device.
func (d DeviceContext) DeviceID() string {
	ua := strings.TrimSpace(d.UserAgent)

	var ip string
	if d.IP != nil {
		ip = d.IP.String()
	}

	sum := sha256.Sum256([]byte(ua + "\n" + ip))
	return hex.EncodeToString(sum[:])[:deviceIDLen]
}

// DeviceFromRequest derives the device context for an HTTP request.
// Proxy headers are deliberately ignored; the fingerprint binds to what the
// server actually observed.
func DeviceFromRequest(r *http.Request) DeviceContext {
	if r == nil {
		return DeviceContext{}
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	return DeviceContext{
		UserAgent: r.UserAgent(),
		IP:        net.ParseIP(strings.TrimSpace(host)),
	}
}
