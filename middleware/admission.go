package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"cocode/pkg/logger"
)

// ConnLimiter tracks the number of open websocket connections per source
// address. Admit reserves a slot, Release frees it; entries are removed once
// they reach zero so the map never grows past the set of active addresses.
type ConnLimiter struct {
	mu      sync.Mutex
	max     int
	perAddr map[string]int
}

func NewConnLimiter(max int) *ConnLimiter {
	return &ConnLimiter{max: max, perAddr: make(map[string]int)}
}

// Admit reserves a connection slot for addr. It returns false when the
// address is already at the ceiling.
func (l *ConnLimiter) Admit(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perAddr[addr] >= l.max {
		return false
	}
	l.perAddr[addr]++
	return true
}

// Release frees a previously admitted slot.
func (l *ConnLimiter) Release(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n, ok := l.perAddr[addr]; ok {
		if n <= 1 {
			delete(l.perAddr, addr)
		} else {
			l.perAddr[addr] = n - 1
		}
	}
}

// Count returns the number of open connections attributed to addr.
func (l *ConnLimiter) Count(addr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perAddr[addr]
}

// AdmissionGate validates incoming connections before the websocket handshake:
// an origin allow-list check (enforced only in restricted mode) and a per-IP
// connection ceiling. Rejection is terminal for the attempt; any retry policy
// lives with the client.
type AdmissionGate struct {
	Limiter        *ConnLimiter
	AllowedOrigins []string
	CheckOrigin    bool
}

func NewAdmissionGate(maxPerIP int, allowedOrigins []string, checkOrigin bool) *AdmissionGate {
	return &AdmissionGate{
		Limiter:        NewConnLimiter(maxPerIP),
		AllowedOrigins: allowedOrigins,
		CheckOrigin:    checkOrigin,
	}
}

// OriginAllowed reports whether origin passes the allow-list. An absent origin
// header is always allowed (non-browser clients), as is any origin when
// checking is disabled. Matching is a case-sensitive prefix match.
func (g *AdmissionGate) OriginAllowed(origin string) bool {
	if !g.CheckOrigin || origin == "" {
		return true
	}
	for _, allowed := range g.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// SourceAddr extracts the client address used for rate limiting, preferring
// X-Forwarded-For when present (proxied deployments).
func SourceAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Middleware wraps the websocket endpoint with the admission checks. The
// reserved slot is handed to the next handler via the request header so the
// socket layer can release it when the connection closes.
func (g *AdmissionGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !g.OriginAllowed(origin) {
			logger.Sugar.Warnf("Rejected connection from origin: %s", origin)
			http.Error(w, "Forbidden origin", http.StatusForbidden)
			return
		}

		addr := SourceAddr(r)
		if !g.Limiter.Admit(addr) {
			logger.Sugar.Warnf("Rate limit exceeded for IP: %s", addr)
			http.Error(w, "Too many connections", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
