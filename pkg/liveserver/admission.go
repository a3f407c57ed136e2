package liveserver

import (
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainwatch",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Dashboard WebSocket clients currently connected",
	})
	wsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainwatch",
		Subsystem: "ws",
		Name:      "rejected_total",
		Help:      "WebSocket connections refused before the upgrade",
	}, []string{"reason"})
	wsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chainwatch",
		Subsystem: "ws",
		Name:      "dropped_total",
		Help:      "Clients disconnected because they fell behind the broadcast stream",
	})
)

func init() {
	prometheus.MustRegister(wsClients, wsRejected, wsDropped)
}

// Rejection reasons, also used as metric labels.
const (
	rejectMissingOrigin = "missing_origin"
	rejectOrigin        = "invalid_origin"
	rejectRate          = "rate_limit"
	rejectCapacity      = "connection_limit"
)

// originPolicy decides which browser origins may open a socket.
type originPolicy struct {
	allowed    []string
	production bool
}

// check returns "" when origin is acceptable, otherwise the rejection reason.
// Only scheme and host take part in the comparison.
func (p originPolicy) check(origin string) string {
	if origin == "" {
		return rejectMissingOrigin
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return rejectOrigin
	}
	normalized := u.Scheme + "://" + u.Host
	for _, allowed := range p.allowed {
		switch {
		case allowed == "*" && !p.production:
			return ""
		case allowed == normalized:
			return ""
		}
	}
	return rejectOrigin
}

// gate bounds concurrent sockets and throttles new ones per remote IP.
type gate struct {
	slots chan struct{}

	mu       sync.Mutex
	limit    rate.Limit // 0 disables throttling
	burst    int
	limiters map[string]*rate.Limiter
}

func newGate(maxConnections int, limit float64, burst int) *gate {
	if maxConnections <= 0 {
		maxConnections = 1000
	}
	if burst <= 0 {
		burst = 1
	}
	return &gate{
		slots:    make(chan struct{}, maxConnections),
		limit:    rate.Limit(limit),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow spends one token of ip's limiter.
func (g *gate) allow(ip string) bool {
	if g.limit <= 0 {
		return true
	}
	g.mu.Lock()
	l, ok := g.limiters[ip]
	if !ok {
		l = rate.NewLimiter(g.limit, g.burst)
		g.limiters[ip] = l
	}
	g.mu.Unlock()
	return l.Allow()
}

// acquire takes a connection slot. The returned release must be called once.
func (g *gate) acquire() (release func(), ok bool) {
	select {
	case g.slots <- struct{}{}:
		wsClients.Inc()
		return func() {
			<-g.slots
			wsClients.Dec()
		}, true
	default:
		return nil, false
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admit applies the origin policy, the per-IP throttle and the connection
// cap, in that order. On refusal it has already written the HTTP error.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) (release func(), ok bool) {
	reject := func(reason string, status int, msg string) (func(), bool) {
		wsRejected.WithLabelValues(reason).Inc()
		s.warn("WebSocket connection refused", "reason", reason, "remote_addr", r.RemoteAddr, "origin", r.Header.Get("Origin"))
		http.Error(w, msg, status)
		return nil, false
	}

	if reason := s.origins.check(r.Header.Get("Origin")); reason != "" {
		return reject(reason, http.StatusForbidden, "Origin not allowed")
	}
	if !s.gate.allow(remoteIP(r)) {
		return reject(rejectRate, http.StatusTooManyRequests, "Too many requests")
	}
	release, ok = s.gate.acquire()
	if !ok {
		return reject(rejectCapacity, http.StatusServiceUnavailable, "Server busy")
	}
	return release, true
}
