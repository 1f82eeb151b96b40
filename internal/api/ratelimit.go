package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yangwenmai/gitpodcast/internal/model"
	"github.com/yangwenmai/gitpodcast/internal/podcast"
)

// clientLimiter keeps one token bucket per client IP.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{
		clients: make(map[string]*client),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
	}
}

func (l *clientLimiter) allow(id string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[id]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[id] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// sweep drops clients idle for longer than idle and returns how many were dropped.
func (l *clientLimiter) sweep(now time.Time, idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, c := range l.clients {
		if now.Sub(c.lastSeen) > idle {
			delete(l.clients, id)
			n++
		}
	}
	return n
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r), time.Now()) {
			w.Header().Set("Content-Type", "application/json")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: podcast.MsgRateLimited,
				Code:  string(model.CodeRateLimited),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of RemoteAddr, which middleware.RealIP has
// already rewritten from X-Forwarded-For / X-Real-IP when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
