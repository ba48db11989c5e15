package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// minBucketIdle is the shortest time a caller's bucket is kept after its last
// request.
const minBucketIdle = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter keeps one token bucket per caller. Authenticated callers are
// keyed by user id, anonymous ones by client IP (the /64 prefix for IPv6).
type RateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastPrune time.Time
	now       func() time.Time
	buckets   map[string]*bucket
}

// NewRateLimiter allows perSecond requests per caller with the given burst.
// A non-positive rate disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	idle := minBucketIdle
	if perSecond > 0 {
		// a bucket is only dropped once it would have refilled anyway
		if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		buckets: map[string]*bucket{},
	}
}

func (l *RateLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastPrune) >= l.idle {
		for k, b := range l.buckets {
			if now.Sub(b.seen) >= l.idle {
				delete(l.buckets, k)
			}
		}
		l.lastPrune = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// clientKey drops the port so every connection from one host shares a bucket.
func clientKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.Mask(net.CIDRMask(64, 128)).String() + "/64"
}

func (l *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	if l == nil || l.limit <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := SubjectFromContext(r.Context())
		if ok {
			key = "uid:" + key
		} else {
			key = "ip:" + clientKey(r.RemoteAddr)
		}
		now := l.now()
		res := l.bucket(key).ReserveN(now, 1)
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			w.Header().Set("Retry-After", strconv.Itoa(int(delay.Round(time.Second)/time.Second)+1))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
