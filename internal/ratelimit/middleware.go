package ratelimit

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
)

// KeyFunc derives the client key of a request.
type KeyFunc func(r *http.Request) string

// ClientKey keys on the RemoteAddr host. X-Forwarded-For is ignored; use
// TrustedProxies.KeyFunc behind a reverse proxy.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// TrustedProxies lists the peers allowed to set X-Forwarded-For.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies accepts bare IPs and CIDR prefixes.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	out := make(TrustedProxies, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func (t TrustedProxies) contains(s string) bool {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range t {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// KeyFunc keys on the RemoteAddr host unless that peer is trusted. For a
// trusted peer it walks X-Forwarded-For right to left and returns the first
// hop that is not itself a trusted proxy.
func (t TrustedProxies) KeyFunc() KeyFunc {
	return func(r *http.Request) string {
		peer := ClientKey(r)
		if len(t) == 0 || !t.contains(peer) {
			return peer
		}
		hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if _, err := netip.ParseAddr(hop); err != nil {
				// Garbage from the client side of the chain; stop trusting it.
				return peer
			}
			if !t.contains(hop) {
				return hop
			}
		}
		return peer
	}
}

// Options configures the middleware.
type Options struct {
	Store *Store
	KeyFn KeyFunc
	// Skip exempts matching requests, e.g. probes and scrapes.
	Skip func(r *http.Request) bool
	// OnReject is called for every throttled request.
	OnReject func(r *http.Request, key string)
}

type rejectBody struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// Middleware rejects requests over the per-client rate with 429 and Retry-After.
func Middleware(opts Options) func(http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = ClientKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip != nil && opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			key := opts.KeyFn(r)
			ok, wait := opts.Store.Allow(key)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			if opts.OnReject != nil {
				opts.OnReject(r, key)
			}
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(rejectBody{
				Code:              "rate_limited",
				Message:           "too many requests",
				RetryAfterSeconds: secs,
			})
		})
	}
}
