package app

import (
	"context"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Reachability reports whether the relay host accepts TCP connections. It
// implements domain.NetworkMonitor for the observer.
type Reachability struct {
	addr    string
	timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	available atomic.Bool
}

// NewReachability probes the host of relayURL. It starts out available so
// the first connection attempt is not delayed by a probe.
func NewReachability(relayURL string) *Reachability {
	r := &Reachability{
		addr:    hostPort(relayURL),
		timeout: 3 * time.Second,
		dial:    (&net.Dialer{}).DialContext,
	}
	r.available.Store(true)
	return r
}

// IsAvailable returns the result of the last probe.
func (r *Reachability) IsAvailable() bool { return r.available.Load() }

// Probe checks the relay once and reports whether availability changed.
func (r *Reachability) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ok := false
	if conn, err := r.dial(ctx, "tcp", r.addr); err == nil {
		_ = conn.Close()
		ok = true
	}
	return r.available.Swap(ok) != ok
}

// Watch probes every interval until ctx ends and calls onChange after each
// transition.
func (r *Reachability) Watch(ctx context.Context, every time.Duration, onChange func()) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if r.Probe(ctx) {
				logrus.WithFields(logrus.Fields{
					"function":  "Watch",
					"addr":      r.addr,
					"available": r.IsAvailable(),
				}).Info("Relay reachability changed")
				onChange()
			}
		}
	}
}

func hostPort(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if u.Port() != "" {
		return u.Host
	}
	switch u.Scheme {
	case "https", "wss":
		return net.JoinHostPort(u.Hostname(), "443")
	default:
		return net.JoinHostPort(u.Hostname(), "80")
	}
}
