// Package connectivity derives the engine's offline signal and watches for
// offline to online transitions.
//
// "Online" here means more than link-layer connectivity: the device must be
// able to reach the backend, and a signed-in user's profile fetch must be
// healthy. A device on Wi-Fi with an unreachable backend is offline for sync
// purposes.
package connectivity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	duress "github.com/SarahJChong/emergency-duress-app-sub000"
	"github.com/SarahJChong/emergency-duress-app-sub000/logging"
)

// NetworkChecker reports link-layer connectivity.
type NetworkChecker interface {
	Connected(ctx context.Context) bool
}

// Prober reports whether the backend is actually reachable.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// InterfaceChecker is a NetworkChecker backed by the host's network
// interfaces: connected means at least one non-loopback address is up.
type InterfaceChecker struct{}

func (InterfaceChecker) Connected(ctx context.Context) bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ipNet.IP.To4() != nil || ipNet.IP.To16() != nil {
			return true
		}
	}
	return false
}

// HTTPProbe is a Prober that issues a lightweight request against a health
// endpoint. Any response at all counts as reachable; the probe is about the
// path to the backend, not the backend's semantic health.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// NewHTTPProbe creates a probe with a short timeout suitable for polling.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProbe) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Checker composes the offline signal from link state, backend reachability
// and profile-fetch health.
type Checker struct {
	network  NetworkChecker
	probe    Prober
	tokens   duress.TokenSource
	profiles duress.ProfileSource
	logger   *logging.Logger
}

// Compile-time check to ensure Checker satisfies the Oracle interface
var _ duress.Oracle = (*Checker)(nil)

// CheckerOption configures a Checker
type CheckerOption func(*Checker)

// WithNetworkChecker overrides the link-layer check.
func WithNetworkChecker(n NetworkChecker) CheckerOption {
	return func(c *Checker) {
		c.network = n
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logging.Logger) CheckerOption {
	return func(c *Checker) {
		c.logger = logger
	}
}

// NewChecker creates the composite connectivity oracle.
func NewChecker(probe Prober, tokens duress.TokenSource, profiles duress.ProfileSource, opts ...CheckerOption) *Checker {
	c := &Checker{
		network:  InterfaceChecker{},
		probe:    probe,
		tokens:   tokens,
		profiles: profiles,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.WithComponent(logging.Component("connectivity"))
	}
	return c
}

// Offline reports the composite offline signal: no link-layer connectivity,
// or the backend probe failing, or a signed-in user whose authoritative
// profile fetch is failing.
func (c *Checker) Offline(ctx context.Context) bool {
	if !c.network.Connected(ctx) {
		c.logger.Debug("offline: no network connectivity")
		return true
	}
	if !c.probe.Reachable(ctx) {
		c.logger.Debug("offline: backend unreachable")
		return true
	}
	if c.tokens.IsSignedIn() {
		if _, err := c.profiles.Profile(ctx); err != nil {
			c.logger.Debug("offline: profile fetch failing",
				slog.String("error", err.Error()))
			return true
		}
	}
	return false
}

// OfflineWithCachedUser is true only when offline, signed in, and a cached
// profile exists. This is the state that permits the full offline raise flow,
// since the user's location assignment is known from cache.
func (c *Checker) OfflineWithCachedUser(ctx context.Context) bool {
	if !c.Offline(ctx) {
		return false
	}
	return c.tokens.IsSignedIn() && c.profiles.Cached() != nil
}
