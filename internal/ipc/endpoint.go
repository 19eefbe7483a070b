// Package ipc locates the control socket the running tray listens on. The
// socket carries the control token, so only loopback addresses are accepted.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// AddrEnv overrides the control address, as host:port or tcp://host:port.
	AddrEnv = "DESKWATCH_CONTROL_ADDR"
	// DefaultAddr is where the tray listens when AddrEnv is unset.
	DefaultAddr = "127.0.0.1:47864"

	dialTimeout = 2 * time.Second
)

// ErrNotLoopback is returned for control addresses reachable off-host.
var ErrNotLoopback = errors.New("control address must be on the loopback interface")

// Endpoint is the control socket address.
type Endpoint struct {
	Network string
	Address string
}

// DefaultEndpoint resolves the control endpoint from AddrEnv, falling back to
// DefaultAddr when the variable is unset or blank.
func DefaultEndpoint() (Endpoint, error) {
	raw := strings.TrimSpace(os.Getenv(AddrEnv))
	if raw == "" {
		return Endpoint{Network: "tcp", Address: DefaultAddr}, nil
	}
	ep, err := ParseEndpoint(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%s: %w", AddrEnv, err)
	}
	return ep, nil
}

// ParseEndpoint reads host:port with an optional tcp:// prefix. An empty
// host means 127.0.0.1.
func ParseEndpoint(raw string) (Endpoint, error) {
	addr := strings.TrimPrefix(strings.TrimSpace(raw), "tcp://")
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse control address %q: %w", raw, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return Endpoint{}, fmt.Errorf("parse control address %q: invalid port %q", raw, port)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	if !isLoopback(host) {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrNotLoopback, host)
	}
	return Endpoint{Network: "tcp", Address: net.JoinHostPort(host, port)}, nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Bound returns the endpoint ln actually listens on, which differs from the
// requested one when port 0 was asked for.
func Bound(ln net.Listener) Endpoint {
	return Endpoint{Network: ln.Addr().Network(), Address: ln.Addr().String()}
}

// Listen binds the control socket.
func (e Endpoint) Listen() (net.Listener, error) {
	host, _, err := net.SplitHostPort(e.Address)
	if err != nil {
		return nil, err
	}
	if !isLoopback(host) {
		return nil, fmt.Errorf("%w: %s", ErrNotLoopback, host)
	}
	return net.Listen(e.Network, e.Address)
}

// DialContext connects to a running tray. A tray that is not running fails
// fast rather than after ctx's deadline.
func (e Endpoint) DialContext(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	return d.DialContext(ctx, e.Network, e.Address)
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Network, e.Address)
}
