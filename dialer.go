package torrent

import (
	"context"
	"net"
)

// Dialer dials outgoing peer connections. DialerNetwork reports the
// network it dials on (tcp4/tcp6), used to pick the right Dialer for a
// peer address's family.
type Dialer interface {
	DialerNetwork() string
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// NetworkDialer adapts a *net.Dialer into a Dialer bound to a fixed
// network.
type NetworkDialer struct {
	Network string
	Dialer  *net.Dialer
}

func (d NetworkDialer) DialerNetwork() string { return d.Network }

func (d NetworkDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return d.Dialer.DialContext(ctx, d.Network, addr)
}

// DefaultNetDialer dials plain TCP with no special options, used when the
// caller hasn't configured a listen socket of its own to dial from.
var DefaultNetDialer Dialer = NetworkDialer{Network: "tcp", Dialer: &net.Dialer{}}
