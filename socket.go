package torrent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"

	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2"
)

// Listener is anything that accepts incoming peer connections.
type Listener interface {
	Accept() (net.Conn, error)
	Addr() net.Addr
}

// socket bundles listen and dial over the same network. Only TCP is
// implemented: µTP is an explicit non-goal, so there is no network
// discriminator here, unlike the teacher's listen() which dispatches on
// n.Tcp/n.Udp to pick a uTP or plain-UDP socket.
type socket interface {
	Listener
	Dialer
	Close() error
}

// Dialing TCP from a local port limits us to a single outgoing TCP connection to each remote
// client. Instead, this should be a last resort if we need to use holepunching, and only then to
// connect to other clients that actually try to holepunch TCP.
const dialTcpFromListenPort = false

var tcpListenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) (err error) {
		controlErr := c.Control(func(fd uintptr) {
			if dialTcpFromListenPort {
				err = setReusePortSockOpts(fd)
			}
		})
		if err != nil {
			return
		}
		err = controlErr
		return
	},
	// BitTorrent connections manage their own keep-alives.
	KeepAlive: -1,
}

func listenTcp(network, address string) (s socket, err error) {
	l, err := tcpListenConfig.Listen(context.Background(), network, address)
	if err != nil {
		return
	}
	netDialer := net.Dialer{
		// We don't want fallback, as we explicitly manage the IPv4/IPv6 distinction ourselves.
		FallbackDelay: -1,
		KeepAlive:     tcpListenConfig.KeepAlive,
		Control: func(network, address string, c syscall.RawConn) (err error) {
			controlErr := c.Control(func(fd uintptr) {
				err = setSockNoLinger(fd)
				if err != nil {
					log.Levelf(log.Debug, "error setting linger socket option on tcp socket: %v", err)
					err = nil
				}
				if dialTcpFromListenPort {
					err = setReusePortSockOpts(fd)
				}
			})
			if err == nil {
				err = controlErr
			}
			return
		},
	}
	if dialTcpFromListenPort {
		netDialer.LocalAddr = l.Addr()
	}
	s = tcpSocket{
		Listener: l,
		NetworkDialer: NetworkDialer{
			Network: network,
			Dialer:  &netDialer,
		},
	}
	return
}

type tcpSocket struct {
	net.Listener
	NetworkDialer
}

// listenAll opens a TCP listener per requested network (tcp4/tcp6), with
// port-zero retry so the second network picks up the port the first one
// was dynamically assigned.
func listenAll(networks []string, getHost func(string) string, port int) ([]socket, error) {
	if len(networks) == 0 {
		return nil, nil
	}
	var hosts []string
	for _, n := range networks {
		hosts = append(hosts, getHost(n))
	}
	for {
		ss, retry, err := listenAllRetry(networks, hosts, port)
		if !retry {
			return ss, err
		}
	}
}

func isUnsupportedNetworkError(err error) bool {
	var sysErr *os.SyscallError
	if !errors.As(err, &sysErr) {
		return false
	}
	return sysErr.Syscall == "bind" && sysErr.Err.Error() == "cannot assign requested address"
}

func listenAllRetry(networks, hosts []string, port int) (ss []socket, retry bool, err error) {
	defer func() {
		if err != nil || retry {
			for _, s := range ss {
				s.Close()
			}
			ss = nil
		}
	}()
	portStr := strconv.FormatInt(int64(port), 10)
	for i, network := range networks {
		var s socket
		s, err = listenTcp(network, net.JoinHostPort(hosts[i], portStr))
		if err != nil {
			if isUnsupportedNetworkError(err) {
				err = nil
				continue
			}
			if len(ss) == 0 {
				err = fmt.Errorf("first listen: %w", err)
			} else {
				err = fmt.Errorf("subsequent listen: %w", err)
			}
			retry = missinggo.IsAddrInUse(err) && port == 0
			return
		}
		ss = append(ss, s)
		portStr = strconv.FormatInt(int64(missinggo.AddrPort(ss[0].Addr())), 10)
	}
	return
}
