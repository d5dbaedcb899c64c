package torrent

import "golang.org/x/sys/unix"

// setSockNoLinger disables SO_LINGER so closed TCP connections don't block
// on the OS flushing a lingering close; BitTorrent connections are cheap
// to reopen and we'd rather not stall shutdown waiting on one.
func setSockNoLinger(fd uintptr) error {
	return unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 0, Linger: 0})
}

// setReusePortSockOpts sets SO_REUSEADDR and SO_REUSEPORT, used only when
// dialTcpFromListenPort is enabled (it isn't, by default).
func setReusePortSockOpts(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
