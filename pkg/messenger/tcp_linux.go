//go:build linux

package messenger

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// tuneKeepalive tightens TCP_KEEPIDLE/TCP_KEEPINTVL on the raw socket
// so a dead OSD is detected well before the request-level timeout
// fires, the same low-level-socket-control idiom the teacher's
// bus_manager uses golang.org/x/sys/unix for on the CAN side.
func tuneKeepalive(c net.Conn, idle time.Duration) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(idle.Seconds()))
		_ = unix.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, unix.TCP_KEEPINTVL, 5)
		_ = tc.SetKeepAlive(true)
	})
}
