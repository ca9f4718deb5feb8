//go:build !linux

package messenger

import (
	"net"
	"time"
)

func tuneKeepalive(c net.Conn, idle time.Duration) {}
