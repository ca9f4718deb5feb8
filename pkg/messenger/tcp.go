package messenger

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// TCPMessenger keeps one persistent connection per peer address and
// frames messages with a u32 length prefix. A connection is dialed
// lazily on first Send and redialed on next use after a reset.
type TCPMessenger struct {
	dialTimeout func(addr string) (net.Conn, error)

	mu    sync.Mutex
	conns map[string]net.Conn

	onReply func([]byte)
	onReset func(string)
}

func NewTCPMessenger() *TCPMessenger {
	return &TCPMessenger{
		conns: make(map[string]net.Conn),
		dialTimeout: func(addr string) (net.Conn, error) {
			return net.Dial("tcp", addr)
		},
	}
}

func (t *TCPMessenger) SetCallbacks(onReply func([]byte), onReset func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReply = onReply
	t.onReset = onReset
}

func (t *TCPMessenger) connFor(addr string) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	c, err := t.dialTimeout(addr)
	if err != nil {
		return nil, fmt.Errorf("messenger: dial %s: %w", addr, err)
	}
	tuneKeepalive(c, 30*time.Second)
	t.conns[addr] = c
	go t.readLoop(addr, c)
	return c, nil
}

func (t *TCPMessenger) Send(ctx context.Context, addr string, msg []byte) error {
	c, err := t.connFor(addr)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(msg)))
	if _, err := c.Write(hdr[:]); err != nil {
		t.reset(addr)
		return fmt.Errorf("messenger: write header to %s: %w", addr, err)
	}
	if _, err := c.Write(msg); err != nil {
		t.reset(addr)
		return fmt.Errorf("messenger: write body to %s: %w", addr, err)
	}
	return nil
}

func (t *TCPMessenger) readLoop(addr string, c net.Conn) {
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(c, hdr[:]); err != nil {
			log.WithField("addr", addr).WithError(err).Debug("[MSGR] connection reset")
			t.reset(addr)
			return
		}
		n := binary.LittleEndian.Uint32(hdr[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(c, body); err != nil {
			log.WithField("addr", addr).WithError(err).Debug("[MSGR] connection reset mid-frame")
			t.reset(addr)
			return
		}
		t.mu.Lock()
		cb := t.onReply
		t.mu.Unlock()
		if cb != nil {
			cb(body)
		}
	}
}

func (t *TCPMessenger) reset(addr string) {
	t.mu.Lock()
	c, ok := t.conns[addr]
	if ok {
		delete(t.conns, addr)
	}
	cb := t.onReset
	t.mu.Unlock()
	if ok {
		_ = c.Close()
	}
	if cb != nil {
		cb(addr)
	}
}

func (t *TCPMessenger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.conns {
		_ = c.Close()
	}
	t.conns = make(map[string]net.Conn)
	return nil
}
