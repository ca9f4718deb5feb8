package messenger

import (
	"context"
	"sync"
)

// FakeMessenger is an in-memory Messenger used by unit tests to
// control reply timing and simulate resets deterministically, the
// way the teacher's pkg/can/virtual bus stands in for real CAN
// hardware in its own tests.
type FakeMessenger struct {
	mu      sync.Mutex
	sent    map[string][][]byte
	onReply func([]byte)
	onReset func(string)
	failing map[string]bool
}

func NewFakeMessenger() *FakeMessenger {
	return &FakeMessenger{
		sent:    make(map[string][][]byte),
		failing: make(map[string]bool),
	}
}

func (f *FakeMessenger) SetCallbacks(onReply func([]byte), onReset func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReply = onReply
	f.onReset = onReset
}

func (f *FakeMessenger) Send(_ context.Context, addr string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[addr] {
		return errSendFailed
	}
	cp := append([]byte(nil), msg...)
	f.sent[addr] = append(f.sent[addr], cp)
	return nil
}

func (f *FakeMessenger) Close() error { return nil }

// SentTo returns the messages sent to addr so far, in send order.
func (f *FakeMessenger) SentTo(addr string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[addr]...)
}

// Deliver invokes the installed reply callback as if front arrived
// from the wire.
func (f *FakeMessenger) Deliver(front []byte) {
	f.mu.Lock()
	cb := f.onReply
	f.mu.Unlock()
	if cb != nil {
		cb(front)
	}
}

// Reset invokes the installed reset callback for addr, simulating a
// dropped connection.
func (f *FakeMessenger) Reset(addr string) {
	f.mu.Lock()
	cb := f.onReset
	f.mu.Unlock()
	if cb != nil {
		cb(addr)
	}
}

// SetFailing makes subsequent Sends to addr fail, simulating a send
// that cannot reach the wire (e.g. out of sockets).
func (f *FakeMessenger) SetFailing(addr string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[addr] = failing
}

var errSendFailed = fakeSendError{}

type fakeSendError struct{}

func (fakeSendError) Error() string { return "messenger: fake send failure" }
