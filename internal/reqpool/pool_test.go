package reqpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolExhaustionReturnsFalseNeverAllocates(t *testing.T) {
	calls := 0
	p := New(2, func() int { calls++; return calls }, func(int) {})
	require.Equal(t, 2, calls)

	_, ok := p.Get()
	require.True(t, ok)
	_, ok = p.Get()
	require.True(t, ok)

	_, ok = p.Get()
	require.False(t, ok)
	require.Equal(t, 2, calls, "Get must never allocate past capacity")
}

func TestPoolPutReturnsSlotForReuse(t *testing.T) {
	p := New(1, func() int { return 1 }, func(int) {})
	v, ok := p.Get()
	require.True(t, ok)
	require.Equal(t, 1, p.InUse())

	p.Put(v)
	require.Equal(t, 0, p.InUse())

	_, ok = p.Get()
	require.True(t, ok)
}

func TestPoolGetWaitBlocksUntilPutInsteadOfFailing(t *testing.T) {
	p := New(1, func() int { return 7 }, func(int) {})
	v, ok := p.Get()
	require.True(t, ok)

	got := make(chan int, 1)
	go func() { got <- p.GetWait() }()

	select {
	case <-got:
		t.Fatal("GetWait must block while the pool is exhausted, never return early")
	case <-time.After(50 * time.Millisecond):
	}

	p.Put(v)

	select {
	case w := <-got:
		require.Equal(t, 7, w)
	case <-time.After(time.Second):
		t.Fatal("GetWait should have unblocked once Put released a slot")
	}
}
