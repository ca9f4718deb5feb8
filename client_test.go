package osdc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/congxueyang/osdclient/pkg/crush"
	"github.com/congxueyang/osdclient/pkg/layout"
	"github.com/congxueyang/osdclient/pkg/messenger"
	"github.com/congxueyang/osdclient/pkg/wireproto"
)

func testLayout() layout.FileLayout {
	return layout.FileLayout{StripeUnit: 4 << 20, StripeCount: 1, ObjectSize: 4 << 20}
}

func newTestClient(t *testing.T) (*Client, *messenger.FakeMessenger) {
	t.Helper()
	fm := messenger.NewFakeMessenger()
	cfg := DefaultConfig()
	cfg.OSDTimeout = 50 * time.Millisecond
	c := NewClient(cfg, fm, nil)

	c.osdmap.SetAddr(crush.OSDID(2), "osd2:6800")
	pg := crush.ObjectLayout("123.00000000", crush.FileLayout{Pool: 1, PGCount: 1})
	c.osdmap.SetUpSet(crush.PGID{Pool: 1, Seed: pg.Seed}, []crush.OSDID{2})
	return c, fm
}

func TestScenario1_ReadWithinOneObject(t *testing.T) {
	c, fm := newTestClient(t)
	ctx := context.Background()

	r, plen, err := c.NewRequest(NewRequestArgs{
		FileLayout: testLayout(), Pool: 1, PGCount: 1,
		Vino: Vino{Ino: 0x123}, Off: 4096, Len: 8192, Opcode: OpRead,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(8192), plen)
	require.Equal(t, "123.00000000", r.oid)

	require.NoError(t, c.StartRequest(ctx, r))
	require.Equal(t, uint64(1), r.tid)

	sent := fm.SentTo("osd2:6800")
	require.Len(t, sent, 1)

	reply := wireproto.EncodeReply(wireproto.ReplyHeader{Tid: r.tid, Result: 8192}, []byte(r.oid), nil)
	fm.Deliver(reply)

	n, err := c.WaitRequest(ctx, r)
	require.NoError(t, err)
	require.Equal(t, int64(8192), n)
	c.PutRequest(r)
}

func TestScenario2_WriteWithSyncTwoPhaseAck(t *testing.T) {
	c, fm := newTestClient(t)
	ctx := context.Background()

	r, _, err := c.NewRequest(NewRequestArgs{
		FileLayout: testLayout(), Pool: 1, PGCount: 1,
		Vino: Vino{Ino: 0x123}, Off: 0, Len: 4096, Opcode: OpWrite,
		Flags: wireproto.FlagOnDisk, DoSync: true,
	})
	require.NoError(t, err)

	ops, err := wireproto.DecodeRequestHeader(r.requestMsg)
	require.NoError(t, err)
	require.Equal(t, uint16(2), ops.NumOps) // WRITE + STARTSYNC

	require.NoError(t, c.StartRequest(ctx, r))

	// first reply: no ONDISK flag set -> got_reply=1, stays registered
	fm.Deliver(wireproto.EncodeReply(wireproto.ReplyHeader{Tid: r.tid, Result: 4096}, []byte(r.oid), nil))

	select {
	case <-r.completion:
	case <-time.After(time.Second):
		t.Fatal("first reply should have signalled completion")
	}
	select {
	case <-r.safeCompletion:
		t.Fatal("safe_completion must not fire before an ONDISK reply")
	default:
	}

	// second reply: ONDISK set -> unregisters, fires safe signal
	fm.Deliver(wireproto.EncodeReply(wireproto.ReplyHeader{Tid: r.tid, Flags: wireproto.FlagOnDisk, Result: 4096}, []byte(r.oid), nil))

	select {
	case <-r.safeCompletion:
	case <-time.After(time.Second):
		t.Fatal("second reply should have signalled safe completion")
	}

	require.NoError(t, c.Sync(ctx))
	c.PutRequest(r)
}

func TestScenario3_ResetResubmitsWithRetryFlag(t *testing.T) {
	c, fm := newTestClient(t)
	ctx := context.Background()

	r, _, err := c.NewRequest(NewRequestArgs{
		FileLayout: testLayout(), Pool: 1, PGCount: 1,
		Vino: Vino{Ino: 5}, Off: 0, Len: 4096, Opcode: OpRead,
	})
	require.NoError(t, err)
	require.NoError(t, c.StartRequest(ctx, r))
	tid := r.tid

	fm.Reset("osd2:6800")

	sent := fm.SentTo("osd2:6800")
	require.Len(t, sent, 2)
	h, err := wireproto.DecodeRequestHeader(sent[1])
	require.NoError(t, err)
	require.Equal(t, tid, h.Tid)
	require.NotZero(t, h.Flags&wireproto.FlagRetry)
}

func TestScenario4_NoPrimaryThenMapArrives(t *testing.T) {
	fm := messenger.NewFakeMessenger()
	cfg := DefaultConfig()
	c := NewClient(cfg, fm, nil)
	ctx := context.Background()

	r, _, err := c.NewRequest(NewRequestArgs{
		FileLayout: testLayout(), Pool: 9, PGCount: 1,
		Vino: Vino{Ino: 7}, Off: 0, Len: 4096, Opcode: OpRead,
	})
	require.NoError(t, err)
	require.NoError(t, c.StartRequest(ctx, r))
	require.Empty(t, fm.SentTo("osd3:6800"))

	c.osdmap.SetAddr(crush.OSDID(3), "osd3:6800")
	pg := crush.ObjectLayout(r.oid, crush.FileLayout{Pool: 9, PGCount: 1})
	delta := crush.Delta{{Pool: 9, Seed: pg.Seed}: {crush.OSDID(3)}}
	buf := wireproto.EncodeMapUpdate(c.osdmap.Fsid, []wireproto.SubMap{{Epoch: 1, Payload: crush.EncodeDelta(delta)}}, nil)

	require.NoError(t, c.HandleMap(buf))
	require.NotEmpty(t, fm.SentTo("osd3:6800"))
}

func TestScenario5_AbortDuringReceiveDropsLateReply(t *testing.T) {
	c, fm := newTestClient(t)
	ctx := context.Background()

	r, _, err := c.NewRequest(NewRequestArgs{
		FileLayout: testLayout(), Pool: 1, PGCount: 1,
		Vino: Vino{Ino: 8}, Off: 0, Len: 4096, Opcode: OpRead,
		Pages: [][]byte{make([]byte, 4096)},
	})
	require.NoError(t, err)
	require.NoError(t, c.StartRequest(ctx, r))

	c.AbortRequest(r)
	require.Nil(t, r.pages)

	reply := wireproto.EncodeReply(wireproto.ReplyHeader{Tid: r.tid, Result: 4096}, []byte(r.oid), nil)
	fm.Deliver(reply)

	select {
	case <-r.completion:
	case <-time.After(time.Second):
		t.Fatal("abort should have signalled completion")
	}
	require.Equal(t, int64(0), r.result, "late reply after abort must not update result")
}

func TestScenario6_TwoWritesSyncWaitsForBoth(t *testing.T) {
	c, fm := newTestClient(t)
	ctx := context.Background()

	r1, _, err := c.NewRequest(NewRequestArgs{
		FileLayout: testLayout(), Pool: 1, PGCount: 1,
		Vino: Vino{Ino: 1}, Off: 0, Len: 4096, Opcode: OpWrite,
		Flags: wireproto.FlagOnDisk,
	})
	require.NoError(t, err)
	require.NoError(t, c.StartRequest(ctx, r1))

	r2, _, err := c.NewRequest(NewRequestArgs{
		FileLayout: testLayout(), Pool: 1, PGCount: 1,
		Vino: Vino{Ino: 2}, Off: 0, Len: 4096, Opcode: OpWrite,
		Flags: wireproto.FlagOnDisk,
	})
	require.NoError(t, err)
	require.NoError(t, c.StartRequest(ctx, r2))

	done := make(chan error, 1)
	go func() { done <- c.Sync(ctx) }()

	select {
	case <-done:
		t.Fatal("sync must not return before either write is safe")
	case <-time.After(50 * time.Millisecond):
	}

	// reply to tid 2 first, then tid 1
	fm.Deliver(wireproto.EncodeReply(wireproto.ReplyHeader{Tid: r2.tid, Flags: wireproto.FlagOnDisk, Result: 4096}, []byte(r2.oid), nil))

	select {
	case <-done:
		t.Fatal("sync must not return while tid 1 is not yet safe")
	case <-time.After(50 * time.Millisecond):
	}

	fm.Deliver(wireproto.EncodeReply(wireproto.ReplyHeader{Tid: r1.tid, Flags: wireproto.FlagOnDisk, Result: 4096}, []byte(r1.oid), nil))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sync should have returned once both writes are safe")
	}
}

func TestNewRequestUsePoolBlocksRatherThanFailing(t *testing.T) {
	c, _ := newTestClient(t)

	// Drain the pool so no slot is immediately available.
	held := make([]*Request, 0, c.pool.Capacity())
	for i := 0; i < c.pool.Capacity(); i++ {
		shell, ok := c.pool.Get()
		require.True(t, ok)
		held = append(held, shell)
	}

	got := make(chan *Request, 1)
	go func() {
		r, _, err := c.NewRequest(NewRequestArgs{
			FileLayout: testLayout(), Pool: 1, PGCount: 1,
			Vino: Vino{Ino: 42}, Off: 0, Len: 4096, Opcode: OpRead,
			UsePool: true,
		})
		require.NoError(t, err)
		got <- r
	}()

	select {
	case <-got:
		t.Fatal("NewRequest(UsePool: true) must block under exhaustion, never fail")
	case <-time.After(50 * time.Millisecond):
	}

	c.pool.Put(held[0])

	select {
	case r := <-got:
		require.NotNil(t, r)
		require.True(t, r.fromPool)
		c.PutRequest(r)
	case <-time.After(time.Second):
		t.Fatal("NewRequest(UsePool: true) should have unblocked once a slot freed")
	}
}

func TestNewRequestWithoutPoolSurfacesOutOfMemory(t *testing.T) {
	c, _ := newTestClient(t)

	orig := allocRequestShell
	allocRequestShell = func() *Request { return nil }
	defer func() { allocRequestShell = orig }()

	_, _, err := c.NewRequest(NewRequestArgs{
		FileLayout: testLayout(), Pool: 1, PGCount: 1,
		Vino: Vino{Ino: 43}, Off: 0, Len: 4096, Opcode: OpRead,
	})
	require.ErrorIs(t, err, ErrOutOfMemory)
}
